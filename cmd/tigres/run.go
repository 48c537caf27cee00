package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/tigres-workflow/tigres"
)

func runCmd() *cobra.Command {
	var (
		execution string
		logDest   string
	)
	cmd := &cobra.Command{
		Use:   "run <workflow.toml>",
		Short: "run a workflow",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			wf, err := loadWorkflow(args[0])
			if err != nil {
				return err
			}
			if execution != "" {
				wf.Execution = execution
			}
			if logDest != "" {
				wf.LogDest = logDest
			}
			opts := []tigres.Option{
				tigres.WithEnv(wf.Env),
				tigres.WithLogDest(wf.LogDest),
			}
			if wf.Execution != "" {
				opts = append(opts, tigres.WithExecution(tigres.Execution(wf.Execution)))
			}
			p, err := tigres.New(wf.Name, opts...)
			if err != nil {
				return err
			}
			defer p.Close()
			res, err := runWorkflow(p, wf)
			if err != nil {
				return err
			}
			out, err := json.MarshalIndent(res, "", "  ")
			if err != nil {
				return errors.Wrap(err, "encode results")
			}
			fmt.Fprintln(os.Stdout, string(out))
			fmt.Fprintln(os.Stderr, "log written to", p.Monitor().Dest())
			return nil
		},
	}
	cmd.Flags().StringVar(&execution, "execution", "", "execution backend, overrides the workflow file")
	cmd.Flags().StringVar(&logDest, "log-dest", "", "monitoring destination, overrides the workflow file")
	return cmd
}

func runWorkflow(p *tigres.Program, wf *workflowConfig) (interface{}, error) {
	var res interface{}
	for _, t := range wf.Templates {
		tasks, err := buildTasks(p, t)
		if err != nil {
			return nil, err
		}
		inputs, err := buildInputs(p, t)
		if err != nil {
			return nil, err
		}
		switch t.Type {
		case "sequence":
			res, err = p.Sequence(t.Name, tasks, inputs, t.Env)
		case "parallel":
			res, err = p.Parallel(t.Name, tasks, inputs, t.Env)
		case "split":
			var splitTask *tigres.Task
			var splitValues *tigres.InputValues
			splitTask, splitValues, err = buildSideTask(p, t.Name+" split", t.Split, t.SplitValues)
			if err != nil {
				return nil, err
			}
			res, err = p.Split(t.Name, splitTask, splitValues, tasks, inputs, t.Env)
		case "merge":
			var mergeTask *tigres.Task
			var mergeValues *tigres.InputValues
			mergeTask, mergeValues, err = buildSideTask(p, t.Name+" merge", t.Merge, t.MergeValues)
			if err != nil {
				return nil, err
			}
			res, err = p.Merge(t.Name, tasks, inputs, mergeTask, mergeValues, t.Env)
		default:
			return nil, errors.Errorf("template %q has unknown type %q", t.Name, t.Type)
		}
		if err != nil {
			return nil, errors.Wrapf(err, "template %q", t.Name)
		}
	}
	return res, nil
}

func buildTask(p *tigres.Program, cfg *taskConfig) (*tigres.Task, error) {
	var types *tigres.InputTypes
	if len(cfg.InputTypes) > 0 {
		t, err := p.NewInputTypes(cfg.Name+" types", cfg.InputTypes...)
		if err != nil {
			return nil, err
		}
		types = t
	}
	if cfg.Function != "" {
		return p.NewTask(cfg.Name, tigres.FUNCTION, cfg.Function, types, cfg.Env)
	}
	if cfg.Executable != "" {
		return p.NewTask(cfg.Name, tigres.EXECUTABLE, cfg.Executable, types, cfg.Env)
	}
	return nil, errors.Errorf("task %q has neither a function nor an executable", cfg.Name)
}

func buildTasks(p *tigres.Program, t templateConfig) (*tigres.TaskArray, error) {
	tasks := make([]*tigres.Task, 0, len(t.Tasks))
	for i := range t.Tasks {
		task, err := buildTask(p, &t.Tasks[i])
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	return p.NewTaskArray(t.Name+" tasks", tasks...)
}

func buildInputs(p *tigres.Program, t templateConfig) (*tigres.InputArray, error) {
	if len(t.Inputs) == 0 {
		return nil, nil
	}
	values := make([]*tigres.InputValues, 0, len(t.Inputs))
	for i, in := range t.Inputs {
		iv, err := p.NewInputValues(fmt.Sprintf("%s inputs %d", t.Name, i), parseValues(in.Values)...)
		if err != nil {
			return nil, err
		}
		values = append(values, iv)
	}
	return p.NewInputArray(t.Name+" inputs", values...)
}

// buildSideTask builds the split or merge task of a template with its
// optional explicit values.
func buildSideTask(p *tigres.Program, name string, cfg *taskConfig, values []interface{}) (*tigres.Task, *tigres.InputValues, error) {
	if cfg == nil {
		return nil, nil, errors.Errorf("%s task is missing", name)
	}
	task, err := buildTask(p, cfg)
	if err != nil {
		return nil, nil, err
	}
	if len(values) == 0 {
		return task, nil, nil
	}
	iv, err := p.NewInputValues(name+" values", parseValues(values)...)
	if err != nil {
		return nil, nil, err
	}
	return task, iv, nil
}
