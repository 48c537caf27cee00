package tigres

import (
	"encoding/json"
	"io"
	"os"
	"strings"

	"github.com/pkg/errors"
)

// processWorkerEnv marks a re-executed program binary as a
// local-process worker.
const processWorkerEnv = "TIGRES_PROCESS_WORKER"

// funcExecArg is the argv marker a batch job script uses to make the
// re-executed program binary run one function script.
const funcExecArg = "tigres-func-exec"

// MaybeRunWorker checks whether this process was re-executed as a
// cross-process worker and, if so, serves until done. Programs using
// the local-process or batch backends call it first thing in main:
//
//	if worker, err := tigres.MaybeRunWorker(); worker {
//		if err != nil {
//			log.Fatal(err)
//		}
//		return
//	}
//
// It reports whether the process was a worker.
func MaybeRunWorker() (bool, error) {
	if os.Getenv(processWorkerEnv) == "1" {
		return true, RunProcessWorker(os.Stdin, os.Stdout)
	}
	if len(os.Args) == 3 && os.Args[1] == funcExecArg {
		return true, RunFunctionScript(os.Args[2])
	}
	return false, nil
}

// RunProcessWorker serves job payloads from in until EOF. Every
// payload is answered twice on out, with a RUN sentinel when the task
// starts and a terminal payload when it finished.
func RunProcessWorker(in io.Reader, out io.Writer) error {
	dec := json.NewDecoder(in)
	enc := json.NewEncoder(out)
	for {
		var pl jobPayload
		if err := dec.Decode(&pl); err != nil {
			if err == io.EOF {
				return nil
			}
			return errors.Wrap(err, "read job payload")
		}
		if err := enc.Encode(&resultPayload{Name: pl.Name, State: StateRun.String()}); err != nil {
			return errors.Wrap(err, "write run sentinel")
		}
		res, st, err := pl.execute()
		rp := &resultPayload{Name: pl.Name, State: st.String(), Result: res}
		if err != nil {
			rp.State = StateFail.String()
			rp.Err = err.Error()
		}
		if err := enc.Encode(rp); err != nil {
			return errors.Wrap(err, "write result payload")
		}
	}
}

// RunFunctionScript runs the function named in <script>.code with the
// arguments in <script>.args and writes the result to <script>.result.
// Batch job scripts re-execute the program binary with the
// tigres-func-exec marker to get here on the batch node.
func RunFunctionScript(scriptName string) error {
	code, err := os.ReadFile(scriptName + ".code")
	if err != nil {
		return errors.Wrap(err, "read function script")
	}
	fnName := strings.TrimSpace(string(code))
	fn, ok := lookupFunction(fnName)
	if !ok {
		return errors.Errorf("function %q is not registered in this binary", fnName)
	}
	argsFile, err := os.ReadFile(scriptName + ".args")
	if err != nil {
		return errors.Wrap(err, "read function arguments")
	}
	var values []interface{}
	if err := json.Unmarshal(argsFile, &values); err != nil {
		return errors.Wrap(err, "decode function arguments")
	}
	res, ferr := fn(values...)
	if ferr != nil {
		// Leave an empty result so the poller sees the job completed,
		// the error itself lands in the job's .err file.
		os.WriteFile(scriptName+".result", []byte("null"), 0644)
		return errors.Wrapf(ferr, "function %s failed", fnName)
	}
	b, err := json.Marshal(res)
	if err != nil {
		return errors.Wrap(err, "encode function result")
	}
	return os.WriteFile(scriptName+".result", b, 0644)
}
