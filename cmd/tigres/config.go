package main

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/pelletier/go-toml"
	"github.com/pkg/errors"
	"github.com/tigres-workflow/tigres"
)

// workflowConfig is the TOML description of one workflow run.
type workflowConfig struct {
	Name      string            `toml:"name"`
	Execution string            `toml:"execution"`
	LogDest   string            `toml:"log_dest"`
	Env       map[string]string `toml:"env"`
	Templates []templateConfig  `toml:"template"`
}

type templateConfig struct {
	Type        string            `toml:"type"`
	Name        string            `toml:"name"`
	Env         map[string]string `toml:"env"`
	Tasks       []taskConfig      `toml:"task"`
	Inputs      []inputConfig     `toml:"inputs"`
	Split       *taskConfig       `toml:"split"`
	SplitValues []interface{}     `toml:"split_values"`
	Merge       *taskConfig       `toml:"merge"`
	MergeValues []interface{}     `toml:"merge_values"`
}

type taskConfig struct {
	Name       string            `toml:"name"`
	Executable string            `toml:"executable"`
	Function   string            `toml:"function"`
	InputTypes []string          `toml:"input_types"`
	Env        map[string]string `toml:"env"`
}

type inputConfig struct {
	Values []interface{} `toml:"values"`
}

func loadWorkflow(path string) (*workflowConfig, error) {
	tree, err := toml.LoadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "load workflow %s", path)
	}
	wf := &workflowConfig{}
	if err := tree.Unmarshal(wf); err != nil {
		return nil, errors.Wrapf(err, "parse workflow %s", path)
	}
	if len(wf.Templates) == 0 {
		return nil, errors.Errorf("workflow %s has no templates", path)
	}
	return wf, nil
}

// previousIndexRe matches the indexed tail of a PREVIOUS value:
// "i", "i[2]", "name.i", "name.i[2]".
var previousIndexRe = regexp.MustCompile(`^(?:([^.]+)\.)?i(?:\[([0-9]+)\])?$`)

// parseValue turns PREVIOUS strings into dependency references and
// passes everything else through.
func parseValue(v interface{}) interface{} {
	s, ok := v.(string)
	if !ok || !strings.HasPrefix(s, "PREVIOUS") {
		return v
	}
	rest := strings.TrimPrefix(s, "PREVIOUS")
	if rest == "" {
		return tigres.Previous()
	}
	if !strings.HasPrefix(rest, ".") {
		return v
	}
	rest = rest[1:]
	if m := previousIndexRe.FindStringSubmatch(rest); m != nil {
		ref := tigres.Previous()
		if m[1] != "" {
			ref = tigres.PreviousNamed(m[1])
		}
		if m[2] != "" {
			n, _ := strconv.Atoi(m[2])
			return ref.At(n)
		}
		return ref.I()
	}
	return tigres.PreviousNamed(rest)
}

func parseValues(values []interface{}) []interface{} {
	out := make([]interface{}, len(values))
	for i, v := range values {
		out[i] = parseValue(v)
	}
	return out
}
