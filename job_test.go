package tigres

import (
	"os"
	"strings"
	"testing"
)

func TestJobScriptName(t *testing.T) {
	cases := []struct {
		name string
		want string
	}{
		{"proc", "proc"},
		{"my task#2", "mytask2"},
		{"a-b_c.d", "abcd"},
		{"###", "tigresjob"},
	}
	for i, c := range cases {
		got := jobScriptName(c.name)
		if got != c.want {
			t.Fatalf("%d: got %v, want %v", i, got, c.want)
		}
	}
}

func TestParseJobID(t *testing.T) {
	cases := []struct {
		sched   scheduler
		output  string
		want    string
		wantErr bool
	}{
		{
			sched:  sgeScheduler{},
			output: `Your job 12345 ("proc.sh") has been submitted`,
			want:   "12345",
		},
		{
			sched:   sgeScheduler{},
			output:  "qsub: error",
			wantErr: true,
		},
		{
			sched:  slurmScheduler{},
			output: "Submitted batch job 678",
			want:   "678",
		},
		{
			sched:   slurmScheduler{},
			output:  "sbatch: error",
			wantErr: true,
		},
	}
	for i, c := range cases {
		got, err := c.sched.parseJobID(c.output)
		if c.wantErr {
			if err == nil {
				t.Fatalf("%d: got no error, want one", i)
			}
			continue
		}
		if err != nil {
			t.Fatalf("%d: %v", i, err)
		}
		if got != c.want {
			t.Fatalf("%d: got %v, want %v", i, got, c.want)
		}
	}
}

func TestJobScriptContent(t *testing.T) {
	env := map[string]string{"MYVAR": "1"}
	cases := []struct {
		sched scheduler
		wants []string
	}{
		{
			sched: sgeScheduler{},
			wants: []string{
				"#!/bin/bash",
				"#$ -N proc1",
				"#$ -cwd",
				"#$ -S /bin/bash",
				`export MYVAR="1"`,
				"/bin/echo hi 2>proc1.err 1>proc1.out",
			},
		},
		{
			sched: slurmScheduler{},
			wants: []string{
				"#!/bin/bash",
				"#SBATCH -J proc1",
				`export MYVAR="1"`,
				"/bin/echo hi 2>proc1.err 1>proc1.out",
			},
		},
	}
	for i, c := range cases {
		script := c.sched.jobScript("proc1", "/bin/echo hi", env)
		for _, w := range c.wants {
			if !strings.Contains(script, w) {
				t.Fatalf("%d: script %q misses %q", i, script, w)
			}
		}
	}
}

func TestSubmitFailureNamesScheduler(t *testing.T) {
	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("%v", err)
	}
	if err := os.Chdir(t.TempDir()); err != nil {
		t.Fatalf("%v", err)
	}
	defer os.Chdir(wd)
	for _, e := range []*BatchExecutor{NewSGE(), NewSLURM()} {
		data := newExecutionData()
		err := e.submit("proc1", "/bin/echo hi", data)
		if err == nil {
			t.Fatalf("got no error, want one without a %s queue", e.sched.name())
		}
		if !strings.Contains(err.Error(), e.sched.name()) {
			t.Fatalf("error %q misses the scheduler name %s", err, e.sched.name())
		}
	}
}

func TestSubmitCommand(t *testing.T) {
	cases := []struct {
		sched scheduler
		want  string
	}{
		{sgeScheduler{}, "qsub -N proc1 ./proc1.sh"},
		{slurmScheduler{}, "sbatch -J proc1 ./proc1.sh"},
	}
	for i, c := range cases {
		got := c.sched.submitCommand("proc1", "proc1.sh")
		if got != c.want {
			t.Fatalf("%d: got %v, want %v", i, got, c.want)
		}
	}
}
