package tigres

import (
	"net/http"
	"strconv"
	"testing"
	"time"
)

func init() {
	MustRegisterFunction("disttest.double", func(args ...interface{}) (interface{}, error) {
		return args[0].(float64) * 2, nil
	})
}

func TestDistributeParallel(t *testing.T) {
	p := newTestProgram(t, WithExecution(DistributeProcess))
	task, err := p.NewTask("double", FUNCTION, "disttest.double", nil, nil)
	if err != nil {
		t.Fatalf("NewTask: %v", err)
	}
	tasks := mustTaskArray(t, p, "tasks", task)
	inputs := mustInputArray(t, p, "in",
		[]interface{}{1},
		[]interface{}{2},
		[]interface{}{3},
	)
	res, err := p.Parallel("dist", tasks, inputs, nil)
	if err != nil {
		t.Fatalf("Parallel: %v", err)
	}
	// results travelled through JSON, numbers come back as float64
	want := []interface{}{float64(2), float64(4), float64(6)}
	if err := ShouldEqualResults(res, want); err != nil {
		t.Fatalf("%v", err)
	}
}

func TestTaskServerKillDropsQueuedJobs(t *testing.T) {
	p := newTestProgram(t)
	task, err := p.NewTask("double", FUNCTION, "disttest.double", nil, nil)
	if err != nil {
		t.Fatalf("NewTask: %v", err)
	}
	par := p.registerParallelWork("doomed")
	p.rootWork.Append(par)
	u := p.registerWork(WorkInputs{Task: task, Values: []interface{}{1}})
	par.Append(u)
	s, err := newTaskServer(par, "secret")
	if err != nil {
		t.Fatalf("newTaskServer: %v", err)
	}
	s.Kill()
	if got := s.queue.Len(); got != 0 {
		t.Fatalf("got %v queued jobs, want 0", got)
	}
	if got := u.State(); got != StateFail {
		t.Fatalf("got %v, want %v", got, StateFail)
	}
	if _, ok := u.Results().(*TaskFailure); !ok {
		t.Fatalf("got %T, want *TaskFailure", u.Results())
	}
}

func TestTaskServerRejectsBadKey(t *testing.T) {
	p := newTestProgram(t)
	task, err := p.NewTask("double", FUNCTION, "disttest.double", nil, nil)
	if err != nil {
		t.Fatalf("NewTask: %v", err)
	}
	par := p.registerParallelWork("auth")
	p.rootWork.Append(par)
	u := p.registerWork(WorkInputs{Task: task, Values: []interface{}{1}})
	par.Append(u)
	s, err := newTaskServer(par, "secret")
	if err != nil {
		t.Fatalf("newTaskServer: %v", err)
	}
	defer s.Kill()
	url := "http://localhost:" + strconv.Itoa(s.Port()) + "/job"
	req, err := http.NewRequest("POST", url, nil)
	if err != nil {
		t.Fatalf("%v", err)
	}
	req.Header.Set(keyHeader, "wrong")
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("%v", err)
	}
	resp.Body.Close()
	if got := resp.StatusCode; got != http.StatusForbidden {
		t.Fatalf("got %v, want %v", got, http.StatusForbidden)
	}
	req, err = http.NewRequest("POST", url, nil)
	if err != nil {
		t.Fatalf("%v", err)
	}
	req.Header.Set(keyHeader, "secret")
	resp, err = client.Do(req)
	if err != nil {
		t.Fatalf("%v", err)
	}
	resp.Body.Close()
	if got := resp.StatusCode; got != http.StatusOK {
		t.Fatalf("got %v, want %v", got, http.StatusOK)
	}
}
