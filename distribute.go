package tigres

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	"github.com/rs/xid"
	"golang.org/x/sync/errgroup"
)

const (
	// keyHeader carries the shared secret between a task server and
	// its clients.
	keyHeader = "X-Tigres-Key"

	// hostsEnv lists the hosts to start clients on, separated by
	// commas or spaces. Empty means an in-process client serves the
	// group.
	hostsEnv = "TIGRES_HOSTS"

	// clientEnvPrefix marks environment variables to forward to
	// remote clients with the prefix stripped.
	clientEnvPrefix = "OTIGRES_"
)

// TaskServer serves one parallel group's jobs to worker clients over
// HTTP and collects their results. Every job produces two results, a
// RUN sentinel and a terminal payload, and the server completes when
// both arrived for every job.
type TaskServer struct {
	mu       sync.Mutex
	key      string
	queue    *jobQueue
	units    map[string]*WorkUnit
	payloads map[string]*jobPayload
	expected int
	received int

	closeOnce sync.Once
	done      chan struct{}
	srv       *http.Server
	ln        net.Listener
}

func newTaskServer(par *WorkParallel, key string) (*TaskServer, error) {
	s := &TaskServer{
		key:      key,
		queue:    newJobQueue(),
		units:    make(map[string]*WorkUnit),
		payloads: make(map[string]*jobPayload),
		done:     make(chan struct{}),
	}
	count := 0
	for _, u := range par.units() {
		pl, err := payloadForUnit(u)
		if err != nil {
			failUnit(u, err)
			continue
		}
		s.queue.Push(pl)
		s.units[u.Name()] = u
		s.payloads[u.Name()] = pl
		count++
	}
	s.expected = 2 * count
	if s.expected == 0 {
		s.closeOnce.Do(func() { close(s.done) })
	}
	ln, err := net.Listen("tcp", ":0")
	if err != nil {
		return nil, errors.Wrap(err, "listen for task clients")
	}
	s.ln = ln
	r := mux.NewRouter()
	r.HandleFunc("/job", s.handlePopJob).Methods("POST")
	r.HandleFunc("/result", s.handleResult).Methods("POST")
	s.srv = &http.Server{Handler: s.auth(r)}
	go s.srv.Serve(ln)
	return s, nil
}

// Port returns the port the server listens on.
func (s *TaskServer) Port() int {
	return s.ln.Addr().(*net.TCPAddr).Port
}

func (s *TaskServer) auth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get(keyHeader) != s.key {
			http.Error(w, "bad key", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *TaskServer) handlePopJob(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	pl := s.queue.Pop()
	s.mu.Unlock()
	if pl == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(pl)
}

func (s *TaskServer) handleResult(w http.ResponseWriter, r *http.Request) {
	var rp resultPayload
	if err := json.NewDecoder(r.Body).Decode(&rp); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.mu.Lock()
	u, ok := s.units[rp.Name]
	if !ok {
		s.mu.Unlock()
		http.Error(w, "unknown work "+rp.Name, http.StatusNotFound)
		return
	}
	s.received++
	finished := s.received >= s.expected
	s.mu.Unlock()
	applyResult(u, &rp)
	w.WriteHeader(http.StatusOK)
	if finished {
		s.closeOnce.Do(func() { close(s.done) })
	}
}

// Join blocks until every job reported both results, then shuts the
// server down.
func (s *TaskServer) Join() {
	<-s.done
	s.shutdown()
}

// Kill shuts the server down without waiting for results. Jobs no
// client picked up yet are removed from the queue and their units
// failed; jobs already popped keep whatever results arrive.
func (s *TaskServer) Kill() {
	s.mu.Lock()
	for name, pl := range s.payloads {
		if s.queue.Remove(pl) {
			failUnit(s.units[name], errors.New("no task client picked the job up"))
		}
	}
	s.mu.Unlock()
	s.closeOnce.Do(func() { close(s.done) })
	s.shutdown()
}

func (s *TaskServer) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.srv.Shutdown(ctx)
}

// TaskClient pulls jobs from a TaskServer, runs them and posts the
// results back. Run exits when the server goes away.
type TaskClient struct {
	base  string
	key   string
	httpc *http.Client

	// Workers is the number of concurrent job pullers. Zero means the
	// CPU count.
	Workers int
}

func NewTaskClient(host string, port int, key string) *TaskClient {
	return &TaskClient{
		base:  fmt.Sprintf("http://%s:%d", host, port),
		key:   key,
		httpc: &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *TaskClient) Run() error {
	n := c.Workers
	if n <= 0 {
		n = runtime.NumCPU()
	}
	var g errgroup.Group
	for i := 0; i < n; i++ {
		g.Go(c.serve)
	}
	return g.Wait()
}

func (c *TaskClient) serve() error {
	for {
		pl, err := c.pop()
		if err != nil {
			// The server shut down after the last result.
			return nil
		}
		if pl == nil {
			time.Sleep(100 * time.Millisecond)
			continue
		}
		c.post(&resultPayload{Name: pl.Name, State: StateRun.String()})
		res, st, rerr := pl.execute()
		rp := &resultPayload{Name: pl.Name, State: st.String(), Result: res}
		if rerr != nil {
			rp.State = StateFail.String()
			rp.Err = rerr.Error()
		}
		if err := c.post(rp); err != nil {
			return nil
		}
	}
}

func (c *TaskClient) pop() (*jobPayload, error) {
	req, err := http.NewRequest("POST", c.base+"/job", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set(keyHeader, c.key)
	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNoContent {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, errors.Errorf("pop job: %s", resp.Status)
	}
	var pl jobPayload
	if err := json.NewDecoder(resp.Body).Decode(&pl); err != nil {
		return nil, err
	}
	return &pl, nil
}

func (c *TaskClient) post(rp *resultPayload) error {
	b, err := json.Marshal(rp)
	if err != nil {
		return err
	}
	req, err := http.NewRequest("POST", c.base+"/result", bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set(keyHeader, c.key)
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.httpc.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return errors.Errorf("post result: %s", resp.Status)
	}
	return nil
}

// DistributeExecutor runs parallel work through a per-group TaskServer.
// Hosts listed in TIGRES_HOSTS get a tigres-client started over ssh,
// otherwise an in-process client serves the group.
type DistributeExecutor struct {
	localBase
}

func NewDistribute() *DistributeExecutor {
	return &DistributeExecutor{}
}

func (e *DistributeExecutor) Execute(name string, task *Task, values []interface{}, data *ExecutionData) (interface{}, State, error) {
	return executeWith(e, name, task, values, data)
}

func (e *DistributeExecutor) Parallel(par *WorkParallel, run RunFunc) error {
	if len(par.units()) == 0 {
		return nil
	}
	key := xid.New().String()
	s, err := newTaskServer(par, key)
	if err != nil {
		return err
	}
	hosts := splitHosts(os.Getenv(hostsEnv))
	if len(hosts) == 0 {
		c := NewTaskClient("localhost", s.Port(), key)
		go c.Run()
		s.Join()
		return nil
	}
	command := clientCommand(serverHost(), s.Port(), key)
	cmds := make([]*exec.Cmd, 0, len(hosts))
	for _, h := range hosts {
		cmd := exec.Command("ssh", "-o", "StrictHostKeyChecking=no", h, command)
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
		if err := cmd.Start(); err != nil {
			continue
		}
		cmds = append(cmds, cmd)
	}
	if len(cmds) == 0 {
		s.Kill()
		return errors.New("there were no tigres clients started")
	}
	s.Join()
	for _, cmd := range cmds {
		cmd.Process.Kill()
		cmd.Wait()
	}
	return nil
}

func splitHosts(s string) []string {
	return strings.Fields(strings.ReplaceAll(s, ",", " "))
}

func serverHost() string {
	h, err := os.Hostname()
	if err != nil {
		return "localhost"
	}
	return h
}

// clientCommand builds the remote shell command starting a
// tigres-client against the server. OTIGRES_ variables of this process
// forward to the remote environment with the prefix stripped.
func clientCommand(host string, port int, key string) string {
	exports := make([]string, 0)
	for _, kv := range os.Environ() {
		if strings.HasPrefix(kv, clientEnvPrefix) {
			exports = append(exports, "export "+strings.TrimPrefix(kv, clientEnvPrefix)+";")
		}
	}
	client := fmt.Sprintf("tigres-client %s %d %s", host, port, key)
	return fmt.Sprintf("bash --login -c '%s %s'", strings.Join(exports, " "), client)
}
