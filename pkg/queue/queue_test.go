package queue_test

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cobble/cobble/pkg/backend"
	"github.com/cobble/cobble/pkg/logger"
	"github.com/cobble/cobble/pkg/pipe"
	"github.com/cobble/cobble/pkg/prompt"
	"github.com/cobble/cobble/pkg/queue"
)

// Mock implementations

type behavior struct {
	status  backend.Status
	gate    chan struct{}
	onStart func()
}

type fakeBackend struct {
	mu         sync.Mutex
	events     []string
	running    int
	maxRunning int
	nextPid    int
	behaviors  map[string]*behavior
	spawnErr   map[string]error
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		behaviors: make(map[string]*behavior),
		spawnErr:  make(map[string]error),
		nextPid:   100,
	}
}

func (b *fakeBackend) on(name string) *behavior {
	bh, ok := b.behaviors[name]
	if !ok {
		bh = &behavior{}
		b.behaviors[name] = bh
	}
	return bh
}

func (b *fakeBackend) Spawn(spec backend.Spec) (backend.Process, error) {
	name := spec.Argv[0]

	b.mu.Lock()
	if err, ok := b.spawnErr[name]; ok {
		b.mu.Unlock()
		return nil, err
	}
	b.events = append(b.events, "start:"+name)
	b.running++
	if b.running > b.maxRunning {
		b.maxRunning = b.running
	}
	b.nextPid++
	pid := b.nextPid
	bh := b.behaviors[name]
	b.mu.Unlock()

	if bh != nil && bh.onStart != nil {
		bh.onStart()
	}
	return &fakeProcess{name: name, pid: pid, bh: bh, backend: b}, nil
}

func (b *fakeBackend) Events() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.events...)
}

func (b *fakeBackend) index(event string) int {
	for i, e := range b.Events() {
		if e == event {
			return i
		}
	}
	return -1
}

type fakeProcess struct {
	name    string
	pid     int
	bh      *behavior
	backend *fakeBackend
}

func (p *fakeProcess) Pid() int { return p.pid }

func (p *fakeProcess) Wait() (backend.Status, error) {
	var status backend.Status
	if p.bh != nil {
		if p.bh.gate != nil {
			<-p.bh.gate
		}
		status = p.bh.status
	}

	p.backend.mu.Lock()
	p.backend.events = append(p.backend.events, "exit:"+p.name)
	p.backend.running--
	p.backend.mu.Unlock()
	return status, nil
}

type scriptedPrompter struct {
	mu       sync.Mutex
	decision prompt.Decision
	asked    []string
}

func (s *scriptedPrompter) Ask(log logger.Logger, argv []string, status backend.Status) prompt.Decision {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.asked = append(s.asked, fmt.Sprintf("%s: %s", argv[0], status))
	return s.decision
}

func (s *scriptedPrompter) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.asked)
}

type recordingTerminator struct {
	mu    sync.Mutex
	codes []int
}

func (r *recordingTerminator) terminate(code int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.codes = append(r.codes, code)
}

func (r *recordingTerminator) calls() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int(nil), r.codes...)
}

func newTestQueue(b backend.Backend, p prompt.Prompter, term *recordingTerminator) *queue.Queue {
	if p == nil {
		p = &scriptedPrompter{decision: prompt.Continue}
	}
	if term == nil {
		term = &recordingTerminator{}
	}
	return queue.New(queue.Config{
		Logger:    logger.Nop(),
		Backend:   b,
		Prompter:  p,
		Terminate: term.terminate,
	})
}

var exit17 = backend.Status{Outcome: backend.NonZero, Code: 17}

func TestInvoke_SyncCommandsRunInOrderWithoutOverlap(t *testing.T) {
	b := newFakeBackend()
	q := newTestQueue(b, nil, nil)

	names := []string{"a", "b", "c", "d", "e"}
	for _, n := range names {
		q.Sync(n)
	}

	if err := q.Invoke(); err != nil {
		t.Fatalf("Invoke() error = %v", err)
	}

	var want []string
	for _, n := range names {
		want = append(want, "start:"+n, "exit:"+n)
	}
	if got := b.Events(); strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("events = %v, want %v", got, want)
	}
	if b.maxRunning != 1 {
		t.Errorf("max concurrently running = %d, want 1", b.maxRunning)
	}

	for _, c := range q.Commands() {
		if c.Pid() == 0 {
			t.Errorf("command %s has no pid", c)
		}
		if status, done := c.Status(); !done || !status.OK() {
			t.Errorf("command %s status = %v (done=%v)", c, status, done)
		}
	}
}

func TestInvoke_WaitsForAllAsyncCommands(t *testing.T) {
	b := newFakeBackend()
	q := newTestQueue(b, nil, nil)

	const n = 6
	gates := make([]chan struct{}, n)
	for i := 0; i < n; i++ {
		name := fmt.Sprintf("job%d", i)
		gates[i] = make(chan struct{})
		b.on(name).gate = gates[i]
		q.Async(name)
	}

	go func() {
		time.Sleep(20 * time.Millisecond)
		for i := n - 1; i >= 0; i-- {
			close(gates[i])
		}
	}()

	if err := q.Invoke(); err != nil {
		t.Fatalf("Invoke() error = %v", err)
	}

	stats := q.Stats()
	if stats.Issued != n || stats.Completed != n {
		t.Errorf("stats = %+v, want %d/%d", stats, n, n)
	}
	exits := 0
	for _, e := range b.Events() {
		if strings.HasPrefix(e, "exit:") {
			exits++
		}
	}
	if exits != n {
		t.Errorf("Invoke returned after %d exits, want %d", exits, n)
	}
}

func TestInvoke_MixedSyncAsync(t *testing.T) {
	b := newFakeBackend()
	q := newTestQueue(b, nil, nil)

	gateB := make(chan struct{})
	b.on("B").gate = gateB
	b.on("C").onStart = func() { close(gateB) }

	q.Sync("A").Async("B").Sync("C")

	if err := q.Invoke(); err != nil {
		t.Fatalf("Invoke() error = %v", err)
	}

	if b.index("start:B") > b.index("start:C") {
		t.Error("B must start before C")
	}
	if b.index("exit:A") > b.index("start:B") {
		t.Error("A must exit before B starts")
	}
	if b.index("exit:B") < b.index("start:C") {
		t.Error("C must not wait for B")
	}
	if b.index("exit:B") < 0 || b.index("exit:C") < 0 {
		t.Errorf("Invoke returned before all commands exited: %v", b.Events())
	}
}

func TestInvoke_AbnormalExitContinue(t *testing.T) {
	b := newFakeBackend()
	b.on("fail").status = exit17
	p := &scriptedPrompter{decision: prompt.Continue}
	term := &recordingTerminator{}
	q := newTestQueue(b, p, term)

	q.Sync("fail").Sync("next")

	if err := q.Invoke(); err != nil {
		t.Fatalf("Invoke() error = %v", err)
	}
	if p.count() != 1 {
		t.Errorf("prompted %d times, want 1", p.count())
	}
	if p.asked[0] != "fail: exited with status 17" {
		t.Errorf("prompt = %q", p.asked[0])
	}
	if b.index("start:next") < 0 {
		t.Error("next command should run after continue")
	}
	if len(term.calls()) != 0 {
		t.Errorf("unexpected termination %v", term.calls())
	}
}

func TestInvoke_AbnormalExitAbort(t *testing.T) {
	b := newFakeBackend()
	b.on("fail").status = exit17
	p := &scriptedPrompter{decision: prompt.Abort}
	term := &recordingTerminator{}
	q := newTestQueue(b, p, term)

	q.Sync("fail").Sync("next")

	err := q.Invoke()
	if !errors.Is(err, queue.ErrAborted) {
		t.Fatalf("Invoke() error = %v, want ErrAborted", err)
	}
	if p.count() != 1 {
		t.Errorf("prompted %d times, want 1", p.count())
	}
	if b.index("start:next") >= 0 {
		t.Error("no command may run after abort")
	}
	if calls := term.calls(); len(calls) != 1 || calls[0] == 0 {
		t.Errorf("terminator calls = %v, want one non-zero", calls)
	}
}

func TestInvoke_AsyncAbortWaitsForOtherWaiters(t *testing.T) {
	b := newFakeBackend()
	b.on("fail").status = backend.Status{Outcome: backend.Signaled, Code: -1, Signal: 9}
	slow := make(chan struct{})
	b.on("slow").gate = slow
	p := &scriptedPrompter{decision: prompt.Abort}
	term := &recordingTerminator{}
	q := newTestQueue(b, p, term)

	q.Async("slow").Async("fail")

	go func() {
		time.Sleep(20 * time.Millisecond)
		close(slow)
	}()

	err := q.Invoke()
	if !errors.Is(err, queue.ErrAborted) {
		t.Fatalf("Invoke() error = %v, want ErrAborted", err)
	}
	if stats := q.Stats(); stats.Issued != stats.Completed {
		t.Errorf("Invoke returned with outstanding waiters: %+v", stats)
	}
	if len(term.calls()) != 1 {
		t.Errorf("terminator calls = %v, want 1", term.calls())
	}
}

func TestInvoke_ConcurrentAsyncFailuresPromptOnceEach(t *testing.T) {
	b := newFakeBackend()
	p := &scriptedPrompter{decision: prompt.Continue}
	q := newTestQueue(b, p, nil)

	for i := 0; i < 5; i++ {
		name := fmt.Sprintf("bad%d", i)
		b.on(name).status = exit17
		q.Async(name)
	}

	if err := q.Invoke(); err != nil {
		t.Fatalf("Invoke() error = %v", err)
	}
	if p.count() != 5 {
		t.Errorf("prompted %d times, want 5", p.count())
	}
}

func TestInvoke_SpawnFailureIsFatal(t *testing.T) {
	var out, errOut bytes.Buffer
	b := newFakeBackend()
	b.spawnErr["missing"] = backend.ErrCreateProcess
	term := &recordingTerminator{}
	q := queue.New(queue.Config{
		Logger:    logger.NewWithOutput("info", &out, &errOut, nil),
		Backend:   b,
		Prompter:  &scriptedPrompter{},
		Terminate: term.terminate,
	})

	q.Sync("first").Sync("missing").Sync("never")

	err := q.Invoke()
	if !errors.Is(err, queue.ErrSpawn) || !errors.Is(err, backend.ErrCreateProcess) {
		t.Fatalf("Invoke() error = %v, want ErrSpawn wrapping ErrCreateProcess", err)
	}
	if b.index("start:never") >= 0 {
		t.Error("no command may run after a spawn failure")
	}
	if calls := term.calls(); len(calls) != 1 || calls[0] != 1 {
		t.Errorf("terminator calls = %v, want [1]", calls)
	}
	if !strings.Contains(errOut.String(), "Failed to start process missing") {
		t.Errorf("expected error line, got %q", errOut.String())
	}
}

func TestInvoke_SpawnFailureClosesPipeEnds(t *testing.T) {
	tests := []struct {
		name string
		argv []string
		err  error
	}{
		{name: "create failure", argv: []string{"missing"}, err: backend.ErrCreateProcess},
		{name: "empty argv", argv: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in, err := pipe.New()
			if err != nil {
				t.Fatal(err)
			}
			defer in.Close()
			out, err := pipe.New()
			if err != nil {
				t.Fatal(err)
			}
			defer out.Close()

			b := newFakeBackend()
			if tt.err != nil {
				b.spawnErr["missing"] = tt.err
			}
			term := &recordingTerminator{}
			q := newTestQueue(b, nil, term)
			q.Append(queue.Sync, tt.argv, queue.WithInput(in), queue.WithOutput(out))

			if err := q.Invoke(); err == nil {
				t.Fatal("expected spawn error")
			}
			if err := in.CloseRead(); !errors.Is(err, pipe.ErrClosed) {
				t.Errorf("input read end left open: CloseRead() = %v", err)
			}
			if err := out.CloseWrite(); !errors.Is(err, pipe.ErrClosed) {
				t.Errorf("output write end left open: CloseWrite() = %v", err)
			}
		})
	}
}

func TestInvoke_EmptyCommand(t *testing.T) {
	term := &recordingTerminator{}
	q := newTestQueue(newFakeBackend(), nil, term)
	q.Append(queue.Sync, nil)

	if err := q.Invoke(); !errors.Is(err, queue.ErrEmptyCommand) {
		t.Errorf("Invoke() error = %v, want ErrEmptyCommand", err)
	}
	if len(term.calls()) != 1 {
		t.Errorf("terminator calls = %v, want 1", term.calls())
	}
}

func TestClear(t *testing.T) {
	b := newFakeBackend()
	q := newTestQueue(b, nil, nil)

	q.Async("a").Async("b")
	if err := q.Invoke(); err != nil {
		t.Fatalf("Invoke() error = %v", err)
	}
	if stats := q.Stats(); stats.Issued != 2 {
		t.Fatalf("stats = %+v", stats)
	}

	q.Clear()
	if q.Len() != 0 {
		t.Errorf("Len() = %d after Clear", q.Len())
	}
	if stats := q.Stats(); stats.Issued != 0 || stats.Completed != 0 {
		t.Errorf("stats = %+v after Clear", stats)
	}

	q.Sync("c")
	if err := q.Invoke(); err != nil {
		t.Fatalf("Invoke() after Clear error = %v", err)
	}
	if b.index("start:c") < 0 {
		t.Error("queue not reusable after Clear")
	}
}

func TestInvoke_RealPipeRoundTrip(t *testing.T) {
	out, err := pipe.New()
	if err != nil {
		t.Fatal(err)
	}

	q := queue.New(queue.Config{
		Logger:    logger.Nop(),
		Prompter:  &scriptedPrompter{},
		Terminate: (&recordingTerminator{}).terminate,
	})
	q.Append(queue.Sync, []string{"printf", "hello\\n"}, queue.WithOutput(out))

	if err := q.Invoke(); err != nil {
		t.Fatalf("Invoke() error = %v", err)
	}

	data, err := out.Drain()
	if err != nil {
		t.Fatalf("Drain() error = %v", err)
	}
	if string(data) != "hello\n" {
		t.Errorf("Drain() = %q, want %q", data, "hello\n")
	}
}

func TestInvoke_RealPipeBetweenCommands(t *testing.T) {
	between, err := pipe.New()
	if err != nil {
		t.Fatal(err)
	}
	result, err := pipe.New()
	if err != nil {
		t.Fatal(err)
	}

	q := queue.New(queue.Config{
		Logger:    logger.Nop(),
		Prompter:  &scriptedPrompter{},
		Terminate: (&recordingTerminator{}).terminate,
	})
	q.Append(queue.Async, []string{"sh", "-c", "sleep 0.05; echo hello"}, queue.WithOutput(between))
	q.Append(queue.Sync, []string{"tr", "a-z", "A-Z"}, queue.WithInput(between), queue.WithOutput(result))

	if err := q.Invoke(); err != nil {
		t.Fatalf("Invoke() error = %v", err)
	}

	data, err := result.Drain()
	if err != nil {
		t.Fatalf("Drain() error = %v", err)
	}
	if string(data) != "HELLO\n" {
		t.Errorf("Drain() = %q, want %q", data, "HELLO\n")
	}
}

func TestInvoke_RealExitStatus17(t *testing.T) {
	p := &scriptedPrompter{decision: prompt.Continue}
	q := queue.New(queue.Config{
		Logger:    logger.Nop(),
		Prompter:  p,
		Terminate: (&recordingTerminator{}).terminate,
	})
	q.Sync("sh", "-c", "exit 17").Sync("true")

	if err := q.Invoke(); err != nil {
		t.Fatalf("Invoke() error = %v", err)
	}
	if p.count() != 1 || p.asked[0] != "sh: exited with status 17" {
		t.Errorf("prompts = %v", p.asked)
	}
	cmds := q.Commands()
	if status, done := cmds[1].Status(); !done || !status.OK() {
		t.Errorf("second command status = %v (done=%v)", status, done)
	}
}
