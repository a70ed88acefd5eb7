package supervisor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/loykin/stackctl/internal/drain"
	"github.com/loykin/stackctl/internal/probe"
	"github.com/loykin/stackctl/internal/service"
	"github.com/loykin/stackctl/internal/store"
)

type fakeProber struct {
	alive map[string]bool
	calls int
}

func (f *fakeProber) IsAlive(_ context.Context, svc service.Descriptor) bool {
	f.calls++
	return f.alive[svc.Name]
}

type fakeRequester struct {
	ack   probe.Ack
	err   error
	calls int
}

func (f *fakeRequester) RequestDrain(_ context.Context, _ service.Descriptor) (probe.Ack, error) {
	f.calls++
	return f.ack, f.err
}

type fakeObserver struct {
	result drain.Result
	calls  int
}

func (f *fakeObserver) Observe(_ context.Context, _ string) drain.Result {
	f.calls++
	return f.result
}

// fakeSignaler marks terminated PIDs dead so escalate returns without
// waiting out the kill delay.
type fakeSignaler struct {
	mu         sync.Mutex
	live       map[int]bool
	terminated []int
	killed     []int
	termErr    error
}

func newFakeSignaler(pids ...int) *fakeSignaler {
	live := make(map[int]bool, len(pids))
	for _, p := range pids {
		live[p] = true
	}
	return &fakeSignaler{live: live}
}

func (f *fakeSignaler) Terminate(pid int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.termErr != nil {
		return f.termErr
	}
	f.terminated = append(f.terminated, pid)
	f.live[pid] = false
	return nil
}

func (f *fakeSignaler) Kill(pid int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.killed = append(f.killed, pid)
	f.live[pid] = false
	return nil
}

func (f *fakeSignaler) Alive(pid int, _ int64) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.live[pid]
}

type memStore struct {
	mu   sync.Mutex
	recs map[string]store.Record
}

func newMemStore() *memStore { return &memStore{recs: map[string]store.Record{}} }

func (m *memStore) EnsureSchema(context.Context) error { return nil }

func (m *memStore) Record(_ context.Context, rec store.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recs[rec.Name] = rec
	return nil
}

func (m *memStore) GetByName(_ context.Context, name string) (store.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.recs[name]
	if !ok {
		return store.Record{}, store.ErrNotFound
	}
	return rec, nil
}

func (m *memStore) Delete(_ context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.recs, name)
	return nil
}

func (m *memStore) Close() error { return nil }

type testEnv struct {
	sup       *Supervisor
	prober    *fakeProber
	requester *fakeRequester
	observer  *fakeObserver
	signaler  *fakeSignaler
	owners    map[int][]int
}

func newTestEnv(t *testing.T, livePIDs ...int) *testEnv {
	t.Helper()
	env := &testEnv{
		prober:    &fakeProber{alive: map[string]bool{}},
		requester: &fakeRequester{ack: probe.Ack{Status: "ok", Message: "shutting down"}},
		observer:  &fakeObserver{result: drain.Result{Outcome: drain.OutcomeCompleted, Elapsed: time.Second}},
		signaler:  newFakeSignaler(livePIDs...),
		owners:    map[int][]int{},
	}
	env.sup = New(Config{
		Prober:     env.prober,
		Requester:  env.requester,
		Observer:   env.observer,
		Signaler:   env.signaler,
		PortOwners: func(port int) ([]int, error) { return env.owners[port], nil },
		KillDelay:  50 * time.Millisecond,
	})
	return env
}

func TestStopGracefulHappyPath(t *testing.T) {
	env := newTestEnv(t, 101, 202)
	env.prober.alive["backend"] = true
	env.owners[8000] = []int{101}
	env.owners[8080] = []int{202}

	res, err := env.sup.Stop(context.Background(), true)
	if err != nil {
		t.Fatalf("stop: %v", err)
	}
	if !res.Drained() {
		t.Fatalf("expected drained result, got outcome %q", res.Outcome)
	}
	if env.requester.calls != 1 || env.observer.calls != 1 {
		t.Fatalf("expected one drain request and one observation, got %d/%d",
			env.requester.calls, env.observer.calls)
	}
	if env.sup.State() != StateStopped {
		t.Fatalf("expected stopped state, got %s", env.sup.State())
	}
	if len(env.signaler.terminated) != 2 {
		t.Fatalf("expected both services signaled, got %v", env.signaler.terminated)
	}
	if len(res.Services) != 2 {
		t.Fatalf("expected two service stops, got %+v", res.Services)
	}
}

func TestStopSkipsDrainWhenBackendDead(t *testing.T) {
	env := newTestEnv(t, 202)
	env.owners[8080] = []int{202}

	res, err := env.sup.Stop(context.Background(), true)
	if err != nil {
		t.Fatalf("stop: %v", err)
	}
	if env.requester.calls != 0 {
		t.Fatalf("dead backend must not receive a drain request, got %d calls", env.requester.calls)
	}
	if res.Outcome != "" {
		t.Fatalf("expected no drain outcome, got %q", res.Outcome)
	}
	if env.sup.State() != StateStopped {
		t.Fatalf("expected stopped state, got %s", env.sup.State())
	}
}

func TestStopUnreachableDrainFallsBack(t *testing.T) {
	env := newTestEnv(t, 101)
	env.prober.alive["backend"] = true
	env.requester.err = probe.ErrUnreachable
	env.owners[8000] = []int{101}

	res, err := env.sup.Stop(context.Background(), true)
	if err != nil {
		t.Fatalf("stop: %v", err)
	}
	if env.observer.calls != 0 {
		t.Fatalf("unacknowledged drain must not be observed")
	}
	if res.Drained() {
		t.Fatalf("unexpected drained result")
	}
	if env.sup.State() != StateStopped {
		t.Fatalf("expected stopped state, got %s", env.sup.State())
	}
}

func TestStopDrainTimedOutStillTerminates(t *testing.T) {
	env := newTestEnv(t, 101)
	env.prober.alive["backend"] = true
	env.observer.result = drain.Result{Outcome: drain.OutcomeTimedOut, Elapsed: 60 * time.Second}
	env.owners[8000] = []int{101}

	res, err := env.sup.Stop(context.Background(), true)
	if err != nil {
		t.Fatalf("stop: %v", err)
	}
	if res.Outcome != drain.OutcomeTimedOut {
		t.Fatalf("expected timed-out outcome, got %q", res.Outcome)
	}
	if len(env.signaler.terminated) != 1 || env.signaler.terminated[0] != 101 {
		t.Fatalf("backend must still be terminated, got %v", env.signaler.terminated)
	}
	if env.sup.State() != StateStopped {
		t.Fatalf("expected stopped state, got %s", env.sup.State())
	}
}

func TestStopForcedSkipsDrainEntirely(t *testing.T) {
	env := newTestEnv(t, 101, 202)
	env.prober.alive["backend"] = true
	env.owners[8000] = []int{101}
	env.owners[8080] = []int{202}

	res, err := env.sup.Stop(context.Background(), false)
	if err != nil {
		t.Fatalf("stop: %v", err)
	}
	if env.prober.calls != 0 || env.requester.calls != 0 || env.observer.calls != 0 {
		t.Fatalf("forced stop must not touch the drain path: %d/%d/%d",
			env.prober.calls, env.requester.calls, env.observer.calls)
	}
	if res.Graceful {
		t.Fatalf("result should record the forced mode")
	}
	if env.sup.State() != StateStopped {
		t.Fatalf("expected stopped state, got %s", env.sup.State())
	}
}

// Every combination of liveness, drain acknowledgement, and observation
// outcome must converge to StateStopped with each live service signaled
// exactly once.
func TestStopAlwaysConverges(t *testing.T) {
	outcomes := []drain.Outcome{drain.OutcomeCompleted, drain.OutcomeTimedOut}
	for _, alive := range []bool{true, false} {
		for _, ackErr := range []error{nil, probe.ErrUnreachable} {
			for _, outcome := range outcomes {
				env := newTestEnv(t, 101, 202)
				env.prober.alive["backend"] = alive
				env.requester.err = ackErr
				env.observer.result = drain.Result{Outcome: outcome}
				env.owners[8000] = []int{101}
				env.owners[8080] = []int{202}

				res, err := env.sup.Stop(context.Background(), true)
				if err != nil {
					t.Fatalf("alive=%v ackErr=%v outcome=%s: %v", alive, ackErr, outcome, err)
				}
				if env.sup.State() != StateStopped || res.State != StateStopped {
					t.Fatalf("alive=%v ackErr=%v outcome=%s: state %s", alive, ackErr, outcome, env.sup.State())
				}
				if got := len(env.signaler.terminated); got != 2 {
					t.Fatalf("alive=%v ackErr=%v outcome=%s: %d terminations, want 2",
						alive, ackErr, outcome, got)
				}
			}
		}
	}
}

func TestStopNothingRunningIsNoOp(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.sup.Stop(context.Background(), true)
	if err != nil {
		t.Fatalf("stop with nothing running must succeed: %v", err)
	}
	if len(env.signaler.terminated) != 0 {
		t.Fatalf("unexpected signals: %v", env.signaler.terminated)
	}
	if env.sup.State() != StateStopped {
		t.Fatalf("expected stopped state, got %s", env.sup.State())
	}

	// A second stop is equally fine.
	if _, err := env.sup.Stop(context.Background(), true); err != nil {
		t.Fatalf("repeated stop: %v", err)
	}
}

func TestStopSignalErrorIsIgnored(t *testing.T) {
	env := newTestEnv(t, 101)
	env.signaler.termErr = errors.New("operation not permitted")
	env.owners[8000] = []int{101}
	// The surviving PID would stall escalate for the full kill delay;
	// keep it short.
	env.sup.killDelay = 20 * time.Millisecond

	res, err := env.sup.Stop(context.Background(), false)
	if err != nil {
		t.Fatalf("signal failure must not fail the stop: %v", err)
	}
	if env.sup.State() != StateStopped {
		t.Fatalf("expected stopped state, got %s", env.sup.State())
	}
	if len(res.Services) != 2 {
		t.Fatalf("expected both services reported, got %+v", res.Services)
	}
}

func TestStopConcurrentRejected(t *testing.T) {
	env := newTestEnv(t, 101)
	env.prober.alive["backend"] = true
	env.owners[8000] = []int{101}

	release := make(chan struct{})
	env.sup.observer = observerFunc(func(ctx context.Context, _ string) drain.Result {
		<-release
		return drain.Result{Outcome: drain.OutcomeCompleted}
	})

	done := make(chan error, 1)
	go func() {
		_, err := env.sup.Stop(context.Background(), true)
		done <- err
	}()

	// Wait for the first stop to hold the lock inside the observer.
	deadline := time.Now().Add(2 * time.Second)
	for env.observer.calls == 0 && env.sup.State() != StateDraining && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	if _, err := env.sup.Stop(context.Background(), true); !errors.Is(err, ErrStopInProgress) {
		t.Fatalf("expected ErrStopInProgress, got %v", err)
	}
	close(release)
	if err := <-done; err != nil {
		t.Fatalf("first stop: %v", err)
	}
}

type observerFunc func(ctx context.Context, logPath string) drain.Result

func (f observerFunc) Observe(ctx context.Context, logPath string) drain.Result {
	return f(ctx, logPath)
}

func TestEscalateKillsSurvivors(t *testing.T) {
	env := newTestEnv(t, 101)
	env.owners[8000] = []int{101}
	// Terminate reports success but leaves the PID alive.
	env.sup.signaler = &stubbornSignaler{inner: env.signaler}
	env.sup.killDelay = 30 * time.Millisecond

	if _, err := env.sup.Stop(context.Background(), false); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if len(env.signaler.killed) != 1 || env.signaler.killed[0] != 101 {
		t.Fatalf("expected survivor to be killed, got %v", env.signaler.killed)
	}
}

// stubbornSignaler simulates a process that ignores the graceful signal.
type stubbornSignaler struct{ inner *fakeSignaler }

func (s *stubbornSignaler) Terminate(_ int) error        { return nil }
func (s *stubbornSignaler) Kill(pid int) error           { return s.inner.Kill(pid) }
func (s *stubbornSignaler) Alive(pid int, su int64) bool { return s.inner.Alive(pid, su) }

func TestStateString(t *testing.T) {
	want := map[State]string{
		StateRunning:        "running",
		StateDrainRequested: "drain-requested",
		StateDraining:       "draining",
		StateDrainComplete:  "drain-complete",
		StateDrainTimedOut:  "drain-timed-out",
		StateStopping:       "stopping",
		StateStopped:        "stopped",
		State(99):           "unknown",
	}
	for st, s := range want {
		if st.String() != s {
			t.Fatalf("State(%d).String() = %q, want %q", st, st.String(), s)
		}
	}
}

func TestStatusReportsHandles(t *testing.T) {
	env := newTestEnv(t, 101)
	env.prober.alive["backend"] = true
	env.owners[8000] = []int{101}

	sts := env.sup.Status(context.Background())
	if len(sts) != 2 {
		t.Fatalf("expected two statuses, got %d", len(sts))
	}
	if !sts[0].Alive || len(sts[0].Handles) != 1 || sts[0].Handles[0].PID != 101 {
		t.Fatalf("unexpected backend status: %+v", sts[0])
	}
	// The frontend has no health endpoint; liveness follows handles.
	if sts[1].Alive {
		t.Fatalf("frontend with no listener should report not alive: %+v", sts[1])
	}
}
