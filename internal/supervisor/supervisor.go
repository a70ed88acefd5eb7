package supervisor

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/loykin/stackctl/internal/detector"
	"github.com/loykin/stackctl/internal/drain"
	"github.com/loykin/stackctl/internal/history"
	"github.com/loykin/stackctl/internal/metrics"
	"github.com/loykin/stackctl/internal/probe"
	"github.com/loykin/stackctl/internal/service"
	"github.com/loykin/stackctl/internal/store"
)

// State of a stop operation. The supervisor always converges to
// StateStopped regardless of the path taken.
type State int32

const (
	StateRunning State = iota
	StateDrainRequested
	StateDraining
	StateDrainComplete
	StateDrainTimedOut
	StateStopping
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateDrainRequested:
		return "drain-requested"
	case StateDraining:
		return "draining"
	case StateDrainComplete:
		return "drain-complete"
	case StateDrainTimedOut:
		return "drain-timed-out"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// ErrStopInProgress is returned when a stop is invoked while another
// stop is running. Concurrent stops are rejected rather than allowed to
// interleave signals to the same processes.
var ErrStopInProgress = errors.New("stop already in progress")

// LivenessProber gates the drain path: drain is only requested from a
// backend that answers its health check.
type LivenessProber interface {
	IsAlive(ctx context.Context, svc service.Descriptor) bool
}

// DrainRequester sends the one-shot drain request.
type DrainRequester interface {
	RequestDrain(ctx context.Context, svc service.Descriptor) (probe.Ack, error)
}

// LogObserver watches the backend log for drain completion.
type LogObserver interface {
	Observe(ctx context.Context, logPath string) drain.Result
}

// PortOwnersFunc resolves the PIDs listening on a port.
type PortOwnersFunc func(port int) ([]int, error)

// Config assembles a Supervisor. Zero collaborators are replaced with
// the real implementations; tests inject fakes.
type Config struct {
	Backend  service.Descriptor
	Frontend service.Descriptor

	Store      store.Store // optional recorded-handle store
	Sinks      []history.Sink
	Logger     *slog.Logger
	Prober     LivenessProber
	Requester  DrainRequester
	Observer   LogObserver
	Signaler   Signaler
	PortOwners PortOwnersFunc

	// KillDelay bounds the wait between the graceful signal and the
	// forced one during termination. Zero selects 5s.
	KillDelay time.Duration
	// StartTimeout bounds the post-start liveness wait. Zero selects 30s.
	StartTimeout time.Duration
	DrainConfig  drain.Config
}

// Supervisor coordinates the start and stop of the backend/frontend
// pair, including the graceful-drain protocol for the backend.
type Supervisor struct {
	backend  service.Descriptor
	frontend service.Descriptor

	st         store.Store
	sinks      []history.Sink
	logger     *slog.Logger
	prober     LivenessProber
	requester  DrainRequester
	observer   LogObserver
	signaler   Signaler
	portOwners PortOwnersFunc

	killDelay    time.Duration
	startTimeout time.Duration

	stopMu sync.Mutex
	state  atomic.Int32
}

// New builds a Supervisor, filling missing collaborators with defaults.
func New(cfg Config) *Supervisor {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Backend.Name == "" {
		cfg.Backend = service.DefaultBackend()
	}
	if cfg.Frontend.Name == "" {
		cfg.Frontend = service.DefaultFrontend()
	}
	if cfg.Prober == nil {
		cfg.Prober = probe.NewLiveness(0, cfg.Logger)
	}
	if cfg.Requester == nil {
		cfg.Requester = probe.NewRequester(0, cfg.Logger)
	}
	if cfg.Observer == nil {
		cfg.Observer = drain.New(cfg.DrainConfig, cfg.Logger)
	}
	if cfg.Signaler == nil {
		cfg.Signaler = NewSignaler()
	}
	if cfg.PortOwners == nil {
		cfg.PortOwners = detector.PortOwners
	}
	if cfg.KillDelay <= 0 {
		cfg.KillDelay = 5 * time.Second
	}
	if cfg.StartTimeout <= 0 {
		cfg.StartTimeout = 30 * time.Second
	}
	s := &Supervisor{
		backend:      cfg.Backend,
		frontend:     cfg.Frontend,
		st:           cfg.Store,
		sinks:        cfg.Sinks,
		logger:       cfg.Logger,
		prober:       cfg.Prober,
		requester:    cfg.Requester,
		observer:     cfg.Observer,
		signaler:     cfg.Signaler,
		portOwners:   cfg.PortOwners,
		killDelay:    cfg.KillDelay,
		startTimeout: cfg.StartTimeout,
	}
	s.state.Store(int32(StateRunning))
	return s
}

// State returns the current stop-machine state.
func (s *Supervisor) State() State { return State(s.state.Load()) }

func (s *Supervisor) setState(st State) {
	prev := State(s.state.Swap(int32(st)))
	if prev != st {
		s.logger.Debug("state transition", "from", prev.String(), "to", st.String())
	}
}

func (s *Supervisor) services() []service.Descriptor {
	return []service.Descriptor{s.backend, s.frontend}
}

func (s *Supervisor) emit(ctx context.Context, t history.EventType, svc string, pid int, detail string) {
	if len(s.sinks) == 0 {
		return
	}
	e := history.Event{Type: t, OccurredAt: time.Now().UTC(), Service: svc, PID: pid, Detail: detail}
	for _, sink := range s.sinks {
		_ = sink.Send(ctx, e)
	}
}

// StartedService reports one launched process.
type StartedService struct {
	Service string `json:"service"`
	PID     int    `json:"pid"`
}

// Start launches every descriptor that carries a start command, records
// the handles in the store, and waits (bounded) for the backend to
// answer its health check. Services that are already alive are skipped.
func (s *Supervisor) Start(ctx context.Context) ([]StartedService, error) {
	var started []StartedService
	for _, svc := range s.services() {
		if svc.Command == "" {
			continue
		}
		if len(s.resolve(ctx, svc)) > 0 {
			s.logger.Info("service already running", "service", svc.Name)
			continue
		}
		pid, err := s.launch(svc)
		if err != nil {
			return started, err
		}
		started = append(started, StartedService{Service: svc.Name, PID: pid})
		metrics.IncStart(svc.Name)
		s.emit(ctx, history.EventStart, svc.Name, pid, "")
		s.logger.Info("service started", "service", svc.Name, "pid", pid)
	}
	if s.backend.Command != "" && s.backend.HealthPath != "" {
		if !s.waitReady(ctx, s.backend) {
			s.logger.Warn("backend did not become healthy in time",
				"service", s.backend.Name, "timeout", s.startTimeout)
		}
	}
	return started, nil
}

func (s *Supervisor) launch(svc service.Descriptor) (int, error) {
	cmd := svc.BuildCommand()
	if svc.WorkDir != "" {
		cmd.Dir = svc.WorkDir
	}
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	outW, errW, _ := svc.Log.Writers(svc.Name)
	if outW != nil {
		cmd.Stdout = outW
	} else {
		cmd.Stdout, _ = os.OpenFile(os.DevNull, os.O_RDWR, 0)
	}
	if errW != nil {
		cmd.Stderr = errW
	} else {
		cmd.Stderr, _ = os.OpenFile(os.DevNull, os.O_RDWR, 0)
	}
	if err := cmd.Start(); err != nil {
		return 0, err
	}
	pid := cmd.Process.Pid
	if s.st != nil {
		rec := store.Record{
			Name:      svc.Name,
			PID:       pid,
			Port:      svc.Port,
			StartUnix: detector.ProcStartUnix(pid),
		}
		if err := s.st.Record(context.Background(), rec); err != nil {
			s.logger.Warn("recording handle failed", "service", svc.Name, "error", err)
		}
	}
	// The child outlives this process; the monitor goroutine only reaps.
	go func() { _ = cmd.Wait() }()
	return pid, nil
}

func (s *Supervisor) waitReady(ctx context.Context, svc service.Descriptor) bool {
	deadline := time.Now().Add(s.startTimeout)
	for time.Now().Before(deadline) {
		if s.prober.IsAlive(ctx, svc) {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(500 * time.Millisecond):
		}
	}
	return false
}

// ServiceStop reports the termination of one service.
type ServiceStop struct {
	Service string `json:"service"`
	PIDs    []int  `json:"pids"`
	Source  Source `json:"source,omitempty"`
}

// StopResult summarizes one stop operation.
type StopResult struct {
	Graceful bool          `json:"graceful"`
	Session  *DrainSession `json:"-"`
	Outcome  drain.Outcome `json:"drain_outcome,omitempty"`
	Elapsed  time.Duration `json:"elapsed"`
	Services []ServiceStop `json:"services"`
	State    State         `json:"-"`
}

// Drained reports whether the backend completed its drain.
func (r *StopResult) Drained() bool { return r.Outcome == drain.OutcomeCompleted }

// Stop drives the stop state machine. With graceful set it probes the
// backend, requests a drain, and watches the log for completion before
// terminating; every failure along that path falls through to the same
// terminateAll, so the operation always ends in StateStopped. Stopping
// an already-stopped pair is a successful no-op.
func (s *Supervisor) Stop(ctx context.Context, graceful bool) (*StopResult, error) {
	if !s.stopMu.TryLock() {
		return nil, ErrStopInProgress
	}
	defer s.stopMu.Unlock()

	start := time.Now()
	s.setState(StateRunning)
	res := &StopResult{Graceful: graceful}
	mode := "forced"
	if graceful {
		mode = "graceful"
	}

	if graceful && s.backend.Drainable() {
		s.drainBackend(ctx, res)
	}

	s.setState(StateStopping)
	res.Services = s.terminateAll(ctx, mode)
	s.setState(StateStopped)

	res.Elapsed = time.Since(start)
	res.State = s.State()
	return res, nil
}

// drainBackend runs Running -> DrainRequested -> Draining and settles in
// DrainComplete or DrainTimedOut. Any failure leaves the machine ready
// for the Stopping transition; nothing here can fail the overall stop.
func (s *Supervisor) drainBackend(ctx context.Context, res *StopResult) {
	svc := s.backend
	if !s.prober.IsAlive(ctx, svc) {
		// Nothing to drain; go straight to termination.
		s.logger.Info("backend not answering health check, skipping drain", "service", svc.Name)
		return
	}
	s.setState(StateDrainRequested)
	ack, err := s.requester.RequestDrain(ctx, svc)
	s.emit(ctx, history.EventDrainRequested, svc.Name, 0, ack.Message)
	if err != nil {
		metrics.IncDrainRequest("unreachable")
		s.logger.Warn("drain request not acknowledged, terminating directly",
			"service", svc.Name, "error", err)
		return
	}
	metrics.IncDrainRequest("acknowledged")
	s.logger.Info("drain acknowledged", "service", svc.Name,
		"status", ack.Status, "message", ack.Message)

	s.setState(StateDraining)
	session := newDrainSession(ack)
	res.Session = session
	obsRes := s.observer.Observe(ctx, s.backendLogPath())
	session.conclude(obsRes)
	res.Outcome = obsRes.Outcome
	metrics.IncDrainOutcome(string(obsRes.Outcome))
	metrics.ObserveDrainWait(obsRes.Elapsed)

	if obsRes.Outcome == drain.OutcomeCompleted {
		s.setState(StateDrainComplete)
		s.emit(ctx, history.EventDrainCompleted, svc.Name, 0, session.LastLine)
		s.logger.Info("drain completed", "service", svc.Name,
			"elapsed", obsRes.Elapsed.Round(time.Second))
		return
	}
	s.setState(StateDrainTimedOut)
	s.emit(ctx, history.EventDrainTimedOut, svc.Name, 0, "")
	s.logger.Warn("drain timed out, forcing termination", "service", svc.Name,
		"elapsed", obsRes.Elapsed.Round(time.Second))
}

// backendLogPath returns the log sink the observer should watch: the
// descriptor's explicit log path, else the captured stdout file.
func (s *Supervisor) backendLogPath() string {
	if s.backend.LogPath != "" {
		return s.backend.LogPath
	}
	return s.backend.Log.StdoutFile(s.backend.Name)
}

// terminateAll resolves and signals every managed service exactly once
// and clears recorded handles. It is the single terminal action all
// state-machine branches reach. Per-process signal errors are logged
// and ignored: the postcondition is "best-effort all known processes
// signaled", not "all processes provably dead".
func (s *Supervisor) terminateAll(ctx context.Context, mode string) []ServiceStop {
	stops := make([]ServiceStop, 0, 2)
	for _, svc := range s.services() {
		handles := s.resolve(ctx, svc)
		stop := ServiceStop{Service: svc.Name}
		for _, h := range handles {
			stop.Source = h.Source
			if err := s.signaler.Terminate(h.PID); err != nil {
				s.logger.Warn("signal delivery failed", "service", svc.Name,
					"pid", h.PID, "error", err)
				continue
			}
			stop.PIDs = append(stop.PIDs, h.PID)
		}
		s.escalate(handles)
		if s.st != nil {
			if err := s.st.Delete(ctx, svc.Name); err != nil {
				s.logger.Debug("clearing recorded handle failed", "service", svc.Name, "error", err)
			}
		}
		if len(handles) == 0 {
			s.logger.Info("service already stopped", "service", svc.Name)
		} else {
			s.logger.Info("service terminated", "service", svc.Name, "pids", stop.PIDs)
		}
		metrics.IncStop(svc.Name, mode)
		s.emit(ctx, history.EventStop, svc.Name, firstPID(handles), mode)
		stops = append(stops, stop)
	}
	return stops
}

// escalate waits up to killDelay for the signaled processes to exit and
// sends the forced signal to survivors.
func (s *Supervisor) escalate(handles []ProcessHandle) {
	if len(handles) == 0 {
		return
	}
	deadline := time.Now().Add(s.killDelay)
	for time.Now().Before(deadline) {
		if !s.anyAlive(handles) {
			return
		}
		time.Sleep(100 * time.Millisecond)
	}
	for _, h := range handles {
		if s.signaler.Alive(h.PID, 0) {
			s.logger.Warn("process survived graceful signal, killing",
				"service", h.Service, "pid", h.PID)
			_ = s.signaler.Kill(h.PID)
		}
	}
}

func (s *Supervisor) anyAlive(handles []ProcessHandle) bool {
	for _, h := range handles {
		if s.signaler.Alive(h.PID, 0) {
			return true
		}
	}
	return false
}

func firstPID(handles []ProcessHandle) int {
	if len(handles) == 0 {
		return 0
	}
	return handles[0].PID
}

// ServiceStatus reports the observed state of one service.
type ServiceStatus struct {
	Service string          `json:"service"`
	Port    int             `json:"port"`
	Alive   bool            `json:"alive"`
	Handles []ProcessHandle `json:"handles,omitempty"`
}

// Status probes both services without mutating anything.
func (s *Supervisor) Status(ctx context.Context) []ServiceStatus {
	out := make([]ServiceStatus, 0, 2)
	for _, svc := range s.services() {
		st := ServiceStatus{Service: svc.Name, Port: svc.Port}
		if svc.HealthPath != "" {
			st.Alive = s.prober.IsAlive(ctx, svc)
		}
		st.Handles = s.resolve(ctx, svc)
		if svc.HealthPath == "" {
			st.Alive = len(st.Handles) > 0
		}
		out = append(out, st)
	}
	return out
}
