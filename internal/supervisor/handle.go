package supervisor

import (
	"context"

	"github.com/loykin/stackctl/internal/service"
	"github.com/loykin/stackctl/internal/store"
)

// Source records how a process handle was obtained.
type Source string

const (
	// SourceRecorded means the handle was read from the persisted store.
	SourceRecorded Source = "recorded"
	// SourceDiscovered means the handle was resolved via port ownership.
	SourceDiscovered Source = "discovered"
)

// ProcessHandle identifies a live process of a managed service. A handle
// is valid only as long as the PID still owns the declared port;
// staleness is tolerated because signaling a dead PID is a no-op.
type ProcessHandle struct {
	Service string `json:"service"`
	PID     int    `json:"pid"`
	Source  Source `json:"source"`
}

// resolve finds the live process handles for a service. Resolution
// order: recorded handle from the store (validated against PID liveness
// and start time), then port-owner discovery. An empty result means the
// service is already stopped, which is never an error.
func (s *Supervisor) resolve(ctx context.Context, svc service.Descriptor) []ProcessHandle {
	if s.st != nil {
		rec, err := s.st.GetByName(ctx, svc.Name)
		if err == nil && s.signaler.Alive(rec.PID, rec.StartUnix) {
			return []ProcessHandle{{Service: svc.Name, PID: rec.PID, Source: SourceRecorded}}
		}
		if err != nil && err != store.ErrNotFound {
			s.logger.Debug("handle store read failed", "service", svc.Name, "error", err)
		}
	}
	pids, err := s.portOwners(svc.Port)
	if err != nil {
		s.logger.Debug("port owner lookup failed", "service", svc.Name, "port", svc.Port, "error", err)
		return nil
	}
	handles := make([]ProcessHandle, 0, len(pids))
	for _, pid := range pids {
		handles = append(handles, ProcessHandle{Service: svc.Name, PID: pid, Source: SourceDiscovered})
	}
	return handles
}
