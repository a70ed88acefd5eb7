package detector

import (
	"fmt"
	"sort"

	gnet "github.com/shirou/gopsutil/v4/net"
)

// PortOwners returns the deduplicated PIDs of processes listening on the
// given TCP port. PID 0 (kernel-owned or unresolvable) entries are
// excluded. An empty slice with nil error means nobody owns the port.
// Multiple owners are possible (e.g. a parent and its worker children);
// callers must signal all of them.
func PortOwners(port int) ([]int, error) {
	conns, err := gnet.Connections("tcp")
	if err != nil {
		return nil, fmt.Errorf("enumerate tcp sockets: %w", err)
	}
	seen := make(map[int]struct{})
	var pids []int
	for _, c := range conns {
		if c.Status != "LISTEN" || c.Laddr.Port != uint32(port) {
			continue
		}
		pid := int(c.Pid)
		if pid <= 0 {
			continue
		}
		if _, ok := seen[pid]; ok {
			continue
		}
		seen[pid] = struct{}{}
		pids = append(pids, pid)
	}
	sort.Ints(pids)
	return pids, nil
}

// PortDetector reports a service alive when some process listens on Port.
type PortDetector struct{ Port int }

func (d PortDetector) Alive() (bool, error) {
	pids, err := PortOwners(d.Port)
	if err != nil {
		return false, err
	}
	return len(pids) > 0, nil
}

func (d PortDetector) Describe() string { return fmt.Sprintf("port:%d", d.Port) }
