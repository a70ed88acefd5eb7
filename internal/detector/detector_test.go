//go:build !windows

package detector

import (
	"net"
	"os"
	"testing"
)

func TestPIDAlive(t *testing.T) {
	if !PIDAlive(os.Getpid()) {
		t.Fatalf("own PID must be alive")
	}
	if PIDAlive(0) || PIDAlive(-1) {
		t.Fatalf("non-positive PIDs are never alive")
	}
}

func TestPIDDetectorSelf(t *testing.T) {
	d := PIDDetector{PID: os.Getpid()}
	ok, err := d.Alive()
	if err != nil || !ok {
		t.Fatalf("expected alive, got %v/%v", ok, err)
	}
	if d.Describe() == "" {
		t.Fatalf("empty description")
	}
}

func TestPIDDetectorRejectsReusedPID(t *testing.T) {
	start := ProcStartUnix(os.Getpid())
	if start <= 0 {
		t.Skip("process start time unavailable on this platform")
	}
	// A recorded start time that does not match the live process means
	// the PID was recycled since the handle was stored.
	d := PIDDetector{PID: os.Getpid(), StartUnix: start - 100000}
	ok, err := d.Alive()
	if err != nil {
		t.Fatalf("alive: %v", err)
	}
	if ok {
		t.Fatalf("mismatched start time must not count as alive")
	}
}

func TestPortOwnersFindsOwnListener(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = ln.Close() }()
	port := ln.Addr().(*net.TCPAddr).Port

	pids, err := PortOwners(port)
	if err != nil {
		t.Fatalf("port owners: %v", err)
	}
	// Socket enumeration may need elevated privileges to attribute PIDs;
	// only assert when attribution worked at all.
	if len(pids) == 0 {
		t.Skip("socket enumeration returned no owner (insufficient privileges?)")
	}
	found := false
	for _, pid := range pids {
		if pid == os.Getpid() {
			found = true
		}
	}
	if !found {
		t.Fatalf("own listener on %d not attributed to this process: %v", port, pids)
	}
}

func TestPortDetectorFreePort(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	_ = ln.Close()

	ok, err := PortDetector{Port: port}.Alive()
	if err != nil {
		t.Fatalf("alive: %v", err)
	}
	if ok {
		t.Fatalf("released port must have no owner")
	}
}
