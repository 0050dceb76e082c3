package gateway

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

// AcquireLock enforces one running gateway per state directory. force takes
// the lock over from a previous owner, live or not.
func AcquireLock(stateDir string, force bool) (release func(), err error) {
	dir := expandHome(stateDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}
	path := filepath.Join(dir, "gateway.lock")

	if data, err := os.ReadFile(path); err == nil && !force {
		if pid, perr := strconv.Atoi(strings.TrimSpace(string(data))); perr == nil && processAlive(pid) {
			return nil, fmt.Errorf("another gateway is running (pid %d); use --force to take over", pid)
		}
	}

	if err := os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644); err != nil {
		return nil, fmt.Errorf("write lock file: %w", err)
	}
	return func() { os.Remove(path) }, nil
}

func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}
