package gateway

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"
)

func TestAcquireLock(t *testing.T) {
	dir := t.TempDir()
	release, err := AcquireLock(dir, false)
	if err != nil {
		t.Fatal(err)
	}

	// Our own pid is alive, so a second acquire must fail.
	if _, err := AcquireLock(dir, false); err == nil {
		t.Error("second acquire succeeded while lock held")
	}

	// Force takes the lock over.
	release2, err := AcquireLock(dir, true)
	if err != nil {
		t.Fatalf("force acquire: %v", err)
	}
	release2()
	release()
}

func TestAcquireLockStalePid(t *testing.T) {
	dir := t.TempDir()
	// Pid 0 is never a live process from our perspective.
	if err := os.WriteFile(filepath.Join(dir, "gateway.lock"), []byte("0"), 0o644); err != nil {
		t.Fatal(err)
	}
	release, err := AcquireLock(dir, false)
	if err != nil {
		t.Fatalf("stale lock blocked acquire: %v", err)
	}
	defer release()

	data, err := os.ReadFile(filepath.Join(dir, "gateway.lock"))
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != strconv.Itoa(os.Getpid()) {
		t.Errorf("lock file pid = %s", data)
	}
}
