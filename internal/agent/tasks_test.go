package agent

import (
	"strings"
	"testing"
	"time"
)

func TestTaskBoardLifecycle(t *testing.T) {
	b := NewTaskBoard()
	task := b.Start("T100", "C1", "", "summarize the inbox", nil)
	if task.State != StatePending {
		t.Errorf("state = %s", task.State)
	}

	b.SetState(task.ID, StateWorking)
	active := b.Active("T100")
	if len(active) != 1 || active[0].State != StateWorking {
		t.Errorf("active = %+v", active)
	}

	b.SetState(task.ID, StateDone)
	if got := b.Active("T100"); len(got) != 0 {
		t.Errorf("done task still active: %+v", got)
	}
}

func TestTaskBoardWorkspaceIsolation(t *testing.T) {
	b := NewTaskBoard()
	b.Start("T100", "C1", "", "task a", nil)
	b.Start("T200", "C2", "", "task b", nil)
	if got := b.Active("T100"); len(got) != 1 || got[0].Description != "task a" {
		t.Errorf("cross-workspace leak: %+v", got)
	}
}

func TestStatusLines(t *testing.T) {
	b := NewTaskBoard()
	base := time.Now().Add(-5 * time.Second)
	b.now = func() time.Time { return base }
	task := b.Start("T100", "C1", "", "drafting the weekly report", nil)
	b.now = time.Now
	b.SetState(task.ID, StateWorking)

	lines := b.StatusLines("T100")
	if !strings.Contains(lines, "• drafting the weekly report — working (") {
		t.Errorf("lines = %q", lines)
	}
	if b.StatusLines("T999") != "" {
		t.Error("status for idle workspace not empty")
	}
}

func TestCancelPrefersThreadMatch(t *testing.T) {
	b := NewTaskBoard()
	cancelledA := false
	cancelledB := false
	b.Start("T100", "C1", "111.222", "task in thread", func() { cancelledA = true })
	b.Start("T100", "C1", "", "task without thread", func() { cancelledB = true })

	got := b.Cancel("T100", "111.222")
	if got == nil || got.Description != "task in thread" {
		t.Fatalf("cancelled %+v", got)
	}
	if !cancelledA || cancelledB {
		t.Errorf("cancel funcs: a=%v b=%v", cancelledA, cancelledB)
	}
	if got.State != StateCancelled {
		t.Errorf("state = %s", got.State)
	}
}

func TestCancelNewestWithoutThread(t *testing.T) {
	b := NewTaskBoard()
	base := time.Now()
	b.now = func() time.Time { return base }
	b.Start("T100", "C1", "", "older", nil)
	b.now = func() time.Time { return base.Add(time.Second) }
	b.Start("T100", "C1", "", "newer", nil)

	got := b.Cancel("T100", "")
	if got == nil || got.Description != "newer" {
		t.Errorf("cancelled %+v", got)
	}
}

func TestCancelNothingRunning(t *testing.T) {
	b := NewTaskBoard()
	if got := b.Cancel("T100", ""); got != nil {
		t.Errorf("cancelled phantom task %+v", got)
	}
}
