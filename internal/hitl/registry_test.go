package hitl

import (
	"testing"
	"time"
)

func TestCreateAndResolve(t *testing.T) {
	r := NewRegistry()
	id := r.Create(Pending{
		ToolName:    "GMAIL_SEND_EMAIL",
		Parameters:  map[string]any{"to": "a@b.com"},
		Description: "Send email to a@b.com",
		WorkspaceID: "T100",
	})
	if id == "" {
		t.Fatal("empty action id")
	}

	p, ok := r.Resolve(id)
	if !ok {
		t.Fatal("first resolve returned nothing")
	}
	if p.ToolName != "GMAIL_SEND_EMAIL" || p.WorkspaceID != "T100" {
		t.Errorf("resolved wrong record: %+v", p)
	}

	if _, ok := r.Resolve(id); ok {
		t.Error("second resolve returned the record again")
	}
}

func TestGetDoesNotConsume(t *testing.T) {
	r := NewRegistry()
	id := r.Create(Pending{ToolName: "LINEAR_DELETE_ISSUE"})

	if _, ok := r.Get(id); !ok {
		t.Fatal("Get missed live entry")
	}
	if _, ok := r.Resolve(id); !ok {
		t.Error("Resolve failed after Get")
	}
}

func TestExpiredEntriesInaccessible(t *testing.T) {
	r := NewRegistry()
	base := time.Now()
	r.now = func() time.Time { return base }

	id := r.Create(Pending{ToolName: "GMAIL_SEND_EMAIL"})

	r.now = func() time.Time { return base.Add(TTL + time.Second) }
	if _, ok := r.Get(id); ok {
		t.Error("expired entry still readable")
	}
	if _, ok := r.Resolve(id); ok {
		t.Error("expired entry still resolvable")
	}
	if r.Len() != 0 {
		t.Errorf("len = %d after expiry, want 0", r.Len())
	}
}

func TestUnknownID(t *testing.T) {
	r := NewRegistry()
	if _, ok := r.Resolve("nope"); ok {
		t.Error("unknown id resolved")
	}
}
