package coordinator

import (
	"fmt"
	"testing"
)

func TestQueueCapacity(t *testing.T) {
	q := NewActionQueue(QueueCapacity)
	for i := range QueueCapacity {
		if !q.Enqueue(NewAction(ActionSet, fmt.Sprintf("dev%d", i), NewPayload(Document{"state": "ON"}, nil))) {
			t.Fatalf("Enqueue %d failed", i)
		}
	}
	extra := NewAction(ActionSet, "dev10", NewPayload(Document{"state": "ON"}, nil))
	if q.Enqueue(extra) {
		t.Fatal("11th Enqueue succeeded")
	}
	if extra.Payload.Released() {
		t.Error("rejected payload released; caller keeps ownership")
	}
	if q.Len() != QueueCapacity {
		t.Errorf("Len = %d", q.Len())
	}
}

func TestQueueFIFO(t *testing.T) {
	q := NewActionQueue(3)
	for _, target := range []string{"a", "b", "c"} {
		q.Enqueue(NewAction(ActionGet, target, NewPayload(Document{}, nil)))
	}
	for _, want := range []string{"a", "b", "c"} {
		a, ok := q.TryDequeue()
		if !ok || a.Target != want {
			t.Fatalf("TryDequeue = %v, %v; want %s", a, ok, want)
		}
	}
	if _, ok := q.TryDequeue(); ok {
		t.Error("TryDequeue on empty queue succeeded")
	}
}

func TestQueueRejectsInvalid(t *testing.T) {
	q := NewActionQueue(2)
	if q.Enqueue(NewAction(ActionSet, "", NewPayload(Document{}, nil))) {
		t.Error("empty target accepted")
	}
	if q.Enqueue(NewAction(ActionSet, "dev", nil)) {
		t.Error("nil payload accepted")
	}
	if q.Enqueue(nil) {
		t.Error("nil action accepted")
	}
	if q.Len() != 0 {
		t.Errorf("Len = %d", q.Len())
	}
}

func TestActionIDsUnique(t *testing.T) {
	a := NewAction(ActionSet, "x", NewPayload(Document{}, nil))
	b := NewAction(ActionSet, "x", NewPayload(Document{}, nil))
	if a.ID == b.ID {
		t.Error("duplicate action ids")
	}
}

func TestPayloadReleaseOnce(t *testing.T) {
	calls := 0
	p := NewPayload(Document{"a": 1}, func() { calls++ })
	if p.Document() == nil {
		t.Fatal("Document nil before release")
	}
	if !p.Release() {
		t.Fatal("first Release returned false")
	}
	if p.Release() {
		t.Error("second Release returned true")
	}
	if calls != 1 {
		t.Errorf("release hook ran %d times", calls)
	}
	if p.Document() != nil {
		t.Error("Document not nil after release")
	}
}

func TestParseActionKind(t *testing.T) {
	for _, k := range []ActionKind{ActionSet, ActionGet, ActionPermitJoin, ActionRemoveDevice} {
		got, err := ParseActionKind(k.String())
		if err != nil || got != k {
			t.Errorf("ParseActionKind(%q) = %v, %v", k.String(), got, err)
		}
	}
	if _, err := ParseActionKind("reboot"); err == nil {
		t.Error("expected error for unknown kind")
	}
}
