package coordinator

import (
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// QueueCapacity is the default action queue size.
const QueueCapacity = 10

// Special action targets.
const (
	TargetGroup       = "group"
	TargetCoordinator = "coordinator"
)

// ActionKind selects what the consumer does with an action.
type ActionKind uint8

const (
	ActionSet ActionKind = iota + 1
	ActionGet
	ActionPermitJoin
	ActionRemoveDevice
)

func (k ActionKind) String() string {
	switch k {
	case ActionSet:
		return "set"
	case ActionGet:
		return "get"
	case ActionPermitJoin:
		return "permit_join"
	case ActionRemoveDevice:
		return "remove"
	}
	return fmt.Sprintf("action(%d)", uint8(k))
}

// ParseActionKind accepts the names returned by ActionKind.String.
func ParseActionKind(s string) (ActionKind, error) {
	switch strings.ToLower(s) {
	case "set":
		return ActionSet, nil
	case "get":
		return ActionGet, nil
	case "permit_join", "permitjoin":
		return ActionPermitJoin, nil
	case "remove", "remove_device":
		return ActionRemoveDevice, nil
	}
	return 0, fmt.Errorf("unknown action %q", s)
}

// Document is a structured JSON-style document exchanged with producers and
// sinks.
type Document = map[string]any

// Payload is an action document with single ownership. Release drops the
// document and runs the release hook exactly once.
type Payload struct {
	doc       Document
	released  atomic.Bool
	onRelease func()
}

// NewPayload wraps doc. onRelease may be nil.
func NewPayload(doc Document, onRelease func()) *Payload {
	return &Payload{doc: doc, onRelease: onRelease}
}

// Document returns the document, or nil after Release.
func (p *Payload) Document() Document {
	if p.released.Load() {
		return nil
	}
	return p.doc
}

// Release frees the payload. It returns false when already released.
func (p *Payload) Release() bool {
	if !p.released.CompareAndSwap(false, true) {
		return false
	}
	p.doc = nil
	if p.onRelease != nil {
		p.onRelease()
	}
	return true
}

// Released reports whether Release has run.
func (p *Payload) Released() bool { return p.released.Load() }

// Action is one queued command.
type Action struct {
	ID       uuid.UUID
	Kind     ActionKind
	Target   string // IEEE address, TargetGroup or TargetCoordinator
	Payload  *Payload
	Enqueued time.Time
}

// NewAction builds an action with a fresh ID.
func NewAction(kind ActionKind, target string, payload *Payload) *Action {
	return &Action{ID: uuid.New(), Kind: kind, Target: target, Payload: payload}
}

// ActionQueue is a bounded FIFO between many producers and one consumer.
type ActionQueue struct {
	ch chan *Action
}

// NewActionQueue returns a queue holding at most capacity actions.
func NewActionQueue(capacity int) *ActionQueue {
	if capacity <= 0 {
		capacity = QueueCapacity
	}
	return &ActionQueue{ch: make(chan *Action, capacity)}
}

// Enqueue adds a without blocking. It fails when the queue is full or the
// action has no target or payload; the caller then keeps ownership.
func (q *ActionQueue) Enqueue(a *Action) bool {
	if a == nil || a.Target == "" || a.Payload == nil {
		return false
	}
	if a.Enqueued.IsZero() {
		a.Enqueued = time.Now()
	}
	select {
	case q.ch <- a:
		return true
	default:
		return false
	}
}

// TryDequeue returns the oldest action without blocking. The caller owns
// the action and must release its payload.
func (q *ActionQueue) TryDequeue() (*Action, bool) {
	select {
	case a := <-q.ch:
		return a, true
	default:
		return nil, false
	}
}

// Len returns the number of queued actions.
func (q *ActionQueue) Len() int { return len(q.ch) }

// Cap returns the queue capacity.
func (q *ActionQueue) Cap() int { return cap(q.ch) }
