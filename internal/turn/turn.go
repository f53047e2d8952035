// Package turn tracks the lifecycle of a single conversation turn through a
// small state machine with an append-only checkpoint log. The log is purely
// diagnostic; nothing reads it to make decisions.
package turn

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"codewarden/internal/logging"
	"codewarden/internal/types"
)

// State is a lifecycle phase of a turn.
type State string

const (
	StatePlan    State = "plan"
	StateAct     State = "act"
	StateVerify  State = "verify"
	StatePublish State = "publish"
	StateError   State = "error"
)

// legalEdges holds the allowed forward transitions. Error is deliberately
// absent; it is only reachable through Force.
var legalEdges = map[State]State{
	StatePlan:   StateAct,
	StateAct:    StateVerify,
	StateVerify: StatePublish,
}

// Orchestrator is the state machine for one turn.
type Orchestrator struct {
	mu          sync.Mutex
	id          string
	state       State
	checkpoints []types.Checkpoint
}

// New creates an orchestrator in the plan state with a fresh turn ID.
func New() *Orchestrator {
	o := &Orchestrator{
		id:    uuid.NewString(),
		state: StatePlan,
	}
	o.record(StatePlan, map[string]interface{}{"initial": true})
	return o
}

// ID returns the turn's unique identifier.
func (o *Orchestrator) ID() string { return o.id }

// State returns the current state.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Transition attempts a normal transition. Illegal edges are refused with a
// false return and no state change; this never panics.
func (o *Orchestrator) Transition(next State) bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	if legalEdges[o.state] != next {
		logging.TurnDebug("Refused transition %s -> %s (turn %s)", o.state, next, o.id)
		return false
	}
	o.state = next
	o.record(next, nil)
	logging.Turn("Turn %s: %s", o.id, next)
	return true
}

// Force moves to a state bypassing legality checks. Used for cancellation
// and exceptions; typically the target is error.
func (o *Orchestrator) Force(next State, meta map[string]interface{}) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.state = next
	if meta == nil {
		meta = map[string]interface{}{}
	}
	meta["forced"] = true
	o.record(next, meta)
	logging.Turn("Turn %s: forced to %s", o.id, next)
}

// record appends a checkpoint. Callers hold the lock.
func (o *Orchestrator) record(state State, meta map[string]interface{}) {
	o.checkpoints = append(o.checkpoints, types.Checkpoint{
		State: string(state),
		At:    time.Now(),
		Meta:  meta,
	})
}

// Checkpoints returns a copy of the checkpoint log.
func (o *Orchestrator) Checkpoints() []types.Checkpoint {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]types.Checkpoint, len(o.checkpoints))
	copy(out, o.checkpoints)
	return out
}

// Terminal reports whether the turn has resolved.
func (o *Orchestrator) Terminal() bool {
	s := o.State()
	return s == StatePublish || s == StateError
}
