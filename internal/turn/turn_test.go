package turn

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHappyPath(t *testing.T) {
	o := New()
	assert.Equal(t, StatePlan, o.State())

	assert.True(t, o.Transition(StateAct))
	assert.True(t, o.Transition(StateVerify))
	assert.True(t, o.Transition(StatePublish))
	assert.True(t, o.Terminal())
}

func TestIllegalEdgesRefused(t *testing.T) {
	o := New()

	// Skipping ahead, going backwards, and self-loops are all refused.
	assert.False(t, o.Transition(StateVerify))
	assert.False(t, o.Transition(StatePublish))
	assert.False(t, o.Transition(StatePlan))
	assert.Equal(t, StatePlan, o.State())

	require.True(t, o.Transition(StateAct))
	assert.False(t, o.Transition(StateAct))
	assert.False(t, o.Transition(StatePlan))
	assert.Equal(t, StateAct, o.State())
}

func TestErrorOnlyViaForce(t *testing.T) {
	o := New()
	assert.False(t, o.Transition(StateError))
	assert.Equal(t, StatePlan, o.State())

	o.Force(StateError, map[string]interface{}{"cause": "cancelled"})
	assert.Equal(t, StateError, o.State())
	assert.True(t, o.Terminal())
}

func TestForceFromAnyState(t *testing.T) {
	for _, start := range []State{StatePlan, StateAct, StateVerify} {
		o := New()
		for o.State() != start {
			require.True(t, o.Transition(legalEdges[o.State()]))
		}
		o.Force(StateError, nil)
		assert.Equal(t, StateError, o.State())
	}
}

func TestCheckpointsAppendOnly(t *testing.T) {
	o := New()
	o.Transition(StateAct)
	o.Transition(StateVerify)
	o.Force(StateError, map[string]interface{}{"cause": "test"})

	cps := o.Checkpoints()
	require.Len(t, cps, 4)
	assert.Equal(t, "plan", cps[0].State)
	assert.Equal(t, "act", cps[1].State)
	assert.Equal(t, "verify", cps[2].State)
	assert.Equal(t, "error", cps[3].State)
	assert.Equal(t, true, cps[3].Meta["forced"])

	for i := 1; i < len(cps); i++ {
		assert.False(t, cps[i].At.Before(cps[i-1].At))
	}
}

func TestRefusedTransitionLeavesNoCheckpoint(t *testing.T) {
	o := New()
	before := len(o.Checkpoints())
	o.Transition(StatePublish)
	assert.Equal(t, before, len(o.Checkpoints()))
}

func TestCheckpointsAreACopy(t *testing.T) {
	o := New()
	cps := o.Checkpoints()
	cps[0].State = "tampered"
	assert.Equal(t, "plan", o.Checkpoints()[0].State)
}

func TestIDsUnique(t *testing.T) {
	assert.NotEqual(t, New().ID(), New().ID())
}
