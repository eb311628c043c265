package agentloop

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventEmitterDropsWhenFull(t *testing.T) {
	e := NewEventEmitter("run-1", 2)
	e.Emit(EventRunStart, nil)
	e.Emit(EventIteration, map[string]interface{}{"iteration": 1})
	e.Emit(EventIteration, map[string]interface{}{"iteration": 2})
	assert.Equal(t, 1, e.Dropped())

	e.Close()
	e.Close()
	e.Emit(EventRunEnd, nil)

	var got []Event
	for ev := range e.Events() {
		got = append(got, ev)
	}
	require.Len(t, got, 2)
	assert.Equal(t, EventRunStart, got[0].Kind)
	assert.Equal(t, "run-1", got[1].RunID)
	assert.Equal(t, 1, got[1].Data["iteration"])
}
