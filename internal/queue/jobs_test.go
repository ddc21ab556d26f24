package queue

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewSweepTask(t *testing.T) {
	task := NewSweepTask()
	// The worker registers its handler under SweepStorageTask; the startup
	// enqueue and the periodic schedule both build the task here, so the
	// type name must line up or the janitor never runs.
	assert.Equal(t, SweepStorageTask, task.Type())
	assert.Empty(t, task.Payload())
}
