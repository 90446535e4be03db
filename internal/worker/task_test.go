package worker

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestCompactionTaskProgress(t *testing.T) {
	task := NewCompactionTask(nil, 7, 100, nil, nil, zap.NewNop())

	task.beginAttempt()
	task.advance(40)
	task.advance(20)
	assert.Equal(t, int64(40), task.CompactionInfo().BytesComplete())
	assert.Equal(t, int64(20), task.attemptBytes())

	// a retry starts over but the snapshot holds the previous mark
	task.beginAttempt()
	assert.Equal(t, int64(0), task.attemptBytes())
	assert.Equal(t, int64(40), task.CompactionInfo().BytesComplete())

	task.advance(30)
	assert.Equal(t, int64(40), task.CompactionInfo().BytesComplete())
	assert.Equal(t, int64(30), task.attemptBytes())

	task.advance(70)
	assert.Equal(t, int64(70), task.CompactionInfo().BytesComplete())
	assert.Equal(t, "COMPACTION@7(null, null, 70/100)", task.CompactionInfo().String())
}
