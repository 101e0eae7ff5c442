package utils

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestWaitForConditionImmediate(t *testing.T) {
	res := WaitForCondition(context.Background(),
		time.Millisecond, 100*time.Millisecond,
		func() bool { return true })
	assert.True(t, res.Satisfied)
	assert.Less(t, res.Elapsed, 100*time.Millisecond)
}

func TestWaitForConditionEventually(t *testing.T) {
	var calls atomic.Int32
	res := WaitForCondition(context.Background(),
		time.Millisecond, time.Second,
		func() bool { return calls.Add(1) >= 3 })
	assert.True(t, res.Satisfied)
	assert.GreaterOrEqual(t, calls.Load(), int32(3))
}

func TestWaitForConditionTimeout(t *testing.T) {
	res := WaitForCondition(context.Background(),
		time.Millisecond, 10*time.Millisecond,
		func() bool { return false })
	assert.False(t, res.Satisfied)
	assert.GreaterOrEqual(t, res.Elapsed, 10*time.Millisecond)
}

func TestWaitForConditionCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res := WaitForCondition(ctx,
		time.Millisecond, time.Hour,
		func() bool { return false })
	assert.False(t, res.Satisfied)
	assert.Less(t, res.Elapsed, time.Second)
}
