package tasks

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTaskCompleteAndWait(t *testing.T) {
	r := NewRegistry()
	task := r.Start("sess", nil)

	go func() {
		time.Sleep(10 * time.Millisecond)
		task.Complete("result text", nil)
	}()

	out, status, err := task.Wait(context.Background(), true)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, status)
	assert.Equal(t, "result text", out)
}

func TestTaskPollWithoutBlock(t *testing.T) {
	r := NewRegistry()
	task := r.Start("sess", nil)

	out, status, err := task.Wait(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, status)
	assert.Empty(t, out)

	task.Complete("done", nil)
	out, status, err = task.Wait(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, status)
	assert.Equal(t, "done", out)
}

func TestTaskDoubleCompleteIsNoop(t *testing.T) {
	r := NewRegistry()
	task := r.Start("sess", nil)
	task.Complete("first", nil)
	task.Complete("second", nil)
	out, _ := task.Result()
	assert.Equal(t, "first", out)
}

func TestTaskCancel(t *testing.T) {
	r := NewRegistry()
	ctx, cancel := context.WithCancel(context.Background())
	task := r.Start("sess", cancel)
	task.Cancel()
	assert.Error(t, ctx.Err())
	assert.Equal(t, StatusCancelled, task.Status())
}

func TestRegistryGetAndRemove(t *testing.T) {
	r := NewRegistry()
	task := r.Start("sess", nil)

	got, err := r.Get(task.ID)
	require.NoError(t, err)
	assert.Equal(t, task.ID, got.ID)

	r.Remove(task.ID)
	_, err = r.Get(task.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCancelAll(t *testing.T) {
	r := NewRegistry()
	t1 := r.Start("s1", nil)
	t2 := r.Start("s2", nil)
	r.CancelAll()
	assert.Equal(t, StatusCancelled, t1.Status())
	assert.Equal(t, StatusCancelled, t2.Status())
}

func TestWaitHonorsContext(t *testing.T) {
	r := NewRegistry()
	task := r.Start("sess", nil)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, _, err := task.Wait(ctx, true)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
