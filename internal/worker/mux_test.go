package worker

import (
	"context"
	"errors"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMuxRoutesAndPropagatesErrors(t *testing.T) {
	m := NewMux()
	var got []string
	m.HandleFunc("a", func(_ context.Context, task *asynq.Task) error {
		got = append(got, string(task.Payload()))
		return nil
	})
	boom := errors.New("boom")
	m.HandleFunc("b", func(context.Context, *asynq.Task) error { return boom })

	require.NoError(t, m.Mux().ProcessTask(context.Background(), asynq.NewTask("a", []byte("x"))))
	assert.ErrorIs(t, m.Mux().ProcessTask(context.Background(), asynq.NewTask("b", nil)), boom)
	assert.Equal(t, []string{"x"}, got)
	assert.Error(t, m.Mux().ProcessTask(context.Background(), asynq.NewTask("unknown", nil)))
}
