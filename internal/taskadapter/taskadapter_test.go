package taskadapter

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	sdtx "github.com/surface-linux/surface-dtx"
	"github.com/surface-linux/surface-dtx/internal/config"
	"github.com/surface-linux/surface-dtx/internal/core"
	"github.com/surface-linux/surface-dtx/internal/handler"
	"github.com/surface-linux/surface-dtx/internal/taskqueue"
)

func newAdapter(capacity int) (*Adapter, *taskqueue.Queue) {
	q := taskqueue.New(capacity)
	cfg := config.Handler{Attach: config.HandlerAttach{Delay: 0.01}}
	r := handler.NewRunner(cfg, "")
	return New(q, r), q
}

func TestAttachmentStartSubmitsJobWithNilDevice(t *testing.T) {
	a, q := newAdapter(4)

	err := a.AttachmentStart(core.AttachHandle{})
	require.NoError(t, err)
	q.Close()

	assert.NoError(t, q.Run(context.Background()))
}

func TestSubmitReturnsRuntimeErrorWhenQueueFull(t *testing.T) {
	a, q := newAdapter(1)
	block := make(chan struct{})
	require.NoError(t, q.Submit(func(context.Context) error {
		<-block
		return nil
	}))

	err := a.AttachmentStart(core.AttachHandle{})
	require.Error(t, err)
	assert.True(t, sdtx.IsKind(err, sdtx.KindRuntime))

	close(block)
	q.Close()
	assert.NoError(t, q.Run(context.Background()))
}
