package pipeline

import (
	"log/slog"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newPipe(t *testing.T) (*os.File, *os.File) {
	t.Helper()
	r, w, err := os.Pipe()
	require.NoError(t, err)
	return r, w
}

func TestFdTableReleaseByStage(t *testing.T) {
	fds := &fdTable{logger: slog.New(slog.DiscardHandler)}
	r0, w0 := newPipe(t)
	r1, w1 := newPipe(t)
	fds.add(w0, 0, "pipe 0 write end")
	fds.add(r0, 1, "pipe 0 read end")
	fds.add(w1, 1, "pipe 1 write end")
	fds.add(r1, 2, "pipe 1 read end")
	require.Equal(t, 4, fds.open())

	require.NoError(t, fds.release(1))
	assert.Equal(t, 2, fds.open())
	_, err := r0.Stat()
	assert.ErrorIs(t, err, os.ErrClosed)
	_, err = w1.Stat()
	assert.ErrorIs(t, err, os.ErrClosed)
	_, err = w0.Stat()
	assert.NoError(t, err, "stage 0's descriptor is still held")

	require.NoError(t, fds.release(1), "releasing twice is harmless")
	require.NoError(t, fds.closeAll())
	assert.Equal(t, 0, fds.open())
	_, err = r1.Stat()
	assert.ErrorIs(t, err, os.ErrClosed)
}

func TestFdTableCloseAllAfterPartialRelease(t *testing.T) {
	fds := &fdTable{logger: slog.New(slog.DiscardHandler)}
	r, w := newPipe(t)
	fds.add(w, 0, "w")
	fds.add(r, 1, "r")

	require.NoError(t, fds.release(0))
	require.NoError(t, fds.closeAll())
	assert.Equal(t, 0, fds.open())
}
