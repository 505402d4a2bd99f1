package relay

import (
	"context"
	"strings"
	"testing"

	"github.com/chatwire/chatwire/proc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConsoleForwarderForwardsLines(t *testing.T) {
	w := &fakeWriter{}
	f := NewConsoleForwarder(w, strings.NewReader("stop\nsay hi\n"))

	go f.Run(context.Background())
	require.NoError(t, f.Wait(context.Background()))

	assert.Equal(t, []string{"stop", "say hi"}, w.written())
}

func TestConsoleForwarderDiscardsAfterProcessDeath(t *testing.T) {
	w := &fakeWriter{err: proc.ErrStdinClosed}
	f := NewConsoleForwarder(w, strings.NewReader("stop\nstop\nstop\n"))

	go f.Run(context.Background())
	require.NoError(t, f.Wait(context.Background()))

	// input is consumed to EOF, nothing reaches the dead process
	assert.Empty(t, w.written())
}
