package mclog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	cases := []struct {
		line    string
		label   string
		content string
		err     error
	}{
		{line: "[__:__:__] [A] [TEST1]: content", label: "TEST1", content: "content"},
		{line: "[__:__:__] [B] [TEST2]: A", label: "TEST2", content: "A"},
		{line: "[__:__:__] [] [TEST2]: A", label: "TEST2", content: "A"},
		{line: "[12:34:56] [Server thread/INFO] [minecraft/DedicatedServer]: Done (13.5s)! For help, type \"help\"", label: "minecraft/DedicatedServer", content: "Done (13.5s)! For help, type \"help\""},
		{line: "[__:__:__] [] [TEST3]: ", err: ErrNoContent},
		{line: "[__:__:__] [] [", err: ErrNoLabelStart},
		{line: "[__:__:__] [] [abcdefg", err: ErrNoLabelEnd},
		{line: "[__:__:__] ", err: ErrTooShort},
		{line: "A__:__:__] [] [", err: ErrInvalidFormat},
		{line: "[__:__:__] [no closing bracket", err: ErrNoSrcSegment},
	}
	for _, c := range cases {
		label, content, err := Parse(c.line)
		if c.err != nil {
			assert.ErrorIs(t, err, c.err, "line %q", c.line)
			continue
		}
		require.NoError(t, err, "line %q", c.line)
		assert.Equal(t, c.label, label)
		assert.Equal(t, c.content, content)
	}
}
