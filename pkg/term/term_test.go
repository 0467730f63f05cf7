package term

import (
	"bytes"
	"strconv"
	"strings"
	"testing"

	"github.com/muesli/termenv"
	"github.com/stretchr/testify/assert"
)

func TestOutput(t *testing.T) {
	tests := []struct {
		msg, output string
		profile     termenv.Profile
	}{
		{"Hello, World!", "Hello, World!", termenv.Ascii},
		{"Hello, World!\n", "Hello, World!\n", termenv.Ascii},
		{"", "", termenv.Ascii},
		{"Hello, World!", "\x1b[95mHello, World!\x1b[0m", termenv.ANSI},
		{"Hello, World!\n", "\x1b[95mHello, World!\n\x1b[0m", termenv.ANSI},
		{"", "", termenv.ANSI},
	}

	for i, test := range tests {
		t.Run(strconv.Itoa(i), func(t *testing.T) {
			var buf strings.Builder
			out := termenv.NewOutput(&buf)
			out.Profile = test.profile
			if _, err := output(out, InfoColor, test.msg); err != nil {
				t.Errorf("output(out, InfoColor, %q) results in error: %v", test.msg, err)
			}
			if buf.String() != test.output {
				t.Errorf("output(out, InfoColor, %q) = %q, want %q", test.msg, buf.String(), test.output)
			}
		})
	}
}

func TestPrefixes(t *testing.T) {
	var stdout, stderr bytes.Buffer
	tt := NewTerm(&stdout, &stderr)
	tt.ForceColor(false)

	tt.Info("synthesizing")
	tt.Warnf("bucket %s", "x")
	tt.Debug("hidden")
	tt.Error("boom")

	assert.Equal(t, " * synthesizing\n ! bucket x\n", stdout.String())
	assert.Equal(t, "boom\n", stderr.String())

	tt.SetDebug(true)
	tt.Debugf("shown %d", 1)
	assert.Contains(t, stdout.String(), " - shown 1\n")
}

func TestFlushWarnings(t *testing.T) {
	var stdout, stderr bytes.Buffer
	tt := NewTerm(&stdout, &stderr)
	tt.ForceColor(false)

	tt.Warn("b")
	tt.Warn("a")
	tt.Warn("b")
	assert.True(t, tt.HadWarnings())
	stdout.Reset()

	if _, err := tt.FlushWarnings(); err != nil {
		t.Fatal(err)
	}
	assert.Equal(t, " ! a\n ! b\n", stdout.String())
	assert.False(t, tt.HadWarnings())
}

func TestEnsurePrefix(t *testing.T) {
	assert.Equal(t, "", ensurePrefix("", " * "))
	assert.Equal(t, " * x", ensurePrefix("x", " * "))
	assert.Equal(t, " * x", ensurePrefix(" * x", " * "))
}
