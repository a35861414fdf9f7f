package log

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func capture(t *testing.T, level Level) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	SetOutput(&buf)
	SetLevel(level)
	t.Cleanup(func() {
		SetOutput(&bytes.Buffer{})
		SetLevel(LevelInfo)
	})
	return &buf
}

func TestLevelFiltering(t *testing.T) {
	buf := capture(t, LevelWarn)

	Info("[Test] hidden")
	Warn("[Test] shown", "event_id", 7)

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, `level=WARN msg="[Test] shown" event_id=7`)
}

func TestErrorCarriesErr(t *testing.T) {
	buf := capture(t, LevelDebug)

	Error("[Test] failed", errors.New("disk full"), "op", "insert")

	assert.Contains(t, buf.String(), `level=ERROR msg="[Test] failed" err="disk full" op=insert`)
}

func TestOddKVDropped(t *testing.T) {
	buf := capture(t, LevelDebug)

	Debug("[Test] odd", "a", 1, "dangling", 2, 3)

	out := buf.String()
	assert.Contains(t, out, `msg="[Test] odd" a=1 dangling=2`+"\n")
	assert.NotContains(t, out, "BADKEY")
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, LevelDebug, ParseLevel("debug"))
	assert.Equal(t, LevelWarn, ParseLevel(" WARN "))
	assert.Equal(t, LevelInfo, ParseLevel("verbose"))
}
