package worker

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestProgress_Line(t *testing.T) {
	p := NewProgress(4, false)

	p.Update(1, 4, 0)
	assert.Equal(t, "[=====               ] 1/4 sources", p.Line())

	p.Update(2, 4, 1)
	assert.Contains(t, p.Line(), "2/4 sources (1 failed)")
	assert.NotContains(t, p.Line(), "done")
}

func TestProgress_PrintAndDone(t *testing.T) {
	var buf bytes.Buffer
	p := NewProgress(2, true)
	p.output = &buf

	p.Update(2, 2, 0)
	assert.True(t, strings.HasPrefix(buf.String(), "\r[===================="))

	buf.Reset()
	p.Done()
	assert.Contains(t, buf.String(), "done in")
	assert.True(t, strings.HasSuffix(buf.String(), "\n"))
}

func TestProgress_Disabled(t *testing.T) {
	var buf bytes.Buffer
	p := NewProgress(10, false)
	p.output = &buf

	p.Update(5, 10, 0)
	p.Done()

	assert.Zero(t, buf.Len())
}

func TestProgress_Summary(t *testing.T) {
	p := NewProgress(3, false)
	cb := p.Callback()
	cb(3, 3, 2)
	p.Record(Result{Task: Task{SourceID: "zeta"}, Err: errors.New("timeout")})
	p.Record(Result{Task: Task{SourceID: "alpha"}, Err: errors.New("404")})
	p.Record(Result{Task: Task{SourceID: "ok"}})

	lines := strings.Split(p.Summary(), "\n")
	if assert.Len(t, lines, 3) {
		assert.True(t, strings.HasPrefix(lines[0], "Loaded 1/3 sources (2 failed)"))
		assert.Equal(t, "  alpha: 404", lines[1])
		assert.Equal(t, "  zeta: timeout", lines[2])
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		expected string
		duration time.Duration
	}{
		{duration: 250 * time.Millisecond, expected: "250ms"},
		{duration: 30 * time.Second, expected: "30s"},
		{duration: 90 * time.Second, expected: "1m30s"},
		{duration: 65 * time.Minute, expected: "65m0s"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			assert.Equal(t, tt.expected, formatDuration(tt.duration))
		})
	}
}
