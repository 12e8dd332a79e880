package job

import (
	"fmt"
	"sync"
	"time"
)

// LogBuffer is an append-only buffer of log lines produced by research runs.
// Writers append whole lines; any number of concurrent readers take
// point-in-time snapshots via Tail without blocking appends for long.
// When maxLines > 0 the buffer keeps only the most recent maxLines lines.
type LogBuffer struct {
	mu       sync.RWMutex
	lines    []string
	maxLines int
}

// NewLogBuffer creates a LogBuffer. maxLines = 0 keeps every line for the
// life of the buffer.
func NewLogBuffer(maxLines int) *LogBuffer {
	return &LogBuffer{maxLines: maxLines}
}

// Append adds one line to the buffer, evicting the oldest lines when the
// retention cap is exceeded.
func (b *LogBuffer) Append(line string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lines = append(b.lines, line)
	if b.maxLines > 0 && len(b.lines) > b.maxLines {
		// Shift in place so the backing array does not grow without bound.
		n := copy(b.lines, b.lines[len(b.lines)-b.maxLines:])
		b.lines = b.lines[:n]
	}
}

// Appendf formats a line with a timestamp and level prefix and appends it.
func (b *LogBuffer) Appendf(level, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	b.Append(fmt.Sprintf("%s %s %s", time.Now().Format("2006-01-02 15:04:05"), level, msg))
}

// Tail returns up to n of the most recent lines, oldest first. n <= 0 returns
// all buffered lines. The returned slice is a copy.
func (b *LogBuffer) Tail(n int) []string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	start := 0
	if n > 0 && len(b.lines) > n {
		start = len(b.lines) - n
	}
	out := make([]string, len(b.lines)-start)
	copy(out, b.lines[start:])
	return out
}

// Len returns the number of buffered lines.
func (b *LogBuffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.lines)
}
