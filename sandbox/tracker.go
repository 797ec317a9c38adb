package sandbox

import "strings"

// TruncationPoint records the line and byte counts at the moment output
// capture stopped accepting further data.
type TruncationPoint struct {
	Lines int `json:"lines"`
	Bytes int `json:"bytes"`
}

// OutputTracker accumulates every line one execution emits, truncating
// deterministically once either the line-count ceiling or the byte-count
// ceiling is reached. Once truncated it never accepts another line; anything
// the script writes afterwards is silently dropped. One tracker is owned by
// exactly one execution and is never shared across calls.
type OutputTracker struct {
	maxLines int
	maxBytes int

	lines       []string
	bytes       int
	truncated   bool
	truncatedAt TruncationPoint
}

// NewOutputTracker creates a tracker with the given ceilings.
func NewOutputTracker(maxLines, maxBytes int) *OutputTracker {
	return &OutputTracker{
		maxLines: maxLines,
		maxBytes: maxBytes,
		lines:    make([]string, 0, 16),
	}
}

// Append captures one line of output. The first line that would exceed
// either ceiling flips the tracker into the truncated state instead of being
// captured, recording the counts at the cutoff.
func (t *OutputTracker) Append(line string) {
	if t.truncated {
		return
	}
	if len(t.lines) >= t.maxLines || t.bytes+len(line) > t.maxBytes {
		t.truncated = true
		t.truncatedAt = TruncationPoint{Lines: len(t.lines), Bytes: t.bytes}
		return
	}
	t.lines = append(t.lines, line)
	t.bytes += len(line)
}

// Write captures a raw stream chunk, splitting it into lines. A single
// trailing newline is not treated as an extra empty line.
func (t *OutputTracker) Write(chunk string) {
	for _, line := range strings.Split(strings.TrimSuffix(chunk, "\n"), "\n") {
		t.Append(line)
	}
}

// Output returns the captured lines joined with newlines.
func (t *OutputTracker) Output() string {
	return strings.Join(t.lines, "\n")
}

// LineCount returns the number of captured lines.
func (t *OutputTracker) LineCount() int { return len(t.lines) }

// ByteCount returns the total bytes captured.
func (t *OutputTracker) ByteCount() int { return t.bytes }

// Truncated reports whether capture stopped before the script finished
// writing.
func (t *OutputTracker) Truncated() bool { return t.truncated }

// TruncatedAt returns the line/byte counts at the cutoff. Only meaningful
// when Truncated is true.
func (t *OutputTracker) TruncatedAt() TruncationPoint { return t.truncatedAt }
