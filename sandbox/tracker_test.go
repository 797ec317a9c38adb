package sandbox

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOutputTrackerLineCeiling(t *testing.T) {
	tracker := NewOutputTracker(5, 1024)

	for i := 0; i < 10; i++ {
		tracker.Append(fmt.Sprintf("line %d", i))
	}

	assert.Equal(t, 5, tracker.LineCount())
	assert.True(t, tracker.Truncated())
	assert.Equal(t, 5, tracker.TruncatedAt().Lines)
	assert.Equal(t, tracker.ByteCount(), tracker.TruncatedAt().Bytes)
	assert.Equal(t, "line 0\nline 1\nline 2\nline 3\nline 4", tracker.Output())
}

func TestOutputTrackerByteCeiling(t *testing.T) {
	tracker := NewOutputTracker(100, 10)

	tracker.Append("12345")
	tracker.Append("678")
	assert.False(t, tracker.Truncated())

	// Would exceed the byte ceiling; dropped whole
	tracker.Append("abcdef")
	assert.True(t, tracker.Truncated())
	assert.Equal(t, 2, tracker.LineCount())
	assert.Equal(t, 8, tracker.ByteCount())
	assert.Equal(t, TruncationPoint{Lines: 2, Bytes: 8}, tracker.TruncatedAt())
}

func TestOutputTrackerTruncationIsMonotonic(t *testing.T) {
	tracker := NewOutputTracker(1, 1024)

	tracker.Append("first")
	tracker.Append("second")
	cutoff := tracker.TruncatedAt()

	// Nothing appended after truncation changes any recorded state
	tracker.Append("third")
	tracker.Append("fourth")

	assert.True(t, tracker.Truncated())
	assert.Equal(t, cutoff, tracker.TruncatedAt())
	assert.Equal(t, 1, tracker.LineCount())
	assert.Equal(t, "first", tracker.Output())
}

func TestOutputTrackerWriteSplitsChunks(t *testing.T) {
	tracker := NewOutputTracker(10, 1024)

	tracker.Write("one\ntwo\n")
	tracker.Write("three")

	assert.Equal(t, 3, tracker.LineCount())
	assert.Equal(t, "one\ntwo\nthree", tracker.Output())
}

func TestOutputTrackerEmpty(t *testing.T) {
	tracker := NewOutputTracker(10, 1024)

	assert.Equal(t, "", tracker.Output())
	assert.Equal(t, 0, tracker.LineCount())
	assert.Equal(t, 0, tracker.ByteCount())
	assert.False(t, tracker.Truncated())
}
