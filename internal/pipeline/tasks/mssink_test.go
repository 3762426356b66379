package tasks

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSubstitutePathExpandsPlaceholders(t *testing.T) {
	now := time.Date(2026, 7, 31, 14, 5, 9, 0, time.UTC)
	got := substitutePath("/data/rank%w/%d-%t.ms", 3, now)
	assert.Equal(t, "/data/rank3/20260731-140509.ms", got)
}

func TestSubstitutePathLeavesUnknownVerbsAlone(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	got := substitutePath("/data/%x/scan", 0, now)
	assert.Equal(t, "/data/%x/scan", got)
}
