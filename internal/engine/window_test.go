package engine

import (
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestWindowFiresAtThreshold(t *testing.T) {
	agg := NewAggregator()
	ruleID := uuid.New()
	base := time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)

	_, fire := agg.RecordAndCount(ruleID, "SM1", base, 3, 10*time.Minute, false)
	assert.False(t, fire)
	_, fire = agg.RecordAndCount(ruleID, "SM2", base.Add(time.Minute), 3, 10*time.Minute, false)
	assert.False(t, fire)
	members, fire := agg.RecordAndCount(ruleID, "SM3", base.Add(2*time.Minute), 3, 10*time.Minute, false)
	assert.True(t, fire, "third event within the window crosses the threshold")
	assert.Equal(t, 3, members)
}

func TestWindowSpreadBeyondSpanNeverFires(t *testing.T) {
	agg := NewAggregator()
	ruleID := uuid.New()
	base := time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)

	// Three events spread over 30 minutes against a 10 minute window.
	for i := 0; i < 3; i++ {
		_, fire := agg.RecordAndCount(ruleID, fmt.Sprintf("SM%d", i), base.Add(time.Duration(i)*15*time.Minute), 3, 10*time.Minute, false)
		assert.False(t, fire)
	}
}

func TestWindowEdgeTriggered(t *testing.T) {
	agg := NewAggregator()
	ruleID := uuid.New()
	base := time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)

	agg.RecordAndCount(ruleID, "SM1", base, 2, 10*time.Minute, false)
	_, fire := agg.RecordAndCount(ruleID, "SM2", base.Add(time.Minute), 2, 10*time.Minute, false)
	assert.True(t, fire)

	// Still at-or-above threshold: a sustained burst must not retrigger.
	_, fire = agg.RecordAndCount(ruleID, "SM3", base.Add(2*time.Minute), 2, 10*time.Minute, false)
	assert.False(t, fire)
	_, fire = agg.RecordAndCount(ruleID, "SM4", base.Add(3*time.Minute), 2, 10*time.Minute, false)
	assert.False(t, fire)

	// Far enough out that earlier entries expire and the count dips below
	// the threshold, then a fresh burst fires again.
	_, fire = agg.RecordAndCount(ruleID, "SM5", base.Add(30*time.Minute), 2, 10*time.Minute, false)
	assert.False(t, fire)
	_, fire = agg.RecordAndCount(ruleID, "SM6", base.Add(31*time.Minute), 2, 10*time.Minute, false)
	assert.True(t, fire, "rule re-arms after the window drains")
}

func TestWindowExampleSequence(t *testing.T) {
	// Threshold 3 in 500ms: events at t=0, 100, 200 match at 200; an event
	// at t=700 finds the others expired and does not match.
	agg := NewAggregator()
	ruleID := uuid.New()
	base := time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)

	_, fire := agg.RecordAndCount(ruleID, "SM1", base, 3, 500*time.Millisecond, false)
	assert.False(t, fire)
	_, fire = agg.RecordAndCount(ruleID, "SM2", base.Add(100*time.Millisecond), 3, 500*time.Millisecond, false)
	assert.False(t, fire)
	_, fire = agg.RecordAndCount(ruleID, "SM3", base.Add(200*time.Millisecond), 3, 500*time.Millisecond, false)
	assert.True(t, fire)

	members, fire := agg.RecordAndCount(ruleID, "SM4", base.Add(700*time.Millisecond), 3, 500*time.Millisecond, false)
	assert.False(t, fire)
	assert.Equal(t, 2, members, "entries at t=0 and t=100 expired")
}

func TestWindowOutOfOrderTimestamps(t *testing.T) {
	// Parallel workers can deliver events out of timestamp order. An entry
	// that expired must be evicted even when a fresher entry sits behind it
	// in arrival order.
	agg := NewAggregator()
	ruleID := uuid.New()
	base := time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)

	agg.RecordAndCount(ruleID, "SM1", base.Add(700*time.Millisecond), 3, 500*time.Millisecond, false)
	agg.RecordAndCount(ruleID, "SM2", base.Add(100*time.Millisecond), 3, 500*time.Millisecond, false)
	members, fire := agg.RecordAndCount(ruleID, "SM3", base.Add(800*time.Millisecond), 3, 500*time.Millisecond, false)
	assert.False(t, fire, "only two events fall inside the trailing window")
	assert.Equal(t, 2, members)

	// A fourth event inside the window completes the threshold.
	_, fire = agg.RecordAndCount(ruleID, "SM4", base.Add(900*time.Millisecond), 3, 500*time.Millisecond, false)
	assert.True(t, fire)
}

func TestWindowIgnoresRepeatedIdentifier(t *testing.T) {
	agg := NewAggregator()
	ruleID := uuid.New()
	base := time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)

	agg.RecordAndCount(ruleID, "SM1", base, 2, 10*time.Minute, false)
	members, fire := agg.RecordAndCount(ruleID, "SM1", base.Add(time.Second), 2, 10*time.Minute, false)
	assert.False(t, fire, "the same event reprocessed must not advance the count")
	assert.Equal(t, 1, members)
}

func TestWindowClearOnMatch(t *testing.T) {
	agg := NewAggregator()
	ruleID := uuid.New()
	base := time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)

	agg.RecordAndCount(ruleID, "SM1", base, 2, 10*time.Minute, true)
	_, fire := agg.RecordAndCount(ruleID, "SM2", base.Add(time.Second), 2, 10*time.Minute, true)
	assert.True(t, fire)

	// The window was emptied, so the next pair fires again.
	agg.RecordAndCount(ruleID, "SM3", base.Add(2*time.Second), 2, 10*time.Minute, true)
	_, fire = agg.RecordAndCount(ruleID, "SM4", base.Add(3*time.Second), 2, 10*time.Minute, true)
	assert.True(t, fire)
}

func TestWindowMemoryBoundedByThreshold(t *testing.T) {
	agg := NewAggregator()
	ruleID := uuid.New()
	base := time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 10000; i++ {
		agg.RecordAndCount(ruleID, fmt.Sprintf("SM%d", i), base.Add(time.Duration(i)*time.Millisecond), 5, time.Hour, false)
	}
	w := agg.window(ruleID)
	assert.LessOrEqual(t, len(w.entries), 5)
}

func TestWindowsIndependentAcrossRules(t *testing.T) {
	agg := NewAggregator()
	ruleA := uuid.New()
	ruleB := uuid.New()
	base := time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)

	agg.RecordAndCount(ruleA, "SM1", base, 2, 10*time.Minute, false)
	_, fire := agg.RecordAndCount(ruleA, "SM2", base.Add(time.Second), 2, 10*time.Minute, false)
	assert.True(t, fire)

	// Rule B saw only one event; its window is untouched by rule A.
	members, fire := agg.RecordAndCount(ruleB, "SM2", base.Add(time.Second), 2, 10*time.Minute, false)
	assert.False(t, fire)
	assert.Equal(t, 1, members)
}

func TestPruneDropsStaleWindows(t *testing.T) {
	agg := NewAggregator()
	kept := uuid.New()
	removed := uuid.New()
	base := time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)

	agg.RecordAndCount(kept, "SM1", base, 3, 10*time.Minute, false)
	agg.RecordAndCount(removed, "SM1", base, 2, 10*time.Minute, false)
	agg.Prune(map[uuid.UUID]struct{}{kept: {}})

	// The removed rule starts from scratch; the kept rule retains its state.
	members, fire := agg.RecordAndCount(removed, "SM2", base.Add(time.Second), 2, 10*time.Minute, false)
	assert.False(t, fire)
	assert.Equal(t, 1, members)

	members, _ = agg.RecordAndCount(kept, "SM2", base.Add(time.Second), 3, 10*time.Minute, false)
	assert.Equal(t, 2, members)
}
