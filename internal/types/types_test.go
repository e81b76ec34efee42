package types

import (
	"errors"
	"fmt"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestJobStatusIsTerminal(t *testing.T) {
	assert.False(t, StatusPending.IsTerminal())
	assert.False(t, StatusProcessing.IsTerminal())
	assert.True(t, StatusCompleted.IsTerminal())
	assert.True(t, StatusFailed.IsTerminal())
	assert.True(t, StatusCanceled.IsTerminal())
}

func TestJobShortID(t *testing.T) {
	j := &Job{ID: "12345678-90ab-cdef-1234-567890abcdef"}
	assert.Equal(t, "90abcdef", j.ShortID())
	assert.Len(t, j.ShortID(), 8)

	tiny := &Job{ID: "abc"}
	assert.Equal(t, "abc", tiny.ShortID())
}

func TestJobHasTool(t *testing.T) {
	j := &Job{Tools: []Tool{ToolWebSearch}}
	assert.True(t, j.HasTool(ToolWebSearch))
	assert.False(t, j.HasTool(ToolFileSearch))
}

func TestTokenUsageTotal(t *testing.T) {
	u := TokenUsage{Input: 100, Output: 200, Reasoning: 50}
	assert.Equal(t, int64(350), u.Total())
}

func TestErrorTaxonomy(t *testing.T) {
	cause := errors.New("socket closed")
	err := NewError(ErrProviderTransient, "poll failed", cause)

	assert.Equal(t, ErrProviderTransient, KindOf(err))
	assert.True(t, IsKind(err, ErrProviderTransient))
	assert.False(t, IsKind(err, ErrBudgetDenied))
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "provider_transient")
	assert.Contains(t, err.Error(), "socket closed")
}

func TestKindOfSurvivesWrapping(t *testing.T) {
	inner := Errorf(ErrQueueConflict, "job state changed concurrently")
	wrapped := fmt.Errorf("enqueue: %w", inner)
	assert.Equal(t, ErrQueueConflict, KindOf(wrapped))
	assert.True(t, IsKind(wrapped, ErrQueueConflict))
}

func TestKindOfUnclassifiedIsStateCorruption(t *testing.T) {
	assert.Equal(t, ErrStateCorruption, KindOf(errors.New("who knows")))
}

func TestBudgetDeniedCarriesRemaining(t *testing.T) {
	err := BudgetDeniedError("daily budget exhausted", decimal.RequireFromString("3.25"))
	assert.True(t, IsKind(err, ErrBudgetDenied))

	var e *Error
	assert.True(t, errors.As(err, &e))
	assert.True(t, e.Remaining.Equal(decimal.RequireFromString("3.25")))
}
