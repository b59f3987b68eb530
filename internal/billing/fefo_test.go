package billing

import (
	"errors"
	"testing"
	"time"

	"dcmart/backend/internal/domain"
)

var fefoToday = time.Date(2025, time.March, 10, 14, 30, 0, 0, time.UTC)

func datedBatch(id string, daysFromToday int, onHand float64, createdAt time.Time) domain.Batch {
	expiry := time.Date(2025, time.March, 10+daysFromToday, 0, 0, 0, 0, time.UTC)
	return domain.Batch{
		ID:        id,
		ProductID: "prod-milk",
		Expiry:    &expiry,
		UnitCost:  0.3,
		OnHand:    onHand,
		CreatedAt: createdAt,
	}
}

func TestEvaluateBatchExpiryFlags(t *testing.T) {
	createdAt := fefoToday.AddDate(0, 0, -30)

	tests := []struct {
		name        string
		days        int
		wantExpired bool
		wantNear    bool
	}{
		{"expired yesterday", -1, true, false},
		{"expires today", 0, false, true},
		{"one day left", 1, false, true},
		{"seven days left", 7, false, true},
		{"eight days left", 8, false, false},
		{"long dated", 120, false, false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			evaluated := EvaluateBatch(datedBatch("b1", tc.days, 10, createdAt), fefoToday)
			if evaluated.IsExpired != tc.wantExpired {
				t.Fatalf("IsExpired = %t, want %t", evaluated.IsExpired, tc.wantExpired)
			}
			if evaluated.IsNearExpiry != tc.wantNear {
				t.Fatalf("IsNearExpiry = %t, want %t", evaluated.IsNearExpiry, tc.wantNear)
			}
			if evaluated.DaysToExpiry == nil || *evaluated.DaysToExpiry != tc.days {
				t.Fatalf("DaysToExpiry = %v, want %d", evaluated.DaysToExpiry, tc.days)
			}
		})
	}
}

func TestEvaluateBatchWithoutExpiry(t *testing.T) {
	batch := domain.Batch{ID: "b-dry", ProductID: "prod-rice", OnHand: 5000, CreatedAt: fefoToday.AddDate(0, -1, 0)}

	evaluated := EvaluateBatch(batch, fefoToday)
	if evaluated.IsExpired || evaluated.IsNearExpiry {
		t.Fatalf("undated batch must be neither expired nor near-expiry: %+v", evaluated)
	}
	if evaluated.DaysToExpiry != nil {
		t.Fatalf("undated batch must have no DaysToExpiry, got %d", *evaluated.DaysToExpiry)
	}
}

func TestEvaluateBatchStripsTimeOfDay(t *testing.T) {
	// Expiry late tonight still counts as day zero, not expired.
	expiry := time.Date(2025, time.March, 10, 23, 59, 0, 0, time.UTC)
	batch := domain.Batch{ID: "b-today", Expiry: &expiry, OnHand: 3}

	evaluated := EvaluateBatch(batch, fefoToday)
	if evaluated.IsExpired {
		t.Fatalf("batch expiring today must not be expired")
	}
	if evaluated.DaysToExpiry == nil || *evaluated.DaysToExpiry != 0 {
		t.Fatalf("expected DaysToExpiry 0, got %v", evaluated.DaysToExpiry)
	}
}

func TestSelectFEFOBatchPrefersEarliestExpiry(t *testing.T) {
	createdAt := fefoToday.AddDate(0, 0, -10)
	batches := []domain.Batch{
		datedBatch("late", 30, 10, createdAt),
		datedBatch("soon", 2, 10, createdAt),
		datedBatch("mid", 14, 10, createdAt),
	}

	selected, err := SelectFEFOBatch(batches, 1, fefoToday)
	if err != nil {
		t.Fatalf("SelectFEFOBatch failed: %v", err)
	}
	if selected.ID != "soon" {
		t.Fatalf("expected earliest-expiry batch, got %s", selected.ID)
	}
}

func TestSelectFEFOBatchSkipsExpiredAndEmpty(t *testing.T) {
	createdAt := fefoToday.AddDate(0, 0, -10)
	batches := []domain.Batch{
		datedBatch("expired", -2, 10, createdAt),
		datedBatch("empty", 1, 0, createdAt),
		datedBatch("ok", 20, 10, createdAt),
	}

	selected, err := SelectFEFOBatch(batches, 1, fefoToday)
	if err != nil {
		t.Fatalf("SelectFEFOBatch failed: %v", err)
	}
	if selected.ID != "ok" {
		t.Fatalf("expected the only valid batch, got %s", selected.ID)
	}
}

func TestSelectFEFOBatchTreatsReservedAsUnavailable(t *testing.T) {
	createdAt := fefoToday.AddDate(0, 0, -10)
	fullyReserved := datedBatch("reserved", 2, 10, createdAt)
	fullyReserved.Reserved = 10

	selected, err := SelectFEFOBatch([]domain.Batch{
		fullyReserved,
		datedBatch("free", 5, 10, createdAt),
	}, 1, fefoToday)
	if err != nil {
		t.Fatalf("SelectFEFOBatch failed: %v", err)
	}
	if selected.ID != "free" {
		t.Fatalf("fully reserved batch must be skipped, got %s", selected.ID)
	}
}

func TestSelectFEFOBatchDatedBeforeUndated(t *testing.T) {
	undated := domain.Batch{ID: "undated", OnHand: 10, CreatedAt: fefoToday.AddDate(0, 0, -90)}
	dated := datedBatch("dated", 60, 10, fefoToday.AddDate(0, 0, -1))

	selected, err := SelectFEFOBatch([]domain.Batch{undated, dated}, 1, fefoToday)
	if err != nil {
		t.Fatalf("SelectFEFOBatch failed: %v", err)
	}
	if selected.ID != "dated" {
		t.Fatalf("dated batch must win over undated regardless of age, got %s", selected.ID)
	}
}

func TestSelectFEFOBatchTieBreaksByCreation(t *testing.T) {
	older := datedBatch("older", 5, 10, fefoToday.AddDate(0, 0, -20))
	newer := datedBatch("newer", 5, 10, fefoToday.AddDate(0, 0, -1))

	selected, err := SelectFEFOBatch([]domain.Batch{newer, older}, 1, fefoToday)
	if err != nil {
		t.Fatalf("SelectFEFOBatch failed: %v", err)
	}
	if selected.ID != "older" {
		t.Fatalf("same expiry must pick the oldest receipt, got %s", selected.ID)
	}
}

func TestSelectFEFOBatchNoneAvailable(t *testing.T) {
	createdAt := fefoToday.AddDate(0, 0, -10)
	_, err := SelectFEFOBatch([]domain.Batch{
		datedBatch("expired", -5, 10, createdAt),
		datedBatch("empty", 3, 0, createdAt),
	}, 1, fefoToday)
	if !errors.Is(err, ErrNoBatchAvailable) {
		t.Fatalf("expected ErrNoBatchAvailable, got %v", err)
	}
}

func TestCalculateMarkdownSteps(t *testing.T) {
	createdAt := fefoToday.AddDate(0, 0, -10)

	tests := []struct {
		days int
		want float64
	}{
		{0, 30},
		{1, 30},
		{2, 20},
		{3, 20},
		{4, 10},
		{7, 10},
		{8, 0},
		{30, 0},
	}

	for _, tc := range tests {
		evaluated := EvaluateBatch(datedBatch("b", tc.days, 10, createdAt), fefoToday)
		if got := CalculateMarkdown(evaluated, 100); got != tc.want {
			t.Fatalf("days=%d: markdown = %v, want %v", tc.days, got, tc.want)
		}
	}
}

func TestCalculateMarkdownIgnoresExpiredAndUndated(t *testing.T) {
	createdAt := fefoToday.AddDate(0, 0, -10)

	expired := EvaluateBatch(datedBatch("exp", -1, 10, createdAt), fefoToday)
	if got := CalculateMarkdown(expired, 100); got != 0 {
		t.Fatalf("expired batch must not get a markdown, got %v", got)
	}

	undated := EvaluateBatch(domain.Batch{ID: "u", OnHand: 5}, fefoToday)
	if got := CalculateMarkdown(undated, 100); got != 0 {
		t.Fatalf("undated batch must not get a markdown, got %v", got)
	}
}
