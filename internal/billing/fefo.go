package billing

import (
	"errors"
	"math"
	"slices"
	"time"

	"dcmart/backend/internal/domain"
)

// ErrNoBatchAvailable is returned when no non-expired batch with available
// stock exists for automatic selection.
var ErrNoBatchAvailable = errors.New("no batch available")

// Near-expiry window and markdown thresholds, in calendar days remaining.
const (
	nearExpiryDays = 7

	markdownLastDayPct  = 30
	markdownThreeDayPct = 20
	markdownWeekPct     = 10
)

// dateOnly reduces a timestamp to its calendar date, anchored at UTC midnight
// so that differences between two dates are exact multiples of 24 hours.
func dateOnly(t time.Time) time.Time {
	year, month, day := t.Date()
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

// EvaluateBatch classifies one batch against today. Time-of-day is stripped
// from both sides so the comparison works in whole calendar days.
func EvaluateBatch(batch domain.Batch, today time.Time) domain.EvaluatedBatch {
	evaluated := domain.EvaluatedBatch{Batch: batch}

	if batch.Expiry == nil {
		return evaluated
	}

	expiry := dateOnly(*batch.Expiry)
	midnight := dateOnly(today)
	days := int(math.Ceil(expiry.Sub(midnight).Hours() / 24))
	evaluated.DaysToExpiry = &days

	if days < 0 {
		evaluated.IsExpired = true
	} else if days <= nearExpiryDays {
		evaluated.IsNearExpiry = true
	}

	return evaluated
}

// EvaluateBatches classifies every batch against today.
func EvaluateBatches(batches []domain.Batch, today time.Time) []domain.EvaluatedBatch {
	evaluated := make([]domain.EvaluatedBatch, 0, len(batches))
	for _, batch := range batches {
		evaluated = append(evaluated, EvaluateBatch(batch, today))
	}
	return evaluated
}

// SelectFEFOBatch picks the batch a sale should draw from: available stock
// only, expired batches excluded (expired stock needs an explicit override),
// dated batches before undated, earliest expiry first, ties broken by oldest
// receipt. qtyNeeded does not influence selection; a line always draws from
// exactly one batch, with no split allocation.
func SelectFEFOBatch(batches []domain.Batch, qtyNeeded float64, today time.Time) (domain.Batch, error) {
	_ = qtyNeeded

	candidates := make([]domain.EvaluatedBatch, 0, len(batches))
	for _, batch := range batches {
		if batch.Available() <= 0 {
			continue
		}
		evaluated := EvaluateBatch(batch, today)
		if evaluated.IsExpired {
			continue
		}
		candidates = append(candidates, evaluated)
	}

	if len(candidates) == 0 {
		return domain.Batch{}, ErrNoBatchAvailable
	}

	slices.SortFunc(candidates, compareBatchFEFO)
	return candidates[0].Batch, nil
}

func compareBatchFEFO(a domain.EvaluatedBatch, b domain.EvaluatedBatch) int {
	if a.Expiry != nil && b.Expiry == nil {
		return -1
	}
	if a.Expiry == nil && b.Expiry != nil {
		return 1
	}
	if a.Expiry != nil && b.Expiry != nil {
		if a.Expiry.Before(*b.Expiry) {
			return -1
		}
		if a.Expiry.After(*b.Expiry) {
			return 1
		}
	}
	if a.CreatedAt.Before(b.CreatedAt) {
		return -1
	}
	if a.CreatedAt.After(b.CreatedAt) {
		return 1
	}
	return 0
}

// CalculateMarkdown returns the automatic markdown percentage for a batch:
// a step function of days remaining, applied only to near-expiry stock.
// basePrice is accepted for interface symmetry; the percentage does not
// depend on it.
func CalculateMarkdown(batch domain.EvaluatedBatch, basePrice float64) float64 {
	_ = basePrice

	if !batch.IsNearExpiry || batch.DaysToExpiry == nil {
		return 0
	}
	switch days := *batch.DaysToExpiry; {
	case days <= 1:
		return markdownLastDayPct
	case days <= 3:
		return markdownThreeDayPct
	case days <= nearExpiryDays:
		return markdownWeekPct
	default:
		return 0
	}
}
