// Package failure keeps the durable list of provisioning attempts that
// need an operator.
package failure

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"provisioner/internal/model"
)

var (
	ErrNotFound   = errors.New("failure record not found")
	ErrInvalidAge = errors.New("cleanup age must not be negative")
)

type Store interface {
	// RecordFailure upserts the record for ref and returns the key used,
	// which is a synthetic one when ref is blank.
	RecordFailure(ctx context.Context, ref, message string, category model.FailureCategory, snapshot *model.AccountCreationRequest) (string, error)
	ListFailures(ctx context.Context, includeResolved bool) ([]model.FailureRecord, error)
	Get(ctx context.Context, ref string) (*model.FailureRecord, error)
	Resolve(ctx context.Context, ref, note string) (bool, error)
	Delete(ctx context.Context, ref string) (bool, error)
	Stats(ctx context.Context) (model.FailureStats, error)
	CleanupResolvedOlderThan(ctx context.Context, days int) (int, error)
}

// SyntheticKey builds a key for failures that arrive without an order
// reference, e.g. UNKNOWN_20241102_101500_1a2b3c4d.
func SyntheticKey(now time.Time) string {
	return fmt.Sprintf("UNKNOWN_%s_%s", now.Format("20060102_150405"), uuid.NewString()[:8])
}

func keyFor(ref string, now time.Time) string {
	if strings.TrimSpace(ref) == "" {
		return SyntheticKey(now)
	}
	return ref
}

// merge folds a new occurrence into the previous record for the same key.
// A repeated failure reopens a resolved record.
func merge(prev *model.FailureRecord, key, message string, category model.FailureCategory, snapshot *model.AccountCreationRequest, now time.Time) model.FailureRecord {
	rec := model.FailureRecord{
		OrderRef:     key,
		ErrorMessage: message,
		Category:     category,
		Timestamp:    now,
		FirstFailure: now,
		Snapshot:     snapshot,
	}
	if prev == nil {
		return rec
	}

	rec.RetryCount = prev.RetryCount + 1
	if !prev.FirstFailure.IsZero() {
		rec.FirstFailure = prev.FirstFailure
	} else if !prev.Timestamp.IsZero() {
		rec.FirstFailure = prev.Timestamp
	}
	if rec.Snapshot == nil {
		rec.Snapshot = prev.Snapshot
	}
	return rec
}

func resolvedAt(r model.FailureRecord) time.Time {
	if r.ResolvedTimestamp != nil {
		return *r.ResolvedTimestamp
	}
	return r.Timestamp
}

func sortNewestFirst(records []model.FailureRecord) {
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].Timestamp.After(records[j].Timestamp)
	})
}

func cutoff(now time.Time, days int) time.Time {
	return now.Add(-time.Duration(days) * 24 * time.Hour)
}
