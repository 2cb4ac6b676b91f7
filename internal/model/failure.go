package model

import "time"

type FailureCategory string

const (
	CategoryOrderSource     FailureCategory = "order_source_error"
	CategoryAccountCreation FailureCategory = "account_creation_failed"
	CategoryUnexpectedDupe  FailureCategory = "duplicate_detected_unexpectedly"
	CategoryUnknown         FailureCategory = "unknown"
)

// FailureRecord is one order reference whose provisioning did not finish.
type FailureRecord struct {
	OrderRef          string                  `json:"orderref"`
	ErrorMessage      string                  `json:"error_message"`
	Category          FailureCategory         `json:"failure_type"`
	Timestamp         time.Time               `json:"timestamp"`
	FirstFailure      time.Time               `json:"first_failure"`
	RetryCount        int                     `json:"retry_count"`
	Resolved          bool                    `json:"resolved"`
	ResolutionNote    string                  `json:"resolution_note,omitempty"`
	ResolvedTimestamp *time.Time              `json:"resolved_timestamp,omitempty"`
	Snapshot          *AccountCreationRequest `json:"customer_data,omitempty"`
}

type FailureStats struct {
	Total        int                     `json:"total_failures"`
	Unresolved   int                     `json:"unresolved_failures"`
	Resolved     int                     `json:"resolved_failures"`
	ByCategory   map[FailureCategory]int `json:"failure_types"`
	TotalRetries int                     `json:"total_retries"`
}

// ComputeStats aggregates a full record set.
func ComputeStats(records []FailureRecord) FailureStats {
	st := FailureStats{ByCategory: make(map[FailureCategory]int)}
	for _, r := range records {
		st.Total++
		if r.Resolved {
			st.Resolved++
		} else {
			st.Unresolved++
		}
		cat := r.Category
		if cat == "" {
			cat = CategoryUnknown
		}
		st.ByCategory[cat]++
		st.TotalRetries += r.RetryCount
	}
	return st
}
