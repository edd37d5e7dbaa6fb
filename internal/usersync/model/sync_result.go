package model

import "time"

type PassState string

const (
	PassIdle     PassState = "idle"
	PassFetching PassState = "fetching"
	PassApplying PassState = "applying"
	PassDone     PassState = "done"
	PassFailed   PassState = "failed"
)

const (
	FailureKindStorage = "storage"
	FailureKindInvalid = "invalid"
)

// UpsertOutcome is what one successful upsert did to the stored document.
type UpsertOutcome string

const (
	OutcomeInserted  UpsertOutcome = "inserted"
	OutcomeModified  UpsertOutcome = "modified"
	OutcomeUnchanged UpsertOutcome = "unchanged"
)

// SyncResult summarizes one pass. It is created when the pass starts and
// is not touched again once the pass returns.
type SyncResult struct {
	PassID     string          `json:"pass_id"`
	State      PassState       `json:"state"`
	Fetched    int             `json:"fetched"`
	Upserted   int             `json:"upserted"`
	Inserted   int             `json:"inserted"`
	Modified   int             `json:"modified"`
	Unchanged  int             `json:"unchanged"`
	Failed     int             `json:"failed"`
	Failures   []RecordFailure `json:"failures,omitempty"`
	FetchError string          `json:"fetch_error,omitempty"`
	StartedAt  time.Time       `json:"started_at"`
	FinishedAt time.Time       `json:"finished_at,omitempty"`
}

// RecordFailure describes one update that could not be applied.
type RecordFailure struct {
	UserID  string `json:"user_id"`
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

func NewSyncResult(passID string, now time.Time) *SyncResult {
	return &SyncResult{
		PassID:    passID,
		State:     PassIdle,
		StartedAt: now,
		Failures:  []RecordFailure{},
	}
}

// RecordApplied counts one successful upsert. Upserted is the sum of
// Inserted, Modified and Unchanged.
func (r *SyncResult) RecordApplied(outcome UpsertOutcome) {
	r.Upserted++
	switch outcome {
	case OutcomeInserted:
		r.Inserted++
	case OutcomeModified:
		r.Modified++
	default:
		r.Unchanged++
	}
}

func (r *SyncResult) RecordFailure(userID, kind string, err error) {
	r.Failed++
	r.Failures = append(r.Failures, RecordFailure{
		UserID:  userID,
		Kind:    kind,
		Message: err.Error(),
	})
}

func (r *SyncResult) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// Succeeded reports whether the pass finished and stayed within the
// tolerated number of record failures.
func (r *SyncResult) Succeeded(tolerance int) bool {
	return r.State == PassDone && r.Failed <= tolerance
}
