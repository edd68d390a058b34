// query.go provides read-only projections over ledger state. Every query
// works on a snapshot taken under the principal's reader lock, so a
// concurrent submission can never be observed half-applied.
package core

import (
	"github.com/ethereum/go-ethereum/common"

	"github.com/GroupPritaa/DriveScore/fhe"
)

// Statistics is the plaintext-only projection of a ledger state.
type Statistics struct {
	SubmissionCount    uint64
	StreakDays         uint64
	LastSubmissionTime uint64
}

// QueryService serves reads over a SubmissionEngine's ledger states.
type QueryService struct {
	engine *SubmissionEngine
}

// NewQueryService creates a QueryService over the given engine.
func NewQueryService(engine *SubmissionEngine) *QueryService {
	return &QueryService{engine: engine}
}

// Trend returns the encrypted difference between the two most recent
// scores. It requires at least two submissions; the first submission's
// delta is an encrypted zero placeholder, never exposed here.
func (q *QueryService) Trend(principal common.Address) (fhe.Handle, error) {
	st := q.engine.Snapshot(principal)
	if st.SubmissionCount < 2 {
		return fhe.Handle{}, ErrInsufficientHistory
	}
	return st.Delta, nil
}

// Aggregate returns the encrypted running total and the submission count.
// At count zero the total is the zero handle; callers must check the count
// before using it.
func (q *QueryService) Aggregate(principal common.Address) (fhe.Handle, uint64) {
	st := q.engine.Snapshot(principal)
	return st.Total, st.SubmissionCount
}

// Latest returns the most recent record.
func (q *QueryService) Latest(principal common.Address) (Record, error) {
	st := q.engine.Snapshot(principal)
	return st.LatestRecord()
}

// Statistics returns the plaintext counters. Always available; a principal
// that never submitted reports zeros.
func (q *QueryService) Statistics(principal common.Address) Statistics {
	st := q.engine.Snapshot(principal)
	return Statistics{
		SubmissionCount:    st.SubmissionCount,
		StreakDays:         st.StreakDays,
		LastSubmissionTime: st.LastSubmissionTime,
	}
}

// RecordCount returns the number of surviving history records.
func (q *QueryService) RecordCount(principal common.Address) uint64 {
	st := q.engine.Snapshot(principal)
	return uint64(st.HistoryLen())
}

// RecordByIndex returns the i-th oldest surviving record. Index 0 is the
// oldest record not yet evicted; indices shift as eviction occurs.
func (q *QueryService) RecordByIndex(principal common.Address, i uint64) (Record, error) {
	st := q.engine.Snapshot(principal)
	return st.RecordAt(i)
}
