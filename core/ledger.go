// Package core implements the DriveScore encrypted-state ledger: per-principal
// ledger records, the daily submission state machine, and read-only query
// projections. Every score field is an opaque fhe.Handle; only counters,
// timestamps, and categories are plaintext.
package core

import (
	"errors"
	"fmt"

	"github.com/GroupPritaa/DriveScore/fhe"
)

var (
	// ErrInvalidCategory is returned when a submission carries a distance
	// category outside the defined range.
	ErrInvalidCategory = errors.New("core: invalid distance category")

	// ErrSubmissionTooSoon is returned when a principal submits again
	// before the 24h cadence has elapsed.
	ErrSubmissionTooSoon = errors.New("core: submission cadence not met")

	// ErrInsufficientHistory is returned when a trend is requested before
	// two submissions exist.
	ErrInsufficientHistory = errors.New("core: insufficient history for trend")

	// ErrNoRecords is returned when the latest record is requested from an
	// empty history.
	ErrNoRecords = errors.New("core: no records")

	// ErrIndexOutOfBounds is returned when a history index is past the
	// last surviving record.
	ErrIndexOutOfBounds = errors.New("core: record index out of bounds")

	// ErrUnauthorized is returned when an administrative call is made by
	// anyone but the configured administrator, or outside bypass mode.
	ErrUnauthorized = errors.New("core: unauthorized")
)

// Ledger timing and capacity constants.
const (
	// CadenceSeconds is the minimum interval between accepted submissions.
	CadenceSeconds = 86400

	// StreakGraceSeconds extends the cadence by one hour when deciding
	// whether a streak continues, absorbing jitter around the 24h mark.
	StreakGraceSeconds = 3600

	// DefaultHistoryCapacity is the ring-buffer capacity per principal.
	DefaultHistoryCapacity = 50
)

// DistanceCategory classifies the distance driven on the day of a
// submission. It is stored in plaintext.
type DistanceCategory uint8

// Distance categories, in wire order.
const (
	DistanceUnknown DistanceCategory = iota
	DistanceShort
	DistanceMedium
	DistanceLong
)

// Valid reports whether the category is one of the defined values.
func (c DistanceCategory) Valid() bool { return c <= DistanceLong }

// String returns the category name.
func (c DistanceCategory) String() string {
	switch c {
	case DistanceUnknown:
		return "unknown"
	case DistanceShort:
		return "short"
	case DistanceMedium:
		return "medium"
	case DistanceLong:
		return "long"
	default:
		return fmt.Sprintf("category(%d)", uint8(c))
	}
}

// Record is one accepted submission. Records are immutable once created
// and leave the ledger only through ring-buffer eviction.
type Record struct {
	Score    fhe.Handle
	Time     uint64
	Category DistanceCategory
}

// historyRing is a fixed-capacity FIFO of Records. Append past capacity
// evicts the oldest entry in O(1); eviction never considers record fields.
type historyRing struct {
	records []Record
	start   int
	count   int
}

func newHistoryRing(capacity int) historyRing {
	return historyRing{records: make([]Record, capacity)}
}

// push appends r, evicting the oldest record when full. Returns true when
// an eviction occurred.
func (h *historyRing) push(r Record) bool {
	capn := len(h.records)
	if h.count < capn {
		h.records[(h.start+h.count)%capn] = r
		h.count++
		return false
	}
	h.records[h.start] = r
	h.start = (h.start + 1) % capn
	return true
}

// at returns the i-th oldest surviving record. Caller checks bounds.
func (h *historyRing) at(i int) Record {
	return h.records[(h.start+i)%len(h.records)]
}

func (h *historyRing) len() int { return h.count }

// clone returns a deep copy sharing no backing storage.
func (h *historyRing) clone() historyRing {
	out := historyRing{
		records: make([]Record, len(h.records)),
		start:   h.start,
		count:   h.count,
	}
	copy(out.records, h.records)
	return out
}

// LedgerState is the per-principal ledger record. It is created lazily on
// first submission, mutated only by the SubmissionEngine, and never
// deleted. All encrypted fields are unset until the first submission.
type LedgerState struct {
	// Total is the homomorphic running sum of every submitted score.
	Total fhe.Handle
	// LastScore is the most recently submitted score.
	LastScore fhe.Handle
	// Delta is last score minus the one before it. After the very first
	// submission it holds an encrypted zero (score minus itself).
	Delta fhe.Handle
	// SubmissionCount is the number of submissions ever accepted.
	SubmissionCount uint64
	// LastSubmissionTime is the unix second of the last accepted
	// submission, 0 before the first.
	LastSubmissionTime uint64
	// StreakDays counts consecutive qualifying submission days.
	StreakDays uint64

	history historyRing
}

func newLedgerState(historyCapacity int) LedgerState {
	return LedgerState{history: newHistoryRing(historyCapacity)}
}

// HistoryLen returns the number of surviving records.
func (s *LedgerState) HistoryLen() int { return s.history.len() }

// RecordAt returns the i-th oldest surviving record. Indices shift down as
// eviction occurs, so they must not be cached across submissions.
func (s *LedgerState) RecordAt(i uint64) (Record, error) {
	if i >= uint64(s.history.len()) {
		return Record{}, ErrIndexOutOfBounds
	}
	return s.history.at(int(i)), nil
}

// LatestRecord returns the most recent record.
func (s *LedgerState) LatestRecord() (Record, error) {
	n := s.history.len()
	if n == 0 {
		return Record{}, ErrNoRecords
	}
	return s.history.at(n - 1), nil
}

// Records returns the surviving history oldest-first as a fresh slice.
func (s *LedgerState) Records() []Record {
	out := make([]Record, s.history.len())
	for i := range out {
		out[i] = s.history.at(i)
	}
	return out
}

// clone returns a deep copy used for atomic submission application and for
// read snapshots.
func (s *LedgerState) clone() LedgerState {
	out := *s
	out.history = s.history.clone()
	return out
}
