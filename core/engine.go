// engine.go implements the submission state machine: proof verification,
// cadence and streak enforcement, homomorphic aggregate maintenance, and
// ACL grants. Submissions for one principal are strictly serialized;
// different principals proceed in parallel.
package core

import (
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/GroupPritaa/DriveScore/fhe"
	"github.com/GroupPritaa/DriveScore/log"
	"github.com/GroupPritaa/DriveScore/metrics"
)

// LedgerConfig configures a SubmissionEngine. It replaces any notion of a
// process-wide admin flag: bypass state lives on the engine it was set on.
type LedgerConfig struct {
	// Admin is the only principal allowed to toggle bypass mode and reset
	// submission clocks.
	Admin common.Address
	// Contract is the ledger's own identity. Every encrypted value the
	// engine touches is granted to it alongside the submitting principal.
	Contract common.Address
	// BypassCadence starts the engine with the cadence check disabled.
	// Test environments only.
	BypassCadence bool
	// HistoryCapacity is the per-principal ring-buffer size.
	HistoryCapacity int
}

// DefaultLedgerConfig returns the production configuration: cadence
// enforced, 50-record history.
func DefaultLedgerConfig() LedgerConfig {
	return LedgerConfig{HistoryCapacity: DefaultHistoryCapacity}
}

// account pairs a principal's ledger state with its writer lock.
type account struct {
	mu    sync.RWMutex
	state LedgerState
}

// SubmissionEngine validates and applies submissions. All methods are safe
// for concurrent use.
type SubmissionEngine struct {
	cfg    LedgerConfig
	cop    fhe.Coprocessor
	bus    *EventBus
	logger *log.Logger

	mu       sync.RWMutex // guards bypass and accounts
	bypass   bool
	accounts map[common.Address]*account
}

// NewSubmissionEngine creates an engine backed by the given coprocessor.
// bus may be nil when no subscriber cares about events. Zero config fields
// are corrected to defaults.
func NewSubmissionEngine(cop fhe.Coprocessor, cfg LedgerConfig, bus *EventBus, logger *log.Logger) *SubmissionEngine {
	if cfg.HistoryCapacity <= 0 {
		cfg.HistoryCapacity = DefaultHistoryCapacity
	}
	if logger == nil {
		logger = log.Default()
	}
	return &SubmissionEngine{
		cfg:      cfg,
		cop:      cop,
		bus:      bus,
		logger:   logger.Module("engine"),
		bypass:   cfg.BypassCadence,
		accounts: make(map[common.Address]*account),
	}
}

// Submit validates and applies one submission at time now (unix seconds).
// On any failure the principal's ledger state is left exactly as it was.
func (e *SubmissionEngine) Submit(principal common.Address, ct fhe.Ciphertext, category DistanceCategory, now uint64) error {
	handle, err := e.cop.VerifyAndImport(ct)
	if err != nil {
		metrics.SubmissionsRejected.Inc()
		return fmt.Errorf("verify ciphertext: %w", err)
	}
	if !category.Valid() {
		metrics.SubmissionsRejected.Inc()
		return ErrInvalidCategory
	}

	acct := e.account(principal)
	acct.mu.Lock()
	defer acct.mu.Unlock()

	last := acct.state.LastSubmissionTime
	if last > 0 && !e.bypassEnabled() {
		if now < last || now-last < CadenceSeconds {
			metrics.SubmissionsRejected.Inc()
			return ErrSubmissionTooSoon
		}
	}

	// Apply to a copy; commit only after every coprocessor call succeeds.
	next := acct.state.clone()

	if next.SubmissionCount == 0 {
		next.Total = handle
	} else {
		next.Total, err = e.cop.Add(next.Total, handle)
		if err != nil {
			metrics.SubmissionsRejected.Inc()
			return fmt.Errorf("accumulate total: %w", err)
		}
	}

	if next.SubmissionCount == 0 {
		// Encrypted zero. Indistinguishable from a genuine zero delta on
		// the second read, matching the deployed contract's behavior.
		next.Delta, err = e.cop.Sub(handle, handle)
	} else {
		next.Delta, err = e.cop.Sub(handle, next.LastScore)
	}
	if err != nil {
		metrics.SubmissionsRejected.Inc()
		return fmt.Errorf("compute delta: %w", err)
	}

	next.SubmissionCount++

	streakReset := false
	switch {
	case last == 0:
		next.StreakDays = 1
	case now-last < CadenceSeconds+StreakGraceSeconds:
		next.StreakDays++
	default:
		next.StreakDays = 1
		streakReset = true
	}

	evicted := next.history.push(Record{Score: handle, Time: now, Category: category})
	next.LastScore = handle
	next.LastSubmissionTime = now

	// Grants are re-asserted every submission: the total and delta are
	// fresh handles, and the previous grants do not carry over.
	for _, h := range []fhe.Handle{next.LastScore, next.Total, next.Delta} {
		for _, grantee := range []common.Address{e.cfg.Contract, principal} {
			if err := e.cop.Grant(h, grantee); err != nil {
				metrics.SubmissionsRejected.Inc()
				return fmt.Errorf("grant %s to %s: %w", h.Hex(), grantee.Hex(), err)
			}
		}
	}

	acct.state = next

	metrics.SubmissionsAccepted.Inc()
	if evicted {
		metrics.HistoryEvictions.Inc()
	}
	if streakReset {
		metrics.StreakResets.Inc()
	}

	if e.bus != nil {
		e.bus.Publish(EventScoreSubmitted, SubmissionEvent{Principal: principal, Time: now, Category: category})
		if next.StreakDays > 1 {
			e.bus.Publish(EventStreakChanged, StreakEvent{Principal: principal, Days: next.StreakDays})
		}
	}

	e.logger.Debug("submission accepted",
		"principal", principal.Hex(),
		"count", next.SubmissionCount,
		"streak", next.StreakDays,
		"category", category.String(),
	)
	return nil
}

// SetBypassMode toggles the cadence bypass. Only the configured admin may
// call it; anyone else fails closed.
func (e *SubmissionEngine) SetBypassMode(caller common.Address, enabled bool) error {
	if caller != e.cfg.Admin {
		return ErrUnauthorized
	}
	e.mu.Lock()
	e.bypass = enabled
	e.mu.Unlock()
	e.logger.Info("bypass mode changed", "enabled", enabled)
	return nil
}

// ResetSubmissionClock clears a principal's last-submission time so the
// next submission passes the cadence check. Admin only, and only while
// bypass mode is enabled.
func (e *SubmissionEngine) ResetSubmissionClock(caller, principal common.Address) error {
	if caller != e.cfg.Admin || !e.bypassEnabled() {
		return ErrUnauthorized
	}
	acct := e.account(principal)
	acct.mu.Lock()
	acct.state.LastSubmissionTime = 0
	acct.mu.Unlock()
	return nil
}

// Snapshot returns a consistent copy of the principal's ledger state. A
// principal that never submitted yields the zero state.
func (e *SubmissionEngine) Snapshot(principal common.Address) LedgerState {
	e.mu.RLock()
	acct, ok := e.accounts[principal]
	e.mu.RUnlock()
	if !ok {
		return newLedgerState(e.cfg.HistoryCapacity)
	}
	acct.mu.RLock()
	defer acct.mu.RUnlock()
	return acct.state.clone()
}

func (e *SubmissionEngine) bypassEnabled() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.bypass
}

// account returns the principal's account, creating it on first use.
func (e *SubmissionEngine) account(principal common.Address) *account {
	e.mu.RLock()
	acct, ok := e.accounts[principal]
	e.mu.RUnlock()
	if ok {
		return acct
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if acct, ok = e.accounts[principal]; ok {
		return acct
	}
	acct = &account{state: newLedgerState(e.cfg.HistoryCapacity)}
	e.accounts[principal] = acct
	return acct
}
