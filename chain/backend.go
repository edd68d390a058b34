// Package chain defines the transport boundary between DriveScore clients
// and the ledger. Backend mirrors the on-ledger surface: one mutating
// submit call, idempotent side-effect-free reads, the administrative
// escape hatches, and the event feed. LocalBackend is the in-process
// implementation used by tests and the demo binary; a remote
// implementation would speak to a deployed contract instead.
package chain

import (
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/GroupPritaa/DriveScore/core"
	"github.com/GroupPritaa/DriveScore/fhe"
	"github.com/GroupPritaa/DriveScore/log"
)

// Backend is the ledger as seen from a client.
type Backend interface {
	// Submit delivers one encrypted score with its proof. The ledger
	// stamps the submission time itself.
	Submit(principal common.Address, ct fhe.Ciphertext, category core.DistanceCategory) error

	// Reads, each served from one consistent ledger snapshot.
	Trend(principal common.Address) (fhe.Handle, error)
	Aggregate(principal common.Address) (fhe.Handle, uint64)
	Latest(principal common.Address) (core.Record, error)
	Statistics(principal common.Address) core.Statistics
	RecordCount(principal common.Address) uint64
	RecordByIndex(principal common.Address, i uint64) (core.Record, error)

	// Administrative surface; fails closed for anyone but the admin.
	SetBypassMode(caller common.Address, enabled bool) error
	ResetSubmissionClock(caller, principal common.Address) error

	// Subscribe opens an event subscription for the given types.
	Subscribe(types ...core.EventType) *core.Subscription
}

// LocalBackendConfig configures a LocalBackend.
type LocalBackendConfig struct {
	// Ledger configures the embedded submission engine.
	Ledger core.LedgerConfig
	// Now supplies submission timestamps (unix seconds). Tests pin it.
	Now func() uint64
	// EventBuffer sizes each subscriber's channel.
	EventBuffer int
}

// DefaultLocalBackendConfig returns a wall-clock configuration.
func DefaultLocalBackendConfig() LocalBackendConfig {
	return LocalBackendConfig{
		Ledger:      core.DefaultLedgerConfig(),
		Now:         func() uint64 { return uint64(time.Now().Unix()) },
		EventBuffer: 64,
	}
}

// LocalBackend runs the ledger in-process against a coprocessor. All
// methods are safe for concurrent use; submissions for one principal are
// serialized by the engine.
type LocalBackend struct {
	engine *core.SubmissionEngine
	query  *core.QueryService
	bus    *core.EventBus
	now    func() uint64
}

// NewLocalBackend creates a LocalBackend over the given coprocessor.
func NewLocalBackend(cop fhe.Coprocessor, cfg LocalBackendConfig, logger *log.Logger) *LocalBackend {
	if cfg.Now == nil {
		cfg.Now = func() uint64 { return uint64(time.Now().Unix()) }
	}
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = 64
	}
	bus := core.NewEventBus(cfg.EventBuffer)
	engine := core.NewSubmissionEngine(cop, cfg.Ledger, bus, logger)
	return &LocalBackend{
		engine: engine,
		query:  core.NewQueryService(engine),
		bus:    bus,
		now:    cfg.Now,
	}
}

// Submit implements Backend.
func (b *LocalBackend) Submit(principal common.Address, ct fhe.Ciphertext, category core.DistanceCategory) error {
	return b.engine.Submit(principal, ct, category, b.now())
}

// Trend implements Backend.
func (b *LocalBackend) Trend(principal common.Address) (fhe.Handle, error) {
	return b.query.Trend(principal)
}

// Aggregate implements Backend.
func (b *LocalBackend) Aggregate(principal common.Address) (fhe.Handle, uint64) {
	return b.query.Aggregate(principal)
}

// Latest implements Backend.
func (b *LocalBackend) Latest(principal common.Address) (core.Record, error) {
	return b.query.Latest(principal)
}

// Statistics implements Backend.
func (b *LocalBackend) Statistics(principal common.Address) core.Statistics {
	return b.query.Statistics(principal)
}

// RecordCount implements Backend.
func (b *LocalBackend) RecordCount(principal common.Address) uint64 {
	return b.query.RecordCount(principal)
}

// RecordByIndex implements Backend.
func (b *LocalBackend) RecordByIndex(principal common.Address, i uint64) (core.Record, error) {
	return b.query.RecordByIndex(principal, i)
}

// SetBypassMode implements Backend.
func (b *LocalBackend) SetBypassMode(caller common.Address, enabled bool) error {
	return b.engine.SetBypassMode(caller, enabled)
}

// ResetSubmissionClock implements Backend.
func (b *LocalBackend) ResetSubmissionClock(caller, principal common.Address) error {
	return b.engine.ResetSubmissionClock(caller, principal)
}

// Subscribe implements Backend.
func (b *LocalBackend) Subscribe(types ...core.EventType) *core.Subscription {
	return b.bus.Subscribe(types...)
}

var _ Backend = (*LocalBackend)(nil)
