package core

import (
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/GroupPritaa/DriveScore/fhe"
)

var (
	testAdmin    = common.Address{0xad}
	testContract = common.Address{0xcc}
	testDriver   = common.Address{0x01}
)

const t0 = uint64(1_700_000_000)

func newTestEngine(cop fhe.Coprocessor, bypass bool) *SubmissionEngine {
	cfg := DefaultLedgerConfig()
	cfg.Admin = testAdmin
	cfg.Contract = testContract
	cfg.BypassCadence = bypass
	return NewSubmissionEngine(cop, cfg, nil, nil)
}

func mustSubmit(t *testing.T, e *SubmissionEngine, cop *fhe.MockCoprocessor, principal common.Address, score, now uint64) {
	t.Helper()
	if err := e.Submit(principal, cop.Encrypt(score), DistanceShort, now); err != nil {
		t.Fatalf("Submit(score=%d, now=%d): %v", score, now, err)
	}
}

func shadow(t *testing.T, cop *fhe.MockCoprocessor, h fhe.Handle) uint64 {
	t.Helper()
	v, ok := cop.Plaintext(h)
	if !ok {
		t.Fatalf("no shadow for handle %s", h.Hex())
	}
	return v.Uint64()
}

func TestSubmit_FirstSubmission(t *testing.T) {
	cop := fhe.NewMockCoprocessor()
	e := newTestEngine(cop, false)

	mustSubmit(t, e, cop, testDriver, 80, t0)

	st := e.Snapshot(testDriver)
	if st.SubmissionCount != 1 {
		t.Errorf("SubmissionCount = %d, want 1", st.SubmissionCount)
	}
	if st.StreakDays != 1 {
		t.Errorf("StreakDays = %d, want 1", st.StreakDays)
	}
	if st.LastSubmissionTime != t0 {
		t.Errorf("LastSubmissionTime = %d, want %d", st.LastSubmissionTime, t0)
	}
	if st.HistoryLen() != 1 {
		t.Errorf("HistoryLen = %d, want 1", st.HistoryLen())
	}
	if got := shadow(t, cop, st.Total); got != 80 {
		t.Errorf("total = %d, want 80", got)
	}
	// First delta is score minus itself: an encrypted zero.
	if got := shadow(t, cop, st.Delta); got != 0 {
		t.Errorf("delta = %d, want 0", got)
	}
	if st.LastScore != st.Total {
		t.Errorf("after one submission LastScore and Total should share a handle")
	}
}

func TestSubmit_AggregatesAcrossDays(t *testing.T) {
	cop := fhe.NewMockCoprocessor()
	e := newTestEngine(cop, false)

	mustSubmit(t, e, cop, testDriver, 80, t0)
	mustSubmit(t, e, cop, testDriver, 95, t0+CadenceSeconds)

	st := e.Snapshot(testDriver)
	if st.SubmissionCount != 2 {
		t.Fatalf("SubmissionCount = %d, want 2", st.SubmissionCount)
	}
	if got := shadow(t, cop, st.Total); got != 175 {
		t.Errorf("total = %d, want 175", got)
	}
	if got := shadow(t, cop, st.Delta); got != 15 {
		t.Errorf("delta = %d, want 15", got)
	}
	if got := shadow(t, cop, st.LastScore); got != 95 {
		t.Errorf("last score = %d, want 95", got)
	}
}

func TestSubmit_InvalidProofRejected(t *testing.T) {
	cop := fhe.NewMockCoprocessor()
	e := newTestEngine(cop, false)

	ct := cop.Encrypt(50)
	ct.Proof[0] ^= 0xff
	err := e.Submit(testDriver, ct, DistanceShort, t0)
	if !errors.Is(err, fhe.ErrInvalidProof) {
		t.Fatalf("Submit error = %v, want ErrInvalidProof", err)
	}

	if st := e.Snapshot(testDriver); st.SubmissionCount != 0 || st.HistoryLen() != 0 {
		t.Error("rejected submission left state behind")
	}
}

func TestSubmit_InvalidCategoryRejected(t *testing.T) {
	cop := fhe.NewMockCoprocessor()
	e := newTestEngine(cop, false)

	err := e.Submit(testDriver, cop.Encrypt(50), DistanceCategory(7), t0)
	if !errors.Is(err, ErrInvalidCategory) {
		t.Fatalf("Submit error = %v, want ErrInvalidCategory", err)
	}
	if st := e.Snapshot(testDriver); st.SubmissionCount != 0 {
		t.Error("rejected submission left state behind")
	}
}

func TestSubmit_CadenceEnforced(t *testing.T) {
	cop := fhe.NewMockCoprocessor()
	e := newTestEngine(cop, false)

	mustSubmit(t, e, cop, testDriver, 80, t0)
	before := e.Snapshot(testDriver)

	err := e.Submit(testDriver, cop.Encrypt(90), DistanceShort, t0+100)
	if !errors.Is(err, ErrSubmissionTooSoon) {
		t.Fatalf("Submit error = %v, want ErrSubmissionTooSoon", err)
	}

	after := e.Snapshot(testDriver)
	if after.SubmissionCount != before.SubmissionCount ||
		after.LastSubmissionTime != before.LastSubmissionTime ||
		after.StreakDays != before.StreakDays ||
		after.HistoryLen() != before.HistoryLen() ||
		after.Total != before.Total ||
		after.Delta != before.Delta ||
		after.LastScore != before.LastScore {
		t.Error("failed submission mutated ledger state")
	}

	// Exactly at the cadence boundary the submission is accepted.
	mustSubmit(t, e, cop, testDriver, 90, t0+CadenceSeconds)
}

func TestSubmit_ClockGoingBackwardsRejected(t *testing.T) {
	cop := fhe.NewMockCoprocessor()
	e := newTestEngine(cop, false)

	mustSubmit(t, e, cop, testDriver, 80, t0)
	if err := e.Submit(testDriver, cop.Encrypt(90), DistanceShort, t0-10); !errors.Is(err, ErrSubmissionTooSoon) {
		t.Errorf("Submit error = %v, want ErrSubmissionTooSoon", err)
	}
}

func TestSubmit_StreakGraceWindow(t *testing.T) {
	cop := fhe.NewMockCoprocessor()
	e := newTestEngine(cop, false)

	// Within the 25h grace window: streak extends.
	mustSubmit(t, e, cop, testDriver, 80, t0)
	mustSubmit(t, e, cop, testDriver, 81, t0+CadenceSeconds+1800)
	if st := e.Snapshot(testDriver); st.StreakDays != 2 {
		t.Errorf("StreakDays = %d, want 2", st.StreakDays)
	}

	// Outside the grace window: streak restarts at 1.
	last := t0 + CadenceSeconds + 1800
	mustSubmit(t, e, cop, testDriver, 82, last+CadenceSeconds+7200)
	if st := e.Snapshot(testDriver); st.StreakDays != 1 {
		t.Errorf("StreakDays = %d, want 1 (streak broken)", st.StreakDays)
	}
}

func TestSubmit_HistoryEviction(t *testing.T) {
	cop := fhe.NewMockCoprocessor()
	e := newTestEngine(cop, true) // bypass cadence to pack 52 days

	for i := uint64(0); i < 52; i++ {
		mustSubmit(t, e, cop, testDriver, 40+i, t0+i)
	}

	st := e.Snapshot(testDriver)
	if st.SubmissionCount != 52 {
		t.Fatalf("SubmissionCount = %d, want 52", st.SubmissionCount)
	}
	if st.HistoryLen() != DefaultHistoryCapacity {
		t.Fatalf("HistoryLen = %d, want %d", st.HistoryLen(), DefaultHistoryCapacity)
	}

	// Index 0 is the 3rd submission ever made; the first two were evicted.
	oldest, err := st.RecordAt(0)
	if err != nil {
		t.Fatalf("RecordAt(0): %v", err)
	}
	if got := shadow(t, cop, oldest.Score); got != 42 {
		t.Errorf("oldest surviving score = %d, want 42 (3rd submission)", got)
	}
	if oldest.Time != t0+2 {
		t.Errorf("oldest surviving time = %d, want %d", oldest.Time, t0+2)
	}

	// History is in ascending time order.
	records := st.Records()
	for i := 1; i < len(records); i++ {
		if records[i].Time <= records[i-1].Time {
			t.Fatalf("history out of order at %d: %d then %d", i, records[i-1].Time, records[i].Time)
		}
	}
}

func TestSubmit_GrantsLedgerAndPrincipalOnly(t *testing.T) {
	cop := fhe.NewMockCoprocessor()
	e := newTestEngine(cop, true)

	other := common.Address{0x02}
	mustSubmit(t, e, cop, testDriver, 70, t0)
	mustSubmit(t, e, cop, testDriver, 75, t0+1)

	st := e.Snapshot(testDriver)
	for _, h := range []fhe.Handle{st.Total, st.Delta, st.LastScore} {
		if !cop.HasGrant(h, testDriver) {
			t.Errorf("principal missing grant on %s", h.Hex())
		}
		if !cop.HasGrant(h, testContract) {
			t.Errorf("ledger missing grant on %s", h.Hex())
		}
		if cop.HasGrant(h, other) {
			t.Errorf("unrelated principal granted on %s", h.Hex())
		}
	}
}

func TestSubmit_PrincipalsAreIndependent(t *testing.T) {
	cop := fhe.NewMockCoprocessor()
	e := newTestEngine(cop, false)

	driverB := common.Address{0x02}
	mustSubmit(t, e, cop, testDriver, 80, t0)

	// A fresh principal is not constrained by another's cadence.
	mustSubmit(t, e, cop, driverB, 60, t0+5)

	if st := e.Snapshot(driverB); st.SubmissionCount != 1 {
		t.Errorf("driverB SubmissionCount = %d, want 1", st.SubmissionCount)
	}
	if st := e.Snapshot(testDriver); st.SubmissionCount != 1 {
		t.Errorf("driverA SubmissionCount = %d, want 1", st.SubmissionCount)
	}
}

// addFailCoprocessor delegates to a mock but fails homomorphic adds,
// simulating coprocessor exhaustion mid-submission.
type addFailCoprocessor struct {
	*fhe.MockCoprocessor
}

func (c *addFailCoprocessor) Add(a, b fhe.Handle) (fhe.Handle, error) {
	return fhe.Handle{}, fhe.ErrCapabilityUnavailable
}

func TestSubmit_RollsBackOnCapabilityFailure(t *testing.T) {
	mock := fhe.NewMockCoprocessor()
	e := newTestEngine(&addFailCoprocessor{mock}, true)

	// First submission never calls Add and succeeds.
	mustSubmit(t, e, mock, testDriver, 80, t0)
	before := e.Snapshot(testDriver)

	// Second submission fails in the running-total add; nothing may stick.
	err := e.Submit(testDriver, mock.Encrypt(90), DistanceShort, t0+1)
	if !errors.Is(err, fhe.ErrCapabilityUnavailable) {
		t.Fatalf("Submit error = %v, want ErrCapabilityUnavailable", err)
	}

	after := e.Snapshot(testDriver)
	if after.SubmissionCount != before.SubmissionCount ||
		after.HistoryLen() != before.HistoryLen() ||
		after.Total != before.Total ||
		after.LastSubmissionTime != before.LastSubmissionTime {
		t.Error("failed submission left partial state")
	}
}

func TestAdmin_BypassMode(t *testing.T) {
	cop := fhe.NewMockCoprocessor()
	e := newTestEngine(cop, false)

	if err := e.SetBypassMode(testDriver, true); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("SetBypassMode by non-admin = %v, want ErrUnauthorized", err)
	}

	mustSubmit(t, e, cop, testDriver, 80, t0)
	if err := e.Submit(testDriver, cop.Encrypt(85), DistanceShort, t0+10); !errors.Is(err, ErrSubmissionTooSoon) {
		t.Fatalf("pre-bypass Submit = %v, want ErrSubmissionTooSoon", err)
	}

	if err := e.SetBypassMode(testAdmin, true); err != nil {
		t.Fatalf("SetBypassMode by admin: %v", err)
	}
	mustSubmit(t, e, cop, testDriver, 85, t0+20)
}

func TestAdmin_ResetSubmissionClock(t *testing.T) {
	cop := fhe.NewMockCoprocessor()
	e := newTestEngine(cop, false)

	mustSubmit(t, e, cop, testDriver, 80, t0)

	// Refused for non-admin, and for admin while bypass is off.
	if err := e.ResetSubmissionClock(testDriver, testDriver); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("reset by non-admin = %v, want ErrUnauthorized", err)
	}
	if err := e.ResetSubmissionClock(testAdmin, testDriver); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("reset without bypass = %v, want ErrUnauthorized", err)
	}

	if err := e.SetBypassMode(testAdmin, true); err != nil {
		t.Fatalf("SetBypassMode: %v", err)
	}
	if err := e.ResetSubmissionClock(testAdmin, testDriver); err != nil {
		t.Fatalf("ResetSubmissionClock: %v", err)
	}
	if st := e.Snapshot(testDriver); st.LastSubmissionTime != 0 {
		t.Errorf("LastSubmissionTime = %d after reset, want 0", st.LastSubmissionTime)
	}
}

func TestSubmit_EmitsEvents(t *testing.T) {
	cop := fhe.NewMockCoprocessor()
	cfg := DefaultLedgerConfig()
	cfg.Admin = testAdmin
	cfg.Contract = testContract
	cfg.BypassCadence = true
	bus := NewEventBus(16)
	e := NewSubmissionEngine(cop, cfg, bus, nil)

	sub := bus.Subscribe(EventScoreSubmitted, EventStreakChanged)
	defer sub.Unsubscribe()

	mustSubmit(t, e, cop, testDriver, 80, t0)
	mustSubmit(t, e, cop, testDriver, 85, t0+1)

	var submissions, streaks int
	for i := 0; i < 3; i++ {
		ev := <-sub.Chan()
		switch ev.Type {
		case EventScoreSubmitted:
			submissions++
			data := ev.Data.(SubmissionEvent)
			if data.Principal != testDriver {
				t.Errorf("event principal = %s, want %s", data.Principal.Hex(), testDriver.Hex())
			}
		case EventStreakChanged:
			streaks++
			if data := ev.Data.(StreakEvent); data.Days != 2 {
				t.Errorf("streak event days = %d, want 2", data.Days)
			}
		}
	}
	if submissions != 2 || streaks != 1 {
		t.Errorf("events = %d submissions, %d streaks; want 2 and 1", submissions, streaks)
	}
}
