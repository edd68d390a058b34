// Package auth implements the client-side decryption-authorization
// protocol. An Authorizer turns a wallet signature into a cached,
// time-boxed capability bound to one principal and a set of ledger
// contracts, then uses it to resolve batches of encrypted handles to
// plaintext. The wallet prompt, the one operation that may block on a
// human, is issued at most once per capability even under concurrent
// callers.
package auth

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
	"golang.org/x/crypto/sha3"
	"golang.org/x/sync/singleflight"

	"github.com/GroupPritaa/DriveScore/fhe"
	"github.com/GroupPritaa/DriveScore/log"
	"github.com/GroupPritaa/DriveScore/metrics"
)

var (
	// ErrAuthorizationDeclined is returned when the user cancels the
	// wallet's signature prompt. The cache is left untouched so a retry
	// can prompt again.
	ErrAuthorizationDeclined = errors.New("auth: authorization declined by signer")

	// ErrAuthorizationUnsigned is returned when a batch decryption is
	// attempted with an authorization that never completed signing.
	ErrAuthorizationUnsigned = errors.New("auth: authorization not signed")
)

// State is the lifecycle state of an Authorization.
type State int

// Authorization states.
const (
	Unsigned State = iota
	Signed
	Expired
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case Unsigned:
		return "unsigned"
	case Signed:
		return "signed"
	case Expired:
		return "expired"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Authorization is a signed decryption capability plus the ephemeral key
// the coprocessor encrypts its responses to. It lives only in the client
// process and is never persisted.
type Authorization struct {
	Token fhe.DecryptAuth
	Key   *ecdsa.PrivateKey
}

// State reports the authorization's lifecycle state at the given time.
func (a *Authorization) State(now time.Time) State {
	if a == nil || len(a.Token.Signature) == 0 {
		return Unsigned
	}
	if uint64(now.Unix()) >= a.Token.ExpiresAt() {
		return Expired
	}
	return Signed
}

// ExpiresAt returns the time at which the authorization lapses.
func (a *Authorization) ExpiresAt() time.Time {
	return time.Unix(int64(a.Token.ExpiresAt()), 0)
}

// Signer obtains the wallet signature over an authorization payload. The
// call may block on human interaction and must return
// ErrAuthorizationDeclined (or wrap it) when the user cancels.
type Signer interface {
	SignAuthorization(ctx context.Context, principal common.Address, payload common.Hash) ([]byte, error)
}

// PartialDecryptError reports a batch in which some handles decrypted and
// others did not. The successfully decrypted values are still returned to
// the caller alongside this error.
type PartialDecryptError struct {
	Decrypted int
	Failed    map[fhe.Handle]error
}

// Error implements error.
func (e *PartialDecryptError) Error() string {
	return fmt.Sprintf("auth: %d of %d handles failed to decrypt", len(e.Failed), e.Decrypted+len(e.Failed))
}

// AuthorizerConfig configures an Authorizer.
type AuthorizerConfig struct {
	// ValidDays is the validity window requested for new authorizations.
	ValidDays uint64
	// Now overrides the clock, for tests.
	Now func() time.Time
}

// DefaultAuthorizerConfig returns the default configuration: 7-day
// authorizations on wall-clock time.
func DefaultAuthorizerConfig() AuthorizerConfig {
	return AuthorizerConfig{ValidDays: 7, Now: time.Now}
}

// Authorizer creates, caches, and exercises decryption authorizations.
// All methods are safe for concurrent use.
type Authorizer struct {
	cop    fhe.Coprocessor
	signer Signer
	cfg    AuthorizerConfig
	logger *log.Logger

	mu    sync.Mutex
	cache map[common.Hash]*Authorization
	group singleflight.Group
}

// NewAuthorizer creates an Authorizer over the given coprocessor and
// wallet signer. Zero config fields are corrected to defaults.
func NewAuthorizer(cop fhe.Coprocessor, signer Signer, cfg AuthorizerConfig, logger *log.Logger) *Authorizer {
	if cfg.ValidDays == 0 {
		cfg.ValidDays = 7
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Authorizer{
		cop:    cop,
		signer: signer,
		cfg:    cfg,
		logger: logger.Module("authorizer"),
		cache:  make(map[common.Hash]*Authorization),
	}
}

// LoadOrSign returns a live authorization for (principal, contracts),
// reusing the cached one when it has not expired. Otherwise it generates
// an ephemeral key pair, asks the signer for a signature over the binding
// payload, caches the result, and returns it. Concurrent callers for the
// same key share one in-flight prompt; a declined prompt leaves the cache
// untouched.
func (a *Authorizer) LoadOrSign(ctx context.Context, principal common.Address, contracts []common.Address) (*Authorization, error) {
	sorted := normalizeContracts(contracts)
	key := cacheKey(principal, sorted)

	if cached := a.lookup(key); cached != nil {
		metrics.AuthCacheHits.Inc()
		return cached, nil
	}

	v, err, _ := a.group.Do(key.Hex(), func() (interface{}, error) {
		// A concurrent caller may have signed and cached while this call
		// waited on the flight group.
		if cached := a.lookup(key); cached != nil {
			metrics.AuthCacheHits.Inc()
			return cached, nil
		}

		priv, err := crypto.GenerateKey()
		if err != nil {
			return nil, fmt.Errorf("generate ephemeral key: %w", err)
		}
		token := fhe.DecryptAuth{
			Principal: principal,
			Contracts: sorted,
			PublicKey: crypto.FromECDSAPub(&priv.PublicKey),
			IssuedAt:  uint64(a.cfg.Now().Unix()),
			ValidDays: a.cfg.ValidDays,
		}

		metrics.SignPrompts.Inc()
		sig, err := a.signer.SignAuthorization(ctx, principal, token.PayloadHash())
		if err != nil {
			if errors.Is(err, ErrAuthorizationDeclined) {
				metrics.SignDeclined.Inc()
				a.logger.Info("signature prompt declined", "principal", principal.Hex())
			}
			return nil, err
		}
		token.Signature = sig

		authz := &Authorization{Token: token, Key: priv}
		a.mu.Lock()
		a.cache[key] = authz
		a.mu.Unlock()

		a.logger.Debug("authorization signed",
			"principal", principal.Hex(),
			"contracts", len(sorted),
			"expires", authz.ExpiresAt().Unix(),
		)
		return authz, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Authorization), nil
}

// DecryptBatch resolves the requested handles to plaintext under the
// given authorization. Duplicate requests are coalesced into one
// coprocessor round-trip. When only some handles decrypt, the successes
// are returned together with a *PartialDecryptError naming the rest.
func (a *Authorizer) DecryptBatch(ctx context.Context, authz *Authorization, reqs []fhe.DecryptRequest) (map[fhe.Handle]*uint256.Int, error) {
	switch authz.State(a.cfg.Now()) {
	case Unsigned:
		return nil, ErrAuthorizationUnsigned
	case Expired:
		return nil, fhe.ErrAuthorizationExpired
	}

	deduped := coalesce(reqs)
	timer := metrics.NewTimer(metrics.DecryptLatency)
	res, err := a.cop.DecryptBatch(ctx, authz.Token, deduped)
	timer.Stop()
	if err != nil {
		return nil, fmt.Errorf("decrypt batch: %w", err)
	}
	metrics.DecryptBatches.Inc()

	if len(res.Failed) > 0 {
		metrics.DecryptHandleFailures.Add(int64(len(res.Failed)))
		return res.Values, &PartialDecryptError{Decrypted: len(res.Values), Failed: res.Failed}
	}
	return res.Values, nil
}

// lookup returns the cached authorization for key if it is still Signed.
func (a *Authorizer) lookup(key common.Hash) *Authorization {
	a.mu.Lock()
	defer a.mu.Unlock()
	if cached, ok := a.cache[key]; ok && cached.State(a.cfg.Now()) == Signed {
		return cached
	}
	return nil
}

// normalizeContracts returns a sorted, deduplicated copy so that the same
// contract set always produces the same cache key and payload.
func normalizeContracts(contracts []common.Address) []common.Address {
	out := make([]common.Address, len(contracts))
	copy(out, contracts)
	sort.Slice(out, func(i, j int) bool {
		return bytes.Compare(out[i][:], out[j][:]) < 0
	})
	dst := out[:0]
	for i, c := range out {
		if i == 0 || c != out[i-1] {
			dst = append(dst, c)
		}
	}
	return dst
}

// cacheKey derives the cache key binding a principal to a contract set.
func cacheKey(principal common.Address, contracts []common.Address) common.Hash {
	d := sha3.NewLegacyKeccak256()
	d.Write(principal.Bytes())
	for _, c := range contracts {
		d.Write(c.Bytes())
	}
	var h common.Hash
	d.Sum(h[:0])
	return h
}

// coalesce drops duplicate (handle, contract) pairs, preserving first-seen
// order.
func coalesce(reqs []fhe.DecryptRequest) []fhe.DecryptRequest {
	seen := make(map[fhe.DecryptRequest]struct{}, len(reqs))
	out := make([]fhe.DecryptRequest, 0, len(reqs))
	for _, r := range reqs {
		if _, dup := seen[r]; dup {
			continue
		}
		seen[r] = struct{}{}
		out = append(out, r)
	}
	return out
}
