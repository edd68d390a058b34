// mock.go implements a plaintext-shadowing Coprocessor for tests and the
// in-process backend. It tracks the true value behind every handle so test
// code can assert round-trips and ACL behavior without a real scheme.
// Proofs are modeled as the keccak256 digest of the ciphertext blob.
package fhe

import (
	"bytes"
	"context"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
	"golang.org/x/crypto/sha3"
)

// MockCoprocessor is an in-memory Coprocessor. All methods are safe for
// concurrent use.
type MockCoprocessor struct {
	mu          sync.Mutex
	now         func() time.Time
	shadow      map[Handle]*uint256.Int
	acl         map[Handle]map[common.Address]struct{}
	nonce       uint64
	unavailable bool
}

// NewMockCoprocessor returns an empty MockCoprocessor using wall-clock time
// for authorization expiry checks.
func NewMockCoprocessor() *MockCoprocessor {
	return &MockCoprocessor{
		now:    time.Now,
		shadow: make(map[Handle]*uint256.Int),
		acl:    make(map[Handle]map[common.Address]struct{}),
	}
}

// SetNow replaces the clock used for expiry checks. Tests use this to pin
// time.
func (m *MockCoprocessor) SetNow(now func() time.Time) {
	m.mu.Lock()
	m.now = now
	m.mu.Unlock()
}

// SetUnavailable toggles simulated coprocessor outage. While unavailable,
// every operation fails with ErrCapabilityUnavailable.
func (m *MockCoprocessor) SetUnavailable(down bool) {
	m.mu.Lock()
	m.unavailable = down
	m.mu.Unlock()
}

// Encrypt produces a ciphertext for value together with a valid proof. It
// stands in for the client-side encryption the real scheme performs in the
// user's wallet.
func (m *MockCoprocessor) Encrypt(value uint64) Ciphertext {
	m.mu.Lock()
	m.nonce++
	salt := m.nonce
	m.mu.Unlock()

	blob := make([]byte, 16)
	putUint64(blob[:8], value)
	putUint64(blob[8:], salt)
	return Ciphertext{Blob: blob, Proof: proofFor(blob)}
}

// VerifyAndImport checks the proof against the blob, then registers a fresh
// handle shadowing the encoded value. No grants are attached; the ledger
// issues those explicitly.
func (m *MockCoprocessor) VerifyAndImport(ct Ciphertext) (Handle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.unavailable {
		return Handle{}, ErrCapabilityUnavailable
	}
	if len(ct.Blob) != 16 || !bytes.Equal(ct.Proof, proofFor(ct.Blob)) {
		return Handle{}, ErrInvalidProof
	}
	value := uint64(0)
	for _, b := range ct.Blob[:8] {
		value = value<<8 | uint64(b)
	}
	h := m.mint("import", ct.Blob)
	m.shadow[h] = uint256.NewInt(value)
	m.acl[h] = make(map[common.Address]struct{})
	return h, nil
}

// Add returns a fresh handle shadowing a+b.
func (m *MockCoprocessor) Add(a, b Handle) (Handle, error) {
	return m.binop("add", a, b, func(x, y *uint256.Int) *uint256.Int {
		return new(uint256.Int).Add(x, y)
	})
}

// Sub returns a fresh handle shadowing a-b. Like the encrypted integers it
// stands in for, the difference wraps modulo 2^256.
func (m *MockCoprocessor) Sub(a, b Handle) (Handle, error) {
	return m.binop("sub", a, b, func(x, y *uint256.Int) *uint256.Int {
		return new(uint256.Int).Sub(x, y)
	})
}

// Grant allows grantee to decrypt the value behind h.
func (m *MockCoprocessor) Grant(h Handle, grantee common.Address) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.unavailable {
		return ErrCapabilityUnavailable
	}
	if _, ok := m.shadow[h]; !ok {
		return ErrUnknownHandle
	}
	m.acl[h][grantee] = struct{}{}
	return nil
}

// Plaintext returns the true value shadowing h, bypassing every ACL
// check. Test helper.
func (m *MockCoprocessor) Plaintext(h Handle) (*uint256.Int, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.shadow[h]
	if !ok {
		return nil, false
	}
	return v.Clone(), true
}

// HasGrant reports whether grantee may decrypt h. Test helper.
func (m *MockCoprocessor) HasGrant(h Handle, grantee common.Address) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.acl[h][grantee]
	return ok
}

// DecryptBatch validates the authorization signature and window, then
// resolves each handle independently. A handle unknown to the coprocessor
// or not granted to the authorization's principal lands in Failed; the
// rest decrypt into Values.
func (m *MockCoprocessor) DecryptBatch(ctx context.Context, auth DecryptAuth, reqs []DecryptRequest) (*DecryptResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.unavailable {
		return nil, ErrCapabilityUnavailable
	}
	payload := auth.PayloadHash()
	pub, err := crypto.SigToPub(payload[:], auth.Signature)
	if err != nil || crypto.PubkeyToAddress(*pub) != auth.Principal {
		return nil, ErrAuthorizationInvalid
	}
	if uint64(m.now().Unix()) >= auth.ExpiresAt() {
		return nil, ErrAuthorizationExpired
	}

	res := &DecryptResult{
		Values: make(map[Handle]*uint256.Int),
		Failed: make(map[Handle]error),
	}
	for _, req := range reqs {
		v, ok := m.shadow[req.Handle]
		if !ok {
			res.Failed[req.Handle] = ErrUnknownHandle
			continue
		}
		if _, granted := m.acl[req.Handle][auth.Principal]; !granted {
			res.Failed[req.Handle] = ErrHandleDenied
			continue
		}
		res.Values[req.Handle] = v.Clone()
	}
	return res, nil
}

// binop applies op to the shadows of a and b under the lock.
func (m *MockCoprocessor) binop(tag string, a, b Handle, op func(x, y *uint256.Int) *uint256.Int) (Handle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.unavailable {
		return Handle{}, ErrCapabilityUnavailable
	}
	x, ok := m.shadow[a]
	if !ok {
		return Handle{}, ErrUnknownHandle
	}
	y, ok := m.shadow[b]
	if !ok {
		return Handle{}, ErrUnknownHandle
	}
	h := m.mint(tag, append(append([]byte{}, a[:]...), b[:]...))
	m.shadow[h] = op(x, y)
	m.acl[h] = make(map[common.Address]struct{})
	return h, nil
}

// mint derives a fresh handle from an operation tag, its operand bytes,
// and a monotonically increasing nonce. Callers must hold m.mu.
func (m *MockCoprocessor) mint(tag string, operands []byte) Handle {
	m.nonce++
	var n [8]byte
	putUint64(n[:], m.nonce)
	d := sha3.NewLegacyKeccak256()
	d.Write([]byte(tag))
	d.Write(operands)
	d.Write(n[:])
	var h Handle
	d.Sum(h[:0])
	return h
}

func proofFor(blob []byte) []byte {
	d := sha3.NewLegacyKeccak256()
	d.Write(blob)
	return d.Sum(nil)
}
