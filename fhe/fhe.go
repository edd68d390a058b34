// Package fhe defines the boundary between the DriveScore ledger and the
// homomorphic-encryption coprocessor. The ledger never sees plaintext
// scores: it manipulates opaque handles through the Coprocessor interface
// (import with proof verification, add/sub, ACL grants, batched decryption)
// and stays generic over any concrete scheme.
package fhe

import (
	"context"
	"errors"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"golang.org/x/crypto/sha3"
)

var (
	// ErrInvalidProof is returned when an externally supplied ciphertext
	// fails its zero-knowledge proof of well-formedness.
	ErrInvalidProof = errors.New("fhe: invalid ciphertext proof")

	// ErrUnknownHandle is returned when an operation references a handle
	// the coprocessor has never imported or produced.
	ErrUnknownHandle = errors.New("fhe: unknown handle")

	// ErrHandleDenied is returned per handle when the requesting principal
	// holds no decryption grant for it.
	ErrHandleDenied = errors.New("fhe: decryption denied for handle")

	// ErrAuthorizationInvalid is returned when the signature on a
	// decryption authorization does not recover to its principal.
	ErrAuthorizationInvalid = errors.New("fhe: authorization signature invalid")

	// ErrAuthorizationExpired is returned when a decryption authorization
	// is presented after its validity window has closed.
	ErrAuthorizationExpired = errors.New("fhe: authorization expired")

	// ErrCapabilityUnavailable is returned when the coprocessor itself is
	// unreachable. Callers may retry; the ledger never retries on its own.
	ErrCapabilityUnavailable = errors.New("fhe: coprocessor unavailable")
)

// HandleLength is the byte length of an encrypted-value handle.
const HandleLength = 32

// Handle is an opaque reference to an encrypted unsigned integer held by
// the coprocessor. The zero handle references nothing.
type Handle [HandleLength]byte

// Hex returns the handle as a 0x-prefixed hex string.
func (h Handle) Hex() string { return common.Hash(h).Hex() }

// IsZero reports whether the handle is the zero value.
func (h Handle) IsZero() bool { return h == Handle{} }

// Ciphertext is an externally produced encrypted score together with its
// proof of well-formedness. Both fields are opaque to the ledger.
type Ciphertext struct {
	Blob  []byte
	Proof []byte
}

// DecryptRequest names one handle to decrypt and the ledger contract it
// was read from.
type DecryptRequest struct {
	Handle   Handle
	Contract common.Address
}

// DecryptResult carries the outcome of a batched decryption. Values holds
// the plaintexts of the handles that decrypted successfully; Failed maps
// each remaining handle to the reason it stayed opaque. A batch-level
// failure (bad signature, expiry, unavailable coprocessor) is reported as
// an error instead and leaves both maps empty.
type DecryptResult struct {
	Values map[Handle]*uint256.Int
	Failed map[Handle]error
}

// DecryptAuth is the signed, time-boxed capability a client presents with
// a batched decryption request. It binds an ephemeral public key to a
// principal, a set of ledger contracts, and a validity window.
type DecryptAuth struct {
	Principal common.Address
	Contracts []common.Address
	PublicKey []byte
	Signature []byte
	IssuedAt  uint64
	ValidDays uint64
}

// ExpiresAt returns the unix second at which the authorization lapses.
func (a DecryptAuth) ExpiresAt() uint64 {
	return a.IssuedAt + a.ValidDays*86400
}

// PayloadHash returns the keccak256 digest the wallet signs: the ephemeral
// public key, the contract set, and the validity window. The signature
// field itself is excluded.
func (a DecryptAuth) PayloadHash() common.Hash {
	d := sha3.NewLegacyKeccak256()
	d.Write(a.PublicKey)
	for _, c := range a.Contracts {
		d.Write(c.Bytes())
	}
	var window [16]byte
	putUint64(window[:8], a.IssuedAt)
	putUint64(window[8:], a.ValidDays)
	d.Write(window[:])
	var h common.Hash
	d.Sum(h[:0])
	return h
}

// Coprocessor is the encrypted-value capability consumed by the ledger.
// Implementations must treat handles as append-only: operations mint new
// handles and never mutate the value behind an existing one.
type Coprocessor interface {
	// VerifyAndImport checks the proof on an external ciphertext and, on
	// success, imports it and returns its handle. Fails with
	// ErrInvalidProof when verification fails.
	VerifyAndImport(ct Ciphertext) (Handle, error)

	// Add returns a handle to the homomorphic sum a+b.
	Add(a, b Handle) (Handle, error)

	// Sub returns a handle to the homomorphic difference a-b.
	Sub(a, b Handle) (Handle, error)

	// Grant allows grantee to decrypt the value behind h.
	Grant(h Handle, grantee common.Address) error

	// DecryptBatch resolves every requested handle to plaintext under the
	// presented authorization, reporting per-handle failures through
	// DecryptResult.Failed.
	DecryptBatch(ctx context.Context, auth DecryptAuth, reqs []DecryptRequest) (*DecryptResult, error)
}

func putUint64(b []byte, v uint64) {
	_ = b[7]
	b[0] = byte(v >> 56)
	b[1] = byte(v >> 48)
	b[2] = byte(v >> 40)
	b[3] = byte(v >> 32)
	b[4] = byte(v >> 24)
	b[5] = byte(v >> 16)
	b[6] = byte(v >> 8)
	b[7] = byte(v)
}
