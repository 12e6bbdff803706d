package account

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// fakeHasher is a deterministic, non-cryptographic stand-in for
// crypto.KeccakProvider so the core package's tests never import the
// crypto package (which in turn imports account) and stay hermetic.
type fakeHasher struct{}

func (fakeHasher) Keccak256(data ...[]byte) [32]byte {
	var out [32]byte
	var acc uint64 = 14695981039346656037 // FNV offset basis
	for _, d := range data {
		for _, b := range d {
			acc ^= uint64(b)
			acc *= 1099511628211
		}
	}
	for i := 0; i < 32; i++ {
		out[i] = byte(acc >> (8 * uint(i%8)))
		acc = acc*1099511628211 + uint64(i)
	}
	return out
}

// fakeSigner is a deterministic signing+verification stand-in keyed by
// EntityID: the "signature" is simply the hash prefixed by the signer's
// id, and verification checks that prefix. This keeps the core tests free
// of any real cryptography while still exercising the signature-shaped
// code paths (mismatched entity, empty hanko, tamper detection).
type fakeSigner struct {
	mu      sync.Mutex
	invalid map[string]bool // hash-hex -> force-invalid, for tamper tests
}

func newFakeSigner() *fakeSigner {
	return &fakeSigner{invalid: make(map[string]bool)}
}

func (s *fakeSigner) SignHashesAsSingleEntity(env Env, entity EntityID, signerID uint32, hashes []Hash) ([][]byte, error) {
	out := make([][]byte, len(hashes))
	for i, h := range hashes {
		sig := make([]byte, 32+len(h))
		copy(sig, entity[:])
		copy(sig[32:], h[:])
		out[i] = sig
	}
	return out, nil
}

func (s *fakeSigner) VerifyHankoForHash(env Env, hanko []byte, hash Hash, expectedEntity EntityID) (HankoVerificationResult, error) {
	if len(hanko) != 32+len(hash) {
		return HankoVerificationResult{}, nil
	}
	var signer EntityID
	copy(signer[:], hanko[:32])
	if string(hanko[32:]) != string(hash[:]) {
		return HankoVerificationResult{}, nil
	}
	s.mu.Lock()
	forceBad := s.invalid[fmt.Sprintf("%x", hash)]
	s.mu.Unlock()
	if forceBad {
		return HankoVerificationResult{}, nil
	}
	return HankoVerificationResult{Valid: signer == expectedEntity, EntityID: signer}, nil
}

type fakeDepository struct{ addr DepositoryAddress }

func (f fakeDepository) DepositoryAddress(env Env) (DepositoryAddress, error) {
	return f.addr, nil
}

// testEntity builds a deterministic 32-byte EntityID from a single seed
// byte, so tests can refer to "left" and "right" without real key
// generation.
func testEntity(seed byte) EntityID {
	var id EntityID
	for i := range id {
		id[i] = seed
	}
	return id
}

// clockAt returns an Env.Now func that starts at start and advances by
// step each call so successive frames get strictly increasing timestamps.
func clockAt(start time.Time, step time.Duration) func() time.Time {
	mu := sync.Mutex{}
	cur := start
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		now := cur
		cur = cur.Add(step)
		return now
	}
}

// newTestEnv builds an Env wired entirely to the fakes above.
func newTestEnv(signer *fakeSigner, depository DepositoryAddress, now func() time.Time) Env {
	return Env{
		Now:          now,
		Depository:   fakeDepository{addr: depository},
		Signer:       signer,
		Verifier:     signer,
		TxHandler:    DefaultTxHandler{},
		ProofBuilder: DefaultProofBuilder{Hasher: fakeHasher{}},
		FrameHasher:  fakeHasher{},
	}
}

func paymentTx(tokenID uint32, amount string) AccountTx {
	data, err := json.Marshal(PaymentData{TokenID: tokenID, Amount: amount})
	if err != nil {
		panic(err)
	}
	return AccountTx{Type: TxPayment, Data: data}
}

func creditLimitTx(tokenID uint32, left bool, limit string) AccountTx {
	data, err := json.Marshal(CreditLimitData{TokenID: tokenID, Left: left, Limit: limit})
	if err != nil {
		panic(err)
	}
	return AccountTx{Type: TxCreditLimit, Data: data}
}
