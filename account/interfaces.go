package account

import "time"

// Env is the capability bag threaded through every core operation
// (spec.md §9 "Global mutable state: none in the core"): the depository
// address is obtained through it explicitly rather than falling back to a
// zero address, and Now is injected so tests can control the clock.
type Env struct {
	Now          func() time.Time
	Depository   DepositoryAddressProvider
	Signer       SigningOracle
	Verifier     HankoVerifier
	TxHandler    TxHandler
	ProofBuilder DisputeProofBuilder
	FrameHasher  Hasher
}

func (e Env) now() time.Time {
	if e.Now == nil {
		return time.Now()
	}
	return e.Now()
}

// DepositoryAddress is a 20-byte jurisdiction contract address, used as a
// domain separator for the dispute hash (spec.md §6).
type DepositoryAddress [20]byte

// DepositoryAddressProvider supplies the active jurisdiction's depository
// address. There is deliberately no zero-address fallback (spec.md §9):
// a provider that returns an error surfaces as ErrInvalidAccountIdentifiers.
// Env.Depository itself is not nil-checked.
type DepositoryAddressProvider interface {
	DepositoryAddress(env Env) (DepositoryAddress, error)
}

// SigningOracle is the external entity-quorum ("Hanko") signing boundary
// (spec.md §6). One hanko is returned per input hash; an empty element
// surfaces as ErrSigningFailed.
type SigningOracle interface {
	SignHashesAsSingleEntity(env Env, entity EntityID, signerID uint32, hashes []Hash) ([][]byte, error)
}

// HankoVerificationResult is the outcome of verifying a hanko against a
// digest.
type HankoVerificationResult struct {
	Valid    bool
	EntityID EntityID
}

// HankoVerifier verifies an entity-quorum signature over a digest and
// recovers the signing entity; the result is Valid only when the recovered
// entity equals expectedEntity. Callers act on Valid alone.
type HankoVerifier interface {
	VerifyHankoForHash(env Env, hanko []byte, hash Hash, expectedEntity EntityID) (HankoVerificationResult, error)
}

// TxResult is what processAccountTx returns for a single transaction
// (spec.md §6).
type TxResult struct {
	Success            bool
	Error              error
	Events             []JEvent
	Secret             []byte
	Hashlock           [32]byte
	SwapOfferCreated   *Offer
	SwapOfferCancelled *[32]byte
	TimedOutHashlock   *[32]byte
}

// TxHandler is the injected, pure per-transaction executor (spec.md §6).
// When IsValidation is true it MUST NOT have persistent side effects
// outside of the passed-in machine, and MUST NOT mutate Collateral/OnDelta
// for any tx other than TxJEventClaim — the core asserts this via the
// settlement-vector guard (assertSettlementVectorInvariant) and treats a
// violation as fatal.
type TxHandler interface {
	ProcessAccountTx(m *AccountMachine, tx AccountTx, byLeft bool, timestamp int64, jHeight uint64, isValidation bool, env Env) (TxResult, error)
}

// ProofBodyStruct is the ABI-compatible snapshot of account state that a
// dispute proof attests to (spec.md §6). Its exact encoding is owned by
// the injected DisputeProofBuilder; the core only needs the resulting hash.
type ProofBodyStruct struct {
	ProofBodyHash    Hash
	EncodedProofBody []byte
}

// DisputeProofBuilder builds the ABI-encoded proof body for the current
// state of an account and binds it to a depository address (spec.md §6).
type DisputeProofBuilder interface {
	BuildAccountProofBody(m *AccountMachine) (ProofBodyStruct, error)
	CreateDisputeProofHash(m *AccountMachine, proofBodyHash Hash, depository DepositoryAddress) (Hash, error)
}
