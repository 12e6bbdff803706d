// Package account implements bilateral off-chain account consensus between
// the left and right entities of a payment-channel-like ledger: a
// hash-chained sequence of account frames that atomically apply batches of
// account transactions, with a 2-of-2 finalizer for jurisdiction (J-machine)
// observations and dispute-proof binding for unilateral on-chain
// enforcement.
package account

import (
	"bytes"
	"fmt"
	"sort"
	"strings"
	"time"
)

// EntityID is an opaque 32-byte entity identifier. "Left" and "right" are
// purely lexicographic on these bytes.
type EntityID [32]byte

func (e EntityID) Less(other EntityID) bool {
	return bytes.Compare(e[:], other[:]) < 0
}

func (e EntityID) IsZero() bool {
	var zero EntityID
	return e == zero
}

// MarshalJSON renders the id as a 0x-prefixed lowercase hex string, the
// same textual form the proof-body encoder uses, for disk-snapshot
// readability.
func (e EntityID) MarshalJSON() ([]byte, error) {
	return []byte(`"0x` + hexEncode(e[:]) + `"`), nil
}

// UnmarshalJSON is the inverse of MarshalJSON.
func (e *EntityID) UnmarshalJSON(data []byte) error {
	return unmarshalFixedHex(data, e[:])
}

// Hash is a 32-byte digest (keccak-256 output).
type Hash [32]byte

// MarshalJSON renders the hash as a 0x-prefixed lowercase hex string.
func (h Hash) MarshalJSON() ([]byte, error) {
	return []byte(`"0x` + hexEncode(h[:]) + `"`), nil
}

// UnmarshalJSON is the inverse of MarshalJSON.
func (h *Hash) UnmarshalJSON(data []byte) error {
	return unmarshalFixedHex(data, h[:])
}

func unmarshalFixedHex(data []byte, out []byte) error {
	s := strings.Trim(string(data), `"`)
	s = strings.TrimPrefix(s, "0x")
	if len(s) != len(out)*2 {
		return fmt.Errorf("account: hex length mismatch: want %d chars, got %d", len(out)*2, len(s))
	}
	for i := range out {
		hi, err := hexNibble(s[i*2])
		if err != nil {
			return err
		}
		lo, err := hexNibble(s[i*2+1])
		if err != nil {
			return err
		}
		out[i] = hi<<4 | lo
	}
	return nil
}

func hexNibble(c byte) (byte, error) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', nil
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, nil
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10, nil
	default:
		return 0, fmt.Errorf("account: invalid hex digit %q", c)
	}
}

// GenesisHash is the zero Hash. A height-1 frame does not carry it: its
// PrevFrameHash is the literal string genesisMarker ("genesis", I2).
var GenesisHash = Hash{}

const genesisMarker = "genesis"

// Delta holds the per-token-id bilateral/unilateral state for an account
// (spec.md §3). Bilateral fields (B) must match bit-for-bit between peers
// after every committed frame (I4); unilateral fields (U) may lag until a
// matching J-event is 2-of-2 finalized (I9).
type Delta struct {
	TokenID uint32

	// Unilateral (U): advanced only by finalized J-events.
	Collateral SignedInt
	OnDelta    SignedInt

	// Bilateral (B): advanced only by committed frames.
	OffDelta         SignedInt
	LeftCreditLimit  SignedInt
	RightCreditLimit SignedInt
	LeftAllowance    SignedInt
	RightAllowance   SignedInt

	LeftHtlcHold    SignedInt
	RightHtlcHold   SignedInt
	LeftSwapHold    SignedInt
	RightSwapHold   SignedInt
	LeftSettleHold  SignedInt
	RightSettleHold SignedInt
}

// HasBilateralFootprint implements the I5 inclusion predicate: a token
// belongs in a frame's tokenIds iff it has a non-zero bilateral footprint.
// Collateral/ondelta alone never include a token.
func (d Delta) HasBilateralFootprint() bool {
	if !d.OffDelta.IsZero() || !d.LeftCreditLimit.IsZero() || !d.RightCreditLimit.IsZero() {
		return true
	}
	holds := []SignedInt{d.LeftHtlcHold, d.RightHtlcHold, d.LeftSwapHold, d.RightSwapHold, d.LeftSettleHold, d.RightSettleHold}
	for _, h := range holds {
		if !h.IsZero() {
			return true
		}
	}
	return false
}

// EqualBilateral compares only the B-subset of two deltas (used for the I4
// bilateral-equivalence check and the §4.3 step-7 injection guard).
func (d Delta) EqualBilateral(other Delta) bool {
	return d.OffDelta.Equal(other.OffDelta) &&
		d.LeftCreditLimit.Equal(other.LeftCreditLimit) &&
		d.RightCreditLimit.Equal(other.RightCreditLimit) &&
		d.LeftAllowance.Equal(other.LeftAllowance) &&
		d.RightAllowance.Equal(other.RightAllowance) &&
		d.LeftHtlcHold.Equal(other.LeftHtlcHold) &&
		d.RightHtlcHold.Equal(other.RightHtlcHold) &&
		d.LeftSwapHold.Equal(other.LeftSwapHold) &&
		d.RightSwapHold.Equal(other.RightSwapHold) &&
		d.LeftSettleHold.Equal(other.LeftSettleHold) &&
		d.RightSettleHold.Equal(other.RightSettleHold)
}

// Clone returns a deep (value) copy; Delta has no pointer fields so a plain
// copy suffices, but the method documents the clone-then-commit contract
// used throughout the proposer/receiver (spec.md §9 "Ownership").
func (d Delta) Clone() Delta { return d }

// AccountTx is a discriminated account transaction. The concrete variant
// set is open by design (spec.md §9 "Polymorphism"); the core only inspects
// Type == TxJEventClaim to drive C7, and otherwise defers fully to the
// injected TxHandler.
type AccountTx struct {
	Type TxType
	Data []byte // handler-specific encoding; opaque to the core
}

type TxType string

const (
	TxPayment     TxType = "payment"
	TxCreditLimit TxType = "credit_limit"
	TxHTLCLock    TxType = "htlc_lock"
	TxHTLCResolve TxType = "htlc_resolve"
	TxSwapOffer   TxType = "swap_offer"
	TxSwapAccept  TxType = "swap_accept"
	TxSettle      TxType = "settle"
	TxJEventClaim TxType = "j_event_claim"
)

// JEventClaim is the decoded payload of a TxJEventClaim transaction (§4.7).
type JEventClaim struct {
	JHeight    uint64
	JBlockHash Hash
	Events     []JEvent
}

// JEvent is a single observed jurisdiction event. The only event type the
// core interprets is AccountSettled; other event kinds are passed through
// to the tx handler untouched.
type JEvent struct {
	Kind       string
	TokenID    uint32
	Collateral SignedInt
	OnDelta    SignedInt
}

const JEventAccountSettled = "AccountSettled"

// Frame is a committed (or pending) batch of account transactions plus the
// resulting bilateral delta state, hash-chained to the previous frame
// (spec.md §3).
type Frame struct {
	Height          uint64
	Timestamp       int64
	JHeight         uint64
	PrevFrameHash   string // "genesis" at height 1, else 0x-prefixed lowercase hex
	AccountTxs      []AccountTx
	TokenIds        []uint32
	Deltas          []SignedInt // offdelta per TokenIds[i] after execution
	FullDeltaStates []Delta     // parallel to TokenIds
	ByLeft          bool
	StateHash       Hash
}

// Clone deep-copies a frame (slices are re-allocated) for the
// clone-then-commit proposer/receiver pattern.
func (f *Frame) Clone() *Frame {
	if f == nil {
		return nil
	}
	cp := *f
	cp.AccountTxs = append([]AccountTx(nil), f.AccountTxs...)
	cp.TokenIds = append([]uint32(nil), f.TokenIds...)
	cp.Deltas = append([]SignedInt(nil), f.Deltas...)
	cp.FullDeltaStates = append([]Delta(nil), f.FullDeltaStates...)
	return &cp
}

// ProofHeader identifies the bilateral message stream and carries the two
// monotonic counters described in spec.md §3/I8: Nonce (incremented once
// per outbound envelope) and DisputeNonce (the height a dispute proof was
// built at).
type ProofHeader struct {
	FromEntity   EntityID
	ToEntity     EntityID
	Nonce        uint64
	DisputeNonce uint64
}

// Lock and Offer are opaque to the core; the tx handler owns their
// lifecycle (HTLC locks, swap offers). They are kept on AccountMachine only
// so the handler has somewhere durable to stash state across txs within a
// frame and across frames.
type Lock struct {
	ID      [32]byte
	Payload []byte
}

type Offer struct {
	ID      [32]byte
	Payload []byte
}

// jKey identifies a jurisdiction observation by (jHeight, jBlockHash) for
// the C7 2-of-2 match.
type jKey struct {
	JHeight    uint64
	JBlockHash Hash
}

// JObservation is one side's claim about a jurisdiction block.
type JObservation struct {
	JHeight    uint64
	JBlockHash Hash
	Events     []JEvent
}

// FinalizedJEvent is an entry in the append-only jEventChain (§4.7).
type FinalizedJEvent struct {
	JHeight     uint64
	JBlockHash  Hash
	Events      []JEvent
	FinalizedAt time.Time
}

// Resource bounds from spec.md §5.
const (
	MaxMempoolSize             = 1000
	MaxFrameBytes              = 1 << 20 // 1 MiB
	MaxAccountTxsPerFrame      = 100
	MaxFrameHistory            = 10
	MaxRollbackCount           = 1
	ClockSkewTolerance         = 5 * time.Minute
	TimestampBackslipTolerance = time.Second
)

// AccountMachine is the bilateral replicated state machine for one ordered
// (left, right) account (spec.md §3). All operations on a given
// AccountMachine are expected to be strictly serialized by the caller
// (spec.md §5); the core itself holds no lock.
type AccountMachine struct {
	LeftEntity  EntityID
	RightEntity EntityID
	ProofHeader ProofHeader

	CurrentHeight uint64
	CurrentFrame  Frame
	FrameHistory  []Frame // ring buffer, cap MaxFrameHistory

	Deltas  map[uint32]Delta
	Mempool []AccountTx

	PendingFrame        *Frame
	PendingAccountInput *AccountInput

	CounterpartyFrameHanko           []byte
	CounterpartyDisputeProofHanko    []byte
	CounterpartyDisputeProofBodyHash Hash
	CounterpartyDisputeProofNonce    uint64

	CurrentDisputeProofHanko    []byte
	CurrentDisputeProofBodyHash Hash
	CurrentDisputeProofNonce    uint64

	DisputeProofNoncesByHash map[Hash]uint64
	DisputeProofBodiesByHash map[Hash][]byte

	RollbackCount            uint32
	LastRollbackFrameHash    Hash
	HasLastRollbackFrameHash bool

	LeftJObservations    []JObservation
	RightJObservations   []JObservation
	JEventChain          []FinalizedJEvent
	LastFinalizedJHeight uint64

	Locks      map[[32]byte]Lock
	SwapOffers map[[32]byte]Offer

	FailedHtlcLocks [][32]byte // HTLC-lock txs that failed validation in the last successful propose (§4.2 step 4)
}

// NewAccountMachine creates an account at genesis: height 0, empty deltas
// and history (spec.md §3 "Lifecycle"). self is the identity of whoever
// is constructing this copy of the machine and counterparty is the other
// side; LeftEntity/RightEntity are derived by lexicographic order of the
// two (purely a canonical tiebreak label), but ProofHeader.FromEntity
// always tracks self so IsLeft(m.ProofHeader.FromEntity) correctly
// reports which side *this* machine instance represents, independent of
// who happens to be lexicographically left.
func NewAccountMachine(self, counterparty EntityID) *AccountMachine {
	left, right := self, counterparty
	if right.Less(left) {
		left, right = right, left
	}
	return &AccountMachine{
		LeftEntity:               left,
		RightEntity:              right,
		ProofHeader:              ProofHeader{FromEntity: self, ToEntity: counterparty},
		Deltas:                   make(map[uint32]Delta),
		DisputeProofNoncesByHash: make(map[Hash]uint64),
		DisputeProofBodiesByHash: make(map[Hash][]byte),
		Locks:                    make(map[[32]byte]Lock),
		SwapOffers:               make(map[[32]byte]Offer),
		CurrentFrame:             Frame{PrevFrameHash: genesisMarker},
	}
}

// IsLeft reports whether id is the left side of this account.
func (m *AccountMachine) IsLeft(id EntityID) bool { return id == m.LeftEntity }

// Clone deep-copies the machine for the proposer's validation clone
// (spec.md §4.2 step 3, §9 "Ownership": the proposer takes &mut, builds an
// owned clone, mutates it, and only commits the original by move once every
// signature succeeds).
func (m *AccountMachine) Clone() *AccountMachine {
	cp := *m
	cp.CurrentFrame = *m.CurrentFrame.Clone()
	cp.FrameHistory = append([]Frame(nil), m.FrameHistory...)
	cp.Deltas = make(map[uint32]Delta, len(m.Deltas))
	for k, v := range m.Deltas {
		cp.Deltas[k] = v
	}
	cp.Mempool = append([]AccountTx(nil), m.Mempool...)
	cp.PendingFrame = m.PendingFrame.Clone()
	cp.DisputeProofNoncesByHash = cloneHashUintMap(m.DisputeProofNoncesByHash)
	cp.DisputeProofBodiesByHash = cloneHashBytesMap(m.DisputeProofBodiesByHash)
	cp.LeftJObservations = append([]JObservation(nil), m.LeftJObservations...)
	cp.RightJObservations = append([]JObservation(nil), m.RightJObservations...)
	cp.JEventChain = append([]FinalizedJEvent(nil), m.JEventChain...)
	cp.Locks = cloneLockMap(m.Locks)
	cp.SwapOffers = cloneOfferMap(m.SwapOffers)
	cp.FailedHtlcLocks = nil
	return &cp
}

func cloneHashUintMap(in map[Hash]uint64) map[Hash]uint64 {
	out := make(map[Hash]uint64, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func cloneHashBytesMap(in map[Hash][]byte) map[Hash][]byte {
	out := make(map[Hash][]byte, len(in))
	for k, v := range in {
		out[k] = append([]byte(nil), v...)
	}
	return out
}

func cloneLockMap(in map[[32]byte]Lock) map[[32]byte]Lock {
	out := make(map[[32]byte]Lock, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func cloneOfferMap(in map[[32]byte]Offer) map[[32]byte]Offer {
	out := make(map[[32]byte]Offer, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// pushFrameHistory appends f to the bounded ring buffer (cap MaxFrameHistory).
func (m *AccountMachine) pushFrameHistory(f Frame) {
	m.FrameHistory = append(m.FrameHistory, f)
	if len(m.FrameHistory) > MaxFrameHistory {
		m.FrameHistory = m.FrameHistory[len(m.FrameHistory)-MaxFrameHistory:]
	}
}

// sortedTokenIds returns the ascending token ids currently carrying a
// bilateral footprint (I5, I6).
func (m *AccountMachine) sortedTokenIds() []uint32 {
	ids := make([]uint32, 0, len(m.Deltas))
	for id, d := range m.Deltas {
		if d.HasBilateralFootprint() {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
