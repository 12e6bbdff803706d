// Package store persists account machines to a bbolt-backed key/value
// database: a fixed set of buckets shared by all accounts, with machine
// and frame entries keyed by the account's ordered (left, right) entity
// ids (spec.md §3, §9 "Persistence").
package store

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"

	"accord.dev/account"
)

var (
	bucketMachines     = []byte("account_machines")
	bucketFrameHistory = []byte("frame_history_by_account")
	bucketDisputeBody  = []byte("dispute_proof_bodies_by_hash")
	bucketDisputeNonce = []byte("dispute_proof_nonces_by_hash")
)

// DB is a bbolt-backed store for account machines, mirroring the teacher's
// single-file-per-chain bbolt layout.
type DB struct {
	db *bolt.DB
}

// Open opens (creating if absent) the bbolt database at
// filepath.Join(dataDir, "accounts.db").
func Open(dataDir string) (*DB, error) {
	if dataDir == "" {
		return nil, fmt.Errorf("store: dataDir required")
	}
	path := filepath.Join(dataDir, "accounts.db")
	bdb, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("store: open bbolt: %w", err)
	}
	d := &DB{db: bdb}
	if err := d.db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{bucketMachines, bucketFrameHistory, bucketDisputeBody, bucketDisputeNonce} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return fmt.Errorf("store: create bucket %s: %w", string(b), err)
			}
		}
		return nil
	}); err != nil {
		_ = bdb.Close()
		return nil, err
	}
	return d, nil
}

func (d *DB) Close() error {
	if d == nil || d.db == nil {
		return nil
	}
	return d.db.Close()
}

// accountKey is the ordered-pair bbolt key for an account: left entity id
// followed by right entity id.
func accountKey(left, right account.EntityID) []byte {
	key := make([]byte, 64)
	copy(key[:32], left[:])
	copy(key[32:], right[:])
	return key
}

// machineWire is the JSON-on-disk snapshot of an AccountMachine, mirroring
// the teacher's JSON manifest pattern rather than a raw Go-internal gob
// dump, so the persisted state stays human-inspectable. Unlike the frame
// hash, this is disk serialization only and is never hashed.
type machineWire struct {
	LeftEntity  account.EntityID    `json:"leftEntity"`
	RightEntity account.EntityID    `json:"rightEntity"`
	ProofHeader account.ProofHeader `json:"proofHeader"`

	CurrentHeight uint64        `json:"currentHeight"`
	CurrentFrame  account.Frame `json:"currentFrame"`

	Deltas  map[uint32]account.Delta `json:"deltas"`
	Mempool []account.AccountTx      `json:"mempool"`

	PendingFrame        *account.Frame        `json:"pendingFrame,omitempty"`
	PendingAccountInput *account.AccountInput `json:"pendingAccountInput,omitempty"`

	RollbackCount            uint32       `json:"rollbackCount"`
	LastRollbackFrameHash    account.Hash `json:"lastRollbackFrameHash"`
	HasLastRollbackFrameHash bool         `json:"hasLastRollbackFrameHash"`

	LeftJObservations    []account.JObservation    `json:"leftJObservations"`
	RightJObservations   []account.JObservation    `json:"rightJObservations"`
	JEventChain          []account.FinalizedJEvent `json:"jEventChain"`
	LastFinalizedJHeight uint64                    `json:"lastFinalizedJHeight"`

	CurrentDisputeProofHanko    []byte       `json:"currentDisputeProofHanko,omitempty"`
	CurrentDisputeProofBodyHash account.Hash `json:"currentDisputeProofBodyHash"`
	CurrentDisputeProofNonce    uint64       `json:"currentDisputeProofNonce"`

	CounterpartyFrameHanko           []byte       `json:"counterpartyFrameHanko,omitempty"`
	CounterpartyDisputeProofHanko    []byte       `json:"counterpartyDisputeProofHanko,omitempty"`
	CounterpartyDisputeProofBodyHash account.Hash `json:"counterpartyDisputeProofBodyHash"`
	CounterpartyDisputeProofNonce    uint64       `json:"counterpartyDisputeProofNonce"`

	// Locks/SwapOffers/the two dispute-proof forward indices are all keyed
	// by [32]byte or Hash in memory, which encoding/json cannot use as a
	// map key (only strings, integers, and encoding.TextMarshaler types
	// qualify), so the disk form is a slice of entries instead.
	Locks                    []lockWire         `json:"locks"`
	SwapOffers               []offerWire        `json:"swapOffers"`
	DisputeProofNoncesByHash []disputeNonceWire `json:"disputeProofNoncesByHash"`
	DisputeProofBodiesByHash []disputeBodyWire  `json:"disputeProofBodiesByHash"`
}

type lockWire struct {
	ID      account.Hash `json:"id"`
	Payload []byte       `json:"payload"`
}

type offerWire struct {
	ID      account.Hash `json:"id"`
	Payload []byte       `json:"payload"`
}

type disputeNonceWire struct {
	Hash  account.Hash `json:"hash"`
	Nonce uint64       `json:"nonce"`
}

type disputeBodyWire struct {
	Hash account.Hash `json:"hash"`
	Body []byte       `json:"body"`
}

// PutMachine snapshots m (including its dispute-proof indices) and writes
// it under its account key. Frame history is persisted in its own bucket;
// the by-hash dispute-proof buckets are written only by PutDisputeProof.
func (d *DB) PutMachine(m *account.AccountMachine) error {
	wire := machineWire{
		LeftEntity:                  m.LeftEntity,
		RightEntity:                 m.RightEntity,
		ProofHeader:                 m.ProofHeader,
		CurrentHeight:               m.CurrentHeight,
		CurrentFrame:                m.CurrentFrame,
		Deltas:                      m.Deltas,
		Mempool:                     m.Mempool,
		PendingFrame:                m.PendingFrame,
		PendingAccountInput:         m.PendingAccountInput,
		RollbackCount:               m.RollbackCount,
		LastRollbackFrameHash:       m.LastRollbackFrameHash,
		HasLastRollbackFrameHash:    m.HasLastRollbackFrameHash,
		LeftJObservations:           m.LeftJObservations,
		RightJObservations:          m.RightJObservations,
		JEventChain:                 m.JEventChain,
		LastFinalizedJHeight:        m.LastFinalizedJHeight,
		CurrentDisputeProofHanko:    m.CurrentDisputeProofHanko,
		CurrentDisputeProofBodyHash: m.CurrentDisputeProofBodyHash,
		CurrentDisputeProofNonce:    m.CurrentDisputeProofNonce,

		CounterpartyFrameHanko:           m.CounterpartyFrameHanko,
		CounterpartyDisputeProofHanko:    m.CounterpartyDisputeProofHanko,
		CounterpartyDisputeProofBodyHash: m.CounterpartyDisputeProofBodyHash,
		CounterpartyDisputeProofNonce:    m.CounterpartyDisputeProofNonce,

		Locks:                    encodeLocks(m.Locks),
		SwapOffers:               encodeOffers(m.SwapOffers),
		DisputeProofNoncesByHash: encodeDisputeNonces(m.DisputeProofNoncesByHash),
		DisputeProofBodiesByHash: encodeDisputeBodies(m.DisputeProofBodiesByHash),
	}
	val, err := json.Marshal(wire)
	if err != nil {
		return fmt.Errorf("store: marshal machine: %w", err)
	}
	key := accountKey(m.LeftEntity, m.RightEntity)
	if err := d.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketMachines).Put(key, val)
	}); err != nil {
		return err
	}
	return d.putFrameHistory(m.LeftEntity, m.RightEntity, m.FrameHistory)
}

// GetMachine loads a previously persisted account machine, or (nil, false,
// nil) if none exists yet for this pair.
func (d *DB) GetMachine(left, right account.EntityID) (*account.AccountMachine, bool, error) {
	key := accountKey(left, right)
	var raw []byte
	err := d.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketMachines).Get(key)
		if v == nil {
			return nil
		}
		raw = append([]byte(nil), v...)
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	if raw == nil {
		return nil, false, nil
	}
	var wire machineWire
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, false, fmt.Errorf("store: unmarshal machine: %w", err)
	}
	m := account.NewAccountMachine(wire.ProofHeader.FromEntity, wire.ProofHeader.ToEntity)
	m.ProofHeader = wire.ProofHeader
	m.CurrentHeight = wire.CurrentHeight
	m.CurrentFrame = wire.CurrentFrame
	m.Deltas = wire.Deltas
	if m.Deltas == nil {
		m.Deltas = make(map[uint32]account.Delta)
	}
	m.Mempool = wire.Mempool
	m.PendingFrame = wire.PendingFrame
	m.PendingAccountInput = wire.PendingAccountInput
	m.RollbackCount = wire.RollbackCount
	m.LastRollbackFrameHash = wire.LastRollbackFrameHash
	m.HasLastRollbackFrameHash = wire.HasLastRollbackFrameHash
	m.LeftJObservations = wire.LeftJObservations
	m.RightJObservations = wire.RightJObservations
	m.JEventChain = wire.JEventChain
	m.LastFinalizedJHeight = wire.LastFinalizedJHeight
	m.CurrentDisputeProofHanko = wire.CurrentDisputeProofHanko
	m.CurrentDisputeProofBodyHash = wire.CurrentDisputeProofBodyHash
	m.CurrentDisputeProofNonce = wire.CurrentDisputeProofNonce
	m.CounterpartyFrameHanko = wire.CounterpartyFrameHanko
	m.CounterpartyDisputeProofHanko = wire.CounterpartyDisputeProofHanko
	m.CounterpartyDisputeProofBodyHash = wire.CounterpartyDisputeProofBodyHash
	m.CounterpartyDisputeProofNonce = wire.CounterpartyDisputeProofNonce
	m.Locks = decodeLocks(wire.Locks)
	m.SwapOffers = decodeOffers(wire.SwapOffers)
	m.DisputeProofNoncesByHash = decodeDisputeNonces(wire.DisputeProofNoncesByHash)
	m.DisputeProofBodiesByHash = decodeDisputeBodies(wire.DisputeProofBodiesByHash)

	history, err := d.getFrameHistory(left, right)
	if err != nil {
		return nil, false, err
	}
	m.FrameHistory = history
	return m, true, nil
}

func encodeLocks(in map[[32]byte]account.Lock) []lockWire {
	out := make([]lockWire, 0, len(in))
	for _, l := range in {
		out = append(out, lockWire{ID: account.Hash(l.ID), Payload: l.Payload})
	}
	return out
}

func decodeLocks(in []lockWire) map[[32]byte]account.Lock {
	out := make(map[[32]byte]account.Lock, len(in))
	for _, w := range in {
		id := [32]byte(w.ID)
		out[id] = account.Lock{ID: id, Payload: w.Payload}
	}
	return out
}

func encodeOffers(in map[[32]byte]account.Offer) []offerWire {
	out := make([]offerWire, 0, len(in))
	for _, o := range in {
		out = append(out, offerWire{ID: account.Hash(o.ID), Payload: o.Payload})
	}
	return out
}

func decodeOffers(in []offerWire) map[[32]byte]account.Offer {
	out := make(map[[32]byte]account.Offer, len(in))
	for _, w := range in {
		id := [32]byte(w.ID)
		out[id] = account.Offer{ID: id, Payload: w.Payload}
	}
	return out
}

func encodeDisputeNonces(in map[account.Hash]uint64) []disputeNonceWire {
	out := make([]disputeNonceWire, 0, len(in))
	for h, n := range in {
		out = append(out, disputeNonceWire{Hash: h, Nonce: n})
	}
	return out
}

func decodeDisputeNonces(in []disputeNonceWire) map[account.Hash]uint64 {
	out := make(map[account.Hash]uint64, len(in))
	for _, w := range in {
		out[w.Hash] = w.Nonce
	}
	return out
}

func encodeDisputeBodies(in map[account.Hash][]byte) []disputeBodyWire {
	out := make([]disputeBodyWire, 0, len(in))
	for h, b := range in {
		out = append(out, disputeBodyWire{Hash: h, Body: b})
	}
	return out
}

func decodeDisputeBodies(in []disputeBodyWire) map[account.Hash][]byte {
	out := make(map[account.Hash][]byte, len(in))
	for _, w := range in {
		out[w.Hash] = w.Body
	}
	return out
}

func (d *DB) putFrameHistory(left, right account.EntityID, history []account.Frame) error {
	val, err := json.Marshal(history)
	if err != nil {
		return fmt.Errorf("store: marshal frame history: %w", err)
	}
	key := accountKey(left, right)
	return d.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketFrameHistory).Put(key, val)
	})
}

func (d *DB) getFrameHistory(left, right account.EntityID) ([]account.Frame, error) {
	key := accountKey(left, right)
	var raw []byte
	err := d.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketFrameHistory).Get(key)
		if v == nil {
			return nil
		}
		raw = append([]byte(nil), v...)
		return nil
	})
	if err != nil || raw == nil {
		return nil, err
	}
	var history []account.Frame
	if err := json.Unmarshal(raw, &history); err != nil {
		return nil, fmt.Errorf("store: unmarshal frame history: %w", err)
	}
	return history, nil
}

// PutDisputeProof persists one entry of the disputeProofBodiesByHash /
// disputeProofNoncesByHash forward indices (spec.md §4.8), so a dispute
// proof can be recovered by hash long after the in-memory machine that
// produced it has been evicted.
func (d *DB) PutDisputeProof(hash account.Hash, body []byte, nonce uint64) error {
	return d.db.Update(func(tx *bolt.Tx) error {
		if err := tx.Bucket(bucketDisputeBody).Put(hash[:], body); err != nil {
			return err
		}
		var nonceBytes [8]byte
		putUint64(nonceBytes[:], nonce)
		return tx.Bucket(bucketDisputeNonce).Put(hash[:], nonceBytes[:])
	})
}

// GetDisputeProof looks up a previously stored dispute proof body and
// nonce by its hash.
func (d *DB) GetDisputeProof(hash account.Hash) (body []byte, nonce uint64, ok bool, err error) {
	err = d.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketDisputeBody).Get(hash[:])
		if b == nil {
			return nil
		}
		body = append([]byte(nil), b...)
		n := tx.Bucket(bucketDisputeNonce).Get(hash[:])
		if len(n) == 8 {
			nonce = getUint64(n)
		}
		ok = true
		return nil
	})
	return body, nonce, ok, err
}

func putUint64(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (56 - 8*i))
	}
}

func getUint64(b []byte) uint64 {
	var v uint64
	for i := 0; i < 8; i++ {
		v = v<<8 | uint64(b[i])
	}
	return v
}
