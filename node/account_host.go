package node

import (
	"fmt"
	"log/slog"
	"sync"

	"accord.dev/account"
	acctcrypto "accord.dev/account/crypto"
	"accord.dev/account/store"
)

// AccountHost serializes all operations on a single AccountMachine
// (spec.md §5 "all operations... are expected to be strictly serialized by
// the caller"), mirroring the teacher's mutex-guarded chain-state host
// pattern: a single sync.Mutex, taken for the duration of one state
// transition, with persistence and structured logging wrapped around the
// pure core call.
type AccountHost struct {
	mu      sync.Mutex
	machine *account.AccountMachine
	env     account.Env
	db      *store.DB
	log     *slog.Logger
}

// NewAccountHost constructs a host for the account between self (this
// process's own identity) and counterparty, loading prior state from db
// if present, else starting at genesis.
func NewAccountHost(db *store.DB, self, counterparty account.EntityID, env account.Env, log *slog.Logger) (*AccountHost, error) {
	if log == nil {
		log = slog.Default()
	}
	left, right := self, counterparty
	if right.Less(left) {
		left, right = right, left
	}
	m, found, err := db.GetMachine(left, right)
	if err != nil {
		return nil, fmt.Errorf("node: load account: %w", err)
	}
	if !found {
		m = account.NewAccountMachine(self, counterparty)
	}
	return &AccountHost{machine: m, env: env, db: db, log: log}, nil
}

// Propose drains the mempool into a new frame proposal (C2) and persists
// the resulting pending state.
func (h *AccountHost) Propose() (account.ProposeResult, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	res, err := account.Propose(h.env, h.machine, false, nil)
	if err != nil {
		h.log.Warn("propose failed", "err", err, "fatal", account.IsFatal(err))
		return account.ProposeResult{}, err
	}
	if perr := h.db.PutMachine(h.machine); perr != nil {
		h.log.Error("persist after propose failed", "err", perr)
	}
	h.log.Info("proposed frame", "height", res.Frame.Height, "txCount", len(res.Frame.AccountTxs))
	return res, nil
}

// Submit queues an account transaction in the mempool for the next
// proposal.
func (h *AccountHost) Submit(tx account.AccountTx) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.machine.Mempool) >= account.MaxMempoolSize {
		return fmt.Errorf("node: mempool full")
	}
	h.machine.Mempool = append(h.machine.Mempool, tx)
	return nil
}

// HandleInput feeds an inbound AccountInput through the core (C3/C5/C6)
// and persists the resulting state.
func (h *AccountHost) HandleInput(msg *account.AccountInput) (*account.HandleResult, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	res, err := account.HandleInput(h.env, h.machine, msg)
	if err != nil {
		h.log.Warn("handle input failed", "err", err, "fatal", account.IsFatal(err))
		return nil, err
	}
	if perr := h.db.PutMachine(h.machine); perr != nil {
		h.log.Error("persist after handle input failed", "err", perr)
	}
	for _, ev := range res.Events {
		h.log.Info("account event", "kind", ev.Kind, "height", ev.Height, "detail", ev.Detail)
	}
	return res, nil
}

// Snapshot returns a deep copy of the current machine, safe for the caller
// to inspect without holding the host's lock.
func (h *AccountHost) Snapshot() *account.AccountMachine {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.machine.Clone()
}

// DefaultEnv builds an Env wired to the default crypto providers
// (KeccakProvider, HankoSigner, DefaultProofBuilder, DefaultTxHandler) and
// a fixed depository address, the combination cmd/account-node starts
// from.
func DefaultEnv(signer *acctcrypto.HankoSigner, depository account.DepositoryAddress) account.Env {
	return account.Env{
		Depository:   acctcrypto.StaticDepositoryAddress{Address: depository, Set: true},
		Signer:       signer,
		Verifier:     signer,
		TxHandler:    account.DefaultTxHandler{},
		ProofBuilder: account.DefaultProofBuilder{Hasher: acctcrypto.Default},
		FrameHasher:  acctcrypto.Default,
	}
}
