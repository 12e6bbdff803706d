package account

import (
	"encoding/json"
	"fmt"
)

// DefaultTxHandler is a minimal, deterministic reference implementation of
// TxHandler sufficient to drive the end-to-end scenarios in spec.md §8. It
// is explicitly not the full economic transaction-type suite — spec.md §1
// places payment/HTLC/swap/settle *policy* out of scope and specifies the
// handler only as a pure-function contract (§6). Real deployments inject
// their own handler; this one exists so the core is exercisable and
// testable stand-alone.
type DefaultTxHandler struct{}

// PaymentData is the JSON payload of a TxPayment transaction: Amount is
// added to offdelta (positive moves value from left to right).
type PaymentData struct {
	TokenID uint32 `json:"tokenId"`
	Amount  string `json:"amount"`
}

// CreditLimitData is the JSON payload of a TxCreditLimit transaction.
type CreditLimitData struct {
	TokenID uint32 `json:"tokenId"`
	Left    bool   `json:"left"` // true: set LeftCreditLimit, false: RightCreditLimit
	Limit   string `json:"limit"`
}

// HTLCLockData is the JSON payload of a TxHTLCLock transaction.
type HTLCLockData struct {
	LockID   [32]byte `json:"lockId"`
	TokenID  uint32   `json:"tokenId"`
	Amount   string   `json:"amount"`
	Hashlock [32]byte `json:"hashlock"`
	FromLeft bool     `json:"fromLeft"`
}

// HTLCResolveData is the JSON payload of a TxHTLCResolve transaction.
type HTLCResolveData struct {
	LockID [32]byte `json:"lockId"`
	Secret []byte   `json:"secret,omitempty"` // present: claim; absent: timeout/cancel
}

func (DefaultTxHandler) ProcessAccountTx(m *AccountMachine, tx AccountTx, byLeft bool, timestamp int64, jHeight uint64, isValidation bool, env Env) (TxResult, error) {
	switch tx.Type {
	case TxPayment:
		return applyPayment(m, tx.Data)
	case TxCreditLimit:
		return applyCreditLimit(m, tx.Data)
	case TxHTLCLock:
		return applyHTLCLock(m, tx.Data)
	case TxHTLCResolve:
		return applyHTLCResolve(m, tx.Data)
	case TxSwapOffer, TxSwapAccept, TxSettle:
		// Reference stub: accepted unconditionally, no bilateral-field
		// mutation. Real swap/settlement policy lives in the entity layer.
		return TxResult{Success: true}, nil
	case TxJEventClaim:
		// The claim itself never mutates collateral/ondelta directly;
		// finalization only happens through the 2-of-2 bilateral J-event
		// finalizer (C7) once both observations are recorded, per I9.
		return TxResult{Success: true}, nil
	default:
		return TxResult{Success: false, Error: fmt.Errorf("unknown tx type %q", tx.Type)}, nil
	}
}

func getOrCreateDelta(m *AccountMachine, tokenID uint32) Delta {
	if d, ok := m.Deltas[tokenID]; ok {
		return d
	}
	return Delta{TokenID: tokenID}
}

func applyPayment(m *AccountMachine, data []byte) (TxResult, error) {
	var p PaymentData
	if err := json.Unmarshal(data, &p); err != nil {
		return TxResult{Success: false, Error: err}, nil
	}
	amount, err := ParseSignedInt(p.Amount)
	if err != nil {
		return TxResult{Success: false, Error: err}, nil
	}
	d := getOrCreateDelta(m, p.TokenID)
	newOff := d.OffDelta.Add(amount)
	if newOff.Cmp(d.RightCreditLimit.Neg()) < 0 {
		return TxResult{Success: false, Error: fmt.Errorf("payment exceeds right credit limit")}, nil
	}
	if newOff.Cmp(d.LeftCreditLimit) > 0 {
		return TxResult{Success: false, Error: fmt.Errorf("payment exceeds left credit limit")}, nil
	}
	d.OffDelta = newOff
	m.Deltas[p.TokenID] = d
	return TxResult{Success: true}, nil
}

func applyCreditLimit(m *AccountMachine, data []byte) (TxResult, error) {
	var c CreditLimitData
	if err := json.Unmarshal(data, &c); err != nil {
		return TxResult{Success: false, Error: err}, nil
	}
	limit, err := ParseSignedInt(c.Limit)
	if err != nil {
		return TxResult{Success: false, Error: err}, nil
	}
	d := getOrCreateDelta(m, c.TokenID)
	if c.Left {
		d.LeftCreditLimit = limit
	} else {
		d.RightCreditLimit = limit
	}
	m.Deltas[c.TokenID] = d
	return TxResult{Success: true}, nil
}

func applyHTLCLock(m *AccountMachine, data []byte) (TxResult, error) {
	var h HTLCLockData
	if err := json.Unmarshal(data, &h); err != nil {
		return TxResult{Success: false, Error: err}, nil
	}
	if _, exists := m.Locks[h.LockID]; exists {
		return TxResult{Success: false, Error: fmt.Errorf("lock id already in use")}, nil
	}
	amount, err := ParseSignedInt(h.Amount)
	if err != nil {
		return TxResult{Success: false, Error: err}, nil
	}
	d := getOrCreateDelta(m, h.TokenID)
	if h.FromLeft {
		d.LeftHtlcHold = d.LeftHtlcHold.Add(amount)
	} else {
		d.RightHtlcHold = d.RightHtlcHold.Add(amount)
	}
	m.Deltas[h.TokenID] = d
	if m.Locks == nil {
		m.Locks = make(map[[32]byte]Lock)
	}
	m.Locks[h.LockID] = Lock{ID: h.LockID, Payload: append([]byte(nil), data...)}
	return TxResult{Success: true, Hashlock: h.Hashlock}, nil
}

func applyHTLCResolve(m *AccountMachine, data []byte) (TxResult, error) {
	var r HTLCResolveData
	if err := json.Unmarshal(data, &r); err != nil {
		return TxResult{Success: false, Error: err}, nil
	}
	lock, ok := m.Locks[r.LockID]
	if !ok {
		return TxResult{Success: false, Error: fmt.Errorf("unknown lock id")}, nil
	}
	var h HTLCLockData
	if err := json.Unmarshal(lock.Payload, &h); err != nil {
		return TxResult{Success: false, Error: err}, nil
	}
	amount, err := ParseSignedInt(h.Amount)
	if err != nil {
		return TxResult{Success: false, Error: err}, nil
	}
	d := getOrCreateDelta(m, h.TokenID)
	if h.FromLeft {
		d.LeftHtlcHold = d.LeftHtlcHold.Sub(amount)
	} else {
		d.RightHtlcHold = d.RightHtlcHold.Sub(amount)
	}
	if len(r.Secret) > 0 {
		// Claim path: the hold converts into an offdelta movement.
		if h.FromLeft {
			d.OffDelta = d.OffDelta.Add(amount)
		} else {
			d.OffDelta = d.OffDelta.Sub(amount)
		}
	}
	m.Deltas[h.TokenID] = d
	delete(m.Locks, r.LockID)
	return TxResult{Success: true, Secret: r.Secret}, nil
}
