package account

import "fmt"

// unilateralSnapshot captures the U-fields (collateral, ondelta) of every
// delta so the settlement-vector guard (I3 in spec.md §8, "settlement-vector
// invariant") can detect an out-of-band mutation.
func unilateralSnapshot(m *AccountMachine) map[uint32][2]SignedInt {
	snap := make(map[uint32][2]SignedInt, len(m.Deltas))
	for id, d := range m.Deltas {
		snap[id] = [2]SignedInt{d.Collateral, d.OnDelta}
	}
	return snap
}

// assertSettlementVectorInvariant enforces spec.md §4.2 step 4 / §8 property
// 3: a transaction of any type other than TxJEventClaim MUST NOT mutate
// Collateral or OnDelta for any token. A violation is a fatal
// ErrSettlementVectorInvariantViolated — it indicates the injected
// TxHandler broke its contract (spec.md §6).
func assertSettlementVectorInvariant(before map[uint32][2]SignedInt, m *AccountMachine, txType TxType) error {
	if txType == TxJEventClaim {
		return nil
	}
	for id, d := range m.Deltas {
		prior, existed := before[id]
		if !existed {
			if !d.Collateral.IsZero() || !d.OnDelta.IsZero() {
				return newFatalErr(ErrSettlementVectorInvariantViolated, fmt.Sprintf("tx type %q introduced collateral/ondelta for new token %d", txType, id))
			}
			continue
		}
		if !prior[0].Equal(d.Collateral) || !prior[1].Equal(d.OnDelta) {
			return newFatalErr(ErrSettlementVectorInvariantViolated, fmt.Sprintf("tx type %q mutated collateral/ondelta for token %d", txType, id))
		}
	}
	for id, prior := range before {
		if _, still := m.Deltas[id]; !still {
			if !prior[0].IsZero() || !prior[1].IsZero() {
				return newFatalErr(ErrSettlementVectorInvariantViolated, fmt.Sprintf("tx type %q removed token %d carrying collateral/ondelta", txType, id))
			}
		}
	}
	return nil
}

// executeOutcome is the per-tx bookkeeping the proposer/receiver need:
// which mempool index failed (proposer only) and which failed txs were
// HTLC locks (reported upstream per §4.2 step 4).
type executeOutcome struct {
	FailedIndices   []int
	FailedHtlcLocks [][32]byte
	Events          []JEvent
}

// executeTxs runs txs against m in order, applying the settlement-vector
// guard around each one. When stopOnFailure is true (receiver path, §4.3
// step 6/9) the first failure aborts and is returned as err. When false
// (proposer validation path, §4.2 step 4) failing txs are skipped and
// recorded in the outcome instead of aborting the batch.
func executeTxs(env Env, m *AccountMachine, txs []AccountTx, byLeft bool, timestamp int64, jHeight uint64, isValidation bool, stopOnFailure bool) ([]AccountTx, executeOutcome, error) {
	var kept []AccountTx
	var out executeOutcome
	for i, tx := range txs {
		before := unilateralSnapshot(m)
		res, err := env.TxHandler.ProcessAccountTx(m, tx, byLeft, timestamp, jHeight, isValidation, env)
		if err != nil || !res.Success {
			if stopOnFailure {
				if err == nil {
					err = fmt.Errorf("tx failed: %v", res.Error)
				}
				return nil, out, newErr(ErrFrameApplicationFailed, err.Error())
			}
			out.FailedIndices = append(out.FailedIndices, i)
			if tx.Type == TxHTLCLock {
				var id [32]byte
				if len(tx.Data) >= 32 {
					copy(id[:], tx.Data[:32])
				}
				out.FailedHtlcLocks = append(out.FailedHtlcLocks, id)
			}
			continue
		}
		if verr := assertSettlementVectorInvariant(before, m, tx.Type); verr != nil {
			return nil, out, verr
		}
		out.Events = append(out.Events, res.Events...)
		kept = append(kept, tx)
	}
	return kept, out, nil
}
