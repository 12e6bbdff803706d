package account

import "fmt"

// deriveFrameState applies the I5 token filter and returns the parallel
// tokenIds/deltas/fullDeltaStates arrays in ascending order (I6), used both
// by the proposer (§4.2 step 5) and the receiver (§4.3 step 7) to derive
// tokenIds/offdeltas from a clone's Deltas map.
func deriveFrameState(m *AccountMachine) ([]uint32, []SignedInt, []Delta) {
	ids := m.sortedTokenIds()
	deltas := make([]SignedInt, len(ids))
	states := make([]Delta, len(ids))
	for i, id := range ids {
		d := m.Deltas[id]
		deltas[i] = d.OffDelta
		states[i] = d
	}
	return ids, deltas, states
}

func monotonicTimestamp(envNowUnix, prevTimestamp int64) int64 {
	if envNowUnix > prevTimestamp+1 {
		return envNowUnix
	}
	return prevTimestamp + 1
}

// Propose implements C2 (spec.md §4.2): drain the mempool onto a clone,
// filter invalid txs, emit a signed proposal and dispute proof.
func Propose(env Env, m *AccountMachine, skipNonceIncrement bool, jHeightHint *uint64) (ProposeResult, error) {
	// Step 1: preconditions.
	if len(m.Mempool) == 0 {
		return ProposeResult{}, newErr(ErrNothingToPropose, "mempool is empty")
	}
	if len(m.Mempool) > MaxMempoolSize {
		return ProposeResult{}, newErr(ErrMempoolOverflow, "mempool exceeds bound")
	}
	if m.PendingFrame != nil {
		return ProposeResult{}, newErr(ErrWaitingForAck, "a frame is already pending ACK")
	}

	proposerIsLeft := m.IsLeft(m.ProofHeader.FromEntity)

	// Step 2: right-side j-claim gate, breaking the symmetric deadlock
	// where both sides propose same-height claim frames.
	if !proposerIsLeft && allJEventClaims(m.Mempool) {
		matched := false
		for _, tx := range m.Mempool {
			claim, err := DecodeJEventClaim(tx.Data)
			if err != nil {
				continue
			}
			for _, lo := range m.LeftJObservations {
				if lo.JHeight == claim.JHeight && lo.JBlockHash == claim.JBlockHash {
					matched = true
				}
			}
		}
		if !matched {
			return ProposeResult{}, newErr(ErrRightAwaitingLeftClaim, "right side has no matching left observation yet")
		}
	}

	// Step 3: clone, step 3b set disputeNonce.
	clone := m.Clone()
	clone.ProofHeader.DisputeNonce = m.CurrentHeight + 1

	// Step 4: execute mempool txs on the clone in validation mode.
	now := env.now()
	kept, outcome, err := executeTxs(env, clone, m.Mempool, proposerIsLeft, now.Unix(), jHeightHintOrLast(jHeightHint, m), true, false)
	if err != nil {
		return ProposeResult{}, err
	}
	if len(kept) == 0 {
		m.Mempool = nil
		return ProposeResult{}, newErr(ErrTxValidationSkipped, "all mempool txs failed validation")
	}

	// Step 5/6: token filter + timestamp.
	tokenIds, deltas, fullStates := deriveFrameState(clone)
	timestamp := monotonicTimestamp(now.Unix(), m.CurrentFrame.Timestamp)

	jHeight := uint64(0)
	if jHeightHint != nil {
		jHeight = *jHeightHint
	} else {
		jHeight = m.LastFinalizedJHeight
	}

	// Step 7: assemble frame.
	frame := &Frame{
		Height:          m.CurrentHeight + 1,
		Timestamp:       timestamp,
		JHeight:         jHeight,
		PrevFrameHash:   prevHashString(m.CurrentFrame),
		AccountTxs:      kept,
		TokenIds:        tokenIds,
		Deltas:          deltas,
		FullDeltaStates: fullStates,
		ByLeft:          proposerIsLeft,
	}
	if err := assertAscending(frame.TokenIds); err != nil {
		return ProposeResult{}, newErr(ErrFrameEncodingInvalid, err.Error())
	}
	size, err := FrameSizeBytes(frame)
	if err != nil {
		return ProposeResult{}, newErr(ErrFrameEncodingInvalid, err.Error())
	}
	if size > MaxFrameBytes {
		return ProposeResult{}, newErr(ErrFrameTooLarge, fmt.Sprintf("frame is %d bytes", size))
	}
	stateHash, err := ComputeFrameHash(env.hasher(), frame)
	if err != nil {
		return ProposeResult{}, newErr(ErrFrameEncodingInvalid, err.Error())
	}
	frame.StateHash = stateHash

	// Step 8: sign stateHash and build + sign the dispute proof. Signing
	// and proof-building failures are account-fatal (spec.md §4.2): the
	// signing oracle is the one collaborator the account cannot make
	// progress without, so the in-flight work is dropped and the account
	// waits for external recovery.
	frameHankos, err := env.Signer.SignHashesAsSingleEntity(env, m.ProofHeader.FromEntity, 0, []Hash{stateHash})
	if err != nil || len(frameHankos) != 1 || len(frameHankos[0]) == 0 {
		return ProposeResult{}, failProposeFatally(m, ErrSigningFailed, "frame hanko signing failed")
	}

	depository, err := env.Depository.DepositoryAddress(env)
	if err != nil {
		return ProposeResult{}, newErr(ErrInvalidAccountIdentifiers, err.Error())
	}
	proofBody, err := env.ProofBuilder.BuildAccountProofBody(clone)
	if err != nil {
		return ProposeResult{}, failProposeFatally(m, ErrDisputeProofBuildFailed, err.Error())
	}
	disputeHash, err := env.ProofBuilder.CreateDisputeProofHash(clone, proofBody.ProofBodyHash, depository)
	if err != nil {
		return ProposeResult{}, failProposeFatally(m, ErrDisputeProofBuildFailed, err.Error())
	}
	disputeHankos, err := env.Signer.SignHashesAsSingleEntity(env, m.ProofHeader.FromEntity, 0, []Hash{disputeHash})
	if err != nil || len(disputeHankos) != 1 || len(disputeHankos[0]) == 0 {
		return ProposeResult{}, failProposeFatally(m, ErrSigningFailed, "dispute hanko signing failed")
	}

	// Step 9: commit intent on the REAL machine. The pending envelope is
	// kept alongside the pending frame so the entity layer can resend the
	// exact signed message if the transport drops it.
	nonceAtSigning := m.ProofHeader.Nonce
	m.PendingFrame = frame
	m.PendingAccountInput = &AccountInput{
		FromEntity:              m.ProofHeader.FromEntity,
		ToEntity:                m.ProofHeader.ToEntity,
		Height:                  frame.Height,
		NewAccountFrame:         frame,
		NewHanko:                frameHankos[0],
		NewDisputeHanko:         disputeHankos[0],
		NewDisputeHash:          disputeHash,
		NewDisputeProofBodyHash: proofBody.ProofBodyHash,
		DisputeProofNonce:       nonceAtSigning,
		HasDisputeFields:        true,
	}
	m.CurrentDisputeProofHanko = disputeHankos[0]
	m.CurrentDisputeProofBodyHash = proofBody.ProofBodyHash
	m.CurrentDisputeProofNonce = nonceAtSigning
	m.recordDisputeProof(proofBody, nonceAtSigning)
	if !skipNonceIncrement {
		m.ProofHeader.Nonce++
	}

	// Step 10: clear the mempool. Successful txs are now in the frame;
	// failed ones are dropped here and not re-queued (failed HTLC locks are
	// reported through FailedHtlcLocks).
	m.Mempool = nil
	m.FailedHtlcLocks = outcome.FailedHtlcLocks

	return ProposeResult{
		Frame:                *frame,
		FrameHanko:           frameHankos[0],
		DisputeHanko:         disputeHankos[0],
		DisputeHash:          disputeHash,
		DisputeProofBodyHash: proofBody.ProofBodyHash,
		Nonce:                nonceAtSigning,
	}, nil
}

// failProposeFatally drops the in-flight proposal state (mempool, pending
// slots) and returns the account-fatal error for it (spec.md §4.2's error
// taxonomy: SigningFailed/DisputeProofBuildFailed require external
// recovery).
func failProposeFatally(m *AccountMachine, code ErrorCode, msg string) error {
	m.Mempool = nil
	m.PendingFrame = nil
	m.PendingAccountInput = nil
	return newFatalErr(code, msg)
}

func allJEventClaims(txs []AccountTx) bool {
	if len(txs) == 0 {
		return false
	}
	for _, tx := range txs {
		if tx.Type != TxJEventClaim {
			return false
		}
	}
	return true
}

func jHeightHintOrLast(hint *uint64, m *AccountMachine) uint64 {
	if hint != nil {
		return *hint
	}
	return m.LastFinalizedJHeight
}

func prevHashString(f Frame) string {
	if f.Height == 0 {
		return genesisMarker
	}
	return hashToHex(f.StateHash)
}

func hashToHex(h Hash) string {
	return "0x" + hexEncode(h[:])
}

// hasher returns Env.FrameHasher, the Hasher the frame hash is computed
// with (the account package has no crypto import, see Hasher's doc
// comment, so callers set it when building the Env). Propose/HandleInput
// resolve it through env.hasher(), which panics with a clear message if
// unset rather than silently hashing wrong.
func (e Env) hasher() Hasher {
	if e.FrameHasher == nil {
		panic("account: Env.FrameHasher is not set")
	}
	return e.FrameHasher
}
