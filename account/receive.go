package account

import (
	"fmt"
)

// handleNewFrame implements C3 (spec.md §4.3 steps 1-13, excluding the ACK
// pre-step handled by handleAck), ending with the C6 post-commit chaining of
// a proposal into the ACK. The real machine m is left byte-identical unless every
// validation step succeeds (spec.md §5 "Shared-resource policy").
func handleNewFrame(env Env, m *AccountMachine, msg *AccountInput) (*HandleResult, error) {
	frame := msg.NewAccountFrame
	if frame == nil {
		return nil, newErr(ErrInvalidFrameStructure, "missing newAccountFrame")
	}

	// Step 1: structural validation. Only the account's own counterparty
	// may author frames for it; the hanko check below verifies against
	// msg.FromEntity, so on its own it would accept a third party's
	// self-signed frame.
	if msg.FromEntity != m.ProofHeader.ToEntity {
		return nil, newErr(ErrInvalidAccountIdentifiers, "frame from an entity that is not this account's counterparty")
	}
	if len(frame.AccountTxs) > MaxAccountTxsPerFrame {
		return nil, newErr(ErrInvalidFrameStructure, "accountTxs exceeds bound")
	}
	if len(frame.TokenIds) != len(frame.Deltas) || len(frame.TokenIds) != len(frame.FullDeltaStates) {
		return nil, newErr(ErrInvalidFrameStructure, "tokenIds/deltas/fullDeltaStates length mismatch")
	}
	now := env.now()
	drift := frame.Timestamp - now.Unix()
	if drift > int64(ClockSkewTolerance.Seconds()) || -drift > int64(ClockSkewTolerance.Seconds()) {
		return nil, newErr(ErrInvalidFrameStructure, "timestamp drift exceeds tolerance")
	}
	if frame.Timestamp < m.CurrentFrame.Timestamp-int64(TimestampBackslipTolerance.Seconds()) {
		return nil, newErr(ErrInvalidFrameStructure, "timestamp precedes previous frame beyond tolerance")
	}

	// Step 2: chain link (I2). A frame that is not at the next height (for
	// example a replay of an already-committed frame) links to an older frame
	// and is reported as the sequence error (I1) it is.
	if frame.PrevFrameHash != prevHashString(m.CurrentFrame) {
		if frame.Height != m.CurrentHeight+1 {
			return nil, newErr(ErrFrameSequenceMismatch, fmt.Sprintf("expected height %d, got %d", m.CurrentHeight+1, frame.Height))
		}
		return nil, newErr(ErrFrameChainBroken, "prevFrameHash does not match our current frame")
	}

	var events []Event

	// Step 3: simultaneous-proposal tiebreak (C4).
	if m.PendingFrame != nil && m.PendingFrame.Height == frame.Height {
		outcome, err := resolveCollision(m, frame)
		if err != nil {
			return nil, err
		}
		if outcome.Event.Kind != "" {
			events = append(events, outcome.Event)
		}
		if outcome.IgnoreIncoming {
			if len(m.Mempool) > 0 {
				// Queued work stays put until their ACK lands; re-proposing
				// here would just open a second same-height race (§4.3 step 3).
				events = append(events, Event{
					Kind:   EventLeftWins,
					Height: frame.Height,
					Detail: "mempool work deferred until counterparty acks our pending frame",
				})
			}
			return &HandleResult{Events: events}, nil
		}
		// outcome.RolledBack: fall through and validate the incoming frame
		// against our now-clean state.
	}

	// Step 4: sequence (I1).
	if frame.Height != m.CurrentHeight+1 {
		return nil, newErr(ErrFrameSequenceMismatch, fmt.Sprintf("expected height %d, got %d", m.CurrentHeight+1, frame.Height))
	}

	// Step 5: hanko verification.
	if len(msg.NewHanko) == 0 {
		return nil, newErr(ErrInvalidHankoSignature, "missing newHanko")
	}
	verifyRes, err := env.Verifier.VerifyHankoForHash(env, msg.NewHanko, frame.StateHash, msg.FromEntity)
	if err != nil || !verifyRes.Valid {
		return nil, newErr(ErrInvalidHankoSignature, "frame hanko did not verify")
	}

	// Step 6: clone & execute their txs.
	clone := m.Clone()
	_, _, err = executeTxsInto(env, clone, frame.AccountTxs, frame.ByLeft, frame.Timestamp, jHeightOrLast(frame.JHeight, m), true)
	if err != nil {
		return nil, err
	}

	// Step 7: bilateral equivalence (I4) + injection guard.
	ourIds, ourDeltas, ourStates := deriveFrameState(clone)
	if len(ourIds) != len(frame.TokenIds) {
		return nil, newErr(ErrBilateralConsensusMismatch, "tokenId count mismatch")
	}
	for i := range ourIds {
		if ourIds[i] != frame.TokenIds[i] || !ourDeltas[i].Equal(frame.Deltas[i]) {
			return nil, newErr(ErrBilateralConsensusMismatch, "offdelta/tokenId mismatch")
		}
	}
	for i := range ourStates {
		if !ourStates[i].EqualBilateral(frame.FullDeltaStates[i]) {
			return nil, newErr(ErrBilateralStateInjection, "bilateral field mismatch in fullDeltaStates")
		}
	}

	// Step 8: frame-hash verification using the SENDER's fullDeltaStates
	// (not ours) — unilateral fields may legitimately lag (§9 open
	// question #2).
	senderFrame := frame.Clone()
	recomputed, err := ComputeFrameHash(env.hasher(), senderFrame)
	if err != nil {
		return nil, newErr(ErrFrameEncodingInvalid, err.Error())
	}
	if recomputed != frame.StateHash {
		return nil, newErr(ErrFrameHashMismatch, "recomputed stateHash does not match frame.stateHash")
	}

	// Step 9: commit to REAL state.
	_, _, err = executeTxsInto(env, m, frame.AccountTxs, frame.ByLeft, frame.Timestamp, jHeightOrLast(frame.JHeight, m), false)
	if err != nil {
		return nil, newFatalErr(ErrReceiverCommitFailed, "real-state re-execution diverged from the validated clone")
	}

	// Step 10: advance.
	m.pushFrameHistory(m.CurrentFrame)
	m.CurrentFrame = *frame.Clone()
	m.CurrentHeight = frame.Height
	m.PendingFrame = nil
	m.PendingAccountInput = nil
	m.RollbackCount = 0
	m.HasLastRollbackFrameHash = false
	// spec.md §4.5 step 3: disputeNonce tracks the height a dispute proof
	// built from this machine's state would be built at.
	m.ProofHeader.DisputeNonce = m.CurrentHeight

	// Step 11: store counterparty dispute metadata (non-fatal on failure).
	if msg.HasDisputeFields && len(msg.NewDisputeHanko) > 0 {
		_, _ = storeCounterpartyDisputeMetadata(env, m, msg.FromEntity, msg.NewDisputeHanko, msg.NewDisputeHash, msg.NewDisputeProofBodyHash, msg.DisputeProofNonce)
	}

	// C7: record and finalize any jurisdiction-event-claim observations
	// newly introduced by this committed frame.
	recordClaimObservations(m, frame)
	finalized := m.finalizeJEvents(now)
	_ = finalized

	events = append(events, Event{
		Kind:      EventBilateralFrameCommitted,
		Height:    m.CurrentHeight,
		TxCount:   len(frame.AccountTxs),
		TokenIds:  append([]uint32(nil), ourIds...),
		StateHash: frame.StateHash,
	})

	// Step 13 + C6: emit ACK, possibly batched with a chained proposal. Per
	// I8, the nonce advances once per outbound envelope: every ACK sent here
	// is itself one such envelope, whether or not a proposal rides with it.
	ack, err := buildAckMessage(env, m, msg.FromEntity)
	if err != nil {
		return nil, err
	}
	m.ProofHeader.Nonce++
	if len(m.Mempool) > 0 && m.PendingFrame == nil {
		chained, chainErr := Propose(env, m, true, nil)
		if chainErr == nil {
			ack.NewAccountFrame = &chained.Frame
			ack.NewHanko = chained.FrameHanko
			ack.Height = chained.Frame.Height
		}
	}

	return &HandleResult{Reply: ack, Events: events}, nil
}

func jHeightOrLast(frameJHeight uint64, m *AccountMachine) uint64 {
	if frameJHeight != 0 {
		return frameJHeight
	}
	return m.LastFinalizedJHeight
}

// executeTxsInto runs txs with stopOnFailure=true, used by both the
// validation clone (step 6) and the real commit (step 9) — the two
// executions MUST be byte-identical modulo isValidation (spec.md §9
// "Ownership").
func executeTxsInto(env Env, m *AccountMachine, txs []AccountTx, byLeft bool, timestamp int64, jHeight uint64, isValidation bool) ([]AccountTx, executeOutcome, error) {
	return executeTxs(env, m, txs, byLeft, timestamp, jHeight, isValidation, true)
}

// recordClaimObservations scans a just-committed frame for
// TxJEventClaim transactions and records each as an observation of the
// side that proposed the frame (frame.ByLeft, §4.7). On the receiver that
// is the counterparty; on the ACK path (handleAck) it is this side's own
// pending frame.
func recordClaimObservations(m *AccountMachine, frame *Frame) {
	for _, tx := range frame.AccountTxs {
		if tx.Type != TxJEventClaim {
			continue
		}
		claim, err := DecodeJEventClaim(tx.Data)
		if err != nil {
			continue
		}
		m.recordJObservation(frame.ByLeft, claim)
	}
}

// buildAckMessage builds the outbound ACK envelope for the frame we just
// committed as receiver, including a dispute hanko over our own newly
// committed state (§4.6: "equal to the ACK's dispute hanko over the
// just-committed state, not the proposal's").
func buildAckMessage(env Env, m *AccountMachine, toEntity EntityID) (*AccountInput, error) {
	frameHankos, err := env.Signer.SignHashesAsSingleEntity(env, m.ProofHeader.FromEntity, 0, []Hash{m.CurrentFrame.StateHash})
	if err != nil || len(frameHankos) != 1 || len(frameHankos[0]) == 0 {
		return nil, newErr(ErrSigningFailed, "ack hanko signing failed")
	}

	depository, err := env.Depository.DepositoryAddress(env)
	if err != nil {
		return nil, newErr(ErrInvalidAccountIdentifiers, err.Error())
	}
	proofBody, err := env.ProofBuilder.BuildAccountProofBody(m)
	if err != nil {
		return nil, newErr(ErrDisputeProofBuildFailed, err.Error())
	}
	disputeHash, err := env.ProofBuilder.CreateDisputeProofHash(m, proofBody.ProofBodyHash, depository)
	if err != nil {
		return nil, newErr(ErrDisputeProofBuildFailed, err.Error())
	}
	disputeHankos, err := env.Signer.SignHashesAsSingleEntity(env, m.ProofHeader.FromEntity, 0, []Hash{disputeHash})
	if err != nil || len(disputeHankos) != 1 || len(disputeHankos[0]) == 0 {
		return nil, newErr(ErrSigningFailed, "ack dispute hanko signing failed")
	}
	m.recordDisputeProof(proofBody, m.ProofHeader.Nonce)

	return &AccountInput{
		FromEntity:              m.ProofHeader.FromEntity,
		ToEntity:                toEntity,
		Height:                  m.CurrentHeight,
		PrevHanko:               frameHankos[0],
		NewDisputeHanko:         disputeHankos[0],
		NewDisputeHash:          disputeHash,
		NewDisputeProofBodyHash: proofBody.ProofBodyHash,
		DisputeProofNonce:       m.ProofHeader.Nonce,
		HasDisputeFields:        true,
	}, nil
}
