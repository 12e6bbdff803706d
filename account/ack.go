package account

// handleAck implements C5 (spec.md §4.5): the proposer side of a frame
// exchange, committing its own pending frame once the counterparty's ACK
// (carried as PrevHanko over our proposed stateHash) verifies.
func handleAck(env Env, m *AccountMachine, msg *AccountInput) (*HandleResult, error) {
	if m.PendingFrame == nil {
		// Redelivery of an ACK for a frame that already committed: the
		// pending slot is clear, so there is nothing to match and nothing to
		// mutate. Any batched newAccountFrame is handled by the caller.
		return &HandleResult{}, nil
	}
	if msg.FromEntity != m.ProofHeader.ToEntity {
		return nil, newErr(ErrAckEntityMismatch, "ack from unexpected entity")
	}
	if len(msg.PrevHanko) == 0 {
		return nil, newErr(ErrAckInvalid, "missing prevHanko")
	}

	pending := m.PendingFrame
	// Trigger condition (spec.md §4.5): a plain ACK names our pending
	// height directly; a batched ACK+proposal names the next height via its
	// piggy-backed frame. Anything else matches nothing we have in flight.
	batched := msg.NewAccountFrame != nil && msg.NewAccountFrame.Height == pending.Height+1
	if msg.Height != pending.Height && !batched {
		return nil, newErr(ErrUnmatchedAck, "ack height matches no pending frame")
	}

	// Verify the counterparty's hanko over the frame we proposed.
	verifyRes, err := env.Verifier.VerifyHankoForHash(env, msg.PrevHanko, pending.StateHash, msg.FromEntity)
	if err != nil || !verifyRes.Valid {
		return nil, newErr(ErrAckInvalid, "ack hanko did not verify against pending frame's stateHash")
	}

	// Re-execute the pending frame's txs against the REAL state. This must
	// succeed identically to the validation pass that produced it
	// (spec.md §4.5 step 2); any divergence is fatal since it means the
	// real machine drifted from the clone that was signed over.
	_, _, err = executeTxsInto(env, m, pending.AccountTxs, pending.ByLeft, pending.Timestamp, jHeightOrLast(pending.JHeight, m), false)
	if err != nil {
		return nil, newFatalErr(ErrProposerCommitFailed, "real-state re-execution of the acked frame failed")
	}

	m.pushFrameHistory(m.CurrentFrame)
	m.CurrentFrame = *pending.Clone()
	m.CurrentHeight = pending.Height
	m.PendingFrame = nil
	m.PendingAccountInput = nil
	m.RollbackCount = 0
	m.HasLastRollbackFrameHash = false
	// spec.md §4.5 step 3: disputeNonce tracks the height a dispute proof
	// built from this machine's state would be built at.
	m.ProofHeader.DisputeNonce = m.CurrentHeight

	if msg.HasDisputeFields && len(msg.NewDisputeHanko) > 0 {
		_, _ = storeCounterpartyDisputeMetadata(env, m, msg.FromEntity, msg.NewDisputeHanko, msg.NewDisputeHash, msg.NewDisputeProofBodyHash, msg.DisputeProofNonce)
	}

	recordClaimObservations(m, pending)
	now := env.now()
	_ = m.finalizeJEvents(now)

	events := []Event{{
		Kind:      EventBilateralFrameCommitted,
		Height:    m.CurrentHeight,
		TxCount:   len(pending.AccountTxs),
		TokenIds:  append([]uint32(nil), pending.TokenIds...),
		StateHash: pending.StateHash,
	}}

	// §4.5 step 6: when the envelope carries no batched proposal of its own
	// and our mempool still has work, chain a fresh proposal immediately so
	// the counterparty doesn't have to wait for a separate round trip.
	var reply *AccountInput
	if msg.NewAccountFrame == nil && len(m.Mempool) > 0 && m.PendingFrame == nil {
		chained, chainErr := Propose(env, m, false, nil)
		if chainErr == nil {
			reply = &AccountInput{
				FromEntity:              m.ProofHeader.FromEntity,
				ToEntity:                msg.FromEntity,
				Height:                  chained.Frame.Height,
				NewAccountFrame:         &chained.Frame,
				NewHanko:                chained.FrameHanko,
				NewDisputeHanko:         chained.DisputeHanko,
				NewDisputeHash:          chained.DisputeHash,
				NewDisputeProofBodyHash: chained.DisputeProofBodyHash,
				DisputeProofNonce:       chained.Nonce,
				HasDisputeFields:        true,
			}
		}
	}

	return &HandleResult{Reply: reply, Events: events}, nil
}
