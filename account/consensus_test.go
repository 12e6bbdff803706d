package account

import (
	"testing"
	"time"
)

// setupPair builds a fresh genesis account plus the two Envs each side
// would use, sharing one fakeSigner/fakeHasher pair so hankos verify
// across sides the way two independent processes would via a real
// signing oracle.
func setupPair(t *testing.T) (left, right *AccountMachine, envLeft, envRight Env, leftID, rightID EntityID) {
	t.Helper()
	leftID = testEntity(0x01)
	rightID = testEntity(0x02)
	depository := DepositoryAddress{0xAA}

	signer := newFakeSigner()
	clock := clockAt(time.Unix(1_700_000_000, 0), time.Second)

	envLeft = newTestEnv(signer, depository, clock)
	envRight = newTestEnv(signer, depository, clock)

	left = NewAccountMachine(leftID, rightID)
	right = NewAccountMachine(rightID, leftID)

	// Both sides share a funded genesis: symmetric credit limits on the
	// tokens the scenarios pay in (the S1 fixture's 10000), so payments in
	// either direction have headroom without a credit_limit tx in every
	// test.
	for _, id := range []uint32{1, 2} {
		seed := Delta{
			TokenID:          id,
			LeftCreditLimit:  NewSignedInt(10000),
			RightCreditLimit: NewSignedInt(10000),
		}
		left.Deltas[id] = seed
		right.Deltas[id] = seed
	}
	return left, right, envLeft, envRight, leftID, rightID
}

// deliverFrame simulates wire delivery of a proposer's ProposeResult into
// the receiver's HandleInput, building the AccountInput envelope the
// proposer would have sent.
func deliverFrame(res ProposeResult, from, to EntityID) *AccountInput {
	f := res.Frame
	return &AccountInput{
		FromEntity:              from,
		ToEntity:                to,
		Height:                  f.Height,
		NewAccountFrame:         &f,
		NewHanko:                res.FrameHanko,
		NewDisputeHanko:         res.DisputeHanko,
		NewDisputeHash:          res.DisputeHash,
		NewDisputeProofBodyHash: res.DisputeProofBodyHash,
		DisputeProofNonce:       res.Nonce,
		HasDisputeFields:        true,
	}
}

// TestSimplePayment covers S1: left proposes a payment, right commits it
// and both sides converge on the same bilateral state.
func TestSimplePayment(t *testing.T) {
	left, right, envLeft, envRight, leftID, rightID := setupPair(t)

	left.Mempool = append(left.Mempool, paymentTx(1, "500"))

	proposeRes, err := Propose(envLeft, left, false, nil)
	if err != nil {
		t.Fatalf("Propose: %v", err)
	}
	if proposeRes.Frame.Height != 1 {
		t.Fatalf("height = %d, want 1", proposeRes.Frame.Height)
	}

	input := deliverFrame(proposeRes, leftID, rightID)
	result, err := HandleInput(envRight, right, input)
	if err != nil {
		t.Fatalf("HandleInput (receiver): %v", err)
	}
	if result.Reply == nil {
		t.Fatalf("expected an ACK reply")
	}

	ackInput := result.Reply
	ackInput.FromEntity, ackInput.ToEntity = rightID, leftID
	if _, err := HandleInput(envLeft, left, ackInput); err != nil {
		t.Fatalf("HandleInput (ack): %v", err)
	}

	if left.CurrentHeight != 1 || right.CurrentHeight != 1 {
		t.Fatalf("heights = %d/%d, want 1/1", left.CurrentHeight, right.CurrentHeight)
	}
	if !left.Deltas[1].OffDelta.Equal(right.Deltas[1].OffDelta) {
		t.Fatalf("offdelta diverged: left=%s right=%s", left.Deltas[1].OffDelta, right.Deltas[1].OffDelta)
	}
	if left.CurrentFrame.StateHash != right.CurrentFrame.StateHash {
		t.Fatalf("stateHash diverged after commit")
	}
}

// TestSimultaneousProposalCollision covers S2: both sides propose at the
// same height; left must win (C4) and right must roll back exactly once.
func TestSimultaneousProposalCollision(t *testing.T) {
	left, right, envLeft, envRight, leftID, rightID := setupPair(t)

	left.Mempool = append(left.Mempool, paymentTx(1, "100"))
	right.Mempool = append(right.Mempool, paymentTx(1, "-50"))

	leftProposal, err := Propose(envLeft, left, false, nil)
	if err != nil {
		t.Fatalf("left Propose: %v", err)
	}
	rightProposal, err := Propose(envRight, right, false, nil)
	if err != nil {
		t.Fatalf("right Propose: %v", err)
	}

	// Right receives left's frame while it has its own pending frame at
	// the same height: left wins, right rolls back, commits left's h=1, and
	// chains a fresh h=2 proposal carrying its restored tx (S2).
	rightSeesLeft := deliverFrame(leftProposal, leftID, rightID)
	res, err := HandleInput(envRight, right, rightSeesLeft)
	if err != nil {
		t.Fatalf("right handling left's frame: %v", err)
	}
	if right.CurrentHeight != 1 {
		t.Fatalf("right height = %d, want 1 (left's frame committed)", right.CurrentHeight)
	}
	if right.PendingFrame == nil || right.PendingFrame.Height != 2 {
		t.Fatalf("right should have chained a h=2 proposal carrying its rolled-back tx")
	}
	// The rollback itself bumped RollbackCount to 1, but left's frame then
	// committed successfully in the same call, which is forward progress
	// and resets the counter back to 0 (spec.md §4.4).
	if right.RollbackCount != 0 {
		t.Fatalf("right rollbackCount = %d, want 0 after a successful commit", right.RollbackCount)
	}
	if res.Events[0].Kind != EventRollback {
		t.Fatalf("expected a ROLLBACK event, got %v", res.Events)
	}
	if res.Reply == nil || res.Reply.NewAccountFrame == nil || len(res.Reply.PrevHanko) == 0 {
		t.Fatalf("right's reply must batch the ACK of h=1 with its chained h=2 proposal")
	}

	// Left, meanwhile, receives right's now-stale frame: as left it always
	// wins and ignores it.
	leftSeesRight := deliverFrame(rightProposal, rightID, leftID)
	ignored, err := HandleInput(envLeft, left, leftSeesRight)
	if err != nil {
		t.Fatalf("left handling right's frame: %v", err)
	}
	if left.PendingFrame == nil {
		t.Fatalf("left should still have its own pending frame")
	}
	if len(ignored.Events) == 0 || ignored.Events[0].Kind != EventLeftWins {
		t.Fatalf("expected a LEFT-WINS event, got %v", ignored.Events)
	}

	// Left then receives right's batched ACK+proposal: commits its own h=1,
	// immediately validates and commits the embedded h=2, and ACKs it.
	leftRes, err := HandleInput(envLeft, left, res.Reply)
	if err != nil {
		t.Fatalf("left handling batched ack+proposal: %v", err)
	}
	if left.CurrentHeight != 2 {
		t.Fatalf("left height = %d, want 2", left.CurrentHeight)
	}
	if leftRes.Reply == nil || len(leftRes.Reply.PrevHanko) == 0 {
		t.Fatalf("left must ACK the chained h=2 frame")
	}
	if _, err := HandleInput(envRight, right, leftRes.Reply); err != nil {
		t.Fatalf("right handling final ack: %v", err)
	}

	if right.CurrentHeight != 2 {
		t.Fatalf("right height = %d, want 2", right.CurrentHeight)
	}
	if left.CurrentFrame.StateHash != right.CurrentFrame.StateHash {
		t.Fatalf("state hash diverged after the collision resolved")
	}
	if !left.Deltas[1].OffDelta.Equal(right.Deltas[1].OffDelta) {
		t.Fatalf("offdelta diverged: left=%s right=%s", left.Deltas[1].OffDelta, right.Deltas[1].OffDelta)
	}
	if got := left.Deltas[1].OffDelta; !got.Equal(NewSignedInt(50)) {
		t.Fatalf("offdelta = %s, want 50 (both txs applied)", got)
	}
}

// TestBilateralStateInjectionRejected covers S3: a frame whose
// fullDeltaStates disagree with independently re-executing the same txs
// must be rejected as an injection attempt, not silently accepted.
func TestBilateralStateInjectionRejected(t *testing.T) {
	left, right, envLeft, _, leftID, rightID := setupPair(t)

	left.Mempool = append(left.Mempool, paymentTx(1, "100"))
	proposeRes, err := Propose(envLeft, left, false, nil)
	if err != nil {
		t.Fatalf("Propose: %v", err)
	}

	tampered := proposeRes.Frame
	tamperedStates := append([]Delta(nil), tampered.FullDeltaStates...)
	tamperedStates[0].LeftCreditLimit = NewSignedInt(1_000_000_000)
	tampered.FullDeltaStates = tamperedStates

	input := &AccountInput{
		FromEntity:      leftID,
		ToEntity:        rightID,
		Height:          tampered.Height,
		NewAccountFrame: &tampered,
		NewHanko:        proposeRes.FrameHanko,
	}

	envRightFresh := newTestEnv(envLeft.Signer.(*fakeSigner), DepositoryAddress{0xAA}, envLeft.Now)
	_, err = HandleInput(envRightFresh, right, input)
	if err == nil {
		t.Fatalf("expected an error for tampered fullDeltaStates")
	}
	ae, ok := err.(*AccountError)
	if !ok {
		t.Fatalf("expected *AccountError, got %T", err)
	}
	if ae.Code != ErrBilateralStateInjection {
		t.Fatalf("code = %s, want BILATERAL_STATE_INJECTION", ae.Code)
	}
}

// TestJEventFinalizationRequiresBothSides covers S4: collateral/ondelta
// only move once both left and right have recorded a matching
// (jHeight, jBlockHash) observation (I9).
func TestJEventFinalizationRequiresBothSides(t *testing.T) {
	m := NewAccountMachine(testEntity(0x01), testEntity(0x02))
	claim := JEventClaim{
		JHeight:    42,
		JBlockHash: Hash{0x42},
		Events:     []JEvent{{Kind: JEventAccountSettled, TokenID: 7, Collateral: NewSignedInt(1000), OnDelta: NewSignedInt(0)}},
	}

	m.recordJObservation(true, claim) // left observation only
	finalized := m.finalizeJEvents(time.Unix(1_700_000_100, 0))
	if len(finalized) != 0 {
		t.Fatalf("expected no finalization with only one side observing")
	}
	if !m.Deltas[7].Collateral.IsZero() {
		t.Fatalf("collateral must not move before 2-of-2 finalization")
	}

	m.recordJObservation(false, claim) // right observation arrives
	finalized = m.finalizeJEvents(time.Unix(1_700_000_101, 0))
	if len(finalized) != 1 {
		t.Fatalf("expected exactly one finalized event, got %d", len(finalized))
	}
	if m.Deltas[7].Collateral.Cmp(NewSignedInt(1000)) != 0 {
		t.Fatalf("collateral = %s, want 1000", m.Deltas[7].Collateral)
	}
	if m.LastFinalizedJHeight != 42 {
		t.Fatalf("lastFinalizedJHeight = %d, want 42", m.LastFinalizedJHeight)
	}

	// Re-finalizing must be a no-op (idempotent against replay).
	again := m.finalizeJEvents(time.Unix(1_700_000_102, 0))
	if len(again) != 0 {
		t.Fatalf("expected no re-finalization of an already-chained event")
	}
}

// TestJEventClaimFrameFinalizes covers S4 end-to-end: a committed frame
// carrying a j_event_claim records the proposer's observation on the
// receiver, which matches the receiver's own watcher observation and
// finalizes — while the proposer, still missing the counterparty's
// observation, keeps its unilateral fields untouched (I9).
func TestJEventClaimFrameFinalizes(t *testing.T) {
	left, right, envLeft, envRight, leftID, rightID := setupPair(t)

	claim := JEventClaim{
		JHeight:    42,
		JBlockHash: Hash{0xAA},
		Events: []JEvent{{
			Kind:       JEventAccountSettled,
			TokenID:    1,
			Collateral: NewSignedInt(2000),
			OnDelta:    NewSignedInt(100),
		}},
	}
	data, err := EncodeJEventClaim(claim)
	if err != nil {
		t.Fatalf("EncodeJEventClaim: %v", err)
	}

	// Right's own watcher already saw the J-block.
	right.recordJObservation(false, claim)

	left.Mempool = append(left.Mempool, AccountTx{Type: TxJEventClaim, Data: data})
	proposeRes, err := Propose(envLeft, left, false, nil)
	if err != nil {
		t.Fatalf("Propose: %v", err)
	}
	result, err := HandleInput(envRight, right, deliverFrame(proposeRes, leftID, rightID))
	if err != nil {
		t.Fatalf("HandleInput (receiver): %v", err)
	}

	// Right now has both observations for (42, 0xAA): finalized.
	if !right.Deltas[1].Collateral.Equal(NewSignedInt(2000)) || !right.Deltas[1].OnDelta.Equal(NewSignedInt(100)) {
		t.Fatalf("right collateral/ondelta = %s/%s, want 2000/100", right.Deltas[1].Collateral, right.Deltas[1].OnDelta)
	}
	if right.LastFinalizedJHeight != 42 || len(right.JEventChain) != 1 {
		t.Fatalf("right did not chain the finalized J-event")
	}

	if _, err := HandleInput(envLeft, left, result.Reply); err != nil {
		t.Fatalf("HandleInput (ack): %v", err)
	}
	// Left only has its own side's observation so far: no finalization, and
	// its unilateral fields must not have moved.
	if !left.Deltas[1].Collateral.IsZero() || left.LastFinalizedJHeight != 0 {
		t.Fatalf("left finalized without the counterparty's observation")
	}
	if left.CurrentHeight != 1 || right.CurrentHeight != 1 {
		t.Fatalf("heights = %d/%d, want 1/1", left.CurrentHeight, right.CurrentHeight)
	}
}

// TestChainedAckThenProposal covers S5: when right commits left's frame
// and still has mempool txs of its own, its ACK is batched together with
// a freshly chained proposal (C6) rather than requiring a separate
// round-trip.
func TestChainedAckThenProposal(t *testing.T) {
	left, right, envLeft, envRight, leftID, rightID := setupPair(t)

	left.Mempool = append(left.Mempool, paymentTx(1, "200"))
	right.Mempool = append(right.Mempool, paymentTx(2, "-10"))

	proposeRes, err := Propose(envLeft, left, false, nil)
	if err != nil {
		t.Fatalf("Propose: %v", err)
	}

	input := deliverFrame(proposeRes, leftID, rightID)
	result, err := HandleInput(envRight, right, input)
	if err != nil {
		t.Fatalf("HandleInput: %v", err)
	}
	if result.Reply == nil || result.Reply.NewAccountFrame == nil {
		t.Fatalf("expected a batched ACK+proposal reply since right had mempool txs")
	}
	if result.Reply.NewAccountFrame.Height != right.CurrentHeight+1 {
		// right committed left's frame (CurrentHeight now 1) before
		// building the chained proposal on top of it.
		t.Fatalf("chained frame height = %d, want %d", result.Reply.NewAccountFrame.Height, right.PendingFrame.Height)
	}
}

// TestReplayedFrameRejectedBySequence covers S6: replaying an
// already-committed frame must fail the sequence check (I1), not silently
// re-apply.
func TestReplayedFrameRejectedBySequence(t *testing.T) {
	left, right, envLeft, envRight, leftID, rightID := setupPair(t)

	left.Mempool = append(left.Mempool, paymentTx(1, "300"))
	proposeRes, err := Propose(envLeft, left, false, nil)
	if err != nil {
		t.Fatalf("Propose: %v", err)
	}

	input := deliverFrame(proposeRes, leftID, rightID)
	if _, err := HandleInput(envRight, right, input); err != nil {
		t.Fatalf("first delivery: %v", err)
	}

	replay := deliverFrame(proposeRes, leftID, rightID)
	_, err = HandleInput(envRight, right, replay)
	if err == nil {
		t.Fatalf("expected replay to be rejected")
	}
	ae, ok := err.(*AccountError)
	if !ok || ae.Code != ErrFrameSequenceMismatch {
		t.Fatalf("err = %v, want FRAME_SEQUENCE_MISMATCH", err)
	}
}

// TestStaleAckRedeliveryIsNoOp covers the idempotence property spec.md §8
// requires: once the pending frame has committed, redelivering the same ACK
// matches nothing and must leave the machine untouched.
func TestStaleAckRedeliveryIsNoOp(t *testing.T) {
	left, right, envLeft, envRight, leftID, rightID := setupPair(t)

	left.Mempool = append(left.Mempool, paymentTx(1, "500"))
	proposeRes, err := Propose(envLeft, left, false, nil)
	if err != nil {
		t.Fatalf("Propose: %v", err)
	}
	result, err := HandleInput(envRight, right, deliverFrame(proposeRes, leftID, rightID))
	if err != nil {
		t.Fatalf("HandleInput (receiver): %v", err)
	}
	if _, err := HandleInput(envLeft, left, result.Reply); err != nil {
		t.Fatalf("HandleInput (ack): %v", err)
	}
	if left.CurrentHeight != 1 || left.PendingFrame != nil {
		t.Fatalf("ack did not commit cleanly")
	}

	nonceBefore := left.ProofHeader.Nonce
	redelivered := *result.Reply
	if _, err := HandleInput(envLeft, left, &redelivered); err != nil {
		t.Fatalf("redelivered ack must be a no-op, got %v", err)
	}
	if left.CurrentHeight != 1 || left.ProofHeader.Nonce != nonceBefore {
		t.Fatalf("redelivered ack mutated state")
	}
}

// TestUnmatchedAckRejected: an ACK naming a height that matches nothing in
// flight while a pending frame exists is a protocol violation (spec.md §4.5).
func TestUnmatchedAckRejected(t *testing.T) {
	left, right, envLeft, envRight, leftID, rightID := setupPair(t)

	left.Mempool = append(left.Mempool, paymentTx(1, "100"))
	proposeRes, err := Propose(envLeft, left, false, nil)
	if err != nil {
		t.Fatalf("Propose: %v", err)
	}
	result, err := HandleInput(envRight, right, deliverFrame(proposeRes, leftID, rightID))
	if err != nil {
		t.Fatalf("HandleInput (receiver): %v", err)
	}

	wrongHeight := *result.Reply
	wrongHeight.Height = 5
	_, err = HandleInput(envLeft, left, &wrongHeight)
	if err == nil {
		t.Fatalf("expected an UnmatchedAck error")
	}
	ae, ok := err.(*AccountError)
	if !ok || ae.Code != ErrUnmatchedAck {
		t.Fatalf("err = %v, want UNMATCHED_ACK", err)
	}
	if left.PendingFrame == nil || left.CurrentHeight != 0 {
		t.Fatalf("unmatched ack must leave the pending frame and height untouched")
	}
}

// TestAckOnlyChainsProposalWhenMempoolNonEmpty covers spec.md §4.5 step 6
// for the case the batched-frame test (S5) doesn't exercise: an envelope
// that is a pure ACK (no piggy-backed newAccountFrame) must still trigger a
// chained proposal when the ACKing side's mempool is non-empty, rather than
// silently dropping that work until a separate Propose call.
func TestAckOnlyChainsProposalWhenMempoolNonEmpty(t *testing.T) {
	left, right, envLeft, envRight, leftID, rightID := setupPair(t)

	left.Mempool = append(left.Mempool, paymentTx(1, "100"))
	proposeRes, err := Propose(envLeft, left, false, nil)
	if err != nil {
		t.Fatalf("Propose: %v", err)
	}

	input := deliverFrame(proposeRes, leftID, rightID)
	result, err := HandleInput(envRight, right, input)
	if err != nil {
		t.Fatalf("HandleInput (receiver): %v", err)
	}
	if result.Reply == nil {
		t.Fatalf("expected an ACK reply")
	}
	// Strip the reply down to a pure ACK (as if right had nothing of its
	// own to propose at commit time) and only then give left mempool work,
	// so the chaining we're testing happens on left's handleAck path, not
	// right's handleNewFrame path.
	ackOnly := *result.Reply
	ackOnly.NewAccountFrame = nil
	ackOnly.NewHanko = nil
	ackOnly.FromEntity, ackOnly.ToEntity = rightID, leftID

	left.Mempool = append(left.Mempool, paymentTx(2, "50"))

	ackResult, err := HandleInput(envLeft, left, &ackOnly)
	if err != nil {
		t.Fatalf("HandleInput (ack): %v", err)
	}
	if left.CurrentHeight != 1 {
		t.Fatalf("left.CurrentHeight = %d, want 1 after the ack commits", left.CurrentHeight)
	}
	if ackResult.Reply == nil || ackResult.Reply.NewAccountFrame == nil {
		t.Fatalf("expected the ack-only handler to chain a fresh proposal for left's pending mempool tx")
	}
	if ackResult.Reply.NewAccountFrame.Height != 2 {
		t.Fatalf("chained proposal height = %d, want 2", ackResult.Reply.NewAccountFrame.Height)
	}
	if left.PendingFrame == nil {
		t.Fatalf("left should have a pending frame awaiting ACK for the chained proposal")
	}
}

// TestCreditLimitEnforced is a supplementary property test: a payment that
// exceeds the counterparty's extended credit limit must fail validation
// and never appear in the committed frame.
func TestCreditLimitEnforced(t *testing.T) {
	left, _, envLeft, _, _, _ := setupPair(t)

	left.Mempool = append(left.Mempool, creditLimitTx(1, true, "100"))
	if _, err := Propose(envLeft, left, false, nil); err != nil {
		t.Fatalf("Propose (credit limit): %v", err)
	}
	// ACK it locally by re-executing on the real machine directly, as the
	// counterparty would.
	_, _, err := executeTxsInto(envLeft, left, left.PendingFrame.AccountTxs, left.PendingFrame.ByLeft, left.PendingFrame.Timestamp, 0, false)
	if err != nil {
		t.Fatalf("commit credit limit frame: %v", err)
	}
	left.CurrentFrame = *left.PendingFrame
	left.CurrentHeight = left.PendingFrame.Height
	left.PendingFrame = nil

	left.Mempool = append(left.Mempool, paymentTx(1, "1000"))
	_, err = Propose(envLeft, left, false, nil)
	if err == nil {
		t.Fatalf("expected Propose to reject a mempool with only an over-limit payment")
	}
	ae, ok := err.(*AccountError)
	if !ok || ae.Code != ErrTxValidationSkipped {
		t.Fatalf("err = %v, want TX_VALIDATION_SKIPPED", err)
	}
	if len(left.Mempool) != 0 {
		t.Fatalf("failed-validation mempool should still be cleared")
	}
}

// TestMempoolSizeBoundary covers the exact mempool-size bound spec.md §8
// lists as testable: exactly MaxMempoolSize txs proposes, one more than that
// is rejected with MempoolOverflow. TxSettle is accepted unconditionally and
// never mutates bilateral state, so it lets the bound itself be exercised
// without needing a thousand independently-valid payments.
func TestMempoolSizeBoundary(t *testing.T) {
	left, _, envLeft, _, _, _ := setupPair(t)

	for i := 0; i < MaxMempoolSize; i++ {
		left.Mempool = append(left.Mempool, AccountTx{Type: TxSettle})
	}
	if _, err := Propose(envLeft, left, false, nil); err != nil {
		t.Fatalf("Propose with exactly MaxMempoolSize (%d) txs should succeed: %v", MaxMempoolSize, err)
	}

	over := NewAccountMachine(testEntity(0x01), testEntity(0x02))
	for i := 0; i < MaxMempoolSize+1; i++ {
		over.Mempool = append(over.Mempool, AccountTx{Type: TxSettle})
	}
	_, err := Propose(envLeft, over, false, nil)
	if err == nil {
		t.Fatalf("expected MempoolOverflow with MaxMempoolSize+1 txs")
	}
	ae, ok := err.(*AccountError)
	if !ok || ae.Code != ErrMempoolOverflow {
		t.Fatalf("err = %v, want MEMPOOL_OVERFLOW", err)
	}
}

// TestFrameSizeBoundary covers the exact canonical-encoding byte bound
// spec.md §8 lists as testable: a frame of exactly MaxFrameBytes proposes,
// one byte past it is rejected with FrameTooLarge. A single TxSettle's Data
// field (hex-encoded, 2 chars/byte) gives even-granularity control over the
// encoded size; jHeight's decimal digit count gives a 1-byte lever on top of
// that, so together they can hit any exact byte target.
func TestFrameSizeBoundary(t *testing.T) {
	fixedNow := time.Unix(1_700_000_000, 0)
	signer := newFakeSigner()
	env := newTestEnv(signer, DepositoryAddress{0xAA}, func() time.Time { return fixedNow })
	leftID, rightID := testEntity(0x01), testEntity(0x02)

	jHeightForDigits := func(digits int) uint64 {
		switch digits {
		case 1:
			return 9
		case 2:
			return 10
		default:
			return 100
		}
	}
	proposeAt := func(dataLen, digits int) (ProposeResult, error) {
		m := NewAccountMachine(leftID, rightID)
		m.Mempool = []AccountTx{{Type: TxSettle, Data: make([]byte, dataLen)}}
		jh := jHeightForDigits(digits)
		return Propose(env, m, false, &jh)
	}
	sizeAt := func(dataLen, digits int) int {
		res, err := proposeAt(dataLen, digits)
		if err != nil {
			t.Fatalf("Propose(dataLen=%d, digits=%d): %v", dataLen, digits, err)
		}
		sz, err := FrameSizeBytes(&res.Frame)
		if err != nil {
			t.Fatalf("FrameSizeBytes: %v", err)
		}
		return sz
	}

	base1 := sizeAt(0, 1)
	rem := MaxFrameBytes - base1
	if rem < 0 {
		t.Fatalf("baseline frame already exceeds MaxFrameBytes: %d", base1)
	}
	digits := 1
	if rem%2 != 0 {
		digits = 2
		rem--
	}
	dataLen := rem / 2

	if got := sizeAt(dataLen, digits); got != MaxFrameBytes {
		t.Fatalf("constructed frame size = %d, want exactly MaxFrameBytes (%d)", got, MaxFrameBytes)
	}
	if _, err := proposeAt(dataLen, digits); err != nil {
		t.Fatalf("Propose at exactly MaxFrameBytes should succeed: %v", err)
	}

	_, err := proposeAt(dataLen, digits+1)
	if err == nil {
		t.Fatalf("expected FrameTooLarge one byte past MaxFrameBytes")
	}
	ae, ok := err.(*AccountError)
	if !ok || ae.Code != ErrFrameTooLarge {
		t.Fatalf("err = %v, want FRAME_TOO_LARGE", err)
	}
}

// TestTimestampSkewBoundary covers the exact clock-skew bound spec.md §8
// lists as testable: a proposed frame timestamped exactly ±ClockSkewTolerance
// from the receiver's clock is accepted, one second further in either
// direction is rejected.
func TestTimestampSkewBoundary(t *testing.T) {
	receiverNow := time.Unix(1_700_000_000, 0)

	proposeAndDeliver := func(proposerNow time.Time) error {
		signer := newFakeSigner()
		depository := DepositoryAddress{0xAA}
		leftID, rightID := testEntity(0x01), testEntity(0x02)
		envLeft := newTestEnv(signer, depository, func() time.Time { return proposerNow })
		envRight := newTestEnv(signer, depository, func() time.Time { return receiverNow })

		left := NewAccountMachine(leftID, rightID)
		right := NewAccountMachine(rightID, leftID)
		left.Mempool = append(left.Mempool, AccountTx{Type: TxSettle})

		proposeRes, err := Propose(envLeft, left, false, nil)
		if err != nil {
			t.Fatalf("Propose: %v", err)
		}
		input := deliverFrame(proposeRes, leftID, rightID)
		_, err = HandleInput(envRight, right, input)
		return err
	}

	if err := proposeAndDeliver(receiverNow.Add(ClockSkewTolerance)); err != nil {
		t.Fatalf("timestamp exactly +%s ahead should be accepted: %v", ClockSkewTolerance, err)
	}
	if err := proposeAndDeliver(receiverNow.Add(-ClockSkewTolerance)); err != nil {
		t.Fatalf("timestamp exactly -%s behind should be accepted: %v", ClockSkewTolerance, err)
	}

	err := proposeAndDeliver(receiverNow.Add(ClockSkewTolerance + time.Second))
	if err == nil {
		t.Fatalf("expected rejection for a timestamp beyond +ClockSkewTolerance")
	}
	if ae, ok := err.(*AccountError); !ok || ae.Code != ErrInvalidFrameStructure {
		t.Fatalf("err = %v, want INVALID_FRAME_STRUCTURE", err)
	}

	err = proposeAndDeliver(receiverNow.Add(-ClockSkewTolerance - time.Second))
	if err == nil {
		t.Fatalf("expected rejection for a timestamp beyond -ClockSkewTolerance")
	}
	if ae, ok := err.(*AccountError); !ok || ae.Code != ErrInvalidFrameStructure {
		t.Fatalf("err = %v, want INVALID_FRAME_STRUCTURE", err)
	}
}

// TestProofHeaderNonceMonotonic covers testable property 4 from spec.md §8
// and I8 directly: the nonce advances by exactly one per outbound envelope
// (proposal or ACK) and never regresses, across a full propose/ack exchange.
func TestProofHeaderNonceMonotonic(t *testing.T) {
	left, right, envLeft, envRight, leftID, rightID := setupPair(t)

	left.Mempool = append(left.Mempool, paymentTx(1, "100"))
	if left.ProofHeader.Nonce != 0 {
		t.Fatalf("left nonce should start at 0")
	}
	proposeRes, err := Propose(envLeft, left, false, nil)
	if err != nil {
		t.Fatalf("Propose: %v", err)
	}
	if left.ProofHeader.Nonce != 1 {
		t.Fatalf("left nonce after proposing = %d, want 1 (one increment per outbound envelope)", left.ProofHeader.Nonce)
	}

	input := deliverFrame(proposeRes, leftID, rightID)
	if right.ProofHeader.Nonce != 0 {
		t.Fatalf("right nonce should start at 0")
	}
	result, err := HandleInput(envRight, right, input)
	if err != nil {
		t.Fatalf("HandleInput (receiver): %v", err)
	}
	// Right's mempool is empty, so this is a plain ACK with nothing
	// chained: the nonce must still have moved, which is exactly the bug
	// this test guards against.
	if right.ProofHeader.Nonce != 1 {
		t.Fatalf("right nonce after emitting a plain ACK = %d, want 1", right.ProofHeader.Nonce)
	}

	ackInput := result.Reply
	ackInput.FromEntity, ackInput.ToEntity = rightID, leftID
	if _, err := HandleInput(envLeft, left, ackInput); err != nil {
		t.Fatalf("HandleInput (ack): %v", err)
	}
	// Left only received an ACK and had no mempool work to chain, so no new
	// outbound envelope was sent and its nonce must not have moved again.
	if left.ProofHeader.Nonce != 1 {
		t.Fatalf("left nonce after committing via ack = %d, want unchanged at 1", left.ProofHeader.Nonce)
	}
}
