package account

// tiebreakOutcome communicates what the caller (handleNewFrame) should do
// next after a same-height collision is resolved (§4.4, C4).
type tiebreakOutcome struct {
	IgnoreIncoming bool // we are left: keep our pending frame, drop theirs
	RolledBack     bool // we are right: our pending frame was discarded
	Event          Event
}

// resolveCollision implements the deterministic left-wins tiebreak
// (spec.md §4.3 step 3, §4.4): the left side always survives a same-height
// collision. The right side rolls back at most once per collision;
// LastRollbackFrameHash deduplicates redelivery of the already-winning
// frame so it never double-counts as a second rollback. A second distinct
// collision without an intervening successful commit is ConsensusStalled.
func resolveCollision(m *AccountMachine, incoming *Frame) (tiebreakOutcome, error) {
	weAreLeft := m.IsLeft(m.ProofHeader.FromEntity)

	if weAreLeft {
		return tiebreakOutcome{
			IgnoreIncoming: true,
			Event: Event{
				Kind:   EventLeftWins,
				Height: incoming.Height,
				Detail: "left wins same-height collision; counterparty frame ignored",
			},
		}, nil
	}

	if m.HasLastRollbackFrameHash && m.LastRollbackFrameHash == incoming.StateHash {
		// Redelivery of the frame we already rolled back in favor of; not
		// a new collision.
		return tiebreakOutcome{RolledBack: true}, nil
	}
	if m.RollbackCount >= MaxRollbackCount {
		return tiebreakOutcome{}, newFatalErr(ErrConsensusStalled, "second distinct same-height collision without an intervening commit")
	}

	restored := append([]AccountTx(nil), m.PendingFrame.AccountTxs...)
	m.Mempool = append(restored, m.Mempool...)
	m.PendingFrame = nil
	m.PendingAccountInput = nil
	m.LastRollbackFrameHash = incoming.StateHash
	m.HasLastRollbackFrameHash = true
	m.RollbackCount++

	return tiebreakOutcome{
		RolledBack: true,
		Event: Event{
			Kind:   EventRollback,
			Height: incoming.Height,
			Detail: "right rolled back pending frame in favor of left's frame",
		},
	}, nil
}
