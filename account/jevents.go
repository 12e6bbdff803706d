package account

import (
	"encoding/json"
	"time"
)

// EncodeJEventClaim renders a JEventClaim into the opaque tx-data blob
// carried by a TxJEventClaim transaction.
func EncodeJEventClaim(c JEventClaim) ([]byte, error) {
	return json.Marshal(jEventClaimWire{
		JHeight:    c.JHeight,
		JBlockHash: c.JBlockHash,
		Events:     c.Events,
	})
}

// DecodeJEventClaim is the inverse of EncodeJEventClaim.
func DecodeJEventClaim(data []byte) (JEventClaim, error) {
	var w jEventClaimWire
	if err := json.Unmarshal(data, &w); err != nil {
		return JEventClaim{}, err
	}
	return JEventClaim{JHeight: w.JHeight, JBlockHash: w.JBlockHash, Events: w.Events}, nil
}

type jEventClaimWire struct {
	JHeight    uint64   `json:"jHeight"`
	JBlockHash Hash     `json:"jBlockHash"`
	Events     []JEvent `json:"events"`
}

// recordJObservation implements the side-keyed half of §4.7: a
// j_event_claim transaction carried inside a just-committed frame encodes
// the observation of the side that proposed the frame (the frame's byLeft
// flag, passed as claimByLeft), and the entry goes to that side's bucket.
//
// Concretely: if the committed frame was proposed byLeft, the claim is the
// left side's observation and is recorded into LeftJObservations; vice
// versa for the right side.
func (m *AccountMachine) recordJObservation(claimByLeft bool, claim JEventClaim) {
	obs := JObservation{JHeight: claim.JHeight, JBlockHash: claim.JBlockHash, Events: claim.Events}
	if claimByLeft {
		m.LeftJObservations = append(m.LeftJObservations, obs)
	} else {
		m.RightJObservations = append(m.RightJObservations, obs)
	}
}

// finalizeJEvents implements the 2-of-2 match and apply step of §4.7,
// enforcing I9: collateral/ondelta only change once matching (jHeight,
// jBlockHash) observations exist on both sides. now is injected so the
// finalizedAt timestamp stays deterministic under test.
func (m *AccountMachine) finalizeJEvents(now time.Time) []FinalizedJEvent {
	already := make(map[jKey]struct{}, len(m.JEventChain))
	for _, f := range m.JEventChain {
		already[jKey{f.JHeight, f.JBlockHash}] = struct{}{}
	}

	var finalized []FinalizedJEvent
	var remainingLeft, remainingRight []JObservation

	matchedRight := make(map[int]bool)
	for _, l := range m.LeftJObservations {
		lk := jKey{l.JHeight, l.JBlockHash}
		if _, done := already[lk]; done {
			continue
		}
		matchIdx := -1
		for ri, r := range m.RightJObservations {
			if matchedRight[ri] {
				continue
			}
			if r.JHeight == l.JHeight && r.JBlockHash == l.JBlockHash {
				matchIdx = ri
				break
			}
		}
		if matchIdx == -1 {
			remainingLeft = append(remainingLeft, l)
			continue
		}
		matchedRight[matchIdx] = true
		m.applyJEvents(l.Events)
		fe := FinalizedJEvent{JHeight: l.JHeight, JBlockHash: l.JBlockHash, Events: l.Events, FinalizedAt: now}
		m.JEventChain = append(m.JEventChain, fe)
		// Observations finalize in bucket order, not jHeight order, so this
		// must never regress when a lower height matches after a higher one.
		if l.JHeight > m.LastFinalizedJHeight {
			m.LastFinalizedJHeight = l.JHeight
		}
		finalized = append(finalized, fe)
		already[lk] = struct{}{}
	}
	for ri, r := range m.RightJObservations {
		if !matchedRight[ri] {
			remainingRight = append(remainingRight, r)
		}
	}
	m.LeftJObservations = remainingLeft
	m.RightJObservations = remainingRight
	return finalized
}

// applyJEvents overwrites collateral/ondelta deterministically per event
// (§4.7); default credit limits (zero) are used when the delta didn't
// previously exist.
func (m *AccountMachine) applyJEvents(events []JEvent) {
	for _, e := range events {
		if e.Kind != JEventAccountSettled {
			continue
		}
		d := getOrCreateDelta(m, e.TokenID)
		d.Collateral = e.Collateral
		d.OnDelta = e.OnDelta
		m.Deltas[e.TokenID] = d
	}
}
