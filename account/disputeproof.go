package account

import (
	"bytes"
	"fmt"
)

// DefaultProofBuilder implements DisputeProofBuilder (C8) using the same
// canonical encoder as the frame hash, extended with the account's
// identifiers and proof header so the resulting body is self-describing
// on-chain. A "real" ABI encoder (Solidity struct tuple encoding) is an
// external, jurisdiction-specific concern per spec.md §6; this is the
// reference encoding exercised by the rest of the core and the test suite.
type DefaultProofBuilder struct {
	Hasher Hasher
}

func (b DefaultProofBuilder) BuildAccountProofBody(m *AccountMachine) (ProofBodyStruct, error) {
	if m == nil {
		return ProofBodyStruct{}, fmt.Errorf("disputeproof: nil account")
	}
	var buf bytes.Buffer
	buf.WriteByte('{')
	buf.WriteString(`"leftEntity":"0x`)
	buf.WriteString(hexEncode(m.LeftEntity[:]))
	buf.WriteString(`","rightEntity":"0x`)
	buf.WriteString(hexEncode(m.RightEntity[:]))
	fmt.Fprintf(&buf, `","height":%d,"nonce":%d,"disputeNonce":%d`, m.CurrentHeight, m.ProofHeader.Nonce, m.ProofHeader.DisputeNonce)
	buf.WriteString(`,"deltas":[`)
	ids := m.sortedTokenIds()
	for i, id := range ids {
		if i > 0 {
			buf.WriteByte(',')
		}
		writeDeltaState(&buf, m.Deltas[id])
	}
	buf.WriteString(`]}`)

	encoded := buf.Bytes()
	hash := Hash(b.Hasher.Keccak256(encoded))
	return ProofBodyStruct{ProofBodyHash: hash, EncodedProofBody: encoded}, nil
}

func (b DefaultProofBuilder) CreateDisputeProofHash(m *AccountMachine, proofBodyHash Hash, depository DepositoryAddress) (Hash, error) {
	if m == nil {
		return Hash{}, fmt.Errorf("disputeproof: nil account")
	}
	return Hash(b.Hasher.Keccak256(proofBodyHash[:], depository[:], m.LeftEntity[:], m.RightEntity[:])), nil
}

func hexEncode(b []byte) string {
	const hexdigits = "0123456789abcdef"
	out := make([]byte, len(b)*2)
	for i, c := range b {
		out[i*2] = hexdigits[c>>4]
		out[i*2+1] = hexdigits[c&0xf]
	}
	return string(out)
}

// recordDisputeProof updates the two forward indices described in §4.8:
// disputeProofNoncesByHash and disputeProofBodiesByHash.
func (m *AccountMachine) recordDisputeProof(body ProofBodyStruct, nonce uint64) {
	if m.DisputeProofNoncesByHash == nil {
		m.DisputeProofNoncesByHash = make(map[Hash]uint64)
	}
	if m.DisputeProofBodiesByHash == nil {
		m.DisputeProofBodiesByHash = make(map[Hash][]byte)
	}
	m.DisputeProofNoncesByHash[body.ProofBodyHash] = nonce
	m.DisputeProofBodiesByHash[body.ProofBodyHash] = body.EncodedProofBody
}

// storeCounterpartyDisputeMetadata implements §4.3 step 11 / §4.5 step 4:
// verify the peer's dispute hanko over their claimed dispute hash and, on
// success, remember it. Failure is logged (via the returned bool) but is
// never fatal to the frame commit itself.
func storeCounterpartyDisputeMetadata(env Env, m *AccountMachine, counterparty EntityID, hanko []byte, disputeHash Hash, proofBodyHash Hash, nonce uint64) (bool, error) {
	if len(hanko) == 0 {
		return false, nil
	}
	res, err := env.Verifier.VerifyHankoForHash(env, hanko, disputeHash, counterparty)
	if err != nil || !res.Valid {
		return false, err
	}
	m.CounterpartyDisputeProofHanko = hanko
	m.CounterpartyDisputeProofBodyHash = proofBodyHash
	m.CounterpartyDisputeProofNonce = nonce
	if m.DisputeProofNoncesByHash == nil {
		m.DisputeProofNoncesByHash = make(map[Hash]uint64)
	}
	m.DisputeProofNoncesByHash[proofBodyHash] = nonce
	return true, nil
}
