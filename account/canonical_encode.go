package account

import (
	"bytes"
	"encoding/hex"
	"fmt"
)

// canonicalEncodeFrame renders the deterministic, byte-identical encoding
// of a frame described in spec.md §4.1: a JSON-equivalent structure with
// every field in a fixed order, big integers as decimal strings without
// leading zeros, and hex strings 0x-prefixed/lowercase/even-length. It is
// hand-rolled rather than routed through encoding/json specifically
// because spec.md §9 warns against relying on a JSON library's key
// ordering — json.Marshal on a map does sort keys in Go, but spec.md wants
// a guaranteed-portable (cross-language) encoder, so the ordering is
// explicit here rather than incidental.
func canonicalEncodeFrame(f *Frame) ([]byte, error) {
	if f == nil {
		return nil, fmt.Errorf("canonical_encode: nil frame")
	}
	if len(f.TokenIds) != len(f.Deltas) || len(f.TokenIds) != len(f.FullDeltaStates) {
		return nil, fmt.Errorf("canonical_encode: tokenIds/deltas/fullDeltaStates length mismatch")
	}

	var buf bytes.Buffer
	buf.WriteByte('{')
	writeKeyUint(&buf, "height", f.Height, true)
	writeKeyInt(&buf, "timestamp", f.Timestamp)
	writeKeyUint(&buf, "jHeight", f.JHeight, false)
	writeKeyString(&buf, "prevFrameHash", f.PrevFrameHash)

	buf.WriteString(`,"accountTxs":[`)
	for i, tx := range f.AccountTxs {
		if i > 0 {
			buf.WriteByte(',')
		}
		buf.WriteByte('{')
		writeKeyString(&buf, "type", string(tx.Type))
		buf.WriteString(`,"data":"0x`)
		buf.WriteString(hex.EncodeToString(tx.Data))
		buf.WriteString(`"}`)
	}
	buf.WriteString(`]`)

	buf.WriteString(`,"tokenIds":[`)
	for i, id := range f.TokenIds {
		if i > 0 {
			buf.WriteByte(',')
		}
		fmt.Fprintf(&buf, "%d", id)
	}
	buf.WriteString(`]`)

	buf.WriteString(`,"deltas":[`)
	for i, d := range f.Deltas {
		if i > 0 {
			buf.WriteByte(',')
		}
		buf.WriteByte('"')
		buf.WriteString(d.DecString())
		buf.WriteByte('"')
	}
	buf.WriteString(`]`)

	buf.WriteString(`,"fullDeltaStates":[`)
	for i, ds := range f.FullDeltaStates {
		if i > 0 {
			buf.WriteByte(',')
		}
		writeDeltaState(&buf, ds)
	}
	buf.WriteString(`]`)

	// byLeft sits second-to-last, right before the (excluded) stateHash —
	// the one canonical position that resolves the historical encoder
	// variants which disagreed on where (and whether) it was hashed.
	writeKeyBool(&buf, "byLeft", f.ByLeft)

	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func writeDeltaState(buf *bytes.Buffer, d Delta) {
	buf.WriteByte('{')
	writeKeyUint(buf, "tokenId", uint64(d.TokenID), true)
	writeKeySignedFollow(buf, "collateral", d.Collateral)
	writeKeySignedFollow(buf, "ondelta", d.OnDelta)
	writeKeySignedFollow(buf, "offdelta", d.OffDelta)
	writeKeySignedFollow(buf, "leftCreditLimit", d.LeftCreditLimit)
	writeKeySignedFollow(buf, "rightCreditLimit", d.RightCreditLimit)
	writeKeySignedFollow(buf, "leftAllowance", d.LeftAllowance)
	writeKeySignedFollow(buf, "rightAllowance", d.RightAllowance)
	writeKeySignedFollow(buf, "leftHtlcHold", d.LeftHtlcHold)
	writeKeySignedFollow(buf, "rightHtlcHold", d.RightHtlcHold)
	writeKeySignedFollow(buf, "leftSwapHold", d.LeftSwapHold)
	writeKeySignedFollow(buf, "rightSwapHold", d.RightSwapHold)
	writeKeySignedFollow(buf, "leftSettleHold", d.LeftSettleHold)
	writeKeySignedFollow(buf, "rightSettleHold", d.RightSettleHold)
	buf.WriteByte('}')
}

func writeKeyUint(buf *bytes.Buffer, key string, v uint64, first bool) {
	if !first {
		buf.WriteByte(',')
	}
	fmt.Fprintf(buf, `"%s":%d`, key, v)
}

func writeKeyInt(buf *bytes.Buffer, key string, v int64) {
	fmt.Fprintf(buf, `,"%s":%d`, key, v)
}

func writeKeyString(buf *bytes.Buffer, key string, v string) {
	fmt.Fprintf(buf, `,"%s":%q`, key, v)
}

func writeKeyBool(buf *bytes.Buffer, key string, v bool) {
	fmt.Fprintf(buf, `,"%s":%t`, key, v)
}

func writeKeySignedFollow(buf *bytes.Buffer, key string, v SignedInt) {
	fmt.Fprintf(buf, `,"%s":"%s"`, key, v.DecString())
}

// assertAscending enforces strict ascending token-id order (I6) before
// encoding or after deriving tokenIds from a delta map.
func assertAscending(ids []uint32) error {
	for i := 1; i < len(ids); i++ {
		if ids[i] <= ids[i-1] {
			return fmt.Errorf("canonical_encode: tokenIds not strictly ascending at index %d", i)
		}
	}
	return nil
}
