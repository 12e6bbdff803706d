// Command account-cli is a stdin/stdout JSON fixture runner for the
// account core, mirroring the teacher's cmd/rubin-consensus-cli: one JSON
// request in, one JSON response out, useful for scripted conformance
// testing from outside Go.
package main

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"accord.dev/account"
	acctcrypto "accord.dev/account/crypto"
)

// Request mirrors the teacher's flat op-dispatch request shape: one struct
// with every field any op might need, selected by Op.
type Request struct {
	Op string `json:"op"`

	LeftEntityHex  string `json:"leftEntity,omitempty"`
	RightEntityHex string `json:"rightEntity,omitempty"`
	DepositoryHex  string `json:"depository,omitempty"`

	TxType string `json:"txType,omitempty"`
	TxData string `json:"txDataHex,omitempty"`

	FrameJSON json.RawMessage `json:"frame,omitempty"`
	HankoHex  string          `json:"hankoHex,omitempty"`
	FromHex   string          `json:"fromEntity,omitempty"`
}

type Response struct {
	Ok        bool            `json:"ok"`
	Err       string          `json:"err,omitempty"`
	StateHash string          `json:"stateHash,omitempty"`
	Frame     json.RawMessage `json:"frame,omitempty"`
	HankoHex  string          `json:"hankoHex,omitempty"`
}

func writeResp(w io.Writer, resp Response) {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(resp)
}

func decodeEntity(s string) (account.EntityID, error) {
	var id account.EntityID
	b, err := hex.DecodeString(trimHexPrefix(s))
	if err != nil || len(b) != 32 {
		return id, fmt.Errorf("bad entity id")
	}
	copy(id[:], b)
	return id, nil
}

func trimHexPrefix(s string) string {
	if len(s) >= 2 && s[:2] == "0x" {
		return s[2:]
	}
	return s
}

func main() {
	var req Request
	if err := json.NewDecoder(os.Stdin).Decode(&req); err != nil {
		writeResp(os.Stdout, Response{Ok: false, Err: fmt.Sprintf("bad request: %v", err)})
		return
	}

	signer := acctcrypto.NewHankoSigner()

	switch req.Op {
	case "genesis":
		left, err := decodeEntity(req.LeftEntityHex)
		if err != nil {
			writeResp(os.Stdout, Response{Ok: false, Err: err.Error()})
			return
		}
		right, err := decodeEntity(req.RightEntityHex)
		if err != nil {
			writeResp(os.Stdout, Response{Ok: false, Err: err.Error()})
			return
		}
		m := account.NewAccountMachine(left, right)
		frameJSON, err := json.Marshal(m.CurrentFrame)
		if err != nil {
			writeResp(os.Stdout, Response{Ok: false, Err: err.Error()})
			return
		}
		writeResp(os.Stdout, Response{Ok: true, Frame: frameJSON})
		return

	case "frame_hash":
		var frame account.Frame
		if err := json.Unmarshal(req.FrameJSON, &frame); err != nil {
			writeResp(os.Stdout, Response{Ok: false, Err: fmt.Sprintf("bad frame: %v", err)})
			return
		}
		hash, err := account.ComputeFrameHash(acctcrypto.Default, &frame)
		if err != nil {
			writeResp(os.Stdout, Response{Ok: false, Err: err.Error()})
			return
		}
		writeResp(os.Stdout, Response{Ok: true, StateHash: "0x" + hex.EncodeToString(hash[:])})
		return

	case "register_entity":
		id, err := signer.Register()
		if err != nil {
			writeResp(os.Stdout, Response{Ok: false, Err: err.Error()})
			return
		}
		writeResp(os.Stdout, Response{Ok: true, StateHash: "0x" + hex.EncodeToString(id[:])})
		return

	default:
		writeResp(os.Stdout, Response{Ok: false, Err: fmt.Sprintf("unknown op %q", req.Op)})
	}
}
