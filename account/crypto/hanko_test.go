package crypto

import (
	"testing"

	"accord.dev/account"
)

func TestHankoSignerRoundTrip(t *testing.T) {
	signer := NewHankoSigner()
	id, err := signer.Register()
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	var hash account.Hash
	hash[0] = 0x11
	hash[31] = 0x99

	sigs, err := signer.SignHashesAsSingleEntity(account.Env{}, id, 0, []account.Hash{hash})
	if err != nil {
		t.Fatalf("SignHashesAsSingleEntity: %v", err)
	}
	if len(sigs) != 1 || len(sigs[0]) == 0 {
		t.Fatalf("expected one non-empty signature")
	}

	res, err := signer.VerifyHankoForHash(account.Env{}, sigs[0], hash, id)
	if err != nil {
		t.Fatalf("VerifyHankoForHash: %v", err)
	}
	if !res.Valid || res.EntityID != id {
		t.Fatalf("expected a valid signature recovering entity %x, got valid=%v recovered=%x", id, res.Valid, res.EntityID)
	}
}

func TestHankoSignerRejectsWrongEntity(t *testing.T) {
	signer := NewHankoSigner()
	signerA, err := signer.Register()
	if err != nil {
		t.Fatalf("Register A: %v", err)
	}
	signerB, err := signer.Register()
	if err != nil {
		t.Fatalf("Register B: %v", err)
	}

	var hash account.Hash
	hash[5] = 0x42

	sigs, err := signer.SignHashesAsSingleEntity(account.Env{}, signerA, 0, []account.Hash{hash})
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	res, err := signer.VerifyHankoForHash(account.Env{}, sigs[0], hash, signerB)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if res.Valid {
		t.Fatalf("signature by A must not verify as B's hanko")
	}
}

func TestHankoSignerRejectsTamperedHash(t *testing.T) {
	signer := NewHankoSigner()
	id, err := signer.Register()
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	var hash, tampered account.Hash
	hash[0] = 0xAB
	tampered[0] = 0xAC

	sigs, err := signer.SignHashesAsSingleEntity(account.Env{}, id, 0, []account.Hash{hash})
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	res, err := signer.VerifyHankoForHash(account.Env{}, sigs[0], tampered, id)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if res.Valid {
		t.Fatalf("signature over one hash must not verify against a different hash")
	}
}

func TestKeccakProviderDeterministicAndSensitiveToOrder(t *testing.T) {
	a := Default.Keccak256([]byte("left"), []byte("right"))
	b := Default.Keccak256([]byte("left"), []byte("right"))
	if a != b {
		t.Fatalf("Keccak256 must be deterministic for identical inputs")
	}
	c := Default.Keccak256([]byte("right"), []byte("left"))
	if a == c {
		t.Fatalf("Keccak256 must be sensitive to argument order, not just concatenation contents equality by coincidence")
	}
}

func TestStaticDepositoryAddressRequiresConfiguration(t *testing.T) {
	var unset StaticDepositoryAddress
	if _, err := unset.DepositoryAddress(account.Env{}); err == nil {
		t.Fatalf("expected an error for an unconfigured depository address, not a silent zero address")
	}

	set := StaticDepositoryAddress{Address: account.DepositoryAddress{0x01}, Set: true}
	addr, err := set.DepositoryAddress(account.Env{})
	if err != nil {
		t.Fatalf("DepositoryAddress: %v", err)
	}
	if addr != set.Address {
		t.Fatalf("DepositoryAddress returned %v, want %v", addr, set.Address)
	}
}
