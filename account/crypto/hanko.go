package crypto

import (
	"crypto/ecdsa"
	"fmt"
	"sync"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"accord.dev/account"
)

// EntityIDFromPublicKey derives the 32-byte entity identifier the account
// core uses from a secp256k1 public key: the full keccak-256 hash of the
// uncompressed public key's X||Y bytes (the same preimage go-ethereum's
// crypto.PubkeyToAddress hashes before truncating to 20 bytes — this
// package just keeps the full digest instead of truncating, since
// spec.md's entity id is 32 bytes wide).
func EntityIDFromPublicKey(pub *ecdsa.PublicKey) account.EntityID {
	return account.EntityID(ethcrypto.Keccak256Hash(ethcrypto.FromECDSAPub(pub)[1:]))
}

// HankoSigner is the default account.SigningOracle + account.HankoVerifier:
// a single-validator-per-entity simplification of the Hanko multi-signer
// quorum described in spec.md §1 ("Hanko" is specified only as a signing
// oracle interface; multi-signer quorum aggregation is out of scope here
// and left to the entity layer). Each registered entity has exactly one
// secp256k1 key, which is "the first validator" spec.md §4.2 step 8 refers
// to.
type HankoSigner struct {
	mu   sync.RWMutex
	keys map[account.EntityID]*ecdsa.PrivateKey
}

// NewHankoSigner builds an empty signer; use Register to add entities.
func NewHankoSigner() *HankoSigner {
	return &HankoSigner{keys: make(map[account.EntityID]*ecdsa.PrivateKey)}
}

// Register generates a fresh secp256k1 keypair for a new entity and
// returns its derived EntityID.
func (s *HankoSigner) Register() (account.EntityID, error) {
	priv, err := ethcrypto.GenerateKey()
	if err != nil {
		return account.EntityID{}, fmt.Errorf("hanko: generate key: %w", err)
	}
	id := EntityIDFromPublicKey(&priv.PublicKey)
	s.mu.Lock()
	s.keys[id] = priv
	s.mu.Unlock()
	return id, nil
}

// RegisterKey registers an existing key under its derived EntityID (tests,
// fixture reconstruction).
func (s *HankoSigner) RegisterKey(priv *ecdsa.PrivateKey) account.EntityID {
	id := EntityIDFromPublicKey(&priv.PublicKey)
	s.mu.Lock()
	s.keys[id] = priv
	s.mu.Unlock()
	return id
}

// SignHashesAsSingleEntity implements account.SigningOracle.
func (s *HankoSigner) SignHashesAsSingleEntity(env account.Env, entity account.EntityID, signerID uint32, hashes []account.Hash) ([][]byte, error) {
	s.mu.RLock()
	priv, ok := s.keys[entity]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("hanko: unknown entity %x", entity)
	}
	out := make([][]byte, len(hashes))
	for i, h := range hashes {
		sig, err := ethcrypto.Sign(h[:], priv)
		if err != nil {
			return nil, fmt.Errorf("hanko: sign: %w", err)
		}
		out[i] = sig
	}
	return out, nil
}

// VerifyHankoForHash implements account.HankoVerifier.
func (s *HankoSigner) VerifyHankoForHash(env account.Env, hanko []byte, hash account.Hash, expectedEntity account.EntityID) (account.HankoVerificationResult, error) {
	if len(hanko) != 65 {
		return account.HankoVerificationResult{}, nil
	}
	pub, err := ethcrypto.SigToPub(hash[:], hanko)
	if err != nil {
		return account.HankoVerificationResult{}, nil
	}
	recovered := EntityIDFromPublicKey(pub)
	return account.HankoVerificationResult{
		Valid:    recovered == expectedEntity,
		EntityID: recovered,
	}, nil
}
