// Package crypto supplies the default cryptographic providers the account
// core consumes through its injected interfaces (account.SigningOracle,
// account.HankoVerifier): keccak-256 hashing and secp256k1 Hanko signing,
// adapted from the teacher's CryptoProvider boundary
// (crypto.CryptoProvider in the reference consensus client) to the
// signing-oracle shape spec.md §6 requires.
package crypto

// HashProvider is the narrow hashing interface the frame encoder (C1) and
// dispute-proof binding (C8) depend on.
type HashProvider interface {
	Keccak256(data ...[]byte) [32]byte
}
