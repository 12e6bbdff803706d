package account

// Hasher is the narrow keccak-256 boundary the frame hash and dispute hash
// depend on. It is a structural (not imported) match for
// accord.dev/account/crypto.KeccakProvider so this package never needs to
// import the crypto package — the core has no cryptographic implementation
// opinions, only a digest dependency (spec.md §9 "Global mutable state:
// none in the core").
type Hasher interface {
	Keccak256(data ...[]byte) [32]byte
}

// ComputeFrameHash implements C1: a pure, deterministic function from a
// frame (minus its own StateHash field) to its keccak-256 digest over the
// canonical encoding (spec.md §4.1). It has no error path other than a
// malformed frame (mismatched parallel-array lengths), since the input is
// fully typed.
func ComputeFrameHash(h Hasher, f *Frame) (Hash, error) {
	encoded, err := canonicalEncodeFrame(f)
	if err != nil {
		return Hash{}, err
	}
	return Hash(h.Keccak256(encoded)), nil
}

// FrameSizeBytes returns the canonical-encoded size used for the 1 MiB
// frame-size bound (spec.md §4.2 step 7, §5).
func FrameSizeBytes(f *Frame) (int, error) {
	encoded, err := canonicalEncodeFrame(f)
	if err != nil {
		return 0, err
	}
	return len(encoded), nil
}
