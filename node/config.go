// Package node wires the account core (accord.dev/account) together with
// persistence, signing, and hashing into a process-level host: the
// entity-layer stand-in a jurisdiction operator would run one of per
// participant.
package node

import (
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds the tunables an operator supplies at startup, read from
// environment variables with safe defaults, mirroring the teacher's
// HSMConfigFromEnv pattern.
type Config struct {
	DataDir           string        // ACCORD_DATA_DIR
	DepositoryHex     string        // ACCORD_DEPOSITORY_ADDRESS (20 bytes hex)
	ListenAddr        string        // ACCORD_LISTEN_ADDR
	FrameFlushTimeout time.Duration // ACCORD_FRAME_FLUSH_TIMEOUT
}

// ConfigFromEnv reads Config from the process environment.
func ConfigFromEnv() Config {
	cfg := Config{
		DataDir:           "./data",
		ListenAddr:        ":7620",
		FrameFlushTimeout: 30 * time.Second,
	}
	if v := os.Getenv("ACCORD_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("ACCORD_DEPOSITORY_ADDRESS"); v != "" {
		cfg.DepositoryHex = v
	}
	if v := os.Getenv("ACCORD_LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv("ACCORD_FRAME_FLUSH_TIMEOUT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.FrameFlushTimeout = time.Duration(n) * time.Second
		}
	}
	return cfg
}

// DepositoryAddressBytes decodes DepositoryHex into a 20-byte array.
func (c Config) DepositoryAddressBytes() ([20]byte, error) {
	var out [20]byte
	s := c.DepositoryHex
	if len(s) >= 2 && s[:2] == "0x" {
		s = s[2:]
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return out, fmt.Errorf("node: bad ACCORD_DEPOSITORY_ADDRESS: %w", err)
	}
	if len(b) != 20 {
		return out, fmt.Errorf("node: ACCORD_DEPOSITORY_ADDRESS must be 20 bytes, got %d", len(b))
	}
	copy(out[:], b)
	return out, nil
}
