package node

import (
	"os"
	"testing"
	"time"
)

func TestConfigFromEnvDefaults(t *testing.T) {
	for _, k := range []string{"ACCORD_DATA_DIR", "ACCORD_DEPOSITORY_ADDRESS", "ACCORD_LISTEN_ADDR", "ACCORD_FRAME_FLUSH_TIMEOUT"} {
		os.Unsetenv(k)
	}
	cfg := ConfigFromEnv()
	if cfg.DataDir != "./data" {
		t.Fatalf("DataDir default = %q, want ./data", cfg.DataDir)
	}
	if cfg.ListenAddr != ":7620" {
		t.Fatalf("ListenAddr default = %q, want :7620", cfg.ListenAddr)
	}
	if cfg.FrameFlushTimeout != 30*time.Second {
		t.Fatalf("FrameFlushTimeout default = %v, want 30s", cfg.FrameFlushTimeout)
	}
}

func TestConfigFromEnvOverrides(t *testing.T) {
	t.Setenv("ACCORD_DATA_DIR", "/tmp/accord-data")
	t.Setenv("ACCORD_LISTEN_ADDR", ":9999")
	t.Setenv("ACCORD_FRAME_FLUSH_TIMEOUT", "5")
	t.Setenv("ACCORD_DEPOSITORY_ADDRESS", "0x0102030405060708090a0b0c0d0e0f1011121314")

	cfg := ConfigFromEnv()
	if cfg.DataDir != "/tmp/accord-data" {
		t.Fatalf("DataDir = %q", cfg.DataDir)
	}
	if cfg.ListenAddr != ":9999" {
		t.Fatalf("ListenAddr = %q", cfg.ListenAddr)
	}
	if cfg.FrameFlushTimeout != 5*time.Second {
		t.Fatalf("FrameFlushTimeout = %v", cfg.FrameFlushTimeout)
	}

	addr, err := cfg.DepositoryAddressBytes()
	if err != nil {
		t.Fatalf("DepositoryAddressBytes: %v", err)
	}
	want := [20]byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08, 0x09, 0x0a, 0x0b, 0x0c, 0x0d, 0x0e, 0x0f, 0x10, 0x11, 0x12, 0x13, 0x14}
	if addr != want {
		t.Fatalf("DepositoryAddressBytes = %x, want %x", addr, want)
	}
}

func TestConfigDepositoryAddressBytesRejectsBadLength(t *testing.T) {
	cfg := Config{DepositoryHex: "0xabcd"}
	if _, err := cfg.DepositoryAddressBytes(); err == nil {
		t.Fatalf("expected an error for a short depository address")
	}
}

func TestConfigDepositoryAddressBytesRejectsBadHex(t *testing.T) {
	cfg := Config{DepositoryHex: "0x" + "zz0102030405060708090a0b0c0d0e0f101112"}
	if _, err := cfg.DepositoryAddressBytes(); err == nil {
		t.Fatalf("expected an error for malformed hex")
	}
}
