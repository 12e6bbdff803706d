// Command account-node is the daemon entrypoint. Its register subcommand
// generates a new entity key and prints its id; its status subcommand loads
// node.Config from the environment, opens the bbolt account store and
// prints the account's state.
package main

import (
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"accord.dev/account"
	acctcrypto "accord.dev/account/crypto"
	"accord.dev/account/store"
	"accord.dev/node"
)

var rootCmd = &cobra.Command{
	Use:   "account-node",
	Short: "Run a bilateral off-chain account consensus host",
	Long: `account-node hosts one side of a bilateral account: it proposes and
receives hash-chained frames, enforces bilateral-field consensus between
the two participants, and binds committed state to dispute proofs for
on-chain enforcement.`,
}

func main() {
	rootCmd.AddCommand(statusCmd(), registerCmd())
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func openHost(cfg node.Config, signer *acctcrypto.HankoSigner, left, right account.EntityID) (*node.AccountHost, *store.DB, error) {
	db, err := store.Open(cfg.DataDir)
	if err != nil {
		return nil, nil, fmt.Errorf("open store: %w", err)
	}
	depository, err := cfg.DepositoryAddressBytes()
	if err != nil {
		_ = db.Close()
		return nil, nil, err
	}
	env := node.DefaultEnv(signer, depository)
	host, err := node.NewAccountHost(db, left, right, env, slog.Default())
	if err != nil {
		_ = db.Close()
		return nil, nil, err
	}
	return host, db, nil
}

func registerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "register",
		Short: "Generate a new entity keypair and print its entity id",
		RunE: func(cmd *cobra.Command, args []string) error {
			signer := acctcrypto.NewHankoSigner()
			id, err := signer.Register()
			if err != nil {
				return err
			}
			fmt.Printf("0x%s\n", hex.EncodeToString(id[:]))
			return nil
		},
	}
}

func statusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Print the current height and pending state of an account",
		RunE: func(cmd *cobra.Command, args []string) error {
			leftHex, _ := cmd.Flags().GetString("left")
			rightHex, _ := cmd.Flags().GetString("right")
			left, right, err := decodeEntityPair(leftHex, rightHex)
			if err != nil {
				return err
			}

			cfg := node.ConfigFromEnv()
			signer := acctcrypto.NewHankoSigner()
			host, db, err := openHost(cfg, signer, left, right)
			if err != nil {
				return err
			}
			defer db.Close()

			snap := host.Snapshot()
			fmt.Printf("height=%d pendingFrame=%v mempoolLen=%d rollbackCount=%d\n",
				snap.CurrentHeight, snap.PendingFrame != nil, len(snap.Mempool), snap.RollbackCount)
			return nil
		},
	}
	cmd.Flags().String("left", "", "left entity id (0x-prefixed hex)")
	cmd.Flags().String("right", "", "right entity id (0x-prefixed hex)")
	return cmd
}

func decodeEntityPair(leftHex, rightHex string) (account.EntityID, account.EntityID, error) {
	var left, right account.EntityID
	lb, err := hex.DecodeString(trimHex(leftHex))
	if err != nil || len(lb) != 32 {
		return left, right, fmt.Errorf("bad --left entity id")
	}
	rb, err := hex.DecodeString(trimHex(rightHex))
	if err != nil || len(rb) != 32 {
		return left, right, fmt.Errorf("bad --right entity id")
	}
	copy(left[:], lb)
	copy(right[:], rb)
	return left, right, nil
}

func trimHex(s string) string {
	if len(s) >= 2 && s[:2] == "0x" {
		return s[2:]
	}
	return s
}
