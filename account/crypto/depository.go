package crypto

import (
	"fmt"

	"accord.dev/account"
)

// StaticDepositoryAddress is the simplest account.DepositoryAddressProvider:
// a fixed 20-byte address for the active jurisdiction, loaded once at
// startup (node.Config). spec.md §9 explicitly calls out eliminating the
// source's fallback-to-zero-address path, so an unset address is a hard
// error rather than silently returning DepositoryAddress{}.
type StaticDepositoryAddress struct {
	Address account.DepositoryAddress
	Set     bool
}

func (p StaticDepositoryAddress) DepositoryAddress(env account.Env) (account.DepositoryAddress, error) {
	if !p.Set {
		return account.DepositoryAddress{}, fmt.Errorf("depository address not configured")
	}
	return p.Address, nil
}
