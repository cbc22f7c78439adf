package testchain

import (
	"fmt"

	"chaincore/core"
)

// DefaultBalances is the standard genesis allocation used across the
// example scenarios: Alice, Bob, and Charlie start with 1000 each, and Ferdie
// starts empty. These accounts are not the BFT authority set: authorities
// are separate secp256k1 keys generated by NewAuthoritySet.
func DefaultBalances() map[core.AccountId]uint64 {
	return map[core.AccountId]uint64{
		Alice:   1000,
		Bob:     1000,
		Charlie: 1000,
		Ferdie:  0,
	}
}

// BuildGenesis returns a genesis-building closure suitable for
// core.NewClient: it seeds the balances map, installs a marker ":code"
// value (this chain has no real runtime blob, only the in-process Executor),
// and writes the authority set in the ":auth:len" / ":auth:<i>" layout
// AuthoritiesAt expects.
func BuildGenesis(balances map[core.AccountId]uint64, authorities []core.AuthorityId) func(core.Externalities) error {
	return func(ext core.Externalities) error {
		for account, amount := range balances {
			setBalance(ext, account, amount)
		}
		ext.Set([]byte(":code"), []byte("testchain-v1"))
		ext.Set([]byte(":auth:len"), encodeU32(uint32(len(authorities))))
		for i, authority := range authorities {
			ext.Set([]byte(authKey(uint32(i))), append([]byte{}, authority[:]...))
		}
		return nil
	}
}

// authKey mirrors core's own unexported key format for ":auth:<i>" entries;
// it is duplicated here (rather than exported from core) since storage key
// conventions are an implementation detail of AuthoritiesAt, not part of the
// core package's public API.
func authKey(i uint32) string {
	return fmt.Sprintf(":auth:%d", i)
}
