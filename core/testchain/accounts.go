// Package testchain is a minimal CodeExecutor and genesis builder used to
// exercise the core package end to end: a balances ledger dispatched through
// two Call methods, "transfer" and "mint", grounded on the teacher's
// core/coin.go Mint/Transfer/BalanceOf shape (adapted from a dedicated Coin
// manager type to a stateless executor operating purely through the
// Externalities façade, since this core has no Ledger type of its own).
package testchain

import (
	"encoding/binary"
	"fmt"

	"chaincore/core"

	"golang.org/x/crypto/sha3"
)

// namedAccount derives a deterministic AccountId from a label, so example
// and test code can refer to "Alice", "Bob", and so on without needing real
// key material — account signatures in this toy chain are produced and
// checked by Sign / Verify in executor.go, not by a real signature scheme.
func namedAccount(label string) core.AccountId {
	return core.AccountId(sha3.Sum256([]byte("testchain-account:" + label)))
}

var (
	Alice   = namedAccount("Alice")
	Bob     = namedAccount("Bob")
	Charlie = namedAccount("Charlie")
	Ferdie  = namedAccount("Ferdie")
)

// balanceKey is the storage key a balance is held under.
func balanceKey(id core.AccountId) string {
	return fmt.Sprintf("balance:%x", id)
}

func encodeU64(n uint64) []byte {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, n)
	return b
}

func decodeU64(b []byte) uint64 {
	if len(b) != 8 {
		return 0
	}
	return binary.LittleEndian.Uint64(b)
}

func encodeU32(n uint32) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, n)
	return b
}

// BalanceOf reads an account's balance as of id via client's read-only Call
// path, returning 0 for an account with no storage entry yet.
func BalanceOf(client *core.Client, id core.BlockId, account core.AccountId) (uint64, error) {
	ret, err := client.Call(id, "balance_of", account[:])
	if err != nil {
		return 0, err
	}
	return decodeU64(ret), nil
}
