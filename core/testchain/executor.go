package testchain

import (
	"fmt"

	"chaincore/core"

	"golang.org/x/crypto/sha3"
)

// Executor is a toy CodeExecutor dispatching two Call methods over a
// balances ledger: "transfer" (from the extrinsic's Signed account) and
// "mint" (unconditional, since this chain has no governance module). Any
// other method name is rejected.
type Executor struct{}

// expectedAccountSignature is this chain's account-signing scheme: a
// deterministic two-round hash keyed by the signer, distinct from the BFT
// justification signatures in core/justification.go (which use genuine
// secp256k1 verification). It exists only so example/test code can produce
// extrinsics CheckExtrinsic will accept without a real keypair per account.
func expectedAccountSignature(signed core.AccountId, msg []byte) core.Signature {
	h1 := sha3.Sum256(append(append([]byte{}, signed[:]...), msg...))
	h2 := sha3.Sum256(h1[:])
	var sig core.Signature
	copy(sig[:32], h1[:])
	copy(sig[32:], h2[:])
	return sig
}

// Sign produces the Signature CheckExtrinsic will accept for an extrinsic
// claiming signed as its signer.
func Sign(signed core.AccountId, msg []byte) core.Signature {
	return expectedAccountSignature(signed, msg)
}

// Verify is the verify callback CheckExtrinsic expects.
func Verify(signed core.AccountId, msg []byte, sig core.Signature) bool {
	return sig == expectedAccountSignature(signed, msg)
}

// Execute implements core.CodeExecutor.
func (Executor) Execute(ext core.Externalities, methodName string, input []byte) ([]byte, error) {
	switch methodName {
	case "execute_block":
		return nil, executeBlock(ext, input)
	case "balance_of":
		var account core.AccountId
		if len(input) != len(account) {
			return nil, fmt.Errorf("testchain: balance_of: bad account length %d", len(input))
		}
		copy(account[:], input)
		bal, err := getBalance(ext, account)
		if err != nil {
			return nil, err
		}
		return encodeU64(bal), nil
	default:
		return nil, fmt.Errorf("testchain: unknown method %q", methodName)
	}
}

func executeBlock(ext core.Externalities, input []byte) error {
	block, err := core.DecodeBlock(input)
	if err != nil {
		return err
	}
	for _, ux := range block.Extrinsics {
		checked, ok := core.CheckExtrinsic(ux, Verify)
		if !ok {
			return fmt.Errorf("testchain: bad signature for extrinsic from %x", ux.Extrinsic.Signed)
		}
		if err := applyCall(ext, checked); err != nil {
			return err
		}
	}
	return nil
}

func applyCall(ext core.Externalities, checked core.CheckedExtrinsic) error {
	extrinsic := checked.Extrinsic()
	call := extrinsic.Call
	switch call.Method {
	case "transfer":
		var to core.AccountId
		if len(call.Args) != len(to)+8 {
			return fmt.Errorf("testchain: transfer: bad args length %d", len(call.Args))
		}
		copy(to[:], call.Args[:len(to)])
		amount := decodeU64(call.Args[len(to):])
		return transfer(ext, extrinsic.Signed, to, amount)
	case "mint":
		var to core.AccountId
		if len(call.Args) != len(to)+8 {
			return fmt.Errorf("testchain: mint: bad args length %d", len(call.Args))
		}
		copy(to[:], call.Args[:len(to)])
		amount := decodeU64(call.Args[len(to):])
		return mint(ext, to, amount)
	default:
		return fmt.Errorf("testchain: unknown call method %q", call.Method)
	}
}

func getBalance(ext core.Externalities, id core.AccountId) (uint64, error) {
	v, ok, err := ext.Get([]byte(balanceKey(id)))
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, nil
	}
	return decodeU64(v), nil
}

func setBalance(ext core.Externalities, id core.AccountId, amount uint64) {
	ext.Set([]byte(balanceKey(id)), encodeU64(amount))
}

func transfer(ext core.Externalities, from, to core.AccountId, amount uint64) error {
	fromBal, err := getBalance(ext, from)
	if err != nil {
		return err
	}
	if fromBal < amount {
		return fmt.Errorf("testchain: transfer: %x has insufficient balance (%d < %d)", from, fromBal, amount)
	}
	toBal, err := getBalance(ext, to)
	if err != nil {
		return err
	}
	setBalance(ext, from, fromBal-amount)
	setBalance(ext, to, toBal+amount)
	return nil
}

func mint(ext core.Externalities, to core.AccountId, amount uint64) error {
	toBal, err := getBalance(ext, to)
	if err != nil {
		return err
	}
	setBalance(ext, to, toBal+amount)
	return nil
}

// TransferCall builds the Call payload for a transfer extrinsic.
func TransferCall(to core.AccountId, amount uint64) core.Call {
	args := append(append([]byte{}, to[:]...), encodeU64(amount)...)
	return core.Call{Method: "transfer", Args: args}
}

// MintCall builds the Call payload for a mint extrinsic.
func MintCall(to core.AccountId, amount uint64) core.Call {
	args := append(append([]byte{}, to[:]...), encodeU64(amount)...)
	return core.Call{Method: "mint", Args: args}
}
