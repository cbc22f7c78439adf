package testchain

import (
	"crypto/ecdsa"

	"chaincore/core"

	"github.com/ethereum/go-ethereum/crypto"
	"golang.org/x/crypto/sha3"
)

// AuthoritySet is a generated BFT authority set: the AuthorityId values to
// seed into genesis storage, paired with the private keys needed to sign
// justifications in tests and examples. Genuine secp256k1 keys are used
// (rather than placeholder bytes) so CheckJustification's
// crypto.VerifySignature call in core/justification.go exercises the real
// verification path end to end.
type AuthoritySet struct {
	IDs  []core.AuthorityId
	Keys []*ecdsa.PrivateKey
}

// NewAuthoritySet generates n fresh secp256k1 keypairs and returns their
// compressed public keys as AuthorityIds alongside the private keys.
func NewAuthoritySet(n int) (AuthoritySet, error) {
	set := AuthoritySet{
		IDs:  make([]core.AuthorityId, n),
		Keys: make([]*ecdsa.PrivateKey, n),
	}
	for i := 0; i < n; i++ {
		key, err := crypto.GenerateKey()
		if err != nil {
			return AuthoritySet{}, err
		}
		set.Keys[i] = key
		copy(set.IDs[i][:], crypto.CompressPubkey(&key.PublicKey))
	}
	return set, nil
}

// SignJustification has signerIdx authorities sign round/parentHash and
// returns the resulting UncheckedJustification, ready for CheckJustification.
// signerIdx selects which of set's keys vote; pass every index for a
// unanimous justification, or a subset to test threshold behaviour.
func (set AuthoritySet) SignJustification(round uint64, parentHash core.Hash, signerIdx []int) (core.UncheckedJustification, error) {
	msg := justificationMessage(round, parentHash)

	sigs := make([]core.AuthoritySig, 0, len(signerIdx))
	for _, i := range signerIdx {
		sig65, err := crypto.Sign(msg[:], set.Keys[i])
		if err != nil {
			return core.UncheckedJustification{}, err
		}
		var sig core.Signature
		copy(sig[:], sig65[:64]) // drop the trailing recovery id byte
		sigs = append(sigs, core.AuthoritySig{Authority: set.IDs[i], Sig: sig})
	}
	return core.UncheckedJustification{Round: round, ParentHash: parentHash, Signatures: sigs}, nil
}

// justificationMessage mirrors core's unexported canonical BFT pre-image
// (sha3(round ‖ parent_hash)) so tests can sign exactly what
// CheckJustification will verify, without core exporting its hashing
// internals.
func justificationMessage(round uint64, parentHash core.Hash) core.Hash {
	buf := make([]byte, 0, 8+32)
	buf = append(buf, encodeU64(round)...)
	buf = append(buf, parentHash[:]...)
	return core.Hash(sha3.Sum256(buf))
}
