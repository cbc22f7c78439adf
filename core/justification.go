package core

import (
	"encoding/hex"

	"github.com/ethereum/go-ethereum/crypto"
)

// AuthoritySig is one signer's vote over an UncheckedJustification.
type AuthoritySig struct {
	Authority AuthorityId
	Sig       Signature
}

// UncheckedJustification is the BFT witness attached to a candidate header,
// as received off the wire: {round_number, parent_hash, signatures}.
type UncheckedJustification struct {
	Round      uint64
	ParentHash Hash
	Signatures []AuthoritySig
}

// AuthorityReader resolves the authority set active as of a given block.
// Client implements it via authorities_at (spec §4.5); the Justification
// Checker never reads state directly, only through this narrow seam,
// matching the teacher's convention of injecting a small interface rather
// than a concrete backend into components that only need one slice of it.
type AuthorityReader interface {
	AuthoritiesAt(id BlockId) ([]AuthorityId, error)
}

// justificationMessage is the canonical BFT prepare/commit pre-image signed
// by each authority: sha3(round ‖ parent_hash).
func justificationMessage(round uint64, parentHash Hash) Hash {
	buf := make([]byte, 0, 8+32)
	buf = append(buf, encodeU64(round)...)
	buf = append(buf, parentHash[:]...)
	return hashOf(buf)
}

// supermajorityThreshold returns the minimum signer count required out of n
// authorities: ceil(2n/3)+1, ties broken by rounding up.
func supermajorityThreshold(n int) int {
	return (2*n+2)/3 + 1
}

// CheckJustification verifies header's justification against the authority
// set active at header's parent (spec §4.4). It does not read the state root
// or re-execute the block — only the consensus witness.
//
// On success it returns a JustifiedHeader; the JustifiedHeader type can only
// be constructed here, so its existence witnesses a passed check. On
// failure it returns a BadJustification error carrying the header's hash.
func CheckJustification(header Header, unchecked UncheckedJustification, raw []byte, authorities AuthorityReader) (JustifiedHeader, error) {
	headerHash := header.Hash()
	fail := func() (JustifiedHeader, error) {
		return JustifiedHeader{}, badJustificationError(hex.EncodeToString(headerHash[:]))
	}

	if unchecked.ParentHash != header.ParentHash {
		return fail()
	}

	authSet, err := authorities.AuthoritiesAt(ByHash(header.ParentHash))
	if err != nil {
		return JustifiedHeader{}, err
	}
	members := make(map[AuthorityId]bool, len(authSet))
	for _, a := range authSet {
		members[a] = true
	}

	msg := justificationMessage(unchecked.Round, unchecked.ParentHash)
	seen := make(map[AuthorityId]bool, len(unchecked.Signatures))
	valid := 0
	for _, sig := range unchecked.Signatures {
		if !members[sig.Authority] {
			return fail()
		}
		if seen[sig.Authority] {
			return fail()
		}
		seen[sig.Authority] = true
		if !crypto.VerifySignature(sig.Authority[:], msg[:], sig.Sig[:]) {
			return fail()
		}
		valid++
	}

	if valid < supermajorityThreshold(len(authSet)) {
		return fail()
	}

	return JustifiedHeader{header: header, justification: raw}, nil
}
