package core

import "github.com/ethereum/go-ethereum/rlp"

// rlpHeader mirrors Header's fields in a shape rlp can encode directly:
// rlp has no notion of a fixed-size byte array vs slice distinction for our
// purposes, and Digest's element slice encodes naturally as an RLP list.
type rlpHeader struct {
	ParentHash     []byte
	Number         uint64
	StateRoot      []byte
	ExtrinsicsRoot []byte
	Digest         [][]byte
}

// DebugDumpHeader renders h using go-ethereum's RLP encoding rather than the
// canonical fixed-width wire format codec.go implements. It exists only for
// human/tool inspection (the CLI's "query --raw" path) — RLP's variable
// framing makes it unsuitable as the consensus-critical encoding, but
// convenient for a quick byte dump since every other component here already
// treats go-ethereum as its crypto/codec library of choice.
func DebugDumpHeader(h Header) ([]byte, error) {
	digest := make([][]byte, len(h.Digest))
	for i, d := range h.Digest {
		digest[i] = d
	}
	return rlp.EncodeToBytes(rlpHeader{
		ParentHash:     h.ParentHash[:],
		Number:         h.Number,
		StateRoot:      h.StateRoot[:],
		ExtrinsicsRoot: h.ExtrinsicsRoot[:],
		Digest:         digest,
	})
}
