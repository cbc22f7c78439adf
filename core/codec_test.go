package core

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func sampleHeader() Header {
	return Header{
		ParentHash:     Hash{1, 2, 3},
		Number:         7,
		StateRoot:      Hash{4, 5, 6},
		ExtrinsicsRoot: Hash{7, 8, 9},
		Digest:         []DigestItem{[]byte("seal"), []byte("")},
	}
}

func TestHeaderRoundTrip(t *testing.T) {
	h := sampleHeader()
	r := newByteReader(h.Encode())
	got, err := DecodeHeader(r)
	require.NoError(t, err)
	require.Equal(t, h, got)
	require.False(t, r.remaining())
}

func TestHeaderRoundTripEmptyDigest(t *testing.T) {
	h := Header{ParentHash: ZeroHash, Number: 0}
	r := newByteReader(h.Encode())
	got, err := DecodeHeader(r)
	require.NoError(t, err)
	require.Equal(t, h, got)
}

func TestUncheckedExtrinsicRoundTrip(t *testing.T) {
	ux := UncheckedExtrinsic{
		Extrinsic: Extrinsic{
			Signed: AccountId{9, 9, 9},
			Index:  42,
			Call:   Call{Method: "transfer", Args: []byte{1, 2, 3, 4}},
		},
		Signature: Signature{0xaa, 0xbb},
	}
	r := newByteReader(ux.Encode())
	got, err := decodeUncheckedExtrinsic(r)
	require.NoError(t, err)
	require.Equal(t, ux, got)
}

func TestBlockRoundTrip(t *testing.T) {
	b := Block{
		Header: sampleHeader(),
		Extrinsics: []UncheckedExtrinsic{
			{
				Extrinsic: Extrinsic{Signed: AccountId{1}, Index: 0, Call: Call{Method: "mint", Args: []byte{5}}},
				Signature: Signature{1},
			},
			{
				Extrinsic: Extrinsic{Signed: AccountId{2}, Index: 1, Call: Call{Method: "transfer", Args: []byte{6, 7}}},
				Signature: Signature{2},
			},
		},
	}
	got, err := DecodeBlock(b.Encode())
	require.NoError(t, err)
	require.Equal(t, b, got)
}

func TestBlockRoundTripNoExtrinsics(t *testing.T) {
	b := Block{Header: sampleHeader()}
	got, err := DecodeBlock(b.Encode())
	require.NoError(t, err)
	require.Empty(t, got.Extrinsics)
	require.Equal(t, b.Header, got.Header)
}

func TestDecodeHeaderShortBuffer(t *testing.T) {
	_, err := DecodeHeader(newByteReader([]byte{1, 2, 3}))
	require.Error(t, err)
	var coreErr *Error
	require.ErrorAs(t, err, &coreErr)
	require.Equal(t, Decode, coreErr.Kind)
}

func TestHeaderHashChangesWithContent(t *testing.T) {
	a := sampleHeader()
	b := sampleHeader()
	b.Number = a.Number + 1
	require.NotEqual(t, a.Hash(), b.Hash())
}
