package core

// Canonical wire encoding (spec §6): bit-exact, little-endian throughout.
//
//   - Fixed-size integers: little-endian, natural width.
//   - Sequences of T: 32-bit little-endian byte-length prefix followed by the
//     concatenation of element encodings (length-prefixed in bytes, not
//     element count, so nested sequences parse without knowing T).
//   - Header:              parent_hash ‖ number ‖ state_root ‖ extrinsics_root ‖ digest.
//   - Extrinsic:           signed ‖ index ‖ function.
//   - UncheckedExtrinsic:  32-bit length prefix ‖ Extrinsic-encoding ‖ Signature-encoding.
//   - Block:               Header ‖ Vec<UncheckedExtrinsic>.
//
// A hand-rolled fixed-width codec is used here rather than reusing RLP's
// variable-length framing verbatim (RLP elides short strings and encodes
// list length differently), since the spec demands this exact byte layout.
// See core/debugdump.go for an RLP-backed auxiliary encoding used only by
// the CLI's raw inspection path.

import (
	"encoding/binary"
	"fmt"
)

func encodeU32(n uint32) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, n)
	return b
}

func encodeU64(n uint64) []byte {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, n)
	return b
}

// encodeBytes encodes a byte sequence as a 32-bit LE length prefix followed
// by the raw bytes — the "Sequences of T" rule specialised to T = byte.
func encodeBytes(b []byte) []byte {
	return append(encodeU32(uint32(len(b))), b...)
}

// byteReader is a minimal cursor over an encoded buffer; decode errors are
// reported as Decode-kind Errors rather than panics.
type byteReader struct {
	buf []byte
	pos int
}

func newByteReader(b []byte) *byteReader { return &byteReader{buf: b} }

func (r *byteReader) take(n int) ([]byte, error) {
	if n < 0 || r.pos+n > len(r.buf) {
		return nil, newError(Decode, fmt.Errorf("short buffer: want %d bytes, have %d", n, len(r.buf)-r.pos), "decode")
	}
	out := r.buf[r.pos : r.pos+n]
	r.pos += n
	return out, nil
}

func (r *byteReader) takeFixed32() (Hash, error) {
	var h Hash
	b, err := r.take(32)
	if err != nil {
		return h, err
	}
	copy(h[:], b)
	return h, nil
}

func (r *byteReader) takeU64() (uint64, error) {
	b, err := r.take(8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

func (r *byteReader) takeU32() (uint32, error) {
	b, err := r.take(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

// takeBytes decodes a "Sequences of T" = byte prefixed value.
func (r *byteReader) takeBytes() ([]byte, error) {
	n, err := r.takeU32()
	if err != nil {
		return nil, err
	}
	return r.take(int(n))
}

func (r *byteReader) remaining() bool { return r.pos < len(r.buf) }

// Encode returns the canonical serialisation of h.
func (h Header) Encode() []byte {
	out := make([]byte, 0, 32+8+32+32+4)
	out = append(out, h.ParentHash[:]...)
	out = append(out, encodeU64(h.Number)...)
	out = append(out, h.StateRoot[:]...)
	out = append(out, h.ExtrinsicsRoot[:]...)

	digest := make([]byte, 0)
	for _, item := range h.Digest {
		digest = append(digest, encodeBytes(item)...)
	}
	out = append(out, encodeBytes(digest)...)
	return out
}

// DecodeHeader decodes a Header from the front of r, advancing r past it.
func DecodeHeader(r *byteReader) (Header, error) {
	var h Header
	var err error
	if h.ParentHash, err = r.takeFixed32(); err != nil {
		return h, err
	}
	if h.Number, err = r.takeU64(); err != nil {
		return h, err
	}
	if h.StateRoot, err = r.takeFixed32(); err != nil {
		return h, err
	}
	if h.ExtrinsicsRoot, err = r.takeFixed32(); err != nil {
		return h, err
	}
	digestBytes, err := r.takeBytes()
	if err != nil {
		return h, err
	}
	dr := newByteReader(digestBytes)
	for dr.remaining() {
		item, err := dr.takeBytes()
		if err != nil {
			return h, err
		}
		h.Digest = append(h.Digest, item)
	}
	return h, nil
}

// Encode returns the canonical serialisation of c (the function part of an
// Extrinsic's encoding).
func (c Call) Encode() []byte {
	out := encodeBytes([]byte(c.Method))
	out = append(out, encodeBytes(c.Args)...)
	return out
}

// Encode returns the canonical serialisation of e, which is also its signing
// pre-image.
func (e Extrinsic) Encode() []byte {
	out := make([]byte, 0, 32+8)
	out = append(out, e.Signed[:]...)
	out = append(out, encodeU64(e.Index)...)
	out = append(out, e.Call.Encode()...)
	return out
}

func decodeExtrinsic(r *byteReader) (Extrinsic, error) {
	var e Extrinsic
	var err error
	if e.Signed, err = r.takeFixed32(); err != nil {
		return e, err
	}
	if e.Index, err = r.takeU64(); err != nil {
		return e, err
	}
	method, err := r.takeBytes()
	if err != nil {
		return e, err
	}
	args, err := r.takeBytes()
	if err != nil {
		return e, err
	}
	e.Call = Call{Method: string(method), Args: args}
	return e, nil
}

// Encode returns the canonical serialisation of u: a 32-bit length prefix
// over (Extrinsic-encoding ‖ Signature-encoding), enabling UncheckedExtrinsic
// to round-trip through a byte-sequence container.
func (u UncheckedExtrinsic) Encode() []byte {
	inner := u.Extrinsic.Encode()
	inner = append(inner, u.Signature[:]...)
	return encodeBytes(inner)
}

func decodeUncheckedExtrinsic(r *byteReader) (UncheckedExtrinsic, error) {
	var u UncheckedExtrinsic
	inner, err := r.takeBytes()
	if err != nil {
		return u, err
	}
	ir := newByteReader(inner)
	ext, err := decodeExtrinsic(ir)
	if err != nil {
		return u, err
	}
	sigBytes, err := ir.take(len(u.Signature))
	if err != nil {
		return u, err
	}
	u.Extrinsic = ext
	copy(u.Signature[:], sigBytes)
	return u, nil
}

// Encode returns the canonical serialisation of b: Header ‖ Vec<UncheckedExtrinsic>.
func (b Block) Encode() []byte {
	out := b.Header.Encode()
	exts := make([]byte, 0)
	for _, ux := range b.Extrinsics {
		exts = append(exts, ux.Encode()...)
	}
	out = append(out, encodeBytes(exts)...)
	return out
}

// DecodeBlock decodes a canonically-encoded Block.
func DecodeBlock(b []byte) (Block, error) {
	r := newByteReader(b)
	header, err := DecodeHeader(r)
	if err != nil {
		return Block{}, err
	}
	extsBytes, err := r.takeBytes()
	if err != nil {
		return Block{}, err
	}
	er := newByteReader(extsBytes)
	var exts []UncheckedExtrinsic
	for er.remaining() {
		ux, err := decodeUncheckedExtrinsic(er)
		if err != nil {
			return Block{}, err
		}
		exts = append(exts, ux)
	}
	return Block{Header: header, Extrinsics: exts}, nil
}
