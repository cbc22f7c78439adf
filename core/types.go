// Package core implements the block-import and state-access core: the
// generic data model (Header, Extrinsic, Block), the state backend and
// blockchain index interfaces it is executed against, the execution bridge
// that runs the on-chain code, the BFT justification checker, and the
// Client that ties them together.
package core

import (
	"encoding/hex"
	"strconv"

	"golang.org/x/crypto/sha3"
)

// Concrete instantiation of the core's phantom type parameters (spec §9:
// "a single concrete instantiation plus an opaque codec" satisfies the
// generic design just as well as compile-time generics would).
type (
	// Hash is the SHA3-256 digest of a canonical encoding.
	Hash = [32]byte
	// Number is a monotone, non-negative block height.
	Number = uint64
	// AccountId identifies the signer of an Extrinsic.
	AccountId = [32]byte
	// Signature authenticates an Extrinsic's signing pre-image.
	Signature = [64]byte
	// Nonce is the per-account sequence number of an Extrinsic.
	Nonce = uint64
	// AuthorityId identifies a BFT voter by its compressed secp256k1 public
	// key, so justification signatures can be checked with
	// go-ethereum/crypto.VerifySignature directly.
	AuthorityId = [33]byte
	// DigestItem is an opaque consensus log entry attached to a Header.
	DigestItem = []byte
)

// ZeroHash is the parent hash of the genesis header.
var ZeroHash Hash

// hashOf returns the SHA3-256 digest of b.
func hashOf(b []byte) Hash {
	return sha3.Sum256(b)
}

// Header binds a block to its parent, its post-state, and its ordered
// extrinsic sequence.
//
// Invariant: for any non-genesis header H, Number == parent(H).Number + 1.
type Header struct {
	ParentHash     Hash
	Number         Number
	StateRoot      Hash
	ExtrinsicsRoot Hash
	Digest         []DigestItem
}

// Hash returns the hash of the header's canonical encoding. This is the
// block's identity.
func (h Header) Hash() Hash {
	return hashOf(h.Encode())
}

// Call is the dispatchable payload of an Extrinsic: a named entry point plus
// opaque argument bytes, interpreted by the CodeExecutor.
type Call struct {
	Method string
	Args   []byte
}

// Extrinsic is the signed form of a piece of data originating outside the
// chain: "signed, index, function" per spec §3. Its canonical serialisation
// is the signing pre-image.
type Extrinsic struct {
	Signed AccountId
	Index  Nonce
	Call   Call
}

// UncheckedExtrinsic wraps an Extrinsic with a Signature as received off the
// wire. It carries no guarantee the signature has been checked.
type UncheckedExtrinsic struct {
	Extrinsic Extrinsic
	Signature Signature
}

// CheckedExtrinsic is an Extrinsic whose signature has been verified against
// Signed. It is the only form permitted to dispatch (see applyCall in
// core/testchain/executor.go). Its field is unexported so a keyed composite literal from
// outside this package cannot forge one; only CheckExtrinsic, below,
// constructs a CheckedExtrinsic.
type CheckedExtrinsic struct {
	extrinsic Extrinsic
}

// Extrinsic returns the verified payload.
func (c CheckedExtrinsic) Extrinsic() Extrinsic { return c.extrinsic }

// CheckExtrinsic verifies ux's signature against its claimed signer and, on
// success, returns the witnessed CheckedExtrinsic. verify is supplied by the
// caller so this package does not hard-code a signature scheme; the one
// shipped here is testchain.Verify, a hash-based stand-in.
func CheckExtrinsic(ux UncheckedExtrinsic, verify func(signed AccountId, msg []byte, sig Signature) bool) (CheckedExtrinsic, bool) {
	msg := ux.Extrinsic.Encode()
	if !verify(ux.Extrinsic.Signed, msg, ux.Signature) {
		return CheckedExtrinsic{}, false
	}
	return CheckedExtrinsic{extrinsic: ux.Extrinsic}, true
}

// Block is a Header paired with its ordered extrinsic sequence. Its identity
// is the hash of its header.
type Block struct {
	Header     Header
	Extrinsics []UncheckedExtrinsic
}

// Hash returns the block's identity: the hash of its header.
func (b Block) Hash() Hash {
	return b.Header.Hash()
}

// BlockId addresses a block by either hash or number.
type BlockId struct {
	hash   *Hash
	number *Number
}

// ByHash addresses a block by its hash.
func ByHash(h Hash) BlockId { return BlockId{hash: &h} }

// ByNumber addresses a block by its height.
func ByNumber(n Number) BlockId { return BlockId{number: &n} }

// Hash reports the hash this id carries, if it was constructed with ByHash.
func (id BlockId) Hash() (Hash, bool) {
	if id.hash == nil {
		return Hash{}, false
	}
	return *id.hash, true
}

// Number reports the number this id carries, if it was constructed with
// ByNumber.
func (id BlockId) Number() (Number, bool) {
	if id.number == nil {
		return 0, false
	}
	return *id.number, true
}

func (id BlockId) String() string {
	if h, ok := id.Hash(); ok {
		return "0x" + hex.EncodeToString(h[:])
	}
	if n, ok := id.Number(); ok {
		return strconv.FormatUint(n, 10)
	}
	return "<invalid BlockId>"
}

// JustifiedHeader pairs a Header with a checked BFT justification. Its
// existence witnesses that the justification was verified against the
// authority set active at the header's parent. Both fields are unexported so
// a keyed composite literal from outside this package cannot forge one —
// only CheckJustification (justification.go) constructs a JustifiedHeader.
type JustifiedHeader struct {
	header        Header
	justification []byte // the raw justification bytes, persisted alongside the block
}

// Header returns the justified header.
func (j JustifiedHeader) Header() Header { return j.header }

// Justification returns the raw justification bytes backing this header.
func (j JustifiedHeader) Justification() []byte { return j.justification }

// BlockOrigin classifies where an imported block came from. It controls
// whether import fires subscriber notifications (see Client.ImportBlock).
type BlockOrigin int

const (
	OriginGenesis BlockOrigin = iota
	OriginNetworkInitialSync
	OriginNetworkBroadcast
	OriginConsensusBroadcast
	OriginOwn
	OriginFile
)

func (o BlockOrigin) String() string {
	switch o {
	case OriginGenesis:
		return "Genesis"
	case OriginNetworkInitialSync:
		return "NetworkInitialSync"
	case OriginNetworkBroadcast:
		return "NetworkBroadcast"
	case OriginConsensusBroadcast:
		return "ConsensusBroadcast"
	case OriginOwn:
		return "Own"
	case OriginFile:
		return "File"
	default:
		return "Unknown"
	}
}

// notifies reports whether an import with this origin should fan out an
// ImportNotification (spec §4.5 step 6).
func (o BlockOrigin) notifies() bool {
	switch o {
	case OriginNetworkBroadcast, OriginOwn, OriginConsensusBroadcast:
		return true
	default:
		return false
	}
}

// ImportNotification describes a block accepted by import_block. It is
// immutable and safe to share across subscribers.
type ImportNotification struct {
	Hash      Hash
	Origin    BlockOrigin
	Header    Header
	IsNewBest bool
}
