package core

import (
	"sync"
)

// MemBackend is a map-of-maps reference Backend/BlockchainIndex
// implementation, grounded on the teacher's in-memory ledger maps
// (core/ledger.go's State map[string][]byte, blockIndex map[Hash]*Block)
// before WAL persistence is layered on. It is used by unit tests and the
// CLI's --dev mode.
type MemBackend struct {
	mu sync.Mutex

	snapshots      map[Hash]map[string][]byte
	headers        map[Hash]Header
	bodies         map[Hash][]UncheckedExtrinsic
	justifications map[Hash][]byte
	numberIndex    map[Number]Hash

	genesisHash Hash
	bestHash    Hash
	bestNumber  Number
	hasBest     bool
}

// NewMemBackend returns an empty MemBackend, ready for Client's genesis
// bootstrap.
func NewMemBackend() *MemBackend {
	return &MemBackend{
		snapshots:      make(map[Hash]map[string][]byte),
		headers:        make(map[Hash]Header),
		bodies:         make(map[Hash][]UncheckedExtrinsic),
		justifications: make(map[Hash][]byte),
		numberIndex:    make(map[Number]Hash),
	}
}

type memStateView struct {
	snapshot map[string][]byte
}

func (v memStateView) Get(key []byte) ([]byte, bool, error) {
	val, ok := v.snapshot[string(key)]
	return val, ok, nil
}

var emptyStateView = memStateView{snapshot: map[string][]byte{}}

func (b *MemBackend) resolveHash(id BlockId) (Hash, bool) {
	if h, ok := id.Hash(); ok {
		return h, true
	}
	if n, ok := id.Number(); ok {
		h, ok := b.numberIndex[n]
		return h, ok
	}
	return Hash{}, false
}

// StateAt implements Backend.
func (b *MemBackend) StateAt(id BlockId) (StateView, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if hh, isHash := id.Hash(); isHash && hh == ZeroHash {
		return emptyStateView, nil
	}
	h, ok := b.resolveHash(id)
	if !ok {
		return nil, newError(Backend, nil, "state_at: unknown block "+id.String())
	}
	snap, ok := b.snapshots[h]
	if !ok {
		return nil, newError(Backend, nil, "state_at: missing snapshot for "+id.String())
	}
	return memStateView{snapshot: snap}, nil
}

type memOperation struct {
	parentView StateView

	header        Header
	body          []UncheckedExtrinsic
	justification []byte
	isNewBest     bool // advisory only; the backend recomputes it at commit time
	set           bool

	delta    map[string][]byte
	resetAll map[string][]byte // non-nil only if ResetStorage was called
}

func (op *memOperation) ParentView() StateView { return op.parentView }

func (op *memOperation) SetBlockData(header Header, body []UncheckedExtrinsic, justification []byte, isNewBest bool) {
	op.header = header
	op.body = body
	op.justification = justification
	op.isNewBest = isNewBest
	op.set = true
}

func (op *memOperation) SetStorageDelta(delta map[string][]byte) {
	op.delta = delta
}

func (op *memOperation) ResetStorage(pairs map[string][]byte) {
	out := make(map[string][]byte, len(pairs))
	for k, v := range pairs {
		out[k] = v
	}
	op.resetAll = out
}

// BeginOperation implements Backend.
func (b *MemBackend) BeginOperation(parentId BlockId) (Operation, error) {
	view, err := b.StateAt(parentId)
	if err != nil {
		return nil, err
	}
	return &memOperation{parentView: view}, nil
}

// CommitOperation implements Backend. is_new_best is recomputed here, under
// the backend's own lock, rather than trusting the value the Client attached
// to the Operation — closing the race the spec's open questions describe
// (see DESIGN.md, "is_new_best race").
func (b *MemBackend) CommitOperation(op Operation) error {
	mop, ok := op.(*memOperation)
	if !ok || !mop.set {
		return newError(Backend, nil, "commit_operation: operation has no block data")
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	base := map[string][]byte{}
	if mop.resetAll != nil {
		base = mop.resetAll
	} else if pv, ok := mop.parentView.(memStateView); ok {
		for k, v := range pv.snapshot {
			base[k] = v
		}
	}
	for k, v := range mop.delta {
		if v == nil {
			delete(base, k)
			continue
		}
		base[k] = v
	}

	hash := mop.header.Hash()
	b.snapshots[hash] = base
	b.headers[hash] = mop.header
	b.bodies[hash] = mop.body
	if mop.justification != nil {
		b.justifications[hash] = mop.justification
	}
	b.numberIndex[mop.header.Number] = hash

	if mop.header.Number == 0 {
		b.genesisHash = hash
	}
	if !b.hasBest || mop.header.Number == b.bestNumber+1 {
		b.bestHash = hash
		b.bestNumber = mop.header.Number
		b.hasBest = true
	}
	return nil
}

// Info implements BlockchainIndex.
func (b *MemBackend) Info() ChainInfo {
	b.mu.Lock()
	defer b.mu.Unlock()
	return ChainInfo{GenesisHash: b.genesisHash, BestHash: b.bestHash, BestNumber: b.bestNumber}
}

// Status implements BlockchainIndex.
func (b *MemBackend) Status(id BlockId) BlockStatus {
	b.mu.Lock()
	defer b.mu.Unlock()
	h, ok := b.resolveHash(id)
	if !ok {
		return StatusUnknown
	}
	if _, ok := b.headers[h]; !ok {
		return StatusUnknown
	}
	return StatusInChain
}

// Header implements BlockchainIndex.
func (b *MemBackend) Header(id BlockId) (Header, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	h, ok := b.resolveHash(id)
	if !ok {
		return Header{}, false, nil
	}
	hdr, ok := b.headers[h]
	return hdr, ok, nil
}

// Body implements BlockchainIndex.
func (b *MemBackend) Body(id BlockId) ([]UncheckedExtrinsic, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	h, ok := b.resolveHash(id)
	if !ok {
		return nil, false, nil
	}
	body, ok := b.bodies[h]
	return body, ok, nil
}

// Justification implements BlockchainIndex.
func (b *MemBackend) Justification(id BlockId) ([]byte, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	h, ok := b.resolveHash(id)
	if !ok {
		return nil, false, nil
	}
	j, ok := b.justifications[h]
	return j, ok, nil
}

// HashByNumber implements BlockchainIndex.
func (b *MemBackend) HashByNumber(number Number) (Hash, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	h, ok := b.numberIndex[number]
	return h, ok
}
