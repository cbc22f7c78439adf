package core

import (
	"encoding/binary"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Storage key conventions for the well-known entries the Client reads
// without going through the CodeExecutor (spec §4.5): ":code" holds the
// on-chain runtime blob, ":auth:len" the little-endian uint32 authority
// count, and ":auth:<i>" the i'th AuthorityId.
const (
	codeKey    = ":code"
	authLenKey = ":auth:len"

	// latestBlockHashKey is a well-known key the Client itself maintains on
	// every successful commit (genesis and import alike): the hash of the
	// block whose post-state is current. It is not executor/runtime defined
	// (unlike ":code"/":auth:*", it is written by the Client, not by
	// buildGenesis or CodeExecutor.Execute) specifically to sidestep a
	// circularity genesis would otherwise have: a runtime cannot know its own
	// genesis block's hash while it is still building the state that header's
	// StateRoot commits to, since the hash is computed from the header only
	// after computeStateRoot runs over the finished write set.
	latestBlockHashKey = ":latest_block_hash"
)

func authKey(i uint32) string { return fmt.Sprintf(":auth:%d", i) }

// ImportResult reports the outcome of an ImportBlock call. UnknownParent is
// not an error: spec §4.5 step 1 treats it as a result a caller is expected
// to act on (buffer the block and retry once its parent arrives), not a
// failure to propagate.
type ImportResult struct {
	Hash           Hash
	IsNewBest      bool
	AlreadyInChain bool
	UnknownParent  bool
}

// Client (C5) is the façade tying the state Backend, the Execution Bridge,
// and the Justification Checker together into the single entry point spec
// §4.5 describes: block import, storage reads, and subscriber notification.
// Its shape is grounded on the teacher's core/consensus.go SynnergyConsensus
// struct (a thin coordinator holding a backend handle, an executor handle,
// and its own instrumentation) and core/ledger.go's apply-then-commit flow.
type Client struct {
	backend  Backend
	executor CodeExecutor
	metrics  *metrics
	logger   *logrus.Logger

	// importMu serialises ImportBlock end to end, resolving the spec's
	// "can two imports race on the same parent" open question: at most one
	// import is ever mid-flight against this Client (see DESIGN.md).
	importMu sync.Mutex

	subsMu sync.Mutex
	subs   []*subscriber
}

// subscriber is one live ImportNotificationStream consumer. Per spec §3/§6,
// the subscriber interface is "unbounded... lossless until the consumer
// drops the receiver" — a bounded Go channel cannot offer that without
// either blocking the importer on a slow consumer or dropping notifications
// once a fixed buffer fills, so each subscriber instead owns an unbounded,
// mutex-protected queue and a dedicated goroutine that drains it onto the
// channel handed back by ImportNotificationStream. Publish never blocks and
// never drops a notification; the only way a subscription ends is an
// explicit Unsubscribe (Go has no equivalent of a channel send failing
// because the receive end was dropped, unlike the Rust original's mpsc
// channel — see DESIGN.md).
//
// id is handed out via github.com/google/uuid, grounded on the teacher's
// convention of using a generated id for anything a caller later needs to
// reference (session ids, request ids) rather than an incrementing counter.
type subscriber struct {
	id uuid.UUID
	ch chan ImportNotification

	mu     sync.Mutex
	cond   *sync.Cond
	queue  []ImportNotification
	closed bool
}

func newSubscriber() *subscriber {
	s := &subscriber{id: uuid.New(), ch: make(chan ImportNotification)}
	s.cond = sync.NewCond(&s.mu)
	go s.pump()
	return s
}

// pump drains the queue onto ch in FIFO order, blocking on both an empty
// queue and a full consumer — never on a full internal buffer, since the
// buffer has none.
func (s *subscriber) pump() {
	for {
		s.mu.Lock()
		for len(s.queue) == 0 && !s.closed {
			s.cond.Wait()
		}
		if len(s.queue) == 0 {
			s.mu.Unlock()
			close(s.ch)
			return
		}
		n := s.queue[0]
		s.queue = s.queue[1:]
		s.mu.Unlock()
		s.ch <- n
	}
}

// push enqueues n for delivery. A no-op once the subscriber is closed.
func (s *subscriber) push(n ImportNotification) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.queue = append(s.queue, n)
	s.mu.Unlock()
	s.cond.Signal()
}

// close marks the subscriber closed; pump drains any already-queued
// notifications before closing ch.
func (s *subscriber) close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.cond.Signal()
}

// NewClient constructs a Client over backend and executor. If the backend
// has no genesis block yet, buildGenesis is invoked once against a fresh
// Externalities to seed the initial storage trie, and the resulting state is
// committed as block 0 with OriginGenesis (no notification is fired for it;
// see BlockOrigin.notifies).
func NewClient(backend Backend, executor CodeExecutor, buildGenesis func(Externalities) error) (*Client, error) {
	c := &Client{
		backend:  backend,
		executor: executor,
		metrics:  newMetrics(),
		logger:   logrus.StandardLogger(),
	}

	if backend.Status(ByNumber(0)) == StatusInChain {
		return c, nil
	}

	op, err := backend.BeginOperation(ByHash(ZeroHash))
	if err != nil {
		return nil, err
	}

	overlay := NewOverlay()
	ext := NewExternalities(op.ParentView(), overlay)
	if err := buildGenesis(ext); err != nil {
		return nil, newError(Execution, err, "build genesis")
	}
	pairs := overlay.Delta()

	header := Header{
		ParentHash:     ZeroHash,
		Number:         0,
		StateRoot:      computeStateRoot(pairs),
		ExtrinsicsRoot: hashOf(nil),
	}
	// latestBlockHashKey is deliberately excluded from the StateRoot digest
	// above: its value (the genesis header's own hash) only exists once the
	// header above is fully built.
	hash := header.Hash()
	pairs[latestBlockHashKey] = append([]byte{}, hash[:]...)
	op.ResetStorage(pairs)

	op.SetBlockData(header, nil, nil, true)
	if err := backend.CommitOperation(op); err != nil {
		return nil, err
	}
	c.metrics.commits.Inc()
	return c, nil
}

// computeStateRoot derives a deterministic digest over a full key/value
// snapshot: sorted keys, each paired with its (possibly absent) value,
// length-prefixed to stay unambiguous. Used only at genesis, where the
// Client itself produces the state being rooted; post-genesis headers carry
// their StateRoot as received, since the simple map-backed StateView this
// core ships (spec's Non-goals exclude a real Merkle trie) cannot otherwise
// independently recompute one.
func computeStateRoot(pairs map[string][]byte) Hash {
	keys := make([]string, 0, len(pairs))
	for k := range pairs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	buf := make([]byte, 0, 64*len(keys))
	for _, k := range keys {
		buf = append(buf, encodeBytes([]byte(k))...)
		buf = append(buf, encodeBytes(pairs[k])...)
	}
	return hashOf(buf)
}

// Header looks up the header identified by id.
func (c *Client) Header(id BlockId) (Header, bool, error) { return c.backend.Header(id) }

// Body looks up the extrinsic body identified by id.
func (c *Client) Body(id BlockId) ([]UncheckedExtrinsic, bool, error) { return c.backend.Body(id) }

// Justification looks up the raw justification bytes identified by id.
func (c *Client) Justification(id BlockId) ([]byte, bool, error) { return c.backend.Justification(id) }

// BlockHash resolves a block number to its canonical hash.
func (c *Client) BlockHash(number Number) (Hash, bool) { return c.backend.HashByNumber(number) }

// BestBlockHeader returns the header of the chain's current best block. A
// mismatch between the index's reported best hash and its own header store
// is an invariant violation the Client cannot recover from, so it is a
// programmer-error panic rather than a returned error.
func (c *Client) BestBlockHeader() Header {
	info := c.backend.Info()
	hdr, ok, err := c.backend.Header(ByHash(info.BestHash))
	if err != nil {
		panic(fmt.Sprintf("chaincore: best block header lookup failed: %v", err))
	}
	if !ok {
		panic(fmt.Sprintf("chaincore: index reports best hash %x with no stored header", info.BestHash))
	}
	return hdr
}

// Storage reads a single key from the state as of id. A missing key is
// reported as a NoValueForKey error (spec §4.3), distinct from a
// backend/lookup failure.
func (c *Client) Storage(id BlockId, key []byte) ([]byte, error) {
	view, err := c.backend.StateAt(id)
	if err != nil {
		return nil, err
	}
	v, ok, err := view.Get(key)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, keyError(string(key))
	}
	return v, nil
}

// CodeAt returns the on-chain runtime blob stored at ":code" as of id.
func (c *Client) CodeAt(id BlockId) ([]byte, error) {
	return c.Storage(id, []byte(codeKey))
}

// LatestBlockHash returns the hash of the block whose post-state is current
// as of id, read from the well-known ":latest_block_hash" entry the Client
// maintains on every commit.
func (c *Client) LatestBlockHash(id BlockId) (Hash, error) {
	v, err := c.Storage(id, []byte(latestBlockHashKey))
	if err != nil {
		return Hash{}, err
	}
	var h Hash
	if len(v) != len(h) {
		return Hash{}, &Error{Kind: Decode, msg: fmt.Sprintf("%s has %d bytes, want %d", latestBlockHashKey, len(v), len(h))}
	}
	copy(h[:], v)
	return h, nil
}

// AuthoritiesAt implements AuthorityReader: it decodes the authority set
// from ":auth:len" and ":auth:<i>" as of id (spec §4.5 authorities_at).
func (c *Client) AuthoritiesAt(id BlockId) ([]AuthorityId, error) {
	view, err := c.backend.StateAt(id)
	if err != nil {
		return nil, err
	}

	lenBytes, ok, err := view.Get([]byte(authLenKey))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, &Error{Kind: AuthLenEmpty, msg: "missing " + authLenKey}
	}
	if len(lenBytes) != 4 {
		return nil, &Error{Kind: AuthLenInvalid, msg: fmt.Sprintf("%s has %d bytes, want 4", authLenKey, len(lenBytes))}
	}
	n := binary.LittleEndian.Uint32(lenBytes)

	out := make([]AuthorityId, n)
	for i := uint32(0); i < n; i++ {
		v, ok, err := view.Get([]byte(authKey(i)))
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, authIndexError(AuthEmpty, i)
		}
		if len(v) != len(AuthorityId{}) {
			return nil, authIndexError(AuthInvalid, i)
		}
		copy(out[i][:], v)
	}
	return out, nil
}

// Call invokes methodName against the state as of id with a fresh overlay
// that is discarded once the call returns — a read-only probe with no
// lasting effect on chain state (spec §4.5 call).
func (c *Client) Call(id BlockId, methodName string, input []byte) ([]byte, error) {
	view, err := c.backend.StateAt(id)
	if err != nil {
		return nil, err
	}
	ret, _, err := Execute(view, NewOverlay(), c.executor, methodName, input)
	return ret, err
}

// UsingEnvironment opens the state as of id behind a fresh Externalities and
// invokes f against it. The overlay is always discarded on return,
// regardless of whether f returns an error or panics during its own cleanup.
func (c *Client) UsingEnvironment(id BlockId, f func(Externalities) error) error {
	return c.UsingEnvironmentAt(id, NewOverlay(), f)
}

// UsingEnvironmentAt is UsingEnvironment with a caller-supplied overlay, so a
// sequence of calls can share accumulated writes before a caller decides
// whether to keep or discard them.
func (c *Client) UsingEnvironmentAt(id BlockId, overlay *OverlayedChanges, f func(Externalities) error) error {
	view, err := c.backend.StateAt(id)
	if err != nil {
		return err
	}
	ext := NewExternalities(view, overlay)
	return f(ext)
}

// CheckJustification delegates to the package-level Justification Checker
// (C4), using this Client as the AuthorityReader.
func (c *Client) CheckJustification(header Header, unchecked UncheckedJustification, raw []byte) (JustifiedHeader, error) {
	return CheckJustification(header, unchecked, raw, c)
}

// ImportBlock is the sole entry point that advances the chain (spec §4.5
// import_block): locate the parent, execute the block against its
// post-state, commit the result, and — only for the NetworkBroadcast,
// ConsensusBroadcast and Own origins (see BlockOrigin.notifies) — notify
// subscribers.
//
// A header already known to the index is reported as AlreadyInChain without
// re-executing it, resolving the spec's "import called twice for the same
// block" open question (see DESIGN.md).
func (c *Client) ImportBlock(origin BlockOrigin, justified JustifiedHeader, body []UncheckedExtrinsic) (ImportResult, error) {
	header := justified.Header()
	hash := header.Hash()

	if c.backend.Status(ByHash(hash)) == StatusInChain {
		return ImportResult{Hash: hash, AlreadyInChain: true}, nil
	}

	c.importMu.Lock()
	defer c.importMu.Unlock()

	// Re-check under the lock: another goroutine may have imported this
	// exact block while we were waiting for importMu.
	if c.backend.Status(ByHash(hash)) == StatusInChain {
		return ImportResult{Hash: hash, AlreadyInChain: true}, nil
	}

	if _, ok, err := c.backend.Header(ByHash(header.ParentHash)); err != nil {
		c.metrics.importFailures.Inc()
		c.logger.WithError(err).Error("chaincore: import_block: parent lookup failed")
		return ImportResult{}, err
	} else if !ok {
		// Not an error (spec §4.5 step 1): the caller is expected to buffer
		// this block and retry once its parent arrives.
		return ImportResult{Hash: hash, UnknownParent: true}, nil
	}

	op, err := c.backend.BeginOperation(ByHash(header.ParentHash))
	if err != nil {
		c.metrics.importFailures.Inc()
		c.logger.WithError(err).Error("chaincore: import_block: begin_operation failed")
		return ImportResult{}, err
	}

	block := Block{Header: header, Extrinsics: body}
	overlay := NewOverlay()
	_, delta, err := Execute(op.ParentView(), overlay, c.executor, "execute_block", block.Encode())
	if err != nil {
		c.metrics.importFailures.Inc()
		c.logger.WithError(err).Error("chaincore: import_block: execute_block failed")
		return ImportResult{}, err
	}
	delta[latestBlockHashKey] = append([]byte{}, hash[:]...)

	op.SetStorageDelta(delta)
	advisoryIsNewBest := header.Number == c.backend.Info().BestNumber+1
	op.SetBlockData(header, body, justified.Justification(), advisoryIsNewBest)

	if err := c.backend.CommitOperation(op); err != nil {
		c.metrics.importFailures.Inc()
		c.logger.WithError(err).Error("chaincore: import_block: commit_operation failed")
		return ImportResult{}, err
	}
	c.metrics.blocksImported.Inc()
	c.metrics.commits.Inc()

	isNewBest := c.backend.Info().BestHash == hash
	if origin.notifies() {
		c.publish(ImportNotification{Hash: hash, Origin: origin, Header: header, IsNewBest: isNewBest})
	}
	return ImportResult{Hash: hash, IsNewBest: isNewBest}, nil
}

// ImportNotificationStream registers a new subscriber and returns its id
// (for a later Unsubscribe) and its receive-only channel. The channel is
// unbounded and lossless: every notification published after this call and
// before a matching Unsubscribe is guaranteed delivery, regardless of how
// slowly the caller reads it (see subscriber).
func (c *Client) ImportNotificationStream() (uuid.UUID, <-chan ImportNotification) {
	sub := newSubscriber()
	c.subsMu.Lock()
	c.subs = append(c.subs, sub)
	c.subsMu.Unlock()
	return sub.id, sub.ch
}

// Unsubscribe removes and closes the subscription identified by id, if
// still present. Unsubscribing an already-pruned id is a no-op.
func (c *Client) Unsubscribe(id uuid.UUID) {
	c.subsMu.Lock()
	defer c.subsMu.Unlock()

	live := c.subs[:0]
	for _, sub := range c.subs {
		if sub.id == id {
			sub.close()
			continue
		}
		live = append(live, sub)
	}
	c.subs = live
}

func (c *Client) publish(n ImportNotification) {
	c.subsMu.Lock()
	defer c.subsMu.Unlock()

	for _, sub := range c.subs {
		sub.push(n)
	}
}
