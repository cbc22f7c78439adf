package core

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"chaincore/core/testchain"
)

func newTestClient(t *testing.T) (*Client, Backend, testchain.AuthoritySet) {
	t.Helper()
	authorities, err := testchain.NewAuthoritySet(3)
	require.NoError(t, err)

	backend := NewMemBackend()
	genesis := testchain.BuildGenesis(testchain.DefaultBalances(), authorities.IDs)
	client, err := NewClient(backend, testchain.Executor{}, genesis)
	require.NoError(t, err)
	return client, backend, authorities
}

func signedTransfer(t *testing.T, from, to AccountId, index Nonce, amount uint64) UncheckedExtrinsic {
	t.Helper()
	ext := Extrinsic{Signed: from, Index: index, Call: testchain.TransferCall(to, amount)}
	return UncheckedExtrinsic{Extrinsic: ext, Signature: testchain.Sign(from, ext.Encode())}
}

// S1: genesis bootstrap seeds balances, code, and authorities, and is
// idempotent across a second NewClient call against the same backend.
func TestGenesisBootstrap(t *testing.T) {
	client, backend, authorities := newTestClient(t)

	best := client.BestBlockHeader()
	require.Equal(t, Number(0), best.Number)
	require.Equal(t, ZeroHash, best.ParentHash)

	bal, err := testchain.BalanceOf(client, ByNumber(0), testchain.Alice)
	require.NoError(t, err)
	require.Equal(t, uint64(1000), bal)

	bal, err = testchain.BalanceOf(client, ByNumber(0), testchain.Ferdie)
	require.NoError(t, err)
	require.Equal(t, uint64(0), bal)

	code, err := client.CodeAt(ByNumber(0))
	require.NoError(t, err)
	require.Equal(t, "testchain-v1", string(code))

	gotAuthorities, err := client.AuthoritiesAt(ByNumber(0))
	require.NoError(t, err)
	require.Equal(t, authorities.IDs, gotAuthorities)

	latest, err := client.LatestBlockHash(ByNumber(0))
	require.NoError(t, err)
	require.Equal(t, best.Hash(), latest)

	// Reopening against the same backend must not re-run buildGenesis.
	client2, err := NewClient(backend, testchain.Executor{}, testchain.BuildGenesis(testchain.DefaultBalances(), authorities.IDs))
	require.NoError(t, err)
	require.Equal(t, client.backend.Info(), client2.backend.Info())
}

// S4 (with S3's latest_block_hash check): importing a well-formed block
// applies its extrinsics, advances the best head, and notifies subscribers
// for a notifying origin.
func TestImportBlockAppliesTransferAndNotifies(t *testing.T) {
	client, _, _ := newTestClient(t)
	_, sub := client.ImportNotificationStream()

	genesisHash := client.BestBlockHeader().Hash()
	ux := signedTransfer(t, testchain.Alice, testchain.Ferdie, 0, 100)
	header := Header{ParentHash: genesisHash, Number: 1}
	justified := JustifiedHeader{header: header}

	result, err := client.ImportBlock(OriginNetworkBroadcast, justified, []UncheckedExtrinsic{ux})
	require.NoError(t, err)
	require.True(t, result.IsNewBest)
	require.False(t, result.AlreadyInChain)

	aliceBal, err := testchain.BalanceOf(client, ByNumber(1), testchain.Alice)
	require.NoError(t, err)
	require.Equal(t, uint64(900), aliceBal)

	ferdieBal, err := testchain.BalanceOf(client, ByNumber(1), testchain.Ferdie)
	require.NoError(t, err)
	require.Equal(t, uint64(100), ferdieBal)

	latest, err := client.LatestBlockHash(ByNumber(1))
	require.NoError(t, err)
	require.Equal(t, header.Hash(), latest)

	select {
	case n := <-sub:
		require.Equal(t, header.Hash(), n.Hash)
		require.True(t, n.IsNewBest)
	case <-time.After(time.Second):
		t.Fatal("expected an import notification")
	}
}

// Re-importing an already-known block is reported as AlreadyInChain and
// does not re-apply its extrinsics.
func TestImportBlockAlreadyInChain(t *testing.T) {
	client, _, _ := newTestClient(t)
	genesisHash := client.BestBlockHeader().Hash()
	ux := signedTransfer(t, testchain.Alice, testchain.Ferdie, 0, 100)
	header := Header{ParentHash: genesisHash, Number: 1}
	justified := JustifiedHeader{header: header}

	_, err := client.ImportBlock(OriginNetworkBroadcast, justified, []UncheckedExtrinsic{ux})
	require.NoError(t, err)

	result, err := client.ImportBlock(OriginNetworkBroadcast, justified, []UncheckedExtrinsic{ux})
	require.NoError(t, err)
	require.True(t, result.AlreadyInChain)

	ferdieBal, err := testchain.BalanceOf(client, ByNumber(1), testchain.Ferdie)
	require.NoError(t, err)
	require.Equal(t, uint64(100), ferdieBal)
}

// S6: a header naming an unknown parent is reported as a result the caller
// is expected to act on (buffer and retry once the parent arrives), not an
// error.
func TestImportBlockUnknownParent(t *testing.T) {
	client, _, _ := newTestClient(t)
	header := Header{ParentHash: Hash{0xff, 0xff}, Number: 1}
	justified := JustifiedHeader{header: header}

	result, err := client.ImportBlock(OriginNetworkBroadcast, justified, nil)
	require.NoError(t, err)
	require.True(t, result.UnknownParent)
	require.False(t, result.IsNewBest)
	require.False(t, result.AlreadyInChain)
}

// A storage miss is reported as NoValueForKey, distinct from a backend
// fault.
func TestStorageMissingKey(t *testing.T) {
	client, _, _ := newTestClient(t)
	_, err := client.Storage(ByNumber(0), []byte("does-not-exist"))
	require.Error(t, err)
	var coreErr *Error
	require.ErrorAs(t, err, &coreErr)
	require.Equal(t, NoValueForKey, coreErr.Kind)
}

// An origin outside {NetworkBroadcast, ConsensusBroadcast, Own} (e.g.
// OriginFile, used for local replay) must not notify subscribers.
func TestImportBlockNonNotifyingOriginIsSilent(t *testing.T) {
	client, _, _ := newTestClient(t)
	_, sub := client.ImportNotificationStream()

	genesisHash := client.BestBlockHeader().Hash()
	header := Header{ParentHash: genesisHash, Number: 1}
	justified := JustifiedHeader{header: header}

	_, err := client.ImportBlock(OriginFile, justified, nil)
	require.NoError(t, err)

	select {
	case n := <-sub:
		t.Fatalf("unexpected notification for non-notifying origin: %+v", n)
	case <-time.After(50 * time.Millisecond):
	}
}

// Unsubscribe closes a subscriber's channel and removes it from the fan-out
// set; later publishes must not touch it.
func TestUnsubscribeClosesChannel(t *testing.T) {
	client, _, _ := newTestClient(t)
	id, sub := client.ImportNotificationStream()
	client.Unsubscribe(id)

	_, ok := <-sub
	require.False(t, ok, "expected channel to be closed after Unsubscribe")

	genesisHash := client.BestBlockHeader().Hash()
	header := Header{ParentHash: genesisHash, Number: 1}
	_, err := client.ImportBlock(OriginOwn, JustifiedHeader{header: header}, nil)
	require.NoError(t, err)
}

// FileBackend persists committed blocks across a close/reopen cycle via
// its WAL, without needing a snapshot.
func TestFileBackendPersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	authorities, err := testchain.NewAuthoritySet(1)
	require.NoError(t, err)
	genesis := testchain.BuildGenesis(testchain.DefaultBalances(), authorities.IDs)

	fb, err := NewFileBackend(dir, 0)
	require.NoError(t, err)
	client, err := NewClient(fb, testchain.Executor{}, genesis)
	require.NoError(t, err)

	genesisHash := client.BestBlockHeader().Hash()
	ux := signedTransfer(t, testchain.Alice, testchain.Bob, 0, 50)
	header := Header{ParentHash: genesisHash, Number: 1}
	_, err = client.ImportBlock(OriginOwn, JustifiedHeader{header: header}, []UncheckedExtrinsic{ux})
	require.NoError(t, err)
	require.NoError(t, fb.Close())

	reopened, err := NewFileBackend(dir, 0)
	require.NoError(t, err)
	defer reopened.Close()

	info := reopened.Info()
	require.Equal(t, Number(1), info.BestNumber)

	hdr, ok, err := reopened.Header(ByNumber(1))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, header.ParentHash, hdr.ParentHash)

	reopenedClient := &Client{backend: reopened, executor: testchain.Executor{}, metrics: newMetrics()}
	bobBal, err := testchain.BalanceOf(reopenedClient, ByNumber(1), testchain.Bob)
	require.NoError(t, err)
	require.Equal(t, uint64(1050), bobBal)
}
