package core

import (
	"testing"

	"github.com/stretchr/testify/require"

	"chaincore/core/testchain"
	"chaincore/internal/testutil"
)

// TestFileBackendSnapshotsAtBoundary exercises snapshotLocked/loadSnapshot/
// applySnapshotDoc directly: with snapshotInterval=1 every commit rewrites
// chain.snap and truncates the WAL, so a reopen after a snapshot has nothing
// left to replay and must rebuild its entire index from the snapshot file
// alone.
func TestFileBackendSnapshotsAtBoundary(t *testing.T) {
	sandbox, err := testutil.NewSandbox()
	require.NoError(t, err)
	defer sandbox.Cleanup()

	authorities, err := testchain.NewAuthoritySet(1)
	require.NoError(t, err)
	genesis := testchain.BuildGenesis(testchain.DefaultBalances(), authorities.IDs)

	fb, err := NewFileBackend(sandbox.Root, 1)
	require.NoError(t, err)
	client, err := NewClient(fb, testchain.Executor{}, genesis)
	require.NoError(t, err)

	// NewClient's genesis commit already drove sinceSnapshot to the
	// interval and wrote chain.snap once; the WAL is now empty. Import two
	// more blocks so a second snapshot lands on top of a non-empty one.
	genesisHash := client.BestBlockHeader().Hash()
	ux1 := signedTransfer(t, testchain.Alice, testchain.Bob, 0, 30)
	header1 := Header{ParentHash: genesisHash, Number: 1}
	_, err = client.ImportBlock(OriginOwn, JustifiedHeader{header: header1}, []UncheckedExtrinsic{ux1})
	require.NoError(t, err)

	ux2 := signedTransfer(t, testchain.Bob, testchain.Ferdie, 0, 10)
	header2 := Header{ParentHash: header1.Hash(), Number: 2}
	_, err = client.ImportBlock(OriginOwn, JustifiedHeader{header: header2}, []UncheckedExtrinsic{ux2})
	require.NoError(t, err)

	require.NoError(t, fb.Close())

	reopened, err := NewFileBackend(sandbox.Root, 1)
	require.NoError(t, err)
	defer reopened.Close()

	info := reopened.Info()
	require.Equal(t, Number(2), info.BestNumber)

	hdr, ok, err := reopened.Header(ByNumber(2))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, header2.ParentHash, hdr.ParentHash)

	reopenedClient := &Client{backend: reopened, executor: testchain.Executor{}, metrics: newMetrics()}
	bobBal, err := testchain.BalanceOf(reopenedClient, ByNumber(2), testchain.Bob)
	require.NoError(t, err)
	require.Equal(t, uint64(1020), bobBal) // 1000 at genesis, +30 from header1, -10 in header2

	ferdieBal, err := testchain.BalanceOf(reopenedClient, ByNumber(2), testchain.Ferdie)
	require.NoError(t, err)
	require.Equal(t, uint64(10), ferdieBal)

	latest, err := reopenedClient.LatestBlockHash(ByNumber(2))
	require.NoError(t, err)
	require.Equal(t, header2.Hash(), latest)
}
