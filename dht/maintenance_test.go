package dht

import (
	"context"
	"testing"
	"time"

	"github.com/opd-ai/mainline/krpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestMaintainer(t *testing.T) (*Maintainer, *Dispatcher, *mockTransport) {
	t.Helper()
	d, trans := newTestDispatcher(t)
	bm := NewBootstrapManager(d.Sender(), d.RoutingTable(), []krpc.Endpoint{
		testPeer(t, "10.0.0.99", 6881),
	})
	m := NewMaintainer(d.RoutingTable(), bm, d.Sender(), nil)
	return m, d, trans
}

func TestMaintainerWatchList(t *testing.T) {
	m, _, _ := newTestMaintainer(t)

	h1 := testInfoHash(0x11)
	h2 := testInfoHash(0x22)
	m.Watch(h1)
	m.Watch(h2)
	m.Watch(h1) // idempotent
	assert.Len(t, m.Watched(), 2)

	m.Unwatch(h1)
	assert.Len(t, m.Watched(), 1)
	assert.Equal(t, h2, m.Watched()[0])
}

func TestBootstrapTickSeedsSparseTable(t *testing.T) {
	m, d, trans := newTestMaintainer(t)

	m.ctx = context.Background()
	m.bootstrapTick()

	sent, _ := trans.sentDatagrams()
	require.NotEmpty(t, sent)
	msg, err := krpc.DecodeMessage(sent[0])
	require.NoError(t, err)
	assert.Equal(t, krpc.QueryPing, msg.Q)

	// A populated table gets a find_node walk instead.
	for i := byte(1); i <= byte(m.config.MinNodes); i++ {
		d.RoutingTable().AddNode(testNode(t, i, "10.0.0.1", 6881))
	}
	trans.reset()
	m.bootstrapTick()
	sent, _ = trans.sentDatagrams()
	require.Len(t, sent, 1)
	msg, err = krpc.DecodeMessage(sent[0])
	require.NoError(t, err)
	assert.Equal(t, krpc.QueryFindNode, msg.Q)
	assert.Equal(t, string(d.RoutingTable().LocalID().Bytes()), msg.A.Target)
}

func TestLookupTickPollsWatchedHashes(t *testing.T) {
	m, d, trans := newTestMaintainer(t)

	hash := testInfoHash(0x33)
	m.Watch(hash)

	// No nodes yet: nothing to send.
	m.lookupTick()
	sent, _ := trans.sentDatagrams()
	assert.Empty(t, sent)

	d.RoutingTable().AddNode(testNode(t, 0x01, "10.0.0.1", 6881))
	d.RoutingTable().AddNode(testNode(t, 0x02, "10.0.0.2", 6881))

	m.lookupTick()
	sent, _ = trans.sentDatagrams()
	require.Len(t, sent, 2)
	for _, raw := range sent {
		msg, err := krpc.DecodeMessage(raw)
		require.NoError(t, err)
		assert.Equal(t, krpc.QueryGetPeers, msg.Q)
		assert.Equal(t, string(hash[:]), msg.A.InfoHash)
	}
}

func TestPruneTickRemovesStaleNodes(t *testing.T) {
	tp := newMockTimeProvider()
	SetDefaultTimeProvider(tp)
	defer SetDefaultTimeProvider(nil)

	m, d, _ := newTestMaintainer(t)
	d.RoutingTable().AddNode(testNode(t, 0x01, "10.0.0.1", 6881))

	tp.advance(staleTimeout + time.Minute)
	m.pruneTick()
	assert.Equal(t, 0, d.RoutingTable().Count())
}

func TestMaintainerStartStop(t *testing.T) {
	m, _, _ := newTestMaintainer(t)

	require.NoError(t, m.Start())
	assert.Error(t, m.Start(), "double start rejected")

	m.Stop()
	m.Stop() // idempotent

	require.NoError(t, m.Start(), "restart after stop")
	m.Stop()
}
