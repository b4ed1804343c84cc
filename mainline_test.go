package mainline

import (
	"context"
	"testing"
	"time"

	"github.com/opd-ai/mainline/krpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestNode(t *testing.T, bootstrap []krpc.Endpoint) *DHT {
	t.Helper()
	id := krpc.RandomNodeID()
	node, err := New(&Options{
		ListenPort:     0,
		PublicIP:       "127.0.0.1",
		NodeID:         &id,
		BootstrapNodes: bootstrap,
	})
	require.NoError(t, err)
	t.Cleanup(func() { node.Close() })
	return node
}

func TestNewAndClose(t *testing.T) {
	node := newTestNode(t, nil)
	assert.NotEqual(t, krpc.NodeID{}, node.LocalID())
	assert.Equal(t, 0, node.NodeCount())
}

func TestFixedNodeID(t *testing.T) {
	id := krpc.RandomNodeID()
	node, err := New(&Options{ListenPort: 0, PublicIP: "127.0.0.1", NodeID: &id})
	require.NoError(t, err)
	defer node.Close()
	assert.Equal(t, id, node.LocalID())
}

func TestWatchMagnet(t *testing.T) {
	node := newTestNode(t, nil)

	hash, err := node.WatchMagnet("magnet:?xt=urn:btih:c12fe1c06bba254a9dc9f519b335aa7c1367a88a")
	require.NoError(t, err)
	assert.Equal(t, "c12fe1c06bba254a9dc9f519b335aa7c1367a88a", hash.String())
	assert.Empty(t, node.FindPeers(hash), "no peers before any response")

	node.Unwatch(hash)

	_, err = node.WatchMagnet("not a magnet uri")
	assert.Error(t, err)
}

func TestAnnounceWithEmptyTableIsNoop(t *testing.T) {
	node := newTestNode(t, nil)
	var hash krpc.InfoHash
	assert.NotPanics(t, func() { node.Announce(hash) })
}

func TestBootstrapOverLoopback(t *testing.T) {
	// Two real nodes on the loopback: B pings A, A responds, and B's
	// routing table picks A up.
	a := newTestNode(t, nil)

	aEndpoint, err := krpc.NewEndpoint("127.0.0.1", a.local.Endpoint.Port)
	require.NoError(t, err)

	b := newTestNode(t, []krpc.Endpoint{aEndpoint})
	require.NoError(t, b.Bootstrap(context.Background()))

	assert.Eventually(t, func() bool {
		return b.NodeCount() == 1
	}, 5*time.Second, 50*time.Millisecond, "B never learned about A")

	found := b.dispatcher.RoutingTable().Find(a.LocalID())
	require.NotNil(t, found)
	assert.Equal(t, a.local.Endpoint.Port, found.Endpoint.Port)
}
