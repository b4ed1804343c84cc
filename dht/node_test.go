package dht

import (
	"bytes"
	"testing"
	"time"

	"github.com/opd-ai/mainline/krpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testNodeID(b byte) krpc.NodeID {
	var id krpc.NodeID
	for i := range id {
		id[i] = b
	}
	return id
}

func testNode(t *testing.T, idByte byte, addr string, port uint16) *Node {
	t.Helper()
	node, err := NewNodeFromAddr(testNodeID(idByte), addr, port)
	require.NoError(t, err)
	return node
}

func TestNewNodeStampsActiveAt(t *testing.T) {
	tp := newMockTimeProvider()
	SetDefaultTimeProvider(tp)
	defer SetDefaultTimeProvider(nil)

	node := testNode(t, 0x01, "1.2.3.4", 6881)
	assert.Equal(t, tp.Now(), node.ActiveAt)
	assert.True(t, node.IsActive())
}

func TestNodeUpdateRefreshesEndpointAndActiveAt(t *testing.T) {
	tp := newMockTimeProvider()
	SetDefaultTimeProvider(tp)
	defer SetDefaultTimeProvider(nil)

	node := testNode(t, 0x01, "1.2.3.4", 6881)
	created := node.ActiveAt

	tp.advance(time.Minute)
	require.NoError(t, node.Update("5.6.7.8", 7000))
	assert.Equal(t, "5.6.7.8", node.Endpoint.Addr)
	assert.Equal(t, uint16(7000), node.Endpoint.Port)
	assert.True(t, node.ActiveAt.After(created))

	assert.Error(t, node.Update("not an address!", 7000))
}

func TestNodeStaleness(t *testing.T) {
	tp := newMockTimeProvider()
	SetDefaultTimeProvider(tp)
	defer SetDefaultTimeProvider(nil)

	node := testNode(t, 0x01, "1.2.3.4", 6881)
	assert.True(t, node.IsActive())

	tp.advance(staleTimeout + time.Second)
	assert.False(t, node.IsActive())

	node.Touch()
	assert.True(t, node.IsActive())
}

func TestNodeCompactRoundTrip(t *testing.T) {
	node := testNode(t, 0xab, "67.215.246.10", 6881)

	data, err := node.MarshalCompact()
	require.NoError(t, err)
	assert.Len(t, data, krpc.CompactNodeLength)

	back, err := ParseCompactNode(data)
	require.NoError(t, err)
	assert.Equal(t, node.ID, back.ID)
	assert.True(t, node.Endpoint.Equal(back.Endpoint))
}

func TestParseCompactNodes(t *testing.T) {
	a := testNode(t, 0x01, "1.1.1.1", 1111)
	b := testNode(t, 0x02, "2.2.2.2", 2222)

	blob := MarshalCompactNodes([]*Node{a, b})
	require.Len(t, blob, 2*krpc.CompactNodeLength)

	nodes, err := ParseCompactNodes(blob)
	require.NoError(t, err)
	require.Len(t, nodes, 2)
	assert.Equal(t, a.ID, nodes[0].ID)
	assert.Equal(t, b.ID, nodes[1].ID)

	_, err = ParseCompactNodes(blob[:25])
	assert.Error(t, err)

	nodes, err = ParseCompactNodes(nil)
	require.NoError(t, err)
	assert.Empty(t, nodes)
}

func TestMarshalCompactNodesSkipsDomainEndpoints(t *testing.T) {
	ipNode := testNode(t, 0x01, "1.1.1.1", 1111)
	domainNode, err := NewNodeFromAddr(testNodeID(0x02), "router.bittorrent.com", 6881)
	require.NoError(t, err)

	blob := MarshalCompactNodes([]*Node{domainNode, ipNode})
	assert.Len(t, blob, krpc.CompactNodeLength)
	assert.True(t, bytes.Equal(blob[:krpc.IDLength], ipNode.ID.Bytes()))
}

func TestLocalNode(t *testing.T) {
	id := testNodeID(0x77)
	local := NewLocalNode("203.0.113.9", 6881, id)
	assert.Equal(t, id, local.ID)
	assert.Equal(t, uint16(6881), local.Endpoint.Port)
	assert.Equal(t, krpc.AddressTypeIPv4, local.Endpoint.Type)
}
