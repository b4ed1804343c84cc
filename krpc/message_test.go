package krpc

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func roundTrip(t *testing.T, m *Message) *Message {
	t.Helper()
	data, err := EncodeMessage(m)
	require.NoError(t, err)
	back, err := DecodeMessage(data)
	require.NoError(t, err)
	return back
}

func TestQueryRoundTrips(t *testing.T) {
	id := testID(0x11)
	target := testID(0x22)
	var hash InfoHash
	copy(hash[:], bytes.Repeat([]byte{0x33}, IDLength))

	ping := NewPingQuery("aa", id)
	assert.Equal(t, ping, roundTrip(t, ping))

	fn := NewFindNodeQuery("ab", id, target)
	back := roundTrip(t, fn)
	assert.Equal(t, fn, back)
	assert.Equal(t, string(target[:]), back.A.Target)

	gp := NewGetPeersQuery("ac", id, hash)
	assert.Equal(t, gp, roundTrip(t, gp))

	ap := NewAnnouncePeerQuery("ad", id, hash, 6881, 1, "tok")
	back = roundTrip(t, ap)
	assert.Equal(t, ap, back)
	assert.Equal(t, 1, back.A.ImpliedPort)
	assert.Equal(t, 6881, back.A.Port)
}

func TestResponseRoundTrips(t *testing.T) {
	id := testID(0x44)
	nodes := bytes.Repeat([]byte{0x55}, 2*CompactNodeLength)

	pr := NewPingResponse("ba", id)
	assert.Equal(t, pr, roundTrip(t, pr))

	fr := NewFindNodeResponse("bb", id, nodes)
	back := roundTrip(t, fr)
	assert.Equal(t, fr, back)
	assert.Len(t, back.R.Nodes, 2*CompactNodeLength)

	values := [][]byte{{1, 2, 3, 4, 0x1a, 0xe1}, {5, 6, 7, 8, 0x1a, 0xe2}}
	vr := NewGetPeersValuesResponse("bc", id, "tok", values)
	back = roundTrip(t, vr)
	assert.Equal(t, vr, back)
	assert.Equal(t, "tok", back.R.Token)
	require.Len(t, back.R.Values, 2)
	assert.Equal(t, string(values[0]), back.R.Values[0])

	nr := NewGetPeersNodesResponse("bd", id, nodes)
	back = roundTrip(t, nr)
	assert.Equal(t, nr, back)
	assert.Empty(t, back.R.Token, "nodes branch carries no token")

	ar := NewAnnouncePeerResponse("be", id)
	assert.Equal(t, ar, roundTrip(t, ar))
}

func TestErrorRoundTrip(t *testing.T) {
	em := NewErrorMessage("ca", ErrCodeProtocol, "Protocol Error")
	back := roundTrip(t, em)
	assert.Equal(t, em, back)
	assert.Equal(t, ErrCodeProtocol, back.E.Code)
	assert.Equal(t, "Protocol Error", back.E.Message)
}

func TestErrorWireFormat(t *testing.T) {
	data, err := EncodeMessage(NewErrorMessage("ca", ErrCodeGeneric, "oops"))
	require.NoError(t, err)
	// "e" must encode as a [code, message] list.
	assert.Contains(t, string(data), "1:eli201e4:oopse")
}

func TestDecodeRejectsMalformed(t *testing.T) {
	_, err := DecodeMessage([]byte("not bencode"))
	assert.Error(t, err)

	// Valid bencode, but no t.
	_, err = DecodeMessage([]byte("d1:y1:qe"))
	assert.ErrorIs(t, err, ErrMissingField)

	// Valid bencode, but no y.
	_, err = DecodeMessage([]byte("d1:t2:aae"))
	assert.ErrorIs(t, err, ErrMissingField)
}

func TestDecodeBinaryTransactionID(t *testing.T) {
	m := NewPingQuery(string([]byte{0x00, 0xff}), testID(1))
	data, err := EncodeMessage(m)
	require.NoError(t, err)

	back, err := DecodeMessage(data)
	require.NoError(t, err)
	assert.Equal(t, string([]byte{0x00, 0xff}), back.T)
}

func TestValidID(t *testing.T) {
	assert.True(t, ValidID(string(make([]byte, IDLength))))
	assert.False(t, ValidID(""))
	assert.False(t, ValidID(string(make([]byte, IDLength+1))))
}
