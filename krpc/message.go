package krpc

import (
	"errors"
	"fmt"

	"github.com/zeebo/bencode"
)

// Message types carried in the "y" key.
const (
	TypeQuery    = "q"
	TypeResponse = "r"
	TypeError    = "e"
)

// Query kinds carried in the "q" key.
const (
	QueryPing         = "ping"
	QueryFindNode     = "find_node"
	QueryGetPeers     = "get_peers"
	QueryAnnouncePeer = "announce_peer"
)

// CompactNodeLength is the wire size of compact node info:
// a 20-byte id followed by 6-byte compact peer info.
const CompactNodeLength = IDLength + CompactEndpointLength

// ErrMissingField reports a frame without the mandatory "t" or "y" key.
// Such datagrams are dropped by the dispatcher.
var ErrMissingField = errors.New("krpc: message missing t or y field")

// Args holds the "a" dictionary of a query. The id, target and
// info_hash values are raw 20-byte strings on the wire.
type Args struct {
	ID          string `bencode:"id"`
	Target      string `bencode:"target,omitempty"`
	InfoHash    string `bencode:"info_hash,omitempty"`
	Port        int    `bencode:"port,omitempty"`
	ImpliedPort int    `bencode:"implied_port,omitempty"`
	Token       string `bencode:"token,omitempty"`
}

// Reply holds the "r" dictionary of a response. Nodes is the
// concatenation of 26-byte compact node records; Values is a list of
// 6-byte compact peer records.
type Reply struct {
	ID     string   `bencode:"id"`
	Nodes  string   `bencode:"nodes,omitempty"`
	Token  string   `bencode:"token,omitempty"`
	Values []string `bencode:"values,omitempty"`
}

// Message is one KRPC frame: a bencoded dictionary with a transaction
// id, a type tag, and the variant payload for that type.
type Message struct {
	T string      `bencode:"t"`
	Y string      `bencode:"y"`
	Q string      `bencode:"q,omitempty"`
	A *Args       `bencode:"a,omitempty"`
	R *Reply      `bencode:"r,omitempty"`
	E *ErrorValue `bencode:"e,omitempty"`
}

// EncodeMessage serialises a frame for transmission.
func EncodeMessage(m *Message) ([]byte, error) {
	data, err := bencode.EncodeBytes(m)
	if err != nil {
		return nil, fmt.Errorf("krpc: encoding %s message: %w", m.Y, err)
	}
	return data, nil
}

// DecodeMessage parses a received datagram. A frame that fails to parse
// or lacks "t" or "y" yields an error; the caller drops it and
// penalises the sender. Bencode byte strings arrive as Go strings, so
// a binary "t" needs no further coercion.
func DecodeMessage(data []byte) (*Message, error) {
	// E starts allocated because the decoder only calls
	// ErrorValue.UnmarshalBencode through a non-nil pointer; it is
	// cleared again for frames that carry no error value.
	m := Message{E: &ErrorValue{}}
	if err := bencode.DecodeBytes(data, &m); err != nil {
		return nil, fmt.Errorf("krpc: decoding datagram: %w", err)
	}
	if m.T == "" || m.Y == "" {
		return nil, ErrMissingField
	}
	if m.Y != TypeError || *m.E == (ErrorValue{}) {
		m.E = nil
	}
	return &m, nil
}

// NewPingQuery builds a ping query carrying the local id.
func NewPingQuery(t string, id NodeID) *Message {
	return &Message{
		T: t,
		Y: TypeQuery,
		Q: QueryPing,
		A: &Args{ID: string(id[:])},
	}
}

// NewFindNodeQuery builds a find_node query for target.
func NewFindNodeQuery(t string, id, target NodeID) *Message {
	return &Message{
		T: t,
		Y: TypeQuery,
		Q: QueryFindNode,
		A: &Args{ID: string(id[:]), Target: string(target[:])},
	}
}

// NewGetPeersQuery builds a get_peers query for an info-hash.
func NewGetPeersQuery(t string, id NodeID, infoHash InfoHash) *Message {
	return &Message{
		T: t,
		Y: TypeQuery,
		Q: QueryGetPeers,
		A: &Args{ID: string(id[:]), InfoHash: string(infoHash[:])},
	}
}

// NewAnnouncePeerQuery builds an announce_peer query. When impliedPort
// is 1 the receiver uses the datagram's source port instead of port.
func NewAnnouncePeerQuery(t string, id NodeID, infoHash InfoHash, port uint16, impliedPort int, token string) *Message {
	return &Message{
		T: t,
		Y: TypeQuery,
		Q: QueryAnnouncePeer,
		A: &Args{
			ID:          string(id[:]),
			InfoHash:    string(infoHash[:]),
			Port:        int(port),
			ImpliedPort: impliedPort,
			Token:       token,
		},
	}
}

// NewPingResponse builds the response to a ping query.
func NewPingResponse(t string, id NodeID) *Message {
	return &Message{
		T: t,
		Y: TypeResponse,
		R: &Reply{ID: string(id[:])},
	}
}

// NewFindNodeResponse builds a find_node response carrying concatenated
// compact node records.
func NewFindNodeResponse(t string, id NodeID, nodes []byte) *Message {
	return &Message{
		T: t,
		Y: TypeResponse,
		R: &Reply{ID: string(id[:]), Nodes: string(nodes)},
	}
}

// NewGetPeersValuesResponse builds the get_peers branch that returns
// known peers together with the announce token.
func NewGetPeersValuesResponse(t string, id NodeID, token string, values [][]byte) *Message {
	vals := make([]string, len(values))
	for i, v := range values {
		vals[i] = string(v)
	}
	return &Message{
		T: t,
		Y: TypeResponse,
		R: &Reply{ID: string(id[:]), Token: token, Values: vals},
	}
}

// NewGetPeersNodesResponse builds the get_peers branch that returns the
// closest known nodes. No token travels on this branch.
func NewGetPeersNodesResponse(t string, id NodeID, nodes []byte) *Message {
	return &Message{
		T: t,
		Y: TypeResponse,
		R: &Reply{ID: string(id[:]), Nodes: string(nodes)},
	}
}

// NewAnnouncePeerResponse builds the response to an announce_peer query.
func NewAnnouncePeerResponse(t string, id NodeID) *Message {
	return &Message{
		T: t,
		Y: TypeResponse,
		R: &Reply{ID: string(id[:])},
	}
}

// NewErrorMessage builds an error frame.
func NewErrorMessage(t string, code int, text string) *Message {
	return &Message{
		T: t,
		Y: TypeError,
		E: &ErrorValue{Code: code, Message: text},
	}
}

// ValidID reports whether a wire string is a well-formed 20-byte
// identifier (node id, target or info-hash).
func ValidID(s string) bool {
	return len(s) == IDLength
}
