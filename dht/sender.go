package dht

import (
	"github.com/opd-ai/mainline/krpc"
	"github.com/opd-ai/mainline/transport"
	"github.com/sirupsen/logrus"
)

// Sender issues outbound KRPC queries. Every send borrows a transaction
// id carrying the request context the response handler will need, then
// encodes and transmits the frame. Send failures are logged and
// swallowed; there is no retry at this layer.
type Sender struct {
	local     *LocalNode
	transport transport.Transport
	registry  *TransactionRegistry
	storage   *Storage
}

// NewSender wires a sender over the shared registry and store.
func NewSender(local *LocalNode, trans transport.Transport, registry *TransactionRegistry, storage *Storage) *Sender {
	return &Sender{
		local:     local,
		transport: trans,
		registry:  registry,
		storage:   storage,
	}
}

// SendPing sends a ping query to (addr, port).
func (s *Sender) SendPing(addr string, port uint16) {
	tid := s.registry.Create(&TransactionContext{
		Query: krpc.QueryPing,
		Addr:  addr,
		Port:  port,
	})
	s.send(krpc.NewPingQuery(tid, s.local.ID), addr, port)
}

// SendPingBootstrap pings a bootstrap endpoint. Bootstrap entries are
// domain endpoints; resolution happens at send time.
func (s *Sender) SendPingBootstrap(endpoint krpc.Endpoint) {
	s.SendPing(endpoint.Addr, endpoint.Port)
}

// SendFindNode asks (addr, port) for its nodes closest to target.
func (s *Sender) SendFindNode(addr string, port uint16, target krpc.NodeID) {
	tid := s.registry.Create(&TransactionContext{
		Query: krpc.QueryFindNode,
		Addr:  addr,
		Port:  port,
	})
	s.send(krpc.NewFindNodeQuery(tid, s.local.ID, target), addr, port)
}

// SendGetPeers asks a node for peers announcing infoHash.
func (s *Sender) SendGetPeers(node *Node, infoHash krpc.InfoHash) {
	tid := s.registry.Create(&TransactionContext{
		Query:    krpc.QueryGetPeers,
		Addr:     node.Endpoint.Addr,
		Port:     node.Endpoint.Port,
		InfoHash: infoHash,
	})
	s.send(krpc.NewGetPeersQuery(tid, s.local.ID, infoHash), node.Endpoint.Addr, node.Endpoint.Port)
}

// SendAnnouncePeer announces the local node as a downloader of
// infoHash. The announce carries the token the store holds for
// infoHash (for peers learnt from a get_peers response, that query's
// transaction id); without one the announce is skipped.
func (s *Sender) SendAnnouncePeer(node *Node, infoHash krpc.InfoHash) {
	token, ok := s.storage.FindToken(infoHash.String())
	if !ok {
		logrus.WithFields(logrus.Fields{
			"function":  "SendAnnouncePeer",
			"info_hash": infoHash.String(),
		}).Debug("no token for info-hash, skipping announce")
		return
	}

	tid := s.registry.Create(&TransactionContext{
		Query:    krpc.QueryAnnouncePeer,
		Addr:     node.Endpoint.Addr,
		Port:     node.Endpoint.Port,
		InfoHash: infoHash,
	})
	msg := krpc.NewAnnouncePeerQuery(tid, s.local.ID, infoHash, s.local.Endpoint.Port, 1, token)
	s.send(msg, node.Endpoint.Addr, node.Endpoint.Port)
}

func (s *Sender) send(msg *krpc.Message, addr string, port uint16) {
	data, err := krpc.EncodeMessage(msg)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "send",
			"query":    msg.Q,
			"error":    err.Error(),
		}).Error("encoding query failed")
		return
	}

	dest, err := transport.ResolveAddr(addr, port)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "send",
			"address":  addr,
			"error":    err.Error(),
		}).Warn("resolving destination failed")
		return
	}

	if err := s.transport.Send(data, dest); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "send",
			"address":  addr,
			"query":    msg.Q,
			"error":    err.Error(),
		}).Warn("sending query failed")
	}
}
