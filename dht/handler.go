package dht

import (
	"github.com/opd-ai/mainline/krpc"
	"github.com/opd-ai/mainline/transport"
	"github.com/sirupsen/logrus"
)

// handleQuery answers one incoming query. Invalid ids, targets,
// info-hashes and tokens earn a 203; an empty routing table earns a
// 201; unknown query kinds are logged without a reply.
func (d *Dispatcher) handleQuery(msg *krpc.Message, addr string, port uint16) {
	if msg.A == nil || !krpc.ValidID(msg.A.ID) {
		d.replyError(msg.T, krpc.ErrCodeProtocol, "invalid node id", addr, port)
		return
	}

	switch msg.Q {
	case krpc.QueryPing:
		d.handlePingQuery(msg, addr, port)
	case krpc.QueryFindNode:
		d.handleFindNodeQuery(msg, addr, port)
	case krpc.QueryGetPeers:
		d.handleGetPeersQuery(msg, addr, port)
	case krpc.QueryAnnouncePeer:
		d.handleAnnouncePeerQuery(msg, addr, port)
	default:
		logrus.WithFields(logrus.Fields{
			"function": "handleQuery",
			"query":    msg.Q,
			"address":  addr,
		}).Error("unknown query kind")
	}
}

func (d *Dispatcher) handlePingQuery(msg *krpc.Message, addr string, port uint16) {
	d.reply(krpc.NewPingResponse(msg.T, d.local.ID), addr, port)
}

func (d *Dispatcher) handleFindNodeQuery(msg *krpc.Message, addr string, port uint16) {
	if !krpc.ValidID(msg.A.Target) {
		d.replyError(msg.T, krpc.ErrCodeProtocol, "invalid target", addr, port)
		return
	}
	target, _ := krpc.NewNodeID([]byte(msg.A.Target))

	closest := d.routing.FindClosestNodes(target, bucketCapacity)
	if len(closest) == 0 {
		d.replyError(msg.T, krpc.ErrCodeGeneric, "no known nodes", addr, port)
		return
	}
	d.reply(krpc.NewFindNodeResponse(msg.T, d.local.ID, MarshalCompactNodes(closest)), addr, port)
}

func (d *Dispatcher) handleGetPeersQuery(msg *krpc.Message, addr string, port uint16) {
	if !krpc.ValidID(msg.A.InfoHash) {
		d.replyError(msg.T, krpc.ErrCodeProtocol, "invalid info-hash", addr, port)
		return
	}
	infoHash, _ := krpc.NewInfoHash([]byte(msg.A.InfoHash))
	hashHex := infoHash.String()

	if peers := d.storage.Find(hashHex); len(peers) > 0 {
		token, _ := d.storage.FindToken(hashHex)
		values := make([][]byte, 0, len(peers))
		for _, peer := range peers {
			enc, err := peer.MarshalCompact()
			if err != nil {
				continue
			}
			values = append(values, enc)
		}
		d.reply(krpc.NewGetPeersValuesResponse(msg.T, d.local.ID, token, values), addr, port)
		return
	}

	// No peers known: hand back the closest nodes instead. The id space
	// and the info-hash space are both SHA-1, so the hash doubles as a
	// lookup target.
	target := krpc.NodeID(infoHash)
	closest := d.routing.FindClosestNodes(target, bucketCapacity)
	if len(closest) == 0 {
		d.replyError(msg.T, krpc.ErrCodeGeneric, "no known nodes", addr, port)
		return
	}
	d.reply(krpc.NewGetPeersNodesResponse(msg.T, d.local.ID, MarshalCompactNodes(closest)), addr, port)
}

func (d *Dispatcher) handleAnnouncePeerQuery(msg *krpc.Message, addr string, port uint16) {
	if !krpc.ValidID(msg.A.InfoHash) || msg.A.Port <= 0 || msg.A.Port > 65535 || msg.A.Token == "" {
		d.replyError(msg.T, krpc.ErrCodeProtocol, "invalid announce arguments", addr, port)
		return
	}
	infoHash, _ := krpc.NewInfoHash([]byte(msg.A.InfoHash))
	hashHex := infoHash.String()

	if stored, ok := d.storage.FindToken(hashHex); ok && stored != msg.A.Token {
		d.replyError(msg.T, krpc.ErrCodeProtocol, "token mismatch", addr, port)
		return
	}

	downloadPort := uint16(msg.A.Port)
	if msg.A.ImpliedPort == 1 {
		downloadPort = port
	}

	peer, err := krpc.NewEndpoint(addr, downloadPort)
	if err != nil {
		d.replyError(msg.T, krpc.ErrCodeProtocol, "invalid peer address", addr, port)
		return
	}
	d.storage.Add(hashHex, peer, msg.A.Token)
	d.reply(krpc.NewAnnouncePeerResponse(msg.T, d.local.ID), addr, port)
}

// handleResponse correlates an incoming response with its outstanding
// query and applies the result. The response frame names no query kind;
// the stored transaction context does.
func (d *Dispatcher) handleResponse(msg *krpc.Message, addr string, port uint16) {
	if !d.registry.IsValid(msg.T) {
		return
	}
	if msg.R == nil || !krpc.ValidID(msg.R.ID) {
		return
	}

	ctx := d.registry.Get(msg.T)
	d.registry.Finish(msg.T)
	if ctx == nil {
		return
	}

	responderID, _ := krpc.NewNodeID([]byte(msg.R.ID))
	responder, err := NewNodeFromAddr(responderID, addr, port)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "handleResponse",
			"address":  addr,
			"error":    err.Error(),
		}).Warn("unusable responder address")
		return
	}

	switch ctx.Query {
	case krpc.QueryPing:
		d.routing.AddNode(responder)
	case krpc.QueryFindNode:
		d.handleFindNodeResponse(msg, responder)
	case krpc.QueryGetPeers:
		d.handleGetPeersResponse(msg, ctx, responder)
	case krpc.QueryAnnouncePeer:
		d.routing.AddNode(responder)
	default:
		logrus.WithFields(logrus.Fields{
			"function": "handleResponse",
			"query":    ctx.Query,
		}).Error("transaction context names unknown query kind")
	}
}

func (d *Dispatcher) handleFindNodeResponse(msg *krpc.Message, responder *Node) {
	nodes, err := ParseCompactNodes([]byte(msg.R.Nodes))
	if err != nil || len(msg.R.Nodes) == 0 {
		logrus.WithFields(logrus.Fields{
			"function": "handleFindNodeResponse",
			"address":  responder.Endpoint.Addr,
		}).Warn("find_node response without usable nodes")
		return
	}
	for _, node := range nodes {
		d.routing.AddNode(node)
	}
	d.routing.AddNode(responder)
}

func (d *Dispatcher) handleGetPeersResponse(msg *krpc.Message, ctx *TransactionContext, responder *Node) {
	hashHex := ctx.InfoHash.String()
	// The token stored with discovered peers is the transaction id;
	// r.token is not consulted.
	token := msg.T

	switch {
	case len(msg.R.Values) > 0:
		peers := make([]krpc.Endpoint, 0, len(msg.R.Values))
		for _, value := range msg.R.Values {
			peer, err := krpc.ParseCompactEndpoint([]byte(value))
			if err != nil {
				logrus.WithFields(logrus.Fields{
					"function": "handleGetPeersResponse",
					"error":    err.Error(),
				}).Warn("skipping malformed peer value")
				continue
			}
			peers = append(peers, peer)
		}
		d.storage.AddList(hashHex, peers, token)
	case len(msg.R.Nodes) > 0:
		nodes, err := ParseCompactNodes([]byte(msg.R.Nodes))
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "handleGetPeersResponse",
				"error":    err.Error(),
			}).Warn("get_peers response with malformed nodes")
			return
		}
		// Walk toward the info-hash: ask each returned node in turn.
		for _, node := range nodes {
			d.sender.SendGetPeers(node, ctx.InfoHash)
		}
	}

	d.routing.AddNode(responder)
}

// handleError logs a KRPC error frame and retires its transaction.
func (d *Dispatcher) handleError(msg *krpc.Message, addr string, port uint16) {
	if msg.T == "" || !d.registry.IsValid(msg.T) {
		return
	}
	if msg.E != nil {
		logrus.WithFields(logrus.Fields{
			"function": "handleError",
			"address":  addr,
			"code":     msg.E.Code,
			"message":  msg.E.Message,
		}).Warn("received KRPC error")
	}
	d.registry.Finish(msg.T)
}

func (d *Dispatcher) reply(msg *krpc.Message, addr string, port uint16) {
	data, err := krpc.EncodeMessage(msg)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "reply",
			"error":    err.Error(),
		}).Error("encoding reply failed")
		return
	}
	dest, err := transport.ResolveAddr(addr, port)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "reply",
			"address":  addr,
			"error":    err.Error(),
		}).Warn("resolving reply destination failed")
		return
	}
	if err := d.transport.Send(data, dest); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "reply",
			"address":  addr,
			"error":    err.Error(),
		}).Warn("sending reply failed")
	}
}

func (d *Dispatcher) replyError(t string, code int, text string, addr string, port uint16) {
	d.reply(krpc.NewErrorMessage(t, code, text), addr, port)
}
