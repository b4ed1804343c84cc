package dht

import (
	"net"

	"github.com/opd-ai/mainline/krpc"
	"github.com/opd-ai/mainline/transport"
	"github.com/sirupsen/logrus"
)

// MessageHandler processes one decoded frame from (addr, port).
type MessageHandler func(msg *krpc.Message, addr string, port uint16)

// Dispatcher is the sole consumer of the transport. It decodes each
// datagram, classifies it by the "y" key and routes it to the query,
// response or error handler. A sender of undecodable data loses all its
// routing-table entries.
type Dispatcher struct {
	local     *LocalNode
	routing   *RoutingTable
	registry  *TransactionRegistry
	storage   *Storage
	sender    *Sender
	transport transport.Transport
	handlers  map[string]MessageHandler
}

// NewDispatcher builds the long-lived core state (routing table,
// transaction registry, info-hash store), wires the sender over it and
// registers for the transport's datagrams.
func NewDispatcher(local *LocalNode, trans transport.Transport) *Dispatcher {
	d := &Dispatcher{
		local:     local,
		routing:   NewRoutingTable(local.ID),
		registry:  NewTransactionRegistry(),
		storage:   NewStorage(),
		transport: trans,
	}
	d.sender = NewSender(local, trans, d.registry, d.storage)
	d.handlers = map[string]MessageHandler{
		krpc.TypeQuery:    d.handleQuery,
		krpc.TypeResponse: d.handleResponse,
		krpc.TypeError:    d.handleError,
	}
	trans.RegisterHandler(d.handleDatagram)
	return d
}

// RoutingTable returns the table owned by this dispatcher.
func (d *Dispatcher) RoutingTable() *RoutingTable {
	return d.routing
}

// Registry returns the transaction registry.
func (d *Dispatcher) Registry() *TransactionRegistry {
	return d.registry
}

// Storage returns the info-hash store.
func (d *Dispatcher) Storage() *Storage {
	return d.storage
}

// Sender returns the request-issuing capability.
func (d *Dispatcher) Sender() *Sender {
	return d.sender
}

// handleDatagram runs on the transport's receive goroutine for every
// datagram. It never lets a handler failure kill the loop.
func (d *Dispatcher) handleDatagram(data []byte, src net.Addr) {
	addr, port, err := transport.SplitAddr(src)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "handleDatagram",
			"source":   src.String(),
			"error":    err.Error(),
		}).Warn("unusable source address")
		return
	}

	msg, err := krpc.DecodeMessage(data)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "handleDatagram",
			"source":   src.String(),
			"error":    err.Error(),
		}).Warn("dropping malformed datagram")
		d.routing.RemoveByIP(addr)
		return
	}

	handler, ok := d.handlers[msg.Y]
	if !ok {
		logrus.WithFields(logrus.Fields{
			"function": "handleDatagram",
			"source":   src.String(),
			"y":        msg.Y,
		}).Warn("unknown message type")
		return
	}

	defer func() {
		if rec := recover(); rec != nil {
			logrus.WithFields(logrus.Fields{
				"function": "handleDatagram",
				"source":   src.String(),
				"panic":    rec,
			}).Error("message handler panicked")
		}
	}()
	handler(msg, addr, port)
}
