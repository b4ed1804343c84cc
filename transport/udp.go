package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// maxDatagramSize bounds one KRPC frame. Responses carrying eight
// compact node records stay well under 1 KiB; 2 KiB leaves headroom for
// oversized peer lists from foreign implementations.
const maxDatagramSize = 2048

// readPollInterval is how often the receive loop wakes up to check for
// shutdown.
const readPollInterval = 100 * time.Millisecond

// UDPTransport is the production Transport: one UDP socket bound to
// 0.0.0.0:<port> with a background receive loop.
type UDPTransport struct {
	conn      net.PacketConn
	localAddr net.Addr
	handler   DatagramHandler
	mu        sync.RWMutex
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// NewUDPTransport binds the socket and starts the receive loop.
// listenAddr is in host:port form, e.g. "0.0.0.0:6881" or ":6881".
func NewUDPTransport(listenAddr string) (Transport, error) {
	conn, err := net.ListenPacket("udp4", listenAddr)
	if err != nil {
		return nil, fmt.Errorf("transport: binding %s: %w", listenAddr, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	t := &UDPTransport{
		conn:      conn,
		localAddr: conn.LocalAddr(),
		ctx:       ctx,
		cancel:    cancel,
	}

	t.wg.Add(1)
	go t.receiveLoop()

	return t, nil
}

// RegisterHandler installs the datagram consumer.
func (t *UDPTransport) RegisterHandler(handler DatagramHandler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handler = handler
}

// Send transmits one datagram.
func (t *UDPTransport) Send(data []byte, addr net.Addr) error {
	_, err := t.conn.WriteTo(data, addr)
	return err
}

// LocalAddr returns the bound address, with the actual port filled in
// when the listen address requested port 0.
func (t *UDPTransport) LocalAddr() net.Addr {
	return t.localAddr
}

// Close stops the receive loop and closes the socket.
func (t *UDPTransport) Close() error {
	t.cancel()
	err := t.conn.Close()
	t.wg.Wait()
	return err
}

// receiveLoop reads datagrams until Close. The handler runs on this
// goroutine, so all state mutations it performs are serialised with
// respect to each other.
func (t *UDPTransport) receiveLoop() {
	defer t.wg.Done()

	buf := make([]byte, maxDatagramSize)
	for {
		select {
		case <-t.ctx.Done():
			return
		default:
		}

		t.conn.SetReadDeadline(time.Now().Add(readPollInterval))
		n, addr, err := t.conn.ReadFrom(buf)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			if t.ctx.Err() != nil {
				return
			}
			logrus.WithFields(logrus.Fields{
				"function": "receiveLoop",
				"error":    err.Error(),
			}).Warn("UDP read failed")
			continue
		}

		t.mu.RLock()
		handler := t.handler
		t.mu.RUnlock()
		if handler == nil {
			continue
		}

		data := make([]byte, n)
		copy(data, buf[:n])
		handler(data, addr)
	}
}
