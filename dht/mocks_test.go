package dht

import (
	"net"
	"sync"
	"time"

	"github.com/opd-ai/mainline/transport"
)

// mockAddr implements net.Addr for tests.
type mockAddr struct {
	address string
}

func (m mockAddr) Network() string { return "udp" }
func (m mockAddr) String() string  { return m.address }

// mockTransport implements transport.Transport, recording every sent
// datagram instead of touching the network.
type mockTransport struct {
	handler   transport.DatagramHandler
	sent      [][]byte
	sentAddrs []net.Addr
	sendErr   error
	mu        sync.Mutex
}

func newMockTransport() *mockTransport {
	return &mockTransport{}
}

func (m *mockTransport) Send(data []byte, addr net.Addr) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sendErr != nil {
		return m.sendErr
	}
	buf := make([]byte, len(data))
	copy(buf, data)
	m.sent = append(m.sent, buf)
	m.sentAddrs = append(m.sentAddrs, addr)
	return nil
}

func (m *mockTransport) Close() error { return nil }

func (m *mockTransport) LocalAddr() net.Addr {
	return mockAddr{address: "127.0.0.1:6881"}
}

func (m *mockTransport) RegisterHandler(handler transport.DatagramHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handler = handler
}

// deliver injects a datagram as if it arrived from addr.
func (m *mockTransport) deliver(data []byte, addr string) {
	m.mu.Lock()
	handler := m.handler
	m.mu.Unlock()
	if handler != nil {
		handler(data, mockAddr{address: addr})
	}
}

func (m *mockTransport) sentDatagrams() ([][]byte, []net.Addr) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data := make([][]byte, len(m.sent))
	copy(data, m.sent)
	addrs := make([]net.Addr, len(m.sentAddrs))
	copy(addrs, m.sentAddrs)
	return data, addrs
}

func (m *mockTransport) reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = nil
	m.sentAddrs = nil
}

// mockTimeProvider freezes the clock for staleness and expiry tests.
type mockTimeProvider struct {
	mu  sync.Mutex
	now time.Time
}

func newMockTimeProvider() *mockTimeProvider {
	return &mockTimeProvider{now: time.Unix(1700000000, 0)}
}

func (m *mockTimeProvider) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

func (m *mockTimeProvider) Since(t time.Time) time.Duration {
	return m.Now().Sub(t)
}

func (m *mockTimeProvider) advance(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = m.now.Add(d)
}
