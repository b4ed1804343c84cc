// Package ipdetect discovers the host's public IPv4 address by asking
// an external HTTPS service. The DHT core never calls this itself; the
// facade uses it to fill in the local node's address when none is
// configured.
package ipdetect

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"
)

// DefaultServiceURL answers a GET with the caller's address as plain
// text.
const DefaultServiceURL = "https://api.ipify.org"

// requestTimeout bounds one lookup.
const requestTimeout = 10 * time.Second

// maxBodySize caps the response read; a dotted quad is 15 bytes.
const maxBodySize = 64

// Detector resolves the public address against a configurable service.
type Detector struct {
	serviceURL string
	client     *http.Client
}

// NewDetector builds a detector for the given service URL, falling back
// to DefaultServiceURL when empty.
func NewDetector(serviceURL string) *Detector {
	if serviceURL == "" {
		serviceURL = DefaultServiceURL
	}
	return &Detector{
		serviceURL: serviceURL,
		client:     &http.Client{Timeout: requestTimeout},
	}
}

// Detect returns the public IPv4 address as a dotted quad.
func (d *Detector) Detect(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.serviceURL, nil)
	if err != nil {
		return "", fmt.Errorf("ipdetect: building request: %w", err)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("ipdetect: querying %s: %w", d.serviceURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("ipdetect: %s returned status %d", d.serviceURL, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return "", fmt.Errorf("ipdetect: reading response: %w", err)
	}

	addr := strings.TrimSpace(string(body))
	ip := net.ParseIP(addr)
	if ip == nil || ip.To4() == nil {
		return "", fmt.Errorf("ipdetect: %s returned %q, not an IPv4 address", d.serviceURL, addr)
	}
	return ip.To4().String(), nil
}
