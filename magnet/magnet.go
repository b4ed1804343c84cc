// Package magnet extracts the info-hash from magnet URIs so it can be
// fed to the DHT's get_peers machinery.
package magnet

import (
	"encoding/base32"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/opd-ai/mainline/krpc"
)

// btihPrefix tags the BitTorrent info-hash in the exact-topic field.
const btihPrefix = "urn:btih:"

// ErrNoInfoHash is returned when a magnet URI carries no usable
// urn:btih exact-topic.
var ErrNoInfoHash = errors.New("magnet: no btih exact-topic in URI")

// ParseInfoHash extracts the 20-byte info-hash from a magnet URI.
// Both digest forms are accepted: 40 hex characters and 32 base32
// characters.
func ParseInfoHash(uri string) (krpc.InfoHash, error) {
	var zero krpc.InfoHash

	parsed, err := url.Parse(uri)
	if err != nil {
		return zero, fmt.Errorf("magnet: parsing URI: %w", err)
	}
	if parsed.Scheme != "magnet" {
		return zero, fmt.Errorf("magnet: unexpected scheme %q", parsed.Scheme)
	}

	for _, xt := range parsed.Query()["xt"] {
		if !strings.HasPrefix(strings.ToLower(xt), btihPrefix) {
			continue
		}
		digest := xt[len(btihPrefix):]
		hash, err := decodeDigest(digest)
		if err != nil {
			return zero, err
		}
		return hash, nil
	}
	return zero, ErrNoInfoHash
}

func decodeDigest(digest string) (krpc.InfoHash, error) {
	switch len(digest) {
	case 40:
		return krpc.InfoHashFromHex(strings.ToLower(digest))
	case 32:
		raw, err := base32.StdEncoding.DecodeString(strings.ToUpper(digest))
		if err != nil {
			return krpc.InfoHash{}, fmt.Errorf("magnet: invalid base32 digest: %w", err)
		}
		return krpc.NewInfoHash(raw)
	default:
		return krpc.InfoHash{}, fmt.Errorf("magnet: digest length %d is neither 40 hex nor 32 base32 characters", len(digest))
	}
}
