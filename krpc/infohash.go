package krpc

import (
	"encoding/hex"
	"fmt"
)

// InfoHash is the 20-byte SHA-1 content identifier of a torrent.
type InfoHash [IDLength]byte

// NewInfoHash builds an InfoHash from exactly 20 raw bytes.
func NewInfoHash(b []byte) (InfoHash, error) {
	var h InfoHash
	if len(b) != IDLength {
		return h, fmt.Errorf("krpc: info-hash must be %d bytes, got %d", IDLength, len(b))
	}
	copy(h[:], b)
	return h, nil
}

// InfoHashFromHex parses a 40-character hex digest.
func InfoHashFromHex(s string) (InfoHash, error) {
	var h InfoHash
	if len(s) != 2*IDLength {
		return h, fmt.Errorf("krpc: info-hash hex must be %d characters, got %d", 2*IDLength, len(s))
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return h, fmt.Errorf("krpc: invalid info-hash hex: %w", err)
	}
	copy(h[:], b)
	return h, nil
}

// Bytes returns a copy of the raw 20 bytes.
func (h InfoHash) Bytes() []byte {
	b := make([]byte, IDLength)
	copy(b, h[:])
	return b
}

// String returns the digest in lowercase hex. The dht storage layer
// keys its maps with this form.
func (h InfoHash) String() string {
	return hex.EncodeToString(h[:])
}
