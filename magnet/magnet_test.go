package magnet

import (
	"encoding/base32"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const hexDigest = "c12fe1c06bba254a9dc9f519b335aa7c1367a88a"

func TestParseInfoHashHex(t *testing.T) {
	hash, err := ParseInfoHash("magnet:?xt=urn:btih:" + hexDigest + "&dn=example")
	require.NoError(t, err)
	assert.Equal(t, hexDigest, hash.String())
}

func TestParseInfoHashUppercaseHex(t *testing.T) {
	hash, err := ParseInfoHash("magnet:?xt=urn:btih:C12FE1C06BBA254A9DC9F519B335AA7C1367A88A")
	require.NoError(t, err)
	assert.Equal(t, hexDigest, hash.String())
}

func TestParseInfoHashBase32(t *testing.T) {
	raw := make([]byte, 20)
	for i := range raw {
		raw[i] = byte(i)
	}
	digest := base32.StdEncoding.EncodeToString(raw)
	require.Len(t, digest, 32)

	hash, err := ParseInfoHash("magnet:?xt=urn:btih:" + digest)
	require.NoError(t, err)
	assert.Equal(t, raw, hash.Bytes())
}

func TestParseInfoHashSkipsForeignTopics(t *testing.T) {
	uri := "magnet:?xt=urn:sha1:AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA&xt=urn:btih:" + hexDigest
	hash, err := ParseInfoHash(uri)
	require.NoError(t, err)
	assert.Equal(t, hexDigest, hash.String())
}

func TestParseInfoHashErrors(t *testing.T) {
	tests := []struct {
		name string
		uri  string
	}{
		{"wrong scheme", "https://example.com/?xt=urn:btih:" + hexDigest},
		{"no xt", "magnet:?dn=example"},
		{"bad digest length", "magnet:?xt=urn:btih:abcdef"},
		{"bad hex", "magnet:?xt=urn:btih:zz2fe1c06bba254a9dc9f519b335aa7c1367a88a"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseInfoHash(tt.uri)
			assert.Error(t, err)
		})
	}
}
