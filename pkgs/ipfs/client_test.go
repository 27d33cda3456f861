package ipfs

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestVerifyZip(t *testing.T) {
	valid := []byte{0x50, 0x4B, 0x03, 0x04, 0x14, 0x00}
	assert.NoError(t, VerifyZip(valid))

	assert.ErrorIs(t, VerifyZip([]byte("PK\x05\x06")), ErrNotAZip, "empty-archive EOCD magic is not a local header")
	assert.ErrorIs(t, VerifyZip([]byte{0x1f, 0x8b, 0x08}), ErrNotAZip, "gzip is not a zip")
	assert.ErrorIs(t, VerifyZip(nil), ErrNotAZip)
	assert.ErrorIs(t, VerifyZip([]byte{0x50, 0x4B}), ErrNotAZip, "truncated magic")
}

func TestNewClientNormalizesEndpoints(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"/ip4/127.0.0.1/tcp/5001", "http://127.0.0.1:5001"},
		{"/dns/ipfs.example.com/tcp/8080/http", "http://ipfs.example.com:8080"},
		{"http://10.0.0.5:5001", "http://10.0.0.5:5001"},
	}
	assert.Equal(t, "http://127.0.0.1:5001", normalizeEndpoint(""), "default endpoint")
	for _, tc := range cases {
		assert.Equal(t, tc.want, normalizeEndpoint(tc.in), tc.in)
	}
}
