package httpx

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSign_DeterministicAcrossKeyOrder(t *testing.T) {
	a := url.Values{}
	a.Set("symbol", "BTCUSDT")
	a.Set("side", "BUY")
	a.Set("timestamp", "1000")

	b := url.Values{}
	b.Set("timestamp", "1000")
	b.Set("symbol", "BTCUSDT")
	b.Set("side", "BUY")

	sigA := Sign("secret", a)
	sigB := Sign("secret", b)

	assert.Equal(t, sigA, sigB, "signature must not depend on map iteration order")
	assert.Len(t, sigA, 64, "HMAC-SHA256 hex digest is 64 chars")
}

func TestSign_DifferentSecretsDiffer(t *testing.T) {
	params := url.Values{"a": {"1"}}
	assert.NotEqual(t, Sign("secret1", params), Sign("secret2", params))
}
