package utils

import (
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAccessTokenRoundTrip(t *testing.T) {
	tok, err := NewAccessToken("s3cret", 42, "ADMIN", 5)
	require.NoError(t, err)

	claims, err := ParseAccessToken("s3cret", tok.Token)
	require.NoError(t, err)
	assert.Equal(t, uint64(42), claims.UserID)
	assert.Equal(t, "ADMIN", claims.Role)

	_, err = ParseAccessToken("other", tok.Token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestExpiredAccessTokenRejected(t *testing.T) {
	tok, err := NewAccessToken("s3cret", 1, "STAFF", -1)
	require.NoError(t, err)
	_, err = ParseAccessToken("s3cret", tok.Token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestTicketTokenVerify(t *testing.T) {
	raw, hash, err := NewTicketToken()
	require.NoError(t, err)
	assert.Len(t, raw, 64)
	assert.Equal(t, HashToken(raw), hash)

	assert.True(t, VerifyTicketToken(raw, hash))
	assert.False(t, VerifyTicketToken(raw+"x", hash))
	assert.False(t, VerifyTicketToken("", hash))

	raw2, hash2, err := NewTicketToken()
	require.NoError(t, err)
	assert.NotEqual(t, raw, raw2)
	assert.False(t, VerifyTicketToken(raw, hash2))
}

func TestOrderNumberFormat(t *testing.T) {
	now := time.Date(2025, 3, 9, 23, 30, 0, 0, time.UTC)
	n, err := NewOrderNumber(now)
	require.NoError(t, err)
	assert.Regexp(t, regexp.MustCompile(`^TDX-20250309-[ABCDEFGHJKLMNPQRSTUVWXYZ2-9]{6}$`), n)
	assert.False(t, strings.ContainsAny(n[13:], "0O1I"))
}

func TestTicketQRDataURL(t *testing.T) {
	url, err := TicketQRDataURL(TicketQRPayload{OrderNumber: "TDX-20250309-ABCDEF", EventID: "evt", Timestamp: 1})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(url, "data:image/jpeg;base64,"))
	assert.Greater(t, len(url), 100)
}

func TestParseDevice(t *testing.T) {
	d := ParseDevice("Mozilla/5.0 (iPhone; CPU iPhone OS 16_0 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/16.0 Mobile/15E148 Safari/604.1")
	assert.Equal(t, "mobile", d.DeviceType)
	assert.NotEqual(t, "unknown", d.Browser)

	d = ParseDevice("Mozilla/5.0 (iPad; CPU OS 16_0 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/16.0 Mobile/15E148 Safari/604.1")
	assert.Equal(t, "tablet", d.DeviceType)

	d = ParseDevice("Mozilla/5.0 (Linux; Android 13; SM-X700) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/116.0.0.0 Safari/537.36")
	assert.Equal(t, "tablet", d.DeviceType)

	d = ParseDevice("Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/116.0.0.0 Safari/537.36")
	assert.Equal(t, "desktop", d.DeviceType)

	d = ParseDevice("Googlebot/2.1 (+http://www.google.com/bot.html)")
	assert.Equal(t, "bot", d.DeviceType)

	d = ParseDevice("")
	assert.Equal(t, "unknown", d.DeviceType)
}

func TestPasswordHash(t *testing.T) {
	h, err := HashPassword("hunter22", 4)
	require.NoError(t, err)
	assert.True(t, VerifyPassword(h, "hunter22"))
	assert.False(t, VerifyPassword(h, "hunter23"))
}
