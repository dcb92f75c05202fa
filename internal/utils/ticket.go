package utils

import (
	"crypto/rand"
	"crypto/subtle"
	"math/big"
	"time"
)

// orderNumberAlphabet omits 0, O, 1 and I so printed numbers can be read
// back over the phone.
const orderNumberAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// NewTicketToken returns a fresh ticket access token and the hash to
// store.  The raw value is only ever placed in the ticket URL.
func NewTicketToken() (raw, hash string, err error) {
	raw, err = randomHex(32)
	if err != nil {
		return "", "", err
	}
	return raw, HashToken(raw), nil
}

// VerifyTicketToken compares raw against a stored hash in constant time.
func VerifyTicketToken(raw, storedHash string) bool {
	if raw == "" || storedHash == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(HashToken(raw)), []byte(storedHash)) == 1
}

// NewOrderNumber formats TDX-YYYYMMDD-XXXXXX using the UTC date of now.
func NewOrderNumber(now time.Time) (string, error) {
	suffix := make([]byte, 6)
	max := big.NewInt(int64(len(orderNumberAlphabet)))
	for i := range suffix {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		suffix[i] = orderNumberAlphabet[n.Int64()]
	}
	return "TDX-" + now.UTC().Format("20060102") + "-" + string(suffix), nil
}
