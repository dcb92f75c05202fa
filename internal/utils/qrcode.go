package utils

import (
	"bytes"
	"encoding/base64"
	"encoding/json"

	"github.com/yeqown/go-qrcode"
)

// TicketQRPayload is the JSON document encoded into a ticket's QR image.
// Gate scanners look the order up by number.
type TicketQRPayload struct {
	OrderNumber string `json:"orderNumber"`
	EventID     string `json:"eventId"`
	Timestamp   int64  `json:"timestamp"`
}

// TicketQRDataURL renders payload as a JPEG QR code and returns it as a
// data URL that can be embedded directly in mail and on the ticket page.
func TicketQRDataURL(payload TicketQRPayload) (string, error) {
	text, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	qrc, err := qrcode.New(string(text))
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := qrc.SaveTo(&buf); err != nil {
		return "", err
	}
	return "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}
