package domain

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// OrderIDBytes is the number of random bytes behind an order id. The id
// itself is twice as long once hex encoded.
const OrderIDBytes = 32

// NewOrderID returns 32 cryptographically random bytes as 64 lowercase
// hex characters.
func NewOrderID() (string, error) {
	b := make([]byte, OrderIDBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate order id: %w", err)
	}
	return hex.EncodeToString(b), nil
}
