package domain

import (
	"fmt"
	"time"
)

// InvalidConfirmationCode is the literal written into malformed sales.
const InvalidConfirmationCode = "0"

// Sale is the synthetic payment record pushed to the payments topic.
// Field names follow the payments value schema.
type Sale struct {
	OrderID          int64     `json:"order_id"`
	ProductID        int       `json:"product_id"`
	CustomerID       int       `json:"customer_id"`
	Timestamp        time.Time `json:"ts"`
	CardNumber       string    `json:"cc_number"`
	Expiration       string    `json:"expiration"`
	Amount           float64   `json:"amount"`
	ConfirmationCode string    `json:"confirmation_code"`
}

// Malformed reports whether the sale carries the injected invalid confirmation code.
func (s Sale) Malformed() bool {
	return s.ConfirmationCode == InvalidConfirmationCode
}

func (s Sale) String() string {
	return fmt.Sprintf("{order_id: %d, product_id: %d, customer_id: %d, ts: %s, cc_number: %s, expiration: %s, amount: %.2f, confirmation_code: %s}",
		s.OrderID, s.ProductID, s.CustomerID, s.Timestamp.Format(time.RFC3339Nano),
		s.CardNumber, s.Expiration, s.Amount, s.ConfirmationCode)
}
