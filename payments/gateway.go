// Package payments charges stored payment credentials through an external
// gateway. Tokenization and 3-D Secure live on the gateway side.
package payments

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

type ChargeRequest struct {
	Reference    string
	Amount       decimal.Decimal
	Currency     string
	PaymentToken string
	Description  string
}

type ChargeResult struct {
	TransactionID string
	Status        string
}

// Gateway charges a saved credential. A decline is returned as
// *DeclinedError; every other error is a transport or gateway failure.
type Gateway interface {
	Name() string
	Charge(ctx context.Context, req ChargeRequest) (*ChargeResult, error)
}

type DeclinedError struct {
	Code   string
	Reason string
}

func (e *DeclinedError) Error() string {
	if e.Code == "" {
		return "payment declined: " + e.Reason
	}
	return fmt.Sprintf("payment declined (%s): %s", e.Code, e.Reason)
}

func IsDeclined(err error) bool {
	var d *DeclinedError
	return errors.As(err, &d)
}
