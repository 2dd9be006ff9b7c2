package payments

import (
	"context"
	"strconv"

	midtrans "github.com/midtrans/midtrans-go"
	"github.com/midtrans/midtrans-go/coreapi"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// coreCharger is the slice of coreapi.Client the gateway calls.
type coreCharger interface {
	ChargeTransaction(req *coreapi.ChargeReq) (*coreapi.ChargeResponse, *midtrans.Error)
}

// MidtransGateway charges saved card tokens through the Midtrans Core API.
// Midtrans settles in IDR, which has no minor unit.
type MidtransGateway struct {
	core coreCharger
	log  *zap.Logger
}

func NewMidtransGateway(serverKey string, production bool, log *zap.Logger) *MidtransGateway {
	var c coreapi.Client
	if production {
		c.New(serverKey, midtrans.Production)
	} else {
		c.New(serverKey, midtrans.Sandbox)
	}
	return &MidtransGateway{core: &c, log: log.Named("payments.midtrans")}
}

func (g *MidtransGateway) Name() string { return "midtrans" }

type midtransOutcome struct {
	resp *coreapi.ChargeResponse
	err  *midtrans.Error
}

// Charge runs the SDK call in its own goroutine because the client takes no
// context; an abandoned call is finished by the SDK's own HTTP timeout.
func (g *MidtransGateway) Charge(ctx context.Context, req ChargeRequest) (*ChargeResult, error) {
	if req.Currency != "IDR" {
		return nil, errors.Errorf("midtrans cannot charge %s", req.Currency)
	}
	charge := &coreapi.ChargeReq{
		PaymentType: coreapi.PaymentTypeCreditCard,
		TransactionDetails: midtrans.TransactionDetails{
			OrderID:  req.Reference,
			GrossAmt: req.Amount.Round(0).IntPart(),
		},
		CreditCard: &coreapi.CreditCardDetails{
			TokenID: req.PaymentToken,
		},
	}

	done := make(chan midtransOutcome, 1)
	go func() {
		resp, err := g.core.ChargeTransaction(charge)
		done <- midtransOutcome{resp: resp, err: err}
	}()

	var out midtransOutcome
	select {
	case <-ctx.Done():
		return nil, errors.Wrap(ctx.Err(), "midtrans charge")
	case out = <-done:
	}

	if out.err != nil {
		if code := out.err.GetStatusCode(); code >= 400 && code < 500 {
			return nil, &DeclinedError{Code: strconv.Itoa(code), Reason: out.err.GetMessage()}
		}
		return nil, errors.Errorf("midtrans charge failed: %s", out.err.GetMessage())
	}
	if out.resp == nil {
		return nil, errors.New("midtrans returned an empty response")
	}
	if out.resp.StatusCode != "200" || out.resp.FraudStatus == "deny" {
		return nil, &DeclinedError{Code: out.resp.StatusCode, Reason: out.resp.StatusMessage}
	}

	g.log.Info("midtrans charge captured",
		zap.String("reference", req.Reference),
		zap.String("transaction_id", out.resp.TransactionID))
	return &ChargeResult{TransactionID: out.resp.TransactionID, Status: out.resp.TransactionStatus}, nil
}
