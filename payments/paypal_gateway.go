package payments

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// PayPalGateway charges vaulted PayPal payment tokens through the Orders v2
// API. The charge reference doubles as the PayPal-Request-Id so a retried
// request is never captured twice.
type PayPalGateway struct {
	apiBase string
	client  *http.Client
	tokens  *tokenSource
	log     *zap.Logger
}

func NewPayPalGateway(apiBase, clientID, clientSecret string, log *zap.Logger) *PayPalGateway {
	apiBase = strings.TrimRight(apiBase, "/")
	client := &http.Client{Timeout: 30 * time.Second}
	log = log.Named("payments.paypal")
	return &PayPalGateway{
		apiBase: apiBase,
		client:  client,
		tokens:  newTokenSource(apiBase+"/v1/oauth2/token", clientID, clientSecret, client, log),
		log:     log,
	}
}

func (g *PayPalGateway) Name() string { return "paypal" }

type paypalOrder struct {
	ID            string `json:"id"`
	Status        string `json:"status"`
	PurchaseUnits []struct {
		Payments struct {
			Captures []struct {
				ID            string `json:"id"`
				Status        string `json:"status"`
				StatusDetails struct {
					Reason string `json:"reason"`
				} `json:"status_details"`
			} `json:"captures"`
		} `json:"payments"`
	} `json:"purchase_units"`
}

type paypalError struct {
	Name    string `json:"name"`
	Message string `json:"message"`
	Details []struct {
		Issue       string `json:"issue"`
		Description string `json:"description"`
	} `json:"details"`
}

func (g *PayPalGateway) Charge(ctx context.Context, req ChargeRequest) (*ChargeResult, error) {
	accessToken, err := g.tokens.Token(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "paypal auth")
	}

	payload := map[string]interface{}{
		"intent": "CAPTURE",
		"purchase_units": []map[string]interface{}{
			{
				"reference_id": req.Reference,
				"description":  req.Description,
				"amount": map[string]string{
					"currency_code": req.Currency,
					"value":         req.Amount.StringFixed(2),
				},
			},
		},
		"payment_source": map[string]interface{}{
			"paypal": map[string]interface{}{
				"vault_id": req.PaymentToken,
				"stored_credential": map[string]string{
					"payment_initiator": "MERCHANT",
					"usage":             "SUBSEQUENT",
				},
			},
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, errors.Wrap(err, "encode paypal order")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.apiBase+"/v2/checkout/orders", bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrap(err, "build paypal order request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", fmt.Sprintf("Bearer %s", accessToken))
	httpReq.Header.Set("PayPal-Request-Id", req.Reference)
	httpReq.Header.Set("Prefer", "return=representation")

	resp, err := g.client.Do(httpReq)
	if err != nil {
		return nil, errors.Wrap(err, "paypal order request")
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "read paypal response")
	}

	switch {
	case resp.StatusCode == http.StatusUnprocessableEntity:
		return nil, declinedFromPayPal(respBody)
	case resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated:
		return nil, errors.Errorf("paypal order failed with %s: %s", resp.Status, truncate(string(respBody), 200))
	}

	var order paypalOrder
	if err := json.Unmarshal(respBody, &order); err != nil {
		return nil, errors.Wrap(err, "decode paypal order")
	}
	if len(order.PurchaseUnits) == 0 || len(order.PurchaseUnits[0].Payments.Captures) == 0 {
		return nil, errors.Errorf("paypal order %s has no capture (status %s)", order.ID, order.Status)
	}
	capture := order.PurchaseUnits[0].Payments.Captures[0]
	switch capture.Status {
	case "COMPLETED", "PENDING":
	case "DECLINED", "FAILED":
		return nil, &DeclinedError{Code: capture.Status, Reason: strings.ToLower(capture.StatusDetails.Reason)}
	default:
		return nil, errors.Errorf("paypal capture %s in unexpected status %s", capture.ID, capture.Status)
	}

	g.log.Info("paypal charge captured", zap.String("reference", req.Reference), zap.String("capture_id", capture.ID))
	return &ChargeResult{TransactionID: capture.ID, Status: capture.Status}, nil
}

func declinedFromPayPal(body []byte) error {
	var pe paypalError
	if err := json.Unmarshal(body, &pe); err != nil || len(pe.Details) == 0 {
		return &DeclinedError{Reason: "payment was declined"}
	}
	d := pe.Details[0]
	reason := d.Description
	if reason == "" {
		reason = pe.Message
	}
	return &DeclinedError{Code: d.Issue, Reason: reason}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
