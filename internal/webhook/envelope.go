package webhook

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/btcpayserver/shopify-bridge/internal/domain"
)

// Header names used by the commerce platform on webhook deliveries.
const (
	HeaderSignature = "X-Shopify-Hmac-Sha256"
	HeaderTopic     = "X-Shopify-Topic"
)

// maxBodyBytes caps webhook payload size. Refund notifications are small;
// anything larger is hostile or broken.
const maxBodyBytes = 1 << 20

var (
	ErrMissingSignature = errors.New("missing signature header")
	ErrMissingTopic     = errors.New("missing topic header")
)

// Envelope is a raw webhook delivery: the exact body bytes plus the headers
// needed to authenticate and route it. The body is kept raw so signature
// verification operates on what was actually sent.
type Envelope struct {
	Body      []byte
	Signature string
	Topic     string
}

// ReadEnvelope drains the request body and captures the webhook headers.
// It fails only on transport-level problems; signature validity is the
// caller's decision via Verify.
func ReadEnvelope(r *http.Request) (*Envelope, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read webhook body: %w", err)
	}
	env := &Envelope{
		Body:      body,
		Signature: r.Header.Get(HeaderSignature),
		Topic:     r.Header.Get(HeaderTopic),
	}
	if env.Signature == "" {
		return nil, ErrMissingSignature
	}
	if env.Topic == "" {
		return nil, ErrMissingTopic
	}
	return env, nil
}

// Verify authenticates the envelope against the shared webhook secret.
func (e *Envelope) Verify(secret string) bool {
	return VerifySignature(e.Body, e.Signature, secret)
}

// DecodeRefund parses the envelope body as a refund notification. Call only
// after Verify.
func (e *Envelope) DecodeRefund() (*domain.RefundNotification, error) {
	var n domain.RefundNotification
	if err := json.Unmarshal(e.Body, &n); err != nil {
		return nil, fmt.Errorf("decode refund payload: %w", err)
	}
	if n.OrderID == 0 {
		return nil, errors.New("refund payload does not contain order_id")
	}
	return &n, nil
}
