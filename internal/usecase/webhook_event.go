package usecase

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// 決済プロバイダのイベント種別
const (
	EventCheckoutCompleted      = "checkout.session.completed"
	EventPaymentIntentSucceeded = "payment_intent.succeeded"
	EventCheckoutExpired        = "checkout.session.expired"
	EventPaymentIntentFailed    = "payment_intent.payment_failed"
)

const DefaultSignatureTolerance = 5 * time.Minute

var (
	ErrInvalidSignature = errors.New("invalid webhook signature")
	ErrInvalidPayload   = errors.New("invalid webhook payload")
)

// WebhookEvent はプロバイダ非依存のイベント
type WebhookEvent struct {
	ID              string
	Type            string
	OrderID         int64
	Amount          int64
	PaymentIntentID string
	RawPayload      []byte
}

func IsSuccessEvent(eventType string) bool {
	return eventType == EventCheckoutCompleted || eventType == EventPaymentIntentSucceeded
}

func IsFailureEvent(eventType string) bool {
	return eventType == EventCheckoutExpired || eventType == EventPaymentIntentFailed
}

type rawEvent struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object struct {
			ID            string `json:"id"`
			AmountTotal   *int64 `json:"amount_total"`
			Amount        *int64 `json:"amount"`
			PaymentIntent string `json:"payment_intent"`
			Metadata      struct {
				OrderID flexInt `json:"orderId"`
			} `json:"metadata"`
		} `json:"object"`
	} `json:"data"`
}

// metadata の値は文字列で来ることが多い
type flexInt int64

func (f *flexInt) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		return nil
	}
	s := string(b)
	if b[0] == '"' {
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return err
	}
	*f = flexInt(n)
	return nil
}

// ParseWebhookEvent は受信ボディからイベントを取り出す
func ParseWebhookEvent(payload []byte) (WebhookEvent, error) {
	var raw rawEvent
	if err := json.Unmarshal(payload, &raw); err != nil {
		return WebhookEvent{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if strings.TrimSpace(raw.ID) == "" || strings.TrimSpace(raw.Type) == "" {
		return WebhookEvent{}, fmt.Errorf("%w: id and type are required", ErrInvalidPayload)
	}

	obj := raw.Data.Object
	evt := WebhookEvent{
		ID:              raw.ID,
		Type:            raw.Type,
		OrderID:         int64(obj.Metadata.OrderID),
		PaymentIntentID: obj.PaymentIntent,
		RawPayload:      payload,
	}
	switch {
	case obj.AmountTotal != nil:
		evt.Amount = *obj.AmountTotal
	case obj.Amount != nil:
		evt.Amount = *obj.Amount
	}
	//payment_intent イベントは object 自体が intent
	if evt.PaymentIntentID == "" && strings.HasPrefix(raw.Type, "payment_intent.") {
		evt.PaymentIntentID = obj.ID
	}
	return evt, nil
}

// VerifySignature は "t=<unix>,v1=<hex>" 形式の署名ヘッダを検証する。
// 署名対象は t + "." + body の HMAC-SHA256。
func VerifySignature(payload []byte, header string, secret string, now time.Time, tolerance time.Duration) error {
	if secret == "" {
		return fmt.Errorf("%w: secret not configured", ErrInvalidSignature)
	}
	if tolerance <= 0 {
		tolerance = DefaultSignatureTolerance
	}

	var ts string
	var sigs []string
	for _, part := range strings.Split(header, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch k {
		case "t":
			ts = v
		case "v1":
			sigs = append(sigs, v)
		}
	}
	if ts == "" || len(sigs) == 0 {
		return fmt.Errorf("%w: malformed header", ErrInvalidSignature)
	}

	unix, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return fmt.Errorf("%w: bad timestamp", ErrInvalidSignature)
	}
	age := now.Sub(time.Unix(unix, 0))
	if age > tolerance || age < -tolerance {
		return fmt.Errorf("%w: timestamp outside tolerance", ErrInvalidSignature)
	}

	expected := ComputeSignature(payload, ts, secret)
	for _, s := range sigs {
		got, err := hex.DecodeString(s)
		if err != nil {
			continue
		}
		if hmac.Equal(got, expected) {
			return nil
		}
	}
	return fmt.Errorf("%w: no matching signature", ErrInvalidSignature)
}

func ComputeSignature(payload []byte, timestamp string, secret string) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(payload)
	return mac.Sum(nil)
}

// テストやローカル送信用のヘッダ
func SignatureHeader(payload []byte, secret string, at time.Time) string {
	ts := strconv.FormatInt(at.Unix(), 10)
	return "t=" + ts + ",v1=" + hex.EncodeToString(ComputeSignature(payload, ts, secret))
}
