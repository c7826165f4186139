package notify

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"sync"
	"time"

	"storefront/internal/domain/model"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

const EventOrderConfirmed = "order.confirmed"

var (
	ErrInboxFull = errors.New("notify: inbox full")
	ErrClosed    = errors.New("notify: closed")
)

// kafka.Writer のうち使う分だけ（テストで差し替える）
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Envelope はトピックに流すメッセージ本体
type Envelope struct {
	EventID    string          `json:"event_id"`
	EventType  string          `json:"event_type"`
	OccurredAt time.Time       `json:"occurred_at"`
	Payload    json.RawMessage `json:"payload"`
}

type orderConfirmedPayload struct {
	OrderID  int64             `json:"order_id"`
	UserID   int64             `json:"user_id"`
	Total    int64             `json:"total"`
	Currency string            `json:"currency"`
	PaidAt   *time.Time        `json:"paid_at"`
	Items    []model.OrderItem `json:"items"`
}

// KafkaNotifier は注文確定イベントを非同期で publish する。
// OrderConfirmed は inbox に積むだけで、送信は Start のループが行う。
type KafkaNotifier struct {
	w      messageWriter
	inbox  chan kafka.Message
	done   chan struct{}
	logger *zap.Logger
	now    func() time.Time

	mu     sync.RWMutex
	closed bool
}

func NewKafkaNotifier(brokers []string, topic string, buf int, logger *zap.Logger) *KafkaNotifier {
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
	}
	return newKafkaNotifier(w, buf, logger)
}

func newKafkaNotifier(w messageWriter, buf int, logger *zap.Logger) *KafkaNotifier {
	if buf <= 0 {
		buf = 256
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &KafkaNotifier{
		w:      w,
		inbox:  make(chan kafka.Message, buf),
		done:   make(chan struct{}),
		logger: logger.Named("notify.kafka"),
		now:    time.Now,
	}
}

func (n *KafkaNotifier) OrderConfirmed(ctx context.Context, order model.Order) error {
	payload, err := json.Marshal(orderConfirmedPayload{
		OrderID:  order.ID,
		UserID:   order.UserID,
		Total:    order.Total,
		Currency: order.Currency,
		PaidAt:   order.PaidAt,
		Items:    order.Items,
	})
	if err != nil {
		return err
	}
	value, err := json.Marshal(Envelope{
		EventID:    uuid.NewString(),
		EventType:  EventOrderConfirmed,
		OccurredAt: n.now().UTC(),
		Payload:    payload,
	})
	if err != nil {
		return err
	}
	msg := kafka.Message{
		Key:   []byte(strconv.FormatInt(order.ID, 10)),
		Value: value,
		Time:  n.now(),
	}

	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.closed {
		return ErrClosed
	}
	select {
	case n.inbox <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		return ErrInboxFull
	}
}

// Start は送信ループを回す。Close で inbox を閉じると残りを流して終わる。
func (n *KafkaNotifier) Start() {
	go func() {
		defer close(n.done)
		for m := range n.inbox {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			if err := n.w.WriteMessages(ctx, m); err != nil {
				n.logger.Error("publish failed", zap.ByteString("key", m.Key), zap.Error(err))
			}
			cancel()
		}
		if err := n.w.Close(); err != nil {
			n.logger.Warn("writer close failed", zap.Error(err))
		}
	}()
}

// Close は新規受付を止めて、送信ループが終わるまで待つ。
func (n *KafkaNotifier) Close(ctx context.Context) error {
	n.mu.Lock()
	if !n.closed {
		n.closed = true
		close(n.inbox)
	}
	n.mu.Unlock()

	select {
	case <-n.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
