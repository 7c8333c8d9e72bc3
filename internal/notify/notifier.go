package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/divuzki/cartlogs-backend/pkg/config"
	"github.com/divuzki/cartlogs-backend/pkg/logger"
)

// Kind classifies operator notices for routing and log filtering.
type Kind string

const (
	KindDispute           Kind = "dispute"
	KindPartialAllocation Kind = "partial_allocation"
	KindStockExhausted    Kind = "stock_exhausted"
	KindManualTransfer    Kind = "manual_transfer"
)

// Notice is an operator-facing message. Body is plain text; the sender owns
// formatting.
type Notice struct {
	Kind    Kind
	Subject string
	Body    string
	Fields  map[string]string
}

// Sender delivers a notice to the operator channel.
type Sender interface {
	Send(ctx context.Context, to string, notice Notice) error
}

// Notifier dispatches operator notices without blocking the calling request.
// Delivery failures are logged, never propagated: a lost email must not fail
// a settlement.
type Notifier interface {
	NotifyOperator(ctx context.Context, notice Notice)
}

type notifier struct {
	sender  Sender
	log     *logger.Logger
	to      string
	timeout time.Duration
}

// NewNotifier wires the async dispatcher. A nil sender falls back to
// log-only delivery.
func NewNotifier(cfg config.NotificationsConfig, sender Sender, log *logger.Logger) (Notifier, error) {
	if log == nil {
		return nil, fmt.Errorf("notifier requires a logger")
	}
	if sender == nil {
		sender = NewLogSender(log)
	}
	return &notifier{
		sender:  sender,
		log:     log,
		to:      cfg.OperatorEmail,
		timeout: 10 * time.Second,
	}, nil
}

func (n *notifier) NotifyOperator(ctx context.Context, notice Notice) {
	// Detach from the request context so delivery survives the response.
	fields := map[string]any{"notice_kind": string(notice.Kind), "subject": notice.Subject}
	for k, v := range notice.Fields {
		fields[k] = v
	}
	detached := n.log.WithFields(context.Background(), fields)

	go func() {
		sendCtx, cancel := context.WithTimeout(detached, n.timeout)
		defer cancel()
		if err := n.sender.Send(sendCtx, n.to, notice); err != nil {
			n.log.Error(detached, "operator notice delivery failed", err)
			return
		}
		n.log.Info(detached, "operator notice delivered")
	}()
}

// LogSender writes notices to the structured log. Used in dev and as the
// fallback when no mail transport is configured.
type LogSender struct {
	log *logger.Logger
}

func NewLogSender(log *logger.Logger) *LogSender {
	return &LogSender{log: log}
}

func (s *LogSender) Send(ctx context.Context, to string, notice Notice) error {
	ctx = s.log.WithFields(ctx, map[string]any{
		"to":      to,
		"subject": notice.Subject,
		"body":    notice.Body,
	})
	s.log.Info(ctx, "operator notice")
	return nil
}
