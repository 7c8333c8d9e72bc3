package webhooks

import (
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/divuzki/cartlogs-backend/api/responses"
	"github.com/divuzki/cartlogs-backend/internal/gateways"
	"github.com/divuzki/cartlogs-backend/internal/notify"
	"github.com/divuzki/cartlogs-backend/internal/reconcile"
	pkgerrors "github.com/divuzki/cartlogs-backend/pkg/errors"
	"github.com/divuzki/cartlogs-backend/pkg/logger"
	"github.com/divuzki/cartlogs-backend/pkg/metrics"
)

// PaymentWebhook handles one gateway's payment deliveries: verify the
// signature against the raw body, normalize, then reconcile. Dispute events
// only notify the operator and never enter reconciliation.
func PaymentWebhook(adapter gateways.Adapter, svc reconcile.Service, notifier notify.Notifier, m *metrics.WebhookMetrics, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if adapter == nil || svc == nil || notifier == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "webhook pipeline unavailable"))
			return
		}

		gateway := adapter.Gateway().String()
		if logg != nil {
			ctx = logg.WithGateway(ctx, gateway)
		}
		m.IncReceived(gateway)
		start := time.Now()
		defer func() {
			m.ObserveDuration(gateway, time.Since(start))
		}()

		body, err := io.ReadAll(r.Body)
		if err != nil {
			m.IncRejected(gateway, "read_body")
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read request body"))
			return
		}

		if err := adapter.Verify(&gateways.WebhookRequest{Body: body, Header: r.Header}); err != nil {
			m.IncRejected(gateway, "signature")
			responses.WriteError(ctx, logg, w, err)
			return
		}

		event, err := adapter.Normalize(body)
		if err != nil {
			m.IncRejected(gateway, normalizeReason(err))
			responses.WriteError(ctx, logg, w, err)
			return
		}

		if event.OperatorNotice {
			notifier.NotifyOperator(ctx, notify.Notice{
				Kind:    notify.KindDispute,
				Subject: fmt.Sprintf("Dispute event from %s", gateway),
				Body:    fmt.Sprintf("Received %s for reference %q.", event.EventType, event.Reference),
				Fields: map[string]string{
					"gateway":   gateway,
					"event":     event.EventType,
					"reference": event.Reference,
				},
			})
			responses.WriteSuccess(w, map[string]string{"status": "acknowledged"})
			return
		}

		result, err := svc.Process(ctx, event)
		if err != nil {
			m.IncRejected(gateway, processReason(err))
			responses.WriteError(ctx, logg, w, err)
			return
		}

		if result.Duplicate {
			m.IncDuplicate(gateway)
		} else {
			m.IncReconciled(gateway, event.Outcome.String())
		}

		if logg != nil {
			logg.Info(ctx, fmt.Sprintf("%s delivery for %s processed", gateway, event.Reference))
		}
		responses.WriteSuccess(w, map[string]any{
			"reference": event.Reference,
			"duplicate": result.Duplicate,
		})
	}
}

func normalizeReason(err error) string {
	if pkgerrors.Is(err, pkgerrors.CodeUnsupportedEvent) {
		return "unsupported_event"
	}
	return "invalid_payload"
}

func processReason(err error) string {
	switch {
	case pkgerrors.Is(err, pkgerrors.CodeNotFound):
		return "unmatched_reference"
	case pkgerrors.Is(err, pkgerrors.CodeConflict):
		return "in_flight"
	default:
		return "reconcile_error"
	}
}
