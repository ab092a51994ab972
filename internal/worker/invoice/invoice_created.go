package invoice

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Additional-Code/invoicedesk/internal/config"
	"github.com/Additional-Code/invoicedesk/internal/messaging"
	"github.com/Additional-Code/invoicedesk/internal/money"
	invoicesvc "github.com/Additional-Code/invoicedesk/internal/service/invoice"
	"github.com/Additional-Code/invoicedesk/internal/worker"
)

var workerTracer = otel.Tracer("github.com/Additional-Code/invoicedesk/worker/invoice")

// Module registers invoice-related worker handlers.
var Module = fx.Module("worker_invoice",
	fx.Provide(
		fx.Annotate(
			NewInvoiceCreatedHandler,
			fx.ResultTags(`group:"worker.handlers"`),
		),
	),
)

// NewInvoiceCreatedHandler sets up a worker handler that records invoice creations.
func NewInvoiceCreatedHandler(logger *zap.Logger, cfg config.Config) worker.HandlerRegistration {
	handler := func(ctx context.Context, msg messaging.Message) error {
		_, span := workerTracer.Start(ctx, "worker.invoices.process", trace.WithAttributes(
			attribute.String("messaging.topic", msg.Topic),
			attribute.String("messaging.key", string(msg.Key)),
		))
		defer span.End()

		var event invoicesvc.InvoiceCreatedEvent
		if err := json.Unmarshal(msg.Value, &event); err != nil {
			logger.Error("failed to decode invoice created", zap.Error(err))

			span.RecordError(err)
			span.SetStatus(codes.Error, "decode error")
			return fmt.Errorf("decode invoice created: %w", err)
		}
		if event.ID == "" {
			err := errors.New("invoice created event without id")
			span.RecordError(err)
			span.SetStatus(codes.Error, "invalid event")
			return err
		}
		span.SetAttributes(attribute.String("invoice.id", event.ID))

		logger.Info("invoice created event processed",
			zap.String("id", event.ID),
			zap.String("customer_id", event.CustomerID),
			zap.String("amount", money.FormatCents(event.Amount)),
			zap.String("status", event.Status),
			zap.String("date", event.Date),
		)

		return nil
	}

	return worker.HandlerRegistration{
		Topic:   cfg.Messaging.Kafka.Topic,
		Handler: handler,
	}
}
