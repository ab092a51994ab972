package invoice

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/Additional-Code/invoicedesk/internal/entity"
)

// InvoiceCreatedEvent is emitted when a new invoice is persisted.
type InvoiceCreatedEvent struct {
	ID         string `json:"id"`
	CustomerID string `json:"customer_id"`
	Amount     int64  `json:"amount"`
	Status     string `json:"status"`
	Date       string `json:"date"`
}

// publishInvoiceCreated is best effort; the invoice is already stored.
func (s *Service) publishInvoiceCreated(ctx context.Context, inv *entity.Invoice) {
	if !s.messaging.enabled || s.publisher == nil {
		return
	}
	event := InvoiceCreatedEvent{
		ID:         inv.ID,
		CustomerID: inv.CustomerID,
		Amount:     inv.Amount,
		Status:     string(inv.Status),
		Date:       inv.Date,
	}
	payload, err := json.Marshal(event)
	if err != nil {
		s.logger.Error("marshal invoice created", zap.Error(err))
		return
	}
	if err := s.publisher.Publish(ctx, []byte("invoice-"+inv.ID), payload); err != nil {
		s.logger.Error("publish invoice created", zap.String("id", inv.ID), zap.Error(err))
	}
}
