package entity

import (
	"github.com/uptrace/bun"
)

// InvoiceStatus enumerates the lifecycle states an invoice can be stored with.
type InvoiceStatus string

const (
	InvoiceStatusPending InvoiceStatus = "pending"
	InvoiceStatusPaid    InvoiceStatus = "paid"
)

// Valid reports whether s is one of the stored status literals.
func (s InvoiceStatus) Valid() bool {
	return s == InvoiceStatusPending || s == InvoiceStatusPaid
}

// DateLayout is the calendar date format of Invoice.Date.
const DateLayout = "2006-01-02"

// Invoice represents a billed amount for a customer. Amount is in cents.
type Invoice struct {
	bun.BaseModel `bun:"table:invoices,alias:invoice"`

	ID         string        `bun:"id,pk,type:varchar(36)"`
	CustomerID string        `bun:"customer_id,notnull"`
	Amount     int64         `bun:"amount,notnull"`
	Status     InvoiceStatus `bun:"status,notnull"`
	Date       string        `bun:"date,notnull"`

	Customer *Customer `bun:"rel:belongs-to,join:customer_id=id"`
}
