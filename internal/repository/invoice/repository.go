package invoice

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Additional-Code/invoicedesk/internal/database"
	"github.com/Additional-Code/invoicedesk/internal/entity"
)

var repoTracer = otel.Tracer("github.com/Additional-Code/invoicedesk/repository/invoice")

// ListFilter narrows and pages the invoice listing.
type ListFilter struct {
	Query  string
	Limit  int
	Offset int
}

// Repository encapsulates read/write access for invoices.
type Repository struct {
	writer *bun.DB
	reader *bun.DB
}

// NewRepository wires a repository backed by configured database connections.
func NewRepository(conns *database.Connections) *Repository {
	return &Repository{
		writer: conns.Writer,
		reader: conns.Reader,
	}
}

// Insert persists a new invoice with a single parameterized statement and
// assigns its ID.
func (r *Repository) Insert(ctx context.Context, inv *entity.Invoice) error {
	if inv == nil {
		return &PersistenceError{Op: "insert", Err: errors.New("nil invoice")}
	}
	ctx, span := repoTracer.Start(ctx, "InvoiceRepository.Insert", trace.WithAttributes(
		attribute.String("invoice.customer_id", inv.CustomerID),
		attribute.String("invoice.status", string(inv.Status)),
	))
	defer span.End()

	if inv.ID == "" {
		inv.ID = uuid.NewString()
	}

	_, err := r.writer.NewInsert().
		Model(inv).
		Column("id", "customer_id", "amount", "status", "date").
		Exec(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "insert failed")
		inv.ID = ""
		return &PersistenceError{Op: "insert", Err: err}
	}
	span.SetAttributes(attribute.String("invoice.id", inv.ID))
	return nil
}

// GetByID fetches an invoice by primary key using the read replica when available.
func (r *Repository) GetByID(ctx context.Context, id string) (*entity.Invoice, error) {
	ctx, span := repoTracer.Start(ctx, "InvoiceRepository.GetByID", trace.WithAttributes(attribute.String("invoice.id", id)))
	defer span.End()

	inv := new(entity.Invoice)
	err := r.reader.NewSelect().
		Model(inv).
		Relation("Customer").
		Where("invoice.id = ?", id).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		span.SetStatus(codes.Error, "not found")
		return nil, ErrNotFound
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "select failed")
		return nil, &PersistenceError{Op: "select", Err: err}
	}
	return inv, nil
}

// List returns one page of invoices, newest first, with their customers, and
// the total number of matching invoices.
func (r *Repository) List(ctx context.Context, filter ListFilter) ([]entity.Invoice, int, error) {
	ctx, span := repoTracer.Start(ctx, "InvoiceRepository.List", trace.WithAttributes(
		attribute.String("invoice.query", filter.Query),
		attribute.Int("invoice.limit", filter.Limit),
		attribute.Int("invoice.offset", filter.Offset),
	))
	defer span.End()

	var invoices []entity.Invoice
	q := r.reader.NewSelect().
		Model(&invoices).
		Relation("Customer").
		OrderExpr("invoice.date DESC").
		OrderExpr("invoice.id ASC")

	if query := strings.TrimSpace(filter.Query); query != "" {
		pattern := "%" + strings.ToLower(query) + "%"
		textType := r.textType()
		q = q.WhereGroup(" AND ", func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.
				Where("LOWER(customer.name) LIKE ?", pattern).
				WhereOr("LOWER(customer.email) LIKE ?", pattern).
				WhereOr("CAST(invoice.amount AS "+textType+") LIKE ?", pattern).
				WhereOr("CAST(invoice.date AS "+textType+") LIKE ?", pattern).
				WhereOr("LOWER(invoice.status) LIKE ?", pattern)
		})
	}
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}
	if filter.Offset > 0 {
		q = q.Offset(filter.Offset)
	}

	total, err := q.ScanAndCount(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "select failed")
		return nil, 0, &PersistenceError{Op: "list", Err: err}
	}
	return invoices, total, nil
}

func (r *Repository) textType() string {
	if r.reader.Dialect().Name() == dialect.MySQL {
		return "CHAR"
	}
	return "TEXT"
}
