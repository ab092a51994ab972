package customer

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"

	"github.com/Additional-Code/invoicedesk/internal/database"
	"github.com/Additional-Code/invoicedesk/internal/entity"
)

var repoTracer = otel.Tracer("github.com/Additional-Code/invoicedesk/repository/customer")

// Repository reads and seeds customers.
type Repository struct {
	writer *bun.DB
	reader *bun.DB
}

// NewRepository wires a repository backed by configured database connections.
func NewRepository(conns *database.Connections) *Repository {
	return &Repository{writer: conns.Writer, reader: conns.Reader}
}

// Insert persists a customer, assigning an ID when none is set.
func (r *Repository) Insert(ctx context.Context, c *entity.Customer) error {
	if c == nil {
		return errors.New("nil customer")
	}
	ctx, span := repoTracer.Start(ctx, "CustomerRepository.Insert")
	defer span.End()

	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if _, err := r.writer.NewInsert().Model(c).Exec(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "insert failed")
		return err
	}
	return nil
}

// List returns every customer ordered by name.
func (r *Repository) List(ctx context.Context) ([]entity.Customer, error) {
	ctx, span := repoTracer.Start(ctx, "CustomerRepository.List")
	defer span.End()

	var customers []entity.Customer
	if err := r.reader.NewSelect().Model(&customers).OrderExpr("customer.name ASC").Scan(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "select failed")
		return nil, err
	}
	return customers, nil
}
