package seeder

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Additional-Code/invoicedesk/internal/database"
	"github.com/Additional-Code/invoicedesk/internal/entity"
)

// Module exposes the Seeder to Fx.
var Module = fx.Provide(New)

// seedNamespace derives stable IDs so reseeding never duplicates rows.
var seedNamespace = uuid.MustParse("6f1c1b6e-3c55-4d0e-9a43-8d1d3f1c9a10")

// Seeder performs database seeding for local/dev setups.
type Seeder struct {
	db     *bun.DB
	logger *zap.Logger
}

// New constructs a Seeder backed by the primary database connection.
func New(conns *database.Connections, logger *zap.Logger) *Seeder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Seeder{db: conns.Writer, logger: logger}
}

var sampleCustomers = []entity.Customer{
	{Name: "Evil Rabbit", Email: "evil@rabbit.com", ImageURL: "/customers/evil-rabbit.png"},
	{Name: "Delba de Oliveira", Email: "delba@oliveira.com", ImageURL: "/customers/delba-de-oliveira.png"},
	{Name: "Lee Robinson", Email: "lee@robinson.com", ImageURL: "/customers/lee-robinson.png"},
	{Name: "Michael Novotny", Email: "michael@novotny.com", ImageURL: "/customers/michael-novotny.png"},
	{Name: "Amy Burns", Email: "amy@burns.com", ImageURL: "/customers/amy-burns.png"},
	{Name: "Balazs Orban", Email: "balazs@orban.com", ImageURL: "/customers/balazs-orban.png"},
}

type sampleInvoice struct {
	email  string
	amount int64
	status entity.InvoiceStatus
	date   string
}

var sampleInvoices = []sampleInvoice{
	{"evil@rabbit.com", 15795, entity.InvoiceStatusPending, "2022-12-06"},
	{"delba@oliveira.com", 20348, entity.InvoiceStatusPending, "2022-11-14"},
	{"amy@burns.com", 3040, entity.InvoiceStatusPaid, "2022-10-29"},
	{"michael@novotny.com", 44800, entity.InvoiceStatusPaid, "2023-09-10"},
	{"balazs@orban.com", 34577, entity.InvoiceStatusPending, "2023-08-05"},
	{"lee@robinson.com", 54246, entity.InvoiceStatusPending, "2023-07-16"},
	{"evil@rabbit.com", 666, entity.InvoiceStatusPending, "2023-06-27"},
	{"michael@novotny.com", 32545, entity.InvoiceStatusPaid, "2023-06-09"},
	{"amy@burns.com", 1250, entity.InvoiceStatusPaid, "2023-06-17"},
	{"balazs@orban.com", 8546, entity.InvoiceStatusPaid, "2023-06-07"},
	{"delba@oliveira.com", 500, entity.InvoiceStatusPaid, "2023-08-19"},
	{"michael@novotny.com", 8945, entity.InvoiceStatusPaid, "2023-06-03"},
	{"lee@robinson.com", 1000, entity.InvoiceStatusPaid, "2022-06-05"},
}

// CustomerID returns the stable seed ID for a customer email.
func CustomerID(email string) string {
	return uuid.NewSHA1(seedNamespace, []byte("customer:"+email)).String()
}

// Run seeds customers followed by their invoices.
func (s *Seeder) Run(ctx context.Context) error {
	if err := s.Customers(ctx); err != nil {
		return err
	}
	return s.Invoices(ctx)
}

// Customers seeds example customers if they are missing.
func (s *Seeder) Customers(ctx context.Context) error {
	for _, sample := range sampleCustomers {
		customer := sample
		customer.ID = CustomerID(customer.Email)
		if _, err := s.db.NewInsert().Model(&customer).Ignore().Exec(ctx); err != nil {
			return fmt.Errorf("seed customer %s: %w", customer.Email, err)
		}
	}

	s.logger.Info("seeded customers", zap.Int("count", len(sampleCustomers)))
	return nil
}

// Invoices seeds example invoices if they are missing. Customers must exist.
func (s *Seeder) Invoices(ctx context.Context) error {
	for _, sample := range sampleInvoices {
		key := fmt.Sprintf("invoice:%s:%d:%s", sample.email, sample.amount, sample.date)
		invoice := entity.Invoice{
			ID:         uuid.NewSHA1(seedNamespace, []byte(key)).String(),
			CustomerID: CustomerID(sample.email),
			Amount:     sample.amount,
			Status:     sample.status,
			Date:       sample.date,
		}
		_, err := s.db.NewInsert().
			Model(&invoice).
			Column("id", "customer_id", "amount", "status", "date").
			Ignore().
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("seed invoice %s: %w", invoice.ID, err)
		}
	}

	s.logger.Info("seeded invoices", zap.Int("count", len(sampleInvoices)))
	return nil
}
