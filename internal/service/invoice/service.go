package invoice

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/url"
	"strconv"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Additional-Code/invoicedesk/internal/clock"
	"github.com/Additional-Code/invoicedesk/internal/config"
	"github.com/Additional-Code/invoicedesk/internal/dto"
	"github.com/Additional-Code/invoicedesk/internal/entity"
	"github.com/Additional-Code/invoicedesk/internal/messaging"
	"github.com/Additional-Code/invoicedesk/internal/money"
	"github.com/Additional-Code/invoicedesk/internal/pagecache"
	repo "github.com/Additional-Code/invoicedesk/internal/repository/invoice"
	"github.com/Additional-Code/invoicedesk/internal/validation"
	"github.com/Additional-Code/invoicedesk/pkg/errorbank"
)

// ListingPath is the invoices listing view. Successful creates invalidate it
// and navigate to it.
const ListingPath = "/dashboard/invoices"

const instrumentationName = "github.com/Additional-Code/invoicedesk/service/invoice"

var serviceTracer = otel.Tracer(instrumentationName)

// Repository is the persistence capability the service depends on.
type Repository interface {
	Insert(ctx context.Context, inv *entity.Invoice) error
	GetByID(ctx context.Context, id string) (*entity.Invoice, error)
	List(ctx context.Context, filter repo.ListFilter) ([]entity.Invoice, int, error)
}

// CustomerLister lists the customers an invoice can be billed to.
type CustomerLister interface {
	List(ctx context.Context) ([]entity.Customer, error)
}

// PageCache stores rendered views and invalidates them by path. Put takes the
// Stamp returned by the Get that missed.
type PageCache interface {
	Get(ctx context.Context, key string) ([]byte, pagecache.Stamp, bool)
	Put(ctx context.Context, stamp pagecache.Stamp, body []byte)
	Invalidate(ctx context.Context, path string)
}

// Outcome is the result of a successful create: where the client goes next.
type Outcome struct {
	RedirectTo string
}

// Service encapsulates business logic around invoices.
type Service struct {
	repo      Repository
	customers CustomerLister
	pages     PageCache
	validator *validation.Validator
	clock     clock.Clock
	pageSize  int
	logger    *zap.Logger
	publisher messaging.Client
	messaging messagingConfig
	created   metric.Int64Counter
	failures  metric.Int64Counter
}

// messagingConfig contains messaging specific knobs we care about.
type messagingConfig struct {
	enabled bool
}

// Params defines dependencies for constructing Service.
type Params struct {
	fx.In

	Repository Repository
	Customers  CustomerLister
	Pages      PageCache
	Validator  *validation.Validator
	Clock      clock.Clock
	Config     config.Config
	Logger     *zap.Logger
	Publisher  messaging.Client `optional:"true"`
}

// NewService wires a new Service instance.
func NewService(p Params) *Service {
	s := &Service{
		repo:      p.Repository,
		customers: p.Customers,
		pages:     p.Pages,
		validator: p.Validator,
		clock:     p.Clock,
		pageSize:  p.Config.Dashboard.PageSize,
		logger:    p.Logger,
		publisher: p.Publisher,
		messaging: messagingConfig{enabled: p.Config.Messaging.Enabled},
	}
	if s.pageSize <= 0 {
		s.pageSize = 6
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}

	meter := otel.Meter(instrumentationName)
	var err error
	if s.created, err = meter.Int64Counter("invoices.created", metric.WithDescription("Invoices persisted")); err != nil {
		s.logger.Warn("create invoices.created counter", zap.Error(err))
	}
	if s.failures, err = meter.Int64Counter("invoices.create.failures", metric.WithDescription("Rejected or failed invoice creations")); err != nil {
		s.logger.Warn("create invoices.create.failures counter", zap.Error(err))
	}
	return s
}

// Create validates a create-invoice form submission, stores the invoice,
// invalidates the listing view and returns where to navigate. Steps run in
// order and stop at the first failure: a rejected form writes nothing, and a
// failed insert leaves the cache untouched.
func (s *Service) Create(ctx context.Context, values url.Values) (Outcome, error) {
	ctx, span := serviceTracer.Start(ctx, "InvoiceService.Create")
	defer span.End()

	var form dto.CreateInvoiceForm
	if err := s.validator.Decode(values, &form); err != nil {
		span.SetStatus(codes.Error, "validation failed")
		s.countFailure(ctx, "validation")
		return Outcome{}, validationError(err)
	}

	cents, err := money.ParseCents(form.Amount)
	if err != nil {
		s.countFailure(ctx, "validation")
		return Outcome{}, validationError(validation.Errors{{Field: "amount", Message: "must be a number"}})
	}

	inv := &entity.Invoice{
		CustomerID: form.CustomerID,
		Amount:     cents,
		Status:     entity.InvoiceStatus(form.Status),
		Date:       s.clock.Now().UTC().Format(entity.DateLayout),
	}
	span.SetAttributes(
		attribute.String("invoice.customer_id", inv.CustomerID),
		attribute.String("invoice.status", string(inv.Status)),
	)

	if err := s.repo.Insert(ctx, inv); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "repository error")
		s.countFailure(ctx, "persistence")
		return Outcome{}, persistenceError(err)
	}

	s.pages.Invalidate(ctx, ListingPath)
	s.publishInvoiceCreated(ctx, inv)

	if s.created != nil {
		s.created.Add(ctx, 1, metric.WithAttributes(attribute.String("status", string(inv.Status))))
	}
	s.logger.Info("invoice created",
		zap.String("id", inv.ID),
		zap.String("customer_id", inv.CustomerID),
		zap.Int64("amount", inv.Amount),
		zap.String("status", string(inv.Status)),
		zap.String("date", inv.Date),
	)

	return Outcome{RedirectTo: ListingPath}, nil
}

// Get retrieves a stored invoice by id.
func (s *Service) Get(ctx context.Context, id string) (*entity.Invoice, error) {
	ctx, span := serviceTracer.Start(ctx, "InvoiceService.Get", trace.WithAttributes(attribute.String("invoice.id", id)))
	defer span.End()

	inv, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, errorbank.NotFound("invoice not found")
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "repository error")
		return nil, errorbank.Internal("failed to load invoice", errorbank.WithCause(err))
	}
	return inv, nil
}

// List returns one page of the invoices listing, served from the page cache
// when a fresh copy exists.
func (s *Service) List(ctx context.Context, query string, page int) (dto.InvoicePage, error) {
	query = strings.TrimSpace(query)
	if page < 1 {
		page = 1
	}
	if page > s.maxPage() {
		return dto.InvoicePage{}, errorbank.BadRequest("invalid page", errorbank.WithDetail("page", page))
	}
	ctx, span := serviceTracer.Start(ctx, "InvoiceService.List", trace.WithAttributes(
		attribute.String("invoice.query", query),
		attribute.Int("invoice.page", page),
	))
	defer span.End()

	key := listingKey(query, page)
	body, stamp, ok := s.pages.Get(ctx, key)
	if ok {
		var cached dto.InvoicePage
		if err := json.Unmarshal(body, &cached); err == nil {
			span.SetAttributes(attribute.Bool("cache.hit", true))
			return cached, nil
		}
		s.logger.Warn("discarding undecodable cached page", zap.String("key", key))
	}

	invoices, total, err := s.repo.List(ctx, repo.ListFilter{
		Query:  query,
		Limit:  s.pageSize,
		Offset: (page - 1) * s.pageSize,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "repository error")
		return dto.InvoicePage{}, errorbank.Internal("failed to list invoices", errorbank.WithCause(err))
	}

	result := dto.InvoicePage{
		Invoices:   make([]dto.InvoiceResponse, 0, len(invoices)),
		Query:      query,
		Page:       page,
		TotalPages: (total + s.pageSize - 1) / s.pageSize,
		Total:      total,
	}
	for i := range invoices {
		result.Invoices = append(result.Invoices, ToResponse(&invoices[i]))
	}

	if body, err := json.Marshal(result); err == nil {
		s.pages.Put(ctx, stamp, body)
	}
	return result, nil
}

// maxPage keeps the row offset within a 32-bit range on every dialect.
func (s *Service) maxPage() int {
	return math.MaxInt32/s.pageSize + 1
}

// Customers lists the customers selectable on the create form.
func (s *Service) Customers(ctx context.Context) ([]dto.CustomerOption, error) {
	ctx, span := serviceTracer.Start(ctx, "InvoiceService.Customers")
	defer span.End()

	customers, err := s.customers.List(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "repository error")
		return nil, errorbank.Internal("failed to list customers", errorbank.WithCause(err))
	}
	options := make([]dto.CustomerOption, 0, len(customers))
	for _, c := range customers {
		options = append(options, dto.CustomerOption{ID: c.ID, Name: c.Name})
	}
	return options, nil
}

// ToResponse maps a stored invoice onto its transport representation.
func ToResponse(inv *entity.Invoice) dto.InvoiceResponse {
	res := dto.InvoiceResponse{
		ID:            inv.ID,
		CustomerID:    inv.CustomerID,
		Amount:        inv.Amount,
		AmountDisplay: money.FormatCents(inv.Amount),
		Status:        string(inv.Status),
		Date:          inv.Date,
	}
	if inv.Customer != nil {
		res.CustomerName = inv.Customer.Name
		res.CustomerEmail = inv.Customer.Email
	}
	return res
}

func listingKey(query string, page int) string {
	values := url.Values{}
	if query != "" {
		values.Set("query", query)
	}
	if page > 1 {
		values.Set("page", strconv.Itoa(page))
	}
	return pagecache.Key(ListingPath, values)
}

func validationError(err error) error {
	var verrs validation.Errors
	if errors.As(err, &verrs) {
		return errorbank.Unprocessable("invalid invoice",
			errorbank.WithCause(verrs),
			errorbank.WithDetail("fields", verrs.Map()),
		)
	}
	return errorbank.BadRequest("invalid form submission", errorbank.WithCause(err))
}

func persistenceError(err error) error {
	var perr *repo.PersistenceError
	if errors.As(err, &perr) && perr.ForeignKeyViolation() {
		return errorbank.Unprocessable("unknown customer",
			errorbank.WithCause(err),
			errorbank.WithDetail("fields", map[string]any{"customerId": "does not exist"}),
		)
	}
	return errorbank.Internal("failed to create invoice", errorbank.WithCause(err))
}

func (s *Service) countFailure(ctx context.Context, reason string) {
	if s.failures != nil {
		s.failures.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
	}
}
