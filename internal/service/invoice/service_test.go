package invoice

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Additional-Code/invoicedesk/internal/cache"
	"github.com/Additional-Code/invoicedesk/internal/clock"
	"github.com/Additional-Code/invoicedesk/internal/config"
	"github.com/Additional-Code/invoicedesk/internal/dto"
	"github.com/Additional-Code/invoicedesk/internal/entity"
	"github.com/Additional-Code/invoicedesk/internal/messaging"
	"github.com/Additional-Code/invoicedesk/internal/pagecache"
	repo "github.com/Additional-Code/invoicedesk/internal/repository/invoice"
	"github.com/Additional-Code/invoicedesk/internal/validation"
	"github.com/Additional-Code/invoicedesk/pkg/errorbank"
)

type MockRepository struct {
	mock.Mock
}

func (m *MockRepository) Insert(ctx context.Context, inv *entity.Invoice) error {
	args := m.Called(ctx, inv)
	return args.Error(0)
}

func (m *MockRepository) GetByID(ctx context.Context, id string) (*entity.Invoice, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entity.Invoice), args.Error(1)
}

func (m *MockRepository) List(ctx context.Context, filter repo.ListFilter) ([]entity.Invoice, int, error) {
	args := m.Called(ctx, filter)
	if args.Get(0) == nil {
		return nil, args.Int(1), args.Error(2)
	}
	return args.Get(0).([]entity.Invoice), args.Int(1), args.Error(2)
}

type MockCustomers struct {
	mock.Mock
}

func (m *MockCustomers) List(ctx context.Context) ([]entity.Customer, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]entity.Customer), args.Error(1)
}

type MockPageCache struct {
	mock.Mock
}

func (m *MockPageCache) Get(ctx context.Context, key string) ([]byte, pagecache.Stamp, bool) {
	args := m.Called(ctx, key)
	stamp := args.Get(1).(pagecache.Stamp)
	if args.Get(0) == nil {
		return nil, stamp, args.Bool(2)
	}
	return args.Get(0).([]byte), stamp, args.Bool(2)
}

func (m *MockPageCache) Put(ctx context.Context, stamp pagecache.Stamp, body []byte) {
	m.Called(ctx, stamp, body)
}

func (m *MockPageCache) Invalidate(ctx context.Context, path string) {
	m.Called(ctx, path)
}

type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) Publish(ctx context.Context, key []byte, value []byte) error {
	args := m.Called(ctx, key, value)
	return args.Error(0)
}

func (m *MockPublisher) Consume(ctx context.Context, handler messaging.Handler) error {
	args := m.Called(ctx, handler)
	return args.Error(0)
}

func (m *MockPublisher) Topic() string {
	return "invoices.events"
}

var submittedAt = time.Date(2026, 10, 18, 23, 30, 0, 0, time.FixedZone("UTC-2", -2*60*60))

type fixture struct {
	svc       *Service
	repo      *MockRepository
	customers *MockCustomers
	pages     *MockPageCache
	publisher *MockPublisher
}

func newFixture(t *testing.T, messagingEnabled bool) *fixture {
	t.Helper()
	v, err := validation.New()
	require.NoError(t, err)

	f := &fixture{
		repo:      new(MockRepository),
		customers: new(MockCustomers),
		pages:     new(MockPageCache),
		publisher: new(MockPublisher),
	}
	cfg := config.Config{
		Messaging: config.Messaging{Enabled: messagingEnabled},
		Dashboard: config.Dashboard{PageSize: 6},
	}
	f.svc = NewService(Params{
		Repository: f.repo,
		Customers:  f.customers,
		Pages:      f.pages,
		Validator:  v,
		Clock:      clock.NewFakeClock(submittedAt),
		Config:     cfg,
		Logger:     zap.NewNop(),
		Publisher:  f.publisher,
	})
	return f
}

func form(customerID, amount, status string) url.Values {
	return url.Values{
		"customerId": {customerID},
		"amount":     {amount},
		"status":     {status},
	}
}

func TestCreateInsertsInvalidatesAndRedirects(t *testing.T) {
	f := newFixture(t, false)

	var steps []string
	f.repo.On("Insert", mock.Anything, mock.AnythingOfType("*entity.Invoice")).
		Run(func(args mock.Arguments) {
			args.Get(1).(*entity.Invoice).ID = "inv-1"
			steps = append(steps, "insert")
		}).
		Return(nil).Once()
	f.pages.On("Invalidate", mock.Anything, "/dashboard/invoices").
		Run(func(mock.Arguments) { steps = append(steps, "invalidate") }).
		Return().Once()

	outcome, err := f.svc.Create(context.Background(), form("c1", "12.50", "pending"))

	require.NoError(t, err)
	assert.Equal(t, Outcome{RedirectTo: "/dashboard/invoices"}, outcome)
	assert.Equal(t, []string{"insert", "invalidate"}, steps)

	inserted := f.repo.Calls[0].Arguments.Get(1).(*entity.Invoice)
	assert.Equal(t, "c1", inserted.CustomerID)
	assert.Equal(t, int64(1250), inserted.Amount)
	assert.Equal(t, entity.InvoiceStatusPending, inserted.Status)
	// 23:30 at UTC-2 is already the next day in UTC.
	assert.Equal(t, "2026-10-19", inserted.Date)

	f.repo.AssertExpectations(t)
	f.pages.AssertExpectations(t)
	f.publisher.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything, mock.Anything)
}

func TestCreateIgnoresClientSuppliedDateAndID(t *testing.T) {
	f := newFixture(t, false)
	f.repo.On("Insert", mock.Anything, mock.AnythingOfType("*entity.Invoice")).Return(nil).Once()
	f.pages.On("Invalidate", mock.Anything, ListingPath).Return().Once()

	values := form("c1", "5", "paid")
	values.Set("date", "1999-01-01")
	values.Set("id", "chosen-by-client")

	_, err := f.svc.Create(context.Background(), values)
	require.NoError(t, err)

	inserted := f.repo.Calls[0].Arguments.Get(1).(*entity.Invoice)
	assert.Equal(t, "2026-10-19", inserted.Date)
	assert.Empty(t, inserted.ID)
}

func TestCreateRoundsHalfToEven(t *testing.T) {
	f := newFixture(t, false)
	f.repo.On("Insert", mock.Anything, mock.AnythingOfType("*entity.Invoice")).Return(nil).Twice()
	f.pages.On("Invalidate", mock.Anything, ListingPath).Return().Twice()

	_, err := f.svc.Create(context.Background(), form("c1", "12.505", "pending"))
	require.NoError(t, err)
	_, err = f.svc.Create(context.Background(), form("c1", "12.515", "pending"))
	require.NoError(t, err)

	assert.Equal(t, int64(1250), f.repo.Calls[0].Arguments.Get(1).(*entity.Invoice).Amount)
	assert.Equal(t, int64(1252), f.repo.Calls[1].Arguments.Get(1).(*entity.Invoice).Amount)
}

func TestCreateRejectsInvalidForms(t *testing.T) {
	cases := []struct {
		name   string
		values url.Values
		field  string
	}{
		{name: "non numeric amount", values: form("c1", "abc", "pending"), field: "amount"},
		{name: "empty customer", values: form("", "5", "paid"), field: "customerId"},
		{name: "unknown status", values: form("c2", "5", "archived"), field: "status"},
		{name: "missing customer", values: url.Values{"amount": {"5"}, "status": {"paid"}}, field: "customerId"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t, true)

			outcome, err := f.svc.Create(context.Background(), tc.values)

			require.Error(t, err)
			assert.Equal(t, Outcome{}, outcome)

			var verrs validation.Errors
			require.True(t, errors.As(err, &verrs))
			assert.Equal(t, []string{tc.field}, verrs.Fields())

			appErr := errorbank.From(err)
			assert.Equal(t, errorbank.KindUnprocessableEntity, appErr.Kind())
			assert.Contains(t, appErr.Details()["fields"], tc.field)

			f.repo.AssertNotCalled(t, "Insert", mock.Anything, mock.Anything)
			f.pages.AssertNotCalled(t, "Invalidate", mock.Anything, mock.Anything)
			f.publisher.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything, mock.Anything)
		})
	}
}

func TestCreatePersistenceFailureSkipsInvalidation(t *testing.T) {
	f := newFixture(t, true)
	dbErr := &repo.PersistenceError{Op: "insert", Err: errors.New("connection refused")}
	f.repo.On("Insert", mock.Anything, mock.AnythingOfType("*entity.Invoice")).Return(dbErr).Once()

	outcome, err := f.svc.Create(context.Background(), form("c1", "12.50", "pending"))

	require.Error(t, err)
	assert.Equal(t, Outcome{}, outcome)

	var perr *repo.PersistenceError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, errorbank.KindInternal, errorbank.From(err).Kind())

	f.pages.AssertNotCalled(t, "Invalidate", mock.Anything, mock.Anything)
	f.publisher.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything, mock.Anything)
}

func TestCreatePublishesEventWhenMessagingEnabled(t *testing.T) {
	f := newFixture(t, true)
	f.repo.On("Insert", mock.Anything, mock.AnythingOfType("*entity.Invoice")).
		Run(func(args mock.Arguments) { args.Get(1).(*entity.Invoice).ID = "inv-9" }).
		Return(nil).Once()
	f.pages.On("Invalidate", mock.Anything, ListingPath).Return().Once()
	f.publisher.On("Publish", mock.Anything, []byte("invoice-inv-9"), mock.Anything).Return(errors.New("broker down")).Once()

	outcome, err := f.svc.Create(context.Background(), form("c1", "5", "paid"))

	require.NoError(t, err, "publish failures do not fail the create")
	assert.Equal(t, ListingPath, outcome.RedirectTo)

	var event InvoiceCreatedEvent
	require.NoError(t, json.Unmarshal(f.publisher.Calls[0].Arguments.Get(2).([]byte), &event))
	assert.Equal(t, InvoiceCreatedEvent{ID: "inv-9", CustomerID: "c1", Amount: 500, Status: "paid", Date: "2026-10-19"}, event)
}

func TestGetMapsNotFound(t *testing.T) {
	f := newFixture(t, false)
	f.repo.On("GetByID", mock.Anything, "nope").Return(nil, repo.ErrNotFound).Once()

	_, err := f.svc.Get(context.Background(), "nope")

	assert.Equal(t, errorbank.KindNotFound, errorbank.From(err).Kind())
}

func TestListCachesPages(t *testing.T) {
	f := newFixture(t, false)
	rows := []entity.Invoice{
		{ID: "i1", CustomerID: "c1", Amount: 1250, Status: entity.InvoiceStatusPaid, Date: "2026-10-18",
			Customer: &entity.Customer{ID: "c1", Name: "Lee Robinson", Email: "lee@robinson.com"}},
	}
	f.pages.On("Get", mock.Anything, "/dashboard/invoices?page=2&query=lee").Return(nil, pagecache.Stamp("s1"), false).Once()
	f.repo.On("List", mock.Anything, repo.ListFilter{Query: "lee", Limit: 6, Offset: 6}).Return(rows, 7, nil).Once()
	f.pages.On("Put", mock.Anything, pagecache.Stamp("s1"), mock.Anything).Return().Once()

	page, err := f.svc.List(context.Background(), " lee ", 2)

	require.NoError(t, err)
	assert.Equal(t, 2, page.Page)
	assert.Equal(t, 2, page.TotalPages)
	assert.Equal(t, 7, page.Total)
	require.Len(t, page.Invoices, 1)
	assert.Equal(t, dto.InvoiceResponse{
		ID: "i1", CustomerID: "c1", CustomerName: "Lee Robinson", CustomerEmail: "lee@robinson.com",
		Amount: 1250, AmountDisplay: "12.50", Status: "paid", Date: "2026-10-18",
	}, page.Invoices[0])

	cached := f.pages.Calls[1].Arguments.Get(2).([]byte)
	f.pages.On("Get", mock.Anything, "/dashboard/invoices").Return(cached, pagecache.Stamp("s2"), true).Once()

	again, err := f.svc.List(context.Background(), "", 0)
	require.NoError(t, err)
	assert.Equal(t, page, again)
	f.repo.AssertNumberOfCalls(t, "List", 1)
}

func TestCustomersOptions(t *testing.T) {
	f := newFixture(t, false)
	f.customers.On("List", mock.Anything).Return([]entity.Customer{{ID: "c1", Name: "Amy Burns"}}, nil).Once()

	options, err := f.svc.Customers(context.Background())

	require.NoError(t, err)
	assert.Equal(t, []dto.CustomerOption{{ID: "c1", Name: "Amy Burns"}}, options)
}

func TestListStoresUnderStampTakenBeforeQuery(t *testing.T) {
	f := newFixture(t, false)
	store := cache.Store(newMemStore())
	pages := pagecache.New(store, config.Config{Dashboard: config.Dashboard{PageCacheTTL: time.Minute}}, zap.NewNop())
	f.svc.pages = pages

	// A create commits and invalidates while the listing query is running.
	f.repo.On("List", mock.Anything, repo.ListFilter{Limit: 6}).
		Run(func(mock.Arguments) { pages.Invalidate(context.Background(), ListingPath) }).
		Return([]entity.Invoice{}, 0, nil).Once()
	stale, err := f.svc.List(context.Background(), "", 1)
	require.NoError(t, err)
	assert.Zero(t, stale.Total)

	fresh := []entity.Invoice{{ID: "i1", CustomerID: "c1", Amount: 100, Status: entity.InvoiceStatusPaid, Date: "2026-10-18"}}
	f.repo.On("List", mock.Anything, repo.ListFilter{Limit: 6}).Return(fresh, 1, nil).Once()

	page, err := f.svc.List(context.Background(), "", 1)
	require.NoError(t, err)
	assert.Equal(t, 1, page.Total)
	f.repo.AssertNumberOfCalls(t, "List", 2)
}

func TestListRejectsPagesBeyondOffsetRange(t *testing.T) {
	f := newFixture(t, false)

	_, err := f.svc.List(context.Background(), "", math.MaxInt)

	assert.Equal(t, errorbank.KindBadRequest, errorbank.From(err).Kind())
	f.repo.AssertNotCalled(t, "List", mock.Anything, mock.Anything)
	f.pages.AssertNotCalled(t, "Get", mock.Anything, mock.Anything)
}

func TestCreateDoesNotWaitOnSaturatedMemoryBus(t *testing.T) {
	f := newFixture(t, true)
	bus := messaging.NewMemoryClient("invoices.events", 1, nil)
	f.svc.publisher = bus
	f.repo.On("Insert", mock.Anything, mock.AnythingOfType("*entity.Invoice")).Return(nil)
	f.pages.On("Invalidate", mock.Anything, ListingPath).Return()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	for i := 0; i < 5; i++ {
		outcome, err := f.svc.Create(ctx, form("c1", "5", "paid"))
		require.NoError(t, err)
		assert.Equal(t, ListingPath, outcome.RedirectTo)
	}
	assert.NoError(t, ctx.Err(), "creates must not block on a full bus")
}

type memStore struct {
	mu      sync.Mutex
	entries map[string][]byte
}

func newMemStore() *memStore {
	return &memStore{entries: map[string][]byte{}}
}

func (m *memStore) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.entries[key]
	if !ok {
		return nil, cache.ErrCacheMiss
	}
	return v, nil
}

func (m *memStore) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = value
	return nil
}

func (m *memStore) DeletePrefix(_ context.Context, prefix string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k := range m.entries {
		if strings.HasPrefix(k, prefix) {
			delete(m.entries, k)
		}
	}
	return nil
}

func (m *memStore) Incr(_ context.Context, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, _ := strconv.ParseInt(string(m.entries[key]), 10, 64)
	n++
	m.entries[key] = []byte(strconv.FormatInt(n, 10))
	return n, nil
}
