package invoice

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/fx/fxtest"
	"go.uber.org/zap"

	"github.com/Additional-Code/invoicedesk/internal/cache"
	"github.com/Additional-Code/invoicedesk/internal/clock"
	"github.com/Additional-Code/invoicedesk/internal/config"
	"github.com/Additional-Code/invoicedesk/internal/database/databasetest"
	"github.com/Additional-Code/invoicedesk/internal/dto"
	"github.com/Additional-Code/invoicedesk/internal/entity"
	"github.com/Additional-Code/invoicedesk/internal/pagecache"
	customerrepo "github.com/Additional-Code/invoicedesk/internal/repository/customer"
	invoicerepo "github.com/Additional-Code/invoicedesk/internal/repository/invoice"
	service "github.com/Additional-Code/invoicedesk/internal/service/invoice"
	"github.com/Additional-Code/invoicedesk/internal/validation"
)

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   struct {
		Kind    string         `json:"kind"`
		Message string         `json:"message"`
		Details map[string]any `json:"details"`
	} `json:"error"`
}

func newServer(t *testing.T) *echo.Echo {
	t.Helper()

	conns := databasetest.New(t)
	databasetest.SeedCustomer(t, conns, entity.Customer{ID: "c1", Name: "Delba de Oliveira", Email: "delba@oliveira.com"})
	databasetest.SeedCustomer(t, conns, entity.Customer{ID: "c2", Name: "Lee Robinson", Email: "lee@robinson.com"})

	cfg := config.Config{
		Cache:     config.Cache{Driver: "noop"},
		Dashboard: config.Dashboard{PageSize: 6, PageCacheTTL: time.Minute},
	}
	logger := zap.NewNop()
	store, err := cache.NewStore(fxtest.NewLifecycle(t), cfg, logger)
	require.NoError(t, err)
	v, err := validation.New()
	require.NoError(t, err)

	svc := service.NewService(service.Params{
		Repository: invoicerepo.NewRepository(conns),
		Customers:  customerrepo.NewRepository(conns),
		Pages:      pagecache.New(store, cfg, logger),
		Validator:  v,
		Clock:      clock.NewFakeClock(time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC)),
		Config:     cfg,
		Logger:     logger,
	})

	e := echo.New()
	Register(e, NewHandler(svc, logger))
	return e
}

func do(e *echo.Echo, method, target string, form url.Values) *httptest.ResponseRecorder {
	var req *http.Request
	if form != nil {
		req = httptest.NewRequest(method, target, strings.NewReader(form.Encode()))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationForm)
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	return env
}

func listInvoices(t *testing.T, e *echo.Echo, target string) dto.InvoicePage {
	t.Helper()
	rec := do(e, http.MethodGet, target, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var page dto.InvoicePage
	require.NoError(t, json.Unmarshal(decode(t, rec).Data, &page))
	return page
}

func TestCreateRedirectsToListing(t *testing.T) {
	e := newServer(t)

	rec := do(e, http.MethodPost, "/dashboard/invoices/create", url.Values{
		"customerId": {"c1"},
		"amount":     {"12.50"},
		"status":     {"pending"},
	})

	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/dashboard/invoices", rec.Header().Get(echo.HeaderLocation))

	page := listInvoices(t, e, "/dashboard/invoices")
	require.Len(t, page.Invoices, 1)
	got := page.Invoices[0]
	assert.Equal(t, "c1", got.CustomerID)
	assert.Equal(t, int64(1250), got.Amount)
	assert.Equal(t, "pending", got.Status)
	assert.Equal(t, "2026-10-18", got.Date)
	assert.Equal(t, "Delba de Oliveira", got.CustomerName)

	detail := do(e, http.MethodGet, "/dashboard/invoices/"+got.ID, nil)
	require.Equal(t, http.StatusOK, detail.Code)
	var reread dto.InvoiceResponse
	require.NoError(t, json.Unmarshal(decode(t, detail).Data, &reread))
	assert.Equal(t, got, reread)
}

func TestCreateRejectsInvalidSubmissions(t *testing.T) {
	cases := []struct {
		name  string
		form  url.Values
		field string
	}{
		{"non numeric amount", url.Values{"customerId": {"c1"}, "amount": {"abc"}, "status": {"pending"}}, "amount"},
		{"empty customer", url.Values{"customerId": {""}, "amount": {"5"}, "status": {"paid"}}, "customerId"},
		{"unknown status", url.Values{"customerId": {"c2"}, "amount": {"5"}, "status": {"archived"}}, "status"},
		{"huge exponent amount", url.Values{"customerId": {"c1"}, "amount": {"1e200000000"}, "status": {"paid"}}, "amount"},
		{"unknown customer", url.Values{"customerId": {"nobody"}, "amount": {"5"}, "status": {"paid"}}, "customerId"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			e := newServer(t)

			rec := do(e, http.MethodPost, "/dashboard/invoices/create", tc.form)

			assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
			assert.Empty(t, rec.Header().Get(echo.HeaderLocation))
			env := decode(t, rec)
			assert.False(t, env.Success)
			assert.Equal(t, "unprocessable_entity", env.Error.Kind)
			fields, ok := env.Error.Details["fields"].(map[string]any)
			require.True(t, ok)
			assert.Contains(t, fields, tc.field)

			assert.Empty(t, listInvoices(t, e, "/dashboard/invoices").Invoices)
		})
	}
}

func TestIdenticalSubmissionsCreateDistinctRows(t *testing.T) {
	e := newServer(t)
	form := url.Values{"customerId": {"c2"}, "amount": {"5"}, "status": {"paid"}}

	require.Equal(t, http.StatusSeeOther, do(e, http.MethodPost, "/dashboard/invoices/create", form).Code)
	require.Equal(t, http.StatusSeeOther, do(e, http.MethodPost, "/dashboard/invoices/create", form).Code)

	page := listInvoices(t, e, "/dashboard/invoices")
	require.Len(t, page.Invoices, 2)
	assert.NotEqual(t, page.Invoices[0].ID, page.Invoices[1].ID)
	assert.Equal(t, 1, page.TotalPages)
}

func TestListSearchAndPaging(t *testing.T) {
	e := newServer(t)
	for i := 0; i < 7; i++ {
		customer := "c1"
		if i%2 == 0 {
			customer = "c2"
		}
		rec := do(e, http.MethodPost, "/dashboard/invoices/create", url.Values{"customerId": {customer}, "amount": {"1"}, "status": {"paid"}})
		require.Equal(t, http.StatusSeeOther, rec.Code)
	}

	first := listInvoices(t, e, "/dashboard/invoices")
	assert.Len(t, first.Invoices, 6)
	assert.Equal(t, 2, first.TotalPages)
	assert.Equal(t, 7, first.Total)

	second := listInvoices(t, e, "/dashboard/invoices?page=2")
	assert.Len(t, second.Invoices, 1)

	lee := listInvoices(t, e, "/dashboard/invoices?query=lee")
	assert.Equal(t, 4, lee.Total)

	for _, page := range []string{"abc", "0", "-1", "9223372036854775807", "99999999999999999999"} {
		rec := do(e, http.MethodGet, "/dashboard/invoices?page="+page, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code, page)
	}
}

func TestGetUnknownInvoice(t *testing.T) {
	e := newServer(t)

	rec := do(e, http.MethodGet, "/dashboard/invoices/does-not-exist", nil)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", decode(t, rec).Error.Kind)
}

func TestCreateFormListsCustomers(t *testing.T) {
	e := newServer(t)

	rec := do(e, http.MethodGet, "/dashboard/invoices/create", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	var data struct {
		Customers []dto.CustomerOption `json:"customers"`
		Statuses  []string             `json:"statuses"`
	}
	require.NoError(t, json.Unmarshal(decode(t, rec).Data, &data))
	assert.Equal(t, []dto.CustomerOption{{ID: "c1", Name: "Delba de Oliveira"}, {ID: "c2", Name: "Lee Robinson"}}, data.Customers)
	assert.Equal(t, []string{"pending", "paid"}, data.Statuses)
}
