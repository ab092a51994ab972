package invoice

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/Additional-Code/invoicedesk/internal/presentation/http/response"
	service "github.com/Additional-Code/invoicedesk/internal/service/invoice"
	"github.com/Additional-Code/invoicedesk/pkg/errorbank"
)

var httpTracer = otel.Tracer("github.com/Additional-Code/invoicedesk/transport/http/invoice")

// Handler exposes the invoice dashboard over HTTP.
type Handler struct {
	svc    *service.Service
	logger *zap.Logger
}

// NewHandler constructs an invoice Handler.
func NewHandler(svc *service.Service, logger *zap.Logger) *Handler {
	return &Handler{svc: svc, logger: logger}
}

// Register routes with provided Echo instance.
func Register(e *echo.Echo, h *Handler) {
	g := e.Group(service.ListingPath)
	g.GET("", h.list)
	g.GET("/create", h.createForm)
	g.POST("/create", h.create)
	g.GET("/:id", h.getByID)
}

func (h *Handler) list(c echo.Context) error {
	b := response.New(c)

	page := 1
	if raw := c.QueryParam("page"); raw != "" {
		p, err := strconv.Atoi(raw)
		if err != nil || p < 1 {
			return b.WithError(errorbank.BadRequest("invalid page", errorbank.WithDetail("page", raw))).Build()
		}
		page = p
	}

	ctx, span := httpTracer.Start(c.Request().Context(), "invoices.list", trace.WithAttributes(attribute.Int("invoice.page", page)))
	defer span.End()

	result, err := h.svc.List(ctx, c.QueryParam("query"), page)
	if err != nil {
		return b.WithError(err).Build()
	}
	return b.WithData(result).Build()
}

func (h *Handler) createForm(c echo.Context) error {
	b := response.New(c)

	ctx, span := httpTracer.Start(c.Request().Context(), "invoices.createForm")
	defer span.End()

	customers, err := h.svc.Customers(ctx)
	if err != nil {
		return b.WithError(err).Build()
	}
	return b.WithData(map[string]any{
		"customers": customers,
		"statuses":  []string{"pending", "paid"},
	}).Build()
}

// create handles the create-invoice form post. Success is a 303 to the
// listing view; validation and storage failures are rendered as errors and
// nothing is redirected.
func (h *Handler) create(c echo.Context) error {
	b := response.New(c)

	values, err := c.FormParams()
	if err != nil {
		return b.WithError(errorbank.BadRequest("invalid form submission", errorbank.WithCause(err))).Build()
	}

	ctx, span := httpTracer.Start(c.Request().Context(), "invoices.create")
	defer span.End()

	outcome, err := h.svc.Create(ctx, values)
	if err != nil {
		if errorbank.KindOf(err) == errorbank.KindInternal {
			h.logger.Error("invoice create failed", zap.Error(err))
		} else {
			h.logger.Info("invoice create rejected", zap.Error(err))
		}
		return b.WithError(err).Build()
	}
	return b.WithRedirect(http.StatusSeeOther, outcome.RedirectTo).Build()
}

func (h *Handler) getByID(c echo.Context) error {
	b := response.New(c)

	id := c.Param("id")
	ctx, span := httpTracer.Start(c.Request().Context(), "invoices.getByID", trace.WithAttributes(attribute.String("invoice.id", id)))
	defer span.End()

	inv, err := h.svc.Get(ctx, id)
	if err != nil {
		return b.WithError(err).Build()
	}
	return b.WithData(service.ToResponse(inv)).Build()
}
