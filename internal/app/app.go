package app

import (
	"go.uber.org/fx"

	"github.com/Additional-Code/invoicedesk/internal/cache"
	"github.com/Additional-Code/invoicedesk/internal/clock"
	"github.com/Additional-Code/invoicedesk/internal/config"
	"github.com/Additional-Code/invoicedesk/internal/database"
	"github.com/Additional-Code/invoicedesk/internal/logger"
	"github.com/Additional-Code/invoicedesk/internal/messaging"
	"github.com/Additional-Code/invoicedesk/internal/observability"
	"github.com/Additional-Code/invoicedesk/internal/pagecache"
	repositorycustomer "github.com/Additional-Code/invoicedesk/internal/repository/customer"
	repositoryinvoice "github.com/Additional-Code/invoicedesk/internal/repository/invoice"
	grpcserver "github.com/Additional-Code/invoicedesk/internal/server/grpc"
	httpserver "github.com/Additional-Code/invoicedesk/internal/server/http"
	serviceinvoice "github.com/Additional-Code/invoicedesk/internal/service/invoice"
	transporthttp "github.com/Additional-Code/invoicedesk/internal/transport/http"
	"github.com/Additional-Code/invoicedesk/internal/validation"
	"github.com/Additional-Code/invoicedesk/internal/worker"
	workerinvoice "github.com/Additional-Code/invoicedesk/internal/worker/invoice"
)

// Core provides the foundational modules shared across executables.
var Core = fx.Options(
	config.Module,
	cache.Module,
	database.Module,
	logger.Module,
	messaging.Module,
	observability.Module,
	clock.Module,
	validation.Module,
	pagecache.Module,
	repositorycustomer.Module,
	repositoryinvoice.Module,
	serviceinvoice.Module,
)

// health exposes the database connections as the store the servers ping.
var health = fx.Provide(
	fx.Annotate(
		func(conns *database.Connections) *database.Connections { return conns },
		fx.As(new(httpserver.Pinger)),
		fx.As(new(grpcserver.Pinger)),
	),
)

// HTTP wires the HTTP and gRPC servers on top of the core modules.
var HTTP = fx.Options(
	Core,
	health,
	httpserver.Module,
	grpcserver.Module,
	transporthttp.Module,
)

// Worker exposes background worker processing.
var Worker = fx.Options(
	Core,
	worker.Module,
	workerinvoice.Module,
)

// Module is the default application wiring.
var Module = HTTP
