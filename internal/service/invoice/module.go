package invoice

import (
	"go.uber.org/fx"

	"github.com/Additional-Code/invoicedesk/internal/pagecache"
	customerrepo "github.com/Additional-Code/invoicedesk/internal/repository/customer"
	invoicerepo "github.com/Additional-Code/invoicedesk/internal/repository/invoice"
)

// Module provides the invoice service to Fx, binding the concrete
// repositories and page cache to the capabilities the service needs.
var Module = fx.Options(
	fx.Provide(
		func(r *invoicerepo.Repository) Repository { return r },
		func(r *customerrepo.Repository) CustomerLister { return r },
		func(c *pagecache.Cache) PageCache { return c },
		NewService,
	),
)
