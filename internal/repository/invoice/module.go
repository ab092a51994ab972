package invoice

import "go.uber.org/fx"

// Module provides the invoice repository to Fx.
var Module = fx.Provide(NewRepository)
