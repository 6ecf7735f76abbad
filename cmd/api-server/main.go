// Command api-server runs the POS backing service: catalog, checkout,
// loyalty and operator management over HTTP.
package main

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"go.uber.org/zap"

	pos "github.com/xenking/retail-pos/internal/app"
)

func main() {
	app.Run(func(ctx context.Context, lg *zap.Logger, m *app.Telemetry) error {
		cfg, err := pos.LoadConfig()
		if err != nil {
			return errors.Wrap(err, "load config")
		}
		lg.Info("Starting POS service",
			zap.String("addr", cfg.Addr),
			zap.String("tax_rate", cfg.TaxRate),
			zap.Duration("token_ttl", cfg.TokenTTL),
		)
		return pos.Run(ctx, lg, m, cfg)
	},
		app.WithServiceName("pos-api"),
		app.WithServiceNamespace("retail"),
	)
}
