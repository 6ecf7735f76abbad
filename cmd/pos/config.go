package main

import (
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Config holds terminal settings, loadable from environment variables
// (POS_CLIENT_ prefix), flags, or YAML config files.
type Config struct {
	ServerURL     string        `default:"http://localhost:8080" usage:"Backing service base URL" flag:"server-url"`
	Timeout       time.Duration `default:"10s" usage:"Per-call timeout"`
	TaxRate       string        `default:"0" usage:"Flat tax rate, must match the server" flag:"tax-rate"`
	PointsPerUnit string        `default:"1" usage:"Loyalty points earned per currency unit" flag:"points-per-unit"`
	Debug         bool          `default:"false" usage:"Verbose logging to stderr"`
}

// LoadConfig loads the terminal configuration.
func LoadConfig() (*Config, error) {
	var cfg Config
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		EnvPrefix: "POS_CLIENT",
		Files:     []string{"pos.yaml", "/etc/pos/pos.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
	if err := loader.Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	return &cfg, nil
}

func (c *Config) rates() (tax, points decimal.Decimal, err error) {
	if tax, err = decimal.NewFromString(c.TaxRate); err != nil {
		return tax, points, errors.Wrapf(err, "parse tax rate %q", c.TaxRate)
	}
	if points, err = decimal.NewFromString(c.PointsPerUnit); err != nil {
		return tax, points, errors.Wrapf(err, "parse points per unit %q", c.PointsPerUnit)
	}
	return tax, points, nil
}
