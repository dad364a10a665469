package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"

	"kestrel/internal/instrument"
)

// ---------------------------------------------------------------------------
// Configuration structs
// ---------------------------------------------------------------------------

// Config is the top-level configuration for the kestrel engine.
type Config struct {
	Storage     Storage            `yaml:"storage"`
	Alpaca      Alpaca             `yaml:"alpaca"`
	Logging     Logging            `yaml:"logging"`
	Backtest    Backtest           `yaml:"backtest"`
	Live        Live               `yaml:"live"`
	Instruments []InstrumentConfig `yaml:"instruments"`
}

// Storage holds paths for data persistence.
type Storage struct {
	DataDir    string `yaml:"data_dir"`
	SQLitePath string `yaml:"sqlite_path"`
}

// Alpaca holds credentials and endpoints for the Alpaca broker API.
type Alpaca struct {
	APIKey    string `yaml:"api_key"`
	APISecret string `yaml:"api_secret"`
	BaseURL   string `yaml:"base_url"`
	DataURL   string `yaml:"data_url"`
	Feed      string `yaml:"feed"`
}

// Logging configures the application logger.
type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Backtest holds parameters for backtest runs.
type Backtest struct {
	Symbols        []string `yaml:"symbols"`
	Market         string   `yaml:"market"`
	StartDate      string   `yaml:"start_date"`
	EndDate        string   `yaml:"end_date"`
	InitialCapital float64  `yaml:"initial_capital"`
	Strategy       string   `yaml:"strategy"`
	MarginPolicy   string   `yaml:"margin_policy"`
}

// Live holds parameters for the live trading runtime.
type Live struct {
	Symbols    []string `yaml:"symbols"`
	MarketData string   `yaml:"market_data"` // "bar" or "quote"
	Strategy   string   `yaml:"strategy"`
}

// InstrumentConfig is one instrument definition for the symbol registry.
type InstrumentConfig struct {
	Ticker          string  `yaml:"ticker"`
	Kind            string  `yaml:"kind"` // STK, FUT, OPT, IND
	Currency        string  `yaml:"currency"`
	Exchange        string  `yaml:"exchange"`
	FeeRate         float64 `yaml:"fee_rate"`
	InitialMargin   float64 `yaml:"initial_margin"`
	QtyMultiplier   float64 `yaml:"qty_multiplier"`
	PriceMultiplier float64 `yaml:"price_multiplier"`
	TickSize        float64 `yaml:"tick_size"`
	SlippageTicks   float64 `yaml:"slippage_ticks"`
}

// Registry builds the immutable symbol registry from the configured
// instrument table. Malformed definitions are configuration errors.
func (c *Config) Registry() (*instrument.Registry, error) {
	defs := make([]instrument.Instrument, 0, len(c.Instruments))
	for _, ic := range c.Instruments {
		defs = append(defs, instrument.Instrument{
			Ticker:          ic.Ticker,
			Kind:            instrument.SecurityKind(ic.Kind),
			Currency:        ic.Currency,
			Exchange:        ic.Exchange,
			FeeRate:         ic.FeeRate,
			InitialMargin:   ic.InitialMargin,
			QtyMultiplier:   ic.QtyMultiplier,
			PriceMultiplier: ic.PriceMultiplier,
			TickSize:        ic.TickSize,
			SlippageTicks:   ic.SlippageTicks,
		})
	}
	reg, err := instrument.NewRegistry(defs)
	if err != nil {
		return nil, fmt.Errorf("building symbol registry: %w", err)
	}
	return reg, nil
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// Load reads the YAML configuration file at the given path, parses it into a
// Config struct, and then applies environment variable overrides.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	applyEnvOverrides(cfg)

	return cfg, nil
}

// applyEnvOverrides checks well-known environment variables and overrides the
// corresponding configuration fields when they are set.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("DATA_DIR"); v != "" {
		cfg.Storage.DataDir = v
	}
	if v := os.Getenv("SQLITE_PATH"); v != "" {
		cfg.Storage.SQLitePath = v
	}

	if v := os.Getenv("ALPACA_API_KEY"); v != "" {
		cfg.Alpaca.APIKey = v
	}
	if v := os.Getenv("ALPACA_API_SECRET"); v != "" {
		cfg.Alpaca.APISecret = v
	}
	if v := os.Getenv("ALPACA_BASE_URL"); v != "" {
		cfg.Alpaca.BaseURL = v
	}
	if v := os.Getenv("ALPACA_DATA_URL"); v != "" {
		cfg.Alpaca.DataURL = v
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	if v := os.Getenv("INITIAL_CAPITAL"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Backtest.InitialCapital = f
		}
	}

	// Standard Alpaca env vars take highest priority; the SDK reads the same names.
	if v := os.Getenv("APCA_API_KEY_ID"); v != "" {
		cfg.Alpaca.APIKey = v
	}
	if v := os.Getenv("APCA_API_SECRET_KEY"); v != "" {
		cfg.Alpaca.APISecret = v
	}
}
