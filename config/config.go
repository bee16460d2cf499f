package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"lendvault/native/lending"
)

const (
	envListen     = "LENDVAULT_LISTEN"
	envDataDir    = "LENDVAULT_DATA_DIR"
	envEnv        = "LENDVAULT_ENV"
	envLogLevel   = "LENDVAULT_LOG_LEVEL"
	envRatePerMin = "LENDVAULT_RATE_PER_MIN"

	defaultListen          = "0.0.0.0:8547"
	defaultDataDir         = "data"
	defaultMaxPriceAgeSecs = 60
	defaultRateLimitPerMin = 120
)

// BankConfig declares a bank to be created at boot if it does not exist yet.
// All policy ratios are basis points.
type BankConfig struct {
	Asset                     string `yaml:"asset"`
	InterestRateBps           uint64 `yaml:"interestRateBps"`
	LiquidationThresholdBps   uint64 `yaml:"liquidationThresholdBps"`
	MaxLTVBps                 uint64 `yaml:"maxLtvBps"`
	LiquidationBonusBps       uint64 `yaml:"liquidationBonusBps"`
	LiquidationCloseFactorBps uint64 `yaml:"liquidationCloseFactorBps"`
}

// Params converts the declaration into engine bank parameters.
func (b BankConfig) Params() lending.BankParams {
	return lending.BankParams{
		InterestRateBps:           b.InterestRateBps,
		LiquidationThresholdBps:   b.LiquidationThresholdBps,
		MaxLTVBps:                 b.MaxLTVBps,
		LiquidationBonusBps:       b.LiquidationBonusBps,
		LiquidationCloseFactorBps: b.LiquidationCloseFactorBps,
	}
}

// GenesisBalance seeds a holder with tokens at boot, once.
type GenesisBalance struct {
	Holder string `yaml:"holder"`
	Asset  string `yaml:"asset"`
	Amount uint64 `yaml:"amount"`
}

// QuotaConfig bounds per-account operation throughput.
type QuotaConfig struct {
	MaxRequestsPerEpoch uint32 `yaml:"maxRequestsPerEpoch"`
	MaxAmountPerEpoch   uint64 `yaml:"maxAmountPerEpoch"`
	EpochSeconds        uint32 `yaml:"epochSeconds"`
}

// Config captures the runtime settings for lendvaultd.
type Config struct {
	Listen             string           `yaml:"listen"`
	Env                string           `yaml:"env"`
	LogLevel           string           `yaml:"logLevel"`
	DataDir            string           `yaml:"dataDir"`
	MaxPriceAgeSeconds int64            `yaml:"maxPriceAgeSeconds"`
	RateLimitPerMin    int              `yaml:"rateLimitPerMin"`
	Quota              QuotaConfig      `yaml:"quota"`
	Banks              []BankConfig     `yaml:"banks"`
	Genesis            []GenesisBalance `yaml:"genesis"`
}

// MaxPriceAge returns the staleness bound as a duration.
func (cfg Config) MaxPriceAge() time.Duration {
	return time.Duration(cfg.MaxPriceAgeSeconds) * time.Second
}

// Load reads the yaml config at path and applies environment overrides and
// defaults.
func Load(path string) (Config, error) {
	cfg := Config{
		Listen:             defaultListen,
		DataDir:            defaultDataDir,
		MaxPriceAgeSeconds: defaultMaxPriceAgeSecs,
		RateLimitPerMin:    defaultRateLimitPerMin,
	}
	if path != "" {
		file, err := os.Open(path)
		if err != nil {
			return Config{}, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()
		decoder := yaml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return Config{}, fmt.Errorf("decode config: %w", err)
		}
	}
	cfg.Listen = stringFromEnv(envListen, cfg.Listen)
	cfg.DataDir = stringFromEnv(envDataDir, cfg.DataDir)
	cfg.Env = stringFromEnv(envEnv, cfg.Env)
	cfg.LogLevel = stringFromEnv(envLogLevel, cfg.LogLevel)
	cfg.RateLimitPerMin = intFromEnv(envRatePerMin, cfg.RateLimitPerMin)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate ensures the configuration is internally consistent.
func (cfg Config) Validate() error {
	if strings.TrimSpace(cfg.Listen) == "" {
		return fmt.Errorf("listen address required")
	}
	if cfg.MaxPriceAgeSeconds <= 0 {
		return fmt.Errorf("maxPriceAgeSeconds must be positive")
	}
	if cfg.RateLimitPerMin < 0 {
		return fmt.Errorf("rateLimitPerMin must not be negative")
	}
	seen := make(map[string]struct{}, len(cfg.Banks))
	for _, bank := range cfg.Banks {
		asset := strings.TrimSpace(bank.Asset)
		if asset == "" {
			return fmt.Errorf("bank asset required")
		}
		if _, dup := seen[asset]; dup {
			return fmt.Errorf("duplicate bank for asset %s", asset)
		}
		seen[asset] = struct{}{}
		if bank.LiquidationThresholdBps > lending.BpsBase {
			return fmt.Errorf("bank %s: liquidation threshold above 100%%", asset)
		}
		if bank.MaxLTVBps > bank.LiquidationThresholdBps {
			return fmt.Errorf("bank %s: max LTV above liquidation threshold", asset)
		}
		if bank.LiquidationCloseFactorBps > lending.BpsBase {
			return fmt.Errorf("bank %s: close factor above 100%%", asset)
		}
	}
	return nil
}

func stringFromEnv(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}

func intFromEnv(key string, fallback int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}
