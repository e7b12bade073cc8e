// Package config loads engine and infrastructure settings. Sources are layered:
// an optional .env file, an optional YAML file named by AUTOTRADER_CONFIG, then
// environment variables, which win.
package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid config")

// Imbalance modes: how the quote reacts to one-sided book pressure.
const (
	ImbalanceWiden  = "widen"
	ImbalanceNarrow = "narrow"
)

// VenueMaxOpsPerSecond is the venue's documented message limit. The engine's
// ceiling must stay below it.
const VenueMaxOpsPerSecond = 50

// Hedge pricing modes.
const (
	HedgeExtreme  = "extreme"
	HedgeComputed = "computed"
)

// Engine holds the trading parameters. Prices are in cents, volumes in lots.
type Engine struct {
	PositionLimit     int64 `yaml:"position_limit"`
	LotSize           int64 `yaml:"lot_size"`
	TickSize          int64 `yaml:"tick_size"`
	MaxLiveOrders     int   `yaml:"max_live_orders"`
	MaxOpsPerSecond   int   `yaml:"max_ops_per_second"`
	UnhedgedLotsLimit int64 `yaml:"unhedged_lots_limit"`
	MaxUnhedgedSecs   int   `yaml:"max_unhedged_seconds"`
	OrderTTLCycles    int64 `yaml:"order_ttl_cycles"`

	// Pricing
	RiskAversion         float64 `yaml:"risk_aversion"`
	ImbalanceThreshold   float64 `yaml:"imbalance_threshold"`
	ImbalanceSkewTicks   int64   `yaml:"imbalance_skew_ticks"`
	ImbalanceMode        string  `yaml:"imbalance_mode"`
	VolumeWindow         int     `yaml:"volume_window"`
	MinTradeObservations int     `yaml:"min_trade_observations"`

	// Hedging
	TakerFeeBps          float64 `yaml:"taker_fee_bps"`
	ReconcileEveryCycles int64   `yaml:"reconcile_every_cycles"`
	HedgePricing         string  `yaml:"hedge_pricing"`
	PullFraction         float64 `yaml:"pull_fraction"`
	UnwindSignal         float64 `yaml:"unwind_signal"`

	// Analytics
	FillRateWindow int `yaml:"fill_rate_window"`
}

// Config holds all application configuration.
type Config struct {
	Engine Engine `yaml:"engine"`

	// Infrastructure
	VenueWSURL      string `yaml:"venue_ws_url"`
	MetricsAddr     string `yaml:"metrics_addr"`
	RedisAddr       string `yaml:"redis_addr"`
	RedisPassword   string `yaml:"redis_password"`
	JournalPath     string `yaml:"journal_path"`
	LogLevel        string `yaml:"log_level"`
	AlertWebhookURL string `yaml:"alert_webhook_url"`
	InboxCapacity   int    `yaml:"inbox_capacity"`

	// Paper trading routes orders to a simulated venue fed by live books.
	PaperTrading bool  `yaml:"paper_trading"`
	MakerFeeBps  int64 `yaml:"maker_fee_bps"`
}

// Default returns the tuning used by the most complete strategy revision.
func Default() *Config {
	return &Config{
		Engine: Engine{
			PositionLimit:     100,
			LotSize:           10,
			TickSize:          100,
			MaxLiveOrders:     10,
			MaxOpsPerSecond:   45,
			UnhedgedLotsLimit: 10,
			MaxUnhedgedSecs:   58,
			OrderTTLCycles:    40,

			RiskAversion:         2.0,
			ImbalanceThreshold:   0.5,
			ImbalanceSkewTicks:   1,
			ImbalanceMode:        ImbalanceWiden,
			VolumeWindow:         20,
			MinTradeObservations: 2,

			TakerFeeBps:          2,
			ReconcileEveryCycles: 3,
			HedgePricing:         HedgeExtreme,
			PullFraction:         0.5,
			UnwindSignal:         1.5,

			FillRateWindow: 50,
		},
		VenueWSURL:    "ws://localhost:12345/venue",
		MetricsAddr:   ":9090",
		RedisAddr:     "localhost:6379",
		JournalPath:   "data/journal.db",
		LogLevel:      "info",
		InboxCapacity: 4096,
		MakerFeeBps:   -1,
	}
}

// Load reads configuration from .env, the YAML file named by
// AUTOTRADER_CONFIG (if any) and environment variables, then validates it.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("[config] ignoring .env: %v", err)
	}

	cfg := Default()
	if path := os.Getenv("AUTOTRADER_CONFIG"); path != "" {
		if err := cfg.loadYAML(path); err != nil {
			return nil, err
		}
	}
	cfg.loadEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}
	return nil
}

func (c *Config) loadEnvOverrides() {
	e := &c.Engine
	e.PositionLimit = getInt64("POSITION_LIMIT", e.PositionLimit)
	e.LotSize = getInt64("LOT_SIZE", e.LotSize)
	e.TickSize = getInt64("TICK_SIZE", e.TickSize)
	e.MaxLiveOrders = getInt("MAX_LIVE_ORDERS", e.MaxLiveOrders)
	e.MaxOpsPerSecond = getInt("MAX_OPS_PER_SECOND", e.MaxOpsPerSecond)
	e.UnhedgedLotsLimit = getInt64("UNHEDGED_LOTS_LIMIT", e.UnhedgedLotsLimit)
	e.MaxUnhedgedSecs = getInt("MAX_UNHEDGED_SECONDS", e.MaxUnhedgedSecs)
	e.OrderTTLCycles = getInt64("ORDER_TTL_CYCLES", e.OrderTTLCycles)
	e.RiskAversion = getFloat("RISK_AVERSION", e.RiskAversion)
	e.ImbalanceThreshold = getFloat("IMBALANCE_THRESHOLD", e.ImbalanceThreshold)
	e.ImbalanceSkewTicks = getInt64("IMBALANCE_SKEW_TICKS", e.ImbalanceSkewTicks)
	e.ImbalanceMode = getEnv("IMBALANCE_MODE", e.ImbalanceMode)
	e.VolumeWindow = getInt("VOLUME_WINDOW", e.VolumeWindow)
	e.MinTradeObservations = getInt("MIN_TRADE_OBSERVATIONS", e.MinTradeObservations)
	e.TakerFeeBps = getFloat("TAKER_FEE_BPS", e.TakerFeeBps)
	e.ReconcileEveryCycles = getInt64("RECONCILE_EVERY_CYCLES", e.ReconcileEveryCycles)
	e.HedgePricing = getEnv("HEDGE_PRICING", e.HedgePricing)
	e.PullFraction = getFloat("PULL_FRACTION", e.PullFraction)
	e.UnwindSignal = getFloat("UNWIND_SIGNAL", e.UnwindSignal)
	e.FillRateWindow = getInt("FILL_RATE_WINDOW", e.FillRateWindow)

	c.VenueWSURL = getEnv("VENUE_WS_URL", c.VenueWSURL)
	c.MetricsAddr = getEnv("METRICS_ADDR", c.MetricsAddr)
	c.RedisAddr = getEnv("REDIS_ADDR", c.RedisAddr)
	c.RedisPassword = getEnv("REDIS_PASSWORD", c.RedisPassword)
	c.JournalPath = getEnv("JOURNAL_PATH", c.JournalPath)
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
	c.AlertWebhookURL = getEnv("ALERT_WEBHOOK_URL", c.AlertWebhookURL)
	c.InboxCapacity = getInt("INBOX_CAPACITY", c.InboxCapacity)
	c.PaperTrading = getBool("PAPER_TRADING", c.PaperTrading)
	c.MakerFeeBps = getInt64("MAKER_FEE_BPS", c.MakerFeeBps)
}

// Validate checks the engine parameters for internal consistency.
func (c *Config) Validate() error {
	e := c.Engine
	var problems []string
	if e.PositionLimit <= 0 {
		problems = append(problems, "position_limit must be positive")
	}
	if e.LotSize <= 0 || e.LotSize > e.PositionLimit {
		problems = append(problems, "lot_size must be in (0, position_limit]")
	}
	if e.TickSize <= 0 {
		problems = append(problems, "tick_size must be positive")
	}
	if e.MaxLiveOrders < 2 {
		problems = append(problems, "max_live_orders must allow at least one quote pair")
	}
	if e.MaxOpsPerSecond <= 0 || e.MaxOpsPerSecond >= VenueMaxOpsPerSecond {
		problems = append(problems, fmt.Sprintf("max_ops_per_second must be in (0, %d)", VenueMaxOpsPerSecond))
	}
	if e.UnhedgedLotsLimit < 0 {
		problems = append(problems, "unhedged_lots_limit must not be negative")
	}
	if e.OrderTTLCycles <= 0 {
		problems = append(problems, "order_ttl_cycles must be positive")
	}
	if e.RiskAversion <= 0 {
		problems = append(problems, "risk_aversion must be positive")
	}
	if e.ImbalanceThreshold <= 0 || e.ImbalanceThreshold >= 1 {
		problems = append(problems, "imbalance_threshold must be in (0, 1)")
	}
	if e.ImbalanceMode != ImbalanceWiden && e.ImbalanceMode != ImbalanceNarrow {
		problems = append(problems, "imbalance_mode must be widen or narrow")
	}
	if e.VolumeWindow <= 0 {
		problems = append(problems, "volume_window must be positive")
	}
	if e.ReconcileEveryCycles <= 0 {
		problems = append(problems, "reconcile_every_cycles must be positive")
	}
	if e.HedgePricing != HedgeExtreme && e.HedgePricing != HedgeComputed {
		problems = append(problems, "hedge_pricing must be extreme or computed")
	}
	if e.PullFraction <= 0 || e.PullFraction > 1 {
		problems = append(problems, "pull_fraction must be in (0, 1]")
	}
	if e.FillRateWindow <= 0 {
		problems = append(problems, "fill_rate_window must be positive")
	}
	if c.InboxCapacity < 2 {
		problems = append(problems, "inbox_capacity must be at least 2")
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(problems, "; "))
	}
	return nil
}

func getEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func getBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	if err != nil {
		log.Printf("[config] skipping invalid %s=%q", key, v)
		return fallback
	}
	return b
}

func getInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		log.Printf("[config] skipping invalid %s=%q", key, v)
		return fallback
	}
	return n
}

func getInt64(key string, fallback int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
	if err != nil {
		log.Printf("[config] skipping invalid %s=%q", key, v)
		return fallback
	}
	return n
}

func getFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		log.Printf("[config] skipping invalid %s=%q", key, v)
		return fallback
	}
	return f
}
