package config

import (
	"errors"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// NyLoc is the exchange time zone; run dates are taken in it so that a
// cycle started after midnight UTC still belongs to the US trading day.
var NyLoc = loadLocation("America/New_York", -5*3600)

// Config holds the runtime knobs read from the environment.
type Config struct {
	Version string

	// Portfolio
	PortfolioFile         string
	CapitalDefault        float64
	CapitalSyncWithBroker bool
	AssumeFills           bool

	// Risk knobs
	MicroCapLimit      float64
	ADVPctCap          float64
	SizingTargetWeight float64
	SizingRiskPct      float64

	// Paths
	DataDir         string
	OutDir          string
	MetricsTextfile string

	// Market data
	MarketDataFeed     string
	MarketSnapshotFile string // optional JSON overlay, e.g. market caps
	FetchConcurrency   int
	FetchTimeoutSec    int

	// Logging
	LogLevel      string
	LogFile       string
	MaxLogSizeMB  int64
	MaxLogBackups int

	// Notifications and review
	TelegramBotToken string
	TelegramChatID   string
	ReviewWithAI     bool
	GeminiAPIKey     string
	GeminiModel      string
}

// secretVars are masked when the .env content is echoed to the log.
var secretVars = map[string]bool{
	"APCA_API_KEY_ID":     true,
	"APCA_API_SECRET_KEY": true,
	"TELEGRAM_BOT_TOKEN":  true,
	"GEMINI_API_KEY":      true,
}

// alpacaVars are needed by every command that touches market data.
var alpacaVars = []string{"APCA_API_KEY_ID", "APCA_API_SECRET_KEY"}

// ErrMissingCredentials is returned by RequireMarketData.
var ErrMissingCredentials = errors.New("missing market data credentials")

// Load initializes the configuration.
// It tries to read a .env file, then builds the Config from the environment
// with defaults for everything optional.
func Load() *Config {
	// Load .env variables into the process environment
	if err := godotenv.Load(); err != nil {
		log.Println("Warning: No .env file found, using system environment variables")
	}

	dataDir := getEnv("DATA_DIR", "data")

	cfg := &Config{
		PortfolioFile:         getEnv("PORTFOLIO_FILE", "portfolio.yaml"),
		CapitalDefault:        getEnvAsFloat64("CAPITAL_DEFAULT", 100000),
		CapitalSyncWithBroker: getEnvAsBool("CAPITAL_SYNC_WITH_BROKER", false),
		AssumeFills:           getEnvAsBool("ASSUME_FILLS", false),

		MicroCapLimit:      getEnvAsFloat64("FILTER_MARKET_CAP_MAX", 300_000_000),
		ADVPctCap:          getEnvAsPct("SIZING_ADV_PCT_CAP", 0.15),
		SizingTargetWeight: getEnvAsPct("SIZING_TARGET_WEIGHT", 0.06),
		SizingRiskPct:      getEnvAsPct("SIZING_RISK_PCT", 0.0075),

		DataDir:         dataDir,
		OutDir:          getEnv("OUT_DIR", "out"),
		MetricsTextfile: getEnv("METRICS_TEXTFILE", ""),

		MarketDataFeed:     getEnv("MARKET_DATA_FEED", "iex"),
		MarketSnapshotFile: os.Getenv("MARKET_SNAPSHOT_FILE"),
		FetchConcurrency:   getEnvAsInt("FETCH_CONCURRENCY", 4),
		FetchTimeoutSec:    getEnvAsInt("FETCH_TIMEOUT_SEC", 15),

		LogLevel:      getEnv("LOG_LEVEL", "INFO"),
		LogFile:       getEnv("LOG_FILE", filepath.Join(dataDir, "portfolio_runner.log")),
		MaxLogSizeMB:  int64(getEnvAsInt("LOG_MAX_SIZE_MB", 10)),
		MaxLogBackups: getEnvAsInt("LOG_MAX_BACKUPS", 3),

		TelegramBotToken: os.Getenv("TELEGRAM_BOT_TOKEN"),
		TelegramChatID:   os.Getenv("TELEGRAM_CHAT_ID"),
		ReviewWithAI:     getEnvAsBool("REVIEW_WITH_AI", false),
		GeminiAPIKey:     os.Getenv("GEMINI_API_KEY"),
		GeminiModel:      getEnv("GEMINI_MODEL", "gemini-2.5-flash"),
	}

	if cfg.FetchConcurrency < 1 {
		cfg.FetchConcurrency = 1
	}

	return cfg
}

// LogEnvFile prints the variables defined in the .env file, masking secrets.
func LogEnvFile() {
	envMap, err := godotenv.Read()
	if err != nil {
		return
	}
	log.Println("--- .env File Variables ---")
	for key, val := range envMap {
		if secretVars[key] {
			// show only the last 4 chars
			masked := "***"
			if len(val) > 4 {
				masked = "***" + val[len(val)-4:]
			}
			log.Printf("%s=%s", key, masked)
		} else {
			log.Printf("%s=%s", key, val)
		}
	}
	log.Println("---------------------------")
}

// RequireMarketData checks the Alpaca credentials the market-data client
// reads from the environment.
func RequireMarketData() error {
	var missing []string
	for _, key := range alpacaVars {
		if os.Getenv(key) == "" {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		return &MissingEnvError{Keys: missing}
	}
	return nil
}

// MissingEnvError lists the unset variables.
type MissingEnvError struct {
	Keys []string
}

func (e *MissingEnvError) Error() string {
	return ErrMissingCredentials.Error() + ": " + strings.Join(e.Keys, ", ")
}

func (e *MissingEnvError) Unwrap() error { return ErrMissingCredentials }

// StatePath is the location of the persisted portfolio state.
func (c *Config) StatePath() string { return filepath.Join(c.DataDir, "state.json") }

// JournalPath is the location of the SQLite cycle journal.
func (c *Config) JournalPath() string { return filepath.Join(c.DataDir, "journal.db") }

// TelegramEnabled reports whether both Telegram settings are present.
func (c *Config) TelegramEnabled() bool {
	return c.TelegramBotToken != "" && c.TelegramChatID != ""
}

func loadLocation(name string, fallbackOffset int) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.FixedZone("EST", fallbackOffset)
	}
	return loc
}
