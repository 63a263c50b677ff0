package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/punchamoorthee/stkledger/internal/store"
)

type Config struct {
	Port string
	Env  string

	// DBSource is optional. When set it enables the service catalog and
	// the postgres ledger backend.
	DBSource string

	MpesaBaseURL    string
	ConsumerKey     string
	ConsumerSecret  string
	ShortCode       string
	PassKey         string
	CallbackURL     string
	Location        *time.Location
	HTTPTimeout     time.Duration
	TokenMaxRetries uint64

	LedgerBackend string
	LedgerFile    string
	CallbackFile  string
	SQLitePath    string

	CORSOrigins []string

	SMTPHost    string
	SMTPPort    int
	SMTPUser    string
	SMTPPass    string
	SMTPSender  string
	NotifyEmail string
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("SERVER_PORT", "5000")
	v.SetDefault("ENVIRONMENT", "development")
	v.SetDefault("MPESA_BASE_URL", "https://sandbox.safaricom.co.ke")
	v.SetDefault("CALLBACK_URL", "http://localhost:5000/api/callback")
	v.SetDefault("MPESA_TIMEZONE", "Africa/Nairobi")
	v.SetDefault("HTTP_TIMEOUT", "15s")
	v.SetDefault("TOKEN_MAX_RETRIES", 3)
	v.SetDefault("LEDGER_BACKEND", store.BackendFile)
	v.SetDefault("LEDGER_FILE", "transactions.json")
	v.SetDefault("CALLBACK_FILE", "stkcallback.json")
	v.SetDefault("SQLITE_PATH", "ledger.db")
	v.SetDefault("CORS_ORIGINS", "*")
	v.SetDefault("SMTP_PORT", 465)
}

// Load reads .env (if present), an optional YAML file named by CONFIG_FILE,
// and the process environment, which wins over both.
func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()

	if path := v.GetString("CONFIG_FILE"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
	}
	return fromViper(v)
}

func fromViper(v *viper.Viper) (*Config, error) {
	timeout, err := time.ParseDuration(v.GetString("HTTP_TIMEOUT"))
	if err != nil {
		return nil, fmt.Errorf("HTTP_TIMEOUT: %w", err)
	}

	cfg := &Config{
		Port:            v.GetString("SERVER_PORT"),
		Env:             v.GetString("ENVIRONMENT"),
		DBSource:        v.GetString("DB_SOURCE"),
		MpesaBaseURL:    strings.TrimRight(v.GetString("MPESA_BASE_URL"), "/"),
		ConsumerKey:     v.GetString("CONSUMER_KEY"),
		ConsumerSecret:  v.GetString("CONSUMER_SECRET"),
		ShortCode:       v.GetString("SHORTCODE"),
		PassKey:         v.GetString("PASSKEY"),
		CallbackURL:     v.GetString("CALLBACK_URL"),
		Location:        loadLocation(v.GetString("MPESA_TIMEZONE")),
		HTTPTimeout:     timeout,
		TokenMaxRetries: uint64(v.GetInt("TOKEN_MAX_RETRIES")),
		LedgerBackend:   strings.ToLower(v.GetString("LEDGER_BACKEND")),
		LedgerFile:      v.GetString("LEDGER_FILE"),
		CallbackFile:    v.GetString("CALLBACK_FILE"),
		SQLitePath:      v.GetString("SQLITE_PATH"),
		CORSOrigins:     splitList(v.GetString("CORS_ORIGINS")),
		SMTPHost:        v.GetString("SMTP_HOST"),
		SMTPPort:        v.GetInt("SMTP_PORT"),
		SMTPUser:        v.GetString("SMTP_USER"),
		SMTPPass:        v.GetString("SMTP_PASS"),
		SMTPSender:      v.GetString("SMTP_SENDER"),
		NotifyEmail:     v.GetString("NOTIFY_EMAIL"),
	}

	switch cfg.LedgerBackend {
	case store.BackendFile, store.BackendSQLite:
	case store.BackendPostgres:
		if cfg.DBSource == "" {
			return nil, fmt.Errorf("LEDGER_BACKEND=postgres requires DB_SOURCE")
		}
	default:
		return nil, fmt.Errorf("unknown LEDGER_BACKEND %q", cfg.LedgerBackend)
	}
	return cfg, nil
}

// Validate lists the gateway settings that are still missing. Payments fail
// per request until they are provided; the process keeps running.
func (c *Config) Validate() []string {
	var missing []string
	for _, kv := range [][2]string{
		{"CONSUMER_KEY", c.ConsumerKey},
		{"CONSUMER_SECRET", c.ConsumerSecret},
		{"SHORTCODE", c.ShortCode},
		{"PASSKEY", c.PassKey},
	} {
		if kv[1] == "" {
			missing = append(missing, kv[0])
		}
	}
	return missing
}

// MailEnabled reports whether enough SMTP settings exist to send email.
func (c *Config) MailEnabled() bool {
	return c.SMTPHost != "" && c.SMTPSender != "" && c.NotifyEmail != ""
}

// loadLocation falls back to a fixed East Africa Time zone when the tz
// database is not available.
func loadLocation(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.FixedZone("EAT", 3*60*60)
	}
	return loc
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// LedgerOptions selects and locates the ledger backend.
func (c *Config) LedgerOptions() store.Options {
	return store.Options{
		Backend:      c.LedgerBackend,
		LedgerFile:   c.LedgerFile,
		CallbackFile: c.CallbackFile,
		SQLitePath:   c.SQLitePath,
		DBSource:     c.DBSource,
	}
}
