package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

var ErrInvalid = errors.New("invalid configuration")

type Config struct {
	RunAddress  string        `mapstructure:"run_address"`
	LogLevel    string        `mapstructure:"log_level"`
	DatabaseURI string        `mapstructure:"database_uri"`
	FailureFile string        `mapstructure:"failure_file"`
	RedisAddr   string        `mapstructure:"redis_addr"`
	HTTPTimeout time.Duration `mapstructure:"http_timeout"`

	Admin       Admin       `mapstructure:"admin"`
	Webhook     Webhook     `mapstructure:"webhook"`
	Cleanup     Cleanup     `mapstructure:"cleanup"`
	OrderSource OrderSource `mapstructure:"order_source"`
	Accounts    Accounts    `mapstructure:"accounts"`
	Plans       Plans       `mapstructure:"plans"`
	Ticket      Ticket      `mapstructure:"ticket"`
	Mail        Mail        `mapstructure:"mail"`
}

type Admin struct {
	User         string `mapstructure:"user"`
	PasswordHash string `mapstructure:"password_hash"`
	JWTSecret    string `mapstructure:"jwt_secret"`
}

type Webhook struct {
	RPS   float64 `mapstructure:"rps"`
	Burst int     `mapstructure:"burst"`
}

type Cleanup struct {
	Interval  time.Duration `mapstructure:"interval"`
	AfterDays int           `mapstructure:"after_days"`
}

type OrderSource struct {
	BaseURL string `mapstructure:"base_url"`
	APIKey  string `mapstructure:"api_key"`
	// Lookup errors containing any of these are recorded but not mailed.
	BenignErrors []string `mapstructure:"benign_errors"`
}

type Accounts struct {
	BaseURL          string        `mapstructure:"base_url"`
	APIURL           string        `mapstructure:"api_url"`
	APIKey           string        `mapstructure:"api_key"`
	PortalPassword   string        `mapstructure:"portal_password"`
	VerifySSL        bool          `mapstructure:"verify_ssl"`
	CreateAttempts   int           `mapstructure:"create_attempts"`
	CreateRetryDelay time.Duration `mapstructure:"create_retry_delay"`
	PlanQuantity     int           `mapstructure:"plan_quantity"`
	// AccountViewURL is a format string taking the account id.
	AccountViewURL string `mapstructure:"account_view_url"`
}

type PlanMapping struct {
	Description string `mapstructure:"description" json:"description" yaml:"description"`
	ID          int    `mapstructure:"id" json:"id" yaml:"id"`
}

type Plans struct {
	Mappings  []PlanMapping `mapstructure:"mappings"`
	DefaultID int           `mapstructure:"default_id"`
	BondFeeID int           `mapstructure:"bond_fee_id"`
}

type Ticket struct {
	TemplateDir        string `mapstructure:"template_dir"`
	TemplateID         string `mapstructure:"template_id"`
	Summary            string `mapstructure:"summary"`
	Category           int    `mapstructure:"category"`
	Type               int    `mapstructure:"type"`
	Status             int    `mapstructure:"status"`
	ResponsibleUser    string `mapstructure:"responsible_user"`
	ResponsibleGroupID int    `mapstructure:"responsible_group_id"`
	CustomerViewable   bool   `mapstructure:"customer_viewable"`
}

type Mail struct {
	Server         string   `mapstructure:"server"`
	Port           int      `mapstructure:"port"`
	Sender         string   `mapstructure:"sender"`
	Recipients     []string `mapstructure:"recipients"`
	AttachContract bool     `mapstructure:"attach_contract"`
}

// Options point Load at its sources. Empty paths are skipped.
type Options struct {
	ConfigFile string
	EnvFile    string
	// RunAddress and DatabaseURI come from command-line flags and sit
	// below the environment, the same way the flag defaults do.
	RunAddress  string
	DatabaseURI string
}

func Default() *Config {
	return &Config{
		RunAddress:  "0.0.0.0:5050",
		LogLevel:    "info",
		FailureFile: "failed_orders.json",
		HTTPTimeout: 30 * time.Second,
		Webhook:     Webhook{RPS: 5, Burst: 10},
		Cleanup:     Cleanup{Interval: 24 * time.Hour, AfterDays: 30},
		OrderSource: OrderSource{
			BenignErrors: []string{"No order found"},
		},
		Accounts: Accounts{
			VerifySSL:        true,
			CreateAttempts:   3,
			CreateRetryDelay: 5 * time.Second,
			PlanQuantity:     5,
		},
		Plans: Plans{
			Mappings: []PlanMapping{
				{Description: "1 Gbps", ID: 164},
				{Description: "250 Mbps", ID: 163},
			},
			DefaultID: 163,
			BondFeeID: 172,
		},
		Ticket: Ticket{
			TemplateID:         "welcome_ticket",
			Summary:            "BZN - Customer has requested Global Net Fiber Service",
			Category:           54,
			Type:               21,
			Status:             1,
			ResponsibleUser:    "Sales",
			ResponsibleGroupID: 4,
			CustomerViewable:   true,
		},
		Mail: Mail{Port: 25, AttachContract: true},
	}
}

// Load builds a snapshot from defaults, the YAML file, flags, the .env
// file and the process environment, in increasing precedence. The process
// environment is never modified.
func Load(opts Options) (*Config, error) {
	cfg := Default()

	if opts.ConfigFile != "" {
		if err := loadFile(opts.ConfigFile, cfg); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", opts.ConfigFile, err)
		}
	}

	if opts.RunAddress != "" {
		cfg.RunAddress = opts.RunAddress
	}
	if opts.DatabaseURI != "" {
		cfg.DatabaseURI = opts.DatabaseURI
	}

	dotenv := map[string]string{}
	if opts.EnvFile != "" {
		m, err := godotenv.Read(opts.EnvFile)
		switch {
		case err == nil:
			dotenv = m
		case errors.Is(err, os.ErrNotExist):
		default:
			return nil, fmt.Errorf("read env file %s: %w", opts.EnvFile, err)
		}
	}

	e := &env{dotenv: dotenv}
	e.apply(cfg)
	if len(e.errs) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrInvalid, strings.Join(e.errs, "; "))
	}

	cfg.fillDerived()
	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	if _, err := os.Stat(path); err != nil {
		return err
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		return err
	}

	// Lists in the file replace the defaults instead of merging by index.
	if v.IsSet("plans.mappings") {
		cfg.Plans.Mappings = nil
	}
	if v.IsSet("order_source.benign_errors") {
		cfg.OrderSource.BenignErrors = nil
	}
	if v.IsSet("mail.recipients") {
		cfg.Mail.Recipients = nil
	}

	return v.Unmarshal(cfg)
}

func (c *Config) fillDerived() {
	base := strings.TrimRight(c.Accounts.BaseURL, "/")
	if c.Accounts.APIURL == "" && base != "" {
		c.Accounts.APIURL = base + ":444/api/1/index.php"
	}
	if c.Accounts.AccountViewURL == "" && base != "" {
		c.Accounts.AccountViewURL = base + ":444/index.php?q&page=/customers/_view.php&customerid=%s"
	}
}

// Validate reports every missing key the provisioning path needs at once.
func (c *Config) Validate() error {
	required := []struct {
		key   string
		value string
	}{
		{"PC_API_KEY", c.Accounts.APIKey},
		{"UTOPIA_API_KEY", c.OrderSource.APIKey},
		{"PC_URL", c.Accounts.BaseURL},
		{"UTOPIA_URL_ENDPOINT", c.OrderSource.BaseURL},
		{"MAIL_SERVER", c.Mail.Server},
		{"EMAIL_SENDER", c.Mail.Sender},
		{"EMAIL_RECIPIENTS", strings.Join(c.Mail.Recipients, ",")},
		{"CUSTOMER_PORTAL_PASSWORD", c.Accounts.PortalPassword},
	}

	var missing []string
	for _, r := range required {
		if strings.TrimSpace(r.value) == "" {
			missing = append(missing, r.key)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing required settings: %s", ErrInvalid, strings.Join(missing, ", "))
	}
	if c.Accounts.CreateAttempts < 1 {
		return fmt.Errorf("%w: create attempts must be at least 1", ErrInvalid)
	}
	return nil
}

func (c *Config) SlogLevel() slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return lvl
}

// PlanID returns the configured id for an exact plan description.
func (p Plans) PlanID(description string) (int, bool) {
	for _, m := range p.Mappings {
		if m.Description == description {
			return m.ID, true
		}
	}
	return 0, false
}

func (p *Plans) setPlan(description string, id int) {
	for i := range p.Mappings {
		if p.Mappings[i].Description == description {
			p.Mappings[i].ID = id
			return
		}
	}
	p.Mappings = append(p.Mappings, PlanMapping{Description: description, ID: id})
}

type env struct {
	dotenv map[string]string
	errs   []string
}

func (e *env) lookup(key string) (string, bool) {
	if v, ok := os.LookupEnv(key); ok {
		return v, true
	}
	v, ok := e.dotenv[key]
	return v, ok
}

func (e *env) str(key string, dst *string) {
	if v, ok := e.lookup(key); ok {
		*dst = v
	}
}

func (e *env) integer(key string, dst *int) {
	v, ok := e.lookup(key)
	if !ok || v == "" {
		return
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		e.errs = append(e.errs, fmt.Sprintf("%s: not an integer: %q", key, v))
		return
	}
	*dst = n
}

func (e *env) float(key string, dst *float64) {
	v, ok := e.lookup(key)
	if !ok || v == "" {
		return
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		e.errs = append(e.errs, fmt.Sprintf("%s: not a number: %q", key, v))
		return
	}
	*dst = f
}

func (e *env) boolean(key string, dst *bool) {
	v, ok := e.lookup(key)
	if !ok || v == "" {
		return
	}
	*dst = strings.EqualFold(strings.TrimSpace(v), "true")
}

func (e *env) duration(key string, dst *time.Duration) {
	v, ok := e.lookup(key)
	if !ok || v == "" {
		return
	}
	d, err := time.ParseDuration(strings.TrimSpace(v))
	if err != nil {
		e.errs = append(e.errs, fmt.Sprintf("%s: not a duration: %q", key, v))
		return
	}
	*dst = d
}

func (e *env) list(key string, dst *[]string) {
	v, ok := e.lookup(key)
	if !ok {
		return
	}
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	*dst = out
}

func (e *env) plan(key, description string, p *Plans) {
	id := 0
	e.integer(key, &id)
	if id != 0 {
		p.setPlan(description, id)
	}
}

func (e *env) apply(c *Config) {
	e.str("RUN_ADDRESS", &c.RunAddress)
	e.str("LOG_LEVEL", &c.LogLevel)
	e.str("DATABASE_URI", &c.DatabaseURI)
	e.str("FAILURE_FILE", &c.FailureFile)
	e.str("REDIS_ADDR", &c.RedisAddr)
	e.duration("HTTP_TIMEOUT", &c.HTTPTimeout)

	e.str("ADMIN_USER", &c.Admin.User)
	e.str("ADMIN_PASSWORD_HASH", &c.Admin.PasswordHash)
	e.str("JWT_SECRET", &c.Admin.JWTSecret)

	e.float("WEBHOOK_RPS", &c.Webhook.RPS)
	e.integer("WEBHOOK_BURST", &c.Webhook.Burst)

	e.duration("CLEANUP_INTERVAL", &c.Cleanup.Interval)
	e.integer("CLEANUP_AFTER_DAYS", &c.Cleanup.AfterDays)

	e.str("UTOPIA_URL_ENDPOINT", &c.OrderSource.BaseURL)
	e.str("UTOPIA_API_KEY", &c.OrderSource.APIKey)
	e.list("BENIGN_ORDER_ERRORS", &c.OrderSource.BenignErrors)

	e.str("PC_URL", &c.Accounts.BaseURL)
	e.str("PC_URL_API", &c.Accounts.APIURL)
	e.str("PC_API_KEY", &c.Accounts.APIKey)
	e.str("CUSTOMER_PORTAL_PASSWORD", &c.Accounts.PortalPassword)
	e.boolean("PC_VERIFY_SSL", &c.Accounts.VerifySSL)
	e.integer("PC_CREATE_ATTEMPTS", &c.Accounts.CreateAttempts)
	e.duration("PC_CREATE_RETRY_DELAY", &c.Accounts.CreateRetryDelay)
	e.str("ACCOUNT_VIEW_URL", &c.Accounts.AccountViewURL)

	e.plan("SERVICE_PLAN_1GBPS_ID", "1 Gbps", &c.Plans)
	e.plan("SERVICE_PLAN_250MBPS_ID", "250 Mbps", &c.Plans)
	e.integer("SERVICE_PLAN_DEFAULT_ID", &c.Plans.DefaultID)
	e.integer("SERVICE_PLAN_BOND_FEE_ID", &c.Plans.BondFeeID)

	e.str("TICKET_TEMPLATE_DIR", &c.Ticket.TemplateDir)
	e.str("TICKET_TEMPLATE_ID", &c.Ticket.TemplateID)
	e.str("TICKET_SUMMARY", &c.Ticket.Summary)

	e.str("MAIL_SERVER", &c.Mail.Server)
	e.integer("MAIL_PORT", &c.Mail.Port)
	e.str("EMAIL_SENDER", &c.Mail.Sender)
	e.list("EMAIL_RECIPIENTS", &c.Mail.Recipients)
	e.boolean("MAIL_ATTACH_CONTRACT", &c.Mail.AttachContract)
}

// Holder publishes the current snapshot. Readers take a pointer once per
// request; a reload swaps the pointer without touching old snapshots.
type Holder struct {
	cur  atomic.Pointer[Config]
	load func() (*Config, error)
}

func NewHolder(cfg *Config, load func() (*Config, error)) *Holder {
	h := &Holder{load: load}
	h.cur.Store(cfg)
	return h
}

func (h *Holder) Current() *Config {
	return h.cur.Load()
}

// Reload rebuilds and validates a snapshot. On error the current one stays.
func (h *Holder) Reload() (*Config, error) {
	if h.load == nil {
		return nil, fmt.Errorf("%w: reload not supported", ErrInvalid)
	}
	cfg, err := h.load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	h.cur.Store(cfg)
	return cfg, nil
}
