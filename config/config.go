package config

import (
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/vadiminshakov/tokenswallet/internal/domain"
	"gopkg.in/yaml.v3"
)

const (
	ModeProduction  = "production"
	ModeDevelopment = "development"

	productionAPIURL  = "https://backend.tokenswallet.ru"
	developmentAPIURL = "http://localhost:5000"

	defaultSymbol      = "OPAL"
	defaultDecimals    = 12
	defaultRPCURL      = "wss://rpc-opal.unique.network"
	defaultMaxHistory  = 50
	defaultHTTPAddr    = "127.0.0.1:8080"
	defaultJournalDir  = "./wal/balance"
	defaultStateDir    = "./wal/session"
	defaultLogLevel    = "info"
	defaultRateLimit   = 5
	defaultHTTPTimeout = 30 * time.Second

	defaultReconnectInitial    = time.Second
	defaultReconnectMax        = 5 * time.Second
	defaultReconnectMultiplier = 2.0
	defaultReconnectAttempts   = 5
)

// Config is the validated wallet configuration.
type Config struct {
	Mode   string
	APIURL string
	// Account overrides the address from the user profile.
	Account string
	Token   domain.TokenConfig

	MaxHistory int
	Reconnect  Reconnect

	HTTPAddr       string
	HTTPTimeout    time.Duration
	RateLimit      float64
	JournalDir     string
	StateDir       string
	LogLevel       string
	LogFile        string
	RemoteSettings bool
}

// Reconnect backoff of the balance feed.
type Reconnect struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
	MaxAttempts     int
}

// ConfigTmp is the YAML form of Config.
type ConfigTmp struct {
	Mode    string `yaml:"mode,omitempty"`
	APIURL  string `yaml:"api_url,omitempty"`
	Account string `yaml:"account,omitempty"`

	Symbol        string `yaml:"symbol,omitempty"`
	Chain         string `yaml:"chain,omitempty"`
	RPCURL        string `yaml:"rpc_url,omitempty"`
	DecimalsStr   string `yaml:"decimals,omitempty"`
	SS58PrefixStr string `yaml:"ss58_prefix,omitempty"`

	MaxHistoryStr string `yaml:"max_history,omitempty"`

	ReconnectInitial     time.Duration `yaml:"reconnect_initial,omitempty"`
	ReconnectMax         time.Duration `yaml:"reconnect_max,omitempty"`
	ReconnectMultiplier  string        `yaml:"reconnect_multiplier,omitempty"`
	ReconnectAttemptsStr string        `yaml:"reconnect_attempts,omitempty"`

	HTTPAddr    string        `yaml:"http_addr,omitempty"`
	HTTPTimeout time.Duration `yaml:"http_timeout,omitempty"`
	RateLimit   string        `yaml:"rate_limit,omitempty"`
	JournalDir  string        `yaml:"journal_dir,omitempty"`
	StateDir    string        `yaml:"state_dir,omitempty"`
	LogLevel    string        `yaml:"log_level,omitempty"`
	LogFile     string        `yaml:"log_file,omitempty"`

	// RemoteSettings merges token settings served by the backend; defaults to true.
	RemoteSettings *bool `yaml:"remote_settings,omitempty"`
}

// Invocation is the parsed command line.
type Invocation struct {
	Config     Config
	ConfigPath string
	Setup      bool
	Command    string
	Args       []string
}

// Get parses os.Args.
func Get() (Invocation, error) {
	return Parse(os.Args[1:], os.Stderr)
}

// Parse parses command-line arguments. Flags override values from --config.
func Parse(args []string, output io.Writer) (Invocation, error) {
	fs := flag.NewFlagSet("tokenswallet", flag.ContinueOnError)
	fs.SetOutput(output)

	configPath := fs.String("config", "", "path to yaml config")
	setup := fs.Bool("setup", false, "run the interactive config wizard")
	mode := fs.String("mode", "", "production or development, selects the default backend url")
	apiURL := fs.String("api-url", "", "backend url")
	account := fs.String("account", "", "account address to watch, overrides the logged-in user's address")
	rpcURL := fs.String("rpc-url", "", "chain node websocket url")
	httpAddr := fs.String("http-addr", "", "listen address of the serve command")
	logLevel := fs.String("log-level", "", "log level: debug, info, warn, error")

	if err := fs.Parse(args); err != nil {
		return Invocation{}, err
	}

	raw := ConfigTmp{}
	if *configPath != "" {
		var err error
		raw, err = readYaml(*configPath)
		if err != nil {
			return Invocation{}, err
		}
	}

	overrides := map[*string]string{
		&raw.Mode:     *mode,
		&raw.APIURL:   *apiURL,
		&raw.Account:  *account,
		&raw.RPCURL:   *rpcURL,
		&raw.HTTPAddr: *httpAddr,
		&raw.LogLevel: *logLevel,
	}
	for dst, v := range overrides {
		if v != "" {
			*dst = v
		}
	}

	cfg, err := raw.Convert()
	if err != nil {
		return Invocation{}, err
	}

	inv := Invocation{
		Config:     cfg,
		ConfigPath: *configPath,
		Setup:      *setup,
	}
	if rest := fs.Args(); len(rest) > 0 {
		inv.Command = rest[0]
		inv.Args = rest[1:]
	}

	return inv, nil
}

// Load reads and validates a YAML config file.
func Load(path string) (Config, error) {
	raw, err := readYaml(path)
	if err != nil {
		return Config{}, err
	}
	return raw.Convert()
}

// Save writes raw to path as YAML.
func Save(path string, raw ConfigTmp) error {
	data, err := yaml.Marshal(raw)
	if err != nil {
		return fmt.Errorf("failed to generate yaml: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to save config file: %w", err)
	}
	return nil
}

func readYaml(path string) (ConfigTmp, error) {
	f, err := os.ReadFile(path)
	if err != nil {
		return ConfigTmp{}, err
	}

	var raw ConfigTmp
	if err := yaml.Unmarshal(f, &raw); err != nil {
		return ConfigTmp{}, fmt.Errorf("incorrect yaml config %s: %w", path, err)
	}
	return raw, nil
}

// Convert validates the raw values and fills defaults.
func (c ConfigTmp) Convert() (Config, error) {
	cfg := Config{
		Mode:           strings.ToLower(strings.TrimSpace(c.Mode)),
		Account:        strings.TrimSpace(c.Account),
		HTTPAddr:       orString(c.HTTPAddr, defaultHTTPAddr),
		HTTPTimeout:    defaultHTTPTimeout,
		JournalDir:     orString(c.JournalDir, defaultJournalDir),
		StateDir:       orString(c.StateDir, defaultStateDir),
		LogLevel:       orString(c.LogLevel, defaultLogLevel),
		LogFile:        c.LogFile,
		RemoteSettings: c.RemoteSettings == nil || *c.RemoteSettings,
	}

	switch cfg.Mode {
	case "":
		cfg.Mode = ModeProduction
	case ModeProduction, ModeDevelopment:
	default:
		return Config{}, fmt.Errorf("incorrect 'mode' param in yaml config: %q (production or development)", c.Mode)
	}

	cfg.APIURL = strings.TrimRight(strings.TrimSpace(c.APIURL), "/")
	if cfg.APIURL == "" {
		cfg.APIURL = DefaultAPIURL(cfg.Mode)
	}

	chain := domain.ChainKind(orString(strings.ToLower(c.Chain), string(domain.ChainSubstrate)))
	if !chain.IsValid() {
		return Config{}, fmt.Errorf("incorrect 'chain' param in yaml config: %q", c.Chain)
	}
	cfg.Token = domain.TokenConfig{
		Symbol:        orString(c.Symbol, defaultSymbol),
		ChainEndpoint: orString(c.RPCURL, defaultRPCURL),
		Chain:         chain,
		Decimals:      defaultDecimals,
	}

	if c.DecimalsStr != "" {
		decimals, err := strconv.Atoi(c.DecimalsStr)
		if err != nil || decimals < 0 {
			return Config{}, fmt.Errorf("incorrect 'decimals' param in yaml config (must be a non-negative integer): %q", c.DecimalsStr)
		}
		cfg.Token.Decimals = decimals
	}

	if c.SS58PrefixStr != "" {
		prefix, err := strconv.ParseUint(c.SS58PrefixStr, 10, 14)
		if err != nil {
			return Config{}, fmt.Errorf("incorrect 'ss58_prefix' param in yaml config (0..16383): %w", err)
		}
		p := uint16(prefix)
		cfg.Token.SS58Prefix = &p
	}

	cfg.MaxHistory = defaultMaxHistory
	if c.MaxHistoryStr != "" {
		maxHistory, err := strconv.Atoi(c.MaxHistoryStr)
		if err != nil || maxHistory < 1 {
			return Config{}, fmt.Errorf("incorrect 'max_history' param in yaml config (must be a positive integer): %q", c.MaxHistoryStr)
		}
		cfg.MaxHistory = maxHistory
	}

	reconnect, err := c.reconnect()
	if err != nil {
		return Config{}, err
	}
	cfg.Reconnect = reconnect

	if c.HTTPTimeout > 0 {
		cfg.HTTPTimeout = c.HTTPTimeout
	}

	cfg.RateLimit = defaultRateLimit
	if c.RateLimit != "" {
		rl, err := strconv.ParseFloat(c.RateLimit, 64)
		if err != nil || rl <= 0 {
			return Config{}, fmt.Errorf("incorrect 'rate_limit' param in yaml config (requests per second): %q", c.RateLimit)
		}
		cfg.RateLimit = rl
	}

	if err := cfg.Token.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func (c ConfigTmp) reconnect() (Reconnect, error) {
	r := Reconnect{
		InitialInterval: defaultReconnectInitial,
		MaxInterval:     defaultReconnectMax,
		Multiplier:      defaultReconnectMultiplier,
		MaxAttempts:     defaultReconnectAttempts,
	}

	if c.ReconnectInitial > 0 {
		r.InitialInterval = c.ReconnectInitial
	}
	if c.ReconnectMax > 0 {
		r.MaxInterval = c.ReconnectMax
	}
	if r.MaxInterval < r.InitialInterval {
		return Reconnect{}, fmt.Errorf("incorrect reconnect params in yaml config: reconnect_max %s < reconnect_initial %s", r.MaxInterval, r.InitialInterval)
	}

	if c.ReconnectMultiplier != "" {
		m, err := strconv.ParseFloat(c.ReconnectMultiplier, 64)
		if err != nil || m < 1 {
			return Reconnect{}, fmt.Errorf("incorrect 'reconnect_multiplier' param in yaml config (must be >= 1): %q", c.ReconnectMultiplier)
		}
		r.Multiplier = m
	}

	if c.ReconnectAttemptsStr != "" {
		n, err := strconv.Atoi(c.ReconnectAttemptsStr)
		if err != nil || n < 0 {
			return Reconnect{}, fmt.Errorf("incorrect 'reconnect_attempts' param in yaml config (must be a non-negative integer): %q", c.ReconnectAttemptsStr)
		}
		r.MaxAttempts = n
	}

	return r, nil
}

// DefaultAPIURL backend url for the mode.
func DefaultAPIURL(mode string) string {
	if mode == ModeDevelopment {
		return developmentAPIURL
	}
	return productionAPIURL
}

func orString(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return strings.TrimSpace(v)
}
