package nodescan

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const envPrefix = "NODESCAN"

// Config holds all configuration settings for NodeScan.
type Config struct {
	Log     LogConfig     `mapstructure:"log"`
	RPC     RPCConfig     `mapstructure:"rpc"`
	Sources SourcesConfig `mapstructure:"sources"`
	Cache   CacheConfig   `mapstructure:"cache"`
	Server  ServerConfig  `mapstructure:"server"`
	Poll    PollConfig    `mapstructure:"poll"`
	Store   StoreConfig   `mapstructure:"store"`
	Wallet  WalletConfig  `mapstructure:"wallet"`
}

// RPCConfig lists the Solana JSON-RPC endpoints, tried in order.
type RPCConfig struct {
	Endpoints      []string      `mapstructure:"endpoints"`
	WebsocketURL   string        `mapstructure:"websocket_url"`
	Timeout        time.Duration `mapstructure:"timeout"`
	ConfirmTimeout time.Duration `mapstructure:"confirm_timeout"`
	PollInterval   time.Duration `mapstructure:"poll_interval"`
}

// SourcesConfig holds the base URLs of the REST data sources. An empty URL
// disables the source.
type SourcesConfig struct {
	StakewizURL string        `mapstructure:"stakewiz_url"`
	SolscanURL  string        `mapstructure:"solscan_url"`
	SolanaFMURL string        `mapstructure:"solanafm_url"`
	Timeout     time.Duration `mapstructure:"timeout"`
	RetryMax    int           `mapstructure:"retry_max"`
}

// CacheConfig controls the per-metric caches.
type CacheConfig struct {
	MaxEntries       int           `mapstructure:"max_entries"`
	TotalStakeTTL    time.Duration `mapstructure:"total_stake_ttl"`
	StakeChangesTTL  time.Duration `mapstructure:"stake_changes_ttl"`
	StakeHistoryTTL  time.Duration `mapstructure:"stake_history_ttl"`
	ValidatorInfoTTL time.Duration `mapstructure:"validator_info_ttl"`
	EpochTTL         time.Duration `mapstructure:"epoch_ttl"`
	JanitorInterval  time.Duration `mapstructure:"janitor_interval"`
}

// ServerConfig configures the HTTP service.
type ServerConfig struct {
	Addr              string  `mapstructure:"addr"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
}

// PollConfig configures background refreshes.
type PollConfig struct {
	EpochInterval     time.Duration `mapstructure:"epoch_interval"`
	ValidatorInterval time.Duration `mapstructure:"validator_interval"`
	Watch             []string      `mapstructure:"watch"`
}

// StoreConfig points at the LevelDB directory used to keep the last known
// stake history. An empty path disables persistence.
type StoreConfig struct {
	Path string `mapstructure:"path"`
}

// WalletConfig configures the wallet connectors and the session file.
type WalletConfig struct {
	SessionFile string `mapstructure:"session_file"`
	KeypairPath string `mapstructure:"keypair_path"`
	WatchPubkey string `mapstructure:"watch_pubkey"`
}

// flagKeys maps command line flag names onto configuration keys.
var flagKeys = map[string]string{
	"log-level":  "log.level",
	"rpc":        "rpc.endpoints",
	"addr":       "server.addr",
	"store":      "store.path",
	"validators": "poll.watch",
}

// Load reads the configuration from defaults, an optional file, environment
// variables prefixed with NODESCAN_ and, when given, command line flags.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if flags != nil {
		for name, key := range flagKeys {
			flag := flags.Lookup(name)
			if flag == nil {
				continue
			}
			if err := v.BindPFlag(key, flag); err != nil {
				return nil, fmt.Errorf("bind flag %s: %w", name, err)
			}
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// DefaultConfig returns the configuration produced by defaults alone.
func DefaultConfig() Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	_ = v.Unmarshal(&cfg)
	return cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 50)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("log.max_age_days", 14)

	v.SetDefault("rpc.endpoints", []string{
		"https://api.mainnet-beta.solana.com",
		"https://solana-rpc.publicnode.com",
		"https://solana.drpc.org",
	})
	v.SetDefault("rpc.websocket_url", "")
	v.SetDefault("rpc.timeout", "10s")
	v.SetDefault("rpc.confirm_timeout", "60s")
	v.SetDefault("rpc.poll_interval", "2s")

	v.SetDefault("sources.stakewiz_url", "https://api.stakewiz.com")
	v.SetDefault("sources.solscan_url", "https://solscan.io")
	v.SetDefault("sources.solanafm_url", "https://api.solana.fm")
	v.SetDefault("sources.timeout", "8s")
	v.SetDefault("sources.retry_max", 1)

	v.SetDefault("cache.max_entries", 1000)
	v.SetDefault("cache.total_stake_ttl", "2m")
	v.SetDefault("cache.stake_changes_ttl", "1m")
	v.SetDefault("cache.stake_history_ttl", "5m")
	v.SetDefault("cache.validator_info_ttl", "5m")
	v.SetDefault("cache.epoch_ttl", "25s")
	v.SetDefault("cache.janitor_interval", "1m")

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.requests_per_second", 20.0)

	v.SetDefault("poll.epoch_interval", "30s")
	v.SetDefault("poll.validator_interval", "3m")
	v.SetDefault("poll.watch", []string{})

	v.SetDefault("store.path", "")

	v.SetDefault("wallet.session_file", "nodescan-wallet.json")
	v.SetDefault("wallet.keypair_path", "")
	v.SetDefault("wallet.watch_pubkey", "")
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if len(c.RPC.Endpoints) == 0 {
		return fmt.Errorf("rpc: at least one endpoint is required")
	}
	for _, endpoint := range c.RPC.Endpoints {
		if err := validateURL(endpoint); err != nil {
			return fmt.Errorf("rpc endpoint %q: %w", endpoint, err)
		}
	}
	if c.RPC.WebsocketURL != "" {
		if err := validateURL(c.RPC.WebsocketURL); err != nil {
			return fmt.Errorf("rpc websocket %q: %w", c.RPC.WebsocketURL, err)
		}
	}
	if err := validateTimeout("rpc.timeout", c.RPC.Timeout); err != nil {
		return err
	}
	if err := validateTimeout("sources.timeout", c.Sources.Timeout); err != nil {
		return err
	}
	if c.RPC.PollInterval <= 0 {
		return fmt.Errorf("rpc.poll_interval must be positive")
	}
	if c.Sources.RetryMax < 0 {
		return fmt.Errorf("sources.retry_max cannot be negative")
	}
	for name, raw := range map[string]string{
		"stakewiz": c.Sources.StakewizURL,
		"solscan":  c.Sources.SolscanURL,
		"solanafm": c.Sources.SolanaFMURL,
	} {
		if raw == "" {
			continue
		}
		if err := validateURL(raw); err != nil {
			return fmt.Errorf("sources.%s_url: %w", name, err)
		}
	}
	if c.Cache.MaxEntries <= 0 {
		return fmt.Errorf("cache.max_entries must be positive")
	}
	if c.Poll.EpochInterval <= 0 || c.Poll.ValidatorInterval <= 0 {
		return fmt.Errorf("poll intervals must be positive")
	}
	for _, vote := range c.Poll.Watch {
		if !ValidateVotePubkey(vote) {
			return fmt.Errorf("poll.watch: %w: %q", ErrInvalidPubkey, vote)
		}
	}
	return nil
}

func validateTimeout(name string, d time.Duration) error {
	if d < time.Second || d > time.Minute {
		return fmt.Errorf("%s must be between 1s and 1m, got %s", name, d)
	}
	return nil
}

func validateURL(raw string) error {
	parsed, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return fmt.Errorf("missing scheme or host")
	}
	return nil
}

// websocketURL returns the configured websocket endpoint or derives one from
// the first RPC endpoint.
func (c RPCConfig) websocketURL() string {
	if c.WebsocketURL != "" {
		return c.WebsocketURL
	}
	if len(c.Endpoints) == 0 {
		return ""
	}
	parsed, err := url.Parse(c.Endpoints[0])
	if err != nil {
		return ""
	}
	switch parsed.Scheme {
	case "https":
		parsed.Scheme = "wss"
	case "http":
		parsed.Scheme = "ws"
	default:
		return ""
	}
	return parsed.String()
}
