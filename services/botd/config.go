package botd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"

	"llamabot/services/botd/contract"
)

// Duration wraps time.Duration to support YAML and TOML unmarshalling.
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses human readable duration strings.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value == nil {
		return nil
	}
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("duration must be string")
	}
	return d.UnmarshalText([]byte(value.Value))
}

// UnmarshalText parses human readable duration strings.
func (d *Duration) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))
	if raw == "" {
		d.Duration = 0
		return nil
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	d.Duration = parsed
	return nil
}

// Config captures the runtime configuration for botd.
type Config struct {
	ListenAddress string         `yaml:"listen" toml:"listen"`
	Env           string         `yaml:"env" toml:"env"`
	LogFile       string         `yaml:"log_file" toml:"log_file"`
	LogLevel      string         `yaml:"log_level" toml:"log_level"`
	PauseOnStart  bool           `yaml:"pause" toml:"pause"`
	Schedule      ScheduleConfig `yaml:"schedule" toml:"schedule"`
	Admin         AdminConfig    `yaml:"admin" toml:"admin"`
	Signer        SignerConfig   `yaml:"signer" toml:"signer"`
	Chains        []ChainConfig  `yaml:"chains" toml:"chains"`
}

// ScheduleConfig selects when runs fire. A non-zero interval wins over the
// daily run time.
type ScheduleConfig struct {
	Interval  Duration `yaml:"interval" toml:"interval"`
	RunHour   int      `yaml:"run_hour" toml:"run_hour"`
	RunMinute int      `yaml:"run_minute" toml:"run_minute"`
	Timeout   Duration `yaml:"timeout" toml:"timeout"`
}

// AdminConfig captures security settings for the admin API.
type AdminConfig struct {
	BearerToken     string `yaml:"bearer_token" toml:"bearer_token"`
	BearerTokenFile string `yaml:"bearer_token_file" toml:"bearer_token_file"`
}

// SignerConfig locates the operator key that submits batches.
type SignerConfig struct {
	Key           string `yaml:"key" toml:"key"`
	KeyEnv        string `yaml:"key_env" toml:"key_env"`
	KeyFile       string `yaml:"key_file" toml:"key_file"`
	Keystore      string `yaml:"keystore" toml:"keystore"`
	PassphraseEnv string `yaml:"passphrase_env" toml:"passphrase_env"`
}

// SubgraphConfig configures the stream directory.
type SubgraphConfig struct {
	Endpoint  string   `yaml:"endpoint" toml:"endpoint"`
	Timeout   Duration `yaml:"timeout" toml:"timeout"`
	PageSize  int      `yaml:"page_size" toml:"page_size"`
	RateLimit float64  `yaml:"rate_limit" toml:"rate_limit"`
}

// LayoutConfig overrides the bundled ABI and event field positions for
// scheduler deployments with a different event shape.
type LayoutConfig struct {
	ABIFile  string                   `yaml:"abi_file" toml:"abi_file"`
	Withdraw *contract.LayoutOverride `yaml:"withdraw" toml:"withdraw"`
	Redirect *contract.LayoutOverride `yaml:"redirect" toml:"redirect"`
}

// WithdrawLayout merges the withdraw override over the bundled layout. Nil
// keeps the bundled layout.
func (l LayoutConfig) WithdrawLayout() *contract.Layout {
	if l.Withdraw == nil {
		return nil
	}
	layout := l.Withdraw.Apply(contract.DefaultWithdrawLayout())
	return &layout
}

// RedirectLayout merges the redirect override over the bundled layout.
func (l LayoutConfig) RedirectLayout() *contract.Layout {
	if l.Redirect == nil {
		return nil
	}
	layout := l.Redirect.Apply(contract.DefaultRedirectLayout())
	return &layout
}

// Directory sources for wildcard expansion.
const (
	DirectorySubgraph = "subgraph"
	DirectoryNone     = "none"
)

// ChainConfig describes one scheduler deployment.
type ChainConfig struct {
	Name         string         `yaml:"name" toml:"name"`
	RPC          string         `yaml:"rpc" toml:"rpc"`
	ChainID      uint64         `yaml:"chain_id" toml:"chain_id"`
	Contract     string         `yaml:"contract" toml:"contract"`
	StartBlock   uint64         `yaml:"start_block" toml:"start_block"`
	MaxBlockSpan uint64         `yaml:"max_block_span" toml:"max_block_span"`
	RPCRateLimit float64        `yaml:"rpc_rate_limit" toml:"rpc_rate_limit"`
	Redirects    bool           `yaml:"redirects" toml:"redirects"`
	Directory    string         `yaml:"directory" toml:"directory"`
	Subgraph     SubgraphConfig `yaml:"subgraph" toml:"subgraph"`
	GasHeadroom  uint64         `yaml:"gas_headroom" toml:"gas_headroom"`
	DryRun       bool           `yaml:"dry_run" toml:"dry_run"`
	Layout       LayoutConfig   `yaml:"layout" toml:"layout"`
}

// ContractAddress returns the parsed scheduler address.
func (c ChainConfig) ContractAddress() common.Address {
	return common.HexToAddress(c.Contract)
}

// LoadConfig reads configuration from the supplied path. Files ending in
// .toml are decoded as TOML, everything else as YAML.
func LoadConfig(path string) (Config, error) {
	cfg := Config{}
	file, err := os.Open(path)
	if err != nil {
		return cfg, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if _, err := toml.NewDecoder(file).Decode(&cfg); err != nil {
			return cfg, fmt.Errorf("decode config: %w", err)
		}
	default:
		dec := yaml.NewDecoder(file)
		dec.KnownFields(true)
		if err := dec.Decode(&cfg); err != nil {
			return cfg, fmt.Errorf("decode config: %w", err)
		}
	}
	applyDefaults(&cfg)
	if err := cfg.Signer.normalise(); err != nil {
		return cfg, fmt.Errorf("signer: %w", err)
	}
	if err := cfg.Admin.normalise(); err != nil {
		return cfg, fmt.Errorf("admin security: %w", err)
	}
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = ":7090"
	}
	if cfg.Schedule.Timeout.Duration == 0 {
		cfg.Schedule.Timeout.Duration = 30 * time.Minute
	}
	for i := range cfg.Chains {
		chain := &cfg.Chains[i]
		chain.Name = strings.TrimSpace(chain.Name)
		chain.RPC = strings.TrimSpace(chain.RPC)
		chain.Contract = strings.TrimSpace(chain.Contract)
		chain.Directory = strings.ToLower(strings.TrimSpace(chain.Directory))
		chain.Subgraph.Endpoint = strings.TrimSpace(chain.Subgraph.Endpoint)
		if chain.Directory == "" {
			chain.Directory = DirectoryNone
			if chain.Subgraph.Endpoint != "" {
				chain.Directory = DirectorySubgraph
			}
		}
	}
}

func validateConfig(cfg Config) error {
	if len(cfg.Chains) == 0 {
		return fmt.Errorf("at least one chain must be configured")
	}
	if cfg.Schedule.Interval.Duration < 0 {
		return fmt.Errorf("schedule interval must not be negative")
	}
	if cfg.Schedule.RunHour < 0 || cfg.Schedule.RunHour > 23 {
		return fmt.Errorf("schedule run_hour must be within 0-23")
	}
	if cfg.Schedule.RunMinute < 0 || cfg.Schedule.RunMinute > 59 {
		return fmt.Errorf("schedule run_minute must be within 0-59")
	}
	if cfg.Admin.BearerToken == "" {
		return fmt.Errorf("admin bearer_token must be configured")
	}
	seen := make(map[string]struct{}, len(cfg.Chains))
	for i, chain := range cfg.Chains {
		if chain.Name == "" {
			return fmt.Errorf("chains[%d]: name must be configured", i)
		}
		if _, dup := seen[chain.Name]; dup {
			return fmt.Errorf("chains[%d]: duplicate name %q", i, chain.Name)
		}
		seen[chain.Name] = struct{}{}
		if chain.RPC == "" {
			return fmt.Errorf("chain %s: rpc must be configured", chain.Name)
		}
		if chain.ChainID == 0 {
			return fmt.Errorf("chain %s: chain_id must be configured", chain.Name)
		}
		if !common.IsHexAddress(chain.Contract) || chain.ContractAddress() == (common.Address{}) {
			return fmt.Errorf("chain %s: contract must be a non-zero address", chain.Name)
		}
		switch chain.Directory {
		case DirectoryNone:
		case DirectorySubgraph:
			if chain.Subgraph.Endpoint == "" {
				return fmt.Errorf("chain %s: subgraph endpoint must be configured", chain.Name)
			}
		default:
			return fmt.Errorf("chain %s: unknown directory %q", chain.Name, chain.Directory)
		}
		if chain.RPCRateLimit < 0 || chain.Subgraph.RateLimit < 0 {
			return fmt.Errorf("chain %s: rate limits must not be negative", chain.Name)
		}
	}
	return nil
}

// Select narrows the configuration to the named chain.
func (c Config) Select(name string) (Config, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return c, nil
	}
	for _, chain := range c.Chains {
		if chain.Name == name {
			c.Chains = []ChainConfig{chain}
			return c, nil
		}
	}
	return c, fmt.Errorf("chain %q not configured", name)
}

func (s *SignerConfig) normalise() error {
	if s == nil {
		return fmt.Errorf("signer configuration missing")
	}
	s.Key = strings.TrimSpace(s.Key)
	s.KeyEnv = strings.TrimSpace(s.KeyEnv)
	s.KeyFile = strings.TrimSpace(s.KeyFile)
	s.Keystore = strings.TrimSpace(s.Keystore)
	s.PassphraseEnv = strings.TrimSpace(s.PassphraseEnv)
	if s.Key != "" {
		return nil
	}
	switch {
	case s.KeyEnv != "":
		value := strings.TrimSpace(os.Getenv(s.KeyEnv))
		if value == "" {
			return fmt.Errorf("key_env %s is empty", s.KeyEnv)
		}
		s.Key = value
	case s.KeyFile != "":
		contents, err := os.ReadFile(s.KeyFile)
		if err != nil {
			return fmt.Errorf("read key_file: %w", err)
		}
		s.Key = strings.TrimSpace(string(contents))
	case s.Keystore != "":
		if _, err := os.Stat(s.Keystore); err != nil {
			return fmt.Errorf("keystore: %w", err)
		}
	default:
		return fmt.Errorf("one of key, key_env, key_file or keystore is required")
	}
	return nil
}

func (a *AdminConfig) normalise() error {
	if a == nil {
		return fmt.Errorf("admin configuration missing")
	}
	token := strings.TrimSpace(a.BearerToken)
	if path := strings.TrimSpace(a.BearerTokenFile); path != "" {
		contents, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read bearer_token_file: %w", err)
		}
		token = strings.TrimSpace(string(contents))
	}
	a.BearerToken = token
	return nil
}
