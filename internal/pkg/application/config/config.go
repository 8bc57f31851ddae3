package config

import (
	"fmt"
	"log/slog"
	"math/big"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/diwise/kg-publisher/internal/pkg/infrastructure/chain"
	"github.com/diwise/kg-publisher/pkg/grc20/client"
	"github.com/diwise/kg-publisher/pkg/grc20/errors"
	"github.com/joho/godotenv"
)

const DefaultBrowserURL string = "https://geogenesis-git-feat-testnet-geo-browser.vercel.app/space"

type Config struct {
	SpaceID         string `env:"SPACE_ID"`
	FacilitySpaceID string `env:"FACILITY_SPACE_ID"`
	LicenseSpaceID  string `env:"LICENSE_SPACE_ID"`
	DateSpaceID     string `env:"DATE_SPACE_ID"`
	LocationSpaceID string `env:"LOCATION_SPACE_ID"`

	Network    string `env:"NETWORK" envDefault:"TESTNET"`
	APIURL     string `env:"API_URL"`
	PublishURL string `env:"PUBLISH_URL"`
	BrowserURL string `env:"BROWSER_URL"`

	RPCURL        string `env:"RPC_URL"`
	PrivateKey    string `env:"PRIVATE_KEY"`
	WalletAddress string `env:"WALLET_ADDRESS"`
	ChainID       int64  `env:"CHAIN_ID" envDefault:"0"`

	BatchSize           int           `env:"BATCH_SIZE" envDefault:"100"`
	GasLimit            uint64        `env:"GAS_LIMIT" envDefault:"0"`
	GasPriceGwei        string        `env:"GAS_PRICE_GWEI"`
	GasMultiplier       float64       `env:"GAS_MULTIPLIER" envDefault:"1.2"`
	MaxConfirmAttempts  int           `env:"MAX_CONFIRM_ATTEMPTS" envDefault:"30"`
	ConfirmPollInterval time.Duration `env:"CONFIRM_POLL_INTERVAL" envDefault:"2s"`
	InterBatchDelay     time.Duration `env:"INTER_BATCH_DELAY" envDefault:"2s"`
	RequestTimeout      time.Duration `env:"REQUEST_TIMEOUT" envDefault:"30s"`

	PropertyPolicy string `env:"PROPERTY_POLICY" envDefault:"last-write-wins"`
	Source         string `env:"SOURCE"`
	Schema         string `env:"SCHEMA" envDefault:"childcare"`
	Checkpoint     string `env:"CHECKPOINT"`
	ControlAddr    string `env:"CONTROL_ADDR"`
	Debug          bool   `env:"DEBUG" envDefault:"false"`
}

type Override func(*Config)

// Load reads envFile into the process environment, without replacing
// variables that are already set, and builds the configuration from it.
// A missing env file is not an error.
func Load(envFile string, overrides ...Override) (Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
			return Config{}, errors.NewConfigurationError(envFile, err.Error())
		}
	}

	return Parse(nil, overrides...)
}

// Parse builds the configuration from environment, or from the process
// environment when environment is nil. Overrides are applied last.
func Parse(environment map[string]string, overrides ...Override) (Config, error) {
	cfg := Config{}

	err := env.ParseWithOptions(&cfg, env.Options{Environment: environment})
	if err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %s (%w)", err.Error(), errors.ErrConfiguration)
	}

	for _, override := range overrides {
		override(&cfg)
	}

	cfg.Network = strings.ToUpper(strings.TrimSpace(cfg.Network))
	if cfg.Network != client.NetworkTestnet && cfg.Network != client.NetworkMainnet {
		return Config{}, errors.NewConfigurationError("NETWORK", fmt.Sprintf("must be %s or %s, not %q", client.NetworkTestnet, client.NetworkMainnet, cfg.Network))
	}

	if cfg.APIURL == "" && cfg.Network == client.NetworkTestnet {
		cfg.APIURL = client.DefaultTestnetAPI
	}
	cfg.APIURL = strings.TrimRight(cfg.APIURL, "/")
	if cfg.BrowserURL == "" {
		cfg.BrowserURL = DefaultBrowserURL
	}
	cfg.BrowserURL = strings.TrimRight(cfg.BrowserURL, "/")

	if cfg.BatchSize < 1 {
		return Config{}, errors.NewConfigurationError("BATCH_SIZE", "must be at least 1")
	}

	return cfg, nil
}

// ValidateAPI checks the settings needed to talk to the knowledge graph API
func (c Config) ValidateAPI() error {
	if c.APIURL == "" {
		return errors.NewMissingSettingError("API_URL")
	}
	return nil
}

// ValidateChain checks the settings needed to sign and send transactions
func (c Config) ValidateChain() error {
	if c.RPCURL == "" {
		return errors.NewMissingSettingError("RPC_URL")
	}
	if c.PrivateKey == "" {
		return errors.NewMissingSettingError("PRIVATE_KEY")
	}
	if c.WalletAddress != "" && !strings.HasPrefix(c.WalletAddress, "0x") {
		return errors.NewConfigurationError("WALLET_ADDRESS", "must be a 0x prefixed address")
	}
	if _, err := c.GasPrice(); err != nil {
		return err
	}
	if c.MaxConfirmAttempts < 1 {
		return errors.NewConfigurationError("MAX_CONFIRM_ATTEMPTS", "must be at least 1")
	}
	return nil
}

// ValidatePublish checks everything a publish run needs
func (c Config) ValidatePublish() error {
	if c.SpaceID == "" {
		return errors.NewMissingSettingError("SPACE_ID")
	}
	if err := c.ValidateAPI(); err != nil {
		return err
	}
	return c.ValidateChain()
}

func (c Config) GasPrice() (*big.Int, error) {
	return chain.ParseGwei(c.GasPriceGwei)
}

func (c Config) GasPolicy() (chain.GasPolicy, error) {
	price, err := c.GasPrice()
	if err != nil {
		return chain.GasPolicy{}, err
	}

	return chain.GasPolicy{
		GasLimit:   c.GasLimit,
		Multiplier: c.GasMultiplier,
		GasPrice:   price,
	}, nil
}

// NamedSpaces returns the configured space ids keyed by setting name, in a
// stable order
func (c Config) NamedSpaces() [][2]string {
	return [][2]string{
		{"SPACE_ID", c.SpaceID},
		{"FACILITY_SPACE_ID", c.FacilitySpaceID},
		{"LICENSE_SPACE_ID", c.LicenseSpaceID},
		{"DATE_SPACE_ID", c.DateSpaceID},
		{"LOCATION_SPACE_ID", c.LocationSpaceID},
	}
}

// SpaceFor returns the id of a named space (facility, license, date or
// location), falling back to SPACE_ID
func (c Config) SpaceFor(name string) string {
	var id string

	switch strings.ToLower(name) {
	case "facility":
		id = c.FacilitySpaceID
	case "license":
		id = c.LicenseSpaceID
	case "date":
		id = c.DateSpaceID
	case "location":
		id = c.LocationSpaceID
	}

	if id == "" {
		return c.SpaceID
	}
	return id
}

// LogValue keeps the private key out of the logs
func (c Config) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("network", c.Network),
		slog.String("api_url", c.APIURL),
		slog.String("rpc_url", c.RPCURL),
		slog.String("space_id", c.SpaceID),
		slog.Int("batch_size", c.BatchSize),
		slog.Bool("private_key_set", c.PrivateKey != ""),
	)
}
