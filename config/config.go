package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"

	"opensky/crypto"
)

// Config is the daemon configuration, loaded from TOML.
type Config struct {
	ListenAddress string `toml:"ListenAddress"`
	DataDir       string `toml:"DataDir"`
	IndexPath     string `toml:"IndexPath"`
	Environment   string `toml:"Environment"`
	ChainID       uint64 `toml:"ChainID"`
	LogRequests   bool   `toml:"LogRequests"`

	Pool      PoolConfig      `toml:"Pool"`
	Bespoke   BespokeConfig   `toml:"Bespoke"`
	Auction   AuctionConfig   `toml:"Auction"`
	Auth      AuthConfig      `toml:"Auth"`
	Telemetry TelemetryConfig `toml:"Telemetry"`

	// GovernanceAddresses are granted the governance role at startup.
	GovernanceAddresses []string `toml:"GovernanceAddresses"`
	// LiquidationOperators are granted the liquidation operator role at
	// startup.
	LiquidationOperators []string `toml:"LiquidationOperators"`
}

type PoolConfig struct {
	TreasuryAddress   string `toml:"TreasuryAddress"`
	PoolAddress       string `toml:"PoolAddress"`
	PrepaymentFeeBps  uint64 `toml:"PrepaymentFeeBps"`
	OverdueLoanFeeBps uint64 `toml:"OverdueLoanFeeBps"`
	BorrowLimitBps    uint64 `toml:"BorrowLimitBps"`
	UseMoneyMarket    bool   `toml:"UseMoneyMarket"`
}

type BespokeConfig struct {
	EscrowAddress     string   `toml:"EscrowAddress"`
	OverdueDuration   int64    `toml:"OverdueDuration"`
	OverdueLoanFeeBps uint64   `toml:"OverdueLoanFeeBps"`
	Currencies        []string `toml:"Currencies"`
}

type AuctionConfig struct {
	EscrowAddress string `toml:"EscrowAddress"`
}

type AuthConfig struct {
	Enabled    bool   `toml:"Enabled"`
	HMACSecret string `toml:"HMACSecret"`
	Issuer     string `toml:"Issuer"`
	Audience   string `toml:"Audience"`
}

type TelemetryConfig struct {
	Enabled  bool   `toml:"Enabled"`
	Endpoint string `toml:"Endpoint"`
	Insecure bool   `toml:"Insecure"`
}

// Load reads the configuration at path, creating a default file when none
// exists.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}
	cfg := &Config{}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if strings.TrimSpace(c.ListenAddress) == "" {
		c.ListenAddress = ":8080"
	}
	if strings.TrimSpace(c.DataDir) == "" {
		c.DataDir = "./opensky-data"
	}
	if strings.TrimSpace(c.IndexPath) == "" {
		c.IndexPath = filepath.Join(c.DataDir, "events.db")
	}
	if strings.TrimSpace(c.Environment) == "" {
		c.Environment = "local"
	}
	if c.ChainID == 0 {
		c.ChainID = 1
	}
	if c.Pool.BorrowLimitBps == 0 {
		c.Pool.BorrowLimitBps = 5000
	}
	if c.Bespoke.OverdueDuration == 0 {
		c.Bespoke.OverdueDuration = 2 * 24 * 3600
	}
	if len(c.Bespoke.Currencies) == 0 {
		c.Bespoke.Currencies = []string{"WETH"}
	}
}

// Validate rejects configurations with missing or malformed addresses.
func (c *Config) Validate() error {
	if err := checkAddress("Pool.TreasuryAddress", c.Pool.TreasuryAddress); err != nil {
		return err
	}
	if err := checkAddress("Pool.PoolAddress", c.Pool.PoolAddress); err != nil {
		return err
	}
	if err := checkAddress("Bespoke.EscrowAddress", c.Bespoke.EscrowAddress); err != nil {
		return err
	}
	if err := checkAddress("Auction.EscrowAddress", c.Auction.EscrowAddress); err != nil {
		return err
	}
	for _, raw := range c.GovernanceAddresses {
		if err := checkAddress("GovernanceAddresses", raw); err != nil {
			return err
		}
	}
	for _, raw := range c.LiquidationOperators {
		if err := checkAddress("LiquidationOperators", raw); err != nil {
			return err
		}
	}
	if c.Auth.Enabled && strings.TrimSpace(c.Auth.HMACSecret) == "" {
		return errors.New("config: Auth.HMACSecret required when auth is enabled")
	}
	return nil
}

func checkAddress(field, raw string) error {
	if strings.TrimSpace(raw) == "" {
		return fmt.Errorf("config: %s must be set", field)
	}
	if _, err := crypto.DecodeAddress(raw); err != nil {
		return fmt.Errorf("config: %s: %w", field, err)
	}
	return nil
}

// createDefault writes a fresh configuration with generated system accounts.
func createDefault(path string) (*Config, error) {
	system := make([]string, 4)
	for i := range system {
		key, err := crypto.GeneratePrivateKey()
		if err != nil {
			return nil, err
		}
		system[i] = key.PubKey().Address().String()
	}

	cfg := &Config{
		ListenAddress: ":8080",
		DataDir:       "./opensky-data",
		Environment:   "local",
		ChainID:       1,
		LogRequests:   true,
		Pool: PoolConfig{
			TreasuryAddress:   system[0],
			PoolAddress:       system[1],
			PrepaymentFeeBps:  25,
			OverdueLoanFeeBps: 100,
			BorrowLimitBps:    5000,
		},
		Bespoke: BespokeConfig{
			EscrowAddress:     system[2],
			OverdueDuration:   2 * 24 * 3600,
			OverdueLoanFeeBps: 100,
			Currencies:        []string{"WETH"},
		},
		Auction: AuctionConfig{
			EscrowAddress: system[3],
		},
	}
	cfg.applyDefaults()

	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	return toml.NewEncoder(f).Encode(cfg)
}
