package config

import (
	"fmt"
	"math/big"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// RoomSeed declares one room in the fixed pool. Permanent and reserved rooms
// are never leasable through the normal flow; reserved rooms carry the wallet
// they are held for.
type RoomSeed struct {
	ID            string `toml:"ID"`
	Permanent     bool   `toml:"Permanent"`
	Reserved      bool   `toml:"Reserved"`
	ReservedOwner string `toml:"ReservedOwner"`
}

// Config is the full runtime configuration, loaded from a TOML file with
// selected environment-variable overrides for deployment secrets.
type Config struct {
	ListenAddress string `toml:"ListenAddress"`
	Environment   string `toml:"Environment"`
	DatabasePath  string `toml:"DatabasePath"`
	LogPath       string `toml:"LogPath"`

	FacilitatorURL    string `toml:"FacilitatorURL"`
	FacilitatorAPIKey string `toml:"FacilitatorAPIKey"`
	VerificationMode  string `toml:"VerificationMode"` // "facilitator" or "local"
	RPCURL            string `toml:"RPCURL"`
	NetworkID         string `toml:"NetworkID"`
	DirectoryURL      string `toml:"DirectoryURL"`

	TreasuryWallet string `toml:"TreasuryWallet"`
	DailyRent      string `toml:"DailyRent"` // minor units
	GraceWindow    string `toml:"GraceWindow"`
	SweepInterval  string `toml:"SweepInterval"`

	RentGateTokenAddress string `toml:"RentGateTokenAddress"`
	RentGateMinimum      uint64 `toml:"RentGateMinimum"`
	BalanceCheckPolicy   string `toml:"BalanceCheckPolicy"` // "strict" or "dev-bypass"

	AuthEnabled bool   `toml:"AuthEnabled"`
	AuthSecret  string `toml:"AuthSecret"`
	AuthIssuer  string `toml:"AuthIssuer"`

	RateLimitPerMinute float64 `toml:"RateLimitPerMinute"`
	RateLimitBurst     int     `toml:"RateLimitBurst"`

	Rooms []RoomSeed `toml:"Rooms"`
}

const (
	envListen           = "IGLOOD_LISTEN"
	envEnvironment      = "IGLOOD_ENV"
	envDatabasePath     = "IGLOOD_DB"
	envFacilitatorURL   = "IGLOOD_FACILITATOR_URL"
	envFacilitatorKey   = "IGLOOD_FACILITATOR_API_KEY"
	envVerificationMode = "IGLOOD_VERIFICATION_MODE"
	envRPCURL           = "IGLOOD_RPC_URL"
	envNetworkID        = "IGLOOD_NETWORK_ID"
	envDirectoryURL     = "IGLOOD_DIRECTORY_URL"
	envTreasuryWallet   = "IGLOOD_TREASURY_WALLET"
	envDailyRent        = "IGLOOD_DAILY_RENT"
	envAuthSecret       = "IGLOOD_AUTH_SECRET"
	envBalancePolicy    = "IGLOOD_BALANCE_POLICY"
)

// Load reads the TOML file at path (when it exists), applies environment
// overrides, and validates the result.
func Load(path string) (*Config, error) {
	cfg := defaults()
	if strings.TrimSpace(path) != "" {
		if _, err := os.Stat(path); err == nil {
			if _, err := toml.DecodeFile(path, cfg); err != nil {
				return nil, fmt.Errorf("decode config %s: %w", path, err)
			}
		} else if !os.IsNotExist(err) {
			return nil, err
		}
	}
	applyEnv(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func defaults() *Config {
	return &Config{
		ListenAddress:      ":8080",
		Environment:        "dev",
		DatabasePath:       "iglood.db",
		VerificationMode:   "facilitator",
		NetworkID:          "mainnet",
		DailyRent:          "10000",
		GraceWindow:        "24h",
		SweepInterval:      "1m",
		BalanceCheckPolicy: "strict",
		RateLimitPerMinute: 300,
		RateLimitBurst:     30,
	}
}

func applyEnv(cfg *Config) {
	cfg.ListenAddress = getenvDefault(envListen, cfg.ListenAddress)
	cfg.Environment = getenvDefault(envEnvironment, cfg.Environment)
	cfg.DatabasePath = getenvDefault(envDatabasePath, cfg.DatabasePath)
	cfg.FacilitatorURL = getenvDefault(envFacilitatorURL, cfg.FacilitatorURL)
	cfg.FacilitatorAPIKey = getenvDefault(envFacilitatorKey, cfg.FacilitatorAPIKey)
	cfg.VerificationMode = getenvDefault(envVerificationMode, cfg.VerificationMode)
	cfg.RPCURL = getenvDefault(envRPCURL, cfg.RPCURL)
	cfg.NetworkID = getenvDefault(envNetworkID, cfg.NetworkID)
	cfg.DirectoryURL = getenvDefault(envDirectoryURL, cfg.DirectoryURL)
	cfg.TreasuryWallet = getenvDefault(envTreasuryWallet, cfg.TreasuryWallet)
	cfg.DailyRent = getenvDefault(envDailyRent, cfg.DailyRent)
	cfg.AuthSecret = getenvDefault(envAuthSecret, cfg.AuthSecret)
	cfg.BalanceCheckPolicy = getenvDefault(envBalancePolicy, cfg.BalanceCheckPolicy)
}

// Validate rejects configurations that cannot run.
func (c *Config) Validate() error {
	if _, err := c.DailyRentUnits(); err != nil {
		return err
	}
	if _, err := c.GraceWindowDuration(); err != nil {
		return err
	}
	if _, err := c.SweepIntervalDuration(); err != nil {
		return err
	}
	if strings.TrimSpace(c.TreasuryWallet) == "" {
		return fmt.Errorf("config: TreasuryWallet is required")
	}
	mode := strings.ToLower(strings.TrimSpace(c.VerificationMode))
	if mode != "local" && mode != "facilitator" {
		return fmt.Errorf("config: VerificationMode must be local or facilitator, got %q", c.VerificationMode)
	}
	if mode == "facilitator" && strings.TrimSpace(c.FacilitatorURL) == "" {
		return fmt.Errorf("config: FacilitatorURL is required in facilitator mode")
	}
	if c.AuthEnabled && strings.TrimSpace(c.AuthSecret) == "" {
		return fmt.Errorf("config: AuthSecret is required when AuthEnabled")
	}
	seen := make(map[string]struct{}, len(c.Rooms))
	for _, seed := range c.Rooms {
		id := strings.TrimSpace(seed.ID)
		if id == "" {
			return fmt.Errorf("config: room seed without ID")
		}
		if _, dup := seen[id]; dup {
			return fmt.Errorf("config: duplicate room id %q", id)
		}
		seen[id] = struct{}{}
		if seed.Reserved && strings.TrimSpace(seed.ReservedOwner) == "" {
			return fmt.Errorf("config: reserved room %q missing ReservedOwner", id)
		}
	}
	return nil
}

// DailyRentUnits parses the configured rent as integer minor units.
func (c *Config) DailyRentUnits() (*big.Int, error) {
	trimmed := strings.TrimSpace(c.DailyRent)
	units, ok := new(big.Int).SetString(trimmed, 10)
	if !ok || units.Sign() < 0 {
		return nil, fmt.Errorf("config: invalid DailyRent %q", c.DailyRent)
	}
	return units, nil
}

// GraceWindowDuration parses the grace window.
func (c *Config) GraceWindowDuration() (time.Duration, error) {
	return parsePositiveDuration("GraceWindow", c.GraceWindow)
}

// SweepIntervalDuration parses the sweep cadence.
func (c *Config) SweepIntervalDuration() (time.Duration, error) {
	return parsePositiveDuration("SweepInterval", c.SweepInterval)
}

func parsePositiveDuration(field, raw string) (time.Duration, error) {
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("config: invalid %s %q: %w", field, raw, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("config: %s must be positive", field)
	}
	return d, nil
}

func getenvDefault(key, def string) string {
	if val := strings.TrimSpace(os.Getenv(key)); val != "" {
		return val
	}
	return def
}

// ParseUint64 is a helper for env-sourced numeric overrides.
func ParseUint64(raw string, def uint64) uint64 {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return def
	}
	v, err := strconv.ParseUint(trimmed, 10, 64)
	if err != nil {
		return def
	}
	return v
}
