package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/asaskevich/govalidator"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/thrylos-labs/hashsync/codec"
	"github.com/thrylos-labs/hashsync/crypto/hash"
	"github.com/thrylos-labs/hashsync/types"
)

// Config holds everything a node reads from its environment.
type Config struct {
	NodeID         string
	NodeAddress    string
	Peers          []string
	DataDir        string
	Trust          uint32
	HashAlgorithm  hash.Algorithm
	Codec          codec.Codec
	Aggregation    types.Aggregation
	SyncInterval   time.Duration
	PollTimeout    time.Duration
	PollFanout     int
	ChangesSecret  []byte
	AllowedOrigins []string
	CacheSize      int
	Payload        json.RawMessage

	CertPath string `json:"CERT_PATH"`
	KeyPath  string `json:"KEY_PATH"`
}

// Load reads envPath (if it exists) into the process environment and builds
// a Config from it. Variables already set take precedence over the file.
func Load(envPath string) (*Config, error) {
	if envPath != "" {
		if err := godotenv.Load(envPath); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("error loading .env file from %s: %w", envPath, err)
		}
	}
	return FromEnv()
}

// FromEnv builds a Config from environment variables, applying defaults.
func FromEnv() (*Config, error) {
	cfg := &Config{
		NodeID:       os.Getenv("NODE_ID"),
		NodeAddress:  getenv("NODE_ADDRESS", DefaultNodeAddress),
		DataDir:      getenv("DATA", DefaultDataDir),
		SyncInterval: DefaultSyncInterval,
		PollTimeout:  DefaultPollTimeout,
		PollFanout:   DefaultPollFanout,
		CacheSize:    DefaultCacheSize,
		CertPath:     os.Getenv("CERT_PATH"),
		KeyPath:      os.Getenv("KEY_PATH"),
	}
	if cfg.NodeID == "" {
		cfg.NodeID = uuid.NewString()
	}

	peers, err := ParsePeers(os.Getenv("PEERS"))
	if err != nil {
		return nil, err
	}
	cfg.Peers = peers

	if v := os.Getenv("TRUST"); v != "" {
		trust, err := strconv.ParseUint(v, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("invalid TRUST %q: %w", v, err)
		}
		cfg.Trust = uint32(trust)
	}

	if cfg.HashAlgorithm, err = hash.ParseAlgorithm(os.Getenv("HASH_ALGORITHM")); err != nil {
		return nil, err
	}
	if cfg.Codec, err = codec.ByName(os.Getenv("CODEC")); err != nil {
		return nil, err
	}

	if cfg.Aggregation, err = ParseAggregation(os.Getenv("AGGREGATION")); err != nil {
		return nil, err
	}

	if cfg.SyncInterval, err = durationEnv("SYNC_INTERVAL", cfg.SyncInterval); err != nil {
		return nil, err
	}
	if cfg.PollTimeout, err = durationEnv("POLL_TIMEOUT", cfg.PollTimeout); err != nil {
		return nil, err
	}
	if cfg.PollFanout, err = intEnv("POLL_FANOUT", cfg.PollFanout); err != nil {
		return nil, err
	}
	if cfg.CacheSize, err = intEnv("CACHE_SIZE", cfg.CacheSize); err != nil {
		return nil, err
	}

	if secret := os.Getenv("CHANGES_SECRET"); secret != "" {
		cfg.ChangesSecret = []byte(secret)
	}
	cfg.AllowedOrigins = splitList(getenv("ALLOWED_ORIGINS", DefaultAllowedOrigins))

	payload := getenv("PAYLOAD", DefaultPayload)
	if !json.Valid([]byte(payload)) {
		return nil, fmt.Errorf("PAYLOAD is not valid JSON")
	}
	cfg.Payload = json.RawMessage(payload)

	if path := os.Getenv("TLS_CONFIG"); path != "" {
		fileCfg, err := LoadConfig(path)
		if err != nil {
			return nil, fmt.Errorf("failed to load TLS config %s: %w", path, err)
		}
		if cfg.CertPath == "" {
			cfg.CertPath = fileCfg.CertPath
		}
		if cfg.KeyPath == "" {
			cfg.KeyPath = fileCfg.KeyPath
		}
	}

	return cfg, cfg.Validate()
}

// Validate checks values that FromEnv cannot default.
func (c *Config) Validate() error {
	if c.PollFanout <= 0 {
		return fmt.Errorf("POLL_FANOUT must be positive, got %d", c.PollFanout)
	}
	if c.PollTimeout <= 0 {
		return fmt.Errorf("POLL_TIMEOUT must be positive, got %s", c.PollTimeout)
	}
	if c.SyncInterval < 0 {
		return fmt.Errorf("SYNC_INTERVAL must not be negative, got %s", c.SyncInterval)
	}
	if c.NodeAddress == "" {
		return fmt.Errorf("NODE_ADDRESS is required")
	}
	if (c.CertPath == "") != (c.KeyPath == "") {
		return fmt.Errorf("CERT_PATH and KEY_PATH must be set together")
	}
	return nil
}

// ParsePeers splits a comma separated peer list, adding an http:// scheme
// where missing and rejecting anything that is not a URL.
func ParsePeers(list string) ([]string, error) {
	var peers []string
	for _, p := range splitList(list) {
		p = NormalizePeer(p)
		if !govalidator.IsURL(p) {
			return nil, fmt.Errorf("invalid peer address %q", p)
		}
		peers = append(peers, p)
	}
	return peers, nil
}

// NormalizePeer adds an http:// scheme and strips a trailing slash.
func NormalizePeer(address string) string {
	address = strings.TrimSuffix(strings.TrimSpace(address), "/")
	if !strings.HasPrefix(address, "http://") && !strings.HasPrefix(address, "https://") {
		address = "http://" + address
	}
	return address
}

// ParseAggregation maps AGGREGATION to a mode. Empty means plurality.
func ParseAggregation(name string) (types.Aggregation, error) {
	switch mode := types.Aggregation(strings.ToLower(strings.TrimSpace(name))); mode {
	case "":
		return types.AggregatePlurality, nil
	case types.AggregatePlurality, types.AggregatePeers:
		return mode, nil
	default:
		return "", fmt.Errorf("unknown AGGREGATION %q", name)
	}
}

// LoadConfig reads TLS settings from a JSON file. CERT_PATH and KEY_PATH set
// in the environment take precedence.
func LoadConfig(configPath string) (*Config, error) {
	configFile, err := os.Open(configPath)
	if err != nil {
		return nil, err
	}
	defer configFile.Close()

	var config Config
	if err := json.NewDecoder(configFile).Decode(&config); err != nil {
		return nil, err
	}
	return &config, nil
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func durationEnv(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	return d, nil
}

func intEnv(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	return n, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
