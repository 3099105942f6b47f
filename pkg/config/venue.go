package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"trading-core/pkg/crypto"
)

// VenueCredentials holds the auth material for one venue connection.
type VenueCredentials struct {
	APIKey    string `yaml:"api_key"`
	APISecret string `yaml:"api_secret"`
	Account   string `yaml:"account"`
}

// VenueSSL is the TLS material for a FIX session (§6).
type VenueSSL struct {
	Cert       string `yaml:"cert"`
	Key        string `yaml:"key"`
	CA         string `yaml:"ca"`
	VerifyPeer bool   `yaml:"verify_peer"`
	VerifyHost bool   `yaml:"verify_hostname"`
}

// VenueConnection is the connection/reconnect policy (§6).
type VenueConnection struct {
	ConnectTimeoutMs     int `yaml:"connect_timeout_ms"`
	HeartbeatIntervalS   int `yaml:"heartbeat_interval_s"`
	TestRequestDelayS    int `yaml:"test_request_delay_s"`
	MaxReconnectAttempts int `yaml:"max_reconnect_attempts"`
	BackoffInitialMs     int `yaml:"backoff_initial_ms"`
	BackoffCapMs         int `yaml:"backoff_cap_ms"`
}

// VenueFIX is the FIX 4.4 dialect configuration (§6).
type VenueFIX struct {
	Version     string   `yaml:"version"`
	Validations []string `yaml:"validations"`
}

// VenuePerformance tunes the resilient wrapper's pool and batching (§6).
type VenuePerformance struct {
	PoolSize   int `yaml:"pool_size"`
	Batching   int `yaml:"batching"`
	BufferSize int `yaml:"buffer_size"`
}

// VenueConfig is one venue's full declarative configuration (§6):
// `{credentials, environment, ssl, connection, fix, performance}`.
type VenueConfig struct {
	Name        string           `yaml:"name"`
	Kind        string           `yaml:"kind"`        // e.g. "fix", "rest"
	Environment string           `yaml:"environment"` // "live" | "demo" | "sandbox"
	Credentials VenueCredentials `yaml:"credentials"`
	SSL         VenueSSL         `yaml:"ssl"`
	Connection  VenueConnection  `yaml:"connection"`
	FIX         VenueFIX         `yaml:"fix"`
	Performance VenuePerformance `yaml:"performance"`
}

// VenuesFile is the top-level YAML document: one or more venue entries.
type VenuesFile struct {
	Venues []VenueConfig `yaml:"venues"`
}

// HeartbeatInterval returns the configured heartbeat interval as a Duration.
func (v VenueConfig) HeartbeatInterval() time.Duration {
	return time.Duration(v.Connection.HeartbeatIntervalS) * time.Second
}

// ConnectTimeout returns the configured connect timeout as a Duration.
func (v VenueConfig) ConnectTimeout() time.Duration {
	return time.Duration(v.Connection.ConnectTimeoutMs) * time.Millisecond
}

// LoadVenues reads venue configurations from a YAML file. Credential fields
// written as `ENC[vN]:...` are decrypted in place using MASTER_ENCRYPTION_KEY
// (and any _V2.._V10 rotation keys); plaintext credentials pass through
// unchanged, so local/dev venue files never need a key manager at all.
func LoadVenues(path string) ([]VenueConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read venue config %s: %w", path, err)
	}

	var file VenuesFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse venue config %s: %w", path, err)
	}

	for i, v := range file.Venues {
		if v.Name == "" {
			return nil, fmt.Errorf("venue config %s: entry %d is missing a name", path, i)
		}
	}

	if err := decryptCredentials(file.Venues); err != nil {
		return nil, fmt.Errorf("venue config %s: %w", path, err)
	}
	return file.Venues, nil
}

// decryptCredentials replaces any ENC[vN]:-prefixed credential field with its
// plaintext, skipping the key manager entirely when no venue uses one.
func decryptCredentials(venues []VenueConfig) error {
	needsKey := false
	for _, v := range venues {
		if crypto.ParseVersion(v.Credentials.APIKey) != 0 || crypto.ParseVersion(v.Credentials.APISecret) != 0 {
			needsKey = true
			break
		}
	}
	if !needsKey {
		return nil
	}

	km, err := crypto.NewKeyManager()
	if err != nil {
		return fmt.Errorf("load encryption keys for credential decryption: %w", err)
	}
	for i := range venues {
		creds := &venues[i].Credentials
		if crypto.ParseVersion(creds.APIKey) != 0 {
			plain, err := km.Decrypt(creds.APIKey)
			if err != nil {
				return fmt.Errorf("decrypt %s api_key: %w", venues[i].Name, err)
			}
			creds.APIKey = plain
		}
		if crypto.ParseVersion(creds.APISecret) != 0 {
			plain, err := km.Decrypt(creds.APISecret)
			if err != nil {
				return fmt.Errorf("decrypt %s api_secret: %w", venues[i].Name, err)
			}
			creds.APISecret = plain
		}
	}
	return nil
}

// FindVenue returns the first entry matching name, or false if none match.
func FindVenue(venues []VenueConfig, name string) (VenueConfig, bool) {
	for _, v := range venues {
		if v.Name == name {
			return v, true
		}
	}
	return VenueConfig{}, false
}
