package config

import (
	"encoding/base64"
	"os"
	"path/filepath"
	"testing"

	"trading-core/pkg/crypto"
)

func base64Encode(b []byte) string {
	return base64.StdEncoding.EncodeToString(b)
}

const sampleVenueYAML = `
venues:
  - name: ctrader-demo
    kind: fix
    environment: demo
    credentials:
      api_key: demo-key
      api_secret: demo-secret
      account: "12345"
    ssl:
      cert: /etc/certs/client.pem
      key: /etc/certs/client.key
      verify_peer: true
      verify_hostname: true
    connection:
      connect_timeout_ms: 5000
      heartbeat_interval_s: 30
      test_request_delay_s: 60
      max_reconnect_attempts: 5
      backoff_initial_ms: 1000
      backoff_cap_ms: 30000
    fix:
      version: FIX.4.4
      validations: [checksum, seq_num]
    performance:
      pool_size: 4
      batching: 10
      buffer_size: 1024
`

func writeTempVenueFile(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "venues.yaml")
	if err := os.WriteFile(path, []byte(sampleVenueYAML), 0o644); err != nil {
		t.Fatalf("write temp venue file: %v", err)
	}
	return path
}

func TestLoadVenues(t *testing.T) {
	path := writeTempVenueFile(t)
	venues, err := LoadVenues(path)
	if err != nil {
		t.Fatalf("LoadVenues: %v", err)
	}
	if len(venues) != 1 {
		t.Fatalf("expected 1 venue, got %d", len(venues))
	}

	v := venues[0]
	if v.Name != "ctrader-demo" {
		t.Fatalf("expected name ctrader-demo, got %s", v.Name)
	}
	if v.Connection.HeartbeatIntervalS != 30 {
		t.Fatalf("expected heartbeat_interval_s 30, got %d", v.Connection.HeartbeatIntervalS)
	}
	if v.HeartbeatInterval().Seconds() != 30 {
		t.Fatalf("expected HeartbeatInterval() 30s, got %v", v.HeartbeatInterval())
	}
	if v.FIX.Version != "FIX.4.4" {
		t.Fatalf("expected fix version FIX.4.4, got %s", v.FIX.Version)
	}
}

func TestFindVenue(t *testing.T) {
	path := writeTempVenueFile(t)
	venues, err := LoadVenues(path)
	if err != nil {
		t.Fatalf("LoadVenues: %v", err)
	}

	if _, ok := FindVenue(venues, "nonexistent"); ok {
		t.Fatal("expected FindVenue to report not-found for an unknown name")
	}
	if _, ok := FindVenue(venues, "ctrader-demo"); !ok {
		t.Fatal("expected FindVenue to locate ctrader-demo")
	}
}

func TestLoadVenuesDecryptsCredentials(t *testing.T) {
	key := make([]byte, crypto.KeySize)
	for i := range key {
		key[i] = byte(i)
	}
	t.Setenv("MASTER_ENCRYPTION_KEY", base64Encode(key))

	enc, err := crypto.NewEncryptor(key, 1)
	if err != nil {
		t.Fatalf("NewEncryptor: %v", err)
	}
	encryptedKey, err := enc.Encrypt("real-api-key")
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	encryptedSecret, err := enc.Encrypt("real-api-secret")
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}

	yaml := "venues:\n  - name: ctrader-live\n    kind: fix\n    credentials:\n      api_key: \"" +
		encryptedKey + "\"\n      api_secret: \"" + encryptedSecret + "\"\n"
	dir := t.TempDir()
	path := filepath.Join(dir, "venues.yaml")
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatalf("write temp file: %v", err)
	}

	venues, err := LoadVenues(path)
	if err != nil {
		t.Fatalf("LoadVenues: %v", err)
	}
	if venues[0].Credentials.APIKey != "real-api-key" {
		t.Fatalf("expected decrypted api_key, got %s", venues[0].Credentials.APIKey)
	}
	if venues[0].Credentials.APISecret != "real-api-secret" {
		t.Fatalf("expected decrypted api_secret, got %s", venues[0].Credentials.APISecret)
	}
}

func TestLoadVenuesRejectsMissingName(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.yaml")
	if err := os.WriteFile(path, []byte("venues:\n  - kind: fix\n"), 0o644); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	if _, err := LoadVenues(path); err == nil {
		t.Fatal("expected an error for a venue entry missing name")
	}
}
