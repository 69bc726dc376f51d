package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/research-ag/icrc1-auction/internal/auction"
	. "github.com/research-ag/icrc1-auction/internal/common"
	"github.com/research-ag/icrc1-auction/internal/engine"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("AUCTION_ADMINS", "alice")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, zerolog.InfoLevel, cfg.LogLevel)
	assert.Equal(t, auction.DefaultSessionInterval, cfg.SessionInterval)
	assert.Equal(t, uint64(auction.DefaultDarkBookReserve), cfg.DarkBookReserve)
	assert.Equal(t, engine.RemainderRest, cfg.ImmediateRemainder)
	assert.Equal(t, []UserID{"alice"}, cfg.Admins)
	assert.Empty(t, cfg.KafkaBrokers)
	assert.Nil(t, cfg.DecryptionKey)
}

func TestLoad_Environment(t *testing.T) {
	t.Setenv("AUCTION_ADMINS", "alice, bob")
	t.Setenv("AUCTION_SESSION_INTERVAL", "30s")
	t.Setenv("AUCTION_LOG_LEVEL", "debug")
	t.Setenv("AUCTION_IMMEDIATE_REMAINDER", "discard")
	t.Setenv("AUCTION_QUOTE_VOLUME_MINIMUM", "5000")
	t.Setenv("AUCTION_KAFKA_BROKERS", "k1:9092,k2:9092")
	t.Setenv("AUCTION_DECRYPTION_KEY", strings.Repeat("ab", 32))

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, []UserID{"alice", "bob"}, cfg.Admins)
	assert.Equal(t, 30*time.Second, cfg.SessionInterval)
	assert.Equal(t, zerolog.DebugLevel, cfg.LogLevel)
	assert.Equal(t, engine.RemainderDiscard, cfg.ImmediateRemainder)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokers)
	assert.Len(t, cfg.DecryptionKey, 32)

	ac := cfg.Auction()
	assert.Equal(t, uint64(5000), ac.QuoteVolumeMinimum)
	assert.Equal(t, cfg.Admins, ac.Admins)
}

func TestLoad_File(t *testing.T) {
	file := filepath.Join(t.TempDir(), "auction.yaml")
	require.NoError(t, os.WriteFile(file, []byte("admins: carol\nquote_ledger: ckusdc\nsession_interval: 1m\n"), 0o600))
	t.Setenv("AUCTION_QUOTE_LEDGER", "override")

	cfg, err := Load(file)
	require.NoError(t, err)
	assert.Equal(t, []UserID{"carol"}, cfg.Admins)
	assert.Equal(t, "override", cfg.QuoteLedger)
	assert.Equal(t, time.Minute, cfg.SessionInterval)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestLoad_Invalid(t *testing.T) {
	for _, tc := range []struct {
		name string
		env  map[string]string
	}{
		{"no admins", map[string]string{}},
		{"bad level", map[string]string{"AUCTION_LOG_LEVEL": "loud"}},
		{"bad remainder", map[string]string{"AUCTION_IMMEDIATE_REMAINDER": "keep"}},
		{"short key", map[string]string{"AUCTION_DECRYPTION_KEY": "abcd"}},
		{"bad key", map[string]string{"AUCTION_DECRYPTION_KEY": "xyz"}},
		{"zero interval", map[string]string{"AUCTION_SESSION_INTERVAL": "0s"}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv("AUCTION_ADMINS", "alice")
			if tc.name == "no admins" {
				t.Setenv("AUCTION_ADMINS", "")
			}
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			_, err := Load("")
			assert.Error(t, err)
		})
	}
}
