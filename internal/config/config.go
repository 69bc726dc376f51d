// Package config reads the daemon settings from AUCTION_* environment
// variables and an optional config file.
package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/viper"

	"github.com/research-ag/icrc1-auction/internal/auction"
	. "github.com/research-ag/icrc1-auction/internal/common"
	"github.com/research-ag/icrc1-auction/internal/crypto"
	"github.com/research-ag/icrc1-auction/internal/engine"
)

const (
	// HTTPAddrKey is where the HTTP API listens.
	HTTPAddrKey = "HTTP_ADDR"
	// LogLevelKey is a zerolog level name.
	LogLevelKey = "LOG_LEVEL"
	// LogPrettyKey switches to human-readable console logs.
	LogPrettyKey = "LOG_PRETTY"
	// SessionIntervalKey is the time between two sessions, e.g. "2m".
	SessionIntervalKey = "SESSION_INTERVAL"
	// QuoteLedgerKey is the principal of the quote token ledger.
	QuoteLedgerKey = "QUOTE_LEDGER"
	// SelfPrincipalKey is the auction's own owner on token ledgers.
	SelfPrincipalKey = "SELF_PRINCIPAL"
	// AdminsKey is a comma separated list of admin principals.
	AdminsKey = "ADMINS"
	// QuoteVolumeMinimumKey is the smallest quote value of a bid.
	QuoteVolumeMinimumKey = "QUOTE_VOLUME_MINIMUM"
	// DarkBookReserveKey is the quote amount locked per dark order book.
	DarkBookReserveKey = "DARK_BOOK_RESERVE"
	// ImmediateRemainderKey is "rest" or "discard".
	ImmediateRemainderKey = "IMMEDIATE_REMAINDER"
	// DatadirKey is the badger directory for history. Empty keeps history in
	// memory.
	DatadirKey = "DATADIR"
	// DecryptionKeyKey is a hex encoded secretbox key. Empty stores dark order
	// books in plaintext.
	DecryptionKeyKey = "DECRYPTION_KEY"
	// DecryptWorkersKey is the number of concurrent dark book decryptions.
	DecryptWorkersKey = "DECRYPT_WORKERS"
	// KafkaBrokersKey is a comma separated broker list. Empty disables Kafka.
	KafkaBrokersKey = "KAFKA_BROKERS"
	// KafkaTopicKey receives clearing and error events.
	KafkaTopicKey = "KAFKA_TOPIC"
)

type Config struct {
	HTTPAddr           string
	LogLevel           zerolog.Level
	LogPretty          bool
	SessionInterval    time.Duration
	QuoteLedger        string
	SelfPrincipal      string
	Admins             []UserID
	QuoteVolumeMinimum uint64
	DarkBookReserve    uint64
	ImmediateRemainder engine.Remainder
	Datadir            string
	DecryptionKey      []byte
	DecryptWorkers     uint
	KafkaBrokers       []string
	KafkaTopic         string
}

func newViper() *viper.Viper {
	vip := viper.New()
	vip.SetEnvPrefix("AUCTION")
	vip.AutomaticEnv()

	vip.SetDefault(HTTPAddrKey, ":8080")
	vip.SetDefault(LogLevelKey, "info")
	vip.SetDefault(LogPrettyKey, false)
	vip.SetDefault(SessionIntervalKey, auction.DefaultSessionInterval)
	vip.SetDefault(QuoteLedgerKey, "quote")
	vip.SetDefault(SelfPrincipalKey, "auction")
	vip.SetDefault(AdminsKey, "")
	vip.SetDefault(QuoteVolumeMinimumKey, 0)
	vip.SetDefault(DarkBookReserveKey, auction.DefaultDarkBookReserve)
	vip.SetDefault(ImmediateRemainderKey, "rest")
	vip.SetDefault(DatadirKey, "")
	vip.SetDefault(DecryptionKeyKey, "")
	vip.SetDefault(DecryptWorkersKey, auction.DefaultDecryptWorkers)
	vip.SetDefault(KafkaBrokersKey, "")
	vip.SetDefault(KafkaTopicKey, "auction.clearing")
	return vip
}

// Load reads the environment and, when file is not empty, the config file.
// Environment variables take precedence over the file.
func Load(file string) (Config, error) {
	vip := newViper()
	if file != "" {
		vip.SetConfigFile(file)
		if err := vip.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", file, err)
		}
	}
	return parse(vip)
}

func parse(vip *viper.Viper) (Config, error) {
	cfg := Config{
		HTTPAddr:           vip.GetString(HTTPAddrKey),
		LogPretty:          vip.GetBool(LogPrettyKey),
		SessionInterval:    vip.GetDuration(SessionIntervalKey),
		QuoteLedger:        vip.GetString(QuoteLedgerKey),
		SelfPrincipal:      vip.GetString(SelfPrincipalKey),
		QuoteVolumeMinimum: vip.GetUint64(QuoteVolumeMinimumKey),
		DarkBookReserve:    vip.GetUint64(DarkBookReserveKey),
		Datadir:            vip.GetString(DatadirKey),
		DecryptWorkers:     vip.GetUint(DecryptWorkersKey),
		KafkaBrokers:       list(vip.GetString(KafkaBrokersKey)),
		KafkaTopic:         vip.GetString(KafkaTopicKey),
	}
	for _, a := range list(vip.GetString(AdminsKey)) {
		cfg.Admins = append(cfg.Admins, UserID(a))
	}

	var err error
	if cfg.LogLevel, err = zerolog.ParseLevel(vip.GetString(LogLevelKey)); err != nil {
		return Config{}, fmt.Errorf("%s: %w", LogLevelKey, err)
	}
	if cfg.ImmediateRemainder, err = engine.ParseRemainder(vip.GetString(ImmediateRemainderKey)); err != nil {
		return Config{}, fmt.Errorf("%s: %w", ImmediateRemainderKey, err)
	}
	if key := vip.GetString(DecryptionKeyKey); key != "" {
		if cfg.DecryptionKey, err = hex.DecodeString(key); err != nil {
			return Config{}, fmt.Errorf("%s: %w", DecryptionKeyKey, err)
		}
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.SessionInterval <= 0 {
		return fmt.Errorf("%s must be positive", SessionIntervalKey)
	}
	if c.QuoteLedger == "" {
		return fmt.Errorf("%s must not be empty", QuoteLedgerKey)
	}
	if len(c.Admins) == 0 {
		return fmt.Errorf("%s must name at least one admin", AdminsKey)
	}
	if c.DecryptionKey != nil && len(c.DecryptionKey) != crypto.KeySize {
		return fmt.Errorf("%s must be %d bytes", DecryptionKeyKey, crypto.KeySize)
	}
	if len(c.KafkaBrokers) > 0 && c.KafkaTopic == "" {
		return errors.New("kafka brokers given without a topic")
	}
	return nil
}

// Auction is the service configuration.
func (c Config) Auction() auction.Config {
	return auction.Config{
		QuoteLedger:        c.QuoteLedger,
		QuoteVolumeMinimum: c.QuoteVolumeMinimum,
		DarkBookReserve:    c.DarkBookReserve,
		SessionInterval:    c.SessionInterval,
		ImmediateRemainder: c.ImmediateRemainder,
		DecryptWorkers:     c.DecryptWorkers,
		Admins:             c.Admins,
	}
}

func list(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		return r == ',' || r == ' '
	})
}
