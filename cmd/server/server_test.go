package main

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"

	"github.com/research-ag/icrc1-auction/internal/config"
)

func TestNewLogger(t *testing.T) {
	for _, pretty := range []bool{false, true} {
		log := newLogger(config.Config{LogLevel: zerolog.WarnLevel, LogPretty: pretty})
		assert.Equal(t, zerolog.WarnLevel, log.GetLevel())
	}
}
