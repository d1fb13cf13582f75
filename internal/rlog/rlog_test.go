package rlog

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestNewDefaultsToInfoLevel(t *testing.T) {
	log := New(false)
	assert.Equal(t, zerolog.InfoLevel, log.GetLevel())
}

func TestNewVerboseSetsDebugLevel(t *testing.T) {
	log := New(true)
	assert.Equal(t, zerolog.DebugLevel, log.GetLevel())
}
