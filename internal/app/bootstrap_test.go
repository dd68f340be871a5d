package app_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"storefront/backend/internal/app"
	"storefront/backend/internal/config"
)

func TestBootstrap_DBDownFallsThrough(t *testing.T) {
	cfg := &config.Config{
		DBHost:                 "localhost",
		DBPort:                 54322, // Random port likely closed
		DBUser:                 "test",
		DBPass:                 "test",
		DBName:                 "test",
		BootstrapRetryAttempts: 1,
		BootstrapRetryDelayMS:  1,
	}

	start := time.Now()
	deps, err := app.Bootstrap(context.Background(), cfg)
	duration := time.Since(start)

	// An unreachable database is not fatal; the queue factory takes the
	// next backend in the chain.
	require.NoError(t, err)
	require.NotNil(t, deps)
	assert.Nil(t, deps.DB)
	assert.Nil(t, deps.Producer)
	assert.Less(t, duration, 5*time.Second)
}

func TestBootstrap_ProducerCreatedWhenConfigured(t *testing.T) {
	cfg := &config.Config{
		DBHost:                 "localhost",
		DBPort:                 54322,
		DBUser:                 "test",
		DBPass:                 "test",
		DBName:                 "test",
		NSQDHost:               "localhost:4150",
		BootstrapRetryAttempts: 1,
		BootstrapRetryDelayMS:  1,
	}

	deps, err := app.Bootstrap(context.Background(), cfg)
	require.NoError(t, err)

	// NewProducer does not dial, so the handle exists even with no nsqd
	// running; liveness is probed later by the backend factory.
	assert.NotNil(t, deps.Producer)
	if deps.Producer != nil {
		deps.Producer.Stop()
	}
}
