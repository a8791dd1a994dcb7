package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/flexbid/config"
	"github.com/alejandrodnm/flexbid/internal/domain"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := config.Load(writeConfig(t, "problem:\n  day_ahead: true\n"))
	require.NoError(t, err)

	assert.Equal(t, "stochastic", cfg.Problem.Strategy)
	assert.Equal(t, "fast_forward", cfg.Problem.Reduction)
	assert.Equal(t, "rms", cfg.Problem.ReductionDistance)
	assert.Equal(t, "none", cfg.Problem.ClusterMethod)
	assert.Equal(t, "compact", cfg.Problem.ReserveModel)
	assert.Equal(t, 1000.0, cfg.Problem.ShortagePenalty)
	assert.Equal(t, 0.5, cfg.Problem.DesiredAcceptance)
	assert.Equal(t, -1, cfg.Problem.RelaxedBinaryAfter)
	assert.True(t, cfg.Problem.DayAhead)
	assert.True(t, cfg.Problem.Imbalance)
	assert.True(t, cfg.Problem.Reserves)
	assert.True(t, cfg.Problem.Check)

	assert.Equal(t, 4, cfg.Solver.PoolSize)
	assert.Equal(t, 50, cfg.Lagrange.MaxIterations)
	assert.Equal(t, 0.01, cfg.Lagrange.GapThreshold)
	assert.Equal(t, 2.0, cfg.Lagrange.Decay)
	assert.Equal(t, "flexbid.db", cfg.Storage.DSN)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "text", cfg.Log.Format)
}

func TestLoad_ExplicitValues(t *testing.T) {
	cfg, err := config.Load(writeConfig(t, `
problem:
  strategy: Lagrangian
  scenarios: 20
  d_clusters: 2
  cluster_method: per_period
  reserves: false
solver:
  pool_size: 8
  mip_gap: 0.001
lagrange:
  max_iterations: 10
  momentum: 0.5
log:
  level: DEBUG
`))
	require.NoError(t, err)

	assert.Equal(t, "lagrangian", cfg.Problem.Strategy)
	assert.Equal(t, 20, cfg.Problem.Scenarios)
	assert.Equal(t, 2, cfg.Problem.DClusters)
	assert.Equal(t, "per_period", cfg.Problem.ClusterMethod)
	assert.False(t, cfg.Problem.Reserves)
	assert.Equal(t, 8, cfg.Solver.PoolSize)
	assert.Equal(t, 0.001, cfg.Solver.MIPGap)
	assert.Equal(t, 10, cfg.Lagrange.MaxIterations)
	assert.Equal(t, 0.5, cfg.Lagrange.Momentum)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("LOG_LEVEL", "warn")
	t.Setenv("LOG_FORMAT", "json")
	t.Setenv("FLEXBID_DSN", ":memory:")
	t.Setenv("FLEXBID_STRATEGY", "direct")

	cfg, err := config.Load(writeConfig(t, "problem:\n  strategy: stochastic\nlog:\n  level: debug\n"))
	require.NoError(t, err)

	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, ":memory:", cfg.Storage.DSN)
	assert.Equal(t, "direct", cfg.Problem.Strategy)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"unknown strategy", "problem:\n  strategy: greedy\n"},
		{"unknown reduction", "problem:\n  reduction: kmeans\n"},
		{"unknown distance", "problem:\n  reduction_distance: wasserstein\n"},
		{"unknown cluster method", "problem:\n  cluster_method: global\n"},
		{"unknown reserve model", "problem:\n  reserve_model: exact\n"},
		{"negative scenarios", "problem:\n  scenarios: -1\n"},
		{"acceptance above one", "problem:\n  desired_acceptance: 1.5\n"},
		{"no energy market", "problem:\n  imbalance: false\n"},
		{"negative gap", "solver:\n  mip_gap: -0.1\n"},
		{"momentum one", "lagrange:\n  momentum: 1\n"},
		{"bad log level", "log:\n  level: trace\n"},
		{"bad log format", "log:\n  format: xml\n"},
		{"malformed yaml", "problem: [\n"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := config.Load(writeConfig(t, tc.body))
			require.Error(t, err)
			assert.ErrorIs(t, err, domain.ErrInvalidConfiguration)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}
