package proslam

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig_MatchesSubsystemDefaults(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 3, cfg.MinimumTrackLength)
	assert.Equal(t, 10, cfg.PoseGraphIterations)
	assert.Equal(t, 5, cfg.BootstrapLocalMapCount)
}

func TestLoadConfig_OverridesDefaultsFromYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("minimum_track_length: 9\ntrack_by_appearance: true\n"), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 9, cfg.MinimumTrackLength)
	assert.True(t, cfg.TrackByAppearance)
	// Untouched fields keep their defaults.
	assert.Equal(t, 10, cfg.PoseGraphIterations)
}

func TestLoadConfig_OptionOverridesYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("minimum_track_length: 9\n"), 0o644))

	cfg, err := LoadConfig(path, WithMinimumTrackLength(42))
	require.NoError(t, err)
	assert.Equal(t, 42, cfg.MinimumTrackLength)
}

func TestConfig_ConversionMethodsRoundTripTunables(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MinimumTrackLength = 7
	cfg.PoseGraphIterations = 3
	cfg.MaximumDescriptorDistance = 12

	assert.Equal(t, 7, cfg.worldMapParams().MinimumTrackLength)
	assert.Equal(t, 3, cfg.graphOptParams().PoseGraphIterations)
	assert.Equal(t, 12, cfg.recognizeParams().MaximumDescriptorDistance)
	assert.Equal(t, 12, cfg.trackingParams().MaximumDescriptorDistanceTracking)
}
