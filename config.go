// Package proslam wires the stereo visual SLAM core together: triangulator,
// tracker, world map, graph optimizer, and place recognition, behind one
// Engine.Step per-frame entrypoint.
package proslam

import (
	"os"

	"gopkg.in/yaml.v3"

	"github.com/itohio/proslam/pkg/graphopt"
	"github.com/itohio/proslam/pkg/plugin"
	"github.com/itohio/proslam/pkg/recognize"
	"github.com/itohio/proslam/pkg/tracking"
	"github.com/itohio/proslam/pkg/triangulation"
	"github.com/itohio/proslam/pkg/worldmap"
)

// Config is the pipeline's full tunable set, loadable from YAML with
// functional-option overrides (pkg/plugin.Option/Apply) applied on top.
type Config struct {
	MinimumTrackLength                       int     `yaml:"minimum_track_length"`
	MinimumDisparityPixels                   float64 `yaml:"minimum_disparity_pixels"`
	MaximumMatchingDistanceTriangulation     int     `yaml:"maximum_matching_distance_triangulation"`
	EpsilonRow                               float64 `yaml:"epsilon_row"`
	ProjectionTrackingDistancePixels         float64 `yaml:"projection_tracking_distance_pixels"`
	MaximumProjectionTrackingDistancePixels  float64 `yaml:"maximum_projection_tracking_distance_pixels"`
	MaximumNumberOfRecursiveRegistrations    int     `yaml:"maximum_number_of_recursive_registrations"`
	MinimumDegreesRotatedForLocalMap         float64 `yaml:"minimum_degrees_rotated_for_local_map"`
	MinimumDistanceTraveledForLocalMap       float64 `yaml:"minimum_distance_traveled_for_local_map"`
	MinimumNumberOfFramesForLocalMap         int     `yaml:"minimum_number_of_frames_for_local_map"`
	MaximumDepthClose                        float64 `yaml:"maximum_depth_close"`
	DropFramepoints                          bool    `yaml:"drop_framepoints"`
	PoseGraphIterations                      int     `yaml:"pose_graph_iterations"`
	BinSizePixels                            float64 `yaml:"bin_size_pixels"`
	EnableBinning                            bool    `yaml:"enable_binning"`
	TrackByAppearance                        bool    `yaml:"track_by_appearance"`
	MaximumDescriptorDistance                int     `yaml:"maximum_descriptor_distance"`
	HuberDeltaPixels                         float64 `yaml:"huber_delta_pixels"`
	MaxWeight                                float64 `yaml:"max_weight"`
	BootstrapLocalMapCount                   int     `yaml:"bootstrap_local_map_count"`
	ClosureInformationScale                  float64 `yaml:"closure_information_scale"`
	RecognitionMinimumMatches                int     `yaml:"recognition_minimum_matches"`
	ImageWidth                               float64 `yaml:"image_width"`
	ImageHeight                              float64 `yaml:"image_height"`
}

// Option aliases pkg/plugin.Option for use with With* constructors.
type Option = plugin.Option

func WithMinimumTrackLength(n int) Option {
	return func(v interface{}) { v.(*Config).MinimumTrackLength = n }
}

func WithBootstrapLocalMapCount(n int) Option {
	return func(v interface{}) { v.(*Config).BootstrapLocalMapCount = n }
}

func WithTrackByAppearance(b bool) Option {
	return func(v interface{}) { v.(*Config).TrackByAppearance = b }
}

func WithPoseGraphIterations(n int) Option {
	return func(v interface{}) { v.(*Config).PoseGraphIterations = n }
}

// DefaultConfig assembles defaults from every subsystem's own DefaultParams,
// flattened onto Config.
func DefaultConfig() Config {
	wmp := worldmap.DefaultParams()
	tri := triangulation.DefaultParams()
	trk := tracking.DefaultParams()
	gop := graphopt.DefaultParams()
	rec := recognize.DefaultParams()

	return Config{
		MinimumTrackLength:                      wmp.MinimumTrackLength,
		MinimumDisparityPixels:                  tri.MinimumDisparityPixels,
		MaximumMatchingDistanceTriangulation:    tri.MaximumMatchingDistanceTriangulation,
		EpsilonRow:                              tri.EpsilonRow,
		ProjectionTrackingDistancePixels:        trk.ProjectionTrackingDistancePixels,
		MaximumProjectionTrackingDistancePixels: trk.MaximumProjectionTrackingDistancePixels,
		MaximumNumberOfRecursiveRegistrations:   trk.MaximumNumberOfRecursiveRegistrations,
		MinimumDegreesRotatedForLocalMap:        wmp.MinimumDegreesRotatedForLocalMap,
		MinimumDistanceTraveledForLocalMap:      wmp.MinimumDistanceTraveledForLocalMap,
		MinimumNumberOfFramesForLocalMap:        wmp.MinimumNumberOfFramesForLocalMap,
		MaximumDepthClose:                       5.0,
		DropFramepoints:                         wmp.DropFramepoints,
		PoseGraphIterations:                     gop.PoseGraphIterations,
		BinSizePixels:                           trk.BinSizePixels,
		EnableBinning:                           trk.EnableBinning,
		TrackByAppearance:                       trk.TrackByAppearance,
		MaximumDescriptorDistance:               trk.MaximumDescriptorDistanceTracking,
		HuberDeltaPixels:                        trk.Aligner.HuberDeltaPixels,
		MaxWeight:                               wmp.MaxWeight,
		BootstrapLocalMapCount:                  wmp.BootstrapLocalMapCount,
		ClosureInformationScale:                 gop.ClosureInformationScale,
		RecognitionMinimumMatches:               rec.MinimumMatches,
		ImageWidth:                              trk.ImageWidth,
		ImageHeight:                             trk.ImageHeight,
	}
}

// LoadConfig reads a YAML file into a Config seeded with DefaultConfig,
// so an incomplete file still yields sane values for every unset field.
func LoadConfig(path string, opts ...Option) (Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, err
	}

	plugin.Apply(&cfg, opts...)
	return cfg, nil
}

func (c Config) worldMapParams() worldmap.Params {
	p := worldmap.DefaultParams()
	p.MinimumTrackLength = c.MinimumTrackLength
	p.MinimumDegreesRotatedForLocalMap = c.MinimumDegreesRotatedForLocalMap
	p.MinimumDistanceTraveledForLocalMap = c.MinimumDistanceTraveledForLocalMap
	p.MinimumNumberOfFramesForLocalMap = c.MinimumNumberOfFramesForLocalMap
	p.BootstrapLocalMapCount = c.BootstrapLocalMapCount
	p.DropFramepoints = c.DropFramepoints
	p.MaxWeight = c.MaxWeight
	p.MaximumAppearanceDistance = c.MaximumDescriptorDistance
	return p
}

func (c Config) triangulationParams() triangulation.Params {
	p := triangulation.DefaultParams()
	p.MinimumDisparityPixels = c.MinimumDisparityPixels
	p.MaximumMatchingDistanceTriangulation = c.MaximumMatchingDistanceTriangulation
	p.EpsilonRow = c.EpsilonRow
	return p
}

func (c Config) trackingParams() tracking.Params {
	p := tracking.DefaultParams()
	p.MinimumTrackLength = c.MinimumTrackLength
	p.ProjectionTrackingDistancePixels = c.ProjectionTrackingDistancePixels
	p.MaximumProjectionTrackingDistancePixels = c.MaximumProjectionTrackingDistancePixels
	p.MaximumNumberOfRecursiveRegistrations = c.MaximumNumberOfRecursiveRegistrations
	p.TrackByAppearance = c.TrackByAppearance
	p.MaximumDescriptorDistanceTracking = c.MaximumDescriptorDistance
	p.MaximumDescriptorDistanceRecovery = c.MaximumDescriptorDistance
	p.EnableBinning = c.EnableBinning
	p.BinSizePixels = c.BinSizePixels
	p.ImageWidth = c.ImageWidth
	p.ImageHeight = c.ImageHeight
	p.Aligner.HuberDeltaPixels = c.HuberDeltaPixels
	return p
}

func (c Config) graphOptParams() graphopt.Params {
	p := graphopt.DefaultParams()
	p.PoseGraphIterations = c.PoseGraphIterations
	p.ClosureInformationScale = c.ClosureInformationScale
	return p
}

func (c Config) recognizeParams() recognize.Params {
	p := recognize.DefaultParams()
	p.MaximumDescriptorDistance = c.MaximumDescriptorDistance
	p.MinimumMatches = c.RecognitionMinimumMatches
	return p
}
