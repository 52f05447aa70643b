// Package navsimobserver extracts fixed-shape observation tensors from the
// sensor buffers of a batched robot-learning simulation. A configured
// ObservationBattery is queried once per simulation step with a scene
// snapshot and assembles the observation dictionary a learned policy
// consumes.
package navsimobserver

import (
	"context"

	"github.com/pkg/errors"
	"go.opencensus.io/trace"
	"go.uber.org/multierr"
	"go.uber.org/zap/zapcore"
	"go.viam.com/rdk/logging"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	vsConfig "github.com/navsim-modules/navsim-observer/config"
	"github.com/navsim-modules/navsim-observer/heightgrid"
	"github.com/navsim-modules/navsim-observer/scene"
)

// Observation term names. Each names one extraction the battery can run per
// step; the set a battery runs is chosen at construction.
const (
	TermRaycastDepth       = "raycast_depth"
	TermRGBPlanar          = "rgb_planar"
	TermProcessedDepth     = "processed_depth"
	TermCameraIntrinsics   = "camera_intrinsics"
	TermCameraPosition     = "camera_position"
	TermCameraOrientation  = "camera_orientation"
	TermCameraOrientROS    = "camera_orientation_ros"
	TermLidarHeightProfile = "lidar_height_profile"
	TermHeightMapLidar     = "height_map_lidar"
	TermLowLevelActions    = "low_level_actions"
	TermLastActions        = "last_actions"
	TermBaseLinAcc         = "base_lin_acc"
	TermBaseAngAcc         = "base_ang_acc"
	TermBaseRPY            = "base_rpy"
	TermGoalCompass        = "goal_compass"
)

var cameraTerms = map[string]bool{
	TermRaycastDepth:      true,
	TermRGBPlanar:         true,
	TermProcessedDepth:    true,
	TermCameraIntrinsics:  true,
	TermCameraPosition:    true,
	TermCameraOrientation: true,
	TermCameraOrientROS:   true,
}

var knownTerms = map[string]bool{
	TermRaycastDepth:       true,
	TermRGBPlanar:          true,
	TermProcessedDepth:     true,
	TermCameraIntrinsics:   true,
	TermCameraPosition:     true,
	TermCameraOrientation:  true,
	TermCameraOrientROS:    true,
	TermLidarHeightProfile: true,
	TermHeightMapLidar:     true,
	TermLowLevelActions:    true,
	TermLastActions:        true,
	TermBaseLinAcc:         true,
	TermBaseAngAcc:         true,
	TermBaseRPY:            true,
	TermGoalCompass:        true,
}

// ObservationBattery extracts a fixed set of observation terms from scene
// snapshots. It holds only immutable configuration, so Extract may be called
// concurrently for different steps or actors.
type ObservationBattery struct {
	lidarName  string
	cameraName string
	robotName  string
	terms      []string
	optional   vsConfig.OptionalConfigParams
	rasterizer *heightgrid.Rasterizer
	logger     logging.Logger
}

// New validates the config and returns a ready ObservationBattery. Grid
// configuration errors surface here, not per step.
func New(ctx context.Context, cfg *vsConfig.Config, logger logging.Logger) (*ObservationBattery, error) {
	_, span := trace.StartSpan(ctx, "navsimobserver::New")
	defer span.End()

	if _, err := cfg.Validate(""); err != nil {
		return nil, errors.Wrap(err, "error validating observation battery config")
	}
	optional := vsConfig.GetOptionalParameters(cfg, logger)

	gridSpec, err := heightgrid.NewGridSpec(
		cfg.VoxelSizeXY,
		[2]float64{cfg.RangeX[0], cfg.RangeX[1]},
		[2]float64{cfg.RangeY[0], cfg.RangeY[1]},
		[2]float64{cfg.RangeZ[0], cfg.RangeZ[1]},
	)
	if err != nil {
		return nil, errors.Wrap(err, "error building voxel grid")
	}

	terms := cfg.Terms
	if len(terms) == 0 {
		terms = defaultTerms(cfg, optional)
	}
	for _, term := range terms {
		if !knownTerms[term] {
			return nil, errors.Errorf("unknown observation term %q", term)
		}
		if cameraTerms[term] && cfg.Camera == "" {
			return nil, errors.Errorf("observation term %q requires a camera", term)
		}
		if term == TermGoalCompass && optional.Goal == nil {
			return nil, errors.Errorf("observation term %q requires goal_latitude and goal_longitude", term)
		}
	}

	return &ObservationBattery{
		lidarName:  cfg.Lidar,
		cameraName: cfg.Camera,
		robotName:  cfg.Robot,
		terms:      terms,
		optional:   optional,
		rasterizer: heightgrid.NewRasterizer(gridSpec, optional.Mount, optional.Offset),
		logger:     logger,
	}, nil
}

// defaultTerms is the full term set applicable to the given config.
func defaultTerms(cfg *vsConfig.Config, optional vsConfig.OptionalConfigParams) []string {
	terms := []string{
		TermLidarHeightProfile,
		TermHeightMapLidar,
		TermLowLevelActions,
		TermLastActions,
		TermBaseLinAcc,
		TermBaseAngAcc,
		TermBaseRPY,
	}
	if cfg.Camera != "" {
		terms = append(terms,
			TermRaycastDepth,
			TermRGBPlanar,
			TermProcessedDepth,
			TermCameraIntrinsics,
			TermCameraPosition,
			TermCameraOrientation,
			TermCameraOrientROS,
		)
	}
	if optional.Goal != nil {
		terms = append(terms, TermGoalCompass)
	}
	return terms
}

// Terms returns the observation term names this battery extracts per step.
func (battery *ObservationBattery) Terms() []string {
	terms := make([]string, len(battery.terms))
	copy(terms, battery.terms)
	return terms
}

// Rasterizer returns the height map rasterizer the battery was built with.
func (battery *ObservationBattery) Rasterizer() *heightgrid.Rasterizer {
	return battery.rasterizer
}

// Extract runs every configured observation term against the snapshot and
// returns the observation dictionary. Terms fail independently: every failing
// term contributes to the returned error while the remaining terms still
// produce values.
func (battery *ObservationBattery) Extract(ctx context.Context, snap *scene.Snapshot) (map[string]*mat.Dense, error) {
	_, span := trace.StartSpan(ctx, "navsimobserver::ObservationBattery::Extract")
	defer span.End()

	if snap.NumEnvs < 1 {
		return nil, errors.New("snapshot must cover at least one environment")
	}
	if err := snap.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid snapshot")
	}

	observations := make(map[string]*mat.Dense, len(battery.terms))
	var termErrs error
	for _, term := range battery.terms {
		value, err := battery.extractTerm(snap, term)
		if err != nil {
			termErrs = multierr.Append(termErrs, errors.Wrapf(err, "error extracting observation term %q", term))
			continue
		}
		observations[term] = value
	}

	if battery.logger.Level() == zapcore.DebugLevel {
		if heights, ok := observations[TermHeightMapLidar]; ok {
			data := heights.RawMatrix().Data
			if len(data) > 0 {
				battery.logger.Debugf("height map range [%v, %v]", floats.Min(data), floats.Max(data))
			}
		}
	}

	return observations, termErrs
}

func (battery *ObservationBattery) extractTerm(snap *scene.Snapshot, term string) (*mat.Dense, error) {
	switch term {
	case TermRaycastDepth:
		return RaycastCameraDepth(snap, battery.cameraName)
	case TermRGBPlanar:
		return CameraRGBPlanar(snap, battery.cameraName)
	case TermProcessedDepth:
		return ProcessedDepth(snap, battery.cameraName, battery.optional.NearClip, battery.optional.FarClip)
	case TermCameraIntrinsics:
		return CameraIntrinsics(snap, battery.cameraName)
	case TermCameraPosition:
		return CameraPosition(snap, battery.cameraName)
	case TermCameraOrientation:
		return CameraOrientation(snap, battery.cameraName)
	case TermCameraOrientROS:
		return CameraOrientationROS(snap, battery.cameraName)
	case TermLidarHeightProfile:
		return LidarHeightProfile(snap, battery.lidarName, battery.optional.Offset)
	case TermHeightMapLidar:
		return HeightMapLidar(snap, battery.lidarName, battery.robotName, battery.rasterizer)
	case TermLowLevelActions:
		return LowLevelActions(snap, battery.optional.ActionTerm)
	case TermLastActions:
		return LastActions(snap, "")
	case TermBaseLinAcc:
		return BaseLinearAcceleration(snap, battery.robotName)
	case TermBaseAngAcc:
		return BaseAngularAcceleration(snap, battery.robotName)
	case TermBaseRPY:
		return BaseRollPitchYaw(snap, battery.robotName)
	case TermGoalCompass:
		return GoalCompass(snap, battery.robotName, battery.optional.Goal)
	default:
		return nil, errors.Errorf("unknown observation term %q", term)
	}
}
