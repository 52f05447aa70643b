// Package config implements attribute evaluation for the observation battery.
package config

import (
	geo "github.com/kellydunn/golang-geo"
	"github.com/pkg/errors"
	"go.viam.com/rdk/logging"
	goutils "go.viam.com/utils"
	"gonum.org/v1/gonum/num/quat"
)

// Default values applied by GetOptionalParameters when the corresponding
// attribute is unset.
const (
	DefaultOffset          = 0.5
	DefaultNearClip        = 0.3
	DefaultFarClip         = 5.0
	DefaultDataFrequencyHz = 50
	DefaultActionTerm      = "paths"
)

// newError returns an error specific to a failure in the battery config.
func newError(configError string) error {
	return errors.Errorf("observation battery configuration error: %s", configError)
}

// Config describes how to configure the observation battery. The grid
// attributes mirror the rasterizer contract: voxel_size_xy is the horizontal
// resolution, range_x/range_y bound the grid extent, range_z is the vertical
// acceptance band and offset is the sensor mounting-height correction.
type Config struct {
	Lidar            string    `json:"lidar"`
	Camera           string    `json:"camera"`
	Robot            string    `json:"robot"`
	Terms            []string  `json:"terms"`
	VoxelSizeXY      float64   `json:"voxel_size_xy"`
	RangeX           []float64 `json:"range_x"`
	RangeY           []float64 `json:"range_y"`
	RangeZ           []float64 `json:"range_z"`
	Offset           *float64  `json:"offset"`
	NearClip         *float64  `json:"near_clip"`
	FarClip          *float64  `json:"far_clip"`
	MountOrientation []float64 `json:"mount_orientation"`
	ActionTerm       string    `json:"action_term"`
	DataFrequencyHz  int       `json:"data_frequency_hz"`
	GoalLatitude     *float64  `json:"goal_latitude"`
	GoalLongitude    *float64  `json:"goal_longitude"`
}

// OptionalConfigParams holds the optional attributes with defaults applied.
type OptionalConfigParams struct {
	Offset          float64
	NearClip        float64
	FarClip         float64
	Mount           quat.Number
	ActionTerm      string
	DataFrequencyHz int
	Goal            *geo.Point
}

// Validate creates the list of implicit dependencies.
func (config *Config) Validate(path string) ([]string, error) {
	if config.Lidar == "" {
		return nil, goutils.NewConfigValidationFieldRequiredError(path, "lidar")
	}

	if config.Robot == "" {
		return nil, goutils.NewConfigValidationFieldRequiredError(path, "robot")
	}

	if config.VoxelSizeXY == 0 {
		return nil, goutils.NewConfigValidationFieldRequiredError(path, "voxel_size_xy")
	}
	if config.VoxelSizeXY < 0 {
		return nil, newError("voxel_size_xy must be greater than zero")
	}

	for _, axisRange := range []struct {
		field  string
		bounds []float64
	}{
		{"range_x", config.RangeX},
		{"range_y", config.RangeY},
		{"range_z", config.RangeZ},
	} {
		if len(axisRange.bounds) == 0 {
			return nil, goutils.NewConfigValidationFieldRequiredError(path, axisRange.field)
		}
		if len(axisRange.bounds) != 2 {
			return nil, newError(axisRange.field + " must contain exactly two values")
		}
		if axisRange.bounds[0] >= axisRange.bounds[1] {
			return nil, newError(axisRange.field + " minimum must be less than its maximum")
		}
	}

	if len(config.MountOrientation) != 0 && len(config.MountOrientation) != 4 {
		return nil, newError("mount_orientation must contain exactly four values (w,x,y,z)")
	}

	if config.DataFrequencyHz < 0 {
		return nil, errors.New("cannot specify data_frequency_hz less than zero")
	}

	if (config.GoalLatitude == nil) != (config.GoalLongitude == nil) {
		return nil, newError("goal_latitude and goal_longitude must be set together")
	}

	deps := []string{config.Lidar, config.Robot}
	if config.Camera != "" {
		deps = append(deps, config.Camera)
	}
	return deps, nil
}

// GetOptionalParameters sets any unset optional config parameters to their
// defaults, and returns them.
func GetOptionalParameters(config *Config, logger logging.Logger) OptionalConfigParams {
	optional := OptionalConfigParams{
		Offset:          DefaultOffset,
		NearClip:        DefaultNearClip,
		FarClip:         DefaultFarClip,
		Mount:           quat.Number{Real: 1},
		ActionTerm:      DefaultActionTerm,
		DataFrequencyHz: config.DataFrequencyHz,
	}

	if config.ActionTerm != "" {
		optional.ActionTerm = config.ActionTerm
	}

	if config.Offset == nil {
		logger.Debugf("no offset given, setting to default value of %v", DefaultOffset)
	} else {
		optional.Offset = *config.Offset
	}

	if config.NearClip != nil {
		optional.NearClip = *config.NearClip
	}
	if config.FarClip != nil {
		optional.FarClip = *config.FarClip
	}

	if len(config.MountOrientation) == 4 {
		optional.Mount = quat.Number{
			Real: config.MountOrientation[0],
			Imag: config.MountOrientation[1],
			Jmag: config.MountOrientation[2],
			Kmag: config.MountOrientation[3],
		}
	} else {
		logger.Debug("no mount_orientation given, assuming the sensor frame matches the body frame")
	}

	if config.DataFrequencyHz == 0 {
		optional.DataFrequencyHz = DefaultDataFrequencyHz
		logger.Debugf("no data_frequency_hz given, setting to default value of %d", DefaultDataFrequencyHz)
	}

	if config.GoalLatitude != nil && config.GoalLongitude != nil {
		optional.Goal = geo.NewPoint(*config.GoalLatitude, *config.GoalLongitude)
	}

	return optional
}
