// Package scene defines the per-step data contract between a simulator and
// the observation battery. The host simulation fills a Snapshot once per step
// from its sensor buffers and cached action tensors; observation terms only
// ever read from it. A Snapshot is ephemeral: nothing in this package
// persists state between steps.
package scene

import (
	geo "github.com/kellydunn/golang-geo"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/num/quat"

	"github.com/navsim-modules/navsim-observer/heightgrid"
)

var (
	// ErrUnknownCamera denotes that a camera name is not present in the snapshot.
	ErrUnknownCamera = errors.New("unknown camera sensor")

	// ErrUnknownRayCaster denotes that a ray caster name is not present in the snapshot.
	ErrUnknownRayCaster = errors.New("unknown ray caster sensor")

	// ErrUnknownBody denotes that a rigid body name is not present in the snapshot.
	ErrUnknownBody = errors.New("unknown rigid body")

	// ErrUnknownActionTerm denotes that an action term name is not present in the snapshot.
	ErrUnknownActionTerm = errors.New("unknown action term")
)

// CameraData holds one step of camera buffers for N environment instances.
// Depth is N x (Height*Width); RGB is N x (Height*Width*Channels) in HWC
// order; Intrinsics is N x 9 (row-major 3x3). Buffers a given camera does not
// produce are nil.
type CameraData struct {
	Width      int
	Height     int
	Channels   int
	Depth      *mat.Dense
	RGB        *mat.Dense
	Intrinsics *mat.Dense
	PosWorld   []r3.Vector
	QuatWorld  []quat.Number
}

// RayCasterData holds one step of ray-cast lidar output for N environment
// instances: the world-frame hit point of every ray and the world-frame
// sensor origin. Rays that hit nothing report NaN or infinite coordinates.
type RayCasterData struct {
	HitsWorld [][]r3.Vector
	PosWorld  []r3.Vector
}

// PointCloudBatch bridges the ray caster output and the robot root
// orientation into the rasterizer's input batch.
func (d *RayCasterData) PointCloudBatch(rootOrientation []quat.Number) heightgrid.PointCloudBatch {
	return heightgrid.PointCloudBatch{
		HitsWorld:       d.HitsWorld,
		OriginWorld:     d.PosWorld,
		RootOrientation: rootOrientation,
	}
}

// BodyData holds one step of rigid body state for N environment instances.
// Orientations are unit quaternions (w,x,y,z); accelerations are world-frame.
// GeoPosition is optional and only set by hosts that localize the robot
// geographically.
type BodyData struct {
	RootPosWorld  []r3.Vector
	RootQuatWorld []quat.Number
	LinAccWorld   []r3.Vector
	AngAccWorld   []r3.Vector
	GeoPosition   []*geo.Point
}

// Snapshot is everything the observation battery may read during one
// simulation step, keyed by the sensor and body names the host configured.
type Snapshot struct {
	NumEnvs    int
	Cameras    map[string]*CameraData
	RayCasters map[string]*RayCasterData
	Bodies     map[string]*BodyData
	Actions    map[string]ActionSource
}

// Camera returns the named camera's buffers.
func (snap *Snapshot) Camera(name string) (*CameraData, error) {
	cam, ok := snap.Cameras[name]
	if !ok {
		return nil, errors.Wrap(ErrUnknownCamera, name)
	}
	return cam, nil
}

// RayCaster returns the named ray caster's buffers.
func (snap *Snapshot) RayCaster(name string) (*RayCasterData, error) {
	rc, ok := snap.RayCasters[name]
	if !ok {
		return nil, errors.Wrap(ErrUnknownRayCaster, name)
	}
	return rc, nil
}

// Body returns the named rigid body's state.
func (snap *Snapshot) Body(name string) (*BodyData, error) {
	body, ok := snap.Bodies[name]
	if !ok {
		return nil, errors.Wrap(ErrUnknownBody, name)
	}
	return body, nil
}

// Action returns the named action term's cached tensors.
func (snap *Snapshot) Action(name string) (ActionSource, error) {
	action, ok := snap.Actions[name]
	if !ok {
		return nil, errors.Wrap(ErrUnknownActionTerm, name)
	}
	return action, nil
}

// Validate checks that every sensor and body in the snapshot covers exactly
// NumEnvs environment instances. All mismatches are reported, not just the
// first.
func (snap *Snapshot) Validate() error {
	var err error
	for name, cam := range snap.Cameras {
		err = multierr.Append(err, validateCamera(name, cam, snap.NumEnvs))
	}
	for name, rc := range snap.RayCasters {
		if len(rc.HitsWorld) != snap.NumEnvs || len(rc.PosWorld) != snap.NumEnvs {
			err = multierr.Append(err, errors.Errorf("ray caster %q does not cover %d environments", name, snap.NumEnvs))
		}
	}
	for name, body := range snap.Bodies {
		if len(body.RootQuatWorld) != snap.NumEnvs {
			err = multierr.Append(err, errors.Errorf("rigid body %q does not cover %d environments", name, snap.NumEnvs))
		}
	}
	return err
}

func validateCamera(name string, cam *CameraData, numEnvs int) error {
	var err error
	if cam.Depth != nil {
		err = multierr.Append(err, validateBufferShape(name, "depth", cam.Depth, numEnvs, cam.Height*cam.Width))
	}
	if cam.RGB != nil {
		err = multierr.Append(err, validateBufferShape(name, "rgb", cam.RGB, numEnvs, cam.Height*cam.Width*cam.Channels))
	}
	if cam.Intrinsics != nil {
		err = multierr.Append(err, validateBufferShape(name, "intrinsics", cam.Intrinsics, numEnvs, 9))
	}
	return err
}

func validateBufferShape(name, buffer string, m *mat.Dense, rows, cols int) error {
	r, c := m.Dims()
	if r != rows || c != cols {
		return errors.Errorf("camera %q %s buffer is %dx%d, expected %dx%d", name, buffer, r, c, rows, cols)
	}
	return nil
}
