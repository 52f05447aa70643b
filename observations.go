package navsimobserver

import (
	"math"
	"sort"

	geo "github.com/kellydunn/golang-geo"
	"github.com/pkg/errors"
	"go.viam.com/rdk/spatialmath"
	rdkutils "go.viam.com/rdk/utils"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/num/quat"

	"github.com/navsim-modules/navsim-observer/heightgrid"
	"github.com/navsim-modules/navsim-observer/scene"
)

// Clip bounds for the 1D lidar height profile, in the same units as the hit
// coordinates.
const (
	lidarProfileNearClip = 0.0
	lidarProfileFarClip  = 5.0
)

// worldToROS rotates a camera orientation from the x-forward/z-up world
// convention to the z-forward/y-down ROS optical convention.
var worldToROS = quat.Number{Real: 0.5, Imag: -0.5, Jmag: 0.5, Kmag: -0.5}

// RaycastCameraDepth returns the named camera's depth buffer with NaN and
// infinite readings replaced by zero. Shape N x (Height*Width).
func RaycastCameraDepth(snap *scene.Snapshot, cameraName string) (*mat.Dense, error) {
	cam, err := snap.Camera(cameraName)
	if err != nil {
		return nil, err
	}
	if cam.Depth == nil {
		return nil, errors.Errorf("camera %q has no depth buffer", cameraName)
	}

	out := mat.DenseCopyOf(cam.Depth)
	data := out.RawMatrix().Data
	for i, v := range data {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			data[i] = 0
		}
	}
	return out, nil
}

// ProcessedDepth returns the named camera's depth buffer with missed readings
// substituted by farClip and all values clamped to [nearClip, farClip].
// Shape N x (Height*Width).
func ProcessedDepth(snap *scene.Snapshot, cameraName string, nearClip, farClip float64) (*mat.Dense, error) {
	cam, err := snap.Camera(cameraName)
	if err != nil {
		return nil, err
	}
	if cam.Depth == nil {
		return nil, errors.Errorf("camera %q has no depth buffer", cameraName)
	}

	out := mat.DenseCopyOf(cam.Depth)
	data := out.RawMatrix().Data
	for i, v := range data {
		data[i] = clamp(sanitizeTo(v, farClip), nearClip, farClip)
	}
	return out, nil
}

// CameraRGBPlanar returns the named camera's color buffer permuted from
// interleaved HWC order to planar CHW order. Shape N x (Channels*Height*Width).
func CameraRGBPlanar(snap *scene.Snapshot, cameraName string) (*mat.Dense, error) {
	cam, err := snap.Camera(cameraName)
	if err != nil {
		return nil, err
	}
	if cam.RGB == nil {
		return nil, errors.Errorf("camera %q has no rgb buffer", cameraName)
	}

	numEnvs, _ := cam.RGB.Dims()
	pixels := cam.Height * cam.Width
	out := mat.NewDense(numEnvs, cam.Channels*pixels, nil)
	for i := 0; i < numEnvs; i++ {
		row := cam.RGB.RawRowView(i)
		outRow := out.RawRowView(i)
		for p := 0; p < pixels; p++ {
			for c := 0; c < cam.Channels; c++ {
				outRow[c*pixels+p] = row[p*cam.Channels+c]
			}
		}
	}
	return out, nil
}

// CameraIntrinsics returns a copy of the named camera's intrinsic matrices,
// one row-major 3x3 matrix per environment. Shape N x 9.
func CameraIntrinsics(snap *scene.Snapshot, cameraName string) (*mat.Dense, error) {
	cam, err := snap.Camera(cameraName)
	if err != nil {
		return nil, err
	}
	if cam.Intrinsics == nil {
		return nil, errors.Errorf("camera %q has no intrinsics", cameraName)
	}
	return mat.DenseCopyOf(cam.Intrinsics), nil
}

// CameraPosition returns the named camera's world-frame position. Shape N x 3.
func CameraPosition(snap *scene.Snapshot, cameraName string) (*mat.Dense, error) {
	cam, err := snap.Camera(cameraName)
	if err != nil {
		return nil, err
	}

	if len(cam.PosWorld) == 0 {
		return nil, errors.Errorf("camera %q has no pose data", cameraName)
	}

	out := mat.NewDense(len(cam.PosWorld), 3, nil)
	for i, pos := range cam.PosWorld {
		out.SetRow(i, []float64{pos.X, pos.Y, pos.Z})
	}
	return out, nil
}

// CameraOrientation returns the named camera's world-frame orientation as
// unit quaternions (w,x,y,z). Shape N x 4.
func CameraOrientation(snap *scene.Snapshot, cameraName string) (*mat.Dense, error) {
	cam, err := snap.Camera(cameraName)
	if err != nil {
		return nil, err
	}
	if len(cam.QuatWorld) == 0 {
		return nil, errors.Errorf("camera %q has no pose data", cameraName)
	}
	return quaternionRows(cam.QuatWorld), nil
}

// CameraOrientationROS returns the named camera's orientation converted to
// the ROS optical convention. Shape N x 4.
func CameraOrientationROS(snap *scene.Snapshot, cameraName string) (*mat.Dense, error) {
	cam, err := snap.Camera(cameraName)
	if err != nil {
		return nil, err
	}

	if len(cam.QuatWorld) == 0 {
		return nil, errors.Errorf("camera %q has no pose data", cameraName)
	}

	converted := make([]quat.Number, len(cam.QuatWorld))
	for i, q := range cam.QuatWorld {
		converted[i] = quat.Mul(q, worldToROS)
	}
	return quaternionRows(converted), nil
}

// LidarHeightProfile returns, per ray, the height of the sensor origin above
// the ray hit minus the mounting offset, clamped and normalized to
// [-0.5, 0.5]. Missed rays saturate at the far clip. Shape N x R.
func LidarHeightProfile(snap *scene.Snapshot, lidarName string, offset float64) (*mat.Dense, error) {
	rayCaster, err := snap.RayCaster(lidarName)
	if err != nil {
		return nil, err
	}
	if len(rayCaster.HitsWorld) == 0 || len(rayCaster.HitsWorld[0]) == 0 {
		return nil, errors.Errorf("ray caster %q reported no rays", lidarName)
	}

	numRays := len(rayCaster.HitsWorld[0])
	out := mat.NewDense(len(rayCaster.HitsWorld), numRays, nil)
	for i, hits := range rayCaster.HitsWorld {
		row := out.RawRowView(i)
		for j, hit := range hits {
			v := rayCaster.PosWorld[i].Z - hit.Z - offset
			v = clamp(sanitizeTo(v, lidarProfileFarClip), lidarProfileNearClip, lidarProfileFarClip)
			row[j] = (v-lidarProfileNearClip)/(lidarProfileFarClip-lidarProfileNearClip) - 0.5
		}
	}
	return out, nil
}

// HeightMapLidar rasterizes the named lidar's ray hits into per-environment
// height maps in the sensor frame of the named robot body. Shape N x (Bx*By).
func HeightMapLidar(
	snap *scene.Snapshot,
	lidarName, robotName string,
	rasterizer *heightgrid.Rasterizer,
) (*mat.Dense, error) {
	rayCaster, err := snap.RayCaster(lidarName)
	if err != nil {
		return nil, err
	}
	body, err := snap.Body(robotName)
	if err != nil {
		return nil, err
	}
	return rasterizer.Rasterize(rayCaster.PointCloudBatch(body.RootQuatWorld))
}

// LowLevelActions returns a copy of the named action term's cached
// actuator-level command. Shape N x A.
func LowLevelActions(snap *scene.Snapshot, actionTerm string) (*mat.Dense, error) {
	action, err := snap.Action(actionTerm)
	if err != nil {
		return nil, err
	}
	lowLevel := action.LowLevelActions()
	if lowLevel == nil {
		return nil, errors.Errorf("action term %q has no cached low-level actions", actionTerm)
	}
	return mat.DenseCopyOf(lowLevel), nil
}

// LastActions returns a copy of the named action term's cached policy-level
// command. With an empty term name it returns the entire action tensor: all
// terms' commands concatenated in sorted term-name order.
func LastActions(snap *scene.Snapshot, actionTerm string) (*mat.Dense, error) {
	if actionTerm != "" {
		action, err := snap.Action(actionTerm)
		if err != nil {
			return nil, err
		}
		raw := action.RawActions()
		if raw == nil {
			return nil, errors.Errorf("action term %q has no cached raw actions", actionTerm)
		}
		return mat.DenseCopyOf(raw), nil
	}

	names := make([]string, 0, len(snap.Actions))
	for name := range snap.Actions {
		names = append(names, name)
	}
	if len(names) == 0 {
		return nil, errors.New("snapshot has no action terms")
	}
	sort.Strings(names)

	blocks := make([]*mat.Dense, 0, len(names))
	cols := 0
	for _, name := range names {
		raw := snap.Actions[name].RawActions()
		if raw == nil {
			return nil, errors.Errorf("action term %q has no cached raw actions", name)
		}
		blocks = append(blocks, raw)
		_, c := raw.Dims()
		cols += c
	}

	rows, _ := blocks[0].Dims()
	out := mat.NewDense(rows, cols, nil)
	offset := 0
	for _, block := range blocks {
		r, c := block.Dims()
		if r != rows {
			return nil, errors.Errorf("action terms disagree on environment count: %d vs %d", r, rows)
		}
		out.Slice(0, rows, offset, offset+c).(*mat.Dense).Copy(block)
		offset += c
	}
	return out, nil
}

// BaseLinearAcceleration returns the named body's linear acceleration rotated
// into its root frame. Shape N x 3.
func BaseLinearAcceleration(snap *scene.Snapshot, bodyName string) (*mat.Dense, error) {
	body, err := snap.Body(bodyName)
	if err != nil {
		return nil, err
	}

	if len(body.LinAccWorld) == 0 {
		return nil, errors.Errorf("rigid body %q has no linear acceleration data", bodyName)
	}

	out := mat.NewDense(len(body.LinAccWorld), 3, nil)
	for i, acc := range body.LinAccWorld {
		local := heightgrid.RotateByInverse(body.RootQuatWorld[i], acc)
		out.SetRow(i, []float64{local.X, local.Y, local.Z})
	}
	return out, nil
}

// BaseAngularAcceleration returns the named body's angular acceleration
// rotated into its root frame. Shape N x 3.
func BaseAngularAcceleration(snap *scene.Snapshot, bodyName string) (*mat.Dense, error) {
	body, err := snap.Body(bodyName)
	if err != nil {
		return nil, err
	}

	if len(body.AngAccWorld) == 0 {
		return nil, errors.Errorf("rigid body %q has no angular acceleration data", bodyName)
	}

	out := mat.NewDense(len(body.AngAccWorld), 3, nil)
	for i, acc := range body.AngAccWorld {
		local := heightgrid.RotateByInverse(body.RootQuatWorld[i], acc)
		out.SetRow(i, []float64{local.X, local.Y, local.Z})
	}
	return out, nil
}

// BaseRollPitchYaw returns the named body's root orientation as Euler angles.
// Shape N x 3 (roll, pitch, yaw).
func BaseRollPitchYaw(snap *scene.Snapshot, bodyName string) (*mat.Dense, error) {
	body, err := snap.Body(bodyName)
	if err != nil {
		return nil, err
	}

	if len(body.RootQuatWorld) == 0 {
		return nil, errors.Errorf("rigid body %q has no orientation data", bodyName)
	}

	out := mat.NewDense(len(body.RootQuatWorld), 3, nil)
	for i, q := range body.RootQuatWorld {
		ea := spatialmath.QuatToEulerAngles(q)
		out.SetRow(i, []float64{ea.Roll, ea.Pitch, ea.Yaw})
	}
	return out, nil
}

// GoalCompass returns the planar distance in meters and the bearing in
// radians from the named body's geographic position to the goal. Shape N x 2.
func GoalCompass(snap *scene.Snapshot, bodyName string, goal *geo.Point) (*mat.Dense, error) {
	body, err := snap.Body(bodyName)
	if err != nil {
		return nil, err
	}

	if len(body.GeoPosition) == 0 {
		return nil, errors.Errorf("rigid body %q has no geographic position data", bodyName)
	}

	out := mat.NewDense(len(body.GeoPosition), 2, nil)
	for i, position := range body.GeoPosition {
		if position == nil {
			return nil, errors.Errorf("rigid body %q has no geographic position for environment %d", bodyName, i)
		}
		distanceMeters := position.GreatCircleDistance(goal) * 1000
		bearing := rdkutils.DegToRad(position.BearingTo(goal))
		out.SetRow(i, []float64{distanceMeters, bearing})
	}
	return out, nil
}

func quaternionRows(quats []quat.Number) *mat.Dense {
	out := mat.NewDense(len(quats), 4, nil)
	for i, q := range quats {
		out.SetRow(i, []float64{q.Real, q.Imag, q.Jmag, q.Kmag})
	}
	return out
}

func sanitizeTo(v, substitute float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return substitute
	}
	return v
}

func clamp(v, low, high float64) float64 {
	return math.Min(math.Max(v, low), high)
}
