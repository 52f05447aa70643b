package heightgrid

import (
	"math"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/num/quat"
)

// minHeight is the noise floor: finalized heights strictly below it are
// clamped to exactly zero.
const minHeight = 0.05

var (
	// ErrBatchFieldMismatch denotes that the batch fields do not agree on the environment count.
	ErrBatchFieldMismatch = errors.New("batch fields must have one entry per environment")

	// ErrJaggedRayCount denotes that environments in a batch report different ray counts.
	ErrJaggedRayCount = errors.New("ray count must be identical across environments")

	// ErrEmptyBatch denotes that a batch covers no environments.
	ErrEmptyBatch = errors.New("batch must cover at least one environment")
)

// PointCloudBatch holds one simulation step of lidar data for N parallel
// environment instances: R world-frame ray hits per environment, the sensor
// origin position per environment, and the robot root orientation per
// environment as a unit quaternion. Ray hits with NaN or infinite coordinates
// represent rays that hit nothing.
type PointCloudBatch struct {
	HitsWorld       [][]r3.Vector
	OriginWorld     []r3.Vector
	RootOrientation []quat.Number
}

// Validate checks that the batch is dense and non-empty: every field covers
// the same non-zero number of environments and every environment carries the
// same number of rays.
func (batch PointCloudBatch) Validate() error {
	numEnvs := len(batch.HitsWorld)
	if len(batch.OriginWorld) != numEnvs || len(batch.RootOrientation) != numEnvs {
		return ErrBatchFieldMismatch
	}
	if numEnvs == 0 {
		return ErrEmptyBatch
	}
	numRays := len(batch.HitsWorld[0])
	for _, hits := range batch.HitsWorld[1:] {
		if len(hits) != numRays {
			return ErrJaggedRayCount
		}
	}
	return nil
}

// Rasterizer converts point cloud batches into per-environment height maps.
// It is pure: every invocation depends only on its input batch and the fixed
// configuration captured at construction, so calls are reentrant and results
// are deterministic.
type Rasterizer struct {
	spec   GridSpec
	mount  quat.Number
	offset float64
}

// NewRasterizer returns a Rasterizer over the given grid. mount is the fixed
// orientation of the sensor frame relative to the robot body frame as a unit
// quaternion (w,x,y,z); offset is the sensor's mounting height above ground,
// subtracted from every computed height.
func NewRasterizer(spec GridSpec, mount quat.Number, offset float64) *Rasterizer {
	return &Rasterizer{spec: spec, mount: mount, offset: offset}
}

// GridSpec returns the grid configuration the rasterizer was built with.
func (r *Rasterizer) GridSpec() GridSpec {
	return r.spec
}

// Rasterize bins each environment's ray hits into the horizontal grid and
// reduces every cell to the minimum sensor-frame height among the points that
// fell into it, then subtracts the mounting offset, clamps values below the
// noise floor to zero and dilates the result with a 3x3 max filter. The
// returned matrix has one row per environment holding the x-major flattened
// grid; it never contains NaN or infinite values.
func (r *Rasterizer) Rasterize(batch PointCloudBatch) (*mat.Dense, error) {
	if err := batch.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid point cloud batch")
	}

	binsX, binsY := r.spec.Bins()
	numEnvs := len(batch.HitsWorld)
	out := mat.NewDense(numEnvs, binsX*binsY, nil)

	grid := make([]float64, binsX*binsY)
	pooled := make([]float64, binsX*binsY)
	for i := 0; i < numEnvs; i++ {
		// Empty cells hold +Inf so the minimum reduction is well-formed.
		for j := range grid {
			grid[j] = math.Inf(1)
		}

		sensorOrientation := quat.Mul(batch.RootOrientation[i], r.mount)
		origin := batch.OriginWorld[i]
		for _, hit := range batch.HitsWorld[i] {
			hitVec := r3.Vector{
				X: sanitize(hit.X - origin.X),
				Y: sanitize(hit.Y - origin.Y),
				Z: sanitize(hit.Z - origin.Z),
			}
			local := RotateByInverse(sensorOrientation, hitVec)
			if !r.spec.contains(local.X, local.Y, local.Z) {
				continue
			}
			cell := r.spec.binX(local.X)*binsY + r.spec.binY(local.Y)
			if local.Z < grid[cell] {
				grid[cell] = local.Z
			}
		}

		for j, h := range grid {
			h -= r.offset
			if math.IsInf(h, 0) || h < minHeight {
				h = 0
			}
			grid[j] = h
		}

		maxPool3x3(grid, pooled, binsX, binsY)
		out.SetRow(i, pooled)
	}
	return out, nil
}

// sanitize maps NaN and infinite displacement components to zero so rays that
// hit nothing contribute a zero displacement instead of garbage geometry.
func sanitize(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}

// RotateByInverse rotates v by the inverse of the unit quaternion q. The
// caller is responsible for q being unit-norm; no renormalization happens
// here.
func RotateByInverse(q quat.Number, v r3.Vector) r3.Vector {
	p := quat.Number{Imag: v.X, Jmag: v.Y, Kmag: v.Z}
	rotated := quat.Mul(quat.Conj(q), quat.Mul(p, q))
	return r3.Vector{X: rotated.Imag, Y: rotated.Jmag, Z: rotated.Kmag}
}

// maxPool3x3 applies a max filter with a 3x3 window, stride 1 and a truncated
// window at the borders to the x-major grid in src, writing the same-size
// result to dst. All inputs are non-negative at this point, so the truncated
// border window matches zero padding.
func maxPool3x3(src, dst []float64, binsX, binsY int) {
	for x := 0; x < binsX; x++ {
		for y := 0; y < binsY; y++ {
			best := 0.0
			for dx := -1; dx <= 1; dx++ {
				for dy := -1; dy <= 1; dy++ {
					nx, ny := x+dx, y+dy
					if nx < 0 || nx >= binsX || ny < 0 || ny >= binsY {
						continue
					}
					if v := src[nx*binsY+ny]; v > best {
						best = v
					}
				}
			}
			dst[x*binsY+y] = best
		}
	}
}
