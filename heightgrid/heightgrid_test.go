package heightgrid

import (
	"math"
	"testing"

	"github.com/golang/geo/r3"
	"go.viam.com/test"
	"gonum.org/v1/gonum/num/quat"
)

var (
	identityQuat = quat.Number{Real: 1}

	scenarioRangeX = [2]float64{-0.8, 0.2}
	scenarioRangeY = [2]float64{-0.8, 0.8}
	scenarioRangeZ = [2]float64{0, 5}
)

func scenarioGridSpec(t *testing.T) GridSpec {
	t.Helper()
	spec, err := NewGridSpec(0.06, scenarioRangeX, scenarioRangeY, scenarioRangeZ)
	test.That(t, err, test.ShouldBeNil)
	return spec
}

func singleEnvBatch(origin r3.Vector, rootQuat quat.Number, hits ...r3.Vector) PointCloudBatch {
	return PointCloudBatch{
		HitsWorld:       [][]r3.Vector{hits},
		OriginWorld:     []r3.Vector{origin},
		RootOrientation: []quat.Number{rootQuat},
	}
}

func TestNewGridSpec(t *testing.T) {
	for _, tc := range []struct {
		msg      string
		cellSize float64
		rangeX   [2]float64
		rangeY   [2]float64
		rangeZ   [2]float64
		err      error
	}{
		{
			msg:      "errors if cell size is zero",
			cellSize: 0,
			rangeX:   scenarioRangeX,
			rangeY:   scenarioRangeY,
			rangeZ:   scenarioRangeZ,
			err:      ErrNonPositiveCellSize,
		},
		{
			msg:      "errors if cell size is negative",
			cellSize: -0.06,
			rangeX:   scenarioRangeX,
			rangeY:   scenarioRangeY,
			rangeZ:   scenarioRangeZ,
			err:      ErrNonPositiveCellSize,
		},
		{
			msg:      "errors if the x range is inverted",
			cellSize: 0.06,
			rangeX:   [2]float64{0.2, -0.8},
			rangeY:   scenarioRangeY,
			rangeZ:   scenarioRangeZ,
			err:      ErrInvertedRange,
		},
		{
			msg:      "errors if the y range is empty",
			cellSize: 0.06,
			rangeX:   scenarioRangeX,
			rangeY:   [2]float64{0.8, 0.8},
			rangeZ:   scenarioRangeZ,
			err:      ErrInvertedRange,
		},
		{
			msg:      "errors if the z range is inverted",
			cellSize: 0.06,
			rangeX:   scenarioRangeX,
			rangeY:   scenarioRangeY,
			rangeZ:   [2]float64{5, 0},
			err:      ErrInvertedRange,
		},
	} {
		t.Run(tc.msg, func(t *testing.T) {
			_, err := NewGridSpec(tc.cellSize, tc.rangeX, tc.rangeY, tc.rangeZ)
			test.That(t, err, test.ShouldBeError, tc.err)
		})
	}

	t.Run("bin counts are the ceiling of range over cell size", func(t *testing.T) {
		spec := scenarioGridSpec(t)
		binsX, binsY := spec.Bins()
		test.That(t, binsX, test.ShouldEqual, 17)
		test.That(t, binsY, test.ShouldEqual, 27)
	})
}

func TestBinEdgeBoundaries(t *testing.T) {
	spec, err := NewGridSpec(0.1, [2]float64{0, 0.3}, [2]float64{0, 0.3}, [2]float64{0, 1})
	test.That(t, err, test.ShouldBeNil)

	// A point exactly on an edge falls in the bin whose edge it does not exceed.
	for _, tc := range []struct {
		x   float64
		bin int
	}{
		{x: 0 + 1*0.1, bin: 0},
		{x: 0 + 2*0.1, bin: 1},
		{x: 0.25, bin: 2},
		{x: 0.3, bin: 2},
	} {
		test.That(t, spec.binX(tc.x), test.ShouldEqual, tc.bin)
	}
}

func TestRasterizeSingleHit(t *testing.T) {
	rasterizer := NewRasterizer(scenarioGridSpec(t), identityQuat, 0.5)

	origin := r3.Vector{X: 10, Y: 20, Z: 3}
	heights, err := rasterizer.Rasterize(singleEnvBatch(
		origin,
		identityQuat,
		origin.Add(r3.Vector{Z: 1.2}),
		origin.Add(r3.Vector{X: 5, Y: 5}),
		origin.Add(r3.Vector{X: -5, Y: 5}),
		origin.Add(r3.Vector{X: 5, Y: -5}),
	))
	test.That(t, err, test.ShouldBeNil)

	rows, cols := heights.Dims()
	test.That(t, rows, test.ShouldEqual, 1)
	test.That(t, cols, test.ShouldEqual, 17*27)

	// The zero-displacement cell sits at bin (13, 13); the 3x3 max filter
	// dilates the single reading onto its eight neighbors.
	for x := 0; x < 17; x++ {
		for y := 0; y < 27; y++ {
			v := heights.At(0, x*27+y)
			if x >= 12 && x <= 14 && y >= 12 && y <= 14 {
				test.That(t, v, test.ShouldAlmostEqual, 0.7, 1e-9)
			} else {
				test.That(t, v, test.ShouldEqual, 0.0)
			}
		}
	}
}

func TestRasterizeMountOrientation(t *testing.T) {
	// 180 degrees about y: the sensor looks backwards and upside down, so
	// only hits below the origin land in the admissible z band.
	mount := quat.Number{Jmag: 1}
	rasterizer := NewRasterizer(scenarioGridSpec(t), mount, 0.5)
	origin := r3.Vector{X: 1, Y: 2, Z: 3}

	heights, err := rasterizer.Rasterize(singleEnvBatch(origin, identityQuat, origin.Add(r3.Vector{Z: 1.2})))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, maxValue(heights.RawMatrix().Data), test.ShouldEqual, 0.0)

	heights, err = rasterizer.Rasterize(singleEnvBatch(origin, identityQuat, origin.Add(r3.Vector{Z: -1.2})))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, heights.At(0, 13*27+13), test.ShouldAlmostEqual, 0.7, 1e-9)
}

func TestRasterizeMinimumWins(t *testing.T) {
	spec := scenarioGridSpec(t)
	rasterizer := NewRasterizer(spec, identityQuat, 0)
	origin := r3.Vector{}

	heights, err := rasterizer.Rasterize(singleEnvBatch(
		origin,
		identityQuat,
		r3.Vector{X: 0.01, Y: 0.01, Z: 0.9},
		r3.Vector{X: 0.01, Y: 0.01, Z: 0.3},
	))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, heights.At(0, 13*27+13), test.ShouldAlmostEqual, 0.3, 1e-9)
}

func TestRasterizeAllRaysMissed(t *testing.T) {
	rasterizer := NewRasterizer(scenarioGridSpec(t), identityQuat, 0.5)
	inf := math.Inf(1)

	heights, err := rasterizer.Rasterize(singleEnvBatch(
		r3.Vector{X: 1, Y: 1, Z: 1},
		identityQuat,
		r3.Vector{X: inf, Y: inf, Z: inf},
		r3.Vector{X: inf, Y: inf, Z: inf},
	))
	test.That(t, err, test.ShouldBeNil)

	rows, cols := heights.Dims()
	test.That(t, rows, test.ShouldEqual, 1)
	test.That(t, cols, test.ShouldEqual, 17*27)
	test.That(t, maxValue(heights.RawMatrix().Data), test.ShouldEqual, 0.0)
}

func TestRasterizeMissedRayMatchesAbsentRay(t *testing.T) {
	// With a z band starting above zero, a missed ray's zero displacement is
	// filtered out, so it must behave exactly like an absent ray.
	spec, err := NewGridSpec(0.06, scenarioRangeX, scenarioRangeY, [2]float64{0.1, 5})
	test.That(t, err, test.ShouldBeNil)
	rasterizer := NewRasterizer(spec, identityQuat, 0.5)
	origin := r3.Vector{X: 2, Y: 2, Z: 2}

	valid := []r3.Vector{
		origin.Add(r3.Vector{X: 0.1, Y: 0.1, Z: 1.2}),
		origin.Add(r3.Vector{X: -0.3, Y: 0.2, Z: 0.9}),
		origin.Add(r3.Vector{X: -0.5, Y: -0.5, Z: 2.5}),
	}

	withNaN, err := rasterizer.Rasterize(singleEnvBatch(origin, identityQuat,
		append([]r3.Vector{{X: math.NaN(), Y: math.NaN(), Z: math.NaN()}}, valid...)...))
	test.That(t, err, test.ShouldBeNil)

	without, err := rasterizer.Rasterize(singleEnvBatch(origin, identityQuat, valid...))
	test.That(t, err, test.ShouldBeNil)

	test.That(t, withNaN.RawMatrix().Data, test.ShouldResemble, without.RawMatrix().Data)
}

func TestRasterizeOutputIsSanitized(t *testing.T) {
	rasterizer := NewRasterizer(scenarioGridSpec(t), identityQuat, 0.5)
	origin := r3.Vector{X: 3, Y: -1, Z: 2}

	batch := PointCloudBatch{
		HitsWorld: [][]r3.Vector{
			{
				origin.Add(r3.Vector{X: -0.4, Y: 0.3, Z: 0.52}),
				origin.Add(r3.Vector{X: 0.1, Y: -0.7, Z: 4.9}),
				{X: math.Inf(1), Y: math.Inf(1), Z: math.Inf(1)},
			},
			{
				origin.Add(r3.Vector{X: -0.1, Y: 0.1, Z: 0.56}),
				{X: math.NaN(), Y: math.NaN(), Z: math.NaN()},
				origin.Add(r3.Vector{X: 0.2, Y: 0.8, Z: 1.0}),
			},
		},
		OriginWorld:     []r3.Vector{origin, origin},
		RootOrientation: []quat.Number{identityQuat, identityQuat},
	}

	heights, err := rasterizer.Rasterize(batch)
	test.That(t, err, test.ShouldBeNil)

	for _, v := range heights.RawMatrix().Data {
		test.That(t, math.IsNaN(v), test.ShouldBeFalse)
		test.That(t, math.IsInf(v, 0), test.ShouldBeFalse)
		// Every cell is exactly zero or at least the noise floor.
		test.That(t, v == 0 || v >= minHeight, test.ShouldBeTrue)
	}

	// Identical input must produce bit-identical output.
	again, err := rasterizer.Rasterize(batch)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, again.RawMatrix().Data, test.ShouldResemble, heights.RawMatrix().Data)
}

func TestBatchValidate(t *testing.T) {
	t.Run("errors if field lengths disagree", func(t *testing.T) {
		batch := PointCloudBatch{
			HitsWorld:       [][]r3.Vector{{{X: 1}}},
			OriginWorld:     []r3.Vector{{}, {}},
			RootOrientation: []quat.Number{identityQuat},
		}
		test.That(t, batch.Validate(), test.ShouldBeError, ErrBatchFieldMismatch)

		rasterizer := NewRasterizer(scenarioGridSpec(t), identityQuat, 0.5)
		_, err := rasterizer.Rasterize(batch)
		test.That(t, err, test.ShouldNotBeNil)
		test.That(t, err.Error(), test.ShouldContainSubstring, ErrBatchFieldMismatch.Error())
	})

	t.Run("errors if ray counts are jagged", func(t *testing.T) {
		batch := PointCloudBatch{
			HitsWorld:       [][]r3.Vector{{{X: 1}, {X: 2}}, {{X: 1}}},
			OriginWorld:     []r3.Vector{{}, {}},
			RootOrientation: []quat.Number{identityQuat, identityQuat},
		}
		test.That(t, batch.Validate(), test.ShouldBeError, ErrJaggedRayCount)
	})

	t.Run("errors on an empty batch", func(t *testing.T) {
		test.That(t, PointCloudBatch{}.Validate(), test.ShouldBeError, ErrEmptyBatch)

		rasterizer := NewRasterizer(scenarioGridSpec(t), identityQuat, 0.5)
		_, err := rasterizer.Rasterize(PointCloudBatch{})
		test.That(t, err, test.ShouldNotBeNil)
		test.That(t, err.Error(), test.ShouldContainSubstring, ErrEmptyBatch.Error())
	})
}

func maxValue(values []float64) float64 {
	best := math.Inf(-1)
	for _, v := range values {
		if v > best {
			best = v
		}
	}
	return best
}
