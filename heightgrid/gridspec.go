// Package heightgrid rasterizes batched lidar point clouds into per-environment height maps.
package heightgrid

import (
	"math"

	"github.com/pkg/errors"
)

var (
	// ErrNonPositiveCellSize denotes that the grid cell size is zero or negative.
	ErrNonPositiveCellSize = errors.New("cell size must be greater than zero")

	// ErrInvertedRange denotes that a grid range was given with min >= max.
	ErrInvertedRange = errors.New("range minimum must be less than range maximum")
)

// GridSpec is the fixed configuration of the horizontal voxel grid and the
// vertical acceptance band. It is immutable once constructed; construct one
// with NewGridSpec so invalid configurations fail fast rather than corrupting
// every subsequent rasterization.
type GridSpec struct {
	cellSize float64
	rangeX   [2]float64
	rangeY   [2]float64
	rangeZ   [2]float64
	edgesX   []float64
	edgesY   []float64
}

// NewGridSpec validates and returns a GridSpec. cellSize is the horizontal
// resolution used for both axes. rangeX and rangeY bound the grid extent and
// rangeZ is the admissible vertical band for height filtering.
func NewGridSpec(cellSize float64, rangeX, rangeY, rangeZ [2]float64) (GridSpec, error) {
	if !(cellSize > 0) {
		return GridSpec{}, ErrNonPositiveCellSize
	}
	for _, r := range [][2]float64{rangeX, rangeY, rangeZ} {
		if !(r[0] < r[1]) {
			return GridSpec{}, ErrInvertedRange
		}
	}

	spec := GridSpec{
		cellSize: cellSize,
		rangeX:   rangeX,
		rangeY:   rangeY,
		rangeZ:   rangeZ,
		edgesX:   binEdges(rangeX, cellSize),
		edgesY:   binEdges(rangeY, cellSize),
	}
	return spec, nil
}

// binEdges steps from the axis minimum by cellSize. The number of bins along
// an axis is ceil((max-min)/cellSize), so the last edge always lies strictly
// below the axis maximum.
func binEdges(axisRange [2]float64, cellSize float64) []float64 {
	bins := int(math.Ceil((axisRange[1] - axisRange[0]) / cellSize))
	edges := make([]float64, bins)
	for k := range edges {
		edges[k] = axisRange[0] + float64(k)*cellSize
	}
	return edges
}

// Bins returns the number of grid cells along the x and y axes.
func (spec GridSpec) Bins() (int, int) {
	return len(spec.edgesX), len(spec.edgesY)
}

// CellSize returns the horizontal resolution of the grid.
func (spec GridSpec) CellSize() float64 {
	return spec.cellSize
}

// contains reports whether a sensor-frame point is inside the grid extent and
// the vertical acceptance band. The horizontal bounds are open at the minimum
// and closed at the maximum; the vertical band is closed on both ends.
func (spec GridSpec) contains(x, y, z float64) bool {
	return x > spec.rangeX[0] && x <= spec.rangeX[1] &&
		y > spec.rangeY[0] && y <= spec.rangeY[1] &&
		z >= spec.rangeZ[0] && z <= spec.rangeZ[1]
}

// binX maps a sensor-frame x coordinate to its cell index. The index is the
// index of the first edge the coordinate does not exceed, minus one, so a
// point exactly on an edge falls in the cell below it.
func (spec GridSpec) binX(x float64) int {
	return bucketize(spec.edgesX, x)
}

// binY maps a sensor-frame y coordinate to its cell index.
func (spec GridSpec) binY(y float64) int {
	return bucketize(spec.edgesY, y)
}

func bucketize(edges []float64, v float64) int {
	lo, hi := 0, len(edges)
	for lo < hi {
		mid := (lo + hi) / 2
		if edges[mid] >= v {
			hi = mid
		} else {
			lo = mid + 1
		}
	}
	return lo - 1
}
