package scene

import (
	"bytes"
	"math"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.viam.com/rdk/pointcloud"
)

// EncodeRayFrame encodes one environment's ray hits as a binary PCD document.
// Rays that hit nothing carry non-finite coordinates the PCD format cannot
// represent as geometry, so they are dropped; a decoded frame therefore holds
// only the rays that hit.
func EncodeRayFrame(d *RayCasterData, envIndex int) ([]byte, error) {
	if envIndex < 0 || envIndex >= len(d.HitsWorld) {
		return nil, errors.Errorf("environment index %d out of range for %d environments", envIndex, len(d.HitsWorld))
	}

	pc := pointcloud.NewWithPrealloc(len(d.HitsWorld[envIndex]))
	for _, hit := range d.HitsWorld[envIndex] {
		if !isFinite(hit) {
			continue
		}
		if err := pc.Set(hit, pointcloud.NewBasicData()); err != nil {
			return nil, errors.Wrapf(err, "error setting point (%v, %v, %v) in point cloud", hit.X, hit.Y, hit.Z)
		}
	}

	buf := new(bytes.Buffer)
	if err := pointcloud.ToPCD(pc, buf, pointcloud.PCDBinary); err != nil {
		return nil, errors.Wrap(err, "ToPCD error")
	}
	return buf.Bytes(), nil
}

// DecodeRayFrame parses a PCD document into a single-environment
// RayCasterData with the given world-frame sensor origin.
func DecodeRayFrame(data []byte, origin r3.Vector) (*RayCasterData, error) {
	pc, err := pointcloud.ReadPCD(bytes.NewReader(data))
	if err != nil {
		return nil, errors.Wrap(err, "ReadPCD error")
	}

	hits := make([]r3.Vector, 0, pc.Size())
	pc.Iterate(0, 0, func(p r3.Vector, _ pointcloud.Data) bool {
		hits = append(hits, p)
		return true
	})

	return &RayCasterData{
		HitsWorld: [][]r3.Vector{hits},
		PosWorld:  []r3.Vector{origin},
	}, nil
}

func isFinite(v r3.Vector) bool {
	for _, c := range []float64{v.X, v.Y, v.Z} {
		if math.IsNaN(c) || math.IsInf(c, 0) {
			return false
		}
	}
	return true
}
