package dataprocess

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.viam.com/test"
	"gonum.org/v1/gonum/mat"
)

func TestCreateTimestampFilename(t *testing.T) {
	timeStamp, err := time.Parse(time.RFC3339, "2024-03-05T12:30:45Z")
	test.That(t, err, test.ShouldBeNil)

	filename := CreateTimestampFilename("/tmp/data", "lidar", ".json", timeStamp)
	test.That(t, filename, test.ShouldEqual, "/tmp/data/lidar_data_2024-03-05T12:30:45.0000Z.json")
}

func TestWriteObservationsToFile(t *testing.T) {
	filename := filepath.Join(t.TempDir(), "observations.json")

	observations := map[string]*mat.Dense{
		"base_rpy":    mat.NewDense(1, 3, []float64{0, 0, 1.5}),
		"last_actions": mat.NewDense(1, 2, []float64{0.5, -0.5}),
	}
	test.That(t, WriteObservationsToFile(observations, filename), test.ShouldBeNil)

	jsonObs, err := os.ReadFile(filename)
	test.That(t, err, test.ShouldBeNil)

	var records map[string]struct {
		Rows int       `json:"rows"`
		Cols int       `json:"cols"`
		Data []float64 `json:"data"`
	}
	test.That(t, json.Unmarshal(jsonObs, &records), test.ShouldBeNil)
	test.That(t, len(records), test.ShouldEqual, 2)
	test.That(t, records["base_rpy"].Cols, test.ShouldEqual, 3)
	test.That(t, records["base_rpy"].Data, test.ShouldResemble, []float64{0, 0, 1.5})
	test.That(t, records["last_actions"].Rows, test.ShouldEqual, 1)
}
