// Package dataprocess manages code related to the data-saving process.
package dataprocess

import (
	"bufio"
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	pc "go.viam.com/rdk/pointcloud"
	"gonum.org/v1/gonum/mat"
)

const (
	// ObservationTimeFormat is the timestamp format used in the dataprocess.
	ObservationTimeFormat = "2006-01-02T15:04:05.0000Z"
)

// CreateTimestampFilename creates an absolute filename with a primary sensor name and timestamp written
// into the filename.
func CreateTimestampFilename(dataDirectory, primarySensorName, fileType string, timeStamp time.Time) string {
	return filepath.Join(dataDirectory, primarySensorName+"_data_"+timeStamp.UTC().Format(ObservationTimeFormat)+fileType)
}

// WritePCDToFile encodes the pointcloud and then saves it to the passed filename.
func WritePCDToFile(pointcloud pc.PointCloud, filename string) error {
	buf := new(bytes.Buffer)
	if err := pc.ToPCD(pointcloud, buf, 1); err != nil {
		return err
	}
	return WriteBytesToFile(buf.Bytes(), filename)
}

// observationRecord is the serialized form of one observation term.
type observationRecord struct {
	Rows int       `json:"rows"`
	Cols int       `json:"cols"`
	Data []float64 `json:"data"`
}

// WriteObservationsToFile encodes the observation dictionary and then saves it
// to the passed filename. Marshaling sorts the term names, so repeated runs
// produce identical files.
func WriteObservationsToFile(observations map[string]*mat.Dense, filename string) error {
	records := make(map[string]observationRecord, len(observations))
	for name, observation := range observations {
		rows, cols := observation.Dims()
		records[name] = observationRecord{
			Rows: rows,
			Cols: cols,
			Data: observation.RawMatrix().Data,
		}
	}

	jsonObs, err := json.Marshal(records)
	if err != nil {
		return err
	}
	return WriteBytesToFile(jsonObs, filename)
}

// WriteBytesToFile writes the passed bytes to the passed filename.
func WriteBytesToFile(bytes []byte, filename string) error {
	//nolint:gosec
	f, err := os.Create(filename)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(f)
	if _, err := w.Write(bytes); err != nil {
		return err
	}
	if err := w.Flush(); err != nil {
		return err
	}
	return f.Close()
}
