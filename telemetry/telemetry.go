// Package telemetry provides setup for reporting spans and stats
package telemetry

import (
	"time"

	"go.viam.com/utils/perf"
)

// SetupTelemetry sets up telemetry so traces and stats can be reported.
func SetupTelemetry() (perf.Exporter, error) {
	exporter := perf.NewDevelopmentExporterWithOptions(perf.DevelopmentExporterOptions{
		ReportingInterval: time.Second,
	})
	if err := exporter.Start(); err != nil {
		return nil, err
	}

	return exporter, nil
}
