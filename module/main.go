// Package main is a command line tool that replays recorded lidar frames
// through an observation battery and saves the extracted observations.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.viam.com/rdk/logging"
	"go.viam.com/utils"
	"gonum.org/v1/gonum/num/quat"

	navsimobserver "github.com/navsim-modules/navsim-observer"
	vsConfig "github.com/navsim-modules/navsim-observer/config"
	"github.com/navsim-modules/navsim-observer/dataprocess"
	"github.com/navsim-modules/navsim-observer/scene"
	"github.com/navsim-modules/navsim-observer/telemetry"
)

// Versioning variables which are replaced by LD flags.
var (
	Version     = "development"
	GitRevision = ""
)

func main() {
	utils.ContextualMain(mainWithArgs, logging.NewLogger("navsimObserverModule"))
}

func mainWithArgs(ctx context.Context, args []string, logger logging.Logger) error {
	var versionFields []interface{}
	if Version != "" {
		versionFields = append(versionFields, "version", Version)
	}
	if GitRevision != "" {
		versionFields = append(versionFields, "git_rev", GitRevision)
	}
	if len(versionFields) != 0 {
		logger.Infow("navsim-observer", versionFields...)
	} else {
		logger.Info("navsim-observer built from source; version unknown")
	}

	if len(args) == 2 && strings.HasSuffix(args[1], "-version") {
		return nil
	}

	flags := flag.NewFlagSet(args[0], flag.ContinueOnError)
	configFile := flags.String("config", "", "path to the battery configuration JSON")
	framesDir := flags.String("frames", "", "directory of recorded lidar frames in PCD format")
	outDir := flags.String("out", ".", "directory the extracted observations are written to")
	sensorHeight := flags.Float64("sensor-height", 0, "world-frame height of the recorded sensor origin")
	if err := flags.Parse(args[1:]); err != nil {
		return err
	}
	if *configFile == "" || *framesDir == "" {
		return errors.New("both -config and -frames are required")
	}

	exporter, err := telemetry.SetupTelemetry()
	if err != nil {
		return err
	}
	defer exporter.Stop()

	cfg, err := readConfig(*configFile)
	if err != nil {
		return err
	}
	// Recorded frames carry no camera, action or geo data, so a replay
	// battery only runs the lidar terms unless told otherwise.
	if len(cfg.Terms) == 0 {
		cfg.Terms = []string{
			navsimobserver.TermLidarHeightProfile,
			navsimobserver.TermHeightMapLidar,
		}
	}

	battery, err := navsimobserver.New(ctx, cfg, logger)
	if err != nil {
		return err
	}

	frames, err := listPCDFrames(*framesDir)
	if err != nil {
		return err
	}
	logger.Infof("replaying %d lidar frames from %s", len(frames), *framesDir)

	origin := r3.Vector{Z: *sensorHeight}
	for _, frame := range frames {
		if err := replayFrame(ctx, battery, cfg, frame, *outDir, origin, logger); err != nil {
			return err
		}
	}
	return nil
}

func readConfig(path string) (*vsConfig.Config, error) {
	//nolint:gosec
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := &vsConfig.Config{}
	if err := json.Unmarshal(raw, cfg); err != nil {
		return nil, errors.Wrap(err, "error parsing battery configuration")
	}
	return cfg, nil
}

func listPCDFrames(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var frames []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".pcd") {
			frames = append(frames, filepath.Join(dir, entry.Name()))
		}
	}
	sort.Strings(frames)
	return frames, nil
}

func replayFrame(
	ctx context.Context,
	battery *navsimobserver.ObservationBattery,
	cfg *vsConfig.Config,
	frame, outDir string,
	origin r3.Vector,
	logger logging.Logger,
) error {
	//nolint:gosec
	raw, err := os.ReadFile(frame)
	if err != nil {
		return err
	}
	rayData, err := scene.DecodeRayFrame(raw, origin)
	if err != nil {
		return errors.Wrapf(err, "error decoding %s", frame)
	}

	snap := &scene.Snapshot{
		NumEnvs:    1,
		RayCasters: map[string]*scene.RayCasterData{cfg.Lidar: rayData},
		Bodies: map[string]*scene.BodyData{
			cfg.Robot: {
				RootPosWorld:  []r3.Vector{origin},
				RootQuatWorld: []quat.Number{{Real: 1}},
			},
		},
	}

	observations, err := battery.Extract(ctx, snap)
	if err != nil {
		logger.Warnw("some observation terms failed", "frame", frame, "error", err)
	}
	if len(observations) == 0 {
		return errors.Errorf("no observations extracted from %s", frame)
	}

	base := strings.TrimSuffix(filepath.Base(frame), ".pcd")
	outFile := filepath.Join(outDir, base+".json")
	if err := dataprocess.WriteObservationsToFile(observations, outFile); err != nil {
		return err
	}
	logger.Debugf("wrote %d observation terms to %s", len(observations), outFile)
	return nil
}
