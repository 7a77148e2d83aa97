// Command slamreplay replays a rectified stereo image sequence through a
// proslam.Engine and writes the resulting trajectory in KITTI format.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"syscall"
	"time"

	"github.com/itohio/proslam"
	"github.com/itohio/proslam/pkg/adapt"
	"github.com/itohio/proslam/pkg/framepoint"
	"github.com/itohio/proslam/pkg/geometry"
	"github.com/itohio/proslam/pkg/logger"
	"github.com/itohio/proslam/pkg/trajectory"
	"github.com/itohio/proslam/pkg/triangulation"
	"github.com/itohio/proslam/pkg/worldmap"
)

func main() {
	leftDir := flag.String("left", "", "Directory of rectified left stereo images")
	rightDir := flag.String("right", "", "Directory of rectified right stereo images")
	configPath := flag.String("config", "", "YAML tunables file (optional, defaults used if absent)")
	trajectoryPath := flag.String("trajectory", "", "KITTI trajectory output path (timestamped file if empty)")
	fx := flag.Float64("fx", 500, "Focal length X, pixels")
	fy := flag.Float64("fy", 500, "Focal length Y, pixels")
	cx := flag.Float64("cx", 320, "Principal point X, pixels")
	cy := flag.Float64("cy", 240, "Principal point Y, pixels")
	baseline := flag.Float64("baseline", 0.5, "Stereo baseline, meters")
	pruneFactor := flag.Float64("prune", 1.5, "Keypoint response pruning factor in standard deviations (0 disables)")
	flag.Parse()

	if *leftDir == "" || *rightDir == "" {
		fmt.Fprintln(os.Stderr, "slamreplay: -left and -right are required")
		flag.PrintDefaults()
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		cancel()
	}()

	if err := run(ctx, *leftDir, *rightDir, *configPath, *trajectoryPath, *fx, *fy, *cx, *cy, *baseline, float32(*pruneFactor)); err != nil {
		fmt.Fprintf(os.Stderr, "slamreplay: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, leftDir, rightDir, configPath, trajectoryPath string, fx, fy, cx, cy, baseline float64, pruneFactor float32) error {
	leftPaths, err := sortedImagePaths(leftDir)
	if err != nil {
		return fmt.Errorf("reading left directory: %w", err)
	}
	rightPaths, err := sortedImagePaths(rightDir)
	if err != nil {
		return fmt.Errorf("reading right directory: %w", err)
	}
	if len(leftPaths) != len(rightPaths) {
		return fmt.Errorf("left/right frame count mismatch: %d vs %d", len(leftPaths), len(rightPaths))
	}
	if len(leftPaths) == 0 {
		return fmt.Errorf("no images found under %s", leftDir)
	}

	cfg := proslam.DefaultConfig()
	if configPath != "" {
		cfg, err = proslam.LoadConfig(configPath)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
	}

	intrinsics := geometry.Intrinsics{FX: fx, FY: fy, CX: cx, CY: cy}
	cameraLeft := &worldmap.Camera{Intrinsics: intrinsics, BaselineMeters: baseline}
	cameraRight := &worldmap.Camera{Intrinsics: intrinsics}
	engine := proslam.New(cfg, cameraLeft, cameraRight, nil)

	detector := adapt.NewORBDetector()
	defer detector.Close()

	guess := geometry.Identity()
	for i := range leftPaths {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		left, err := adapt.LoadGray(leftPaths[i])
		if err != nil {
			return err
		}
		right, err := adapt.LoadGray(rightPaths[i])
		if err != nil {
			left.Close()
			return err
		}

		pair := adapt.ExtractStereo(detector, left, right)
		left.Close()
		right.Close()

		kpLeft, descLeft := framepoint.PruneWeakKeypoints(pair.KeypointsLeft, pair.DescriptorsLeft, pruneFactor)
		kpRight, descRight := framepoint.PruneWeakKeypoints(pair.KeypointsRight, pair.DescriptorsRight, pruneFactor)

		engine.Step(guess, nil, triangulation.StereoInput{
			KeypointsLeft:    kpLeft,
			KeypointsRight:   kpRight,
			DescriptorsLeft:  descLeft,
			DescriptorsRight: descRight,
		})

		snap := engine.Snapshot()
		logger.Log.Info().
			Int("frame", i).
			Uint64("current_frame_id", snap.CurrentFrameID).
			Int("closures", snap.NumberOfClosures).
			Msg("slamreplay: processed frame")

		guess = engine.WorldMap().CurrentFrame().RobotToWorld
	}

	if err := trajectory.WriteFile(trajectoryPath, engine.WorldMap(), time.Now()); err != nil {
		return fmt.Errorf("writing trajectory: %w", err)
	}
	return nil
}

func sortedImagePaths(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var paths []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		paths = append(paths, filepath.Join(dir, e.Name()))
	}
	sort.Strings(paths)
	return paths, nil
}
