// Package trajectory writes the KITTI benchmark trajectory format: one
// line per frame, the 3x4 [R|t] block, space separated, no header.
package trajectory

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/itohio/proslam/pkg/logger"
	"github.com/itohio/proslam/pkg/worldmap"
)

// Write dumps every frame from wm.RootFrame() forward, in Next-link order,
// to w.
func Write(w io.Writer, wm *worldmap.WorldMap) error {
	buf := bufio.NewWriter(w)
	for f := wm.RootFrame(); f != nil; f = f.Next {
		row := f.RobotToWorld.ToKITTIRow()
		for i, v := range row {
			if i > 0 {
				buf.WriteByte(' ')
			}
			buf.WriteString(strconv.FormatFloat(v, 'g', -1, 64))
		}
		buf.WriteByte('\n')
	}
	return buf.Flush()
}

// WriteFile opens (overwriting) path and writes the trajectory to it. An
// empty path generates a timestamped "trajectory-<time>.txt" name.
func WriteFile(path string, wm *worldmap.WorldMap, now time.Time) error {
	if path == "" {
		path = fmt.Sprintf("trajectory-%d.txt", now.Unix())
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	if err := Write(f, wm); err != nil {
		return err
	}

	logger.Log.Info().Str("path", path).Msg("trajectory: saved")
	return nil
}
