package pipeline

import (
	"fmt"
	"io"
	"os"
	"time"

	"go.uber.org/multierr"

	"go.viam.com/fusion/spatialmath"
	"go.viam.com/fusion/utils"
)

// TrajectoryFileName is where the camera poses of a session are written.
const TrajectoryFileName = "poses.txt"

type trajectoryEntry struct {
	frame uint64
	ts    time.Time
	pose  spatialmath.Pose
}

// trajectory records the tracked camera pose of every consumed frame.
type trajectory struct {
	entries []trajectoryEntry
}

func (t *trajectory) Add(frame uint64, ts time.Time, pose spatialmath.Pose) {
	t.entries = append(t.entries, trajectoryEntry{frame: frame, ts: ts, pose: pose})
}

func (t *trajectory) Len() int {
	return len(t.entries)
}

// WriteTo writes one line per pose: frame, timestamp in seconds, translation and the rotation
// quaternion as x y z w.
func (t *trajectory) WriteTo(w io.Writer) (int64, error) {
	var total int64
	for _, e := range t.entries {
		pt := e.pose.Point()
		q := e.pose.Orientation()
		n, err := fmt.Fprintf(w, "%d %.6f %f %f %f %f %f %f %f\n",
			e.frame, float64(e.ts.UnixNano())/1e9, pt.X, pt.Y, pt.Z, q.Imag, q.Jmag, q.Kmag, q.Real)
		total += int64(n)
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// Save writes the trajectory into dir and returns the path. An empty trajectory writes nothing.
func (t *trajectory) Save(dir string) (string, error) {
	if len(t.entries) == 0 {
		return "", nil
	}
	path, err := utils.OutputPath(dir, TrajectoryFileName)
	if err != nil {
		return "", err
	}
	//nolint:gosec
	f, err := os.Create(path)
	if err != nil {
		return "", err
	}
	_, err = t.WriteTo(f)
	return path, multierr.Combine(err, f.Close())
}
