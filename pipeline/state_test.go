package pipeline

import (
	"bytes"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang/geo/r3"
	"go.viam.com/test"

	"go.viam.com/fusion/logging"
	"go.viam.com/fusion/spatialmath"
)

func TestSnapshotNeverTorn(t *testing.T) {
	state := NewState(Flags{})
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			//nolint:errcheck
			state.Mutate(func(f *Flags) error {
				f.Normals = !f.Normals
				f.VolumeBounds = f.Normals
				return nil
			})
		}
	}()
	torn := 0
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			snap := state.Snapshot()
			if snap.Normals != snap.VolumeBounds {
				torn++
			}
		}
	}()
	wg.Wait()
	test.That(t, torn, test.ShouldEqual, 0)
}

func TestFrameCounter(t *testing.T) {
	state := NewState(Flags{})
	test.That(t, state.IncrementFrameCounter(), test.ShouldEqual, 1)
	test.That(t, state.IncrementFrameCounter(), test.ShouldEqual, 2)
	test.That(t, state.Snapshot().FrameCounter, test.ShouldEqual, 2)
	test.That(t, state.Snapshot().Running, test.ShouldBeTrue)
}

func TestStepStats(t *testing.T) {
	logger, logs := logging.NewObservedTestLogger(t)
	s := newStepStats(3, logger)
	test.That(t, s.Add(10*time.Millisecond), test.ShouldBeFalse)
	test.That(t, s.Add(20*time.Millisecond), test.ShouldBeFalse)
	test.That(t, s.Add(30*time.Millisecond), test.ShouldBeTrue)

	last := s.Last()
	test.That(t, last.Count, test.ShouldEqual, 3)
	test.That(t, last.MeanMs, test.ShouldAlmostEqual, 20)
	test.That(t, last.FPS, test.ShouldAlmostEqual, 50)
	test.That(t, last.P95Ms, test.ShouldBeGreaterThanOrEqualTo, 20)
	test.That(t, last.P95Ms, test.ShouldBeLessThanOrEqualTo, 30)
	test.That(t, logs.FilterMessage("average frame time").Len(), test.ShouldEqual, 1)

	// A new window starts empty.
	test.That(t, s.Add(time.Millisecond), test.ShouldBeFalse)
	test.That(t, newStepStats(0, logger).every, test.ShouldEqual, DefaultStatsEvery)
}

func TestTrajectory(t *testing.T) {
	var traj trajectory
	path, err := traj.Save(t.TempDir())
	test.That(t, err, test.ShouldBeNil)
	test.That(t, path, test.ShouldEqual, "")

	traj.Add(1, time.Unix(2, 500000000), spatialmath.NewPoseFromPoint(r3.Vector{X: 1, Y: 2, Z: 3}))
	traj.Add(2, time.Unix(3, 0), spatialmath.NewZeroPose())
	var buf bytes.Buffer
	_, err = traj.WriteTo(&buf)
	test.That(t, err, test.ShouldBeNil)
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	test.That(t, lines, test.ShouldHaveLength, 2)
	test.That(t, lines[0], test.ShouldEqual, "1 2.500000 1.000000 2.000000 3.000000 0.000000 0.000000 0.000000 1.000000")

	path, err = traj.Save(t.TempDir())
	test.That(t, err, test.ShouldBeNil)
	test.That(t, path, test.ShouldEndWith, TrajectoryFileName)
}
