package filesink

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/golang/geo/r3"
	"go.viam.com/test"

	"go.viam.com/fusion/logging"
	"go.viam.com/fusion/pointcloud"
	"go.viam.com/fusion/rimage"
	"go.viam.com/fusion/spatialmath"
)

func exists(t *testing.T, path string) bool {
	t.Helper()
	_, err := os.Stat(path)
	if os.IsNotExist(err) {
		return false
	}
	test.That(t, err, test.ShouldBeNil)
	return true
}

func TestScene(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	s := NewScene(Config{Dir: dir, WriteEvery: 2, MaxFrames: 3}, true, logging.NewTestLogger(t))
	test.That(t, s.Name(), test.ShouldEqual, "scene")

	img := rimage.NewImage(4, 3)
	test.That(t, s.ShowScene(ctx, img), test.ShouldBeNil)
	test.That(t, exists(t, filepath.Join(dir, "scene.png")), test.ShouldBeFalse)
	test.That(t, s.ShowScene(ctx, img), test.ShouldBeNil)
	test.That(t, exists(t, filepath.Join(dir, "scene.png")), test.ShouldBeTrue)
	test.That(t, s.Closed(), test.ShouldBeFalse)

	test.That(t, s.ShowScene(ctx, img), test.ShouldBeNil)
	test.That(t, s.Closed(), test.ShouldBeTrue)
	test.That(t, s.SavedViews(), test.ShouldEqual, 3)

	test.That(t, s.Close(ctx), test.ShouldBeNil)
	for _, name := range []string{"scene_0000.png", "scene_0001.png", "scene_0002.png"} {
		test.That(t, exists(t, filepath.Join(dir, name)), test.ShouldBeTrue)
	}
	test.That(t, s.SavedViews(), test.ShouldEqual, 0)
}

func TestSceneWithoutSavedViews(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	s := NewScene(Config{Dir: dir}, false, logging.NewTestLogger(t))
	test.That(t, s.ShowScene(ctx, rimage.NewImage(2, 2)), test.ShouldBeNil)
	test.That(t, s.SavedViews(), test.ShouldEqual, 0)
	test.That(t, s.Close(ctx), test.ShouldBeNil)
	test.That(t, s.Closed(), test.ShouldBeTrue)
	test.That(t, exists(t, filepath.Join(dir, "scene_0000.png")), test.ShouldBeFalse)
}

func TestDepth(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	d := NewDepth(Config{Dir: dir, WriteEvery: 1}, logging.NewTestLogger(t))
	dm := rimage.NewEmptyDepthMap(4, 4)
	dm.Set(1, 1, 1000)
	dm.Set(2, 2, 2000)
	test.That(t, d.ShowDepth(ctx, dm), test.ShouldBeNil)
	test.That(t, exists(t, filepath.Join(dir, "depth.png")), test.ShouldBeTrue)
	test.That(t, d.Close(ctx), test.ShouldBeNil)
	test.That(t, d.Closed(), test.ShouldBeTrue)
}

func TestCloud(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	c := NewCloud("scene_cloud", Config{Dir: dir, WriteEvery: 1}, logging.NewTestLogger(t))

	pc := pointcloud.New()
	test.That(t, pc.Set(pointcloud.NewVector(1, 2, 3), pointcloud.NewBasicData()), test.ShouldBeNil)
	test.That(t, c.ShowCloud(ctx, pc), test.ShouldBeNil)
	test.That(t, exists(t, filepath.Join(dir, "scene_cloud.pcd")), test.ShouldBeTrue)
	cloud, mesh := c.Contents()
	test.That(t, cloud.Size(), test.ShouldEqual, 1)
	test.That(t, mesh, test.ShouldBeNil)

	m := spatialmath.NewMesh(spatialmath.NewZeroPose(), []*spatialmath.Triangle{
		spatialmath.NewTriangle(r3.Vector{}, r3.Vector{X: 1}, r3.Vector{Y: 1}),
	})
	test.That(t, c.ShowMesh(ctx, m), test.ShouldBeNil)
	ply, err := os.ReadFile(filepath.Join(dir, "scene_cloud.ply"))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, string(ply), test.ShouldContainSubstring, "element face 1")
	cloud, mesh = c.Contents()
	test.That(t, cloud, test.ShouldBeNil)
	test.That(t, mesh, test.ShouldEqual, m)

	test.That(t, c.Clear(ctx), test.ShouldBeNil)
	cloud, mesh = c.Contents()
	test.That(t, cloud, test.ShouldBeNil)
	test.That(t, mesh, test.ShouldBeNil)

	test.That(t, c.ShowVolumeBounds(ctx, r3.Vector{}, r3.Vector{X: 3, Y: 3, Z: 3}, true), test.ShouldBeNil)
	test.That(t, c.BoundsShown(), test.ShouldBeTrue)
	test.That(t, c.ShowVolumeBounds(ctx, r3.Vector{}, r3.Vector{X: 3, Y: 3, Z: 3}, false), test.ShouldBeNil)
	test.That(t, c.BoundsShown(), test.ShouldBeFalse)

	pose := spatialmath.NewPoseFromPoint(r3.Vector{X: 1})
	test.That(t, spatialmath.PoseAlmostEqual(c.Viewpoint(), spatialmath.NewZeroPose()), test.ShouldBeTrue)
	c.SetViewpoint(pose)
	test.That(t, c.Viewpoint(), test.ShouldEqual, pose)

	test.That(t, c.Closed(), test.ShouldBeFalse)
	test.That(t, c.Close(ctx), test.ShouldBeNil)
	test.That(t, c.Closed(), test.ShouldBeTrue)
}
