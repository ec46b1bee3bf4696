package texture

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/golang/geo/r3"
	"go.viam.com/test"

	"go.viam.com/fusion/logging"
	"go.viam.com/fusion/rimage"
	"go.viam.com/fusion/rimage/transform"
	"go.viam.com/fusion/spatialmath"
)

func TestSaveTexture(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	clk := clock.NewMock()
	clk.Set(time.Unix(10, 0))

	s, err := NewStore(root, transform.DefaultIntrinsics(4, 3), clk, logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, filepath.Dir(s.Dir()), test.ShouldEqual, root)

	pose := spatialmath.NewPoseFromPoint(r3.Vector{X: 1, Y: 2, Z: 3})
	test.That(t, s.SaveTexture(ctx, pose, rimage.NewImage(4, 3)), test.ShouldBeNil)
	test.That(t, s.SaveTexture(ctx, pose, rimage.NewImage(4, 3)), test.ShouldBeNil)
	test.That(t, s.Saved(), test.ShouldEqual, 2)

	img, err := rimage.ReadImageFromFile(filepath.Join(s.Dir(), "frame_000001.png"))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, img.Width(), test.ShouldEqual, 4)

	data, err := os.ReadFile(filepath.Join(s.Dir(), "frame_000000.txt"))
	test.That(t, err, test.ShouldBeNil)
	text := string(data)
	test.That(t, text, test.ShouldStartWith, "TVector\n1.000000\n2.000000\n3.000000\n")
	test.That(t, text, test.ShouldContainSubstring, "1.000000 0.000000 0.000000\n")
	test.That(t, strings.TrimSpace(text), test.ShouldEndWith, "10000000000")

	test.That(t, s.SaveTexture(ctx, pose, nil), test.ShouldNotBeNil)
	test.That(t, s.Close(ctx), test.ShouldBeNil)
	test.That(t, s.SaveTexture(ctx, pose, rimage.NewImage(4, 3)), test.ShouldNotBeNil)
}

func TestSessionsAreSeparate(t *testing.T) {
	root := t.TempDir()
	logger := logging.NewTestLogger(t)
	a, err := NewStore(root, transform.DefaultIntrinsics(4, 3), nil, logger)
	test.That(t, err, test.ShouldBeNil)
	b, err := NewStore(root, transform.DefaultIntrinsics(4, 3), nil, logger)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, a.Dir(), test.ShouldNotEqual, b.Dir())

	_, err = NewStore(root, nil, nil, logger)
	test.That(t, err, test.ShouldNotBeNil)
}
