package spatialmath

import (
	"bytes"
	"image/color"
	"strings"
	"testing"

	"github.com/golang/geo/r3"
	"go.viam.com/test"
)

func makeSimpleTriangleMesh() *Mesh {
	tri1 := NewTriangle(
		r3.Vector{X: 0, Y: 0, Z: 0},
		r3.Vector{X: 1, Y: 0, Z: 0},
		r3.Vector{X: 0, Y: 1, Z: 0},
	)
	tri2 := NewTriangle(
		r3.Vector{X: 0, Y: 0, Z: 10},
		r3.Vector{X: 1, Y: 0, Z: 10},
		r3.Vector{X: 0, Y: 1, Z: 10},
	)
	return NewMesh(NewZeroPose(), []*Triangle{tri1, tri2})
}

func TestTriangle(t *testing.T) {
	tri := NewTriangle(r3.Vector{}, r3.Vector{X: 2}, r3.Vector{Y: 2})
	test.That(t, tri.Normal(), test.ShouldResemble, r3.Vector{Z: 1})
	test.That(t, tri.Area(), test.ShouldAlmostEqual, 2)

	degenerate := NewTriangle(r3.Vector{}, r3.Vector{X: 1}, r3.Vector{X: 2})
	test.That(t, degenerate.Normal(), test.ShouldResemble, r3.Vector{})

	moved := tri.Transform(NewPoseFromPoint(r3.Vector{Z: 5}))
	test.That(t, moved.Points()[1], test.ShouldResemble, r3.Vector{X: 2, Z: 5})
}

func TestMeshPLY(t *testing.T) {
	m := makeSimpleTriangleMesh().Transform(NewPoseFromPoint(r3.Vector{X: 1}))
	var buf bytes.Buffer
	test.That(t, m.ToPLY(&buf), test.ShouldBeNil)

	out := buf.String()
	test.That(t, out, test.ShouldStartWith, "ply\nformat ascii 1.0\n")
	test.That(t, out, test.ShouldContainSubstring, "element vertex 6\n")
	test.That(t, out, test.ShouldContainSubstring, "element face 2\n")
	test.That(t, out, test.ShouldNotContainSubstring, "property uchar red")
	test.That(t, out, test.ShouldContainSubstring, "2.000000 0.000000 10.000000\n")
	test.That(t, strings.HasSuffix(out, "3 3 4 5\n"), test.ShouldBeTrue)
}

func TestColoredMesh(t *testing.T) {
	plain := makeSimpleTriangleMesh()
	_, err := NewColoredMesh(plain.Pose(), plain.Triangles(), []color.NRGBA{{R: 1}})
	test.That(t, err, test.ShouldNotBeNil)

	m, err := NewColoredMesh(plain.Pose(), plain.Triangles(), []color.NRGBA{{R: 255, A: 255}, {B: 255, A: 255}})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, m.HasColor(), test.ShouldBeTrue)
	test.That(t, m.WithoutColor().HasColor(), test.ShouldBeFalse)

	var ply bytes.Buffer
	test.That(t, m.ToPLY(&ply), test.ShouldBeNil)
	test.That(t, ply.String(), test.ShouldContainSubstring, "property uchar red")
	test.That(t, ply.String(), test.ShouldContainSubstring, "0.000000 0.000000 0.000000 255 0 0\n")

	var vtk bytes.Buffer
	test.That(t, m.ToVTK(&vtk), test.ShouldBeNil)
	out := vtk.String()
	test.That(t, out, test.ShouldStartWith, "# vtk DataFile Version 3.0\n")
	test.That(t, out, test.ShouldContainSubstring, "POINTS 6 float\n")
	test.That(t, out, test.ShouldContainSubstring, "POLYGONS 2 8\n")
	test.That(t, out, test.ShouldContainSubstring, "COLOR_SCALARS rgb_colors 3\n")
}
