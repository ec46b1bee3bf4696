package spatialmath

import (
	"bufio"
	"fmt"
	"image/color"
	"io"

	"github.com/pkg/errors"
)

// Mesh is a set of triangles expressed in the frame given by its pose. A mesh may carry one color
// per triangle.
type Mesh struct {
	pose      Pose
	triangles []*Triangle
	colors    []color.NRGBA
}

// NewMesh creates a mesh from triangles in the frame of pose.
func NewMesh(pose Pose, triangles []*Triangle) *Mesh {
	return &Mesh{
		pose:      pose,
		triangles: triangles,
	}
}

// NewColoredMesh creates a mesh whose triangles each have a color. colors must be as long as
// triangles.
func NewColoredMesh(pose Pose, triangles []*Triangle, colors []color.NRGBA) (*Mesh, error) {
	if len(colors) != len(triangles) {
		return nil, errors.Errorf("mesh has %d triangles but %d colors", len(triangles), len(colors))
	}
	return &Mesh{pose: pose, triangles: triangles, colors: colors}, nil
}

// Pose returns the frame of the mesh.
func (m *Mesh) Pose() Pose {
	return m.pose
}

// Triangles returns the triangles in the mesh frame.
func (m *Mesh) Triangles() []*Triangle {
	return m.triangles
}

// HasColor returns whether every triangle carries a color.
func (m *Mesh) HasColor() bool {
	return len(m.colors) > 0 && len(m.colors) == len(m.triangles)
}

// WithoutColor returns the same geometry with the colors dropped.
func (m *Mesh) WithoutColor() *Mesh {
	return NewMesh(m.pose, m.triangles)
}

// Transform moves the mesh frame by pose.
func (m *Mesh) Transform(pose Pose) *Mesh {
	// Triangle points are in frame of mesh, like the corners of a box, so no need to transform them
	return &Mesh{
		pose:      Compose(pose, m.pose),
		triangles: m.triangles,
		colors:    m.colors,
	}
}

// worldTriangles returns the triangles expressed in the world frame.
func (m *Mesh) worldTriangles() []*Triangle {
	out := make([]*Triangle, 0, len(m.triangles))
	for _, tri := range m.triangles {
		out = append(out, tri.Transform(m.pose))
	}
	return out
}

// ToPLY writes the mesh as an ascii PLY file. Each triangle gets its own three vertices so
// per-triangle colors survive as vertex colors.
func (m *Mesh) ToPLY(out io.Writer) error {
	w := bufio.NewWriter(out)
	tris := m.worldTriangles()
	colored := m.HasColor()

	fmt.Fprintf(w, "ply\nformat ascii 1.0\ncomment fusion mesh\n")
	fmt.Fprintf(w, "element vertex %d\n", 3*len(tris))
	fmt.Fprintf(w, "property float x\nproperty float y\nproperty float z\n")
	if colored {
		fmt.Fprintf(w, "property uchar red\nproperty uchar green\nproperty uchar blue\n")
	}
	fmt.Fprintf(w, "element face %d\n", len(tris))
	fmt.Fprintf(w, "property list uchar int vertex_indices\nend_header\n")

	for i, tri := range tris {
		for _, p := range tri.Points() {
			if colored {
				c := m.colors[i]
				fmt.Fprintf(w, "%f %f %f %d %d %d\n", p.X, p.Y, p.Z, c.R, c.G, c.B)
			} else {
				fmt.Fprintf(w, "%f %f %f\n", p.X, p.Y, p.Z)
			}
		}
	}
	for i := range tris {
		fmt.Fprintf(w, "3 %d %d %d\n", 3*i, 3*i+1, 3*i+2)
	}
	return w.Flush()
}

// ToVTK writes the mesh as a legacy ascii VTK polydata file.
func (m *Mesh) ToVTK(out io.Writer) error {
	w := bufio.NewWriter(out)
	tris := m.worldTriangles()

	fmt.Fprintf(w, "# vtk DataFile Version 3.0\nfusion mesh\nASCII\nDATASET POLYDATA\n")
	fmt.Fprintf(w, "POINTS %d float\n", 3*len(tris))
	for _, tri := range tris {
		for _, p := range tri.Points() {
			fmt.Fprintf(w, "%f %f %f\n", p.X, p.Y, p.Z)
		}
	}
	fmt.Fprintf(w, "\nPOLYGONS %d %d\n", len(tris), 4*len(tris))
	for i := range tris {
		fmt.Fprintf(w, "3 %d %d %d\n", 3*i, 3*i+1, 3*i+2)
	}
	if m.HasColor() {
		fmt.Fprintf(w, "\nCELL_DATA %d\nCOLOR_SCALARS rgb_colors 3\n", len(tris))
		for _, c := range m.colors {
			fmt.Fprintf(w, "%f %f %f\n", float64(c.R)/255, float64(c.G)/255, float64(c.B)/255)
		}
	}
	return w.Flush()
}
