package builtin

import (
	"image/color"

	"github.com/golang/geo/r3"

	"go.viam.com/fusion/rimage"
	"go.viam.com/fusion/spatialmath"
)

var neighbours6 = [][3]int{
	{1, 0, 0}, {-1, 0, 0},
	{0, 1, 0}, {0, -1, 0},
	{0, 0, 1}, {0, 0, -1},
}

var neighbours26 = func() [][3]int {
	var out [][3]int
	for i := -1; i <= 1; i++ {
		for j := -1; j <= 1; j++ {
			for k := -1; k <= 1; k++ {
				if i != 0 || j != 0 || k != 0 {
					out = append(out, [3]int{i, j, k})
				}
			}
		}
	}
	return out
}()

var unmeasuredGray = color.NRGBA{R: 128, G: 128, B: 128, A: 255}

func neighbourhood(connectivity int) [][3]int {
	if connectivity == 26 {
		return neighbours26
	}
	return neighbours6
}

// isSurface reports whether any neighbour of key is empty.
func (e *Engine) isSurface(key voxelKey, offsets [][3]int) bool {
	for _, o := range offsets {
		if _, ok := e.voxels[key.add(o)]; !ok {
			return true
		}
	}
	return false
}

// normalAt estimates the outward normal of a voxel from which of its faces are exposed. A voxel
// whose exposed faces cancel out is taken to face the camera.
func (e *Engine) normalAt(key voxelKey) r3.Vector {
	var n r3.Vector
	for _, o := range neighbours6 {
		if _, ok := e.voxels[key.add(o)]; !ok {
			n = n.Add(r3.Vector{X: float64(o[0]), Y: float64(o[1]), Z: float64(o[2])})
		}
	}
	if n.Norm() == 0 {
		n = e.pose.Point().Sub(e.center(key))
	}
	return n.Normalize()
}

var unitAxes = [3]r3.Vector{{X: 1}, {Y: 1}, {Z: 1}}

// faceTriangles returns the two triangles covering the face of key that points along face,
// wound so their normal points out of the voxel.
func (e *Engine) faceTriangles(key voxelKey, face [3]int) []*spatialmath.Triangle {
	axis := 0
	for a := range face {
		if face[a] != 0 {
			axis = a
		}
	}
	h := e.voxelSize / 2
	n := r3.Vector{X: float64(face[0]), Y: float64(face[1]), Z: float64(face[2])}
	u := unitAxes[(axis+1)%3].Mul(h)
	v := unitAxes[(axis+2)%3].Mul(h)

	fc := e.center(key).Add(n.Mul(h))
	p00 := fc.Sub(u).Sub(v)
	p10 := fc.Add(u).Sub(v)
	p11 := fc.Add(u).Add(v)
	p01 := fc.Sub(u).Add(v)
	if face[axis] > 0 {
		return []*spatialmath.Triangle{
			spatialmath.NewTriangle(p00, p10, p11),
			spatialmath.NewTriangle(p00, p11, p01),
		}
	}
	return []*spatialmath.Triangle{
		spatialmath.NewTriangle(p00, p11, p10),
		spatialmath.NewTriangle(p00, p01, p11),
	}
}

type colorSample struct {
	ok bool
	c  rimage.Color
}

func meshColors(samples []colorSample) []color.NRGBA {
	out := make([]color.NRGBA, len(samples))
	for i, s := range samples {
		if s.ok {
			out[i] = s.c.NRGBA()
		} else {
			out[i] = unmeasuredGray
		}
	}
	return out
}
