package builtin

import (
	"context"
	"math"

	"go.viam.com/fusion/engine"
	"go.viam.com/fusion/rimage"
	"go.viam.com/fusion/spatialmath"
)

// RenderScene splats the surface voxels seen from viewpoint into a z-buffer and shades them by
// how squarely they face the camera.
func (e *Engine) RenderScene(ctx context.Context, viewpoint spatialmath.Pose) (*engine.SceneView, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	w, h := e.intrinsics.Width, e.intrinsics.Height
	view := &engine.SceneView{
		Shaded: rimage.NewImage(w, h),
		Mask:   make([]bool, w*h),
	}
	if e.hasColor() {
		view.Colors = rimage.NewImage(w, h)
	}
	zbuf := make([]float64, w*h)
	for i := range zbuf {
		zbuf[i] = math.Inf(1)
	}

	eye := viewpoint.Point()
	for key, v := range e.voxels {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !e.isSurface(key, neighbours6) {
			continue
		}
		c := e.center(key)
		px, ok := e.intrinsics.ProjectWorldPoint(viewpoint, c)
		if !ok {
			continue
		}

		shade := math.Min(1, math.Abs(e.normalAt(key).Dot(eye.Sub(c).Normalize())))
		gray := uint8(50 + 205*shade)

		r := int(math.Ceil(e.intrinsics.Fx * e.voxelSize / px.Depth / 2))
		if r > maxSplatRadius {
			r = maxSplatRadius
		}
		for y := px.Y - r; y <= px.Y+r; y++ {
			for x := px.X - r; x <= px.X+r; x++ {
				if x < 0 || y < 0 || x >= w || y >= h {
					continue
				}
				idx := y*w + x
				if px.Depth >= zbuf[idx] {
					continue
				}
				zbuf[idx] = px.Depth
				view.Mask[idx] = true
				view.Shaded.SetXY(x, y, rimage.NewColor(gray, gray, gray))
				if view.Colors != nil {
					if v.hasColor {
						view.Colors.SetXY(x, y, v.color)
					} else {
						view.Colors.SetXY(x, y, rimage.NewColor(gray, gray, gray))
					}
				}
			}
		}
	}
	return view, nil
}
