// Package builtin implements a CPU reconstruction engine that accumulates depth frames into a
// sparse voxel volume. It does not estimate motion: the camera is assumed to stay at its initial
// pose, which is enough for a fixed sensor or for exercising the pipeline.
package builtin

import (
	"context"
	"image"
	"sort"
	"sync"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"

	"go.viam.com/fusion/engine"
	"go.viam.com/fusion/logging"
	"go.viam.com/fusion/pointcloud"
	"go.viam.com/fusion/rimage"
	"go.viam.com/fusion/rimage/transform"
	"go.viam.com/fusion/spatialmath"
)

type voxelKey struct {
	i, j, k int
}

func (k voxelKey) add(o [3]int) voxelKey {
	return voxelKey{k.i + o[0], k.j + o[1], k.k + o[2]}
}

type voxel struct {
	weight      float64
	hasColor    bool
	color       rimage.Color
	colorWeight int
}

// Engine is the builtin voxel engine.
type Engine struct {
	cfg        Config
	intrinsics *transform.PinholeCameraIntrinsics
	voxelSize  float64
	logger     logging.Logger

	mu             sync.Mutex
	voxels         map[voxelKey]*voxel
	pose           spatialmath.Pose
	lastDepth      *rimage.DepthMap
	lastColor      *rimage.Image
	mode           engine.ExtractionMode
	maxColorWeight int
	lastScan       bool
	finished       bool
	frames         int
}

var _ engine.Engine = (*Engine)(nil)

func errInvalid(field string, value interface{}) error {
	return errors.Errorf("invalid %s: %v", field, value)
}

// InitialPose places the camera centered in front of the volume, looking along +Z, so that the
// first frame lands inside it.
func InitialPose(volumeSize float64) spatialmath.Pose {
	return spatialmath.NewPoseFromPoint(r3.Vector{
		X: volumeSize / 2,
		Y: volumeSize / 2,
		Z: volumeSize/2 - volumeSize/2*1.2,
	})
}

// New returns a builtin engine for the given config.
func New(conf Config, logger logging.Logger) (*Engine, error) {
	if _, err := conf.Validate("engine"); err != nil {
		return nil, err
	}
	conf = conf.withDefaults()
	e := &Engine{
		cfg:        conf,
		intrinsics: conf.Intrinsics,
		voxelSize:  conf.VolumeSize / float64(conf.Resolution),
		logger:     logger,
		voxels:     map[voxelKey]*voxel{},
		pose:       InitialPose(conf.VolumeSize),
	}
	logger.Debugf("volume %.2fm at %d^3 (%.4fm voxels), max %d voxels",
		conf.VolumeSize, conf.Resolution, e.voxelSize, conf.MaxVoxels)
	return e, nil
}

// Step integrates depth, and color if color integration has been started, into the volume.
func (e *Engine) Step(ctx context.Context, depth *rimage.DepthMap, color *rimage.Image) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.finished {
		return false, nil
	}
	if depth == nil {
		return false, errors.New("no depth frame to integrate")
	}
	if depth.Width() != e.intrinsics.Width || depth.Height() != e.intrinsics.Height {
		return false, errors.Errorf("depth frame is %dx%d but the engine expects %dx%d",
			depth.Width(), depth.Height(), e.intrinsics.Width, e.intrinsics.Height)
	}

	valid := 0
	for _, d := range depth.Data() {
		if d != 0 {
			valid++
		}
	}
	if float64(valid) < e.cfg.MinValidFraction*float64(len(depth.Data())) {
		return false, errors.Wrapf(engine.ErrTrackingLost, "only %d of %d pixels have depth", valid, len(depth.Data()))
	}
	if err := e.integrate(depth, color); err != nil {
		return false, err
	}
	e.lastDepth = depth
	e.lastColor = color
	e.frames++
	if e.lastScan {
		e.finished = true
		e.logger.Infof("last scan completed after %d frames", e.frames)
	}
	return len(e.voxels) > 0, nil
}

func (e *Engine) integrate(depth *rimage.DepthMap, color *rimage.Image) error {
	stride := e.cfg.IntegrationStride
	useColor := e.maxColorWeight > 0 && color != nil
	for y := 0; y < depth.Height(); y += stride {
		for x := 0; x < depth.Width(); x += stride {
			z := depth.GetDepth(x, y)
			if z == 0 {
				continue
			}
			world := spatialmath.TransformPoint(e.pose, e.intrinsics.ImagePointTo3DPoint(image.Point{X: x, Y: y}, z))
			key, ok := e.keyOf(world)
			if !ok {
				continue
			}
			v, ok := e.voxels[key]
			if !ok {
				if len(e.voxels) >= e.cfg.MaxVoxels {
					return errors.Wrapf(engine.ErrOutOfMemory, "volume is full at %d voxels", len(e.voxels))
				}
				v = &voxel{}
				e.voxels[key] = v
			}
			v.weight++
			if useColor {
				e.integrateColor(v, color.GetXY(x, y))
			}
		}
	}
	return nil
}

func (e *Engine) integrateColor(v *voxel, c rimage.Color) {
	if !v.hasColor {
		v.hasColor = true
		v.color = c
		v.colorWeight = 1
		return
	}
	v.color = v.color.Blend(c, 1/float64(v.colorWeight+1))
	if v.colorWeight < e.maxColorWeight {
		v.colorWeight++
	}
}

func (e *Engine) keyOf(pt r3.Vector) (voxelKey, bool) {
	if pt.X < 0 || pt.Y < 0 || pt.Z < 0 {
		return voxelKey{}, false
	}
	key := voxelKey{int(pt.X / e.voxelSize), int(pt.Y / e.voxelSize), int(pt.Z / e.voxelSize)}
	res := e.cfg.Resolution
	if key.i >= res || key.j >= res || key.k >= res {
		return voxelKey{}, false
	}
	return key, true
}

func (e *Engine) center(k voxelKey) r3.Vector {
	return r3.Vector{
		X: (float64(k.i) + 0.5) * e.voxelSize,
		Y: (float64(k.j) + 0.5) * e.voxelSize,
		Z: (float64(k.k) + 0.5) * e.voxelSize,
	}
}

func (e *Engine) sortedKeys() []voxelKey {
	keys := make([]voxelKey, 0, len(e.voxels))
	for k := range e.voxels {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(a, b int) bool {
		ka, kb := keys[a], keys[b]
		if ka.k != kb.k {
			return ka.k < kb.k
		}
		if ka.j != kb.j {
			return ka.j < kb.j
		}
		return ka.i < kb.i
	})
	return keys
}

func (e *Engine) hasColor() bool {
	return e.maxColorWeight > 0
}

// CurrentPose returns the camera pose.
func (e *Engine) CurrentPose() spatialmath.Pose {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pose
}

// ExportCloud returns the surface voxels of the volume.
func (e *Engine) ExportCloud(ctx context.Context, opts engine.CloudOptions) (pointcloud.PointCloud, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	offsets := neighbourhood(e.mode.Connectivity())
	withColor := opts.WithColor && e.hasColor()

	pc := pointcloud.New()
	for _, key := range e.sortedKeys() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !e.isSurface(key, offsets) {
			continue
		}
		d := pointcloud.NewBasicData()
		if opts.WithNormals {
			d.SetNormal(e.normalAt(key))
		}
		if v := e.voxels[key]; withColor && v.hasColor {
			d.SetColor(v.color.NRGBA())
		}
		if err := pc.Set(e.center(key), d); err != nil {
			return nil, err
		}
	}
	return pc, nil
}

// ExportMesh returns a mesh of the exposed voxel faces.
func (e *Engine) ExportMesh(ctx context.Context) (*spatialmath.Mesh, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	var triangles []*spatialmath.Triangle
	var colors []colorSample
	for _, key := range e.sortedKeys() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		v := e.voxels[key]
		for _, face := range neighbours6 {
			if _, ok := e.voxels[key.add(face)]; ok {
				continue
			}
			for _, tri := range e.faceTriangles(key, face) {
				triangles = append(triangles, tri)
				colors = append(colors, colorSample{v.hasColor, v.color})
			}
		}
	}
	if !e.hasColor() {
		return spatialmath.NewMesh(spatialmath.NewZeroPose(), triangles), nil
	}
	return spatialmath.NewColoredMesh(spatialmath.NewZeroPose(), triangles, meshColors(colors))
}

// ExportVolume downloads the voxels and their weights.
func (e *Engine) ExportVolume(ctx context.Context) (*engine.Volume, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	res := e.cfg.Resolution
	vol := &engine.Volume{
		Size:       r3.Vector{X: e.cfg.VolumeSize, Y: e.cfg.VolumeSize, Z: e.cfg.VolumeSize},
		Resolution: [3]int{res, res, res},
		Voxels:     make([]engine.Voxel, 0, len(e.voxels)),
	}
	for _, key := range e.sortedKeys() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		v := e.voxels[key]
		vol.Voxels = append(vol.Voxels, engine.Voxel{
			I: key.i, J: key.j, K: key.k,
			Weight:   v.weight,
			HasColor: v.hasColor,
			Color:    v.color,
		})
	}
	return vol, nil
}

// LastFrameCloud back-projects the last integrated frame into world coordinates.
func (e *Engine) LastFrameCloud(ctx context.Context) (pointcloud.PointCloud, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.lastDepth == nil {
		return pointcloud.New(), nil
	}
	local, err := e.intrinsics.RGBDToPointCloud(e.lastColor, e.lastDepth, e.cfg.IntegrationStride)
	if err != nil {
		return nil, err
	}
	world := pointcloud.NewWithPrealloc(local.Size())
	local.Iterate(0, 0, func(p r3.Vector, d pointcloud.Data) bool {
		err = world.Set(spatialmath.TransformPoint(e.pose, p), d)
		return err == nil && ctx.Err() == nil
	})
	if err != nil {
		return nil, err
	}
	return world, ctx.Err()
}

// VolumeBounds returns the corners of the volume.
func (e *Engine) VolumeBounds() (r3.Vector, r3.Vector) {
	s := e.cfg.VolumeSize
	return r3.Vector{}, r3.Vector{X: s, Y: s, Z: s}
}

// InitColorIntegration starts averaging color into the voxels.
func (e *Engine) InitColorIntegration(maxWeight int) error {
	if maxWeight <= 0 {
		return errors.Errorf("color weight cap must be positive, got %d", maxWeight)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.maxColorWeight = maxWeight
	return nil
}

// SetExtractionMode sets the neighbourhood used by ExportCloud.
func (e *Engine) SetExtractionMode(mode engine.ExtractionMode) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.mode = mode
}

// PerformLastScan makes the next step the final one.
func (e *Engine) PerformLastScan() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.lastScan = true
}

// IsFinished reports whether the step after PerformLastScan has run.
func (e *Engine) IsFinished() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.finished
}

// Close releases the volume.
func (e *Engine) Close(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.voxels = map[voxelKey]*voxel{}
	e.lastDepth = nil
	e.lastColor = nil
	return nil
}
