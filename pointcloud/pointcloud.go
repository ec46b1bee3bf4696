// Package pointcloud defines a point cloud and provides an implementation for one, along with
// the file formats clouds are exported in.
package pointcloud

import (
	"math"

	"github.com/golang/geo/r3"
)

// MetaData is data about what's stored in the point cloud.
type MetaData struct {
	HasColor     bool
	HasIntensity bool
	HasNormal    bool

	MinX, MaxX float64
	MinY, MaxY float64
	MinZ, MaxZ float64
}

// PointCloud is a general purpose container of points. It does not dictate whether or not the
// cloud is sparse or dense.
type PointCloud interface {
	// Size returns the number of points in the cloud.
	Size() int

	// MetaData returns meta data
	MetaData() MetaData

	// Set places the given point in the cloud.
	Set(p r3.Vector, d Data) error

	// At returns the point in the cloud at the given position.
	// The 2nd return is if the point exists, the first is data if any.
	At(x, y, z float64) (Data, bool)

	// Iterate iterates over all points in the cloud and calls the given
	// function for each point. If the supplied function returns false,
	// iteration will stop after the function returns.
	// numBatches lets you divide up he work. 0 means don't divide
	// myBatch is used iff numBatches > 0 and is which batch you want
	Iterate(numBatches, myBatch int, fn func(p r3.Vector, d Data) bool)
}

// NewMetaData creates a new MetaData with empty bounds.
func NewMetaData() MetaData {
	return MetaData{
		MinX: math.MaxFloat64,
		MinY: math.MaxFloat64,
		MinZ: math.MaxFloat64,
		MaxX: -math.MaxFloat64,
		MaxY: -math.MaxFloat64,
		MaxZ: -math.MaxFloat64,
	}
}

// Merge updates the metadata for a newly added point.
func (meta *MetaData) Merge(v r3.Vector, data Data) {
	if data != nil {
		if data.HasColor() {
			meta.HasColor = true
		}
		if data.HasIntensity() {
			meta.HasIntensity = true
		}
		if data.HasNormal() {
			meta.HasNormal = true
		}
	}

	meta.MaxX = math.Max(meta.MaxX, v.X)
	meta.MaxY = math.Max(meta.MaxY, v.Y)
	meta.MaxZ = math.Max(meta.MaxZ, v.Z)
	meta.MinX = math.Min(meta.MinX, v.X)
	meta.MinY = math.Min(meta.MinY, v.Y)
	meta.MinZ = math.Min(meta.MinZ, v.Z)
}

// CloudCentroid returns the mean position of the cloud, or the zero vector if it is empty.
func CloudCentroid(pc PointCloud) r3.Vector {
	if pc.Size() == 0 {
		return r3.Vector{}
	}
	var sum r3.Vector
	pc.Iterate(0, 0, func(p r3.Vector, d Data) bool {
		sum = sum.Add(p)
		return true
	})
	return sum.Mul(1 / float64(pc.Size()))
}

// StripColor returns a copy of the cloud without any color, keeping intensities and normals.
func StripColor(pc PointCloud) (PointCloud, error) {
	out := NewWithPrealloc(pc.Size())
	var err error
	pc.Iterate(0, 0, func(p r3.Vector, d Data) bool {
		nd := NewBasicData()
		if d != nil {
			if d.HasIntensity() {
				nd.SetIntensity(d.Intensity())
			}
			if d.HasNormal() {
				nd.SetNormal(d.Normal())
			}
		}
		err = out.Set(p, nd)
		return err == nil
	})
	return out, err
}

// StripNormals returns a copy of the cloud without surface normals.
func StripNormals(pc PointCloud) (PointCloud, error) {
	out := NewWithPrealloc(pc.Size())
	var err error
	pc.Iterate(0, 0, func(p r3.Vector, d Data) bool {
		nd := NewBasicData()
		if d != nil {
			if d.HasColor() {
				r, g, b := d.RGB255()
				nd.SetColor(colorNRGBA(r, g, b))
			}
			if d.HasIntensity() {
				nd.SetIntensity(d.Intensity())
			}
		}
		err = out.Set(p, nd)
		return err == nil
	})
	return out, err
}
