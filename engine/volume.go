package engine

import (
	"bufio"
	"encoding/binary"
	"io"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"

	"go.viam.com/fusion/pointcloud"
	"go.viam.com/fusion/rimage"
)

var volumeMagic = [4]byte{'F', 'V', 'O', 'L'}

const volumeVersion = 1

// Voxel is one occupied cell of a Volume.
type Voxel struct {
	I, J, K  int
	Weight   float64
	HasColor bool
	Color    rimage.Color
}

// Volume is the fused volume downloaded from an engine. Only occupied voxels are listed.
type Volume struct {
	// Size is the extent of the volume in meters; its origin is the world origin.
	Size       r3.Vector
	Resolution [3]int
	Voxels     []Voxel
}

// VoxelSize is the extent of a single voxel in meters.
func (v *Volume) VoxelSize() r3.Vector {
	return r3.Vector{
		X: v.Size.X / float64(v.Resolution[0]),
		Y: v.Size.Y / float64(v.Resolution[1]),
		Z: v.Size.Z / float64(v.Resolution[2]),
	}
}

// VoxelCenter returns the world position of the center of vx.
func (v *Volume) VoxelCenter(vx Voxel) r3.Vector {
	s := v.VoxelSize()
	return r3.Vector{
		X: (float64(vx.I) + 0.5) * s.X,
		Y: (float64(vx.J) + 0.5) * s.Y,
		Z: (float64(vx.K) + 0.5) * s.Z,
	}
}

// ToCloud converts the volume to a cloud of voxel centers whose intensity is the fused weight.
func (v *Volume) ToCloud() (pointcloud.PointCloud, error) {
	pc := pointcloud.NewWithPrealloc(len(v.Voxels))
	for _, vx := range v.Voxels {
		if err := pc.Set(v.VoxelCenter(vx), pointcloud.NewIntensityData(vx.Weight)); err != nil {
			return nil, err
		}
	}
	return pc, nil
}

type volumeHeader struct {
	Magic      [4]byte
	Version    uint32
	Resolution [3]int32
	Size       [3]float32
	Count      uint32
}

type volumeRecord struct {
	Index  [3]int32
	Weight float32
	Flags  uint8
	RGB    [3]uint8
}

// WriteTo writes the volume in a little endian binary layout: a header followed by one record
// per voxel.
func (v *Volume) WriteTo(w io.Writer) (int64, error) {
	bw := bufio.NewWriter(w)
	header := volumeHeader{
		Magic:      volumeMagic,
		Version:    volumeVersion,
		Resolution: [3]int32{int32(v.Resolution[0]), int32(v.Resolution[1]), int32(v.Resolution[2])},
		Size:       [3]float32{float32(v.Size.X), float32(v.Size.Y), float32(v.Size.Z)},
		Count:      uint32(len(v.Voxels)),
	}
	if err := binary.Write(bw, binary.LittleEndian, header); err != nil {
		return 0, err
	}
	for _, vx := range v.Voxels {
		rec := volumeRecord{
			Index:  [3]int32{int32(vx.I), int32(vx.J), int32(vx.K)},
			Weight: float32(vx.Weight),
		}
		if vx.HasColor {
			rec.Flags = 1
			rec.RGB = [3]uint8{vx.Color.R, vx.Color.G, vx.Color.B}
		}
		if err := binary.Write(bw, binary.LittleEndian, rec); err != nil {
			return 0, err
		}
	}
	n := int64(binary.Size(header)) + int64(len(v.Voxels))*int64(binary.Size(volumeRecord{}))
	return n, bw.Flush()
}

// ReadVolume reads a volume written by WriteTo.
func ReadVolume(r io.Reader) (*Volume, error) {
	br := bufio.NewReader(r)
	var header volumeHeader
	if err := binary.Read(br, binary.LittleEndian, &header); err != nil {
		return nil, errors.Wrap(err, "cannot read volume header")
	}
	if header.Magic != volumeMagic {
		return nil, errors.New("not a volume file")
	}
	if header.Version != volumeVersion {
		return nil, errors.Errorf("unsupported volume version %d", header.Version)
	}
	v := &Volume{
		Size:       r3.Vector{X: float64(header.Size[0]), Y: float64(header.Size[1]), Z: float64(header.Size[2])},
		Resolution: [3]int{int(header.Resolution[0]), int(header.Resolution[1]), int(header.Resolution[2])},
		Voxels:     make([]Voxel, 0, header.Count),
	}
	for i := uint32(0); i < header.Count; i++ {
		var rec volumeRecord
		if err := binary.Read(br, binary.LittleEndian, &rec); err != nil {
			return nil, errors.Wrapf(err, "cannot read voxel %d", i)
		}
		v.Voxels = append(v.Voxels, Voxel{
			I:        int(rec.Index[0]),
			J:        int(rec.Index[1]),
			K:        int(rec.Index[2]),
			Weight:   float64(rec.Weight),
			HasColor: rec.Flags&1 != 0,
			Color:    rimage.NewColor(rec.RGB[0], rec.RGB[1], rec.RGB[2]),
		})
	}
	return v, nil
}
