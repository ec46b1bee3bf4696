// Package export writes extracted clouds, meshes and volumes to files in an output directory.
package export

import (
	"os"

	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"go.viam.com/fusion/engine"
	"go.viam.com/fusion/logging"
	"go.viam.com/fusion/pointcloud"
	"go.viam.com/fusion/spatialmath"
	"go.viam.com/fusion/utils"
)

// ErrExportFailed wraps any failure to write an export file. Such failures are reported to the
// user and do not end the session.
var ErrExportFailed = errors.New("export failed")

// CloudFormat is a point cloud file format. The values match the keys that request them.
type CloudFormat int

// Cloud formats.
const (
	CloudNone      CloudFormat = 0
	CloudPCDBinary CloudFormat = 1
	CloudPCDASCII  CloudFormat = 2
	CloudPLY       CloudFormat = 3
	CloudLAS       CloudFormat = 4
)

func (f CloudFormat) String() string {
	switch f {
	case CloudNone:
		return "none"
	case CloudPCDBinary:
		return "PCD (binary)"
	case CloudPCDASCII:
		return "PCD (ASCII)"
	case CloudPLY:
		return "PLY (ASCII)"
	case CloudLAS:
		return "LAS"
	default:
		return "unknown"
	}
}

// FileName is the name of the file a cloud is saved to.
func (f CloudFormat) FileName() string {
	switch f {
	case CloudPCDBinary:
		return "cloud_bin.pcd"
	case CloudPCDASCII:
		return "cloud.pcd"
	case CloudPLY:
		return "cloud.ply"
	case CloudLAS:
		return "cloud.las"
	default:
		return ""
	}
}

// Valid reports whether f names a file format.
func (f CloudFormat) Valid() bool {
	return f.FileName() != ""
}

// MeshFormat is a mesh file format. The values match the keys that request them.
type MeshFormat int

// Mesh formats.
const (
	MeshNone MeshFormat = 0
	MeshPLY  MeshFormat = 7
	MeshVTK  MeshFormat = 8
)

func (f MeshFormat) String() string {
	switch f {
	case MeshNone:
		return "none"
	case MeshPLY:
		return "PLY"
	case MeshVTK:
		return "VTK"
	default:
		return "unknown"
	}
}

// FileName is the name of the file a mesh is saved to.
func (f MeshFormat) FileName() string {
	switch f {
	case MeshPLY:
		return "mesh.ply"
	case MeshVTK:
		return "mesh.vtk"
	default:
		return ""
	}
}

// Valid reports whether f names a file format.
func (f MeshFormat) Valid() bool {
	return f.FileName() != ""
}

// File names of a saved volume.
const (
	VolumeFileName      = "tsdf_volume.dat"
	VolumeCloudFileName = "tsdf_cloud.pcd"
)

// Exporter writes files into a directory.
type Exporter struct {
	dir    string
	logger logging.Logger
}

// NewExporter returns an Exporter writing into dir. An empty dir means the working directory.
func NewExporter(dir string, logger logging.Logger) *Exporter {
	return &Exporter{dir: dir, logger: logger}
}

// Dir is the output directory.
func (e *Exporter) Dir() string {
	return e.dir
}

// WriteCloud saves cloud in the given format and returns the path written.
func (e *Exporter) WriteCloud(cloud pointcloud.PointCloud, format CloudFormat) (string, error) {
	if !format.Valid() {
		return "", utils.NewUnsupportedFormatError("cloud", format)
	}
	path, err := utils.OutputPath(e.dir, format.FileName())
	if err != nil {
		return "", errors.Wrap(ErrExportFailed, err.Error())
	}
	e.logger.Infof("saving point cloud to %q (%v), %d points", path, format, cloud.Size())

	if format == CloudLAS {
		err = pointcloud.WriteToLASFile(cloud, path)
	} else {
		err = writeFile(path, func(f *os.File) error {
			if format == CloudPLY {
				return pointcloud.ToPLY(cloud, f)
			}
			pcdType := pointcloud.PCDAscii
			if format == CloudPCDBinary {
				pcdType = pointcloud.PCDBinary
			}
			return pointcloud.ToPCD(cloud, f, pcdType)
		})
	}
	if err != nil {
		return "", errors.Wrapf(ErrExportFailed, "cannot write %s: %v", path, err)
	}
	return path, nil
}

// WriteMesh saves mesh in the given format and returns the path written.
func (e *Exporter) WriteMesh(mesh *spatialmath.Mesh, format MeshFormat) (string, error) {
	if !format.Valid() {
		return "", utils.NewUnsupportedFormatError("mesh", format)
	}
	path, err := utils.OutputPath(e.dir, format.FileName())
	if err != nil {
		return "", errors.Wrap(ErrExportFailed, err.Error())
	}
	e.logger.Infof("saving mesh to %q (%v), %d triangles", path, format, len(mesh.Triangles()))

	err = writeFile(path, func(f *os.File) error {
		if format == MeshVTK {
			return mesh.ToVTK(f)
		}
		return mesh.ToPLY(f)
	})
	if err != nil {
		return "", errors.Wrapf(ErrExportFailed, "cannot write %s: %v", path, err)
	}
	return path, nil
}

// WriteVolume saves the volume and its cloud of weighted voxel centers. It returns the paths
// written.
func (e *Exporter) WriteVolume(vol *engine.Volume) ([]string, error) {
	volPath, err := utils.OutputPath(e.dir, VolumeFileName)
	if err != nil {
		return nil, errors.Wrap(ErrExportFailed, err.Error())
	}
	e.logger.Infof("saving volume to %q, %d voxels", volPath, len(vol.Voxels))
	if err := writeFile(volPath, func(f *os.File) error {
		_, err := vol.WriteTo(f)
		return err
	}); err != nil {
		return nil, errors.Wrapf(ErrExportFailed, "cannot write %s: %v", volPath, err)
	}

	cloud, err := vol.ToCloud()
	if err != nil {
		return nil, err
	}
	cloudPath, err := utils.OutputPath(e.dir, VolumeCloudFileName)
	if err != nil {
		return nil, errors.Wrap(ErrExportFailed, err.Error())
	}
	e.logger.Infof("saving volume cloud to %q, %d points", cloudPath, cloud.Size())
	if err := writeFile(cloudPath, func(f *os.File) error {
		return pointcloud.ToPCD(cloud, f, pointcloud.PCDBinary)
	}); err != nil {
		return nil, errors.Wrapf(ErrExportFailed, "cannot write %s: %v", cloudPath, err)
	}
	return []string{volPath, cloudPath}, nil
}

//nolint:gosec
func writeFile(path string, write func(f *os.File) error) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Combine(err, f.Close())
	}()
	return write(f)
}
