package pointcloud

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"strings"

	"github.com/edaniels/lidario"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
)

// PCDType is the format of a pcd file.
type PCDType int

const (
	// PCDAscii ascii format for pcd.
	PCDAscii PCDType = 0
	// PCDBinary binary format for pcd.
	PCDBinary PCDType = 1
)

// pcdField is one column of a PCD file.
type pcdField struct {
	name string
	size int
	typ  string
}

func pcdFields(meta MetaData) []pcdField {
	fields := []pcdField{{"x", 4, "F"}, {"y", 4, "F"}, {"z", 4, "F"}}
	if meta.HasColor {
		fields = append(fields, pcdField{"rgb", 4, "I"})
	}
	if meta.HasNormal {
		fields = append(fields, pcdField{"normal_x", 4, "F"}, pcdField{"normal_y", 4, "F"}, pcdField{"normal_z", 4, "F"})
	}
	if meta.HasIntensity {
		fields = append(fields, pcdField{"intensity", 4, "F"})
	}
	return fields
}

func _colorToPCDInt(pt Data) int {
	if pt == nil || !pt.HasColor() {
		return 255 << 16
	}

	r, g, b := pt.RGB255()
	x := 0

	x |= (int(r) << 16)
	x |= (int(g) << 8)
	x |= (int(b) << 0)
	return x
}

// ToPCD writes the cloud as an unorganized PCD v0.7 file. The columns follow the cloud's
// metadata: color, normals and intensities are written only if some point has them.
func ToPCD(cloud PointCloud, out io.Writer, outputType PCDType) error {
	if outputType != PCDAscii && outputType != PCDBinary {
		return errors.Errorf("unknown PCD type %d", outputType)
	}
	meta := cloud.MetaData()
	fields := pcdFields(meta)

	names := make([]string, 0, len(fields))
	sizes := make([]string, 0, len(fields))
	types := make([]string, 0, len(fields))
	counts := make([]string, 0, len(fields))
	for _, f := range fields {
		names = append(names, f.name)
		sizes = append(sizes, fmt.Sprint(f.size))
		types = append(types, f.typ)
		counts = append(counts, "1")
	}

	w := bufio.NewWriter(out)
	fmt.Fprintf(w, "VERSION .7\n")
	fmt.Fprintf(w, "FIELDS %s\nSIZE %s\nTYPE %s\nCOUNT %s\n",
		strings.Join(names, " "), strings.Join(sizes, " "), strings.Join(types, " "), strings.Join(counts, " "))
	fmt.Fprintf(w, "WIDTH %d\nHEIGHT %d\nVIEWPOINT 0 0 0 1 0 0 0\nPOINTS %d\n", cloud.Size(), 1, cloud.Size())
	if outputType == PCDBinary {
		fmt.Fprintf(w, "DATA binary\n")
	} else {
		fmt.Fprintf(w, "DATA ascii\n")
	}

	var err error
	buf := make([]byte, 0, 4*len(fields))
	cloud.Iterate(0, 0, func(pos r3.Vector, d Data) bool {
		if outputType == PCDBinary {
			buf = buf[:0]
			buf = binary.LittleEndian.AppendUint32(buf, math.Float32bits(float32(pos.X)))
			buf = binary.LittleEndian.AppendUint32(buf, math.Float32bits(float32(pos.Y)))
			buf = binary.LittleEndian.AppendUint32(buf, math.Float32bits(float32(pos.Z)))
			if meta.HasColor {
				buf = binary.LittleEndian.AppendUint32(buf, uint32(_colorToPCDInt(d)))
			}
			if meta.HasNormal {
				n := normalOf(d)
				buf = binary.LittleEndian.AppendUint32(buf, math.Float32bits(float32(n.X)))
				buf = binary.LittleEndian.AppendUint32(buf, math.Float32bits(float32(n.Y)))
				buf = binary.LittleEndian.AppendUint32(buf, math.Float32bits(float32(n.Z)))
			}
			if meta.HasIntensity {
				buf = binary.LittleEndian.AppendUint32(buf, math.Float32bits(float32(intensityOf(d))))
			}
			_, err = w.Write(buf)
			return err == nil
		}

		line := fmt.Sprintf("%f %f %f", pos.X, pos.Y, pos.Z)
		if meta.HasColor {
			line += fmt.Sprintf(" %d", _colorToPCDInt(d))
		}
		if meta.HasNormal {
			n := normalOf(d)
			line += fmt.Sprintf(" %f %f %f", n.X, n.Y, n.Z)
		}
		if meta.HasIntensity {
			line += fmt.Sprintf(" %f", intensityOf(d))
		}
		_, err = fmt.Fprintln(w, line)
		return err == nil
	})
	if err != nil {
		return err
	}
	return w.Flush()
}

// ToPLY writes the cloud as an ascii PLY vertex list.
func ToPLY(cloud PointCloud, out io.Writer) error {
	meta := cloud.MetaData()
	w := bufio.NewWriter(out)

	fmt.Fprintf(w, "ply\nformat ascii 1.0\nelement vertex %d\n", cloud.Size())
	fmt.Fprintf(w, "property float x\nproperty float y\nproperty float z\n")
	if meta.HasColor {
		fmt.Fprintf(w, "property uchar red\nproperty uchar green\nproperty uchar blue\n")
	}
	if meta.HasNormal {
		fmt.Fprintf(w, "property float nx\nproperty float ny\nproperty float nz\n")
	}
	if meta.HasIntensity {
		fmt.Fprintf(w, "property float intensity\n")
	}
	fmt.Fprintf(w, "end_header\n")

	var err error
	cloud.Iterate(0, 0, func(pos r3.Vector, d Data) bool {
		line := fmt.Sprintf("%f %f %f", pos.X, pos.Y, pos.Z)
		if meta.HasColor {
			r, g, b := uint8(255), uint8(255), uint8(255)
			if d != nil && d.HasColor() {
				r, g, b = d.RGB255()
			}
			line += fmt.Sprintf(" %d %d %d", r, g, b)
		}
		if meta.HasNormal {
			n := normalOf(d)
			line += fmt.Sprintf(" %f %f %f", n.X, n.Y, n.Z)
		}
		if meta.HasIntensity {
			line += fmt.Sprintf(" %f", intensityOf(d))
		}
		_, err = fmt.Fprintln(w, line)
		return err == nil
	})
	if err != nil {
		return err
	}
	return w.Flush()
}

// WriteToLASFile writes the point cloud out to a LAS file. Intensities are stored as the LAS point
// intensity, scaled so the largest one in the cloud maps to 65535.
func WriteToLASFile(cloud PointCloud, fn string) (err error) {
	lf, err := lidario.NewLasFile(fn, "w")
	if err != nil {
		return
	}
	defer func() {
		cerr := lf.Close()
		err = multierr.Combine(err, cerr)
	}()

	meta := cloud.MetaData()

	pointFormatID := 0
	if meta.HasColor {
		pointFormatID = 2
	}
	if err = lf.AddHeader(lidario.LasHeader{
		PointFormatID: byte(pointFormatID),
	}); err != nil {
		return
	}

	maxIntensity := 0.0
	if meta.HasIntensity {
		cloud.Iterate(0, 0, func(_ r3.Vector, d Data) bool {
			maxIntensity = math.Max(maxIntensity, intensityOf(d))
			return true
		})
	}

	var lastErr error
	cloud.Iterate(0, 0, func(pos r3.Vector, d Data) bool {
		var lp lidario.LasPointer
		pr0 := &lidario.PointRecord0{
			X: pos.X,
			Y: pos.Y,
			Z: pos.Z,
			BitField: lidario.PointBitField{
				Value: (1) | (1 << 3) | (0 << 6) | (0 << 7),
			},
			ClassBitField: lidario.ClassificationBitField{
				Value: 0,
			},
			ScanAngle:     0,
			UserData:      0,
			PointSourceID: 1,
		}
		lp = pr0

		if maxIntensity > 0 {
			pr0.Intensity = uint16(math.Round(intensityOf(d) / maxIntensity * math.MaxUint16))
		}

		if meta.HasColor {
			red, green, blue := 255, 255, 255
			if d != nil && d.HasColor() {
				r, g, b := d.RGB255()
				red, green, blue = int(r), int(g), int(b)
			}
			lp = &lidario.PointRecord2{
				PointRecord0: pr0,
				RGB: &lidario.RgbData{
					Red:   uint16(red * 256),
					Green: uint16(green * 256),
					Blue:  uint16(blue * 256),
				},
			}
		}
		if lerr := lf.AddLasPoint(lp); lerr != nil {
			lastErr = lerr
			return false
		}
		return true
	})
	if lastErr != nil {
		err = lastErr
		return
	}

	// nolint:nakedret
	return
}

func normalOf(d Data) r3.Vector {
	if d == nil || !d.HasNormal() {
		return r3.Vector{}
	}
	return d.Normal()
}

func intensityOf(d Data) float64 {
	if d == nil || !d.HasIntensity() {
		return 0
	}
	return d.Intensity()
}
