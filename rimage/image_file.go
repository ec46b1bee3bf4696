package rimage

import (
	"image"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/pkg/errors"
)

// ReadImageFromFile decodes a color image from disk.
func ReadImageFromFile(path string) (*Image, error) {
	img, err := imaging.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot read image %q", path)
	}
	return NewImageFromStdImage(img), nil
}

// ReadDepthMapFromFile decodes a depth map stored as a 16 bit gray PNG, one millimeter per unit.
func ReadDepthMapFromFile(path string) (*DepthMap, error) {
	img, err := imaging.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot read depth map %q", path)
	}
	dm, err := ConvertImageToDepthMap(img)
	if err != nil {
		return nil, errors.Wrapf(err, "depth map %q", path)
	}
	return dm, nil
}

// WriteImageToFile writes an image to a file, picking the encoding from the extension.
func WriteImageToFile(path string, img image.Image) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".png", ".jpg", ".jpeg", ".bmp", ".tif", ".tiff", ".gif":
	default:
		return errors.Errorf("unsupported image extension for %q", path)
	}
	if dm, ok := img.(*DepthMap); ok {
		img = dm.ToGray16Picture()
	}
	return errors.Wrapf(imaging.Save(img, path), "cannot write image %q", path)
}
