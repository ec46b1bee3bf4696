// Package rimage holds the color images and depth maps produced by a depth sensor.
package rimage

import (
	"image"
	"image/color"
)

// Image is a dense RGB image. It is immutable once handed to the pipeline; the producer builds it
// and then gives up ownership.
type Image struct {
	data          []Color
	width, height int
}

// NewImage returns a black image of the given size.
func NewImage(width, height int) *Image {
	return &Image{
		data:   make([]Color, width*height),
		width:  width,
		height: height,
	}
}

// NewImageFromStdImage copies any standard image.
func NewImageFromStdImage(img image.Image) *Image {
	if ri, ok := img.(*Image); ok {
		return ri.Clone()
	}
	bounds := img.Bounds()
	out := NewImage(bounds.Dx(), bounds.Dy())
	for y := 0; y < out.height; y++ {
		for x := 0; x < out.width; x++ {
			out.data[out.kxy(x, y)] = NewColorFromColor(img.At(bounds.Min.X+x, bounds.Min.Y+y))
		}
	}
	return out
}

// ColorModel implements image.Image.
func (i *Image) ColorModel() color.Model {
	return TheColorModel
}

// Bounds implements image.Image.
func (i *Image) Bounds() image.Rectangle {
	return image.Rect(0, 0, i.width, i.height)
}

// At implements image.Image.
func (i *Image) At(x, y int) color.Color {
	if !i.In(x, y) {
		return Color{}
	}
	return i.data[i.kxy(x, y)]
}

// In returns whether (x,y) lies inside the image.
func (i *Image) In(x, y int) bool {
	return x >= 0 && y >= 0 && x < i.width && y < i.height
}

func (i *Image) kxy(x, y int) int {
	return (y * i.width) + x
}

// Width returns the horizontal size in pixels.
func (i *Image) Width() int {
	return i.width
}

// Height returns the vertical size in pixels.
func (i *Image) Height() int {
	return i.height
}

// Get returns the color at p.
func (i *Image) Get(p image.Point) Color {
	return i.data[i.kxy(p.X, p.Y)]
}

// GetXY returns the color at (x,y).
func (i *Image) GetXY(x, y int) Color {
	return i.data[i.kxy(x, y)]
}

// SetXY sets the color at (x,y).
func (i *Image) SetXY(x, y int, c Color) {
	i.data[i.kxy(x, y)] = c
}

// Clone returns a deep copy.
func (i *Image) Clone() *Image {
	out := &Image{data: make([]Color, len(i.data)), width: i.width, height: i.height}
	copy(out.data, i.data)
	return out
}

// ToGray returns the luminance of the image as an 8 bit gray image.
func (i *Image) ToGray() *image.Gray {
	out := image.NewGray(i.Bounds())
	for y := 0; y < i.height; y++ {
		for x := 0; x < i.width; x++ {
			out.SetGray(x, y, color.GrayModel.Convert(i.data[i.kxy(x, y)]).(color.Gray))
		}
	}
	return out
}
