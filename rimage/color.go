package rimage

import (
	"fmt"
	"image/color"

	"github.com/lucasb-eyer/go-colorful"
)

// Color is a 24 bit RGB color as delivered by the color stream of a sensor.
type Color struct {
	R, G, B uint8
}

// NewColor returns a color from its 8 bit channels.
func NewColor(r, g, b uint8) Color {
	return Color{R: r, G: g, B: b}
}

// NewColorFromColor converts any standard color.
func NewColorFromColor(c color.Color) Color {
	if cc, ok := c.(Color); ok {
		return cc
	}
	r, g, b, _ := c.RGBA()
	return Color{R: uint8(r >> 8), G: uint8(g >> 8), B: uint8(b >> 8)}
}

// NewColorFromHSV builds a color from hue in [0,360) and saturation, value in [0,1].
func NewColorFromHSV(h, s, v float64) Color {
	r, g, b := colorful.Hsv(h, s, v).Clamped().RGB255()
	return Color{R: r, G: g, B: b}
}

func (c Color) String() string {
	return c.Hex()
}

// Hex returns the #rrggbb form of the color.
func (c Color) Hex() string {
	return fmt.Sprintf("#%.2x%.2x%.2x", c.R, c.G, c.B)
}

// RGBA implements color.Color. The color is always opaque.
func (c Color) RGBA() (r, g, b, a uint32) {
	r = uint32(c.R)
	r |= r << 8
	g = uint32(c.G)
	g |= g << 8
	b = uint32(c.B)
	b |= b << 8
	a = 0xffff
	return
}

// NRGBA returns the opaque standard color.
func (c Color) NRGBA() color.NRGBA {
	return color.NRGBA{R: c.R, G: c.G, B: c.B, A: 255}
}

// Luminance returns the perceived brightness of the color in [0,1].
func (c Color) Luminance() float64 {
	_, _, l := c.toColorful().Hcl()
	return l
}

// Blend mixes c toward other by weight in [0,1] in RGB space. A weight of 0 returns c.
func (c Color) Blend(other Color, weight float64) Color {
	r, g, b := c.toColorful().BlendRgb(other.toColorful(), weight).Clamped().RGB255()
	return Color{R: r, G: g, B: b}
}

// Scale multiplies every channel by f, clamped to the valid range.
func (c Color) Scale(f float64) Color {
	cc := c.toColorful()
	r, g, b := colorful.Color{R: cc.R * f, G: cc.G * f, B: cc.B * f}.Clamped().RGB255()
	return Color{R: r, G: g, B: b}
}

func (c Color) toColorful() colorful.Color {
	return colorful.Color{
		R: float64(c.R) / 255.0,
		G: float64(c.G) / 255.0,
		B: float64(c.B) / 255.0,
	}
}

// TheColorModel converts anything into a Color.
var TheColorModel = color.ModelFunc(func(c color.Color) color.Color {
	return NewColorFromColor(c)
})
