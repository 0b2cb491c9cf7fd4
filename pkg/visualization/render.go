// Package visualization renders the extracted DPC signals as raster images:
// colour-wheel maps encoding shift direction as hue and magnitude as
// lightness, grayscale magnitude and virtual-detector maps, and histogram
// plots of the shift distribution.
package visualization

import (
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"math"
	"os"
	"path/filepath"
	"strings"

	"stem4d/internal/models"
)

// ColorWheel renders a shift field with direction as hue and magnitude as
// lightness. vmax is the magnitude mapped to full lightness; values above it
// clamp, and vmax <= 0 selects the field's own maximum. NaN entries render
// black.
func ColorWheel(field *models.ShiftField, vmax float64) *image.RGBA {
	if vmax <= 0 {
		vmax = field.MaxMagnitude()
	}

	img := image.NewRGBA(image.Rect(0, 0, field.ScanW, field.ScanH))
	for py := 0; py < field.ScanH; py++ {
		for px := 0; px < field.ScanW; px++ {
			v := field.At(px, py)
			m := v.Magnitude()
			if math.IsNaN(m) {
				img.Set(px, py, color.RGBA{A: 255})
				continue
			}

			// Hue from the shift angle, lightness from the magnitude.
			hue := (v.Angle() + math.Pi) / (2 * math.Pi)
			lightness := 0.0
			if vmax > 0 {
				lightness = math.Min(m/vmax, 1.0) * 0.5
			}
			r, g, b := hslToRGB(hue, 1.0, lightness)
			img.Set(px, py, color.RGBA{R: r, G: g, B: b, A: 255})
		}
	}
	return img
}

// WheelLegend renders the reference disc for colour-wheel maps: hue by
// angle, lightness by radius, transparent outside the disc.
func WheelLegend(size int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, size, size))
	centre := float64(size-1) / 2
	radius := float64(size) / 2

	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			dx := float64(x) - centre
			dy := float64(y) - centre
			d := math.Hypot(dx, dy)
			if d > radius {
				continue
			}

			hue := (math.Atan2(dy, dx) + math.Pi) / (2 * math.Pi)
			lightness := math.Min(d/radius, 1.0) * 0.5
			r, g, b := hslToRGB(hue, 1.0, lightness)
			img.Set(x, y, color.RGBA{R: r, G: g, B: b, A: 255})
		}
	}
	return img
}

// MagnitudeImage renders a scalar field as 16-bit grayscale, mapping
// [lo, hi] onto the full range. lo >= hi selects the field's own range. NaN
// entries render black.
func MagnitudeImage(field *models.ScalarField, lo, hi float64) *image.Gray16 {
	if lo >= hi {
		lo, hi = field.Range()
	}
	span := hi - lo

	img := image.NewGray16(image.Rect(0, 0, field.ScanW, field.ScanH))
	for py := 0; py < field.ScanH; py++ {
		for px := 0; px < field.ScanW; px++ {
			v := field.At(px, py)
			if math.IsNaN(v) {
				img.SetGray16(px, py, color.Gray16{})
				continue
			}
			norm := 0.0
			if span > 0 {
				norm = (v - lo) / span
			}
			value := uint16(math.Max(0, math.Min(65535, norm*65535)))
			img.SetGray16(px, py, color.Gray16{Y: value})
		}
	}
	return img
}

// MagnitudeField extracts the shift magnitudes as a scalar field.
func MagnitudeField(field *models.ShiftField) *models.ScalarField {
	out := models.NewScalarField(field.ScanW, field.ScanH)
	for i := range field.SX {
		out.Data[i] = math.Hypot(field.SX[i], field.SY[i])
	}
	return out
}

// SaveImage encodes an image as PNG or JPEG depending on the file extension.
func SaveImage(img image.Image, path string) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	switch strings.ToLower(filepath.Ext(path)) {
	case ".png":
		return png.Encode(file, img)
	case ".jpg", ".jpeg":
		return jpeg.Encode(file, img, &jpeg.Options{Quality: 90})
	default:
		return fmt.Errorf("unsupported image extension %q (want .png, .jpg or .jpeg)", filepath.Ext(path))
	}
}

// hslToRGB converts HSL to RGB (0-255 range)
func hslToRGB(h, s, l float64) (r, g, b uint8) {
	var rf, gf, bf float64

	if s == 0 {
		rf, gf, bf = l, l, l
	} else {
		var q float64
		if l < 0.5 {
			q = l * (1 + s)
		} else {
			q = l + s - l*s
		}
		p := 2*l - q
		rf = hueToRGB(p, q, h+1.0/3.0)
		gf = hueToRGB(p, q, h)
		bf = hueToRGB(p, q, h-1.0/3.0)
	}

	return uint8(rf * 255), uint8(gf * 255), uint8(bf * 255)
}

func hueToRGB(p, q, t float64) float64 {
	if t < 0 {
		t += 1
	}
	if t > 1 {
		t -= 1
	}
	if t < 1.0/6.0 {
		return p + (q-p)*6*t
	}
	if t < 1.0/2.0 {
		return q
	}
	if t < 2.0/3.0 {
		return p + (q-p)*(2.0/3.0-t)*6
	}
	return p
}
