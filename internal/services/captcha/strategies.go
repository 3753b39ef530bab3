package captcha

import (
	"image"
	"image/color"

	"github.com/disintegration/imaging"
)

// Strategy is one preprocessing pipeline applied before OCR.
type Strategy struct {
	Name  string
	Apply func(image.Image) image.Image
}

// Strategies run in order after the raw image.
var Strategies = []Strategy{
	{Name: "minimal", Apply: func(img image.Image) image.Image {
		return imaging.Resize(normalize(imaging.Grayscale(img)), 150, 60, imaging.Lanczos)
	}},
	{Name: "threshold", Apply: func(img image.Image) image.Image {
		out := linear(normalize(imaging.Grayscale(img)), 1.3, -20)
		return imaging.Resize(threshold(out, 140), 150, 60, imaging.Lanczos)
	}},
	{Name: "inverted", Apply: func(img image.Image) image.Image {
		return imaging.Resize(normalize(imaging.Invert(imaging.Grayscale(img))), 150, 60, imaging.Lanczos)
	}},
	{Name: "scaled", Apply: func(img image.Image) image.Image {
		out := imaging.Resize(normalize(imaging.Grayscale(img)), 300, 120, imaging.Lanczos)
		return imaging.Sharpen(out, 1)
	}},
}

func strategyByName(name string) (Strategy, bool) {
	for _, s := range Strategies {
		if s.Name == name {
			return s, true
		}
	}
	return Strategy{}, false
}

// normalize stretches the luminance of a grayscale image to the full range.
func normalize(img *image.NRGBA) *image.NRGBA {
	lo, hi := uint8(255), uint8(0)
	for i := 0; i < len(img.Pix); i += 4 {
		v := img.Pix[i]
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	if hi <= lo {
		return img
	}
	scale := 255.0 / float64(hi-lo)
	return imaging.AdjustFunc(img, func(c color.NRGBA) color.NRGBA {
		v := clamp((float64(c.R) - float64(lo)) * scale)
		return color.NRGBA{R: v, G: v, B: v, A: c.A}
	})
}

func linear(img *image.NRGBA, a, b float64) *image.NRGBA {
	return imaging.AdjustFunc(img, func(c color.NRGBA) color.NRGBA {
		v := clamp(float64(c.R)*a + b)
		return color.NRGBA{R: v, G: v, B: v, A: c.A}
	})
}

func threshold(img *image.NRGBA, level uint8) *image.NRGBA {
	return imaging.AdjustFunc(img, func(c color.NRGBA) color.NRGBA {
		v := uint8(0)
		if c.R >= level {
			v = 255
		}
		return color.NRGBA{R: v, G: v, B: v, A: c.A}
	})
}

func clamp(v float64) uint8 {
	switch {
	case v < 0:
		return 0
	case v > 255:
		return 255
	}
	return uint8(v + 0.5)
}
