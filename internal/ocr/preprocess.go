// Package ocr implements the OCR stage: image preprocessing, the external
// text-extraction engine client, and the stage handler.
package ocr

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math"
	"sort"

	_ "image/gif"
	_ "image/jpeg"

	xdraw "golang.org/x/image/draw"

	_ "golang.org/x/image/webp"

	"github.com/grazeapp/menupipe/internal/pipeline"
)

// Photographed menus below this size OCR poorly; anything smaller gets
// upscaled before binarization.
const (
	minWidth  = 900
	minHeight = 1200
)

// Preprocess runs the cleanup pipeline on a photographed menu: grayscale,
// median denoise, upscale when small, adaptive binarization, deskew. The
// result is re-encoded as PNG. Undecodable input is a permanent error.
func Preprocess(data []byte) ([]byte, error) {
	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, pipeline.Permanent(fmt.Errorf("decode image: %w", err))
	}

	gray := toGray(src)
	gray = medianDenoise(gray)
	if b := gray.Bounds(); b.Dx() < minWidth || b.Dy() < minHeight {
		gray = upscale(gray)
	}
	binary := adaptiveBinarize(gray)
	if angle := estimateSkew(binary); math.Abs(angle) > 0.25 {
		binary = rotate(binary, -angle)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, binary); err != nil {
		return nil, fmt.Errorf("encode preprocessed image: %w", err)
	}
	return buf.Bytes(), nil
}

func toGray(src image.Image) *image.Gray {
	b := src.Bounds()
	dst := image.NewGray(b)
	xdraw.Draw(dst, b, src, b.Min, xdraw.Src)
	return dst
}

// medianDenoise applies a 3x3 median filter, which kills salt-and-pepper
// noise from phone photos without blurring glyph edges.
func medianDenoise(src *image.Gray) *image.Gray {
	b := src.Bounds()
	dst := image.NewGray(b)
	var window [9]byte
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			n := 0
			for dy := -1; dy <= 1; dy++ {
				for dx := -1; dx <= 1; dx++ {
					nx, ny := x+dx, y+dy
					if nx < b.Min.X || nx >= b.Max.X || ny < b.Min.Y || ny >= b.Max.Y {
						continue
					}
					window[n] = src.GrayAt(nx, ny).Y
					n++
				}
			}
			pixels := window[:n]
			sort.Slice(pixels, func(i, j int) bool { return pixels[i] < pixels[j] })
			dst.SetGray(x, y, color.Gray{Y: pixels[n/2]})
		}
	}
	return dst
}

// upscale uses Catmull-Rom resampling to bring small captures up to the
// minimum working resolution.
func upscale(src *image.Gray) *image.Gray {
	b := src.Bounds()
	scale := math.Max(float64(minWidth)/float64(b.Dx()), float64(minHeight)/float64(b.Dy()))
	w := int(math.Round(float64(b.Dx()) * scale))
	h := int(math.Round(float64(b.Dy()) * scale))
	dst := image.NewGray(image.Rect(0, 0, w, h))
	xdraw.CatmullRom.Scale(dst, dst.Bounds(), src, b, xdraw.Over, nil)
	return dst
}

// adaptiveBinarize thresholds each pixel against the mean of its local
// window, which tolerates the uneven lighting of photographed menus far
// better than a global threshold.
func adaptiveBinarize(src *image.Gray) *image.Gray {
	const (
		window = 15
		bias   = 8
	)
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	dst := image.NewGray(b)

	// Summed-area table for O(1) window means.
	integral := make([]int64, (w+1)*(h+1))
	for y := 0; y < h; y++ {
		var rowSum int64
		for x := 0; x < w; x++ {
			rowSum += int64(src.GrayAt(b.Min.X+x, b.Min.Y+y).Y)
			integral[(y+1)*(w+1)+x+1] = integral[y*(w+1)+x+1] + rowSum
		}
	}

	half := window / 2
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			x0, y0 := max(0, x-half), max(0, y-half)
			x1, y1 := min(w-1, x+half), min(h-1, y+half)
			count := int64((x1 - x0 + 1) * (y1 - y0 + 1))
			sum := integral[(y1+1)*(w+1)+x1+1] - integral[y0*(w+1)+x1+1] -
				integral[(y1+1)*(w+1)+x0] + integral[y0*(w+1)+x0]
			mean := sum / count
			v := int64(src.GrayAt(b.Min.X+x, b.Min.Y+y).Y)
			if v < mean-bias {
				dst.SetGray(b.Min.X+x, b.Min.Y+y, color.Gray{Y: 0})
			} else {
				dst.SetGray(b.Min.X+x, b.Min.Y+y, color.Gray{Y: 255})
			}
		}
	}
	return dst
}

// estimateSkew sweeps candidate angles and keeps the one whose horizontal
// projection profile has maximum variance; crisp text lines produce sharp
// peaks when the page is level.
func estimateSkew(src *image.Gray) float64 {
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	if w == 0 || h == 0 {
		return 0
	}

	best, bestScore := 0.0, -1.0
	for angle := -5.0; angle <= 5.0; angle += 0.5 {
		rad := angle * math.Pi / 180
		sin, cos := math.Sin(rad), math.Cos(rad)
		profile := make([]int, h)
		// Sample a coarse grid; full resolution adds nothing to the estimate.
		for y := 0; y < h; y += 4 {
			for x := 0; x < w; x += 4 {
				if src.GrayAt(b.Min.X+x, b.Min.Y+y).Y > 128 {
					continue
				}
				py := int(float64(y)*cos - float64(x)*sin)
				if py >= 0 && py < h {
					profile[py]++
				}
			}
		}
		score := profileVariance(profile)
		if score > bestScore {
			bestScore = score
			best = angle
		}
	}
	if bestScore <= 0 {
		// Blank page; nothing to align.
		return 0
	}
	return best
}

func profileVariance(profile []int) float64 {
	if len(profile) == 0 {
		return 0
	}
	var sum float64
	for _, v := range profile {
		sum += float64(v)
	}
	mean := sum / float64(len(profile))
	var variance float64
	for _, v := range profile {
		d := float64(v) - mean
		variance += d * d
	}
	return variance / float64(len(profile))
}

// rotate applies a small correction rotation around the image center,
// filling exposed corners with white.
func rotate(src *image.Gray, degrees float64) *image.Gray {
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	dst := image.NewGray(b)
	rad := degrees * math.Pi / 180
	sin, cos := math.Sin(rad), math.Cos(rad)
	cx, cy := float64(w)/2, float64(h)/2

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			// Inverse map the destination pixel into the source.
			dx, dy := float64(x)-cx, float64(y)-cy
			sx := int(math.Round(dx*cos + dy*sin + cx))
			sy := int(math.Round(-dx*sin + dy*cos + cy))
			if sx < 0 || sx >= w || sy < 0 || sy >= h {
				dst.SetGray(b.Min.X+x, b.Min.Y+y, color.Gray{Y: 255})
				continue
			}
			dst.SetGray(b.Min.X+x, b.Min.Y+y, src.GrayAt(b.Min.X+sx, b.Min.Y+sy))
		}
	}
	return dst
}
