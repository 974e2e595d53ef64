// Package vision implements the visual clutter heuristic for cleanup photos.
package vision

import (
	"bytes"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
)

// Scorer computes clutter scores from encoded JPEG or PNG images.
type Scorer struct {
	// Threshold is the minimum luminance delta between neighbouring pixels
	// that counts as an edge.
	Threshold int
}

// NewScorer returns a Scorer with the default edge threshold.
func NewScorer() *Scorer {
	return &Scorer{Threshold: 24}
}

// Score decodes the image and counts luminance gradients above the threshold.
// More edges roughly means more visible clutter; the absolute number only has
// meaning relative to another photo of the same scene.
func (s *Scorer) Score(data []byte) (int, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return 0, fmt.Errorf("decode image: %w", err)
	}

	bounds := img.Bounds()
	edges := 0
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			l := luminance(img, x, y)
			if x+1 < bounds.Max.X && abs(l-luminance(img, x+1, y)) > s.Threshold {
				edges++
			}
			if y+1 < bounds.Max.Y && abs(l-luminance(img, x, y+1)) > s.Threshold {
				edges++
			}
		}
	}
	return edges, nil
}

// luminance returns the Rec. 601 luma of the pixel on a 0-255 scale.
func luminance(img image.Image, x, y int) int {
	r, g, b, _ := img.At(x, y).RGBA()
	return int((299*(r>>8) + 587*(g>>8) + 114*(b>>8)) / 1000)
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
