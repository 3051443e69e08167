// Package face holds the embedding types and the nearest-template matcher.
package face

import (
	"encoding/json"
	"fmt"
	"math"
)

// DescriptorSize is the dimensionality of a face embedding.
const DescriptorSize = 128

// Embedding is a fixed-length numeric vector summarizing a detected face.
type Embedding []float64

// Detection is one detected face in a frame.
type Detection struct {
	BoundingBox [4]int  `json:"bbox"` // x_min, y_min, x_max, y_max
	Confidence  float64 `json:"confidence"`
	Embedding   Embedding `json:"embedding"`
}

// LabeledTemplate pairs an identity name with its collected sample embeddings.
type LabeledTemplate struct {
	Label   string
	Samples []Embedding
}

// MatchResult is the outcome of a single probe against the enrolled templates.
// An empty Label means no template came close enough.
type MatchResult struct {
	Label    string
	Distance float64
}

// Matched reports whether the probe matched an enrolled identity.
func (r MatchResult) Matched() bool {
	return r.Label != ""
}

// EuclideanDistance computes the Euclidean distance between two embeddings.
// Mismatched dimensions yield +Inf so they can never win a match.
func EuclideanDistance(a, b Embedding) float64 {
	if len(a) != len(b) {
		return math.Inf(1)
	}
	var sum float64
	for i := range a {
		diff := a[i] - b[i]
		sum += diff * diff
	}
	return math.Sqrt(sum)
}

// FindBestMatch scans every sample of every template for the one closest to
// the probe. If the minimum distance is greater than the threshold (or there
// are no templates at all) the result carries an empty label and the minimum
// distance found, +Inf when nothing was compared.
//
// Ties keep the first template encountered at the minimum distance; callers
// that need determinism must hand in templates in a stable order.
func FindBestMatch(probe Embedding, templates []LabeledTemplate, threshold float64) MatchResult {
	best := MatchResult{Distance: math.Inf(1)}

	for _, tpl := range templates {
		for _, sample := range tpl.Samples {
			d := EuclideanDistance(probe, sample)
			if d < best.Distance {
				best.Distance = d
				best.Label = tpl.Label
			}
		}
	}

	if best.Distance > threshold {
		return MatchResult{Distance: best.Distance}
	}
	return best
}

// Confidence projects a distance onto a 0-100 scale for display purposes.
// It plays no part in the matching decision.
func Confidence(distance, threshold float64) float64 {
	if threshold <= 0 {
		return 0
	}
	c := (1 - distance/threshold) * 100
	if c < 0 {
		return 0
	}
	if c > 100 {
		return 100
	}
	return c
}

// DecodeSamples parses a stored or submitted descriptor. A flat array of
// floats is a legacy single-sample template and comes back as a one-element
// slice; an array of arrays comes back as-is.
func DecodeSamples(raw []byte) ([]Embedding, error) {
	var nested [][]float64
	if err := json.Unmarshal(raw, &nested); err == nil {
		samples := make([]Embedding, 0, len(nested))
		for _, s := range nested {
			samples = append(samples, Embedding(s))
		}
		return samples, nil
	}

	var flat []float64
	if err := json.Unmarshal(raw, &flat); err == nil {
		return []Embedding{Embedding(flat)}, nil
	}

	return nil, fmt.Errorf("descriptor is neither a float array nor an array of float arrays")
}

// EncodeSamples serializes samples in the array-of-arrays wire format.
func EncodeSamples(samples []Embedding) ([]byte, error) {
	if samples == nil {
		samples = []Embedding{}
	}
	return json.Marshal(samples)
}
