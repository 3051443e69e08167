package face

import (
	"math"
	"testing"
)

func embeddingOf(dim int, value float64) Embedding {
	e := make(Embedding, dim)
	for i := range e {
		e[i] = value
	}
	return e
}

func TestEuclideanDistance(t *testing.T) {
	tests := []struct {
		name string
		a, b Embedding
		want float64
	}{
		{"identical", Embedding{1, 2, 3}, Embedding{1, 2, 3}, 0},
		{"unit apart", Embedding{0, 0}, Embedding{1, 0}, 1},
		{"pythagorean", Embedding{0, 0}, Embedding{3, 4}, 5},
		{"dimension mismatch", Embedding{1, 2}, Embedding{1, 2, 3}, math.Inf(1)},
		{"both empty", Embedding{}, Embedding{}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := EuclideanDistance(tt.a, tt.b)
			if got != tt.want {
				t.Errorf("EuclideanDistance() = %v, want %v", got, tt.want)
			}
			// Distance is symmetric.
			if rev := EuclideanDistance(tt.b, tt.a); rev != got {
				t.Errorf("EuclideanDistance not symmetric: %v vs %v", got, rev)
			}
		})
	}
}

func TestEuclideanDistanceDeterministic(t *testing.T) {
	a := embeddingOf(DescriptorSize, 0.25)
	b := embeddingOf(DescriptorSize, 0.75)

	first := EuclideanDistance(a, b)
	for i := 0; i < 100; i++ {
		if got := EuclideanDistance(a, b); got != first {
			t.Fatalf("distance changed between identical calls: %v vs %v", got, first)
		}
	}
}

func TestFindBestMatch(t *testing.T) {
	templates := []LabeledTemplate{
		{Label: "alice", Samples: []Embedding{{0, 0}, {10, 10}}},
		{Label: "bob", Samples: []Embedding{{5, 0}}},
	}

	tests := []struct {
		name      string
		probe     Embedding
		templates []LabeledTemplate
		threshold float64
		wantLabel string
		wantDist  float64
	}{
		{"exact match", Embedding{0, 0}, templates, 0.6, "alice", 0},
		{"nearest sample wins", Embedding{5, 0.25}, templates, 0.6, "bob", 0.25},
		{"beyond threshold", Embedding{100, 100}, templates, 0.6, "", math.Sqrt(2 * 90 * 90)},
		{"distance equal to threshold matches", Embedding{0.6, 0}, templates, 0.6, "alice", 0.6},
		{"empty store", Embedding{0, 0}, nil, 0.6, "", math.Inf(1)},
		{"templates with no samples", Embedding{0, 0}, []LabeledTemplate{{Label: "ghost"}}, 0.6, "", math.Inf(1)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := FindBestMatch(tt.probe, tt.templates, tt.threshold)
			if res.Label != tt.wantLabel {
				t.Errorf("label = %q, want %q", res.Label, tt.wantLabel)
			}
			if res.Distance != tt.wantDist {
				t.Errorf("distance = %v, want %v", res.Distance, tt.wantDist)
			}
			if res.Matched() != (tt.wantLabel != "") {
				t.Errorf("Matched() = %v, want %v", res.Matched(), tt.wantLabel != "")
			}
		})
	}
}

func TestFindBestMatchTieKeepsFirst(t *testing.T) {
	// Two identities at exactly the same distance from the probe; the one
	// encountered first in listing order wins.
	templates := []LabeledTemplate{
		{Label: "first", Samples: []Embedding{{1, 0}}},
		{Label: "second", Samples: []Embedding{{-1, 0}}},
	}

	res := FindBestMatch(Embedding{0, 0}, templates, 2)
	if res.Label != "first" {
		t.Errorf("tie broken to %q, want %q", res.Label, "first")
	}
}

func TestConfidence(t *testing.T) {
	tests := []struct {
		name      string
		distance  float64
		threshold float64
		want      float64
	}{
		{"exact match", 0, 0.6, 100},
		{"at threshold", 0.6, 0.6, 0},
		{"halfway", 0.3, 0.6, 50},
		{"beyond threshold clamps to zero", 1.2, 0.6, 0},
		{"negative distance clamps to hundred", -0.1, 0.6, 100},
		{"zero threshold", 0.5, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Confidence(tt.distance, tt.threshold)
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("Confidence(%v, %v) = %v, want %v", tt.distance, tt.threshold, got, tt.want)
			}
		})
	}
}

func TestDecodeSamples(t *testing.T) {
	tests := []struct {
		name        string
		raw         string
		wantSamples int
		wantErr     bool
	}{
		{"nested", `[[1,2,3],[4,5,6]]`, 2, false},
		{"legacy flat", `[1,2,3]`, 1, false},
		{"empty nested", `[]`, 0, false},
		{"garbage", `{"not":"a descriptor"}`, 0, true},
		{"string elements", `["a","b"]`, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			samples, err := DecodeSamples([]byte(tt.raw))
			if (err != nil) != tt.wantErr {
				t.Fatalf("DecodeSamples() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				return
			}
			if len(samples) != tt.wantSamples {
				t.Errorf("got %d samples, want %d", len(samples), tt.wantSamples)
			}
		})
	}
}

func TestDecodeSamplesFlatKeepsValues(t *testing.T) {
	samples, err := DecodeSamples([]byte(`[0.5,-0.25,1]`))
	if err != nil {
		t.Fatalf("DecodeSamples() error = %v", err)
	}
	if len(samples) != 1 {
		t.Fatalf("got %d samples, want 1", len(samples))
	}
	want := Embedding{0.5, -0.25, 1}
	for i, v := range samples[0] {
		if v != want[i] {
			t.Errorf("sample[0][%d] = %v, want %v", i, v, want[i])
		}
	}
}
