package codec

import "testing"

func TestMillisecondsForBytes(t *testing.T) {
	tests := []struct {
		name  string
		bytes int
		want  int
	}{
		{"one 20ms frame", 160, 20},
		{"zero bytes", 0, 0},
		{"one byte rounds down", 4, 1},
		{"one kilobyte", 1000, 125},
		{"rounding boundary", 7, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := MillisecondsForBytes(tt.bytes)
			if got != tt.want {
				t.Errorf("MillisecondsForBytes(%d) = %d, want %d", tt.bytes, got, tt.want)
			}
		})
	}
}

func TestMillisecondsForBytes_Additive(t *testing.T) {
	// The audio byte-count law: ms accounting over a run of deltas must equal
	// ms accounting on the totalled byte count.
	deltas := []int{160, 160, 80, 320}
	total := 0
	for _, d := range deltas {
		total += MillisecondsForBytes(d)
	}

	sum := 0
	for _, d := range deltas {
		sum += d
	}
	want := MillisecondsForBytes(sum)

	if total != want {
		t.Errorf("cumulative ms = %d, want %d (derived from total bytes)", total, want)
	}
}

func TestCalculateRMS(t *testing.T) {
	if rms := CalculateRMS(nil); rms != 0.0 {
		t.Errorf("CalculateRMS(nil) = %f, want 0", rms)
	}

	// 0xFF is µ-law silence (after bit inversion, decodes near zero magnitude).
	silence := []byte{0xFF, 0xFF, 0xFF, 0xFF}
	if rms := CalculateRMS(silence); rms > 10 {
		t.Errorf("CalculateRMS(silence) = %f, want near 0", rms)
	}

	loud := []byte{0x00, 0x80, 0x00, 0x80}
	if rms := CalculateRMS(loud); rms <= 0 {
		t.Errorf("CalculateRMS(loud) = %f, want > 0", rms)
	}
}
