package audio_test

import (
	"math"
	"testing"

	"github.com/MrWong99/tutorlive/pkg/audio"
)

func TestResample_SameRate(t *testing.T) {
	t.Parallel()

	in := []float32{0.1, 0.2, 0.3}
	out := audio.Resample(in, 16000, 16000)
	if &out[0] != &in[0] {
		t.Error("expected the input slice back for matching rates")
	}
}

func TestResample_Upsample(t *testing.T) {
	t.Parallel()

	// 2 samples at 16 kHz become 3 at 24 kHz.
	out := audio.Resample([]float32{0, 0.6}, 16000, 24000)
	if len(out) != 3 {
		t.Fatalf("len = %d, want 3", len(out))
	}
	want := []float32{0, 0.4, 0.6}
	for i := range want {
		if math.Abs(float64(out[i]-want[i])) > 1e-6 {
			t.Errorf("out[%d] = %v, want %v", i, out[i], want[i])
		}
	}
}

func TestResample_Downsample(t *testing.T) {
	t.Parallel()

	out := audio.Resample([]float32{0.1, 0.2, 0.3, 0.4, 0.5, 0.6}, 24000, 16000)
	if len(out) != 4 {
		t.Fatalf("len = %d, want 4", len(out))
	}
	if out[0] != 0.1 {
		t.Errorf("first sample = %v, want 0.1", out[0])
	}
}

func TestResample_Degenerate(t *testing.T) {
	t.Parallel()

	if out := audio.Resample(nil, 16000, 24000); out != nil {
		t.Errorf("nil input = %v, want nil", out)
	}
	in := []float32{0.5}
	if out := audio.Resample(in, 0, 24000); len(out) != 1 {
		t.Errorf("invalid rate changed the input: %v", out)
	}
	if out := audio.Resample([]float32{0.5}, 48000, 16000); out != nil {
		t.Errorf("too short for one output sample = %v, want nil", out)
	}
}
