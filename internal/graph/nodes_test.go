package graph

import "testing"

func TestDownmixMono(t *testing.T) {
	input := []float32{0.1, 0.2, 0.3, 0.4}
	got := downmix([][]float32{input}, nil)

	if len(got) != len(input) {
		t.Fatalf("expected %d samples, got %d", len(input), len(got))
	}
	for i := range input {
		if got[i] != input[i] {
			t.Fatalf("expected element %d to be %f, got %f", i, input[i], got[i])
		}
	}

	if &got[0] == &input[0] {
		t.Fatal("expected mono result to be copied into a new slice")
	}
}

func TestDownmixStereo(t *testing.T) {
	left := []float32{0.0, 0.5, 1.0, -0.5}
	right := []float32{1.0, 0.5, 0.0, 0.5}
	expected := []float32{0.5, 0.5, 0.5, 0.0}

	got := downmix([][]float32{left, right}, nil)
	if len(got) != len(expected) {
		t.Fatalf("expected %d frames, got %d", len(expected), len(got))
	}
	for i := range expected {
		if got[i] != expected[i] {
			t.Fatalf("frame %d mismatch: expected %f, got %f", i, expected[i], got[i])
		}
	}
}

func TestDownmixMoreChannels(t *testing.T) {
	in := [][]float32{{1, 2}, {3, 4}, {5, 6}}
	expected := []float32{3, 4}

	got := downmix(in, make([]float32, 0, 8))
	for i := range expected {
		if got[i] != expected[i] {
			t.Fatalf("frame %d mismatch: expected %f, got %f", i, expected[i], got[i])
		}
	}
}

func TestDownmixNoChannels(t *testing.T) {
	if got := downmix(nil, nil); len(got) != 0 {
		t.Fatalf("expected empty block, got %d samples", len(got))
	}
}

func TestSinkDuplicatesOntoEveryChannel(t *testing.T) {
	out := [][]float32{make([]float32, 3), make([]float32, 3)}
	sink{}.process([]float32{0.25, 0.5, 0.75}, out)

	for ch := range out {
		if out[ch][2] != 0.75 {
			t.Fatalf("channel %d: expected 0.75, got %f", ch, out[ch][2])
		}
	}
}
