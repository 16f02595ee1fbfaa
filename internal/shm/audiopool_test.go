package shm

import "testing"

func TestAudioPoolRoundTrip(t *testing.T) {
	suffix := NewSuffix()
	pool, err := NewAudioPool(suffix, 2, 2, 0, 0, 8)
	if err != nil {
		t.Fatalf("NewAudioPool: %v", err)
	}
	defer pool.Close()

	in := [][]float32{
		{1, 2, 3, 4, 5, 6, 7, 8},
		{8, 7, 6, 5, 4, 3, 2, 1},
	}
	if err := pool.WriteInputs(in, nil); err != nil {
		t.Fatalf("WriteInputs: %v", err)
	}

	// Simulate the worker's in-place passthrough: outputs occupy the
	// trailing slots, independent of the input slots just written.
	flat := pool.floats()
	off := (pool.audioIn + pool.cvIn) * pool.bufferSize
	copy(flat[off:off+pool.bufferSize], in[0])
	copy(flat[off+pool.bufferSize:off+2*pool.bufferSize], in[1])

	out := [][]float32{make([]float32, 8), make([]float32, 8)}
	if err := pool.ReadOutputs(out, nil); err != nil {
		t.Fatalf("ReadOutputs: %v", err)
	}
	for i := range out[0] {
		if out[0][i] != in[0][i] || out[1][i] != in[1][i] {
			t.Fatalf("mismatch at %d: got %v/%v want %v/%v", i, out[0][i], out[1][i], in[0][i], in[1][i])
		}
	}
}

func TestAudioPoolZero(t *testing.T) {
	pool, err := NewAudioPool(NewSuffix(), 1, 1, 0, 0, 4)
	if err != nil {
		t.Fatalf("NewAudioPool: %v", err)
	}
	defer pool.Close()

	pool.WriteInputs([][]float32{{1, 1, 1, 1}}, nil)
	pool.Zero()

	out := [][]float32{make([]float32, 4)}
	pool.ReadOutputs(out, nil)
	for _, v := range out[0] {
		if v != 0 {
			t.Fatalf("expected zeroed pool, got %v", out[0])
		}
	}
}

func TestAudioPoolResize(t *testing.T) {
	pool, err := NewAudioPool(NewSuffix(), 1, 1, 0, 0, 4)
	if err != nil {
		t.Fatalf("NewAudioPool: %v", err)
	}
	defer pool.Close()

	if err := pool.Resize(1, 1, 0, 0, 16); err != nil {
		t.Fatalf("Resize: %v", err)
	}
	in := make([]float32, 16)
	for i := range in {
		in[i] = float32(i)
	}
	if err := pool.WriteInputs([][]float32{in}, nil); err != nil {
		t.Fatalf("WriteInputs after resize: %v", err)
	}
}
