package pool

import "testing"

func TestGetPut_RoundTrip(t *testing.T) {
	for _, size := range []int{1, 256, 300, 5000, 1 << 20} {
		b := GetU32(size)
		if len(b) != 0 {
			t.Fatalf("size %d: len %d, want 0", size, len(b))
		}
		if cap(b) < size {
			t.Fatalf("size %d: cap %d too small", size, cap(b))
		}
		b = append(b, 1, 2, 3)
		PutU32(b)
	}
}

func TestGet_ReusesBuffers(t *testing.T) {
	b := GetU32(1024)
	b = append(b, 42)
	PutU32(b)
	c := GetU32(1024)
	if len(c) != 0 {
		t.Fatalf("reused buffer not reset: len %d", len(c))
	}
	PutU32(c)
}
