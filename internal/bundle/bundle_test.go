package bundle

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"forestbench/internal/forest"
)

// stumpFile is a one-tree container with two evaluation samples, one on each
// side of the root threshold.
func stumpFile() *File {
	return &File{
		Forest: forest.Bundle{
			TreeSizes:    []byte{1},
			FeatureIndex: []byte{0},
			Threshold:    []byte{10},
			LeftChild:    []byte{forest.LeafID(0)},
			RightChild:   []byte{forest.LeafID(1)},
			LeafValues:   []byte{5, 9},
		},
		Samples: SampleSet{
			FeatureLen: 1,
			Features:   [][]byte{{3}, {12}},
			Labels:     []byte{0, 0},
		},
	}
}

func TestEncodeDecode(t *testing.T) {
	t.Parallel()

	data, err := Encode(stumpFile())
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	f, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if len(f.Forest.TreeSizes) != 1 || f.Forest.TreeSizes[0] != 1 {
		t.Errorf("Unexpected tree sizes %v", f.Forest.TreeSizes)
	}
	if f.Forest.Threshold[0] != 10 {
		t.Errorf("Expected threshold 10, got %d", f.Forest.Threshold[0])
	}
	if f.Samples.Len() != 2 {
		t.Fatalf("Expected 2 samples, got %d", f.Samples.Len())
	}
	row, label := f.Samples.At(1)
	if row[0] != 12 || label != 0 {
		t.Errorf("Sample 1 = (%v, %d), want ([12], 0)", row, label)
	}
	if f.Checksum == "" {
		t.Error("Checksum not populated")
	}

	// The decoded forest must pass engine validation end to end.
	if _, err := forest.New(f.Forest); err != nil {
		t.Errorf("Decoded forest failed validation: %v", err)
	}
}

func TestDecode_BadContainer(t *testing.T) {
	t.Parallel()

	good, err := Encode(stumpFile())
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	tests := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"bad magic", append([]byte("XXXX"), good[4:]...)},
		{"bad version", mutateByte(good, 4, 99)},
		{"truncated", good[:len(good)-1]},
		{"trailing bytes", append(append([]byte{}, good...), 0)},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := Decode(tc.data); !errors.Is(err, ErrBadContainer) {
				t.Errorf("Expected ErrBadContainer, got %v", err)
			}
		})
	}
}

func mutateByte(data []byte, i int, v byte) []byte {
	out := append([]byte{}, data...)
	out[i] = v
	return out
}

func TestEncode_RaggedSamples(t *testing.T) {
	t.Parallel()

	f := stumpFile()
	f.Samples.Features[1] = []byte{1, 2} // FeatureLen is 1
	if _, err := Encode(f); !errors.Is(err, ErrBadContainer) {
		t.Errorf("Expected ErrBadContainer for ragged row, got %v", err)
	}

	f = stumpFile()
	f.Samples.Labels = f.Samples.Labels[:1]
	if _, err := Encode(f); !errors.Is(err, ErrBadContainer) {
		t.Errorf("Expected ErrBadContainer for label mismatch, got %v", err)
	}
}

func TestLoad(t *testing.T) {
	t.Parallel()

	data, err := Encode(stumpFile())
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	path := filepath.Join(t.TempDir(), "model.frst")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	f, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if f.Samples.Len() != 2 {
		t.Errorf("Expected 2 samples, got %d", f.Samples.Len())
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.frst")); err == nil {
		t.Error("Expected error for missing file, got nil")
	}
}

func TestFetch(t *testing.T) {
	t.Parallel()

	data, err := Encode(stumpFile())
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/model.frst":
			w.Write(data)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	f, err := Fetch(srv.URL+"/model.frst", 2*time.Second)
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if f.Samples.Len() != 2 {
		t.Errorf("Expected 2 samples, got %d", f.Samples.Len())
	}

	if _, err := Fetch(srv.URL+"/nope", 2*time.Second); err == nil {
		t.Error("Expected error for 404, got nil")
	}
}
