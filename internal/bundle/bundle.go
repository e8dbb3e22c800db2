// Package bundle reads and writes the flat-array model container produced by
// the external training step. The container carries the encoded forest arrays
// and an evaluation sample block in one immutable blob; nothing here interprets
// tree semantics — decoding stops at handing the raw arrays to the forest
// package.
package bundle

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"forestbench/internal/forest"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog/log"
)

// Container layout, little endian, sections in the order the encoder emits
// them: tree sizes, comparison feature indices, comparison thresholds, left
// children, right children, leaf values, sample feature rows, sample labels.
var magic = [4]byte{'F', 'R', 'S', 'T'}

const version = 1

var (
	// ErrBadContainer reports a container that cannot be decoded: wrong magic,
	// unsupported version, or truncated sections.
	ErrBadContainer = errors.New("bundle: bad container")
)

// File is a decoded container: the forest arrays plus the evaluation samples
// that shipped with them. Checksum is the hex SHA-256 of the serialized
// container, used to identify the model in run records.
type File struct {
	Forest   forest.Bundle
	Samples  SampleSet
	Checksum string
}

// SampleSet holds fixed-width evaluation samples: one byte-valued feature row
// and one ground-truth label per sample.
type SampleSet struct {
	FeatureLen int
	Features   [][]byte
	Labels     []byte
}

// Len returns the number of samples.
func (s SampleSet) Len() int { return len(s.Labels) }

// At returns the feature row and label of sample i.
func (s SampleSet) At(i int) ([]byte, byte) { return s.Features[i], s.Labels[i] }

type header struct {
	Magic       [4]byte
	Version     uint8
	_           [3]byte // padding, keeps sections 4-byte aligned
	TreeCount   uint32
	NodeCount   uint32
	LeafCount   uint32
	SampleCount uint32
	FeatureLen  uint32
}

// Decode parses a serialized container.
func Decode(data []byte) (*File, error) {
	r := bytes.NewReader(data)

	var h header
	if err := binary.Read(r, binary.LittleEndian, &h); err != nil {
		return nil, fmt.Errorf("%w: short header: %v", ErrBadContainer, err)
	}
	if h.Magic != magic {
		return nil, fmt.Errorf("%w: magic %q", ErrBadContainer, h.Magic[:])
	}
	if h.Version != version {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrBadContainer, h.Version)
	}

	f := &File{}
	var err error
	if f.Forest.TreeSizes, err = readSection(r, int(h.TreeCount), "tree sizes"); err != nil {
		return nil, err
	}
	for _, sec := range []struct {
		dst  *[]byte
		n    int
		name string
	}{
		{&f.Forest.FeatureIndex, int(h.NodeCount), "feature indices"},
		{&f.Forest.Threshold, int(h.NodeCount), "thresholds"},
		{&f.Forest.LeftChild, int(h.NodeCount), "left children"},
		{&f.Forest.RightChild, int(h.NodeCount), "right children"},
		{&f.Forest.LeafValues, int(h.LeafCount), "leaf values"},
	} {
		if *sec.dst, err = readSection(r, sec.n, sec.name); err != nil {
			return nil, err
		}
	}

	f.Samples.FeatureLen = int(h.FeatureLen)
	f.Samples.Features = make([][]byte, 0, h.SampleCount)
	for i := 0; i < int(h.SampleCount); i++ {
		row, err := readSection(r, int(h.FeatureLen), "sample features")
		if err != nil {
			return nil, err
		}
		f.Samples.Features = append(f.Samples.Features, row)
	}
	if f.Samples.Labels, err = readSection(r, int(h.SampleCount), "sample labels"); err != nil {
		return nil, err
	}
	if r.Len() != 0 {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrBadContainer, r.Len())
	}

	sum := sha256.Sum256(data)
	f.Checksum = hex.EncodeToString(sum[:])
	return f, nil
}

func readSection(r *bytes.Reader, n int, name string) ([]byte, error) {
	// Check before allocating so a corrupt header cannot demand gigabytes.
	if n > r.Len() {
		return nil, fmt.Errorf("%w: truncated %s section: want %d bytes, have %d",
			ErrBadContainer, name, n, r.Len())
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, fmt.Errorf("%w: truncated %s section: %v", ErrBadContainer, name, err)
	}
	return buf, nil
}

// Encode serializes a container. The sample set must be rectangular: every
// feature row exactly FeatureLen bytes and one label per row.
func Encode(f *File) ([]byte, error) {
	if len(f.Samples.Features) != len(f.Samples.Labels) {
		return nil, fmt.Errorf("%w: %d feature rows but %d labels",
			ErrBadContainer, len(f.Samples.Features), len(f.Samples.Labels))
	}
	nodeCount := len(f.Forest.FeatureIndex)
	for _, arr := range [][]byte{f.Forest.Threshold, f.Forest.LeftChild, f.Forest.RightChild} {
		if len(arr) != nodeCount {
			return nil, fmt.Errorf("%w: node arrays disagree on length", ErrBadContainer)
		}
	}

	h := header{
		Magic:       magic,
		Version:     version,
		TreeCount:   uint32(len(f.Forest.TreeSizes)),
		NodeCount:   uint32(nodeCount),
		LeafCount:   uint32(len(f.Forest.LeafValues)),
		SampleCount: uint32(len(f.Samples.Labels)),
		FeatureLen:  uint32(f.Samples.FeatureLen),
	}

	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.LittleEndian, h); err != nil {
		return nil, err
	}
	buf.Write(f.Forest.TreeSizes)
	buf.Write(f.Forest.FeatureIndex)
	buf.Write(f.Forest.Threshold)
	buf.Write(f.Forest.LeftChild)
	buf.Write(f.Forest.RightChild)
	buf.Write(f.Forest.LeafValues)
	for _, row := range f.Samples.Features {
		if len(row) != f.Samples.FeatureLen {
			return nil, fmt.Errorf("%w: feature row of %d bytes, want %d",
				ErrBadContainer, len(row), f.Samples.FeatureLen)
		}
		buf.Write(row)
	}
	buf.Write(f.Samples.Labels)

	return buf.Bytes(), nil
}

// Load reads and decodes a container from disk.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read bundle %s: %w", path, err)
	}
	f, err := Decode(data)
	if err != nil {
		return nil, fmt.Errorf("decode bundle %s: %w", path, err)
	}
	log.Info().
		Str("path", path).
		Str("checksum", f.Checksum[:12]).
		Int("trees", len(f.Forest.TreeSizes)).
		Int("samples", f.Samples.Len()).
		Msg("bundle loaded")
	return f, nil
}

// Fetch downloads and decodes a container from a model registry endpoint.
func Fetch(url string, timeout time.Duration) (*File, error) {
	r := resty.New()
	if timeout > 0 {
		r.SetTimeout(timeout)
	} else {
		r.SetTimeout(5 * time.Second) // default fallback
	}

	resp, err := r.R().Get(url)
	if err != nil {
		return nil, fmt.Errorf("fetch bundle %s: %w", url, err)
	}
	if resp.StatusCode() != 200 {
		return nil, fmt.Errorf("fetch bundle %s: status %d", url, resp.StatusCode())
	}

	f, err := Decode(resp.Body())
	if err != nil {
		return nil, fmt.Errorf("decode bundle %s: %w", url, err)
	}
	log.Info().
		Str("url", url).
		Str("checksum", f.Checksum[:12]).
		Int("trees", len(f.Forest.TreeSizes)).
		Int("samples", f.Samples.Len()).
		Msg("bundle fetched")
	return f, nil
}
