package rtree

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"

	"github.com/sushant-115/gojospatial/core/indexing/spatial"
	"go.uber.org/zap"
)

var (
	// ErrCorrupted is returned when a persisted tree is truncated or
	// structurally invalid.
	ErrCorrupted = errors.New("rtree: corrupted tree stream")

	// ErrResourceExhausted is returned when a persisted tree asks for a
	// fanout larger than MaxFanout.
	ErrResourceExhausted = errors.New("rtree: node allocation refused")

	// ErrReservedPayload is returned when encoding a leaf payload equal to the
	// internal-entry marker.
	ErrReservedPayload = errors.New("rtree: payload collides with the internal entry marker")
)

// internalMarker takes the place of the payload for entries that point at a
// child node.
const internalMarker = math.MinInt64

// maxDecodeDepth bounds recursion on malformed input.
const maxDecodeDepth = 64

// decodePrealloc caps the entry capacity reserved for a decoded node before
// its entries have actually been read.
const decodePrealloc = 64

// Encode writes t to w. The layout, big-endian throughout, is:
//
//   - root envelope: 4 x float64 (xmin, ymin, xmax, ymax)
//   - fanout: int32
//   - root node
//
// where a node is an int32 entry count followed by its entries, each a
// 4 x float64 box and an int64. The int64 is the payload of a leaf entry, or
// math.MinInt64 followed by the encoded child node.
//
// Coordinates are stored as IEEE 754 float64, so a decoded tree holds
// exactly the envelopes that were encoded.
func Encode(w io.Writer, t *RTree[int64]) error {
	bw := bufio.NewWriter(w)
	if err := writeBox(bw, t.env); err != nil {
		return fmt.Errorf("failed to write root envelope: %w", err)
	}
	if err := binary.Write(bw, binary.BigEndian, int32(t.bigM)); err != nil {
		return fmt.Errorf("failed to write fanout: %w", err)
	}
	if err := encodeNode(bw, t, t.root); err != nil {
		return err
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("failed to flush tree stream: %w", err)
	}
	return nil
}

func encodeNode(w io.Writer, t *RTree[int64], id int) error {
	n := t.nodes[id]
	if err := binary.Write(w, binary.BigEndian, int32(len(n.entries))); err != nil {
		return fmt.Errorf("failed to write entry count of node %d: %w", id, err)
	}
	for i, e := range n.entries {
		if err := writeBox(w, e.box); err != nil {
			return fmt.Errorf("failed to write box of entry %d in node %d: %w", i, id, err)
		}
		if e.isLeafEntry() {
			if e.value == internalMarker {
				return fmt.Errorf("entry %d in node %d: %w", i, id, ErrReservedPayload)
			}
			if err := binary.Write(w, binary.BigEndian, e.value); err != nil {
				return fmt.Errorf("failed to write payload of entry %d in node %d: %w", i, id, err)
			}
			continue
		}
		if err := binary.Write(w, binary.BigEndian, int64(internalMarker)); err != nil {
			return fmt.Errorf("failed to write marker of entry %d in node %d: %w", i, id, err)
		}
		if err := encodeNode(w, t, e.child); err != nil {
			return err
		}
	}
	return nil
}

func writeBox(w io.Writer, b spatial.Envelope) error {
	return binary.Write(w, binary.BigEndian, b.Array())
}

// Decode reads a tree written by Encode. No tree is returned on error.
func Decode(r io.Reader, opts ...Option[int64]) (*RTree[int64], error) {
	br := bufio.NewReader(r)
	env, err := readBox(br)
	if err != nil {
		return nil, readError("root envelope", err)
	}
	var fanout int32
	if err := binary.Read(br, binary.BigEndian, &fanout); err != nil {
		return nil, readError("fanout", err)
	}
	if fanout > MaxFanout {
		return nil, fmt.Errorf("%w: fanout %d exceeds %d", ErrResourceExhausted, fanout, MaxFanout)
	}
	if fanout < MinFanout {
		return nil, fmt.Errorf("%w: fanout %d below %d", ErrCorrupted, fanout, MinFanout)
	}

	t := newTree(env, int(fanout), opts...)
	d := &decoder{r: br, t: t, leafDepth: -1}
	root, err := d.readNode(0)
	if err != nil {
		return nil, err
	}
	t.root = root
	t.size = d.entries
	return t, nil
}

type decoder struct {
	r         *bufio.Reader
	t         *RTree[int64]
	entries   int
	leafDepth int
}

func (d *decoder) readNode(depth int) (int, error) {
	if depth > maxDecodeDepth {
		return 0, fmt.Errorf("%w: nesting deeper than %d", ErrCorrupted, maxDecodeDepth)
	}
	var count int32
	if err := binary.Read(d.r, binary.BigEndian, &count); err != nil {
		return 0, readError("node entry count", err)
	}
	if count < 0 || int(count) > d.t.bigM {
		return 0, fmt.Errorf("%w: node holds %d entries, fanout is %d", ErrCorrupted, count, d.t.bigM)
	}
	if count == 0 && depth > 0 {
		return 0, fmt.Errorf("%w: empty node below the root", ErrCorrupted)
	}

	// The count is not trusted until the entries arrive, so the slice grows
	// by append past a small reservation.
	id := d.t.allocNodeCap(true, min(int(count), decodePrealloc))
	internal := 0
	for i := 0; i < int(count); i++ {
		box, err := readBox(d.r)
		if err != nil {
			return 0, readError("entry box", err)
		}
		var v int64
		if err := binary.Read(d.r, binary.BigEndian, &v); err != nil {
			return 0, readError("entry payload", err)
		}
		e := nodeEntry[int64]{box: box, value: v, child: noChild}
		if v == internalMarker {
			child, err := d.readNode(depth + 1)
			if err != nil {
				return 0, err
			}
			e = nodeEntry[int64]{box: box, child: child}
			internal++
		} else {
			d.entries++
		}
		d.t.nodes[id].entries = append(d.t.nodes[id].entries, e)
	}

	if internal != 0 && internal != int(count) {
		return 0, fmt.Errorf("%w: node mixes leaf and internal entries", ErrCorrupted)
	}
	if internal == 0 {
		if d.leafDepth == -1 {
			d.leafDepth = depth
		} else if d.leafDepth != depth {
			return 0, fmt.Errorf("%w: leaves at depths %d and %d", ErrCorrupted, d.leafDepth, depth)
		}
	}
	d.t.nodes[id].leaf = internal == 0
	return id, nil
}

func readBox(r io.Reader) (spatial.Envelope, error) {
	var box [4]float64
	if err := binary.Read(r, binary.BigEndian, &box); err != nil {
		return spatial.Envelope{}, err
	}
	return spatial.EnvelopeFromArray(box), nil
}

// readError classifies a read failure: a stream that ends early is
// corrupted, anything else is an I/O failure passed through.
func readError(what string, err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return fmt.Errorf("%w: truncated while reading %s: %w", ErrCorrupted, what, err)
	}
	return fmt.Errorf("failed to read %s: %w", what, err)
}

// WriteTreeToDisk encodes t into the file at path. The file is replaced
// atomically: the tree is written to a temporary file in the same directory
// which is renamed over path once synced.
func WriteTreeToDisk(path string, t *RTree[int64]) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file for %s: %w", path, err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op once renamed

	if err := Encode(tmp, t); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to encode tree to %s: %w", path, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync %s: %w", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", tmpName, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("failed to move tree into %s: %w", path, err)
	}
	t.logger.Info("rtree written to disk", zap.String("path", path), zap.Int("entries", t.size), zap.Int("fanout", t.bigM))
	return nil
}

// LoadFromDisk reads a tree written by WriteTreeToDisk.
func LoadFromDisk(path string, opts ...Option[int64]) (*RTree[int64], error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	t, err := Decode(f, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load tree from %s: %w", path, err)
	}
	t.logger.Info("rtree loaded from disk", zap.String("path", path), zap.Int("entries", t.size), zap.Int("fanout", t.bigM))
	return t, nil
}
