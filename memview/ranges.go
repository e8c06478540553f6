// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package memview // import "go.opentelemetry.io/ebpf-symbolizer/memview"

import (
	"errors"
	"fmt"
	"io"
	"slices"
)

// Range exposes length bytes of mem starting at address start. In the view's
// own address space the bytes appear at relOffset, so a read at relOffset
// returns the byte at start.
type Range struct {
	mem       io.ReaderAt
	start     uint64
	length    uint64
	relOffset uint64
}

var _ View = &Range{}

// NewRange creates a view over [start, start+length) of mem.
func NewRange(mem io.ReaderAt, start, length, relOffset uint64) (*Range, error) {
	if length == 0 {
		return nil, ErrEmptyRange
	}
	return &Range{
		mem:       mem,
		start:     start,
		length:    length,
		relOffset: relOffset,
	}, nil
}

func (r *Range) end() uint64 {
	return r.relOffset + r.length
}

func (r *Range) contains(off uint64) bool {
	return off >= r.relOffset && off < r.end()
}

// ReadAt implements io.ReaderAt.
func (r *Range) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 || !r.contains(uint64(off)) {
		return 0, io.EOF
	}
	readOff := uint64(off) - r.relOffset
	n := min(uint64(len(p)), r.length-readOff)
	read, err := r.mem.ReadAt(p[:n], int64(r.start+readOff))
	if err != nil {
		return read, err
	}
	if read < len(p) {
		return read, io.EOF
	}
	return read, nil
}

// Size returns the end of the range in the view's address space.
func (r *Range) Size() uint64 {
	return r.end()
}

// Close is a no-op, the underlying memory is not owned by the range.
func (r *Range) Close() error {
	return nil
}

// Ranges stitches several ranges into one view. A read is served by the
// range containing its offset and continues into the next range if that
// one starts exactly where the previous ended. Gaps read as io.EOF.
type Ranges struct {
	ranges []*Range
}

var _ View = &Ranges{}

// NewRanges creates a composite view. Ranges must not overlap.
func NewRanges(ranges ...*Range) (*Ranges, error) {
	if len(ranges) == 0 {
		return nil, ErrEmptyRange
	}
	sorted := slices.Clone(ranges)
	slices.SortFunc(sorted, func(a, b *Range) int {
		switch {
		case a.relOffset < b.relOffset:
			return -1
		case a.relOffset > b.relOffset:
			return 1
		}
		return 0
	})
	for i := 1; i < len(sorted); i++ {
		if sorted[i].relOffset < sorted[i-1].end() {
			return nil, fmt.Errorf("range at 0x%x overlaps range ending at 0x%x",
				sorted[i].relOffset, sorted[i-1].end())
		}
	}
	return &Ranges{ranges: sorted}, nil
}

// ReadAt implements io.ReaderAt.
func (rs *Ranges) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, io.EOF
	}
	idx, found := slices.BinarySearchFunc(rs.ranges, uint64(off),
		func(r *Range, target uint64) int {
			switch {
			case r.end() <= target:
				return -1
			case r.relOffset > target:
				return 1
			}
			return 0
		})
	if !found {
		return 0, io.EOF
	}

	total := 0
	for ; idx < len(rs.ranges); idx++ {
		r := rs.ranges[idx]
		n, err := r.ReadAt(p[total:], off+int64(total))
		total += n
		if err == nil {
			return total, nil
		}
		if !errors.Is(err, io.EOF) || uint64(off)+uint64(total) != r.end() {
			return total, err
		}
		if idx+1 < len(rs.ranges) && rs.ranges[idx+1].relOffset != r.end() {
			return total, io.EOF
		}
	}
	return total, io.EOF
}

// Size returns the end of the last range.
func (rs *Ranges) Size() uint64 {
	return rs.ranges[len(rs.ranges)-1].end()
}

// Close is a no-op, the underlying memory is not owned by the ranges.
func (rs *Ranges) Close() error {
	return nil
}
