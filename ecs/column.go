package ecs

import "unsafe"

const columnInitialRows = 64

// column is one component's SoA storage inside an archetype: two fixed-stride
// byte buffers of identical length. Which one is current is decided by the
// owning archetype, never by the column.
type column struct {
	meta    ComponentMeta
	align   int
	buffers [2][]byte
}

func newColumn(meta ComponentMeta, align int) *column {
	if meta.Align > align {
		align = meta.Align
	}
	return &column{
		meta:  meta,
		align: align,
	}
}

// resize sets the logical row count of both buffers. New rows are zeroed.
func (c *column) resize(rows int) {
	n := rows * c.meta.Size
	for i := range c.buffers {
		c.buffers[i] = growAligned(c.buffers[i], n, c.meta.Size*columnInitialRows, c.align)
	}
}

func (c *column) row(buffer uint8, row int) []byte {
	size := c.meta.Size
	start := row * size
	return c.buffers[buffer][start : start+size : start+size]
}

func (c *column) writeRow(buffer uint8, row int, src []byte) {
	copy(c.row(buffer, row), src)
}

func (c *column) clearRow(row int) {
	for i := range c.buffers {
		clear(c.row(uint8(i), row))
	}
}

// copyForward makes the next buffer equal to the current one.
func (c *column) copyForward(current uint8) {
	copy(c.buffers[current^1], c.buffers[current])
}

// growAligned returns buf resized to n bytes, reallocating at the given
// alignment when the capacity is exhausted. Existing bytes are preserved.
func growAligned(buf []byte, n, minCap, align int) []byte {
	if n <= cap(buf) {
		old := len(buf)
		buf = buf[:n]
		if n > old {
			clear(buf[old:])
		}
		return buf
	}

	capacity := max(2*cap(buf), n, minCap)
	next := alignedAlloc(capacity, align)[:n]
	copy(next, buf)
	return next
}

// alignedAlloc allocates size bytes whose first byte sits on an align boundary.
// The Go allocator only promises word alignment for byte slices.
func alignedAlloc(size, align int) []byte {
	if size == 0 {
		return nil
	}
	raw := make([]byte, size+align-1)
	off := 0
	if rem := int(uintptr(unsafe.Pointer(&raw[0])) % uintptr(align)); rem != 0 {
		off = align - rem
	}
	return raw[off : off+size : off+size]
}
