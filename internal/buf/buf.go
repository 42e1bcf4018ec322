// Package buf provides a bounded, non-copying view over a frame's byte
// buffer. Parsers record offset+length windows into the frame rather than
// copying payload, per spec.md §3 ("The core never copies payload; it
// parses headers into a descriptor and records mutations").
package buf

import (
	"github.com/luqmana/opte/internal/capsurf"
	"github.com/luqmana/opte/internal/opteerr"
)

// View is a read/write window into a frame's underlying byte slice. A
// bare View (from NewView) never reallocates; growing it (push) or
// shrinking it (pop) requires a View obtained from a Frame via
// Frame.View, which backs PushFront/PopFront with real capacity.
type View struct {
	data  []byte
	frame *Frame // nil for a bare NewView; set when obtained via Frame.View
}

// NewView wraps an existing byte slice. The slice is borrowed, not copied.
// The returned View has no backing Frame, so PushFront/PopFront fail.
func NewView(data []byte) *View {
	return &View{data: data}
}

// Len returns the total length of the underlying buffer.
func (v *View) Len() int { return len(v.data) }

// Slice returns a bounded sub-slice [off:off+n) without copying. Returns
// opteerr.KindParse (TooShort semantics) if the window exceeds the buffer.
func (v *View) Slice(off, n int) ([]byte, error) {
	if off < 0 || n < 0 || off+n > len(v.data) {
		return nil, opteerr.Errorf(opteerr.KindParse, "window [%d:%d) exceeds buffer of length %d", off, off+n, len(v.data))
	}
	return v.data[off : off+n], nil
}

// SetBytes overwrites the window [off:off+len(val)) with val, without
// resizing the buffer. Used for in-place field edits (HT "set"/"modify").
func (v *View) SetBytes(off int, val []byte) error {
	if off < 0 || off+len(val) > len(v.data) {
		return opteerr.Errorf(opteerr.KindParse, "write window [%d:%d) exceeds buffer of length %d", off, off+len(val), len(v.data))
	}
	copy(v.data[off:off+len(val)], val)
	return nil
}

// Bytes returns the full underlying buffer. Callers must not retain it
// past the frame's lifetime.
func (v *View) Bytes() []byte { return v.data }

// PushFront grows the view's backing Frame by inserting n bytes at offset
// off, then refreshes the view over the grown buffer. Fails with
// opteerr.KindAllocation if v was not obtained from a Frame (a bare
// NewView has no spare capacity to grow into) or if the Frame lacks the
// headroom.
func (v *View) PushFront(off, n int) error {
	if v.frame == nil {
		return opteerr.Errorf(opteerr.KindAllocation, "push front requires a frame-backed view (see Frame.View)")
	}
	if err := v.frame.PushFront(off, n); err != nil {
		return err
	}
	v.data = v.frame.buf
	return nil
}

// PopFront shrinks the view's backing Frame by removing n bytes at offset
// off, then refreshes the view over the shrunk buffer. Fails the same way
// PushFront does when v has no backing Frame.
func (v *View) PopFront(off, n int) error {
	if v.frame == nil {
		return opteerr.Errorf(opteerr.KindAllocation, "pop front requires a frame-backed view (see Frame.View)")
	}
	if err := v.frame.PopFront(off, n); err != nil {
		return err
	}
	v.data = v.frame.buf
	return nil
}

// Frame is a mutable L2 frame buffer. It supports bounded growth (push) and
// shrink (pop) operations used by Header Transformations, backed by a
// pre-sized backing array so push never needs to allocate beyond cap,
// matching spec.md §5 ("All per-packet work uses pre-sized buffers").
type Frame struct {
	buf []byte // active region
	cap []byte // pre-sized backing array
}

// NewFrame wraps data with headroom capacity maxLen, used for pushed
// headers (e.g. an encapsulation push). If maxLen < len(data) it is raised
// to len(data). The backing array is obtained from alloc, the capability
// surface's Allocator (spec.md §9's dual kernel/hosted capability surface,
// internal/capsurf) rather than a direct make, so a kernel-context build's
// fixed arena governs this allocation the same as the rest of the
// datapath; alloc == nil falls back to a plain make for callers (tests,
// mostly) that don't carry an Env.
func NewFrame(data []byte, maxLen int, alloc capsurf.Allocator) (*Frame, error) {
	if maxLen < len(data) {
		maxLen = len(data)
	}
	var backing []byte
	if alloc == nil {
		backing = make([]byte, maxLen)
	} else {
		b, err := alloc.Alloc(maxLen)
		if err != nil {
			return nil, opteerr.Errorf(opteerr.KindAllocation, "frame allocation failed: %v", err)
		}
		backing = b
	}
	copy(backing, data)
	return &Frame{buf: backing[:len(data)], cap: backing}, nil
}

// Bytes returns the active frame contents.
func (f *Frame) Bytes() []byte { return f.buf }

// View returns a View over the frame's current active region, linked back
// to f so PushFront/PopFront on the returned View resize f in place.
func (f *Frame) View() *View { return &View{data: f.buf, frame: f} }

// PushFront grows the frame by inserting n bytes at offset off (shifting
// the remainder right) without allocating, if there is enough spare
// capacity; otherwise returns opteerr.KindAllocation.
func (f *Frame) PushFront(off, n int) error {
	newLen := len(f.buf) + n
	if newLen > cap(f.cap) {
		return opteerr.Errorf(opteerr.KindAllocation, "push of %d bytes exceeds pre-sized frame capacity %d", n, cap(f.cap))
	}
	f.buf = f.cap[:newLen]
	copy(f.buf[off+n:], f.buf[off:newLen-n])
	return nil
}

// PopFront shrinks the frame by removing n bytes at offset off (shifting
// the remainder left).
func (f *Frame) PopFront(off, n int) error {
	if off+n > len(f.buf) {
		return opteerr.Errorf(opteerr.KindParse, "pop window [%d:%d) exceeds frame length %d", off, off+n, len(f.buf))
	}
	copy(f.buf[off:], f.buf[off+n:])
	f.buf = f.buf[:len(f.buf)-n]
	return nil
}
