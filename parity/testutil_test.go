package parity

import "io"

// memImage is an in-memory Image used by build/verify/repair/rescue tests so
// geometry and corruption scenarios don't need real temp files.
type memImage struct {
	buf []byte
}

func newMemImage(size int64) *memImage {
	return &memImage{buf: make([]byte, size)}
}

func (m *memImage) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 || off > int64(len(m.buf)) {
		return 0, io.EOF
	}
	n := copy(p, m.buf[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (m *memImage) WriteAt(p []byte, off int64) (int, error) {
	end := off + int64(len(p))
	if end > int64(len(m.buf)) {
		grown := make([]byte, end)
		copy(grown, m.buf)
		m.buf = grown
	}
	n := copy(m.buf[off:], p)
	return n, nil
}

func (m *memImage) Truncate(size int64) error {
	if size <= int64(len(m.buf)) {
		m.buf = m.buf[:size]
		return nil
	}
	grown := make([]byte, size)
	copy(grown, m.buf)
	m.buf = grown
	return nil
}

func (m *memImage) size() int64 { return int64(len(m.buf)) }

// fillPattern deterministically fills b with a repeating but non-trivial
// byte pattern, so folded stripes are not all-zero by coincidence.
func fillPattern(b []byte, seed byte) {
	for i := range b {
		b[i] = seed + byte(i*7+3)
	}
}
