package fthdr

import "encoding/binary"

// ReadCursor is a thin sequential reader over a borrowed byte buffer,
// carrying a running checksum, per spec.md §4.1. It never copies the
// backing buffer; callers own its lifetime.
type ReadCursor struct {
	buf   []byte
	off   int
	cksum checksumState
}

// NewReadCursor wraps buf for sequential typed reads starting at offset 0.
func NewReadCursor(buf []byte) *ReadCursor {
	return &ReadCursor{buf: buf, cksum: newChecksumState()}
}

// Len reports the number of unread bytes remaining.
func (r *ReadCursor) Len() int { return len(r.buf) - r.off }

// Offset reports the current read offset.
func (r *ReadCursor) Offset() int { return r.off }

// Size reports the total buffer size.
func (r *ReadCursor) Size() int { return len(r.buf) }

func (r *ReadCursor) take(n int) ([]byte, error) {
	if n < 0 || n > r.Len() {
		return nil, newDecodeErr(KindTruncated, "cursor read past end of buffer")
	}
	b := r.buf[r.off : r.off+n]
	r.off += n
	return b, nil
}

// Uint8 reads a single unsigned byte and folds it into the checksum.
func (r *ReadCursor) Uint8() (uint8, error) {
	b, err := r.take(1)
	if err != nil {
		return 0, err
	}
	r.cksum.write(b)
	return b[0], nil
}

// Uint32 reads a 4-byte unsigned integer in host byte order.
func (r *ReadCursor) Uint32() (uint32, error) {
	b, err := r.take(4)
	if err != nil {
		return 0, err
	}
	r.cksum.write(b)
	return binary.NativeEndian.Uint32(b), nil
}

// Uint64 reads an 8-byte unsigned integer in host byte order.
func (r *ReadCursor) Uint64() (uint64, error) {
	b, err := r.take(8)
	if err != nil {
		return 0, err
	}
	r.cksum.write(b)
	return binary.NativeEndian.Uint64(b), nil
}

// Int32 reads a 4-byte signed integer in host byte order.
func (r *ReadCursor) Int32() (int32, error) {
	v, err := r.Uint32()
	return int32(v), err
}

// Int64 reads an 8-byte signed integer in host byte order.
func (r *ReadCursor) Int64() (int64, error) {
	v, err := r.Uint64()
	return int64(v), err
}

// NetworkUint32 reads a 4-byte unsigned integer in network (big-endian)
// byte order, used for the version tag, build id, and prefix size fields
// that must be readable regardless of the host's disk-order convention.
func (r *ReadCursor) NetworkUint32() (uint32, error) {
	b, err := r.take(4)
	if err != nil {
		return 0, err
	}
	r.cksum.write(b)
	return binary.BigEndian.Uint32(b), nil
}

// Bytes reads a variable-length byte run prefixed by a 4-byte host-order
// length. The returned slice aliases the cursor's backing buffer; callers
// that need to retain it past the cursor's lifetime must copy it.
func (r *ReadCursor) Bytes() ([]byte, error) {
	n, err := r.Uint32()
	if err != nil {
		return nil, err
	}
	b, err := r.take(int(n))
	if err != nil {
		return nil, err
	}
	r.cksum.write(b)
	return b, nil
}

// Literal reads n raw bytes with no length prefix and no byte-order
// translation. Like every other read it folds the bytes into the checksum
// (so the byte-order probe and the magic are both checksummed), but it
// never reinterprets the bytes as an integer.
func (r *ReadCursor) Literal(n int) ([]byte, error) {
	b, err := r.take(n)
	if err != nil {
		return nil, err
	}
	r.cksum.write(b)
	return b, nil
}

// Checksum finalizes the running checksum over everything read so far.
func (r *ReadCursor) Checksum() uint32 { return r.cksum.finish() }

// WriteCursor is a write-side mirror of ReadCursor: it owns a
// pre-allocated, exactly-sized buffer and writes sequentially into it.
// Overrunning the buffer is a programming error, per spec.md §4.1, and
// panics rather than returning an error.
type WriteCursor struct {
	buf   []byte
	off   int
	cksum checksumState
}

// NewWriteCursor allocates a write cursor over a buffer of exactly size
// bytes.
func NewWriteCursor(size int) *WriteCursor {
	return &WriteCursor{buf: make([]byte, size), cksum: newChecksumState()}
}

// Offset reports the current write offset.
func (w *WriteCursor) Offset() int { return w.off }

// Size reports the total buffer size.
func (w *WriteCursor) Size() int { return len(w.buf) }

func (w *WriteCursor) place(n int) []byte {
	if w.off+n > len(w.buf) {
		panic("fthdr: write cursor overrun")
	}
	b := w.buf[w.off : w.off+n]
	w.off += n
	return b
}

// PutUint8 writes a single byte.
func (w *WriteCursor) PutUint8(v uint8) {
	b := w.place(1)
	b[0] = v
	w.cksum.write(b)
}

// PutUint32 writes a 4-byte unsigned integer in host byte order.
func (w *WriteCursor) PutUint32(v uint32) {
	b := w.place(4)
	binary.NativeEndian.PutUint32(b, v)
	w.cksum.write(b)
}

// PutUint64 writes an 8-byte unsigned integer in host byte order.
func (w *WriteCursor) PutUint64(v uint64) {
	b := w.place(8)
	binary.NativeEndian.PutUint64(b, v)
	w.cksum.write(b)
}

// PutInt32 writes a 4-byte signed integer in host byte order.
func (w *WriteCursor) PutInt32(v int32) { w.PutUint32(uint32(v)) }

// PutInt64 writes an 8-byte signed integer in host byte order.
func (w *WriteCursor) PutInt64(v int64) { w.PutUint64(uint64(v)) }

// PutNetworkUint32 writes a 4-byte unsigned integer in network byte order.
func (w *WriteCursor) PutNetworkUint32(v uint32) {
	b := w.place(4)
	binary.BigEndian.PutUint32(b, v)
	w.cksum.write(b)
}

// PutBytes writes a variable-length byte run prefixed by a 4-byte
// host-order length.
func (w *WriteCursor) PutBytes(v []byte) {
	w.PutUint32(uint32(len(v)))
	b := w.place(len(v))
	copy(b, v)
	w.cksum.write(b)
}

// PutLiteral writes raw bytes with no length prefix and no byte-order
// translation.
func (w *WriteCursor) PutLiteral(v []byte) {
	b := w.place(len(v))
	copy(b, v)
	w.cksum.write(b)
}

// Checksum finalizes the running checksum over everything written so far.
func (w *WriteCursor) Checksum() uint32 { return w.cksum.finish() }

// Bytes returns the fully written buffer. Callers must have written exactly
// Size() bytes first.
func (w *WriteCursor) Bytes() []byte { return w.buf }
