package fthdr

import (
	"encoding/binary"
	"io"

	"github.com/pkg/errors"
)

// descriptorTrailerSize is the trailing 4-byte checksum every descriptor
// carries on disk (spec.md §4.3).
const descriptorTrailerSize = 4

// LoadDescriptor reads and validates the variable-length user descriptor
// blob at (offset, size) — both obtained from the block-translation table
// — per spec.md §4.3. For layoutVersion <= 13 a vestigial 4-byte version
// prefix precedes the payload and is skipped.
//
// size == 0 means no descriptor was ever written; LoadDescriptor returns a
// nil, nil result in that case.
func LoadDescriptor(fd io.ReaderAt, offset, size int64, layoutVersion uint32) ([]byte, error) {
	if size == 0 {
		return nil, nil
	}
	if size < descriptorTrailerSize {
		return nil, newDecodeErr(KindTruncated, "descriptor size smaller than its trailing checksum")
	}

	buf := make([]byte, size)
	n, err := fd.ReadAt(buf, offset)
	if err != nil && !(err == io.EOF && int64(n) == size) {
		return nil, wrapDecodeErr(KindIO, "reading descriptor", err)
	}
	if int64(n) != size {
		return nil, newDecodeErr(KindTruncated, "short read loading descriptor")
	}

	return DecodeDescriptor(buf, layoutVersion)
}

// DecodeDescriptor validates the trailing checksum on buf and returns the
// descriptor's payload, copied into an owned buffer (the input buf is
// treated as transient, per spec.md §4.3's "the read buffer is transient").
func DecodeDescriptor(buf []byte, layoutVersion uint32) ([]byte, error) {
	if len(buf) < descriptorTrailerSize {
		return nil, newDecodeErr(KindTruncated, "descriptor buffer smaller than its trailing checksum")
	}
	body, trailer := buf[:len(buf)-descriptorTrailerSize], buf[len(buf)-descriptorTrailerSize:]
	got := binary.NativeEndian.Uint32(trailer)
	want := checksumMemory(body)
	if got != want {
		return nil, newDecodeErr(KindXsumFail, "descriptor checksum mismatch")
	}

	rc := NewReadCursor(body)
	if layoutVersion <= layoutV13 {
		// Vestigial 4-byte version prefix, present on-disk only for
		// v<=13 and never written by EncodeDescriptor.
		if _, err := rc.Uint32(); err != nil {
			return nil, wrapDecodeErr(KindTruncated, "reading vestigial descriptor version prefix", err)
		}
	}

	payload, err := rc.Bytes()
	if err != nil {
		return nil, wrapDecodeErr(KindTruncated, "reading descriptor payload", err)
	}
	return append([]byte(nil), payload...), nil
}

// EncodeDescriptor serializes payload in the current on-disk form: a
// 4-byte length prefix, the payload, and a trailing 4-byte checksum.
// Descriptors are always written in the current format; the vestigial
// version-13 prefix is a decode-only artifact (spec.md §4.3).
func EncodeDescriptor(payload []byte) []byte {
	size := 4 + len(payload) + descriptorTrailerSize
	wc := NewWriteCursor(size)
	wc.PutBytes(payload)
	wc.PutUint32(wc.Checksum())
	return wc.Bytes()
}

// WriteDescriptor serializes and pwrites a descriptor to fd at offset, per
// spec.md §4.3/§9 supplement: descriptor writes are a standalone entry
// point, independent of the per-checkpoint header/translation write
// ordering in checkpoint.go (original_source confirms descriptors are
// written once at dictionary-open/alter time, not during checkpoint).
func WriteDescriptor(fd io.WriterAt, offset int64, payload []byte) error {
	buf := EncodeDescriptor(payload)
	n, err := fd.WriteAt(buf, offset)
	if err != nil {
		return errors.Wrap(err, "writing descriptor")
	}
	if n != len(buf) {
		return errors.Errorf("fthdr: short descriptor write: wrote %d of %d bytes", n, len(buf))
	}
	return nil
}

// MigrateDescriptor rewrites a version<=13 descriptor in the current
// format at the same offset it already occupies, clearing
// Header.NeedsDescriptorMigration. Per spec.md §9's redesign note this is
// a caller-driven post-open step rather than a side effect of Decode. The
// rewritten form has no vestigial version prefix, so it is 4 bytes shorter
// than the descriptor it replaces.
func MigrateDescriptor(fd io.WriterAt, h *Header, offset int64) error {
	if !h.NeedsDescriptorMigration {
		return nil
	}
	if err := WriteDescriptor(fd, offset, h.Descriptor); err != nil {
		return err
	}
	h.NeedsDescriptorMigration = false
	return nil
}
