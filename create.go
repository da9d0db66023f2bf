package fthdr

import (
	"github.com/pkg/errors"
)

// CreateOpts configures a brand-new database file's initial header.
type CreateOpts struct {
	NodeSize         int32
	BasementNodeSize int32
	Flags            uint32
	BuildID          uint32
	// TimeOfCreation is a caller-supplied timestamp (Unix time or
	// whatever convention the surrounding engine uses for the 64-bit
	// timestamp fields); this package never calls time.Now() itself so
	// that creation is deterministic and testable.
	TimeOfCreation uint64
}

// CreateFile initializes a fresh database file's root metadata: a new
// in-memory Header at the current layout version (spec.md §3 "Lifecycle:
// a header is created in memory by a file-open path"), with both on-disk
// slots written identically at checkpoint_count 0 so the arbiter finds
// them in agreement on first open.
//
// serializeTranslation and descriptorOffset follow the same
// contract as CheckpointWriter.SerializeTranslation and LoadDescriptor:
// the block-translation table and descriptor builders are external
// collaborators this package only forwards offsets to (spec.md §1).
func CreateFile(fd FileHandle, opts CreateOpts, serializeTranslation TranslationSerializer, descriptorPayload []byte, descriptorOffset int64) (*Header, error) {
	h := NewHeader(opts.NodeSize, opts.BasementNodeSize, 0, opts.Flags, opts.BuildID, opts.TimeOfCreation)
	h.Descriptor = append([]byte(nil), descriptorPayload...)
	h.CmpDescriptor = append([]byte(nil), descriptorPayload...)

	if err := WriteDescriptor(fd, descriptorOffset, descriptorPayload); err != nil {
		return nil, errors.Wrap(err, "writing initial descriptor")
	}

	translationBuf, address, size, err := serializeTranslation(h)
	if err != nil {
		return nil, errors.Wrap(err, "serializing initial block-translation table")
	}
	h.TranslationAddress = address
	h.TranslationSize = size

	if _, err := fd.WriteAt(translationBuf, address); err != nil {
		return nil, errors.Wrap(err, "pwriting initial block-translation table")
	}
	if err := fd.Sync(); err != nil {
		return nil, errors.Wrap(err, "fsync before writing initial header slots")
	}

	headerBuf, err := Encode(h, opts.BuildID, address, size)
	if err != nil {
		return nil, errors.Wrap(err, "encoding initial header")
	}
	if _, err := fd.WriteAt(headerBuf, slotOffset(0)); err != nil {
		return nil, errors.Wrap(err, "writing header slot 0")
	}
	if _, err := fd.WriteAt(headerBuf, slotOffset(1)); err != nil {
		return nil, errors.Wrap(err, "writing header slot 1")
	}

	return h, nil
}
