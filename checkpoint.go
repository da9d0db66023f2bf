package fthdr

import (
	"io"
	"sync"

	"github.com/pkg/errors"
)

// FileHandle is the subset of *os.File the checkpoint writer needs:
// offset writes and a durability barrier. Both the page cache's fsync
// plumbing and the block-translation table builder are external
// collaborators (spec.md §1); this package only calls through this seam.
type FileHandle interface {
	io.WriterAt
	Sync() error
}

// TranslationSerializer serializes the block-translation table for h to an
// owned buffer and reports the (address, size) it should be written at.
// This is the block-translation table builder, an external collaborator
// out of scope for this package (spec.md §1) — the checkpoint writer only
// forwards its result into the header.
type TranslationSerializer func(h *Header) (buf []byte, address, size int64, err error)

// CacheFileSyncer, if non-nil, is called in place of FileHandle.Sync when
// the file has an associated cachefile that also needs its unrelated
// dirty pages flushed (spec.md §4.5 step 5: "cachefile_fsync ... also
// flushes unrelated dirty pages coordinated with this file").
type CacheFileSyncer func() error

// CheckpointWriter orders the durable writes of a single checkpoint:
// translation table, then fsync, then header slot (spec.md §4.5). It
// alternates between the two header slots across successive checkpoints
// by checkpoint-count parity, so a crash mid-write always leaves the
// previous good header intact.
type CheckpointWriter struct {
	// PwriteMu is the process-wide pwrite lock serializing all extending
	// pwrites across all files in the process (spec.md §5). Checkpoint
	// holds it from the translation-table pwrite through the header-slot
	// pwrite.
	PwriteMu *sync.Mutex

	// BuildID is this running engine's own build id, written into the
	// header's build_id field on every checkpoint (see Encode).
	BuildID uint32

	// SerializeTranslation is the block-translation table collaborator.
	SerializeTranslation TranslationSerializer

	// CacheFileSync, if set, replaces the raw fd.Sync() durability
	// barrier with a cachefile-aware fsync.
	CacheFileSync CacheFileSyncer
}

// Checkpoint serializes and durably writes h. The header lock guarding
// field snapshotting is the caller's responsibility (spec.md §4.5
// preconditions: "the header lock is held by the caller during field
// snapshotting"); by the time Checkpoint is called, h must already be the
// CHECKPOINT_INPROGRESS clone obtained via Header.Clone, safe to read
// without further synchronization.
func (cw *CheckpointWriter) Checkpoint(fd FileHandle, h *Header) error {
	if h.Poisoned() {
		return errors.Wrap(h.Panic, "fthdr: checkpoint short-circuited on poisoned header")
	}
	if h.Type != TypeCheckpointInProgress {
		return errors.New("fthdr: Checkpoint called on a header that is not CHECKPOINT_INPROGRESS")
	}

	translationBuf, address, size, err := cw.SerializeTranslation(h)
	if err != nil {
		poisonErr := errors.Wrap(err, "serializing block-translation table")
		h.Panic = poisonErr
		return poisonErr
	}

	headerBuf, err := Encode(h, cw.BuildID, address, size)
	if err != nil {
		poisonErr := errors.Wrap(err, "encoding header")
		h.Panic = poisonErr
		return poisonErr
	}

	cw.PwriteMu.Lock()
	defer cw.PwriteMu.Unlock()

	if _, err := fd.WriteAt(translationBuf, address); err != nil {
		poisonErr := errors.Wrap(err, "pwriting block-translation table")
		h.Panic = poisonErr
		return poisonErr
	}

	// The durability barrier: everything but the header must be durable
	// before the header write starts, or a crash could leave the header
	// pointing at data not yet on disk.
	var syncErr error
	if cw.CacheFileSync != nil {
		syncErr = cw.CacheFileSync()
	} else {
		syncErr = fd.Sync()
	}
	if syncErr != nil {
		poisonErr := errors.Wrap(syncErr, "fsync before header write")
		h.Panic = poisonErr
		return poisonErr
	}

	offset := checkpointSlotOffset(h.CheckpointCount)
	if _, err := fd.WriteAt(headerBuf, offset); err != nil {
		poisonErr := errors.Wrap(err, "pwriting header slot")
		h.Panic = poisonErr
		return poisonErr
	}

	return nil
}

// checkpointSlotOffset chooses which of the two header slots a checkpoint
// with the given checkpoint_count writes to: odd counts go to slot 0, even
// counts go to slot 1 (spec.md §4.5 step 6; original_source/ft/
// ft-serialize.c's `main_offset = (h->checkpoint_count & 0x1) ? 0 :
// BLOCK_ALLOCATOR_HEADER_RESERVE` is the ground truth the prose formula
// contradicts), so the alternation preserves the previous good header
// across a mid-write crash.
func checkpointSlotOffset(checkpointCount uint64) int64 {
	if checkpointCount&1 == 0 {
		return slotOffset(1)
	}
	return slotOffset(0)
}
