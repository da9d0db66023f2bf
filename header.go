// Package fthdr implements the persistent header codec of a
// write-optimized, B-tree-like storage engine: reading and writing the root
// metadata block of a database file, including forward/backward version
// migration, checksum validation, and redundant double-header crash safety.
package fthdr

import "encoding/binary"

// Layout version bounds (spec.md §6).
const (
	// FTLayoutMinSupportedVersion is the oldest on-disk layout this
	// build can read.
	FTLayoutMinSupportedVersion = 12
	// FTLayoutVersion is the current layout version; every successful
	// load normalizes Header.LayoutVersion to this value.
	FTLayoutVersion = 20
)

// Named historical versions, used by the version-dispatch table in
// versions.go.
const (
	layoutV12 = 12
	layoutV13 = 13
	layoutV14 = 14
	layoutV15 = 15
	layoutV16 = 16
	layoutV17 = 17
	layoutV18 = 18
	layoutV19 = 19
	layoutV20 = 20
)

// HeaderReserve is the fixed, power-of-two byte reservation for a single
// header slot; it also doubles as the disk offset of slot 1.
const HeaderReserve = 1 << 16 // 64 KiB, comfortably above serialize_ft_min_size(FTLayoutVersion)

// FTDefaultBasementNodeSize is the documented default used to backfill
// Header.BasementNodeSize when loading a pre-15 layout (spec.md §4.2 step
// 10).
const FTDefaultBasementNodeSize = 128 * 1024

// headerMagic is the literal 8-byte magic every slot must begin with.
var headerMagic = []byte("tokudata")

// valcmpBuiltin13 is the deprecated flag bit masked off for
// layout_version_read_from_disk <= 13 (spec.md §4.2 step 6).
const valcmpBuiltin13 = 1 << 0

// ZeroMSN is the message-sequence-number sentinel for "none issued yet".
const ZeroMSN MSN = 0

// MinMSN is the smallest message-sequence-number the tree's message-passing
// mechanism will ever issue; highest_unused_msn_for_upgrade defaults to one
// less than this for pre-19 layouts.
const MinMSN MSN = 1

// LSN is a monotonic 64-bit log-sequence-number.
type LSN uint64

// MSN is a 64-bit message-sequence-number internal to the tree's
// message-passing mechanism.
type MSN uint64

// TxnID is a 64-bit transaction id.
type TxnID uint64

// BlockNum is a logical block id within the block-translation table.
type BlockNum int64

// CompressionMethod tags which compressor produced the tree's data blocks.
// The header only stores the tag; compressing/decompressing blocks is the
// B-tree node format's job and is out of scope for this package (spec.md
// §1).
type CompressionMethod uint8

const (
	CompressionNone CompressionMethod = iota
	CompressionZlib
	CompressionQuicklz
	CompressionLzma
	CompressionZlibWithoutCheck
)

// HeaderType distinguishes the live header from a checkpoint-in-progress
// clone. It is never persisted (spec.md §3).
type HeaderType int

const (
	// TypeCurrent is the live, mutable in-memory header.
	TypeCurrent HeaderType = iota
	// TypeCheckpointInProgress is a snapshot clone being serialized by
	// the checkpoint writer; see checkpoint.go.
	TypeCheckpointInProgress
)

// Stat64Info carries the on-disk row/byte counters introduced in layout 18.
type Stat64Info struct {
	NumRows  uint64
	NumBytes uint64
}

// Header is the normalized, current-layout in-memory representation of the
// root metadata block (spec.md §3). A Header decoded from any supported
// on-disk version is migrated up to this shape; LayoutVersionReadFromDisk
// records what was actually found on disk.
type Header struct {
	// LayoutVersionReadFromDisk is the version tag actually found on
	// disk. LayoutVersion always equals FTLayoutVersion after a
	// successful Decode.
	LayoutVersionReadFromDisk uint32
	LayoutVersion             uint32
	// LayoutVersionOriginal is the version at which this file was first
	// created, independent of how many times it's since been upgraded.
	LayoutVersionOriginal uint32
	BuildID               uint32
	BuildIDOriginal       uint32

	CheckpointCount uint64
	CheckpointLSN   LSN

	NodeSize         int32
	BasementNodeSize int32

	TranslationAddress int64
	TranslationSize    int64

	RootBlockNum BlockNum
	Flags        uint32

	TimeOfCreation         uint64
	TimeOfLastModification uint64
	TimeOfLastVerification uint64
	RootXIDThatCreated     TxnID

	OnDiskStats Stat64Info

	TimeOfLastOptimizeBegin               uint64
	TimeOfLastOptimizeEnd                 uint64
	CountOfOptimizeInProgress             int32
	CountOfOptimizeInProgressReadFromDisk int32
	MSNAtStartOfLastCompletedOptimize     MSN

	CompressionMethod          CompressionMethod
	HighestUnusedMSNForUpgrade MSN

	// Descriptor and CmpDescriptor are loaded separately from the
	// header proper (spec.md §4.3); CmpDescriptor is a duplicate copy
	// consulted by comparators (original_source #4541).
	Descriptor    []byte
	CmpDescriptor []byte

	// NeedsDescriptorMigration is set by Decode when the on-disk
	// version was <= 13: such descriptors carry a vestigial 4-byte
	// version prefix that the current encoder never writes. Per
	// spec.md §9's open question, the rewrite is deferred to the
	// caller via MigrateDescriptor rather than performed inline during
	// Decode.
	NeedsDescriptorMigration bool

	// Transient, never persisted (spec.md §3).
	Dirty bool
	Panic error
	Type  HeaderType
}

// Poisoned reports whether a prior serialization failure sealed this
// header; every checkpoint entry point must short-circuit on a poisoned
// header (spec.md §9).
func (h *Header) Poisoned() bool { return h.Panic != nil }

// Clone returns a deep copy of h, suitable for the checkpoint machinery's
// "first clone into a CHECKPOINT_INPROGRESS instance" step (spec.md §3
// lifecycle). Transient fields are copied as-is; Descriptor/CmpDescriptor
// are duplicated so the clone cannot alias the live header's buffers.
func (h *Header) Clone() *Header {
	c := *h
	c.Descriptor = append([]byte(nil), h.Descriptor...)
	c.CmpDescriptor = append([]byte(nil), h.CmpDescriptor...)
	return &c
}

// NewHeader constructs a freshly-created, current-layout header (the
// file-create path, as opposed to the file-open/decode path). Per
// original_source/ft-serialize.c, a newly created file's "original"
// provenance fields are seeded from its own creation-time values, not left
// zero.
func NewHeader(nodeSize, basementNodeSize int32, rootBlockNum BlockNum, flags uint32, buildID uint32, now uint64) *Header {
	return &Header{
		LayoutVersionReadFromDisk: FTLayoutVersion,
		LayoutVersion:             FTLayoutVersion,
		LayoutVersionOriginal:     FTLayoutVersion,
		BuildID:                   buildID,
		BuildIDOriginal:           buildID,
		CheckpointCount:           0,
		NodeSize:                  nodeSize,
		BasementNodeSize:          basementNodeSize,
		RootBlockNum:              rootBlockNum,
		Flags:                     flags,
		TimeOfCreation:            now,
		TimeOfLastModification:    now,
		RootXIDThatCreated:        0,
		CompressionMethod:         CompressionQuicklz,
		HighestUnusedMSNForUpgrade: MinMSN - 1,
		Type: TypeCurrent,
	}
}

// byteOrderProbeConstant is the literal host-order value written as the
// 8-byte byte-order probe and compared bit-for-bit (never byte-swapped) on
// read, per spec.md §4.1/§6.
const byteOrderProbeConstant uint64 = 0x0102030405060708

// hostByteOrderProbe returns the 8 literal bytes this host would write for
// the byte-order probe field.
func hostByteOrderProbe() [8]byte {
	var b [8]byte
	binary.NativeEndian.PutUint64(b[:], byteOrderProbeConstant)
	return b
}
