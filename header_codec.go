package fthdr

import (
	"bytes"
	"encoding/binary"

	"github.com/pkg/errors"
)

// headerPrefixSize is the 20-byte prefix (magic+version+build_id+size)
// read before the full slot, per spec.md §6.
const headerPrefixSize = 8 + 4 + 4 + 4

// Decode normalizes a fully-read header slot buffer into the current
// in-memory layout, per spec.md §4.2. buf must be exactly the slot's
// declared size (the caller — typically the arbiter — is responsible for
// having read that many bytes and validated which candidate slot to use).
//
// The trailing checksum is validated first, over the whole buffer, before
// any field is interpreted: this lets a single flipped byte anywhere in
// the slot (including in the byte-order probe) surface as XsumFail, with
// the more specific ByteOrderMismatch only possible once the checksum
// itself has already been confirmed intact (spec.md testable property 4).
func Decode(buf []byte, ctx *DecodeContext) (*Header, error) {
	if len(buf) < headerPrefixSize+4 {
		return nil, newDecodeErr(KindTruncated, "buffer too small to hold a header slot")
	}
	if err := validateChecksum(buf); err != nil {
		return nil, err
	}

	rc := NewReadCursor(buf)

	magic, err := rc.Literal(8)
	if err != nil {
		return nil, wrapDecodeErr(KindTruncated, "reading magic", err)
	}
	if !bytes.Equal(magic, headerMagic) {
		return nil, newDecodeErr(KindBadMagic, "magic does not match \"tokudata\"")
	}

	version, err := rc.NetworkUint32()
	if err != nil {
		return nil, wrapDecodeErr(KindTruncated, "reading layout version", err)
	}
	buildID, err := rc.NetworkUint32()
	if err != nil {
		return nil, wrapDecodeErr(KindTruncated, "reading build id", err)
	}
	declaredSize, err := rc.NetworkUint32()
	if err != nil {
		return nil, wrapDecodeErr(KindTruncated, "reading declared size", err)
	}

	if version < FTLayoutMinSupportedVersion {
		return nil, newDecodeErr(KindTooOld, "layout version predates FTLayoutMinSupportedVersion")
	}
	if version > FTLayoutVersion {
		return nil, newDecodeErr(KindTooNew, "layout version postdates FTLayoutVersion")
	}
	if int(declaredSize) != len(buf) {
		return nil, newDecodeErr(KindBadSize, "declared size does not match slot length")
	}
	minSize, err := serializeFTMinSize(version)
	if err != nil {
		return nil, err
	}
	if int(declaredSize) < minSize || int(declaredSize) > HeaderReserve {
		return nil, newDecodeErr(KindBadSize, "declared size outside [min_size(version), HeaderReserve]")
	}

	probe, err := rc.Literal(8)
	if err != nil {
		return nil, wrapDecodeErr(KindTruncated, "reading byte-order probe", err)
	}
	want := hostByteOrderProbe()
	if !bytes.Equal(probe, want[:]) {
		return nil, newDecodeErr(KindByteOrderMismatch, "byte-order probe disagrees with host constant")
	}

	h := &Header{
		LayoutVersionReadFromDisk: version,
		LayoutVersion:             FTLayoutVersion,
		BuildID:                   buildID,
		Type:                      TypeCurrent,
	}

	checkpointCount, err := rc.Uint64()
	if err != nil {
		return nil, wrapDecodeErr(KindTruncated, "reading checkpoint count", err)
	}
	h.CheckpointCount = checkpointCount

	checkpointLSN, err := rc.Uint64()
	if err != nil {
		return nil, wrapDecodeErr(KindTruncated, "reading checkpoint lsn", err)
	}
	h.CheckpointLSN = LSN(checkpointLSN)

	nodesize, err := rc.Int32()
	if err != nil {
		return nil, wrapDecodeErr(KindTruncated, "reading nodesize", err)
	}
	h.NodeSize = nodesize

	translationAddress, err := rc.Int64()
	if err != nil {
		return nil, wrapDecodeErr(KindTruncated, "reading translation address", err)
	}
	translationSize, err := rc.Int64()
	if err != nil {
		return nil, wrapDecodeErr(KindTruncated, "reading translation size", err)
	}
	if translationAddress <= 0 || translationSize <= 0 {
		return nil, newDecodeErr(KindBadSize, "translation address/size must be positive")
	}
	h.TranslationAddress = translationAddress
	h.TranslationSize = translationSize

	var tt TranslationTable
	if ctx != nil && ctx.LoadTranslation != nil {
		tt, err = ctx.LoadTranslation(ctx.FD, translationAddress, translationSize)
		if err != nil {
			return nil, wrapDecodeErr(KindIO, "loading block-translation table", err)
		}
	}

	rootBlockNum, err := rc.Int64()
	if err != nil {
		return nil, wrapDecodeErr(KindTruncated, "reading root blocknum", err)
	}
	h.RootBlockNum = BlockNum(rootBlockNum)

	flags, err := rc.Uint32()
	if err != nil {
		return nil, wrapDecodeErr(KindTruncated, "reading flags", err)
	}
	if h.LayoutVersionReadFromDisk <= layoutV13 {
		flags &^= valcmpBuiltin13
	}
	h.Flags = flags

	layoutVersionOriginal, err := rc.Uint32()
	if err != nil {
		return nil, wrapDecodeErr(KindTruncated, "reading layout_version_original", err)
	}
	h.LayoutVersionOriginal = layoutVersionOriginal

	buildIDOriginal, err := rc.Uint32()
	if err != nil {
		return nil, wrapDecodeErr(KindTruncated, "reading build_id_original", err)
	}
	h.BuildIDOriginal = buildIDOriginal

	timeOfCreation, err := rc.Uint64()
	if err != nil {
		return nil, wrapDecodeErr(KindTruncated, "reading time_of_creation", err)
	}
	h.TimeOfCreation = timeOfCreation

	timeOfLastModification, err := rc.Uint64()
	if err != nil {
		return nil, wrapDecodeErr(KindTruncated, "reading time_of_last_modification", err)
	}
	h.TimeOfLastModification = timeOfLastModification

	if h.LayoutVersionReadFromDisk <= layoutV18 {
		if _, err := rc.Uint64(); err != nil { // num_blocks_to_upgrade_13, discarded
			return nil, wrapDecodeErr(KindTruncated, "reading num_blocks_to_upgrade_13", err)
		}
		if h.LayoutVersionReadFromDisk >= layoutV15 {
			if _, err := rc.Uint64(); err != nil { // num_blocks_to_upgrade_14, discarded
				return nil, wrapDecodeErr(KindTruncated, "reading num_blocks_to_upgrade_14", err)
			}
		}
	}

	if h.LayoutVersionReadFromDisk >= layoutV14 {
		rootXid, err := rc.Uint64()
		if err != nil {
			return nil, wrapDecodeErr(KindTruncated, "reading root_xid_that_created", err)
		}
		h.RootXIDThatCreated = TxnID(rootXid)
	} else {
		// Documented fake: before TXNIDs were stored, the root is
		// deemed created at the last checkpoint's LSN.
		h.RootXIDThatCreated = TxnID(h.CheckpointLSN)
	}

	if h.LayoutVersionReadFromDisk >= layoutV15 {
		basementNodeSize, err := rc.Int32()
		if err != nil {
			return nil, wrapDecodeErr(KindTruncated, "reading basementnodesize", err)
		}
		h.BasementNodeSize = basementNodeSize

		timeOfLastVerification, err := rc.Uint64()
		if err != nil {
			return nil, wrapDecodeErr(KindTruncated, "reading time_of_last_verification", err)
		}
		h.TimeOfLastVerification = timeOfLastVerification
	} else {
		h.BasementNodeSize = FTDefaultBasementNodeSize
		h.TimeOfLastVerification = 0
	}

	if h.LayoutVersionReadFromDisk >= layoutV18 {
		numRows, err := rc.Uint64()
		if err != nil {
			return nil, wrapDecodeErr(KindTruncated, "reading on_disk_stats.numrows", err)
		}
		numBytes, err := rc.Uint64()
		if err != nil {
			return nil, wrapDecodeErr(KindTruncated, "reading on_disk_stats.numbytes", err)
		}
		h.OnDiskStats = Stat64Info{NumRows: numRows, NumBytes: numBytes}

		optimizeBegin, err := rc.Uint64()
		if err != nil {
			return nil, wrapDecodeErr(KindTruncated, "reading time_of_last_optimize_begin", err)
		}
		h.TimeOfLastOptimizeBegin = optimizeBegin

		optimizeEnd, err := rc.Uint64()
		if err != nil {
			return nil, wrapDecodeErr(KindTruncated, "reading time_of_last_optimize_end", err)
		}
		h.TimeOfLastOptimizeEnd = optimizeEnd

		countInProgress, err := rc.Int32()
		if err != nil {
			return nil, wrapDecodeErr(KindTruncated, "reading count_of_optimize_in_progress", err)
		}
		h.CountOfOptimizeInProgress = countInProgress
		h.CountOfOptimizeInProgressReadFromDisk = countInProgress

		msnAtStart, err := rc.Uint64()
		if err != nil {
			return nil, wrapDecodeErr(KindTruncated, "reading msn_at_start_of_last_completed_optimize", err)
		}
		h.MSNAtStartOfLastCompletedOptimize = MSN(msnAtStart)
	} else {
		if ctx != nil && ctx.UpgradeStats != nil {
			stats, err := ctx.UpgradeStats(ctx.FD, h)
			if err != nil {
				return nil, wrapDecodeErr(KindIO, "upgrading subtree estimates to stat64info", err)
			}
			h.OnDiskStats = stats
		}
		h.TimeOfLastOptimizeBegin = 0
		h.TimeOfLastOptimizeEnd = 0
		h.CountOfOptimizeInProgress = 0
		h.CountOfOptimizeInProgressReadFromDisk = 0
		h.MSNAtStartOfLastCompletedOptimize = ZeroMSN
	}

	if h.LayoutVersionReadFromDisk >= layoutV19 {
		method, err := rc.Uint8()
		if err != nil {
			return nil, wrapDecodeErr(KindTruncated, "reading compression_method", err)
		}
		h.CompressionMethod = CompressionMethod(method)

		highestUnusedMSN, err := rc.Uint64()
		if err != nil {
			return nil, wrapDecodeErr(KindTruncated, "reading highest_unused_msn_for_upgrade", err)
		}
		h.HighestUnusedMSNForUpgrade = MSN(highestUnusedMSN)
	} else {
		if h.LayoutVersionReadFromDisk < layoutV18 {
			h.CompressionMethod = CompressionZlib
		} else {
			h.CompressionMethod = CompressionQuicklz
		}
		h.HighestUnusedMSNForUpgrade = MinMSN - 1
	}

	if _, err := rc.Uint32(); err != nil { // trailing checksum, already validated above
		return nil, wrapDecodeErr(KindTruncated, "reading trailing checksum", err)
	}
	if rc.Len() != 0 {
		return nil, newDecodeErr(KindTrailingBytes, "cursor not exhausted after decode")
	}

	if tt != nil {
		descOffset, descSize := tt.DescriptorLocation()
		desc, err := LoadDescriptor(ctx.FD, descOffset, descSize, h.LayoutVersionReadFromDisk)
		if err != nil {
			return nil, errors.Wrap(err, "loading descriptor")
		}
		h.Descriptor = desc
		h.CmpDescriptor = append([]byte(nil), desc...)
	}

	if h.LayoutVersionReadFromDisk <= layoutV13 {
		h.NeedsDescriptorMigration = true
	}

	return h, nil
}

// validateChecksum checks the trailing 4-byte checksum against the rest of
// buf, per spec.md §4.1/§7.
func validateChecksum(buf []byte) error {
	if len(buf) < 4 {
		return newDecodeErr(KindTruncated, "buffer too small to hold a checksum")
	}
	body, trailer := buf[:len(buf)-4], buf[len(buf)-4:]
	got := binary.NativeEndian.Uint32(trailer)
	want := checksumMemory(body)
	if got != want {
		return newDecodeErr(KindXsumFail, "header checksum mismatch")
	}
	return nil
}

// Encode serializes h at the current layout version (FTLayoutVersion),
// embedding the translation table location the caller obtained after
// serializing the translation table itself (spec.md §4.2 "Encoding").
// buildID is the running engine's own build id, written verbatim into the
// persisted build_id field; it is a caller-supplied value rather than a
// package-level constant so this codec carries no global mutable state
// (spec.md §9).
func Encode(h *Header, buildID uint32, translationAddress, translationSize int64) ([]byte, error) {
	size, err := serializeFTMinSize(FTLayoutVersion)
	if err != nil {
		return nil, err
	}
	wc := NewWriteCursor(size)

	wc.PutLiteral(headerMagic)
	wc.PutNetworkUint32(FTLayoutVersion)
	wc.PutNetworkUint32(buildID)
	wc.PutNetworkUint32(uint32(size))
	probe := hostByteOrderProbe()
	wc.PutLiteral(probe[:])
	wc.PutUint64(h.CheckpointCount)
	wc.PutUint64(uint64(h.CheckpointLSN))
	wc.PutInt32(h.NodeSize)
	wc.PutInt64(translationAddress)
	wc.PutInt64(translationSize)
	wc.PutInt64(int64(h.RootBlockNum))
	wc.PutUint32(h.Flags)
	wc.PutUint32(h.LayoutVersionOriginal)
	wc.PutUint32(h.BuildIDOriginal)
	wc.PutUint64(h.TimeOfCreation)
	wc.PutUint64(h.TimeOfLastModification)
	wc.PutUint64(uint64(h.RootXIDThatCreated))
	wc.PutInt32(h.BasementNodeSize)
	wc.PutUint64(h.TimeOfLastVerification)
	wc.PutUint64(h.OnDiskStats.NumRows)
	wc.PutUint64(h.OnDiskStats.NumBytes)
	wc.PutUint64(h.TimeOfLastOptimizeBegin)
	wc.PutUint64(h.TimeOfLastOptimizeEnd)
	wc.PutInt32(h.CountOfOptimizeInProgress)
	wc.PutUint64(uint64(h.MSNAtStartOfLastCompletedOptimize))
	wc.PutUint8(uint8(h.CompressionMethod))
	wc.PutUint64(uint64(h.HighestUnusedMSNForUpgrade))

	checksum := wc.Checksum()
	wc.PutUint32(checksum)

	if wc.Offset() != size {
		return nil, errors.Errorf("fthdr: encoded %d bytes, expected %d", wc.Offset(), size)
	}
	return wc.Bytes(), nil
}
