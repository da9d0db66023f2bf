package fthdr

import (
	"bytes"
	"encoding/binary"
	"io"
	"log"

	"golang.org/x/sync/errgroup"
)

// slotOffset returns the disk offset of header slot i (0 or 1).
func slotOffset(i int) int64 {
	if i == 0 {
		return 0
	}
	return HeaderReserve
}

// slotClass classifies a single header slot before its full body is read,
// per spec.md §4.4 step 1.
type slotClass int

const (
	classCandidateOK slotClass = iota
	classNoHeader
	classTooOld
	classTooNew
	classBadSize
	classIOShort
)

// slotResult is everything the arbiter learns about one candidate slot.
type slotResult struct {
	class           slotClass
	buf             []byte // full slot body, once read and size-validated
	version         uint32
	checkpointCount uint64
	checkpointLSN   LSN
	err             error // non-nil iff the slot is not acceptable
}

// readSlotPrefix preads and classifies a slot's 20-byte prefix.
func readSlotPrefix(fd io.ReaderAt, offset int64) (slotClass, uint32, uint32, error) {
	prefix := make([]byte, headerPrefixSize)
	n, err := fd.ReadAt(prefix, offset)
	if err != nil && err != io.EOF {
		return classIOShort, 0, 0, wrapDecodeErr(KindIO, "reading header prefix", err)
	}
	if n == 0 {
		return classNoHeader, 0, 0, newDecodeErr(KindNoHeader, "empty slot")
	}
	if n < headerPrefixSize {
		return classIOShort, 0, 0, newDecodeErr(KindTruncated, "short read of header prefix")
	}
	if bytes.Equal(prefix[:8], make([]byte, 8)) {
		return classNoHeader, 0, 0, newDecodeErr(KindNoHeader, "all-zero prefix")
	}
	if !bytes.Equal(prefix[:8], headerMagic) {
		return classNoHeader, 0, 0, newDecodeErr(KindBadMagic, "prefix magic mismatch")
	}
	version := binary.BigEndian.Uint32(prefix[8:12])
	buildID := binary.BigEndian.Uint32(prefix[12:16])
	size := binary.BigEndian.Uint32(prefix[16:20])

	if version < FTLayoutMinSupportedVersion {
		return classTooOld, version, size, newDecodeErr(KindTooOld, "layout version predates FTLayoutMinSupportedVersion")
	}
	if version > FTLayoutVersion {
		return classTooNew, version, size, newDecodeErr(KindTooNew, "layout version postdates FTLayoutVersion")
	}
	minSize, err := serializeFTMinSize(version)
	if err != nil {
		return classBadSize, version, size, err
	}
	if int(size) < minSize || int(size) > HeaderReserve {
		return classBadSize, version, size, newDecodeErr(KindBadSize, "declared size outside [min_size(version), HeaderReserve]")
	}
	return classCandidateOK, version, size, nil
}

// readSlot reads and validates one full header slot. It never calls
// Decode: the arbiter only needs checkpoint_count/checkpoint_lsn to make
// its selection; the winning slot's buffer is handed to Decode afterward.
func readSlot(fd io.ReaderAt, offset int64) slotResult {
	class, version, size, err := readSlotPrefix(fd, offset)
	if class != classCandidateOK {
		return slotResult{class: class, version: version, err: err}
	}

	buf := make([]byte, size)
	n, rerr := fd.ReadAt(buf, offset)
	if rerr != nil && !(rerr == io.EOF && int64(n) == int64(size)) {
		return slotResult{class: classIOShort, version: version, err: wrapDecodeErr(KindIO, "reading header slot body", rerr)}
	}
	if n != int(size) {
		return slotResult{class: classIOShort, version: version, err: newDecodeErr(KindTruncated, "short read of header slot body")}
	}

	if err := validateChecksum(buf); err != nil {
		return slotResult{class: classCandidateOK, version: version, err: err}
	}

	rc := NewReadCursor(buf)
	if _, err := rc.Literal(headerPrefixSize); err != nil {
		return slotResult{class: classCandidateOK, version: version, err: wrapDecodeErr(KindTruncated, "re-reading prefix", err)}
	}
	probe, err := rc.Literal(8)
	if err != nil {
		return slotResult{class: classCandidateOK, version: version, err: wrapDecodeErr(KindTruncated, "reading byte-order probe", err)}
	}
	want := hostByteOrderProbe()
	if !bytes.Equal(probe, want[:]) {
		return slotResult{class: classCandidateOK, version: version, err: newDecodeErr(KindByteOrderMismatch, "byte-order probe mismatch")}
	}
	checkpointCount, err := rc.Uint64()
	if err != nil {
		return slotResult{class: classCandidateOK, version: version, err: wrapDecodeErr(KindTruncated, "reading checkpoint count", err)}
	}
	checkpointLSN, err := rc.Uint64()
	if err != nil {
		return slotResult{class: classCandidateOK, version: version, err: wrapDecodeErr(KindTruncated, "reading checkpoint lsn", err)}
	}

	return slotResult{
		class:           classCandidateOK,
		buf:             buf,
		version:         version,
		checkpointCount: checkpointCount,
		checkpointLSN:   LSN(checkpointLSN),
	}
}

// acceptable reports whether this slot can be used: read succeeded,
// checksum validated, and its checkpoint_lsn is within bound.
func (s slotResult) acceptable(maxAcceptableLSN LSN) bool {
	return s.err == nil && s.checkpointLSN <= maxAcceptableLSN
}

// Arbiter reads both on-disk header slots and selects the acceptable one
// with the highest checkpoint counter, subject to an upper bound on the
// checkpoint LSN (spec.md §4.4).
type Arbiter struct {
	// Logger receives the "reassuring diagnostic" emitted when exactly
	// one slot is acceptable and the other failed its checksum.
	// Defaults to log.Default() if nil.
	Logger *log.Logger
}

func (a *Arbiter) logger() *log.Logger {
	if a.Logger != nil {
		return a.Logger
	}
	return log.Default()
}

// Select reads slots 0 and 1 concurrently (mirroring the worker-pool
// errgroup pattern used elsewhere in the retrieval corpus for independent
// I/O-bound fan-out), classifies each, and returns the buffer of the
// winning slot. The caller feeds the returned buffer to Decode.
func (a *Arbiter) Select(fd io.ReaderAt, maxAcceptableLSN LSN) ([]byte, error) {
	var s0, s1 slotResult
	var g errgroup.Group
	g.Go(func() error {
		s0 = readSlot(fd, slotOffset(0))
		return nil
	})
	g.Go(func() error {
		s1 = readSlot(fd, slotOffset(1))
		return nil
	})
	_ = g.Wait() // readSlot never returns an error through the group; errors travel in slotResult

	h0ok := s0.acceptable(maxAcceptableLSN)
	h1ok := s1.acceptable(maxAcceptableLSN)

	if !h0ok && !h1ok {
		return nil, a.reduceErrors(s0, s1)
	}

	if h0ok && h1ok {
		// Both slots agreeing on checkpoint_count (and, since CreateFile
		// writes them identically, on every other field) is the expected
		// state for a freshly created file that has never been
		// checkpointed: favor slot 0 arbitrarily rather than treating
		// agreement as an invariant violation.
		if s0.checkpointCount == s1.checkpointCount {
			return s0.buf, nil
		}
		if s0.checkpointCount == s1.checkpointCount+1 {
			if s0.version < s1.version {
				panic("fthdr: arbiter invariant violated: chosen slot's version is older than the other's")
			}
			return s0.buf, nil
		}
		if s1.checkpointCount == s0.checkpointCount+1 {
			if s1.version < s0.version {
				panic("fthdr: arbiter invariant violated: chosen slot's version is older than the other's")
			}
			return s1.buf, nil
		}
		panic("fthdr: arbiter invariant violated: acceptable slots' checkpoint counters differ by more than 1")
	}

	if h0ok {
		if isXsumFail(s1.err) {
			a.logger().Printf("fthdr: header slot 1 checksum failed, but slot 0 is ok; proceeding with slot 0")
		}
		return s0.buf, nil
	}

	// h1ok
	if isXsumFail(s0.err) {
		a.logger().Printf("fthdr: header slot 0 checksum failed, but slot 1 is ok; proceeding with slot 1")
	}
	return s1.buf, nil
}

func isXsumFail(err error) bool {
	de, ok := err.(*DecodeError)
	return ok && de.Kind == KindXsumFail
}

// reduceErrors implements spec.md §4.4 step 3's priority order when
// neither slot is acceptable: TooNew > TooOld > NoHeader > arbitrary first
// error, with both-XsumFail surfaced distinctly so operators can tell
// corruption from absence.
func (a *Arbiter) reduceErrors(s0, s1 slotResult) error {
	// Forbidden state: both slots read cleanly (no structural error) but
	// both exceed the LSN bound. The surrounding checkpoint manager is
	// responsible for never presenting such a pair (spec.md §4.4 step 4,
	// §9 open question); we treat it as a programming-bug invariant
	// violation rather than inventing undefined recovery behavior.
	if s0.err == nil && s1.err == nil {
		panic("fthdr: arbiter invariant violated: both slots exceed max_acceptable_lsn")
	}

	if isXsumFail(s0.err) && isXsumFail(s1.err) {
		return newDecodeErr(KindXsumFail, "both header slots failed checksum validation")
	}
	if s0.class == classTooNew || s1.class == classTooNew {
		return newDecodeErr(KindTooNew, "at least one header slot is newer than this build supports")
	}
	if s0.class == classTooOld || s1.class == classTooOld {
		return newDecodeErr(KindTooOld, "at least one header slot is older than this build supports")
	}
	if s0.class == classNoHeader || s1.class == classNoHeader {
		return newDecodeErr(KindNoHeader, "neither header slot holds a usable header")
	}
	if s0.err != nil {
		return s0.err
	}
	return s1.err
}
