package fthdr

import "io"

// TranslationTable is the external collaborator that owns the
// block-translation table (out of scope per spec.md §1: "the
// block-translation table builder ... consumed as an opaque byte run at a
// disk offset the header records"). The header codec never inspects its
// contents beyond asking it where the descriptor blob lives.
type TranslationTable interface {
	// DescriptorLocation returns the (offset, size) of the descriptor
	// blob this translation table records, for use by LoadDescriptor.
	DescriptorLocation() (offset int64, size int64)
}

// TranslationLoader loads a block-translation table from the byte run the
// header records at (address, size). The header codec only forwards these
// offsets (spec.md §4.2 step 5); it never parses translation table bytes
// itself.
type TranslationLoader func(fd io.ReaderAt, address, size int64) (TranslationTable, error)

// StatsUpgrader synthesizes Stat64Info for a pre-18 layout by walking the
// tree (spec.md §4.2 step 11, upgrade_subtree_estimates_to_stat64info). It
// lives outside this package; Decode only calls the seam.
type StatsUpgrader func(fd io.ReaderAt, h *Header) (Stat64Info, error)

// DecodeContext bundles the external collaborators a Decode call needs,
// replacing the global mutable state (errno, module-level defaults) the
// original implementation relied on with an explicit value the caller
// constructs once per open (spec.md §9 design note).
type DecodeContext struct {
	FD             io.ReaderAt
	LoadTranslation TranslationLoader
	UpgradeStats    StatsUpgrader
}

// flatTranslationTable is a minimal TranslationTable used by tests and by
// callers that have no real block-translation table implementation handy;
// it just remembers the descriptor location a test fixture embedded
// alongside it.
type flatTranslationTable struct {
	descOffset int64
	descSize   int64
}

func (t *flatTranslationTable) DescriptorLocation() (int64, int64) {
	return t.descOffset, t.descSize
}

// NewFlatTranslationLoader returns a TranslationLoader that ignores the
// translation table's byte contents entirely and always reports the given
// descriptor location. It is meant for tests of the header/descriptor
// codecs in isolation from a real block-translation table implementation.
func NewFlatTranslationLoader(descOffset, descSize int64) TranslationLoader {
	return func(fd io.ReaderAt, address, size int64) (TranslationTable, error) {
		return &flatTranslationTable{descOffset: descOffset, descSize: descSize}, nil
	}
}
