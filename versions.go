package fthdr

// Per spec.md §9's design note, the brittle C fall-through switch is
// re-architected here as an explicit per-version size table: one entry per
// historical layout, computed from the exact field gates Decode applies
// (header_codec.go), so each historical layout's contribution is visible and
// property-testable in isolation. Unlike original_source/ft/
// ft-serialize.c's serialize_ft_min_size, build_id_original,
// layout_version_original, time_of_creation and time_of_last_modification
// are not gated by version here: original_source/ft/ft-serialize.c's own
// deserialize_ft_versioned (the function that actually reads a header, as
// opposed to the size-only helper) reads all four unconditionally for every
// supported version, and Decode follows the reader, not the stale size
// table.
var ftMinSizeByVersion = map[uint32]int{
	layoutV12: 112, // prefix+probe+base fields+num_blocks_to_upgrade_13
	layoutV13: 112, // no change (see comment above)
	layoutV14: 120, // +root_xid_that_created
	layoutV15: 140, // +basementnodesize+num_blocks_to_upgrade_14+time_of_last_verification
	layoutV16: 140, // no change
	layoutV17: 140, // no change (on_disk_stats is gated on >= 18, not 17)
	layoutV18: 184, // +on_disk_stats+optimize_begin+optimize_end+optimize_in_progress+msn; num_blocks_to_upgrade_13/_14 still present
	layoutV19: 177, // -num_blocks_to_upgrade_13/_14, +compression_method+highest_unused_msn_for_upgrade
	layoutV20: 177, // no change
}

// serializeFTMinSize returns the exact byte count required to serialize a
// header at the given version, excluding trailing padding up to
// HeaderReserve. It is the Go equivalent of serialize_ft_min_size in
// spec.md §4.2.
func serializeFTMinSize(version uint32) (int, error) {
	size, ok := ftMinSizeByVersion[version]
	if !ok {
		return 0, newDecodeErr(KindBadSize, "unsupported layout version for size table")
	}
	if size > HeaderReserve {
		return 0, newDecodeErr(KindBadSize, "computed header size exceeds HeaderReserve")
	}
	return size, nil
}

// versionInRange reports whether version is within
// [FTLayoutMinSupportedVersion, FTLayoutVersion].
func versionInRange(version uint32) bool {
	return version >= FTLayoutMinSupportedVersion && version <= FTLayoutVersion
}
