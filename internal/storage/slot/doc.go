// Package slot persists the resume-validation token across power loss.
//
// The slot is a single sealed record: magic header, then an AEAD-sealed
// CBOR payload carrying the token, the committing cycle ID, and the clean
// suspend marker. Commit is write-temp, fsync, rename, fsync-dir; the
// orchestrator invokes the power gateway only after Commit has returned,
// which gives the ordering guarantee the resume path depends on.
//
// Load never returns an unusable record. A missing file is a cold boot and
// yields the sentinel; a record that fails authentication or decoding also
// yields the sentinel, with ErrSlotUnreadable raised for diagnostics. The
// sentinel can never equal a minted token, so every failure mode degrades
// to "wake claim rejected".
package slot
