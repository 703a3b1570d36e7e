// Package slot persists the resume-validation token across power loss.
package slot

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/veridios/quiesce-go/internal/core/domain"
	"github.com/veridios/quiesce-go/pkg/crypto/seal"
)

// File format constants.
const (
	FileName        = "token.slot"
	MagicBytes      = "QUIESCE\x01"
	MagicBytesSize  = 8
	DefaultFilePerm = 0600
	DefaultDirPerm  = 0750
)

// recordWire is the CBOR form of domain.SlotRecord. Integer keys keep the
// sealed payload small and its encoding stable.
type recordWire struct {
	Token       []byte `cbor:"1,keyasint"`
	CycleID     string `cbor:"2,keyasint,omitempty"`
	CommittedAt int64  `cbor:"3,keyasint,omitempty"`
	Clean       bool   `cbor:"4,keyasint,omitempty"`
}

var (
	slotEncMode cbor.EncMode
	slotDecMode cbor.DecMode
)

func init() {
	encOpts := cbor.EncOptions{
		Sort:        cbor.SortCanonical,
		IndefLength: cbor.IndefLengthForbidden,
		TagsMd:      cbor.TagsForbidden,
	}
	em, err := encOpts.EncMode()
	if err != nil {
		panic(fmt.Sprintf("slot: init encoder: %v", err))
	}
	slotEncMode = em

	decOpts := cbor.DecOptions{
		IndefLength: cbor.IndefLengthForbidden,
		TagsMd:      cbor.TagsForbidden,
	}
	dm, err := decOpts.DecMode()
	if err != nil {
		panic(fmt.Sprintf("slot: init decoder: %v", err))
	}
	slotDecMode = dm
}

// Store owns the slot file. Commit is atomic and durable: the record is
// written to a temporary file, synced, renamed over the live slot, and the
// directory is synced before Commit returns. The power transition must not
// be attempted until Commit has returned.
type Store struct {
	mu     sync.Mutex
	dir    string
	path   string
	sealer seal.Sealer
}

// New creates a Store rooted at dir. The sealer guards the slot payload;
// a record that fails authentication is never partially trusted.
func New(dir string, sealer seal.Sealer) (*Store, error) {
	if dir == "" {
		return nil, domain.ErrMissingArgument.WithDetails("slot: dir is required")
	}
	if sealer == nil {
		return nil, domain.ErrMissingArgument.WithDetails("slot: sealer is required")
	}
	if err := os.MkdirAll(dir, DefaultDirPerm); err != nil {
		return nil, domain.ErrStorageError.WithDetails("slot: create dir").WithCause(err)
	}
	return &Store{
		dir:    dir,
		path:   filepath.Join(dir, FileName),
		sealer: sealer,
	}, nil
}

// Path returns the slot file path.
func (s *Store) Path() string {
	return s.path
}

// Commit seals and durably writes the record. On return the record has
// reached stable storage.
func (s *Store) Commit(rec domain.SlotRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tokenBytes, err := rec.Token.MarshalBinary()
	if err != nil {
		return domain.ErrSlotWrite.WithCause(err)
	}
	payload, err := slotEncMode.Marshal(recordWire{
		Token:       tokenBytes,
		CycleID:     rec.CycleID,
		CommittedAt: rec.CommittedAt,
		Clean:       rec.Clean,
	})
	if err != nil {
		return domain.ErrSlotWrite.WithDetails("encode record").WithCause(err)
	}

	sealed, err := s.sealer.Seal(payload, []byte(MagicBytes))
	if err != nil {
		return domain.ErrSlotWrite.WithDetails("seal record").WithCause(err)
	}

	tmp := s.path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, DefaultFilePerm)
	if err != nil {
		return domain.ErrSlotWrite.WithDetails("open temp file").WithCause(err)
	}

	if _, err := f.Write([]byte(MagicBytes)); err != nil {
		f.Close()
		os.Remove(tmp)
		return domain.ErrSlotWrite.WithDetails("write magic").WithCause(err)
	}
	if _, err := f.Write(sealed); err != nil {
		f.Close()
		os.Remove(tmp)
		return domain.ErrSlotWrite.WithDetails("write payload").WithCause(err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return domain.ErrSlotWrite.WithDetails("sync temp file").WithCause(err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return domain.ErrSlotWrite.WithDetails("close temp file").WithCause(err)
	}

	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return domain.ErrSlotWrite.WithDetails("rename into place").WithCause(err)
	}
	return s.syncDir()
}

// syncDir flushes the rename itself. Without it the new directory entry may
// still be lost on power cut even though the file contents are on disk.
func (s *Store) syncDir() error {
	d, err := os.Open(s.dir)
	if err != nil {
		return domain.ErrSlotWrite.WithDetails("open dir").WithCause(err)
	}
	defer d.Close()
	if err := d.Sync(); err != nil {
		return domain.ErrSlotWrite.WithDetails("sync dir").WithCause(err)
	}
	return nil
}

// Load reads and authenticates the slot.
//
// A missing slot file is a cold boot and yields the sentinel record with no
// error. Any other failure (truncation, bad magic, failed authentication)
// also yields the sentinel record, alongside ErrSlotUnreadable so the caller
// can surface the diagnostic; the returned record is always safe to use.
func (s *Store) Load() (domain.SlotRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sentinel := domain.SlotRecord{Token: domain.Sentinel()}

	raw, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return sentinel, nil
		}
		return sentinel, domain.ErrSlotUnreadable.WithDetails("read file").WithCause(err)
	}

	if len(raw) < MagicBytesSize || string(raw[:MagicBytesSize]) != MagicBytes {
		return sentinel, domain.ErrSlotUnreadable.WithDetails("bad magic")
	}

	payload, err := s.sealer.Open(raw[MagicBytesSize:], []byte(MagicBytes))
	if err != nil {
		return sentinel, domain.ErrSlotUnreadable.WithDetails("authentication failed").WithCause(err)
	}

	var wire recordWire
	if err := slotDecMode.Unmarshal(payload, &wire); err != nil {
		return sentinel, domain.ErrSlotUnreadable.WithDetails("decode record").WithCause(err)
	}

	var rec domain.SlotRecord
	if err := rec.Token.UnmarshalBinary(wire.Token); err != nil {
		return sentinel, domain.ErrSlotUnreadable.WithDetails("decode token").WithCause(err)
	}
	rec.CycleID = wire.CycleID
	rec.CommittedAt = wire.CommittedAt
	rec.Clean = wire.Clean
	return rec, nil
}

// Invalidate resets the slot to the sentinel record. The orchestrator calls
// it after every wake validation, success or failure, so a slot record can
// satisfy at most one wake.
func (s *Store) Invalidate() error {
	return s.Commit(domain.SlotRecord{
		Token:       domain.Sentinel(),
		CommittedAt: time.Now().UnixMilli(),
		Clean:       true,
	})
}
