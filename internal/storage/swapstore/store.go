package swapstore

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/badger/v3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spaolacci/murmur3"

	"github.com/veridios/quiesce-go/internal/core/domain"
)

// Key layout and limits.
const (
	pagePrefix = "swap/page/"
	metaKey    = "swap/meta"

	// MaxPageBytes bounds a single staged page.
	MaxPageBytes = 64 << 10

	checksumSize = 8
	metaSize     = 4 + 8 + 8 // page count, flushed-at millis, total bytes
)

// Default configuration values.
const (
	DefaultGCInterval  = 10 * time.Minute
	DefaultGCThreshold = 0.5
)

// Config configures the swap store.
type Config struct {
	Dir string

	// SyncWrites forces fsync on every Badger commit. The flush that runs
	// ahead of a power transition needs it; leave it on.
	SyncWrites bool

	GCInterval  time.Duration
	GCThreshold float64
}

// DefaultConfig returns the default swap store configuration.
func DefaultConfig(dir string) Config {
	return Config{
		Dir:         dir,
		SyncWrites:  true,
		GCInterval:  DefaultGCInterval,
		GCThreshold: DefaultGCThreshold,
	}
}

// Store stages memory pages and persists them across a power transition.
// WritePage stages a dirty page in memory; Flush seals the staged set into
// Badger with per-page checksums; Restore loads and verifies it after wake.
type Store struct {
	db     *badger.DB
	cfg    Config
	logger *slog.Logger

	mu    sync.Mutex
	pages map[uint32][]byte
	dirty map[uint32]bool

	lastFlushTime atomic.Int64 // Unix milliseconds

	// Prometheus metrics
	metricsImagePages    prometheus.Gauge
	metricsImageBytes    prometheus.Gauge
	metricsFlushes       prometheus.Counter
	metricsRestores      prometheus.Counter
	metricsChecksumFails prometheus.Counter

	stopCh chan struct{}
	doneCh chan struct{}
}

// New opens the swap store.
func New(cfg Config, logger *slog.Logger) (*Store, error) {
	if cfg.Dir == "" {
		return nil, domain.ErrMissingArgument.WithDetails("swapstore: dir is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.GCInterval <= 0 {
		cfg.GCInterval = DefaultGCInterval
	}
	if cfg.GCThreshold <= 0 {
		cfg.GCThreshold = DefaultGCThreshold
	}

	opts := badger.DefaultOptions(cfg.Dir)
	opts.Logger = &badgerLogger{logger: logger}
	opts.SyncWrites = cfg.SyncWrites

	db, err := badger.Open(opts)
	if err != nil {
		return nil, domain.ErrStorageError.WithDetails("swapstore: open db").WithCause(err)
	}

	s := &Store{
		db:     db,
		cfg:    cfg,
		logger: logger,
		pages:  make(map[uint32][]byte),
		dirty:  make(map[uint32]bool),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}

	go s.gcLoop()

	logger.Info("swap store opened",
		"dir", cfg.Dir,
		"sync_writes", cfg.SyncWrites,
		"gc_interval", cfg.GCInterval)

	return s, nil
}

// WritePage stages a page in memory and marks it dirty. The page reaches
// stable storage at the next Flush.
func (s *Store) WritePage(index uint32, data []byte) error {
	if len(data) == 0 || len(data) > MaxPageBytes {
		return domain.ErrInvalidArgument.WithDetails(fmt.Sprintf("swap page size %d out of range", len(data)))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	buf := make([]byte, len(data))
	copy(buf, data)
	s.pages[index] = buf
	s.dirty[index] = true
	return nil
}

// ReadPage returns a copy of a staged page.
func (s *Store) ReadPage(index uint32) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, ok := s.pages[index]
	if !ok {
		return nil, false
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, true
}

// PageCount returns the number of staged pages.
func (s *Store) PageCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pages)
}

// Flush persists every dirty page with a checksum and writes the image
// header. Pages that left the staging set since the last flush are removed,
// so the persisted image is always exactly the staged set. Flush must have
// returned before the power transition is attempted.
func (s *Store) Flush(ctx context.Context) error {
	start := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	var stale [][]byte
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(pagePrefix)
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			index, ok := parsePageKey(it.Item().Key())
			if !ok {
				continue
			}
			if _, staged := s.pages[index]; !staged {
				stale = append(stale, it.Item().KeyCopy(nil))
			}
		}
		return nil
	})
	if err != nil {
		return domain.ErrSwapFlush.WithDetails("scan stale pages").WithCause(err)
	}

	wb := s.db.NewWriteBatch()
	defer wb.Cancel()

	for _, key := range stale {
		if err := wb.Delete(key); err != nil {
			return domain.ErrSwapFlush.WithDetails("drop stale page").WithCause(err)
		}
	}

	var flushed int
	var totalBytes uint64
	for index, data := range s.pages {
		totalBytes += uint64(len(data))
		if !s.dirty[index] {
			continue
		}
		if err := ctx.Err(); err != nil {
			return domain.ErrSwapFlush.WithCause(err)
		}

		value := make([]byte, checksumSize+len(data))
		binary.BigEndian.PutUint64(value[:checksumSize], murmur3.Sum64(data))
		copy(value[checksumSize:], data)

		if err := wb.Set(pageKey(index), value); err != nil {
			return domain.ErrSwapFlush.WithDetails(fmt.Sprintf("stage page %d", index)).WithCause(err)
		}
		flushed++
	}

	meta := make([]byte, metaSize)
	binary.BigEndian.PutUint32(meta[0:4], uint32(len(s.pages)))
	binary.BigEndian.PutUint64(meta[4:12], uint64(time.Now().UnixMilli()))
	binary.BigEndian.PutUint64(meta[12:20], totalBytes)
	if err := wb.Set([]byte(metaKey), meta); err != nil {
		return domain.ErrSwapFlush.WithDetails("stage image header").WithCause(err)
	}

	if err := wb.Flush(); err != nil {
		return domain.ErrSwapFlush.WithDetails("commit image").WithCause(err)
	}

	for index := range s.dirty {
		delete(s.dirty, index)
	}
	s.lastFlushTime.Store(time.Now().UnixMilli())

	if s.metricsFlushes != nil {
		s.metricsFlushes.Inc()
		s.metricsImagePages.Set(float64(len(s.pages)))
		s.metricsImageBytes.Set(float64(totalBytes))
	}

	s.logger.Info("swap image flushed",
		"pages_written", flushed,
		"pages_total", len(s.pages),
		"bytes", totalBytes,
		"elapsed", time.Since(start))

	return nil
}

// Restore loads the persisted image back into the staging set, verifying
// every page checksum. A checksum mismatch fails the whole restore; the
// caller downgrades the wake to the cold path rather than resuming over a
// corrupt image.
func (s *Store) Restore(ctx context.Context) error {
	start := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	var wantPages uint32
	restored := make(map[uint32][]byte)

	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(metaKey))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				// No image on disk: nothing staged before the transition.
				return nil
			}
			return err
		}
		meta, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		if len(meta) != metaSize {
			return domain.ErrSwapRestore.WithDetails("malformed image header")
		}
		wantPages = binary.BigEndian.Uint32(meta[0:4])

		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(pagePrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			item := it.Item()
			index, ok := parsePageKey(item.Key())
			if !ok {
				continue
			}
			value, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			if len(value) < checksumSize {
				return domain.ErrSwapChecksum.WithDetails(fmt.Sprintf("page %d truncated", index))
			}
			want := binary.BigEndian.Uint64(value[:checksumSize])
			data := value[checksumSize:]
			if murmur3.Sum64(data) != want {
				if s.metricsChecksumFails != nil {
					s.metricsChecksumFails.Inc()
				}
				return domain.ErrSwapChecksum.WithDetails(fmt.Sprintf("page %d", index))
			}
			restored[index] = data
		}
		return nil
	})
	if err != nil {
		if domain.IsDomainError(err, "") {
			return err
		}
		return domain.ErrSwapRestore.WithCause(err)
	}

	if uint32(len(restored)) != wantPages {
		return domain.ErrSwapRestore.WithDetails(
			fmt.Sprintf("image incomplete: header says %d pages, found %d", wantPages, len(restored)))
	}

	s.pages = restored
	for index := range s.dirty {
		delete(s.dirty, index)
	}

	if s.metricsRestores != nil {
		s.metricsRestores.Inc()
	}

	s.logger.Info("swap image restored",
		"pages", len(restored),
		"elapsed", time.Since(start))

	return nil
}

// Drop discards the persisted image and the staging set.
func (s *Store) Drop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.db.DropPrefix([]byte(pagePrefix), []byte(metaKey))
	if err != nil {
		return domain.ErrStorageError.WithDetails("swapstore: drop image").WithCause(err)
	}
	s.pages = make(map[uint32][]byte)
	s.dirty = make(map[uint32]bool)
	return nil
}

// Close shuts the store down.
func (s *Store) Close() error {
	s.logger.Info("shutting down swap store")

	close(s.stopCh)
	<-s.doneCh

	if err := s.db.Close(); err != nil {
		return domain.ErrStorageError.WithDetails("swapstore: close db").WithCause(err)
	}
	return nil
}

// RegisterMetrics registers swap metrics with Prometheus.
//
// This should be called once during initialization.
// Returns the store for method chaining.
func (s *Store) RegisterMetrics(registry *prometheus.Registry) *Store {
	s.metricsImagePages = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "quiesce",
		Subsystem: "swap",
		Name:      "image_pages",
		Help:      "Pages in the last flushed swap image",
	})

	s.metricsImageBytes = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "quiesce",
		Subsystem: "swap",
		Name:      "image_bytes",
		Help:      "Bytes in the last flushed swap image",
	})

	s.metricsFlushes = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "quiesce",
		Subsystem: "swap",
		Name:      "flushes_total",
		Help:      "Completed swap image flushes",
	})

	s.metricsRestores = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "quiesce",
		Subsystem: "swap",
		Name:      "restores_total",
		Help:      "Completed swap image restores",
	})

	s.metricsChecksumFails = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "quiesce",
		Subsystem: "swap",
		Name:      "checksum_failures_total",
		Help:      "Swap pages that failed checksum verification on restore",
	})

	registry.MustRegister(
		s.metricsImagePages,
		s.metricsImageBytes,
		s.metricsFlushes,
		s.metricsRestores,
		s.metricsChecksumFails,
	)

	return s
}

// gcLoop runs periodic value log garbage collection.
func (s *Store) gcLoop() {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.cfg.GCInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			for {
				err := s.db.RunValueLogGC(s.cfg.GCThreshold)
				if err != nil {
					if !errors.Is(err, badger.ErrNoRewrite) {
						s.logger.Error("swap gc failed", "error", err)
					}
					break
				}
			}

		case <-s.stopCh:
			return
		}
	}
}

func pageKey(index uint32) []byte {
	key := make([]byte, len(pagePrefix)+4)
	copy(key, pagePrefix)
	binary.BigEndian.PutUint32(key[len(pagePrefix):], index)
	return key
}

func parsePageKey(key []byte) (uint32, bool) {
	if len(key) != len(pagePrefix)+4 {
		return 0, false
	}
	return binary.BigEndian.Uint32(key[len(pagePrefix):]), true
}

// badgerLogger adapts slog.Logger to Badger's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Info(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}
