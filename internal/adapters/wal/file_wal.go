// Package wal persists collected batches before they are queued so a crash
// between collection and ingestion loses nothing.
//
// Record layout: [8B id][4B length][length bytes of JSON batch], big endian.
// The highest committed id lives in a sidecar meta file.
package wal

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/parthCJ/Aarma-be/internal/domain"
	"github.com/parthCJ/Aarma-be/internal/ports"
)

const (
	headerLen = 12
	logName   = "wal.log"
	metaName  = "wal.meta"
)

type FileWAL struct {
	mu        sync.Mutex
	dir       string
	file      *os.File
	writer    *bufio.Writer
	syncEach  bool
	lastID    ports.WALEntryID
	committed ports.WALEntryID
	sizeBytes int64
	closed    bool
}

type Option func(*FileWAL)

// WithSyncOnAppend fsyncs after every record instead of relying on Flush.
func WithSyncOnAppend() Option {
	return func(w *FileWAL) { w.syncEach = true }
}

func NewFileWAL(dir string, opts ...Option) (*FileWAL, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("wal mkdir: %w", err)
	}
	w := &FileWAL{dir: dir}
	for _, opt := range opts {
		opt(w)
	}
	if err := w.open(); err != nil {
		return nil, err
	}
	return w, nil
}

func (w *FileWAL) logPath() string  { return filepath.Join(w.dir, logName) }
func (w *FileWAL) metaPath() string { return filepath.Join(w.dir, metaName) }

func (w *FileWAL) open() error {
	f, err := os.OpenFile(w.logPath(), os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return fmt.Errorf("wal open: %w", err)
	}
	w.file = f

	valid, lastID, err := scan(f)
	if err != nil {
		f.Close()
		return err
	}
	// Drop a torn tail left by a crash mid-append.
	if err := f.Truncate(valid); err != nil {
		f.Close()
		return fmt.Errorf("wal truncate tail: %w", err)
	}
	if _, err := f.Seek(0, io.SeekEnd); err != nil {
		f.Close()
		return err
	}
	w.writer = bufio.NewWriterSize(f, 1<<20)
	w.sizeBytes = valid
	w.lastID = lastID

	committed, err := readMeta(w.metaPath())
	if err != nil {
		f.Close()
		return err
	}
	w.committed = committed
	if w.lastID < w.committed {
		w.lastID = w.committed
	}
	return nil
}

// scan walks complete records and returns the byte length they span.
func scan(f *os.File) (int64, ports.WALEntryID, error) {
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return 0, 0, err
	}
	r := bufio.NewReader(f)
	var (
		offset int64
		lastID ports.WALEntryID
		hdr    [headerLen]byte
	)
	for {
		if _, err := io.ReadFull(r, hdr[:]); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return offset, lastID, nil
			}
			return 0, 0, fmt.Errorf("wal scan header: %w", err)
		}
		id := ports.WALEntryID(binary.BigEndian.Uint64(hdr[0:8]))
		n := int64(binary.BigEndian.Uint32(hdr[8:12]))
		if _, err := io.CopyN(io.Discard, r, n); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return offset, lastID, nil
			}
			return 0, 0, fmt.Errorf("wal scan body: %w", err)
		}
		offset += headerLen + n
		lastID = id
	}
}

func readMeta(path string) (ports.WALEntryID, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	val := strings.TrimSpace(string(data))
	if val == "" {
		return 0, nil
	}
	u, err := strconv.ParseUint(val, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("wal meta parse: %w", err)
	}
	return ports.WALEntryID(u), nil
}

func (w *FileWAL) Append(b *domain.Batch) (ports.WALEntryID, error) {
	payload, err := json.Marshal(b)
	if err != nil {
		return 0, fmt.Errorf("wal encode: %w", err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return 0, os.ErrClosed
	}

	id := w.lastID + 1
	var hdr [headerLen]byte
	binary.BigEndian.PutUint64(hdr[0:8], uint64(id))
	binary.BigEndian.PutUint32(hdr[8:12], uint32(len(payload)))

	if _, err := w.writer.Write(hdr[:]); err != nil {
		return 0, err
	}
	if _, err := w.writer.Write(payload); err != nil {
		return 0, err
	}
	if w.syncEach {
		if err := w.flushLocked(true); err != nil {
			return 0, err
		}
	}

	w.lastID = id
	w.sizeBytes += int64(headerLen + len(payload))
	return id, nil
}

// Iterate replays every record with id >= from in append order.
func (w *FileWAL) Iterate(from ports.WALEntryID, fn func(id ports.WALEntryID, b *domain.Batch) error) error {
	w.mu.Lock()
	if err := w.flushLocked(false); err != nil {
		w.mu.Unlock()
		return err
	}
	size := w.sizeBytes
	w.mu.Unlock()

	f, err := os.Open(w.logPath())
	if err != nil {
		return err
	}
	defer f.Close()

	r := bufio.NewReader(io.LimitReader(f, size))
	var hdr [headerLen]byte
	for {
		if _, err := io.ReadFull(r, hdr[:]); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("wal iterate header: %w", err)
		}
		id := ports.WALEntryID(binary.BigEndian.Uint64(hdr[0:8]))
		payload := make([]byte, binary.BigEndian.Uint32(hdr[8:12]))
		if _, err := io.ReadFull(r, payload); err != nil {
			return fmt.Errorf("corrupt wal record %d: %w", id, err)
		}
		if id < from {
			continue
		}
		var b domain.Batch
		if err := json.Unmarshal(payload, &b); err != nil {
			return fmt.Errorf("corrupt wal record %d: %w", id, err)
		}
		if err := fn(id, &b); err != nil {
			return err
		}
	}
}

// Commit marks every record up to and including upto as ingested.
func (w *FileWAL) Commit(upto ports.WALEntryID) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if upto <= w.committed {
		return nil
	}
	w.committed = upto
	return writeMeta(w.metaPath(), w.committed)
}

// Compact rewrites the log keeping only uncommitted records.
func (w *FileWAL) Compact() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return os.ErrClosed
	}
	if err := w.flushLocked(false); err != nil {
		return err
	}

	tmpPath := w.logPath() + ".compact"
	tmp, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	kept, err := copyUncommitted(w.logPath(), tmp, w.committed)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("wal compact: %w", err)
	}

	if err := w.file.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, w.logPath()); err != nil {
		return err
	}
	f, err := os.OpenFile(w.logPath(), os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	w.file = f
	w.writer = bufio.NewWriterSize(f, 1<<20)
	w.sizeBytes = kept
	return nil
}

func copyUncommitted(path string, dst io.Writer, committed ports.WALEntryID) (int64, error) {
	src, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer src.Close()

	r := bufio.NewReader(src)
	bw := bufio.NewWriter(dst)
	var (
		hdr  [headerLen]byte
		kept int64
	)
	for {
		if _, err := io.ReadFull(r, hdr[:]); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return 0, err
		}
		id := ports.WALEntryID(binary.BigEndian.Uint64(hdr[0:8]))
		n := int64(binary.BigEndian.Uint32(hdr[8:12]))
		if id <= committed {
			if _, err := io.CopyN(io.Discard, r, n); err != nil {
				return 0, err
			}
			continue
		}
		if _, err := bw.Write(hdr[:]); err != nil {
			return 0, err
		}
		if _, err := io.CopyN(bw, r, n); err != nil {
			return 0, err
		}
		kept += headerLen + n
	}
	return kept, bw.Flush()
}

func (w *FileWAL) Stats() ports.WALStats {
	w.mu.Lock()
	defer w.mu.Unlock()
	return ports.WALStats{
		OldestUncommitted: w.committed + 1,
		LatestAppended:    w.lastID,
		SizeBytes:         w.sizeBytes,
	}
}

func (w *FileWAL) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	return errors.Join(w.flushLocked(true), w.file.Close())
}

func (w *FileWAL) flushLocked(fsync bool) error {
	if err := w.writer.Flush(); err != nil {
		return err
	}
	if fsync {
		return w.file.Sync()
	}
	return nil
}

func writeMeta(path string, committed ports.WALEntryID) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(strconv.FormatUint(uint64(committed), 10)+"\n"), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

var _ ports.WAL = (*FileWAL)(nil)
