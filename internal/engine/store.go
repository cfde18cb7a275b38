// Package engine implements the append-only, log-structured key/value
// store: a single data file of length-prefixed, checksummed records plus
// an in-memory hash index from key to the byte offset of its live record.
package engine

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
)

// ErrValueNotFound is returned by Find when no live record matches, whether
// because the scan reached end-of-log or because a scan error occurred; in
// the latter case it wraps the underlying cause rather than discarding it.
var ErrValueNotFound = errors.New("engine: value not found")

// Store owns the backing data file and the in-memory offset index.
// Store does not synchronize its own methods; callers that share a Store
// across goroutines must serialize access externally (see internal/conn).
type Store struct {
	path  string
	file  *os.File
	index map[string]int64 // key -> offset of the live record's checksum byte
	fsync bool
}

// Option configures a Store at Open time.
type Option func(*Store)

// WithFsync makes every successful append call fsync before the index is
// updated. Off by default: durability then depends on the OS flushing
// buffered writes, per spec's Non-goals.
func WithFsync(b bool) Option {
	return func(s *Store) { s.fsync = b }
}

// Open opens path for read/write, creating it if necessary, and builds an
// empty index. Call Load to populate the index from any existing data.
func Open(path string, opts ...Option) (*Store, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("engine: open %q: %w", path, err)
	}

	s := &Store{
		path:  path,
		file:  f,
		index: make(map[string]int64),
	}
	for _, opt := range opts {
		opt(s)
	}

	return s, nil
}

// Close drops the open file handle. No separate shutdown step is required
// beyond this; there is no background state to flush.
func (s *Store) Close() error {
	return s.file.Close()
}

// Load replays the data file from offset 0, populating the index. The last
// occurrence of each key wins, since later inserts overwrite earlier index
// entries as they're replayed in file order. The log may end only on a
// record boundary: a trailing record cut short anywhere in its header or
// payload aborts the load, as does any other read failure.
func (s *Store) Load() error {
	if _, err := s.file.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("engine: seek to start for load: %w", err)
	}

	r := bufio.NewReader(s.file)
	var off int64
	for {
		rec, err := decodeRecord(r)
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("engine: load: %w", err)
		}

		recLen := int64(hdrLen + len(rec.key) + len(rec.val))
		if len(rec.val) == 0 {
			delete(s.index, string(rec.key))
		} else {
			s.index[string(rec.key)] = off
		}
		off += recLen
	}

	if _, err := s.file.Seek(0, io.SeekEnd); err != nil {
		return fmt.Errorf("engine: seek to end after load: %w", err)
	}
	return nil
}

// Get returns the live value for key, or ok=false if the key is absent.
func (s *Store) Get(key []byte) (val []byte, ok bool, err error) {
	off, found := s.index[string(key)]
	if !found {
		return nil, false, nil
	}

	rec, err := s.readAt(off)
	if err != nil {
		return nil, false, fmt.Errorf("engine: get %q at offset %d: %w", key, off, err)
	}
	return rec.val, true, nil
}

// Insert appends a new record for key/value and points the index at it.
func (s *Store) Insert(key, val []byte) error {
	off, err := s.InsertIgnoringIndex(key, val)
	if err != nil {
		return err
	}
	s.index[string(key)] = off
	return nil
}

// InsertIgnoringIndex appends one record without touching the index, and
// returns the offset the record starts at (the position of its checksum
// byte, before the header). This split exists so log replay and future
// rewrites can append without disturbing the index. The seek-to-end,
// write-header-and-payload, flush sequence must not interleave with any
// other append or with a read that depends on the end-of-file position; if
// the write fails partway, the caller must not have already recorded the
// returned offset in the index.
func (s *Store) InsertIgnoringIndex(key, val []byte) (int64, error) {
	off, err := s.file.Seek(0, io.SeekEnd)
	if err != nil {
		return 0, fmt.Errorf("engine: seek to end for insert: %w", err)
	}

	buf := encodeRecord(key, val)
	if _, err := s.file.Write(buf); err != nil {
		return 0, fmt.Errorf("engine: write record: %w", err)
	}

	if s.fsync {
		if err := s.file.Sync(); err != nil {
			return 0, fmt.Errorf("engine: fsync after write: %w", err)
		}
	}

	return off, nil
}

// Update is semantically identical to Insert; kept as a named alias because
// the wire protocol distinguishes SET from UPDATE even though the store
// does not.
func (s *Store) Update(key, val []byte) error {
	return s.Insert(key, val)
}

// Delete removes key from the index and appends an empty-value tombstone.
// Deleting a missing key is not an error.
func (s *Store) Delete(key []byte) error {
	delete(s.index, string(key))
	_, err := s.InsertIgnoringIndex(key, nil)
	if err != nil {
		return fmt.Errorf("engine: delete %q: %w", key, err)
	}
	return nil
}

// Find scans the log from offset 0 for the first record whose value equals
// target and whose offset is currently the index's live offset for its key.
// It returns ErrValueNotFound (wrapping the underlying cause, if any) when no
// such record exists.
func (s *Store) Find(target []byte) (offset int64, val []byte, err error) {
	sr := io.NewSectionReader(s.file, 0, 1<<62)
	r := bufio.NewReader(sr)

	var off int64
	for {
		rec, err := decodeRecord(r)
		if err == io.EOF {
			return 0, nil, ErrValueNotFound
		}
		if err != nil {
			return 0, nil, fmt.Errorf("%w: %w", ErrValueNotFound, err)
		}

		recLen := int64(hdrLen + len(rec.key) + len(rec.val))
		if bytes.Equal(rec.val, target) {
			if liveOff, ok := s.index[string(rec.key)]; ok && liveOff == off {
				return off, rec.val, nil
			}
		}
		off += recLen
	}
}

// readAt decodes exactly one record starting at off.
func (s *Store) readAt(off int64) (*record, error) {
	sr := io.NewSectionReader(s.file, off, 1<<62)
	return decodeRecord(sr)
}
