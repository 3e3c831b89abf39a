package durability

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"

	"github.com/hupe1980/docdb/codec"
	"github.com/hupe1980/docdb/internal/checksum"
	"github.com/hupe1980/docdb/internal/fs"
)

const (
	snapshotPrefix  = "snapshot-"
	snapshotSuffix  = ".snap"
	snapshotMagic   = "docdb-snapshot"
	snapshotVersion = 1
)

// Snapshot describes one checkpoint file on disk.
type Snapshot struct {
	// ID is the nanosecond creation timestamp the file is named after.
	ID string
	// Path is the snapshot's location on disk.
	Path string
	// Timestamp is the creation time.
	Timestamp time.Time
	// WALPosition is the active WAL byte offset the snapshot covers.
	// Replay starts at this offset. Filled from the header on load,
	// zero on bare listings.
	WALPosition int64
	// Size is the file size in bytes.
	Size int64
}

// snapshotHeader is the self-describing first line of a snapshot file.
// It is always plain JSON regardless of the configured codec, so a
// reader can bootstrap without knowing how the payload was encoded.
type snapshotHeader struct {
	Magic       string    `json:"magic"`
	Version     int       `json:"version"`
	CreatedAt   time.Time `json:"created_at"`
	Codec       string    `json:"codec"`
	Compression string    `json:"compression,omitempty"`
	Checksum    string    `json:"checksum"`
	ChecksumAlg string    `json:"checksum_alg"`
	WALPosition int64     `json:"wal_position"`
	Encrypted   bool      `json:"encrypted,omitempty"`
}

// snapshotStore writes, lists, loads and prunes checkpoint files in
// one directory. Retention is fixed: once more than maxSnapshots files
// exist, the oldest are deleted.
type snapshotStore struct {
	fsys     fs.FileSystem
	dir      string
	codec    codec.Codec
	provider checksum.Provider
	logger   *slog.Logger
}

func newSnapshotStore(fsys fs.FileSystem, dir string, c codec.Codec, p checksum.Provider, logger *slog.Logger) (*snapshotStore, error) {
	if err := fsys.MkdirAll(dir, 0o755); err != nil {
		return nil, &IOError{Op: "create snapshot dir", Err: err}
	}

	return &snapshotStore{
		fsys:     fsys,
		dir:      dir,
		codec:    c,
		provider: p,
		logger:   logger,
	}, nil
}

// create serializes state, checksums it, optionally compresses it and
// writes the file via temp-file plus rename so a crash never leaves a
// half-written snapshot under the final name.
func (s *snapshotStore) create(state any, walPos int64, compression string, encrypted bool) (*Snapshot, error) {
	data, err := s.codec.Marshal(state)
	if err != nil {
		return nil, fmt.Errorf("marshal snapshot state: %w", err)
	}

	sum := s.provider.Sum(data)

	payload, err := compress(compression, data)
	if err != nil {
		return nil, fmt.Errorf("compress snapshot: %w", err)
	}

	ts := time.Now()
	id := s.nextID(ts.UnixNano())
	name := snapshotPrefix + id + snapshotSuffix
	path := filepath.Join(s.dir, name)

	header, err := json.Marshal(&snapshotHeader{
		Magic:       snapshotMagic,
		Version:     snapshotVersion,
		CreatedAt:   ts.UTC(),
		Codec:       s.codec.Name(),
		Compression: compression,
		Checksum:    sum,
		ChecksumAlg: s.provider.Name(),
		WALPosition: walPos,
		Encrypted:   encrypted,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal snapshot header: %w", err)
	}

	if err := s.write(path, header, payload); err != nil {
		return nil, err
	}

	s.prune()

	return &Snapshot{
		ID:          id,
		Path:        path,
		Timestamp:   ts,
		WALPosition: walPos,
		Size:        int64(len(header) + 1 + len(payload)),
	}, nil
}

func (s *snapshotStore) write(path string, header, payload []byte) error {
	tmp := path + ".tmp"

	f, err := s.fsys.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return &IOError{Op: "create snapshot", Err: err}
	}

	write := func() error {
		if _, err := f.Write(header); err != nil {
			return err
		}

		if _, err := f.Write([]byte{'\n'}); err != nil {
			return err
		}

		if _, err := f.Write(payload); err != nil {
			return err
		}

		return f.Sync()
	}

	if err := write(); err != nil {
		f.Close()
		s.fsys.Remove(tmp)

		return &IOError{Op: "write snapshot", Err: err}
	}

	if err := f.Close(); err != nil {
		s.fsys.Remove(tmp)

		return &IOError{Op: "close snapshot", Err: err}
	}

	if err := s.fsys.Rename(tmp, path); err != nil {
		s.fsys.Remove(tmp)

		return &IOError{Op: "rename snapshot", Err: err}
	}

	if err := syncDir(s.fsys, s.dir); err != nil {
		s.logger.Warn("snapshot dir sync failed", "error", err)
	}

	return nil
}

// nextID returns a nanosecond id not already taken by an existing
// file. Collisions only happen when two snapshots land in the same
// nanosecond, but the check is cheap.
func (s *snapshotStore) nextID(ns int64) string {
	for {
		id := strconv.FormatInt(ns, 10)
		if _, err := s.fsys.Stat(filepath.Join(s.dir, snapshotPrefix+id+snapshotSuffix)); err != nil {
			return id
		}

		ns++
	}
}

// list returns the retained snapshots, newest first. WALPosition is
// not filled; reading headers is load's job.
func (s *snapshotStore) list() ([]*Snapshot, error) {
	entries, err := s.fsys.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}

		return nil, &IOError{Op: "list snapshots", Err: err}
	}

	var snaps []*Snapshot

	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, snapshotPrefix) || !strings.HasSuffix(name, snapshotSuffix) {
			continue
		}

		id := strings.TrimSuffix(strings.TrimPrefix(name, snapshotPrefix), snapshotSuffix)

		ns, err := strconv.ParseInt(id, 10, 64)
		if err != nil {
			continue
		}

		snap := &Snapshot{
			ID:        id,
			Path:      filepath.Join(s.dir, name),
			Timestamp: time.Unix(0, ns),
		}

		if info, err := e.Info(); err == nil {
			snap.Size = info.Size()
		}

		snaps = append(snaps, snap)
	}

	sort.Slice(snaps, func(i, j int) bool { return snaps[i].ID > snaps[j].ID })

	return snaps, nil
}

// loadNewest decodes the newest readable snapshot into v. Corrupt or
// unreadable snapshots are logged and skipped in favor of the next
// older one. Returns (nil, nil) when no readable snapshot exists.
func (s *snapshotStore) loadNewest(v any) (*Snapshot, error) {
	snaps, err := s.list()
	if err != nil {
		return nil, err
	}

	for _, snap := range snaps {
		if err := s.load(snap, v); err != nil {
			s.logger.Warn("snapshot unreadable, trying older one", "snapshot", snap.ID, "error", err)

			continue
		}

		return snap, nil
	}

	return nil, nil
}

// load reads one snapshot file, validates it end to end and decodes
// the state into v. On success the snapshot's WALPosition is filled
// from the header.
func (s *snapshotStore) load(snap *Snapshot, v any) error {
	raw, err := readFile(s.fsys, snap.Path)
	if err != nil {
		return err
	}

	sep := bytes.IndexByte(raw, '\n')
	if sep < 0 {
		return fmt.Errorf("missing header line")
	}

	var header snapshotHeader
	if err := json.Unmarshal(raw[:sep], &header); err != nil {
		return fmt.Errorf("parse header: %w", err)
	}

	if header.Magic != snapshotMagic {
		return fmt.Errorf("bad magic %q", header.Magic)
	}

	if header.Version != snapshotVersion {
		return fmt.Errorf("unsupported version %d", header.Version)
	}

	data, err := decompress(header.Compression, raw[sep+1:])
	if err != nil {
		return fmt.Errorf("decompress: %w", err)
	}

	provider, ok := checksum.ByName(header.ChecksumAlg)
	if !ok {
		return fmt.Errorf("unknown checksum algorithm %q", header.ChecksumAlg)
	}

	if sum := provider.Sum(data); sum != header.Checksum {
		return fmt.Errorf("checksum mismatch: header %s, computed %s", header.Checksum, sum)
	}

	c, ok := codec.ByName(header.Codec)
	if !ok {
		return fmt.Errorf("unknown codec %q", header.Codec)
	}

	if err := c.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode state: %w", err)
	}

	snap.WALPosition = header.WALPosition
	snap.Timestamp = header.CreatedAt

	return nil
}

// prune deletes the oldest snapshots beyond the retention count.
func (s *snapshotStore) prune() {
	snaps, err := s.list()
	if err != nil {
		s.logger.Warn("snapshot listing failed", "error", err)

		return
	}

	for i := maxSnapshots; i < len(snaps); i++ {
		if err := s.fsys.Remove(snaps[i].Path); err != nil {
			s.logger.Warn("snapshot prune failed", "snapshot", snaps[i].ID, "error", err)

			continue
		}

		s.logger.Debug("snapshot pruned", "snapshot", snaps[i].ID)
	}
}

func compress(algo string, data []byte) ([]byte, error) {
	switch algo {
	case "":
		return data, nil
	case CompressionZstd:
		enc, err := zstd.NewWriter(nil)
		if err != nil {
			return nil, err
		}
		defer enc.Close()

		return enc.EncodeAll(data, make([]byte, 0, len(data)/2)), nil
	case CompressionLZ4:
		var buf bytes.Buffer

		zw := lz4.NewWriter(&buf)
		if _, err := zw.Write(data); err != nil {
			return nil, err
		}

		if err := zw.Close(); err != nil {
			return nil, err
		}

		return buf.Bytes(), nil
	default:
		return nil, fmt.Errorf("unknown compression algorithm %q", algo)
	}
}

func decompress(algo string, data []byte) ([]byte, error) {
	switch algo {
	case "":
		return data, nil
	case CompressionZstd:
		dec, err := zstd.NewReader(nil)
		if err != nil {
			return nil, err
		}
		defer dec.Close()

		return dec.DecodeAll(data, nil)
	case CompressionLZ4:
		return io.ReadAll(lz4.NewReader(bytes.NewReader(data)))
	default:
		return nil, fmt.Errorf("unknown compression algorithm %q", algo)
	}
}

// readFile loads a whole file through the FileSystem seam.
func readFile(fsys fs.FileSystem, path string) ([]byte, error) {
	f, err := fsys.OpenFile(path, os.O_RDONLY, 0)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	return io.ReadAll(f)
}
