package durability

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/hupe1980/docdb/internal/fs"
)

const (
	walFileName      = "wal.log"
	walArchivePrefix = "wal-"
	walArchiveSuffix = ".log"
)

// walWriter owns the active write-ahead log file. It appends records,
// rotates the file into timestamp-named archive segments once it grows
// past maxSize and prunes old segments. All methods must be called
// under the Coordinator's mutex.
type walWriter struct {
	fsys        fs.FileSystem
	dir         string
	maxSize     int64
	maxArchives int
	logger      *slog.Logger

	file fs.File
	size int64
}

func openWAL(fsys fs.FileSystem, dir string, maxSize int64, logger *slog.Logger) (*walWriter, error) {
	if err := fsys.MkdirAll(dir, 0o755); err != nil {
		return nil, &IOError{Op: "create wal dir", Err: err}
	}

	w := &walWriter{
		fsys:        fsys,
		dir:         dir,
		maxSize:     maxSize,
		maxArchives: maxWALArchives,
		logger:      logger,
	}

	if err := w.open(); err != nil {
		return nil, err
	}

	return w, nil
}

func (w *walWriter) path() string {
	return filepath.Join(w.dir, walFileName)
}

func (w *walWriter) open() error {
	f, err := w.fsys.OpenFile(w.path(), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return &IOError{Op: "open wal", Err: err}
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()

		return &IOError{Op: "stat wal", Err: err}
	}

	w.file = f
	w.size = info.Size()

	return nil
}

// append writes one framed record. When the record would push the
// active file past maxSize, the file is rotated first; the name of the
// sealed archive segment is returned so the caller can hand it to the
// archiver.
func (w *walWriter) append(record []byte) (string, error) {
	if w.file == nil {
		return "", &IOError{Op: "append wal", Err: os.ErrClosed}
	}

	var archived string

	if w.size > 0 && w.size+int64(len(record)) > w.maxSize {
		name, err := w.rotate()
		if err != nil {
			return "", err
		}

		archived = name
	}

	n, err := w.file.Write(record)
	w.size += int64(n)

	if err != nil {
		return archived, &IOError{Op: "append wal", Err: err}
	}

	return archived, nil
}

// rotate seals the active file into an archive segment and opens a
// fresh one. The sealed segment is synced before the rename so its
// content is durable under its new name.
func (w *walWriter) rotate() (string, error) {
	if err := w.file.Datasync(); err != nil {
		return "", &IOError{Op: "sync wal before rotate", Err: err}
	}

	if err := w.file.Close(); err != nil {
		w.file = nil

		return "", &IOError{Op: "close wal for rotate", Err: err}
	}

	w.file = nil

	name := w.archiveName()
	if err := w.fsys.Rename(w.path(), filepath.Join(w.dir, name)); err != nil {
		return "", &IOError{Op: "archive wal segment", Err: err}
	}

	if err := w.open(); err != nil {
		return "", err
	}

	if err := syncDir(w.fsys, w.dir); err != nil {
		w.logger.Warn("wal dir sync failed after rotation", "error", err)
	}

	w.prune()

	return name, nil
}

// archiveName derives a unique timestamp-based segment name.
func (w *walWriter) archiveName() string {
	ts := time.Now().UnixNano()

	for {
		name := fmt.Sprintf("%s%d%s", walArchivePrefix, ts, walArchiveSuffix)
		if _, err := w.fsys.Stat(filepath.Join(w.dir, name)); err != nil {
			return name
		}

		ts++
	}
}

// archives returns the retained segment names, oldest first. Timestamps
// share a digit count for the next two centuries, so lexicographic
// order is creation order.
func (w *walWriter) archives() ([]string, error) {
	entries, err := w.fsys.ReadDir(w.dir)
	if err != nil {
		return nil, &IOError{Op: "list wal archives", Err: err}
	}

	var names []string

	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, walArchivePrefix) || !strings.HasSuffix(name, walArchiveSuffix) {
			continue
		}

		names = append(names, name)
	}

	sort.Strings(names)

	return names, nil
}

// prune removes the oldest archive segments beyond the retention
// count. Failures are logged and skipped; pruning never blocks writes.
func (w *walWriter) prune() {
	names, err := w.archives()
	if err != nil {
		w.logger.Warn("wal archive listing failed", "error", err)

		return
	}

	for len(names) > w.maxArchives {
		victim := names[0]
		names = names[1:]

		if err := w.fsys.Remove(filepath.Join(w.dir, victim)); err != nil {
			w.logger.Warn("wal archive prune failed", "segment", victim, "error", err)

			continue
		}

		w.logger.Debug("wal archive pruned", "segment", victim)
	}
}

// sync flushes the active file to stable storage.
func (w *walWriter) sync() error {
	if w.file == nil {
		return nil
	}

	if err := w.file.Datasync(); err != nil {
		return &IOError{Op: "sync wal", Err: err}
	}

	return nil
}

// position returns the current byte size of the active file.
func (w *walWriter) position() int64 {
	return w.size
}

// close syncs and closes the active file. Safe to call twice.
func (w *walWriter) close() error {
	if w.file == nil {
		return nil
	}

	err := w.file.Datasync()

	if cerr := w.file.Close(); err == nil {
		err = cerr
	}

	w.file = nil

	if err != nil {
		return &IOError{Op: "close wal", Err: err}
	}

	return nil
}

// syncDir flushes directory metadata so renames and new files survive
// a crash.
func syncDir(fsys fs.FileSystem, dir string) error {
	f, err := fsys.OpenFile(dir, os.O_RDONLY, 0)
	if err != nil {
		return err
	}
	defer f.Close()

	return f.Sync()
}
