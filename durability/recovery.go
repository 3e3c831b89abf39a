package durability

import (
	"bufio"
	"errors"
	"log/slog"
	"os"

	"github.com/hupe1980/docdb/codec"
	"github.com/hupe1980/docdb/internal/checksum"
	"github.com/hupe1980/docdb/internal/fs"
)

// Scanner buffer sizing. Records larger than maxRecordSize are treated
// as corruption.
const (
	scanBufSize   = 64 * 1024
	maxRecordSize = 16 << 20
)

// RecoveredEntry pairs a valid WAL entry with the byte offset of its
// record in the active log, so replay can be bounded at a snapshot's
// WALPosition.
type RecoveredEntry struct {
	Entry  Entry
	Offset int64
}

// RecoveryResult reports the outcome of a WAL scan. Corrupt records
// are counted and skipped; they never abort the scan.
type RecoveryResult struct {
	Entries   []RecoveredEntry
	Recovered int
	Skipped   int
}

// scanWAL reads the active log line by line, validates each record's
// checksum and returns the valid entries in append order. A missing
// file yields an empty result, not an error. Only real read failures
// propagate.
func scanWAL(fsys fs.FileSystem, path string, c codec.Codec, p checksum.Provider, logger *slog.Logger) (*RecoveryResult, error) {
	result := &RecoveryResult{}

	f, err := fsys.OpenFile(path, os.O_RDONLY, 0)
	if err != nil {
		if os.IsNotExist(err) {
			return result, nil
		}

		return nil, &IOError{Op: "open wal for recovery", Err: err}
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, scanBufSize), maxRecordSize)

	var offset int64

	for scanner.Scan() {
		line := scanner.Bytes()
		recordOffset := offset
		offset += int64(len(line)) + 1

		var entry Entry
		if err := c.Unmarshal(line, &entry); err != nil {
			result.Skipped++

			logger.Warn("wal record unparseable, skipped", "offset", recordOffset, "error", err)

			continue
		}

		if !entry.Verify(p) {
			result.Skipped++

			logger.Warn("wal record checksum mismatch, skipped", "offset", recordOffset, "id", entry.ID)

			continue
		}

		result.Entries = append(result.Entries, RecoveredEntry{Entry: entry, Offset: recordOffset})
		result.Recovered++
	}

	if err := scanner.Err(); err != nil {
		// An oversized line is garbage in the log, not an IO failure.
		if errors.Is(err, bufio.ErrTooLong) {
			result.Skipped++

			logger.Warn("oversized wal record, rest of log skipped", "offset", offset)

			return result, nil
		}

		return nil, &IOError{Op: "read wal", Err: err}
	}

	return result, nil
}
