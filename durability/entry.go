package durability

import (
	"bytes"
	"encoding/json"
	"strconv"
	"time"

	"github.com/hupe1980/docdb/internal/checksum"
)

// Op identifies the kind of operation a WAL entry records.
type Op string

const (
	// OpInsert records inserted documents.
	OpInsert Op = "insert"
	// OpUpdate records an update with its query and changes.
	OpUpdate Op = "update"
	// OpRemove records a remove with its query.
	OpRemove Op = "remove"
	// OpCreate records a collection creation. Collection-level ops
	// carry no payload.
	OpCreate Op = "create"
	// OpDrop records a collection drop.
	OpDrop Op = "drop"
)

// Entry is a single write-ahead log record. Entries are persisted as
// newline-delimited JSON, one record per line, with the checksum
// covering every other field. A record whose checksum does not match
// on read is treated as corrupt and never applied.
type Entry struct {
	ID         string          `json:"id"`
	Timestamp  time.Time       `json:"ts"`
	Op         Op              `json:"op"`
	Collection string          `json:"collection,omitempty"`
	Data       json.RawMessage `json:"data,omitempty"`
	Checksum   string          `json:"checksum"`
}

// payload is the canonical byte form the checksum covers. It is built
// by hand rather than by re-marshaling so the result does not depend
// on which codec wrote the record.
func (e *Entry) payload() []byte {
	var b bytes.Buffer

	b.WriteString(e.ID)
	b.WriteByte('|')
	b.WriteString(strconv.FormatInt(e.Timestamp.UnixNano(), 10))
	b.WriteByte('|')
	b.WriteString(string(e.Op))
	b.WriteByte('|')
	b.WriteString(e.Collection)
	b.WriteByte('|')
	b.Write(e.Data)

	return b.Bytes()
}

// Seal computes and stores the entry's checksum.
func (e *Entry) Seal(p checksum.Provider) {
	e.Checksum = p.Sum(e.payload())
}

// Verify reports whether the stored checksum matches the entry's
// current content.
func (e *Entry) Verify(p checksum.Provider) bool {
	return e.Checksum != "" && e.Checksum == p.Sum(e.payload())
}
