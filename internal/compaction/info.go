// Package compaction describes the observable progress of background
// maintenance operations and the handle used to cancel them.
package compaction

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrMissingIdentity is returned by views that require a target table
var ErrMissingIdentity = errors.New("compaction info has no target table")

// absent is how a missing identity field is rendered
const absent = "null"

// Structured view keys, part of the monitoring contract
const (
	KeyID            = "id"
	KeyKeyspace      = "keyspace"
	KeyColumnFamily  = "columnfamily"
	KeyBytesComplete = "bytesComplete"
	KeyTotalBytes    = "totalBytes"
	KeyTaskType      = "taskType"
)

// TableID identifies a table in the schema registry
type TableID int32

// OptionalTableID is a TableID that may be absent
type OptionalTableID struct {
	ID    TableID
	Valid bool
}

// SomeTable wraps a present table id
func SomeTable(id TableID) OptionalTableID {
	return OptionalTableID{ID: id, Valid: true}
}

// NoTable is the absent table id
var NoTable = OptionalTableID{}

// MetadataLookup resolves a table id to its keyspace and table name.
// It reports ok=false for tables that no longer exist.
type MetadataLookup interface {
	Lookup(id TableID) (keyspace, table string, ok bool)
}

type tableMeta struct {
	keyspace string
	name     string
}

// Info is an immutable progress snapshot of one running operation
type Info struct {
	target        OptionalTableID
	meta          *tableMeta // nil when there is no target or it was dropped
	taskType      OperationType
	bytesComplete int64
	totalBytes    int64
}

// NewInfo builds a snapshot for an operation without a single target table
func NewInfo(taskType OperationType, bytesComplete, totalBytes int64) Info {
	return Info{
		target:        NoTable,
		taskType:      taskType,
		bytesComplete: bytesComplete,
		totalBytes:    totalBytes,
	}
}

// NewTableInfo builds a snapshot for an operation on table id, resolving its
// names through lookup. A dropped table leaves keyspace and name absent.
func NewTableInfo(lookup MetadataLookup, id TableID, taskType OperationType, bytesComplete, totalBytes int64) Info {
	info := NewInfo(taskType, bytesComplete, totalBytes)
	info.target = SomeTable(id)
	if lookup != nil {
		if ks, name, ok := lookup.Lookup(id); ok {
			info.meta = &tableMeta{keyspace: ks, name: name}
		}
	}
	return info
}

// WithProgress returns a copy of the snapshot with updated counters
func (i Info) WithProgress(bytesComplete, totalBytes int64) Info {
	i.bytesComplete = bytesComplete
	i.totalBytes = totalBytes
	return i
}

// TaskType returns the operation kind
func (i Info) TaskType() OperationType { return i.taskType }

// Target returns the optional target table id
func (i Info) Target() OptionalTableID { return i.target }

// ID returns the target table id, if any
func (i Info) ID() (TableID, bool) { return i.target.ID, i.target.Valid }

// Keyspace returns the keyspace of the target table, if resolved
func (i Info) Keyspace() (string, bool) {
	if i.meta == nil {
		return "", false
	}
	return i.meta.keyspace, true
}

// ColumnFamily returns the name of the target table, if resolved
func (i Info) ColumnFamily() (string, bool) {
	if i.meta == nil {
		return "", false
	}
	return i.meta.name, true
}

// BytesComplete returns the number of bytes processed so far
func (i Info) BytesComplete() int64 { return i.bytesComplete }

// TotalBytes returns the estimated number of bytes to process
func (i Info) TotalBytes() int64 { return i.totalBytes }

// String renders the snapshot as KIND@id(keyspace, table, done/total)
func (i Info) String() string {
	var b strings.Builder
	b.WriteString(i.taskType.String())
	b.WriteByte('@')
	b.WriteString(i.idString())
	b.WriteByte('(')
	b.WriteString(orAbsent(i.Keyspace()))
	b.WriteString(", ")
	b.WriteString(orAbsent(i.ColumnFamily()))
	fmt.Fprintf(&b, ", %d/%d)", i.bytesComplete, i.totalBytes)
	return b.String()
}

// AsMap returns the structured view exposed to monitoring clients
func (i Info) AsMap() (map[string]string, error) {
	if !i.target.Valid {
		return nil, fmt.Errorf("%s: %w", i.taskType, ErrMissingIdentity)
	}

	return map[string]string{
		KeyID:            i.idString(),
		KeyKeyspace:      orAbsent(i.Keyspace()),
		KeyColumnFamily:  orAbsent(i.ColumnFamily()),
		KeyBytesComplete: strconv.FormatInt(i.bytesComplete, 10),
		KeyTotalBytes:    strconv.FormatInt(i.totalBytes, 10),
		KeyTaskType:      i.taskType.String(),
	}, nil
}

func (i Info) idString() string {
	if !i.target.Valid {
		return absent
	}
	return strconv.FormatInt(int64(i.target.ID), 10)
}

func orAbsent(s string, ok bool) string {
	if !ok {
		return absent
	}
	return s
}
