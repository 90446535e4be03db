package schema

import (
	"time"

	"segcompact/internal/compaction"
)

// Table represents a table registered in the schema
type Table struct {
	ID        compaction.TableID `json:"id"`
	Keyspace  string             `json:"keyspace"`
	Name      string             `json:"name"`
	CreatedAt time.Time          `json:"created_at"`
}

// Prefix returns the object prefix holding the table's segments
func (t *Table) Prefix() string {
	return t.Keyspace + "/" + t.Name + "/"
}

// Store defines the interface for schema persistence
type Store interface {
	// GetTable returns nil, nil when the table does not exist
	GetTable(id compaction.TableID) (*Table, error)
	SaveTable(table *Table) error
	DropTable(id compaction.TableID) error
	ListTables() ([]*Table, error)

	Close() error
}

// Lookup adapts a Store to compaction.MetadataLookup
type Lookup struct {
	Store Store
}

// Lookup resolves id, treating store errors as a dropped table
func (l Lookup) Lookup(id compaction.TableID) (string, string, bool) {
	table, err := l.Store.GetTable(id)
	if err != nil || table == nil {
		return "", "", false
	}
	return table.Keyspace, table.Name, true
}
