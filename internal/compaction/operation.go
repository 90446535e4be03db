package compaction

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownOperation is returned when an operation name cannot be parsed
var ErrUnknownOperation = errors.New("unknown operation type")

// OperationType identifies the kind of maintenance task
type OperationType int

const (
	OperationCompaction OperationType = iota
	OperationValidation
	OperationKeyCacheSave
	OperationRowCacheSave
	OperationCleanup
	OperationScrub
	OperationIndexBuild
)

var operationNames = map[OperationType]string{
	OperationCompaction:   "COMPACTION",
	OperationValidation:   "VALIDATION",
	OperationKeyCacheSave: "KEY_CACHE_SAVE",
	OperationRowCacheSave: "ROW_CACHE_SAVE",
	OperationCleanup:      "CLEANUP",
	OperationScrub:        "SCRUB",
	OperationIndexBuild:   "INDEX_BUILD",
}

// String returns the wire name of the operation type
func (t OperationType) String() string {
	if name, ok := operationNames[t]; ok {
		return name
	}
	return fmt.Sprintf("OPERATION_%d", int(t))
}

// ParseOperationType parses a wire name, case-insensitively
func ParseOperationType(s string) (OperationType, error) {
	want := strings.ToUpper(strings.TrimSpace(s))
	for t, name := range operationNames {
		if name == want {
			return t, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownOperation, s)
}
