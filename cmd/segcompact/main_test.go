package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteStatus(t *testing.T) {
	tests := map[string]struct {
		infos  []map[string]string
		expIDs []string
	}{
		"ordered by numeric id": {
			infos: []map[string]string{
				{"id": "10", "taskType": "COMPACTION", "keyspace": "ks1", "columnfamily": "b", "bytesComplete": "5", "totalBytes": "10"},
				{"id": "9", "taskType": "COMPACTION", "keyspace": "ks1", "columnfamily": "a", "bytesComplete": "0", "totalBytes": "10"},
				{"id": "100", "taskType": "CLEANUP", "keyspace": "ks2", "columnfamily": "null", "bytesComplete": "1", "totalBytes": "2"},
			},
			expIDs: []string{"9", "10", "100"},
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			var out bytes.Buffer
			writeStatus(&out, test.infos)

			lines := strings.Split(strings.TrimSpace(out.String()), "\n")
			require.Len(t, lines, len(test.expIDs)+1)
			assert.Equal(t, []string{"ID", "TYPE", "KEYSPACE", "TABLE", "PROGRESS"}, strings.Fields(lines[0]))

			var ids []string
			for _, line := range lines[1:] {
				ids = append(ids, strings.Fields(line)[0])
			}
			assert.Equal(t, test.expIDs, ids)
			assert.Contains(t, lines[2], "50.0%")
		})
	}
}

func TestWriteStatusEmpty(t *testing.T) {
	var out bytes.Buffer
	writeStatus(&out, nil)
	assert.Equal(t, "No operations running\n", out.String())
}
