package storage

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"nodeIndexer/internal/model"
)

func TestJsonlSinkAppend(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "decode_errors.jsonl")
	sink := NewJsonlSink(path)

	require.NoError(t, sink.Append(model.DecodeError{TxHash: "0x01", Error: "bad data"}))
	require.NoError(t, sink.Append(model.DecodeError{TxHash: "0x02"}, model.DecodeError{TxHash: "0x03"}))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 3)
	require.Contains(t, lines[0], `"error":"bad data"`)
}

func TestJsonlSinkNil(t *testing.T) {
	var sink *JsonlSink
	require.NoError(t, sink.Append(model.DecodeError{}))
}
