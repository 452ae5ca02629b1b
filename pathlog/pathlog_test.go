package pathlog

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordFormat(t *testing.T) {
	r := Record{Index: 3, DistanceMM: 255, EncoderLeft: 12, EncoderRight: 10}
	assert.Equal(t, "Index : 3,Current distance : 255 mm, Motor Encoder L: 12, Motor Encoder R: 10", r.Format())
}

func TestWriterAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trace.csv")

	w, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, w.Write(Record{Index: 1, DistanceMM: 300}))
	require.NoError(t, w.Close())

	// reopening keeps what was written before
	w, err = Open(path)
	require.NoError(t, err)
	require.NoError(t, w.Write(Record{Index: 2, DistanceMM: 240, EncoderLeft: -4, EncoderRight: 4}))
	require.NoError(t, w.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t,
		"Index : 1,Current distance : 300 mm, Motor Encoder L: 0, Motor Encoder R: 0\r\n"+
			"Index : 2,Current distance : 240 mm, Motor Encoder L: -4, Motor Encoder R: 4\r\n",
		string(data))
}

func TestWriteAfterClose(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	require.NoError(t, w.Close())

	assert.Error(t, w.Write(Record{}))
	assert.Empty(t, buf.String())
}

func TestOpenFailure(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "missing", "trace.csv"))
	assert.Error(t, err)
}
