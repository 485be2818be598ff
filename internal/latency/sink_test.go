package latency

import (
	"bytes"
	"encoding/json"
	"os"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTryPushDropsWhenFull(t *testing.T) {
	sink := NewSink(1)
	require.True(t, sink.TryPush(Sample{ID: 1}))
	require.False(t, sink.TryPush(Sample{ID: 2}))
	require.Equal(t, uint64(1), sink.Dropped())
}

func TestJSONStreamWriterEmitsColumnarDocument(t *testing.T) {
	sink := NewSink(16)
	f, err := os.CreateTemp(t.TempDir(), "stream-*.json")
	require.NoError(t, err)
	defer f.Close()
	w := NewJSONStreamWriter(f)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = w.Run(sink)
	}()

	sink.TryPush(Sample{ID: 1, WorkerID: 0, SendNs: 100, RecvNs: 150})
	sink.Close()
	wg.Wait()

	body, err := os.ReadFile(f.Name())
	require.NoError(t, err)
	require.Contains(t, string(body), `"headings"`)
	require.Contains(t, string(body), `"data"`)
}

// TestJSONStreamWriterFlushOverwritesPreviousDocument exercises the case a
// single Run-to-completion never does: more than one flush against the same
// file. Each flush must fully supersede the last rather than appending
// after it, leaving exactly one valid JSON document no matter how many
// periodic ticks landed before Close.
func TestJSONStreamWriterFlushOverwritesPreviousDocument(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "stream-*.json")
	require.NoError(t, err)
	defer f.Close()
	w := NewJSONStreamWriter(f)

	w.appendRow(Sample{ID: 1, WorkerID: 0, SendNs: 100, RecvNs: 150})
	require.NoError(t, w.flush())

	w.appendRow(Sample{ID: 2, WorkerID: 0, SendNs: 200, RecvNs: 260})
	require.NoError(t, w.flush())
	require.NoError(t, w.flush()) // a third, identical flush must not grow the file

	body, err := os.ReadFile(f.Name())
	require.NoError(t, err)

	var doc struct {
		Headings []string `json:"headings"`
		Data     [][]any  `json:"data"`
	}
	require.NoError(t, json.Unmarshal(body, &doc))
	require.Len(t, doc.Data, 2, "later flush must overwrite the earlier one, not append beside it")
}

func TestCSVStreamWriterEmitsHeaderAndRow(t *testing.T) {
	sink := NewSink(16)
	var buf bytes.Buffer
	w := NewCSVStreamWriter(&buf)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = w.Run(sink)
	}()

	sink.TryPush(Sample{ID: 1, WorkerID: 0, SendNs: 100, RecvNs: 150})
	sink.Close()
	wg.Wait()

	require.Contains(t, buf.String(), "id,worker,send_ns,recv_ns,latency_ns,kind")
	require.Contains(t, buf.String(), "1,0,100,150,50,0")
}
