package latency

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"
)

// jsonHeadings is the columnar JSON streaming format's fixed column set.
var jsonHeadings = []string{"id", "worker", "send_ns", "recv_ns", "latency_ns", "kind"}

// flushInterval is how often the streaming writers flush to their backing
// file, balancing durability against hot-path-adjacent I/O pressure.
const flushInterval = 250 * time.Millisecond

// jsonSeekWriter is what JSONStreamWriter needs from its backing file: the
// columnar document is rewritten whole on every flush, so each flush must
// rewind and truncate rather than append, unlike CSV's row-at-a-time writer.
type jsonSeekWriter interface {
	io.Writer
	io.Seeker
	Truncate(size int64) error
}

// JSONStreamWriter drains a Sink and appends each sample as a row in a
// columnar `{headings, data}` document, flushing periodically and once the
// sink is closed.
type JSONStreamWriter struct {
	w    jsonSeekWriter
	rows [][]any
}

// NewJSONStreamWriter returns a writer that emits the full columnar
// document to w on every periodic flush and once more when the sink is
// closed (the columnar shape requires knowing the full row set, unlike
// CSV's row-at-a-time append). w must support
// Seek and Truncate since every periodic flush rewrites the document from
// the start rather than appending to it.
func NewJSONStreamWriter(w jsonSeekWriter) *JSONStreamWriter {
	return &JSONStreamWriter{w: w}
}

func (j *JSONStreamWriter) appendRow(s Sample) {
	j.rows = append(j.rows, []any{s.ID, s.WorkerID, s.SendNs, s.RecvNs, s.LatencyNs(), int(s.Kind)})
}

// Run drains sink until it is closed, buffering rows and flushing the whole
// document every flushInterval and once more before returning.
func (j *JSONStreamWriter) Run(sink *Sink) error {
	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	samples := sink.Samples()
	for {
		select {
		case s, ok := <-samples:
			if !ok {
				return j.flush()
			}
			j.appendRow(s)
		case <-ticker.C:
			if err := j.flush(); err != nil {
				return err
			}
		}
	}
}

// flush rewrites the whole document from the start of the file: each call
// supersedes the previous one rather than appending after it, so a reader
// that opens the file mid-run always finds exactly one valid JSON document.
func (j *JSONStreamWriter) flush() error {
	doc := struct {
		Headings []string `json:"headings"`
		Data     [][]any  `json:"data"`
	}{Headings: jsonHeadings, Data: j.rows}

	if _, err := j.w.Seek(0, io.SeekStart); err != nil {
		return err
	}
	if err := json.NewEncoder(j.w).Encode(doc); err != nil {
		return err
	}
	pos, err := j.w.Seek(0, io.SeekCurrent)
	if err != nil {
		return err
	}
	return j.w.Truncate(pos)
}

// CSVStreamWriter drains a Sink and appends each sample as a CSV row,
// writing the header row once up front.
type CSVStreamWriter struct {
	w          *csv.Writer
	wroteHeader bool
}

// NewCSVStreamWriter returns a writer over w.
func NewCSVStreamWriter(w io.Writer) *CSVStreamWriter {
	return &CSVStreamWriter{w: csv.NewWriter(w)}
}

// Run drains sink until it is closed, appending one row per sample and
// flushing every flushInterval and once more before returning.
func (c *CSVStreamWriter) Run(sink *Sink) error {
	if !c.wroteHeader {
		if err := c.w.Write(jsonHeadings); err != nil {
			return err
		}
		c.wroteHeader = true
	}

	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	samples := sink.Samples()
	for {
		select {
		case s, ok := <-samples:
			if !ok {
				c.w.Flush()
				return c.w.Error()
			}
			row := []string{
				strconv.FormatUint(s.ID, 10),
				strconv.FormatUint(uint64(s.WorkerID), 10),
				strconv.FormatUint(s.SendNs, 10),
				strconv.FormatUint(s.RecvNs, 10),
				strconv.FormatInt(s.LatencyNs(), 10),
				fmt.Sprintf("%d", s.Kind),
			}
			if err := c.w.Write(row); err != nil {
				return err
			}
		case <-ticker.C:
			c.w.Flush()
			if err := c.w.Error(); err != nil {
				return err
			}
		}
	}
}
