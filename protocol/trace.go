package protocol

import (
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/fxamacker/cbor/v2"
)

// cborEncMode uses canonical mode so trace files encode deterministically.
var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("protocol: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

// Direction tags a traced message as inbound or outbound.
type Direction string

const (
	Inbound  Direction = "in"
	Outbound Direction = "out"
)

// TraceRecord is one traced message. The blob itself is not recorded,
// only its size, so traces stay small even with large payloads.
type TraceRecord struct {
	Dir       Direction `cbor:"dir"`
	ID        MessageID `cbor:"id"`
	RequestID MessageID `cbor:"request_id"`
	Name      string    `cbor:"name"`
	JSON      string    `cbor:"json"`
	BlobSize  int       `cbor:"blob_size"`
}

// Recorder appends CBOR-encoded trace records of protocol traffic to a
// writer for post-mortem inspection. Safe for concurrent use.
type Recorder struct {
	mu  sync.Mutex
	enc *cbor.Encoder
}

// NewRecorder creates a Recorder writing to w.
func NewRecorder(w io.Writer) *Recorder {
	return &Recorder{enc: cborEncMode.NewEncoder(w)}
}

// Record traces one message.
func (r *Recorder) Record(dir Direction, m Message) error {
	rec := TraceRecord{
		Dir:       dir,
		ID:        m.ID,
		RequestID: m.RequestID,
		Name:      m.Name,
		JSON:      string(m.JSON),
		BlobSize:  len(m.Blob),
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.enc.Encode(rec); err != nil {
		return fmt.Errorf("protocol: encoding trace record: %w", err)
	}
	return nil
}

// ReadTrace decodes a recorded trace stream back into records.
func ReadTrace(r io.Reader) ([]TraceRecord, error) {
	dec := cbor.NewDecoder(r)
	var records []TraceRecord
	for {
		var rec TraceRecord
		if err := dec.Decode(&rec); err != nil {
			if errors.Is(err, io.EOF) {
				return records, nil
			}
			return records, fmt.Errorf("protocol: decoding trace record: %w", err)
		}
		records = append(records, rec)
	}
}
