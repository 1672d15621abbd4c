package protocol

import (
	"bytes"
	"fmt"
	"time"

	"github.com/vmihailenco/msgpack/v5"
	"github.com/vmihailenco/msgpack/v5/msgpcode"
)

// RecordVersion is the schema version stamped into serialized worker
// records. A master refuses records from a different version rather than
// guessing at field layout.
const RecordVersion = 1

// SuitePair identifies a suite: a name unique within the file at Path.
// It is the queue element and the unit of dispatch.
type SuitePair struct {
	Name string
	Path string
}

// EncodeMsgpack encodes the pair as a two-element array.
func (p *SuitePair) EncodeMsgpack(enc *msgpack.Encoder) error {
	if err := enc.EncodeArrayLen(2); err != nil {
		return err
	}
	if err := enc.EncodeString(p.Name); err != nil {
		return err
	}
	return enc.EncodeString(p.Path)
}

// DecodeMsgpack decodes the two-element array form.
func (p *SuitePair) DecodeMsgpack(dec *msgpack.Decoder) error {
	n, err := dec.DecodeArrayLen()
	if err != nil {
		return err
	}
	if n != 2 {
		return fmt.Errorf("suite pair: want 2 elements, got %d", n)
	}
	if p.Name, err = dec.DecodeString(); err != nil {
		return err
	}
	p.Path, err = dec.DecodeString()
	return err
}

// SuiteStatus is the outcome of one executed suite.
type SuiteStatus string

const (
	SuitePassed  SuiteStatus = "pass"
	SuiteFailed  SuiteStatus = "fail"
	SuiteErrored SuiteStatus = "error"
)

// SuiteResult records one suite execution inside a worker.
type SuiteResult struct {
	Name            string      `msgpack:"name"`
	Path            string      `msgpack:"path"`
	DurationSeconds float64     `msgpack:"duration_seconds"`
	Status          SuiteStatus `msgpack:"status"`

	// Detail carries framework-specific failure output as an opaque blob.
	Detail []byte `msgpack:"detail,omitempty"`
}

// WorkerRecord is the finalized per-worker completion record, created at
// spawn and populated at reap. Relays forward it to the primary verbatim.
type WorkerRecord struct {
	Version     int           `msgpack:"version"`
	Num         int           `msgpack:"num"`
	Pid         int           `msgpack:"pid"`
	Host        string        `msgpack:"host"`
	StartTime   time.Time     `msgpack:"start_time"`
	EndTime     time.Time     `msgpack:"end_time"`
	ExitStatus  int           `msgpack:"exit_status"`
	Stdout      []byte        `msgpack:"stdout,omitempty"`
	SummaryText string        `msgpack:"summary_text,omitempty"`
	FailureText string        `msgpack:"failure_text,omitempty"`
	SuitesRun   []SuiteResult `msgpack:"suites_run"`
}

// EncodeSuitePair serializes a pair for the wire.
func EncodeSuitePair(p SuitePair) ([]byte, error) {
	return msgpack.Marshal(&p)
}

// DecodeSuitePair deserializes a wire pair.
func DecodeSuitePair(data []byte) (SuitePair, error) {
	var p SuitePair
	if err := msgpack.Unmarshal(data, &p); err != nil {
		return SuitePair{}, fmt.Errorf("decode suite pair: %w", err)
	}
	return p, nil
}

// EncodeWaitSentinel serializes the WAIT reply body.
func EncodeWaitSentinel() ([]byte, error) {
	return msgpack.Marshal(WaitSentinel)
}

// DecodePopReply interprets a POP response body. It returns the dispatched
// pair, or wait=true for the WAIT sentinel. An empty body means the run is
// over and yields ErrRunDone.
func DecodePopReply(data []byte) (pair *SuitePair, wait bool, err error) {
	if len(data) == 0 {
		return nil, false, ErrRunDone
	}

	dec := msgpack.NewDecoder(bytes.NewReader(data))
	code, err := dec.PeekCode()
	if err != nil {
		return nil, false, fmt.Errorf("decode pop reply: %w", err)
	}

	if msgpcode.IsString(code) {
		s, err := dec.DecodeString()
		if err != nil {
			return nil, false, fmt.Errorf("decode pop reply: %w", err)
		}
		if s != WaitSentinel {
			return nil, false, fmt.Errorf("decode pop reply: unexpected sentinel %q", s)
		}
		return nil, true, nil
	}

	var p SuitePair
	if err := dec.Decode(&p); err != nil {
		return nil, false, fmt.Errorf("decode pop reply: %w", err)
	}
	return &p, false, nil
}

// EncodeWorkerRecord serializes a record, stamping the schema version.
func EncodeWorkerRecord(rec *WorkerRecord) ([]byte, error) {
	rec.Version = RecordVersion
	return msgpack.Marshal(rec)
}

// DecodeWorkerRecord deserializes a record and checks the schema version.
func DecodeWorkerRecord(data []byte) (*WorkerRecord, error) {
	var rec WorkerRecord
	if err := msgpack.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decode worker record: %w", err)
	}
	if rec.Version != RecordVersion {
		return nil, fmt.Errorf("worker record version %d, want %d", rec.Version, RecordVersion)
	}
	return &rec, nil
}

// EncodeSuiteResults serializes a worker's per-suite results for the
// handoff file consumed by the master at reap time.
func EncodeSuiteResults(results []SuiteResult) ([]byte, error) {
	return msgpack.Marshal(results)
}

// DecodeSuiteResults deserializes a worker's handoff file.
func DecodeSuiteResults(data []byte) ([]SuiteResult, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var results []SuiteResult
	if err := msgpack.Unmarshal(data, &results); err != nil {
		return nil, fmt.Errorf("decode suite results: %w", err)
	}
	return results, nil
}
