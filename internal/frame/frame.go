package frame

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/zlib"
)

// Kind is the frame signal code carried in the "s" field.
type Kind int

const (
	KindEvent     Kind = 0 // Server → client event, carries a sequence number
	KindHello     Kind = 1 // Handshake result
	KindPing      Kind = 2 // Client → server heartbeat
	KindPong      Kind = 3 // Server → client heartbeat acknowledgement
	KindResume    Kind = 4 // Client → server resume request
	KindReconnect Kind = 5 // Server asks the client to reconnect from scratch
	KindResumeAck Kind = 6 // Server confirms a resume
)

// NoSequence marks a frame without an "sn" field.
const NoSequence = -1

// Errors
var (
	ErrMalformed   = errors.New("malformed frame")
	ErrUnknownKind = errors.New("unknown frame kind")
)

var kindNames = map[Kind]string{
	KindEvent:     "EVENT",
	KindHello:     "HELLO",
	KindPing:      "HEARTBEAT_PING",
	KindPong:      "HEARTBEAT_PONG",
	KindResume:    "RESUME",
	KindReconnect: "RECONNECT_REQUEST",
	KindResumeAck: "RESUME_ACK",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "UNKNOWN(" + strconv.Itoa(int(k)) + ")"
}

// Valid reports whether k is one of the seven protocol kinds.
func (k Kind) Valid() bool {
	_, ok := kindNames[k]
	return ok
}

// Frame is one decoded gateway message.
type Frame struct {
	Kind     Kind
	Sequence int             // NoSequence unless Kind == KindEvent
	Payload  json.RawMessage // Raw "d" document, may be nil
}

func (f Frame) String() string {
	return fmt.Sprintf("Frame{kind=%s, sn=%d, d=%d bytes}", f.Kind, f.Sequence, len(f.Payload))
}

// wireFrame is the JSON shape on the socket.
type wireFrame struct {
	S  *int            `json:"s"`
	SN *int            `json:"sn,omitempty"`
	D  json.RawMessage `json:"d,omitempty"`
}

// Decode parses one gateway message. Binary messages are inflated first.
func Decode(compressed bool, data []byte) (Frame, error) {
	if compressed {
		inflated, err := Inflate(data)
		if err != nil {
			return Frame{}, err
		}
		data = inflated
	}

	var w wireFrame
	if err := json.Unmarshal(data, &w); err != nil {
		return Frame{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if w.S == nil {
		return Frame{}, fmt.Errorf("%w: missing \"s\"", ErrMalformed)
	}

	kind := Kind(*w.S)
	if !kind.Valid() {
		return Frame{}, fmt.Errorf("%w: %d", ErrUnknownKind, *w.S)
	}

	f := Frame{
		Kind:     kind,
		Sequence: NoSequence,
		Payload:  w.D,
	}
	if w.SN != nil {
		f.Sequence = *w.SN
	}

	if kind == KindEvent && f.Sequence < 0 {
		return Frame{}, fmt.Errorf("%w: event without sequence", ErrMalformed)
	}

	return f, nil
}

// Inflate decompresses a binary gateway message. zlib-wrapped streams are
// the norm; raw DEFLATE streams are accepted as a fallback.
func Inflate(data []byte) ([]byte, error) {
	zr, err := zlib.NewReader(bytes.NewReader(data))
	if err == nil {
		defer zr.Close()
		out, err := io.ReadAll(zr)
		if err != nil {
			return nil, fmt.Errorf("%w: inflate zlib: %v", ErrMalformed, err)
		}
		return out, nil
	}
	if !errors.Is(err, zlib.ErrHeader) {
		return nil, fmt.Errorf("%w: open zlib: %v", ErrMalformed, err)
	}

	fr := flate.NewReader(bytes.NewReader(data))
	defer fr.Close()
	out, err := io.ReadAll(fr)
	if err != nil {
		return nil, fmt.Errorf("%w: inflate deflate: %v", ErrMalformed, err)
	}
	return out, nil
}

// Ping encodes a heartbeat carrying the last processed sequence.
func Ping(sn int) []byte {
	return encodeSignal(KindPing, sn)
}

// Resume encodes the resume message sent after a heartbeat recovers.
func Resume(sn int) []byte {
	return encodeSignal(KindResume, sn)
}

func encodeSignal(kind Kind, sn int) []byte {
	// {"s":2,"sn":123}
	buf := make([]byte, 0, 24)
	buf = append(buf, `{"s":`...)
	buf = strconv.AppendInt(buf, int64(kind), 10)
	buf = append(buf, `,"sn":`...)
	buf = strconv.AppendInt(buf, int64(sn), 10)
	buf = append(buf, '}')
	return buf
}
