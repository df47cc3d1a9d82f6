package wire

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"time"

	"github.com/rustyhorde/barto/barrors"
)

// Message is implemented by every wire frame payload type. The tag assigned
// to each type in the variant table below is part of the wire contract:
// it may never be renumbered, only appended to.
type Message interface {
	isMessage()
}

func (Hello) isMessage()       {}
func (HelloAck) isMessage()    {}
func (Run) isMessage()         {}
func (Output) isMessage()      {}
func (Status) isMessage()      {}
func (Ping) isMessage()        {}
func (Pong) isMessage()        {}
func (Shutdown) isMessage()    {}
func (CliHello) isMessage()    {}
func (CliRequest) isMessage()  {}
func (CliResponse) isMessage() {}

type tag byte

const (
	tagHello       tag = 1
	tagHelloAck    tag = 2
	tagRun         tag = 3
	tagOutput      tag = 4
	tagStatus      tag = 5
	tagPing        tag = 6
	tagPong        tag = 7
	tagShutdown    tag = 8
	tagCliHello    tag = 9
	tagCliRequest  tag = 10
	tagCliResponse tag = 11
)

// UnknownVariant is returned by Decode when a frame's leading tag byte does
// not correspond to any entry in the variant table. The session must close
// with policy_violation when this occurs; Decode itself only reports it.
var UnknownVariant = fmt.Errorf("%w: unknown wire variant tag", barrors.ProtocolError)

func tagFor(m Message) (tag, error) {
	switch m.(type) {
	case Hello:
		return tagHello, nil
	case HelloAck:
		return tagHelloAck, nil
	case Run:
		return tagRun, nil
	case Output:
		return tagOutput, nil
	case Status:
		return tagStatus, nil
	case Ping:
		return tagPing, nil
	case Pong:
		return tagPong, nil
	case Shutdown:
		return tagShutdown, nil
	case CliHello:
		return tagCliHello, nil
	case CliRequest:
		return tagCliRequest, nil
	case CliResponse:
		return tagCliResponse, nil
	default:
		return 0, fmt.Errorf("%w: %T has no assigned tag", barrors.ProtocolError, m)
	}
}

func init() {
	// CliResult.Payload carries arbitrary query results; register the shapes
	// the sink and hub actually produce so gob can encode the interface
	// value, plus every scalar type that appears as a map value within them
	// (sql.Rows.Scan into interface{} and the hub's own map-building code
	// both produce these concrete types).
	gob.Register(map[string]any{})
	gob.Register([]any{})
	gob.Register([]map[string]any{})
	gob.Register(int(0))
	gob.Register(int64(0))
	gob.Register(float64(0))
	gob.Register(uint8(0))
	gob.Register(true)
	gob.Register("")
	gob.Register([]byte(nil))
	gob.Register(time.Time{})
}

// Encode writes a length-independent frame: one tag byte followed by the gob
// encoding of m's concrete payload. No additional framing is added — the
// websocket binary frame itself delimits the message.
func Encode(m Message) ([]byte, error) {
	t, err := tagFor(m)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	buf.WriteByte(byte(t))
	enc := gob.NewEncoder(&buf)
	if err := enc.Encode(m); err != nil {
		return nil, fmt.Errorf("%w: encode %T: %v", barrors.ProtocolError, m, err)
	}
	return buf.Bytes(), nil
}

// Decode reads a frame produced by Encode and returns the concrete Message it
// carried. An unrecognized tag yields UnknownVariant.
func Decode(frame []byte) (Message, error) {
	if len(frame) < 1 {
		return nil, fmt.Errorf("%w: empty frame", barrors.ProtocolError)
	}
	t := tag(frame[0])
	body := bytes.NewReader(frame[1:])
	dec := gob.NewDecoder(body)

	switch t {
	case tagHello:
		var m Hello
		if err := decodeInto(dec, &m); err != nil {
			return nil, err
		}
		return m, nil
	case tagHelloAck:
		var m HelloAck
		if err := decodeInto(dec, &m); err != nil {
			return nil, err
		}
		return m, nil
	case tagRun:
		var m Run
		if err := decodeInto(dec, &m); err != nil {
			return nil, err
		}
		return m, nil
	case tagOutput:
		var m Output
		if err := decodeInto(dec, &m); err != nil {
			return nil, err
		}
		return m, nil
	case tagStatus:
		var m Status
		if err := decodeInto(dec, &m); err != nil {
			return nil, err
		}
		return m, nil
	case tagPing:
		var m Ping
		if err := decodeInto(dec, &m); err != nil {
			return nil, err
		}
		return m, nil
	case tagPong:
		var m Pong
		if err := decodeInto(dec, &m); err != nil {
			return nil, err
		}
		return m, nil
	case tagShutdown:
		var m Shutdown
		if err := decodeInto(dec, &m); err != nil {
			return nil, err
		}
		return m, nil
	case tagCliHello:
		var m CliHello
		if err := decodeInto(dec, &m); err != nil {
			return nil, err
		}
		return m, nil
	case tagCliRequest:
		var m CliRequest
		if err := decodeInto(dec, &m); err != nil {
			return nil, err
		}
		return m, nil
	case tagCliResponse:
		var m CliResponse
		if err := decodeInto(dec, &m); err != nil {
			return nil, err
		}
		return m, nil
	default:
		return nil, UnknownVariant
	}
}

func decodeInto[T any](dec *gob.Decoder, out *T) error {
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("%w: decode: %v", barrors.ProtocolError, err)
	}
	return nil
}
