// Package protocol defines the wire protocol spoken between the host and
// the LED matrix firmware over the serial link.
//
// Requests are `opcode | payload`, responses are `opcode | status | data`.
// There is no length prefix or terminator on the wire; the receiving side
// is responsible for deciding where a frame ends (the firmware drains one
// burst per dispatch cycle, the host uses a silence window).
package protocol

import (
	"errors"
	"fmt"
)

// LEDCount is the number of addressable LEDs on the matrix. Both ends must
// agree on it. LED ids are encoded as a single byte, so it must stay <= 256.
const LEDCount = 64

// RecordSize is the wire size of one (id, r, g, b) LED record.
const RecordSize = 4

// MaxWriteRecords is the largest number of records a single WRITE frame may
// carry. This is a protocol constraint, not a host convenience: larger
// payloads overflow the firmware's receive window for one burst.
const MaxWriteRecords = 16

// Opcode identifies a command.
type Opcode byte

const (
	// OpNone is the dispatcher's idle marker; it never appears in a valid
	// request, but error responses for an unrecognized opcode echo it.
	OpNone Opcode = 0x00
	// OpRead requests the colors of all LEDs. No payload.
	OpRead Opcode = 0x01
	// OpWrite sets individual LEDs. Payload is 1..MaxWriteRecords records.
	OpWrite Opcode = 0x02
	// OpWriteAll sets every LED to one color. Payload is exactly 3 bytes.
	OpWriteAll Opcode = 0x03
)

// Valid reports whether o is an opcode a peer may send.
func (o Opcode) Valid() bool {
	return o == OpRead || o == OpWrite || o == OpWriteAll
}

func (o Opcode) String() string {
	switch o {
	case OpNone:
		return "NONE"
	case OpRead:
		return "READ"
	case OpWrite:
		return "WRITE"
	case OpWriteAll:
		return "WRITE_ALL"
	default:
		return fmt.Sprintf("OPCODE(0x%02X)", byte(o))
	}
}

// Status is the terminal result of one command, reported in the response.
type Status byte

const (
	StatusOK                Status = 0x00
	StatusInvalidDataLength Status = 0x01
	StatusLEDOutOfRange     Status = 0x02
	StatusInvalidState      Status = 0xFE
	StatusInvalidCommand    Status = 0xFF
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "OK"
	case StatusInvalidDataLength:
		return "INVALID_DATA_LENGTH"
	case StatusLEDOutOfRange:
		return "LED_OUT_OF_RANGE"
	case StatusInvalidState:
		return "INVALID_STATE"
	case StatusInvalidCommand:
		return "INVALID_COMMAND"
	default:
		return fmt.Sprintf("STATUS(0x%02X)", byte(s))
	}
}

// Color is an RGB triple as carried on the wire.
type Color struct {
	R, G, B uint8
}

// LED pairs an id with its color.
type LED struct {
	ID    uint8
	Color Color
}

var (
	// ErrShortResponse is returned when a response has fewer than the two
	// mandatory opcode and status bytes.
	ErrShortResponse = errors.New("protocol: response shorter than 2 bytes")
	// ErrTooManyRecords is returned when a WRITE would exceed MaxWriteRecords.
	ErrTooManyRecords = fmt.Errorf("protocol: more than %d records in one WRITE", MaxWriteRecords)
	// ErrBadRecordData is returned when LED record data is not a whole
	// number of records.
	ErrBadRecordData = errors.New("protocol: record data length not a multiple of 4")
)

// Response is a decoded firmware response.
type Response struct {
	Opcode Opcode
	Status Status
	Data   []byte
}

// OK reports whether the firmware accepted the command.
func (r Response) OK() bool { return r.Status == StatusOK }

// EncodeCommand builds a request frame from an opcode and a raw payload.
func EncodeCommand(op Opcode, payload []byte) []byte {
	frame := make([]byte, 0, 1+len(payload))
	frame = append(frame, byte(op))
	return append(frame, payload...)
}

// EncodeRead builds a READ request.
func EncodeRead() []byte {
	return []byte{byte(OpRead)}
}

// EncodeWrite builds a WRITE request for the given LEDs. The caller is
// responsible for splitting larger sets into chunks of MaxWriteRecords.
func EncodeWrite(leds []LED) ([]byte, error) {
	if len(leds) == 0 {
		return nil, errors.New("protocol: WRITE needs at least one record")
	}
	if len(leds) > MaxWriteRecords {
		return nil, ErrTooManyRecords
	}
	frame := make([]byte, 0, 1+len(leds)*RecordSize)
	frame = append(frame, byte(OpWrite))
	for _, led := range leds {
		frame = AppendRecord(frame, led)
	}
	return frame, nil
}

// EncodeWriteAll builds a WRITE_ALL request.
func EncodeWriteAll(c Color) []byte {
	return []byte{byte(OpWriteAll), c.R, c.G, c.B}
}

// AppendRecord appends one (id, r, g, b) record to dst.
func AppendRecord(dst []byte, led LED) []byte {
	return append(dst, led.ID, led.Color.R, led.Color.G, led.Color.B)
}

// EncodeResponse builds a response frame. Responses with a non-OK status
// must carry empty data; this is enforced here rather than left to callers.
func EncodeResponse(op Opcode, st Status, data []byte) []byte {
	if st != StatusOK {
		data = nil
	}
	frame := make([]byte, 0, 2+len(data))
	frame = append(frame, byte(op), byte(st))
	return append(frame, data...)
}

// DecodeResponse parses a complete response frame as assembled by the
// aggregator. Frames shorter than the mandatory two bytes are rejected
// before any field is interpreted.
func DecodeResponse(raw []byte) (Response, error) {
	if len(raw) < 2 {
		return Response{}, ErrShortResponse
	}
	return Response{
		Opcode: Opcode(raw[0]),
		Status: Status(raw[1]),
		Data:   raw[2:],
	}, nil
}

// DecodeRecords parses LED records from READ response data.
func DecodeRecords(data []byte) ([]LED, error) {
	if len(data)%RecordSize != 0 {
		return nil, ErrBadRecordData
	}
	leds := make([]LED, 0, len(data)/RecordSize)
	for i := 0; i+RecordSize <= len(data); i += RecordSize {
		leds = append(leds, LED{
			ID:    data[i],
			Color: Color{R: data[i+1], G: data[i+2], B: data[i+3]},
		})
	}
	return leds, nil
}
