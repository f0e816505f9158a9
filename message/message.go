// Package message is the binary frame set exchanged on the data channel
// once it is open.
package message

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

type Kind uint8

const (
	KindError Kind = iota
	KindClientHello
	KindServerHello
	KindMeasure
	KindControl
)

func (k Kind) String() string {
	switch k {
	case KindError:
		return "error"
	case KindClientHello:
		return "client-hello"
	case KindServerHello:
		return "server-hello"
	case KindMeasure:
		return "measure"
	case KindControl:
		return "control"
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Message is one frame. Only the field matching Kind is meaningful.
type Message struct {
	Kind Kind
	// ID is the client id carried by ServerHello.
	ID uint32
	// Measure is the attitude sample carried by Measure.
	Measure [3]float64
	// Control is the flight command carried by Control.
	Control [4]float64
}

func ClientHello() Message          { return Message{Kind: KindClientHello} }
func ServerHello(id uint32) Message { return Message{Kind: KindServerHello, ID: id} }
func Measure(v [3]float64) Message  { return Message{Kind: KindMeasure, Measure: v} }
func Control(v [4]float64) Message  { return Message{Kind: KindControl, Control: v} }
func Error() Message                { return Message{Kind: KindError} }

// payload sizes after the tag byte
var sizes = map[Kind]int{
	KindError:       0,
	KindClientHello: 0,
	KindServerHello: 4,
	KindMeasure:     3 * 8,
	KindControl:     4 * 8,
}

var ErrMalformed = errors.New("malformed message")

// Encode lays out the tag byte followed by a big-endian payload.
func Encode(m Message) []byte {
	size, ok := sizes[m.Kind]
	if !ok {
		return []byte{byte(KindError)}
	}
	buf := make([]byte, 1+size)
	buf[0] = byte(m.Kind)
	switch m.Kind {
	case KindServerHello:
		binary.BigEndian.PutUint32(buf[1:], m.ID)
	case KindMeasure:
		putFloats(buf[1:], m.Measure[:])
	case KindControl:
		putFloats(buf[1:], m.Control[:])
	}
	return buf
}

func Decode(data []byte) (m Message, err error) {
	if len(data) == 0 {
		return Error(), fmt.Errorf("%w: empty frame", ErrMalformed)
	}
	m.Kind = Kind(data[0])
	size, ok := sizes[m.Kind]
	if !ok {
		return Error(), fmt.Errorf("%w: unknown kind %d", ErrMalformed, data[0])
	}
	if len(data) != 1+size {
		return Error(), fmt.Errorf("%w: %s frame is %d bytes, want %d", ErrMalformed, m.Kind, len(data), 1+size)
	}
	switch m.Kind {
	case KindServerHello:
		m.ID = binary.BigEndian.Uint32(data[1:])
	case KindMeasure:
		getFloats(data[1:], m.Measure[:])
	case KindControl:
		getFloats(data[1:], m.Control[:])
	}
	return m, nil
}

// Parse is Decode that maps every undecodable frame to an Error message.
func Parse(data []byte) Message {
	m, err := Decode(data)
	if err != nil {
		return Error()
	}
	return m
}

func putFloats(buf []byte, v []float64) {
	for i, f := range v {
		binary.BigEndian.PutUint64(buf[i*8:], math.Float64bits(f))
	}
}

func getFloats(buf []byte, v []float64) {
	for i := range v {
		v[i] = math.Float64frombits(binary.BigEndian.Uint64(buf[i*8:]))
	}
}
