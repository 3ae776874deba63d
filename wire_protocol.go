package waveviewer

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
)

// Protocol constants
const (
	// ProtocolVersion is the version byte written into every frame
	ProtocolVersion byte = 1

	// Frame type constants
	FrameTypeAddLine    byte = 0x01
	FrameTypeRemoveLine byte = 0x02
	FrameTypeClear      byte = 0x03
	FrameTypeAutoscale  byte = 0x04

	// Header size in bytes
	EnvelopeHeaderSize = 8

	// MaxFrameLength bounds a payload, so a corrupt length cannot make the
	// reader allocate gigabytes. It fits about 16M samples.
	MaxFrameLength = 128 << 20
)

// ErrFrameTooLarge is returned for payloads over MaxFrameLength.
var ErrFrameTooLarge = errors.New("frame too large")

var frameTypes = map[CommandType]byte{
	CommandAddLine:    FrameTypeAddLine,
	CommandRemoveLine: FrameTypeRemoveLine,
	CommandClear:      FrameTypeClear,
	CommandAutoscale:  FrameTypeAutoscale,
}

// EnvelopeHeader precedes every command payload on the pipe
type EnvelopeHeader struct {
	Version  byte
	Reserved [2]byte // Reserved for future use
	Type     byte
	Length   uint32 // Payload length in bytes
}

// EncodeEnvelopeHeader encodes the envelope header into a byte slice
func EncodeEnvelopeHeader(env EnvelopeHeader) []byte {
	buf := make([]byte, EnvelopeHeaderSize)
	buf[0] = env.Version
	buf[1] = env.Reserved[0]
	buf[2] = env.Reserved[1]
	buf[3] = env.Type
	binary.LittleEndian.PutUint32(buf[4:8], env.Length)
	return buf
}

// DecodeEnvelopeHeader decodes the envelope header from a byte slice
func DecodeEnvelopeHeader(buf []byte) (EnvelopeHeader, error) {
	if len(buf) < EnvelopeHeaderSize {
		return EnvelopeHeader{}, fmt.Errorf("buffer too short: expected at least %d bytes, got %d", EnvelopeHeaderSize, len(buf))
	}

	env := EnvelopeHeader{
		Version: buf[0],
		Type:    buf[3],
		Length:  binary.LittleEndian.Uint32(buf[4:8]),
	}
	env.Reserved[0] = buf[1]
	env.Reserved[1] = buf[2]

	return env, nil
}

// EncodeCommand encodes a full frame (header + payload) for cmd.
func EncodeCommand(cmd Command) ([]byte, error) {
	frameType, ok := frameTypes[cmd.Type]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownCommand, cmd.Type)
	}

	var payload []byte
	switch cmd.Type {
	case CommandAddLine:
		payload = encodeAddLinePayload(cmd)
	case CommandRemoveLine:
		payload = appendString(nil, cmd.Name)
	}

	if len(payload) > MaxFrameLength {
		return nil, fmt.Errorf("%w: %d byte payload, limit is %d", ErrFrameTooLarge, len(payload), MaxFrameLength)
	}

	header := EncodeEnvelopeHeader(EnvelopeHeader{
		Version: ProtocolVersion,
		Type:    frameType,
		Length:  uint32(len(payload)),
	})

	return append(header, payload...), nil
}

// Layout: nameLen(4) name offset(8) n(4) m(4) t[n] ys[m][n]
func encodeAddLinePayload(cmd Command) []byte {
	n := len(cmd.T)
	m := len(cmd.Ys)

	buf := make([]byte, 0, 4+len(cmd.Name)+8+8+8*n*(m+1))
	buf = appendString(buf, cmd.Name)
	buf = binary.LittleEndian.AppendUint64(buf, math.Float64bits(cmd.Offset))
	buf = binary.LittleEndian.AppendUint32(buf, uint32(n))
	buf = binary.LittleEndian.AppendUint32(buf, uint32(m))
	buf = appendFloats(buf, cmd.T)
	for _, y := range cmd.Ys {
		buf = appendFloats(buf, y)
	}

	return buf
}

// DecodeCommand decodes the payload of a frame whose header was already read.
func DecodeCommand(env EnvelopeHeader, payload []byte) (Command, error) {
	if env.Version != ProtocolVersion {
		return Command{}, fmt.Errorf("unsupported protocol version %d", env.Version)
	}

	if uint32(len(payload)) != env.Length {
		return Command{}, fmt.Errorf("buffer size mismatch: expected %d bytes, got %d", env.Length, len(payload))
	}

	switch env.Type {
	case FrameTypeAddLine:
		return decodeAddLinePayload(payload)
	case FrameTypeRemoveLine:
		d := payloadDecoder{buf: payload}
		name := d.string()
		if err := d.finish(); err != nil {
			return Command{}, fmt.Errorf("remove_line: %w", err)
		}
		return RemoveLineCommand(name), nil
	case FrameTypeClear, FrameTypeAutoscale:
		if len(payload) != 0 {
			return Command{}, fmt.Errorf("unexpected %d byte payload for type 0x%02x", len(payload), env.Type)
		}
		if env.Type == FrameTypeClear {
			return ClearCommand(), nil
		}
		return AutoscaleCommand(), nil
	default:
		return Command{}, fmt.Errorf("%w: type 0x%02x", ErrUnknownCommand, env.Type)
	}
}

func decodeAddLinePayload(payload []byte) (Command, error) {
	d := payloadDecoder{buf: payload}
	name := d.string()
	offset := d.float()
	n := d.uint32()
	m := d.uint32()

	// Validate before allocating so a corrupt length cannot ask for gigabytes.
	if d.err == nil && uint64(d.remaining()) != 8*uint64(n)*(uint64(m)+1) {
		return Command{}, fmt.Errorf("add_line: buffer size mismatch: expected %d bytes for %d samples x %d series, got %d", 8*uint64(n)*(uint64(m)+1), n, m, d.remaining())
	}

	t := d.floats(int(n))
	ys := make([][]float64, 0, m)
	for i := uint32(0); i < m && d.err == nil; i++ {
		ys = append(ys, d.floats(int(n)))
	}

	if err := d.finish(); err != nil {
		return Command{}, fmt.Errorf("add_line: %w", err)
	}

	return AddLineCommand(Line{Name: name, T: t, Ys: ys, Offset: offset}), nil
}

// WriteCommand encodes cmd and writes the frame to w.
func WriteCommand(w io.Writer, cmd Command) error {
	frame, err := EncodeCommand(cmd)
	if err != nil {
		return err
	}

	_, err = w.Write(frame)
	return err
}

// ReadCommand reads exactly one frame from r. io.EOF is returned untouched
// when r ends cleanly between frames; a frame cut short yields
// io.ErrUnexpectedEOF.
func ReadCommand(r io.Reader) (Command, error) {
	headerBuf := make([]byte, EnvelopeHeaderSize)
	if _, err := io.ReadFull(r, headerBuf); err != nil {
		return Command{}, err
	}

	env, err := DecodeEnvelopeHeader(headerBuf)
	if err != nil {
		return Command{}, err
	}

	if env.Length > MaxFrameLength {
		return Command{}, fmt.Errorf("%w: header announces %d bytes, limit is %d", ErrFrameTooLarge, env.Length, MaxFrameLength)
	}

	payload := make([]byte, env.Length)
	if _, err := io.ReadFull(r, payload); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return Command{}, err
	}

	return DecodeCommand(env, payload)
}

func appendString(buf []byte, s string) []byte {
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(s)))
	return append(buf, s...)
}

func appendFloats(buf []byte, values []float64) []byte {
	for _, v := range values {
		buf = binary.LittleEndian.AppendUint64(buf, math.Float64bits(v))
	}
	return buf
}

// payloadDecoder reads little endian fields sequentially and remembers the
// first error, so callers check once at the end.
type payloadDecoder struct {
	buf []byte
	off int
	err error
}

func (d *payloadDecoder) remaining() int {
	return len(d.buf) - d.off
}

func (d *payloadDecoder) take(n int) []byte {
	if d.err != nil {
		return nil
	}

	if n < 0 || d.remaining() < n {
		d.err = fmt.Errorf("buffer too short: need %d bytes at offset %d, have %d", n, d.off, d.remaining())
		return nil
	}

	b := d.buf[d.off : d.off+n]
	d.off += n
	return b
}

func (d *payloadDecoder) uint32() uint32 {
	b := d.take(4)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint32(b)
}

func (d *payloadDecoder) float() float64 {
	b := d.take(8)
	if b == nil {
		return 0
	}
	return math.Float64frombits(binary.LittleEndian.Uint64(b))
}

func (d *payloadDecoder) string() string {
	n := d.uint32()
	return string(d.take(int(n)))
}

func (d *payloadDecoder) floats(n int) []float64 {
	b := d.take(8 * n)
	if b == nil {
		return nil
	}

	values := make([]float64, n)
	for i := range values {
		values[i] = math.Float64frombits(binary.LittleEndian.Uint64(b[8*i:]))
	}
	return values
}

func (d *payloadDecoder) finish() error {
	if d.err != nil {
		return d.err
	}

	if d.remaining() != 0 {
		return fmt.Errorf("%d trailing bytes", d.remaining())
	}

	return nil
}
