package vm

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/fxamacker/cbor/v2"
)

// Library file format (.rvl):
// - Magic: "RVML" (4 bytes)
// - Version: uint16
// - PayloadLength: uint32
// - Payload: canonical CBOR {segments: [bytes...], names: [text...]}

const (
	BytecodeMagic   = "RVML"
	BytecodeVersion = 1
)

var (
	ErrInvalidMagic   = errors.New("invalid library magic")
	ErrInvalidVersion = errors.New("unsupported library version")
)

// Program is an assembled library plus optional segment names.
type Program struct {
	Segments Library
	Names    []string // Names[i] labels Segments[i]; may be shorter
}

// Name returns the label of segment i, or "seg<i>".
func (p *Program) Name(i int) string {
	if i < len(p.Names) && p.Names[i] != "" {
		return p.Names[i]
	}
	return fmt.Sprintf("seg%d", i)
}

type wireProgram struct {
	Segments [][]byte `cbor:"segments"`
	Names    []string `cbor:"names,omitempty"`
}

var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("vm: cbor enc mode: %v", err))
	}
	cborEncMode = em
}

// SerializeProgram serializes a Program to the library file format.
func SerializeProgram(p *Program) ([]byte, error) {
	w := wireProgram{Names: p.Names}
	for _, seg := range p.Segments {
		w.Segments = append(w.Segments, []byte(seg))
	}
	payload, err := cborEncMode.Marshal(w)
	if err != nil {
		return nil, fmt.Errorf("encoding payload: %w", err)
	}

	buf := new(bytes.Buffer)
	buf.WriteString(BytecodeMagic)
	if err := binary.Write(buf, binary.LittleEndian, uint16(BytecodeVersion)); err != nil {
		return nil, fmt.Errorf("writing version: %w", err)
	}
	if err := binary.Write(buf, binary.LittleEndian, uint32(len(payload))); err != nil {
		return nil, fmt.Errorf("writing payload length: %w", err)
	}
	buf.Write(payload)
	return buf.Bytes(), nil
}

// DeserializeProgram parses the library file format.
func DeserializeProgram(data []byte) (*Program, error) {
	buf := bytes.NewReader(data)

	magic := make([]byte, 4)
	if _, err := io.ReadFull(buf, magic); err != nil {
		return nil, fmt.Errorf("reading magic: %w", err)
	}
	if string(magic) != BytecodeMagic {
		return nil, ErrInvalidMagic
	}

	var version uint16
	if err := binary.Read(buf, binary.LittleEndian, &version); err != nil {
		return nil, fmt.Errorf("reading version: %w", err)
	}
	if version != BytecodeVersion {
		return nil, fmt.Errorf("%w: %d", ErrInvalidVersion, version)
	}

	var n uint32
	if err := binary.Read(buf, binary.LittleEndian, &n); err != nil {
		return nil, fmt.Errorf("reading payload length: %w", err)
	}
	if int64(n) != int64(buf.Len()) {
		return nil, fmt.Errorf("payload length %d, %d bytes remain", n, buf.Len())
	}
	payload := make([]byte, n)
	if _, err := io.ReadFull(buf, payload); err != nil {
		return nil, fmt.Errorf("reading payload: %w", err)
	}

	var w wireProgram
	if err := cbor.Unmarshal(payload, &w); err != nil {
		return nil, fmt.Errorf("decoding payload: %w", err)
	}
	p := &Program{Names: w.Names}
	for _, seg := range w.Segments {
		p.Segments = append(p.Segments, Segment(seg))
	}
	return p, nil
}

// Disassemble converts a Program back to assembler source. Bytes that do
// not decode are emitted as .byte directives so nothing is lost.
func Disassemble(p *Program) string {
	var buf bytes.Buffer

	buf.WriteString("; Disassembled from regvm library\n")
	fmt.Fprintf(&buf, "; %d segments\n", len(p.Segments))

	for i, seg := range p.Segments {
		fmt.Fprintf(&buf, "\n.segment %s ; %d bytes\n", p.Name(i), len(seg))
		d := NewDecoder(seg)
		for !d.Done() {
			inst, err := d.Next()
			if err != nil {
				for off := inst.Offset; off < len(seg); off++ {
					fmt.Fprintf(&buf, "\t%-24s ; %04d\n", fmt.Sprintf(".byte 0x%02X", seg[off]), off)
				}
				fmt.Fprintf(&buf, "; %v\n", err)
				break
			}
			fmt.Fprintf(&buf, "\t%-24s ; %04d\n", inst, inst.Offset)
		}
	}

	return buf.String()
}
