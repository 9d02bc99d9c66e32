package image

import (
	"bytes"
	"math"
	"strings"
	"testing"
)

func sampleFile() *File {
	return &File{
		Strings:  []string{"main", "main.inko", "hello", "123456789012345678901234567890"},
		Integers: []int64{42, math.MaxInt64, -1},
		Floats:   []float64{1.5, math.Inf(1)},
		Code: []Code{
			{
				Name:      0,
				File:      1,
				Line:      1,
				Arguments: 1,
				Required:  1,
				Locals:    1,
				Registers: 4,
				Instructions: []Instruction{
					{Opcode: 0, Args: []uint16{0, 0}, Line: 1},
					{Opcode: 5, Args: []uint16{1, 0}, Line: 2},
				},
				Literals: []Literal{
					{Kind: LiteralString, Index: 2},
					{Kind: LiteralInteger, Index: 0},
					{Kind: LiteralInteger, Index: 1},
					{Kind: LiteralFloat, Index: 0},
					{Kind: LiteralBigInteger, Index: 3},
					{Kind: LiteralSymbol, Index: 2},
				},
				Children:   []uint32{1},
				CatchTable: []CatchEntry{{Start: 0, End: 1, Jump: 2, Register: 3}},
			},
			{Name: 2, File: 1, Line: 5, Generator: true, RestArgument: true, Arguments: 1},
		},
		Modules: []Module{{Name: 0, Path: 1, Globals: 2, Body: 0}},
		Entry:   0,
	}
}

func encode(t *testing.T, f *File) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := Write(&buf, f); err != nil {
		t.Fatalf("Write: %s", err)
	}
	return buf.Bytes()
}

func TestImageRoundTrip(t *testing.T) {
	first := encode(t, sampleFile())

	decoded, err := Read(bytes.NewReader(first))
	if err != nil {
		t.Fatalf("Read: %s", err)
	}
	second := encode(t, decoded)
	if !bytes.Equal(first, second) {
		t.Error("the image does not round-trip byte for byte")
	}

	if decoded.Strings[2] != "hello" {
		t.Errorf("Strings[2] = %q", decoded.Strings[2])
	}
	if decoded.Integers[1] != math.MaxInt64 {
		t.Errorf("Integers[1] = %d", decoded.Integers[1])
	}
	if decoded.Floats[1] != math.Inf(1) {
		t.Errorf("Floats[1] = %g", decoded.Floats[1])
	}
	if len(decoded.Code) != 2 || !decoded.Code[1].Generator {
		t.Error("code table lost its shape")
	}
	if got := decoded.Code[0].Instructions[1]; got.Opcode != 5 || got.Args[0] != 1 {
		t.Errorf("instruction decoded as %+v", got)
	}
	if decoded.Code[0].CatchTable[0].Jump != 2 {
		t.Error("catch table lost its shape")
	}
}

func TestReadRejectsBadMagic(t *testing.T) {
	data := encode(t, sampleFile())
	data[0] = 'x'

	if _, err := Read(bytes.NewReader(data)); err == nil {
		t.Error("a bad magic number was accepted")
	}
}

func TestReadRejectsBadVersion(t *testing.T) {
	data := encode(t, sampleFile())
	data[4] = Version + 1

	if _, err := Read(bytes.NewReader(data)); err == nil {
		t.Error("an unsupported version was accepted")
	}
}

func TestReadRejectsTruncated(t *testing.T) {
	data := encode(t, sampleFile())

	if _, err := Read(bytes.NewReader(data[:len(data)/2])); err == nil {
		t.Error("a truncated image was accepted")
	}
}

func TestValidateRejectsBadIndexes(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*File)
		message string
	}{
		{
			"string literal out of range",
			func(f *File) { f.Code[0].Literals[0].Index = 99 },
			"string literal",
		},
		{
			"integer literal out of range",
			func(f *File) { f.Code[0].Literals[1].Index = 99 },
			"integer literal",
		},
		{
			"float literal out of range",
			func(f *File) { f.Code[0].Literals[3].Index = 99 },
			"float literal",
		},
		{
			"unknown literal kind",
			func(f *File) { f.Code[0].Literals[0].Kind = 200 },
			"unknown literal kind",
		},
		{
			"child out of range",
			func(f *File) { f.Code[0].Children[0] = 99 },
			"child index",
		},
		{
			"module body out of range",
			func(f *File) { f.Modules[0].Body = 99 },
			"body index",
		},
		{
			"module name out of range",
			func(f *File) { f.Modules[0].Name = 99 },
			"name or path",
		},
		{
			"entry out of range",
			func(f *File) { f.Entry = 99 },
			"entry module",
		},
		{
			"no modules",
			func(f *File) { f.Modules = nil },
			"no modules",
		},
	}

	for _, tt := range tests {
		f := sampleFile()
		tt.mutate(f)
		_, err := Read(bytes.NewReader(encode(t, f)))
		if err == nil {
			t.Errorf("%s: accepted", tt.name)
			continue
		}
		if !strings.Contains(err.Error(), tt.message) {
			t.Errorf("%s: error %q does not mention %q", tt.name, err, tt.message)
		}
	}
}
