package ctrl

import (
	"bufio"
	"bytes"
	"math"
	"testing"
)

func roundTrip(t *testing.T, m Message) Message {
	t.Helper()
	var buf bytes.Buffer
	if err := Write(&buf, m); err != nil {
		t.Fatalf("Write(%+v): %v", m, err)
	}
	got, err := Read(bufio.NewReader(&buf))
	if err != nil {
		t.Fatalf("Read after Write(%+v): %v", m, err)
	}
	return got
}

func TestMessageRoundTrip(t *testing.T) {
	cases := []Message{
		{Tag: TagEnvironment, Environment: "/home/user/envs/xor.json"},
		{Tag: TagEnvironment, Environment: "path with spaces/and \"quotes\" and 'ticks'.json"},
		{Tag: TagEnvironment, Environment: ""},
		{Tag: TagPopulation, Population: "pop1"},
		{Tag: TagPopulation, Population: "a:b:c"},
		{Tag: TagPopulation, Population: ""},
		{Tag: TagGenome, Genome: []byte("beepboop")},
		{Tag: TagGenome, Genome: []byte{}},
		{Tag: TagGenome, Genome: []byte("line\nbreak\x00null\\backslash\"quote")},
		{Tag: TagReset},
		{Tag: TagAdvance, DT: 0.016666},
		{Tag: TagAdvance, DT: 0},
		{Tag: TagAdvance, DT: math.Inf(1)},
		{Tag: TagAdvance, DT: math.Inf(-1)},
		{Tag: TagSetInput, GIN: 2, Value: "0.5"},
		{Tag: TagSetInput, GIN: 9, Value: ""},
		{Tag: TagSetInput, GIN: 5, Value: "a:b:c"},
		{Tag: TagSetBinary, GIN: 3, Bytes: []byte{0x00, '\n', '\\', '"', 0x01, 0xff}},
		{Tag: TagSetBinary, GIN: 0, Bytes: []byte{}},
		{Tag: TagGetOutput, GIN: 2},
		{Tag: TagSave},
		{Tag: TagLoad, Bytes: []byte("saved-state-blob")},
		{Tag: TagLoad, Bytes: []byte{}},
	}

	for _, m := range cases {
		got := roundTrip(t, m)
		if got.Tag != m.Tag {
			t.Errorf("tag mismatch: want %q got %q", m.Tag, got.Tag)
		}
		switch m.Tag {
		case TagEnvironment:
			if got.Environment != m.Environment {
				t.Errorf("environment mismatch: want %q got %q", m.Environment, got.Environment)
			}
		case TagPopulation:
			if got.Population != m.Population {
				t.Errorf("population mismatch: want %q got %q", m.Population, got.Population)
			}
		case TagGenome:
			if !bytes.Equal(got.Genome, m.Genome) {
				t.Errorf("genome mismatch: want %q got %q", m.Genome, got.Genome)
			}
		case TagAdvance:
			if got.DT != m.DT && !(math.IsInf(got.DT, 1) && math.IsInf(m.DT, 1)) && !(math.IsInf(got.DT, -1) && math.IsInf(m.DT, -1)) {
				t.Errorf("dt mismatch: want %v got %v", m.DT, got.DT)
			}
		case TagSetInput:
			if got.GIN != m.GIN || got.Value != m.Value {
				t.Errorf("set-input mismatch: want %+v got %+v", m, got)
			}
		case TagSetBinary:
			if got.GIN != m.GIN || !bytes.Equal(got.Bytes, m.Bytes) {
				t.Errorf("set-binary mismatch: want %+v got %+v", m, got)
			}
		case TagGetOutput:
			if got.GIN != m.GIN {
				t.Errorf("get-output mismatch: want %+v got %+v", m, got)
			}
		case TagLoad:
			if !bytes.Equal(got.Bytes, m.Bytes) {
				t.Errorf("load mismatch: want %q got %q", m.Bytes, got.Bytes)
			}
		}
	}
}

func TestMessageRoundTripNaN(t *testing.T) {
	m := Message{Tag: TagAdvance, DT: math.NaN()}
	got := roundTrip(t, m)
	if !math.IsNaN(got.DT) {
		t.Fatalf("want NaN, got %v", got.DT)
	}
}

func TestCustomExtensionTag(t *testing.T) {
	var buf bytes.Buffer
	if err := Write(&buf, Message{Tag: Tag('Z'), Body: "hello world"}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, err := Read(bufio.NewReader(&buf))
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if got.Tag != Tag('Z') || got.Custom != 'Z' || got.Body != "hello world" {
		t.Fatalf("unexpected custom frame: %+v", got)
	}
}

func TestCustomTagRejectsReserved(t *testing.T) {
	for _, b := range []byte{'E', 'P', 'G', 'R', 'A', 'I', 'B', 'O', 'S', 'L'} {
		if IsCustomTag(b) {
			t.Errorf("%q must not be treated as a custom extension tag", b)
		}
	}
	if !IsCustomTag('Z') || !IsCustomTag('X') {
		t.Errorf("unreserved uppercase letters should be legal custom tags")
	}
	if IsCustomTag('z') || IsCustomTag('1') {
		t.Errorf("lowercase letters and digits must not be legal custom tags")
	}
}

// TestGenomeFrameLiteral pins the exact byte-for-byte wire example from the
// specification: "G8\nbeepboop" decodes to a genome of "beepboop".
func TestGenomeFrameLiteral(t *testing.T) {
	r := bufio.NewReader(bytes.NewBufferString("G8\nbeepboop"))
	m, err := Read(r)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if m.Tag != TagGenome || string(m.Genome) != "beepboop" {
		t.Fatalf("want Genome(beepboop), got %+v", m)
	}
}

// TestOutputPipelineLiteral pins the pipelined-output wire example: three
// GetOutput requests answered out of a single buffered reply stream.
func TestOutputPipelineLiteral(t *testing.T) {
	var requests bytes.Buffer
	for _, gin := range []uint64{2, 5, 9} {
		if err := Write(&requests, Message{Tag: TagGetOutput, GIN: gin}); err != nil {
			t.Fatalf("Write request: %v", err)
		}
	}
	if requests.String() != "O2\nO5\nO9\n" {
		t.Fatalf("unexpected request bytes: %q", requests.String())
	}

	replies := bufio.NewReader(bytes.NewBufferString("O2\n0.5\nO5\n-1\nO9\nnan\n"))
	want := map[uint64]string{2: "0.5", 5: "-1", 9: "nan"}
	got := map[uint64]string{}
	for range want {
		gin, value, err := ReadOutput(replies)
		if err != nil {
			t.Fatalf("ReadOutput: %v", err)
		}
		got[gin] = value
	}
	for gin, value := range want {
		if got[gin] != value {
			t.Errorf("gin %d: want %q got %q", gin, value, got[gin])
		}
	}
}

func TestWriteOutputAndSaveBlob(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteOutput(&buf, 7, "3.14"); err != nil {
		t.Fatalf("WriteOutput: %v", err)
	}
	if buf.String() != "O7\n3.14\n" {
		t.Fatalf("unexpected bytes: %q", buf.String())
	}

	buf.Reset()
	blob := []byte{0x00, 0x01, '\n', 0xff}
	if err := WriteSaveBlob(&buf, blob); err != nil {
		t.Fatalf("WriteSaveBlob: %v", err)
	}
	want := append([]byte("S4\n"), blob...)
	if !bytes.Equal(buf.Bytes(), want) {
		t.Fatalf("unexpected bytes: %q", buf.Bytes())
	}
}

func TestReadSaveBlobRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	blob := []byte{0x00, 'a', '\n', 0xff}
	if err := WriteSaveBlob(&buf, blob); err != nil {
		t.Fatalf("WriteSaveBlob: %v", err)
	}
	got, err := ReadSaveBlob(bufio.NewReader(&buf))
	if err != nil {
		t.Fatalf("ReadSaveBlob: %v", err)
	}
	if !bytes.Equal(got, blob) {
		t.Fatalf("want %q got %q", blob, got)
	}
}

func TestReadEOFIsQuitSignal(t *testing.T) {
	r := bufio.NewReader(bytes.NewBufferString(""))
	_, err := Read(r)
	if err == nil {
		t.Fatalf("expected an error signaling EOF/quit")
	}
}
