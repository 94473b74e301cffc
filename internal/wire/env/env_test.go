package env

import (
	"bufio"
	"bytes"
	"strings"
	"testing"
)

func TestWriteRequestSimpleVariants(t *testing.T) {
	cases := map[RequestKind]string{
		RequestStart:     `"Start"` + "\n",
		RequestStop:      `"Stop"` + "\n",
		RequestPause:     `"Pause"` + "\n",
		RequestResume:    `"Resume"` + "\n",
		RequestHeartbeat: `"Heartbeat"` + "\n",
		RequestQuit:      `"Quit"` + "\n",
	}
	for kind, want := range cases {
		var buf bytes.Buffer
		if err := WriteRequest(&buf, Request{Kind: kind}); err != nil {
			t.Fatalf("WriteRequest(%s): %v", kind, err)
		}
		if buf.String() != want {
			t.Errorf("%s: got %q want %q", kind, buf.String(), want)
		}
	}
}

func TestBirthRequestRoundTrip(t *testing.T) {
	req := Request{
		Kind:            RequestBirth,
		BirthName:       "1234",
		BirthPopulation: "pop1",
		BirthParents:    []string{"1020", "1077"},
		BirthController: []string{"/usr/bin/q"},
		Genome:          []byte("genomebytes"),
	}
	var buf bytes.Buffer
	if err := WriteRequest(&buf, req); err != nil {
		t.Fatalf("WriteRequest: %v", err)
	}

	reader := bufio.NewReader(&buf)
	got, err := ReadRequest(reader)
	if err != nil {
		t.Fatalf("ReadRequest: %v", err)
	}
	if got.Kind != RequestBirth || got.BirthName != req.BirthName || got.BirthPopulation != req.BirthPopulation {
		t.Fatalf("got %+v", got)
	}
	if len(got.BirthParents) != 2 || got.BirthParents[0] != "1020" || got.BirthParents[1] != "1077" {
		t.Fatalf("parents mismatch: %+v", got.BirthParents)
	}
	if string(got.Genome) != "genomebytes" {
		t.Fatalf("genome mismatch: %q", got.Genome)
	}
}

func TestBirthRequestWireShape(t *testing.T) {
	req := Request{
		Kind:            RequestBirth,
		BirthName:       "1234",
		BirthPopulation: "pop1",
		BirthParents:    []string{"1020", "1077"},
		BirthController: []string{"/usr/bin/q"},
		Genome:          make([]byte, 456789),
	}
	var buf bytes.Buffer
	if err := WriteRequest(&buf, req); err != nil {
		t.Fatalf("WriteRequest: %v", err)
	}
	header := `{"Birth":{"name":"1234","population":"pop1","parents":["1020","1077"],"controller":["/usr/bin/q"],"genome":456789}}` + "\n"
	if !bytes.HasPrefix(buf.Bytes(), []byte(header)) {
		t.Fatalf("unexpected header: %q", buf.Bytes()[:min(len(buf.Bytes()), len(header)+20)])
	}
}

func TestResponseRoundTrip(t *testing.T) {
	cases := []Response{
		{Kind: ResponseSpawn, Population: "pop1"},
		{Kind: ResponseSpawn, Population: ""},
		{Kind: ResponseMate, Parents: [2]string{"1020", "1077"}},
		{Kind: ResponseScore, Score: "0.75", Name: "1234"},
		{Kind: ResponseScore, Score: "-1", Name: ""},
		{Kind: ResponseTelemetry, Info: map[string]interface{}{"hp": float64(10)}, Name: "1234"},
		{Kind: ResponseDeath, Name: "1234"},
		{Kind: ResponseDeath, Name: ""},
	}
	for _, resp := range cases {
		var buf bytes.Buffer
		if err := WriteResponse(&buf, resp); err != nil {
			t.Fatalf("WriteResponse(%+v): %v", resp, err)
		}
		got, err := ReadResponse(bufio.NewReader(&buf))
		if err != nil {
			t.Fatalf("ReadResponse after %+v: %v", resp, err)
		}
		if got.Kind != resp.Kind {
			t.Fatalf("kind mismatch: want %s got %s", resp.Kind, got.Kind)
		}
	}
}

func TestAckResponseRoundTrip(t *testing.T) {
	resp := Response{Kind: ResponseAck, Acked: Request{Kind: RequestStart}}
	var buf bytes.Buffer
	if err := WriteResponse(&buf, resp); err != nil {
		t.Fatalf("WriteResponse: %v", err)
	}
	if buf.String() != `{"Ack":"Start"}`+"\n" {
		t.Fatalf("unexpected wire form: %q", buf.String())
	}
	got, err := ReadResponse(bufio.NewReader(&buf))
	if err != nil {
		t.Fatalf("ReadResponse: %v", err)
	}
	if got.Kind != ResponseAck || got.Acked.Kind != RequestStart {
		t.Fatalf("got %+v", got)
	}
}

func TestAckRejectsBirth(t *testing.T) {
	var buf bytes.Buffer
	err := WriteResponse(&buf, Response{Kind: ResponseAck, Acked: Request{Kind: RequestBirth}})
	if err == nil {
		t.Fatalf("expected an error acknowledging a Birth request")
	}
}

func TestResponseAcceptsLegacyNewAndInfoSpellings(t *testing.T) {
	r, err := ReadResponse(bufio.NewReader(bytes.NewBufferString(`{"New":"pop1"}` + "\n")))
	if err != nil {
		t.Fatalf("ReadResponse: %v", err)
	}
	if r.Kind != ResponseSpawn || r.Population != "pop1" {
		t.Fatalf("got %+v", r)
	}

	r, err = ReadResponse(bufio.NewReader(bytes.NewBufferString(`{"Info":"hot","name":"1234"}` + "\n")))
	if err != nil {
		t.Fatalf("ReadResponse: %v", err)
	}
	if r.Kind != ResponseTelemetry || r.Name != "1234" {
		t.Fatalf("got %+v", r)
	}
}

// TestResponseWireShapesMatchReferenceProtocol locks in the flat wire shapes
// the driver-side protocol this was distilled from actually emits: unit and
// single-value variants carry their payload directly under the tag key, and
// Score/Telemetry carry "name" as a sibling key rather than nesting it
// inside the tag's value.
func TestResponseWireShapesMatchReferenceProtocol(t *testing.T) {
	cases := []struct {
		resp Response
		want string
	}{
		{Response{Kind: ResponseSpawn, Population: ""}, `{"Spawn":""}`},
		{Response{Kind: ResponseSpawn, Population: "pop1"}, `{"Spawn":"pop1"}`},
		{Response{Kind: ResponseMate, Parents: [2]string{"parent1", "parent2"}}, `{"Mate":["parent1","parent2"]}`},
		{Response{Kind: ResponseScore, Name: "xyz", Score: "-3.7"}, `{"Score":"-3.7","name":"xyz"}`},
		{Response{Kind: ResponseDeath, Name: ""}, `{"Death":""}`},
		{Response{Kind: ResponseDeath, Name: "abc"}, `{"Death":"abc"}`},
	}
	for _, c := range cases {
		var buf bytes.Buffer
		if err := WriteResponse(&buf, c.resp); err != nil {
			t.Fatalf("WriteResponse(%+v): %v", c.resp, err)
		}
		if got := strings.TrimSuffix(buf.String(), "\n"); got != c.want {
			t.Errorf("%+v: got %q want %q", c.resp, got, c.want)
		}
	}
}

func TestWriteRequestSaveLoadWireShape(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteRequest(&buf, Request{Kind: RequestSave, Path: "foobar"}); err != nil {
		t.Fatalf("WriteRequest: %v", err)
	}
	if got := strings.TrimSuffix(buf.String(), "\n"); got != `{"Save":"foobar"}` {
		t.Fatalf("got %q", got)
	}

	buf.Reset()
	if err := WriteRequest(&buf, Request{Kind: RequestLoad, Path: "foobar"}); err != nil {
		t.Fatalf("WriteRequest: %v", err)
	}
	if got := strings.TrimSuffix(buf.String(), "\n"); got != `{"Load":"foobar"}` {
		t.Fatalf("got %q", got)
	}
}
