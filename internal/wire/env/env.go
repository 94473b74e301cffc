// Package env implements the environment wire protocol: newline-delimited
// JSON exchanged between an evolution driver and an environment subprocess.
// Every message is one line of JSON, except Birth delivery, whose genome
// field is a byte count followed immediately by that many raw bytes on the
// same stream (spec §4.4).
//
// The wire shape is an untagged union the way the lineage this protocol was
// distilled from serializes it: a unit variant (Start, Stop, ...) is the
// bare tag string with no surrounding object; a single-value variant
// (Save, Spawn, Death, ...) is a one-key object whose value is the payload
// directly, not a nested struct; Score and Telemetry carry their tag value
// plus a "name" field as two sibling keys in one flat object; and Birth is
// the one variant that is genuinely a nested struct. None of this can be
// expressed with plain encoding/json struct tags, so requests and responses
// are hand-marshaled below instead of going through a tagged wireX struct.
//
// The message shapes here are driver-centric: the driver issues Requests
// (Start, Stop, Birth, ...) and the environment issues Responses (Spawn,
// Mate, Score, Telemetry, Death, Ack). An environment-centric variant, where
// the environment instead answers each request inline, also exists in the
// lineage this protocol was distilled from; see doc.go for why it was not
// adopted here.
package env

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"github.com/kiosk404/npcmaker/pkg/jsonutil"
)

// RequestKind identifies the variant of a driver->environment Request.
type RequestKind string

const (
	RequestStart     RequestKind = "Start"
	RequestStop      RequestKind = "Stop"
	RequestPause     RequestKind = "Pause"
	RequestResume    RequestKind = "Resume"
	RequestHeartbeat RequestKind = "Heartbeat"
	RequestQuit      RequestKind = "Quit"
	RequestSave      RequestKind = "Save"
	RequestLoad      RequestKind = "Load"
	RequestCustom    RequestKind = "Custom"
	RequestBirth     RequestKind = "Birth"
)

var unitRequests = map[RequestKind]bool{
	RequestStart:     true,
	RequestStop:      true,
	RequestPause:     true,
	RequestResume:    true,
	RequestHeartbeat: true,
	RequestQuit:      true,
}

// Request is a message the driver sends to an environment.
type Request struct {
	Kind RequestKind

	Path string // Save, Load

	Custom interface{} // Custom: arbitrary JSON payload

	// Birth fields. Genome is carried out-of-band: the wire header names a
	// byte count, and the raw bytes follow immediately on the stream.
	BirthName       string
	BirthPopulation string
	BirthParents    []string
	BirthController []string
	Genome          []byte
}

// birthHeader is the on-the-wire shape of a Birth request's JSON line: the
// genome field is a byte count, not the bytes themselves.
type birthHeader struct {
	Name       string   `json:"name"`
	Population string   `json:"population"`
	Parents    []string `json:"parents"`
	Controller []string `json:"controller"`
	Genome     int      `json:"genome"`
}

// taggedValue marshals to a single-key JSON object {"<tag>":<value>}, the
// shape every single-payload variant (Save, Load, Custom, Spawn, Mate,
// Death, and Birth's nested header) uses on the wire.
func taggedValue(tag string, value interface{}) ([]byte, error) {
	tagJSON, err := jsonutil.Marshal(tag)
	if err != nil {
		return nil, err
	}
	valueJSON, err := jsonutil.Marshal(value)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, len(tagJSON)+len(valueJSON)+2)
	out = append(out, '{')
	out = append(out, tagJSON...)
	out = append(out, ':')
	out = append(out, valueJSON...)
	out = append(out, '}')
	return out, nil
}

// taggedValueWithName marshals to {"<tag>":<value>,"name":<name>}: the
// shape Score and Telemetry/Info use, where the tag's payload and the
// individual's name sit as two sibling keys in one flat object.
func taggedValueWithName(tag string, value interface{}, name string) ([]byte, error) {
	tagJSON, err := jsonutil.Marshal(tag)
	if err != nil {
		return nil, err
	}
	valueJSON, err := jsonutil.Marshal(value)
	if err != nil {
		return nil, err
	}
	nameJSON, err := jsonutil.Marshal(name)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, len(tagJSON)+len(valueJSON)+len(nameJSON)+16)
	out = append(out, '{')
	out = append(out, tagJSON...)
	out = append(out, ':')
	out = append(out, valueJSON...)
	out = append(out, ',', '"', 'n', 'a', 'm', 'e', '"', ':')
	out = append(out, nameJSON...)
	out = append(out, '}')
	return out, nil
}

// marshalRequest renders req as its bare wire form: a quoted tag string for
// unit variants, or a single-key tagged object otherwise. It is used both
// for top-level Request lines and for the value nested under an Ack.
func marshalRequest(req Request) ([]byte, error) {
	if unitRequests[req.Kind] {
		return jsonutil.Marshal(string(req.Kind))
	}
	switch req.Kind {
	case RequestSave:
		return taggedValue(string(req.Kind), req.Path)
	case RequestLoad:
		return taggedValue(string(req.Kind), req.Path)
	case RequestCustom:
		return taggedValue(string(req.Kind), req.Custom)
	case RequestBirth:
		return taggedValue(string(req.Kind), birthHeader{
			Name:       req.BirthName,
			Population: req.BirthPopulation,
			Parents:    req.BirthParents,
			Controller: req.BirthController,
			Genome:     len(req.Genome),
		})
	default:
		return nil, fmt.Errorf("env: unknown request kind %q", req.Kind)
	}
}

// WriteRequest encodes req as one JSON line, followed by req.Genome's raw
// bytes when req.Kind is Birth.
func WriteRequest(w io.Writer, req Request) error {
	data, err := marshalRequest(req)
	if err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		return err
	}
	if _, err := io.WriteString(w, "\n"); err != nil {
		return err
	}
	if req.Kind == RequestBirth {
		if _, err := w.Write(req.Genome); err != nil {
			return err
		}
	}
	return nil
}

// parseRequest decodes the bare wire form of a Request (a quoted tag string
// or a single-key tagged object), used both for top-level Request lines and
// for the value nested under an Ack. It never reads a Birth's out-of-band
// genome bytes; callers needing those use ReadRequest.
func parseRequest(line []byte) (Request, error) {
	trimmed := bytes.TrimSpace(line)
	if len(trimmed) > 0 && trimmed[0] == '"' {
		var tag string
		if err := jsonutil.Unmarshal(trimmed, &tag); err != nil {
			return Request{}, fmt.Errorf("env: decode request: %w", err)
		}
		kind := RequestKind(tag)
		if !unitRequests[kind] {
			return Request{}, fmt.Errorf("env: request tag %q matches no known unit variant", tag)
		}
		return Request{Kind: kind}, nil
	}

	var obj map[string]json.RawMessage
	if err := jsonutil.Unmarshal(trimmed, &obj); err != nil {
		return Request{}, fmt.Errorf("env: decode request: %w", err)
	}
	if raw, ok := obj[string(RequestSave)]; ok {
		var path string
		if err := jsonutil.Unmarshal(raw, &path); err != nil {
			return Request{}, fmt.Errorf("env: decode Save request: %w", err)
		}
		return Request{Kind: RequestSave, Path: path}, nil
	}
	if raw, ok := obj[string(RequestLoad)]; ok {
		var path string
		if err := jsonutil.Unmarshal(raw, &path); err != nil {
			return Request{}, fmt.Errorf("env: decode Load request: %w", err)
		}
		return Request{Kind: RequestLoad, Path: path}, nil
	}
	if raw, ok := obj[string(RequestCustom)]; ok {
		var payload interface{}
		if err := jsonutil.Unmarshal(raw, &payload); err != nil {
			return Request{}, fmt.Errorf("env: decode Custom request: %w", err)
		}
		return Request{Kind: RequestCustom, Custom: payload}, nil
	}
	if raw, ok := obj[string(RequestBirth)]; ok {
		var bh birthHeader
		if err := jsonutil.Unmarshal(raw, &bh); err != nil {
			return Request{}, fmt.Errorf("env: decode Birth request: %w", err)
		}
		return Request{
			Kind:            RequestBirth,
			BirthName:       bh.Name,
			BirthPopulation: bh.Population,
			BirthParents:    bh.Parents,
			BirthController: bh.Controller,
		}, nil
	}
	return Request{}, fmt.Errorf("env: request line %q matches no known variant", line)
}

// ReadRequest reads the next Request from r, consuming the trailing raw
// genome bytes when the message is a Birth.
func ReadRequest(r *bufio.Reader) (Request, error) {
	line, err := r.ReadString('\n')
	if err != nil && line == "" {
		return Request{}, err
	}
	req, err := parseRequest([]byte(line))
	if err != nil {
		return Request{}, err
	}
	if req.Kind != RequestBirth {
		return req, nil
	}

	var obj map[string]json.RawMessage
	if err := jsonutil.Unmarshal(bytes.TrimSpace([]byte(line)), &obj); err != nil {
		return Request{}, fmt.Errorf("env: decode Birth request: %w", err)
	}
	var bh birthHeader
	if err := jsonutil.Unmarshal(obj[string(RequestBirth)], &bh); err != nil {
		return Request{}, fmt.Errorf("env: decode Birth request: %w", err)
	}
	genome := make([]byte, bh.Genome)
	if _, err := io.ReadFull(r, genome); err != nil {
		return Request{}, fmt.Errorf("env: read birth genome: %w", err)
	}
	req.Genome = genome
	return req, nil
}

// ResponseKind identifies the variant of an environment->driver Response.
type ResponseKind string

const (
	ResponseAck       ResponseKind = "Ack"
	ResponseSpawn     ResponseKind = "Spawn"
	ResponseMate      ResponseKind = "Mate"
	ResponseScore     ResponseKind = "Score"
	ResponseTelemetry ResponseKind = "Telemetry"
	ResponseDeath     ResponseKind = "Death"
)

// Response is a message an environment sends back to the driver.
type Response struct {
	Kind ResponseKind

	Acked Request // Ack: the request being acknowledged

	Population string // Spawn

	Parents [2]string // Mate

	// Score carries the reported score exactly as the environment wrote
	// it: an arbitrary string, not a parsed number, so an environment can
	// report non-numeric or precision-preserving text.
	// individual.Individual.ScoreValue owns the numeric interpretation.
	Score string // Score
	Name  string // Score, Telemetry, Death

	Info interface{} // Telemetry
}

// WriteResponse encodes resp as one JSON line.
//
// Birth requests are not acknowledged (spec §4.4: "Birth messages are not
// acknowledged, since a Spawn, Mate, Score, Telemetry, or Death response
// eventually accounts for every delivered individual").
func WriteResponse(w io.Writer, resp Response) error {
	var data []byte
	var err error

	switch resp.Kind {
	case ResponseAck:
		if resp.Acked.Kind == RequestBirth {
			return fmt.Errorf("env: Birth requests must not be acknowledged")
		}
		ackedJSON, ackErr := marshalRequest(resp.Acked)
		if ackErr != nil {
			return ackErr
		}
		data, err = wrapRawValue(string(ResponseAck), ackedJSON)
	case ResponseSpawn:
		data, err = taggedValue(string(ResponseSpawn), resp.Population)
	case ResponseMate:
		data, err = taggedValue(string(ResponseMate), resp.Parents)
	case ResponseScore:
		data, err = taggedValueWithName(string(ResponseScore), resp.Score, resp.Name)
	case ResponseTelemetry:
		data, err = taggedValueWithName(string(ResponseTelemetry), resp.Info, resp.Name)
	case ResponseDeath:
		data, err = taggedValue(string(ResponseDeath), resp.Name)
	default:
		return fmt.Errorf("env: unknown response kind %q", resp.Kind)
	}
	if err != nil {
		return err
	}

	if _, err := w.Write(data); err != nil {
		return err
	}
	_, err = io.WriteString(w, "\n")
	return err
}

// wrapRawValue produces {"<tag>":<value>} where value is already-encoded
// JSON, used for Ack whose payload (a Request) is marshaled by
// marshalRequest rather than jsonutil.Marshal directly.
func wrapRawValue(tag string, value []byte) ([]byte, error) {
	tagJSON, err := jsonutil.Marshal(tag)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, len(tagJSON)+len(value)+2)
	out = append(out, '{')
	out = append(out, tagJSON...)
	out = append(out, ':')
	out = append(out, value...)
	out = append(out, '}')
	return out, nil
}

// ReadResponse reads the next Response from r. "New" and "Info" are
// accepted as aliases of "Spawn" and "Telemetry" respectively, matching an
// older spelling some environments still emit.
func ReadResponse(r *bufio.Reader) (Response, error) {
	line, err := r.ReadString('\n')
	if err != nil && line == "" {
		return Response{}, err
	}

	var obj map[string]json.RawMessage
	if err := jsonutil.Unmarshal(bytes.TrimSpace([]byte(line)), &obj); err != nil {
		return Response{}, fmt.Errorf("env: decode response: %w", err)
	}

	if raw, ok := obj[string(ResponseAck)]; ok {
		req, err := parseRequest(raw)
		if err != nil {
			return Response{}, err
		}
		return Response{Kind: ResponseAck, Acked: req}, nil
	}
	if raw, ok := obj[string(ResponseSpawn)]; ok {
		return responseFromPopulation(raw)
	}
	if raw, ok := obj["New"]; ok {
		return responseFromPopulation(raw)
	}
	if raw, ok := obj[string(ResponseMate)]; ok {
		var parents [2]string
		if err := jsonutil.Unmarshal(raw, &parents); err != nil {
			return Response{}, fmt.Errorf("env: decode Mate response: %w", err)
		}
		return Response{Kind: ResponseMate, Parents: parents}, nil
	}
	if raw, ok := obj[string(ResponseScore)]; ok {
		var score string
		if err := jsonutil.Unmarshal(raw, &score); err != nil {
			return Response{}, fmt.Errorf("env: decode Score response: %w", err)
		}
		return Response{Kind: ResponseScore, Score: score, Name: nameField(obj)}, nil
	}
	if raw, ok := obj[string(ResponseTelemetry)]; ok {
		var info interface{}
		if err := jsonutil.Unmarshal(raw, &info); err != nil {
			return Response{}, fmt.Errorf("env: decode Telemetry response: %w", err)
		}
		return Response{Kind: ResponseTelemetry, Info: info, Name: nameField(obj)}, nil
	}
	if raw, ok := obj["Info"]; ok {
		var info interface{}
		if err := jsonutil.Unmarshal(raw, &info); err != nil {
			return Response{}, fmt.Errorf("env: decode Info response: %w", err)
		}
		return Response{Kind: ResponseTelemetry, Info: info, Name: nameField(obj)}, nil
	}
	if raw, ok := obj[string(ResponseDeath)]; ok {
		var name string
		if err := jsonutil.Unmarshal(raw, &name); err != nil {
			return Response{}, fmt.Errorf("env: decode Death response: %w", err)
		}
		return Response{Kind: ResponseDeath, Name: name}, nil
	}
	return Response{}, fmt.Errorf("env: response line %q matches no known variant", line)
}

func responseFromPopulation(raw json.RawMessage) (Response, error) {
	var population string
	if err := jsonutil.Unmarshal(raw, &population); err != nil {
		return Response{}, fmt.Errorf("env: decode Spawn response: %w", err)
	}
	return Response{Kind: ResponseSpawn, Population: population}, nil
}

// nameField extracts the optional sibling "name" key Score and Telemetry
// responses carry alongside their tag. Its absence defaults to "", the
// single-outstanding-individual wildcard.
func nameField(obj map[string]json.RawMessage) string {
	raw, ok := obj["name"]
	if !ok {
		return ""
	}
	var name string
	_ = jsonutil.Unmarshal(raw, &name)
	return name
}
