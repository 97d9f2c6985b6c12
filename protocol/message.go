// Package protocol implements the wire format spoken between the host and
// its client: binary frames carrying a message name, a JSON argument array,
// and an optional out-of-band blob payload.
//
// Frame layout, bit-exact:
//
//	u64 id (LE) · u64 request_id (LE) · name · 0x00 · json · 0x00 · blob
//
// The blob spans from the JSON terminator to the end of the frame and is
// never JSON-encoded, so large binary payloads travel without inflation.
package protocol

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"

	json "github.com/goccy/go-json"
)

// MessageID identifies a single message within a session.
type MessageID = uint64

// RequestMarker is the request_id carried by an outbound request that is
// awaiting a response.
const RequestMarker MessageID = ^MessageID(0)

// headerLen is the fixed frame prefix: two little-endian uint64 ids.
const headerLen = 16

var (
	// ErrMalformedFrame indicates a frame that cannot be decoded. The
	// channel is assumed corrupt once one is seen.
	ErrMalformedFrame = errors.New("protocol: malformed frame")

	// ErrMalformedJSON indicates a frame whose JSON section is not a
	// well-formed JSON array.
	ErrMalformedJSON = errors.New("protocol: malformed JSON payload")
)

// Message is one decoded protocol frame.
//
// The name's first character is a class tag: '!' notification, '?' request,
// ':' response. A response's name equals the request's name with '?'
// replaced by ':'.
type Message struct {
	ID        MessageID
	RequestID MessageID
	Name      string
	JSON      []byte // raw JSON text holding the argument array
	Blob      []byte
}

// IsNotification reports whether no response is expected for this message.
func (m Message) IsNotification() bool {
	return m.RequestID == 0
}

// IsRequest reports whether this is an outstanding request awaiting a
// response.
func (m Message) IsRequest() bool {
	return m.RequestID == RequestMarker
}

// IsResponse reports whether this message answers an earlier request.
func (m Message) IsResponse() bool {
	return !m.IsNotification() && !m.IsRequest()
}

// Args parses the JSON section. The top-level value must be an array.
func (m Message) Args() ([]any, error) {
	trimmed := bytes.TrimSpace(m.JSON)
	if len(trimmed) == 0 || trimmed[0] != '[' {
		return nil, fmt.Errorf("%w: must be an array, got %q", ErrMalformedJSON, m.JSON)
	}
	var args []any
	if err := json.Unmarshal(trimmed, &args); err != nil {
		return nil, fmt.Errorf("%w: %v: %q", ErrMalformedJSON, err, m.JSON)
	}
	return args, nil
}

// MessageKind classifies a message for dispatch. Classification happens
// once, from the decoded name and ids, rather than by repeated string
// matching at every dispatch site.
type MessageKind int

const (
	KindUnknown MessageKind = iota
	KindResponse
	KindShutdown
	KindCancel
	KindCreateBlob
	KindGetBlob
	KindDestroyBlob
	KindEvalRequest
)

// Kind returns the dispatch classification of the message.
func (m Message) Kind() MessageKind {
	switch {
	case m.Name == "!End":
		return KindShutdown
	case m.Name == "!/":
		return KindCancel
	case m.Name == "?CreateBlob":
		return KindCreateBlob
	case m.Name == "?GetBlob":
		return KindGetBlob
	case m.Name == "!DestroyBlob":
		return KindDestroyBlob
	case strings.HasPrefix(m.Name, "?="):
		return KindEvalRequest
	case m.IsResponse():
		return KindResponse
	default:
		return KindUnknown
	}
}

// NewNotification builds a message that expects no response.
func NewNotification(id MessageID, name string, args ...any) (Message, error) {
	return newMessage(id, 0, name, nil, args)
}

// NewRequest builds an outbound request; its RequestID carries the request
// marker until the response arrives.
func NewRequest(id MessageID, name string, args ...any) (Message, error) {
	return newMessage(id, RequestMarker, name, nil, args)
}

// NewResponse builds the response to req: same name with '?' replaced by
// ':', RequestID set to the request's id.
func NewResponse(id MessageID, req Message, blob []byte, args ...any) (Message, error) {
	if len(req.Name) == 0 || req.Name[0] != '?' {
		return Message{}, fmt.Errorf("protocol: cannot respond to non-request %q", req.Name)
	}
	return newMessage(id, req.ID, ":"+req.Name[1:], blob, args)
}

func newMessage(id, requestID MessageID, name string, blob []byte, args []any) (Message, error) {
	if args == nil {
		args = []any{}
	}
	text, err := json.Marshal(args)
	if err != nil {
		return Message{}, fmt.Errorf("protocol: marshaling %q arguments: %w", name, err)
	}
	return Message{
		ID:        id,
		RequestID: requestID,
		Name:      name,
		JSON:      text,
		Blob:      blob,
	}, nil
}

// Encode serializes the message into a wire frame.
func (m Message) Encode() []byte {
	buf := make([]byte, headerLen, headerLen+len(m.Name)+1+len(m.JSON)+1+len(m.Blob))
	binary.LittleEndian.PutUint64(buf[0:8], m.ID)
	binary.LittleEndian.PutUint64(buf[8:16], m.RequestID)
	buf = append(buf, m.Name...)
	buf = append(buf, 0)
	buf = append(buf, m.JSON...)
	buf = append(buf, 0)
	buf = append(buf, m.Blob...)
	return buf
}

// Decode parses a wire frame. The JSON text is not parsed here; use Args.
func Decode(frame []byte) (Message, error) {
	if len(frame) < headerLen {
		return Message{}, fmt.Errorf("%w: missing message ids (%d bytes)", ErrMalformedFrame, len(frame))
	}
	rest := frame[headerLen:]

	nameLen := bytes.IndexByte(rest, 0)
	if nameLen < 0 {
		return Message{}, fmt.Errorf("%w: missing name terminator", ErrMalformedFrame)
	}

	jsonStart := nameLen + 1
	if jsonStart >= len(rest) {
		return Message{}, fmt.Errorf("%w: missing JSON payload", ErrMalformedFrame)
	}
	jsonLen := bytes.IndexByte(rest[jsonStart:], 0)
	if jsonLen < 0 {
		return Message{}, fmt.Errorf("%w: missing JSON terminator", ErrMalformedFrame)
	}

	var blob []byte
	if blobStart := jsonStart + jsonLen + 1; blobStart < len(rest) {
		blob = append([]byte(nil), rest[blobStart:]...)
	}

	return Message{
		ID:        binary.LittleEndian.Uint64(frame[0:8]),
		RequestID: binary.LittleEndian.Uint64(frame[8:16]),
		Name:      string(rest[:nameLen]),
		JSON:      append([]byte(nil), rest[jsonStart:jsonStart+jsonLen]...),
		Blob:      blob,
	}, nil
}
