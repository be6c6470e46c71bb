package protocol

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

const (
	headerSize = 4

	// DefaultMaxFrameSize bounds the JSON body of a single frame.
	DefaultMaxFrameSize = 1 << 20
)

var (
	// ErrFraming is returned when the byte stream cannot be split into a valid frame.
	// The connection that produced it must be closed.
	ErrFraming = errors.New("framing error")

	// ErrMalformedEnvelope is returned for a frame whose body is JSON but not an
	// envelope. The stream is still aligned on a frame boundary.
	ErrMalformedEnvelope = errors.New("malformed envelope")

	// ErrSerialization is returned when an envelope cannot be turned into bytes.
	ErrSerialization = errors.New("serialization error")
)

// Headers carries routing and authentication metadata of an envelope.
type Headers struct {
	Path   string `json:"path"`
	ID     int64  `json:"id,omitempty"`
	Token  string `json:"token,omitempty"`
	Status int    `json:"status"`
	Error  string `json:"error,omitempty"`
}

// UnmarshalJSON implements json.Unmarshaler. The id may be sent as a number or
// as a decimal string.
func (h *Headers) UnmarshalJSON(data []byte) error {
	type plain Headers
	aux := struct {
		*plain
		ID json.RawMessage `json:"id"`
	}{plain: (*plain)(h)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	id, err := parseID(aux.ID)
	if err != nil {
		return err
	}
	h.ID = id
	return nil
}

func parseID(raw json.RawMessage) (int64, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return 0, nil
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return 0, err
		}
		if s = strings.TrimSpace(s); s == "" {
			return 0, nil
		}
		id, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid id %q", s)
		}
		return id, nil
	}

	var id int64
	if err := json.Unmarshal(raw, &id); err != nil {
		return 0, fmt.Errorf("invalid id %s", raw)
	}
	return id, nil
}

// EnvelopeError reports a malformed envelope. Path is headers.path when it could
// still be read, so a reply can name the request.
type EnvelopeError struct {
	Path string
	Err  error
}

func (e *EnvelopeError) Error() string {
	return fmt.Sprintf("%s: %v", ErrMalformedEnvelope, e.Err)
}

func (e *EnvelopeError) Unwrap() []error { return []error{ErrMalformedEnvelope, e.Err} }

// Envelope is the unit exchanged on the wire. Payload fields are flattened next to
// the headers object when serialised.
type Envelope struct {
	Headers Headers
	Payload Payload
}

// New returns an envelope for path with the given status and payload.
func New(path string, status int, payload Payload) *Envelope {
	return &Envelope{
		Headers: Headers{Path: path, Status: status},
		Payload: payload,
	}
}

// MarshalJSON implements json.Marshaler.
func (e Envelope) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(e.Payload)+1)
	for k, v := range e.Payload {
		if k == "headers" {
			continue
		}
		out[k] = v
	}
	out["headers"] = e.Headers
	return json.Marshal(out)
}

// UnmarshalJSON implements json.Unmarshaler.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return err
	}

	h, ok := raw["headers"]
	if !ok {
		return errors.New("missing headers object")
	}
	hb, err := json.Marshal(h)
	if err != nil {
		return err
	}
	var headers Headers
	if err := json.Unmarshal(hb, &headers); err != nil {
		return fmt.Errorf("invalid headers: %w", err)
	}
	delete(raw, "headers")

	e.Headers = headers
	e.Payload = nil
	if len(raw) > 0 {
		e.Payload = Payload(raw)
	}
	return nil
}

// Encode serialises env as a 4-byte big-endian length followed by its JSON body.
func Encode(env *Envelope) ([]byte, error) {
	return EncodeMax(env, DefaultMaxFrameSize)
}

// EncodeMax is Encode with an explicit frame size limit.
func EncodeMax(env *Envelope, maxSize uint32) ([]byte, error) {
	if env == nil {
		return nil, fmt.Errorf("%w: nil envelope", ErrSerialization)
	}

	body, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSerialization, err)
	}
	if uint64(len(body)) > uint64(maxSize) {
		return nil, fmt.Errorf("%w: payload size %d exceeds maximum %d bytes", ErrSerialization, len(body), maxSize)
	}

	out := make([]byte, headerSize+len(body))
	binary.BigEndian.PutUint32(out[:headerSize], uint32(len(body)))
	copy(out[headerSize:], body)
	return out, nil
}

// Decode reads exactly one frame from r. A stream that ends cleanly before the first
// prefix byte yields io.EOF; every other failure wraps ErrFraming.
func Decode(r io.Reader, maxSize uint32) (*Envelope, error) {
	body, err := ReadFrame(r, maxSize)
	if err != nil {
		return nil, err
	}
	return Unmarshal(body)
}

// ReadFrame reads one length-prefixed body from r, looping over partial reads.
func ReadFrame(r io.Reader, maxSize uint32) ([]byte, error) {
	var prefix [headerSize]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("%w: truncated length prefix: %w", ErrFraming, err)
	}

	size := binary.BigEndian.Uint32(prefix[:])
	if size > maxSize {
		return nil, fmt.Errorf("%w: payload size %d exceeds maximum %d bytes", ErrFraming, size, maxSize)
	}

	body := make([]byte, size)
	if n, err := io.ReadFull(r, body); err != nil {
		return nil, fmt.Errorf("%w: stream closed after %d of %d bytes: %w", ErrFraming, n, size, err)
	}
	return body, nil
}

// Unmarshal decodes a frame body into an envelope. A body that is not JSON wraps
// ErrFraming; JSON of the wrong shape yields an *EnvelopeError.
func Unmarshal(body []byte) (*Envelope, error) {
	if !json.Valid(body) {
		return nil, fmt.Errorf("%w: malformed payload: body is not valid JSON", ErrFraming)
	}

	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, &EnvelopeError{Path: peekPath(body), Err: err}
	}
	return &env, nil
}

// peekPath pulls headers.path out of a body that failed to decode as a whole.
func peekPath(body []byte) string {
	var outer struct {
		Headers map[string]json.RawMessage `json:"headers"`
	}
	if err := json.Unmarshal(body, &outer); err != nil {
		return ""
	}
	var path string
	if err := json.Unmarshal(outer.Headers["path"], &path); err != nil {
		return ""
	}
	return path
}
