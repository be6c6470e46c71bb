package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Payload holds the request or response fields that sit next to the headers object.
type Payload map[string]any

// Bind decodes the payload into v, which must be a pointer to a struct with json tags.
func (p Payload) Bind(v any) error {
	if len(p) == 0 {
		return nil
	}
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSerialization, err)
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	return dec.Decode(v)
}
