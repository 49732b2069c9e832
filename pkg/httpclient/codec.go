package httpclient

import (
	"encoding/json"
	"fmt"
)

// encodeJSONBody implements the request half of layer 2: serialize the
// request body if present. A nil body yields a nil byte slice (no body
// sent), matching the original's "data=None" no-op.
func encodeJSONBody(body any) ([]byte, error) {
	if body == nil {
		return nil, nil
	}
	b, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encoding json request body: %w", err)
	}
	return b, nil
}

// decodeJSONBody implements the response half of layer 2: parse the
// response body into out if it is non-empty. An empty body (e.g. a 204) is
// a no-op, matching "parse response body if non-empty".
func decodeJSONBody(body []byte, out any) error {
	if len(body) == 0 || out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decoding json response body: %w", err)
	}
	return nil
}
