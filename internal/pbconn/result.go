package pbconn

import (
	"encoding/json"
	"fmt"
)

// Result is the outcome of a request that reached the server. An empty Body
// with a nil error is a legitimately empty response.
type Result struct {
	StatusCode int
	Status     string
	Body       []byte
}

func (r Result) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

func (r Result) String() string {
	return string(r.Body)
}

// Decode unmarshals the body into v.
func (r Result) Decode(v any) error {
	if err := json.Unmarshal(r.Body, v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidJSON, err)
	}
	return nil
}
