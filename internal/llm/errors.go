package llm

import "errors"

// ErrEmptyResponse is returned when the provider reports success but returns
// no choices or no embedding data.
var ErrEmptyResponse = errors.New("llm: empty response from provider")

// ErrInvalidResponse is returned when a structured-output response could not
// be unmarshaled against the schema it was requested with.
var ErrInvalidResponse = errors.New("llm: response did not match requested schema")
