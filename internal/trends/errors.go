package trends

import (
	"errors"
	"fmt"
)

// ErrNoData marks a provider response that parsed fine but contained
// no series points for the requested keyword and window. Retrying
// cannot fix it.
var ErrNoData = errors.New("no trend data for keyword")

// RequestError describes a failed provider HTTP call.
type RequestError struct {
	Endpoint   string
	HTTPStatus int
	Message    string
}

func (e *RequestError) Error() string {
	if e.HTTPStatus != 0 {
		return fmt.Sprintf("trends %s: HTTP %d: %s", e.Endpoint, e.HTTPStatus, e.Message)
	}
	return fmt.Sprintf("trends %s: %s", e.Endpoint, e.Message)
}
