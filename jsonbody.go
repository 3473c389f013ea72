package mockapi

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/google/go-cmp/cmp"
	"github.com/pkg/errors"
)

var (
	// ErrMalformedBody is returned by a JSON body gate when a request claims
	// a JSON content type but its body does not decode as JSON. The decoding
	// error stays in the chain and can be retrieved with errors.As.
	ErrMalformedBody = errors.New("request body is not valid JSON")

	// ErrBodyRead is returned when the request body could not be copied.
	ErrBodyRead = errors.New("unable to read request body")
)

const jsonContentType = "application/json"

type gateConfig struct {
	skipMalformed bool
}

// GateOption configures the behavior of WithJSONBody.
type GateOption func(*gateConfig)

// SkipMalformed makes the gate treat a body that fails to decode as a
// mismatch instead of returning ErrMalformedBody.
func SkipMalformed() GateOption {
	return func(c *gateConfig) {
		c.skipMalformed = true
	}
}

// WithJSONBody wraps resolver so that it is only invoked for requests with a
// JSON content type whose decoded body is structurally equal to expected.
// All other requests get no response. The body is read from a copy so the
// resolver still receives an unread request.
//
// The expected value is normalized through a JSON round trip, so a struct
// matches the object it would encode to. WithJSONBody panics if expected
// cannot be encoded.
func WithJSONBody(expected interface{}, resolver Resolver, opts ...GateOption) Resolver {
	var cfg gateConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	if resolver == nil {
		checkError(nil, errors.New("WithJSONBody requires a non-nil resolver"))
	}

	want, err := normalizeJSON(expected)
	checkError(nil, errors.Wrap(err, "expected body is not JSON encodable"))

	return func(r *http.Request) (*http.Response, error) {
		contentType := r.Header.Get("Content-Type")
		if !strings.Contains(contentType, jsonContentType) {
			return nil, nil
		}

		raw, err := copyBody(r)
		if err != nil {
			return nil, err
		}

		var got interface{}
		if err := json.Unmarshal(raw, &got); err != nil {
			if cfg.skipMalformed {
				return nil, nil
			}
			return nil, errors.WithStack(&malformedBodyError{method: r.Method, path: r.URL.Path, err: err})
		}

		if !cmp.Equal(got, want) {
			return nil, nil
		}

		return resolver(r)
	}
}

type malformedBodyError struct {
	method string
	path   string
	err    error
}

func (e *malformedBodyError) Error() string {
	return e.method + " " + e.path + ": " + ErrMalformedBody.Error() + ": " + e.err.Error()
}

func (e *malformedBodyError) Unwrap() error { return e.err }

func (e *malformedBodyError) Is(target error) bool { return target == ErrMalformedBody }

func normalizeJSON(v interface{}) (interface{}, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}

	var out interface{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// copyBody returns the contents of the request body while leaving r.Body
// readable from the start. When the request cannot produce a fresh body via
// GetBody the original is buffered and replaced, and GetBody is set so later
// readers can take their own copy.
func copyBody(r *http.Request) ([]byte, error) {
	if err := r.Context().Err(); err != nil {
		return nil, errors.Wrapf(ErrBodyRead, "%v", err)
	}

	if r.GetBody != nil {
		rc, err := r.GetBody()
		if err != nil {
			return nil, errors.Wrapf(ErrBodyRead, "%v", err)
		}
		defer rc.Close()

		raw, err := io.ReadAll(rc)
		if err != nil {
			return nil, errors.Wrapf(ErrBodyRead, "%v", err)
		}
		return raw, nil
	}

	if r.Body == nil || r.Body == http.NoBody {
		return nil, nil
	}

	raw, err := io.ReadAll(r.Body)
	r.Body.Close()
	if err != nil {
		return nil, errors.Wrapf(ErrBodyRead, "%v", err)
	}

	r.Body = io.NopCloser(bytes.NewReader(raw))
	r.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(raw)), nil
	}
	return raw, nil
}
