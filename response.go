package mockapi

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// NewStringResponse creates a response with the given status code and a body
// holding the given string.
func NewStringResponse(status int, body string) *http.Response {
	return &http.Response{
		Status:        strconv.Itoa(status) + " " + http.StatusText(status),
		StatusCode:    status,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        http.Header{},
		Body:          io.NopCloser(strings.NewReader(body)),
		ContentLength: int64(len(body)),
	}
}

// NewJSONResponse creates a response with the given status code whose body is
// the JSON encoding of body.
func NewJSONResponse(status int, body interface{}) (*http.Response, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, errors.Wrap(err, "encoding JSON response")
	}

	resp := NewStringResponse(status, "")
	resp.Body = io.NopCloser(bytes.NewReader(raw))
	resp.ContentLength = int64(len(raw))
	resp.Header.Set("Content-Type", jsonContentType)
	return resp, nil
}

// StringResolver returns a Resolver that always responds with a string body.
func StringResolver(status int, body string) Resolver {
	return func(r *http.Request) (*http.Response, error) {
		return NewStringResponse(status, body), nil
	}
}

// JSONResolver returns a Resolver that always responds with the JSON
// encoding of body.
func JSONResolver(status int, body interface{}) Resolver {
	return func(r *http.Request) (*http.Response, error) {
		return NewJSONResponse(status, body)
	}
}
