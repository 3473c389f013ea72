package mockapi

import (
	"net/http"
)

// Transport is an http.RoundTripper that intercepts outgoing requests with a
// chain of resolvers. Requests none of the resolvers respond to are sent
// through to the next RoundTripper unchanged.
type Transport struct {
	next    http.RoundTripper
	resolve Resolver
}

// NewTransport creates a Transport. If next is nil, http.DefaultTransport is
// used for requests that pass through.
func NewTransport(next http.RoundTripper, resolvers ...Resolver) *Transport {
	if next == nil {
		next = http.DefaultTransport
	}
	return &Transport{
		next:    next,
		resolve: Chain(resolvers...),
	}
}

// RoundTrip implements http.RoundTripper. Resolvers see a copy of req so
// the caller's request is never modified.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	r2 := req.Clone(req.Context())
	resp, err := t.resolve(r2)
	if err == nil && resp == nil {
		return t.next.RoundTrip(r2)
	}

	if req.Body != nil {
		req.Body.Close()
	}
	if err != nil {
		return nil, err
	}

	resp.Request = req
	return resp, nil
}

// Client returns an http.Client using this Transport.
func (t *Transport) Client() *http.Client {
	return &http.Client{Transport: t}
}
