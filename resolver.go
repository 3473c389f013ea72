package mockapi

import (
	"iter"
	"net/http"
)

// Resolver decides how to respond to an intercepted request. Returning a nil
// response and a nil error means the resolver has no response for the request
// and it should be passed on to whatever handles it next.
type Resolver func(r *http.Request) (*http.Response, error)

// Outcome is a single result delivered by a deferred resolver.
type Outcome struct {
	Response *http.Response
	Err      error
}

// Deferred adapts a function producing its result asynchronously into a
// Resolver. The returned Resolver blocks until an Outcome is received or the
// request context is done. A channel closed without a value is treated as no
// response.
func Deferred(fn func(r *http.Request) <-chan Outcome) Resolver {
	return func(r *http.Request) (*http.Response, error) {
		ch := fn(r)
		if ch == nil {
			return nil, nil
		}

		select {
		case out, ok := <-ch:
			if !ok {
				return nil, nil
			}
			return out.Response, out.Err
		case <-r.Context().Done():
			return nil, r.Context().Err()
		}
	}
}

// Stepwise adapts a producer that yields responses one step at a time into a
// Resolver. The sequence is driven to completion and the last non-nil
// response is the result. The first error yielded stops the sequence.
// Responses that are not returned have their bodies closed.
func Stepwise(fn func(r *http.Request) iter.Seq2[*http.Response, error]) Resolver {
	return func(r *http.Request) (*http.Response, error) {
		seq := fn(r)
		if seq == nil {
			return nil, nil
		}

		var last *http.Response
		for resp, err := range seq {
			if err != nil {
				closeBody(last)
				if resp != last {
					closeBody(resp)
				}
				return nil, err
			}
			if resp != nil {
				if resp != last {
					closeBody(last)
				}
				last = resp
			}
		}
		return last, nil
	}
}

// Chain tries each resolver in order and returns the first response or error.
func Chain(resolvers ...Resolver) Resolver {
	return func(r *http.Request) (*http.Response, error) {
		for _, res := range resolvers {
			if res == nil {
				continue
			}
			resp, err := res(r)
			if err != nil || resp != nil {
				return resp, err
			}
		}
		return nil, nil
	}
}

func closeBody(resp *http.Response) {
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
}
