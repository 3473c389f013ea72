package mockapi

import (
	"context"
	"io"
	"iter"
	"net/http"
	"strings"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

func TestDeferred(t *testing.T) {
	t.Run("value", func(t *testing.T) {
		res := Deferred(func(r *http.Request) <-chan Outcome {
			ch := make(chan Outcome, 1)
			go func() {
				ch <- Outcome{Response: NewStringResponse(http.StatusOK, "later")}
			}()
			return ch
		})

		resp, err := res(newRequest("", ""))
		require.NoError(t, err)
		require.Equal(t, "later", readBody(t, resp))
	})

	t.Run("closed", func(t *testing.T) {
		res := Deferred(func(r *http.Request) <-chan Outcome {
			ch := make(chan Outcome)
			close(ch)
			return ch
		})

		resp, err := res(newRequest("", ""))
		require.NoError(t, err)
		require.Nil(t, resp)
	})

	t.Run("cancelled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		res := Deferred(func(r *http.Request) <-chan Outcome {
			return make(chan Outcome)
		})

		resp, err := res(newRequest("", "").WithContext(ctx))
		require.Nil(t, resp)
		require.ErrorIs(t, err, context.Canceled)
	})
}

func TestStepwise(t *testing.T) {
	steps := func(codes ...int) func(r *http.Request) iter.Seq2[*http.Response, error] {
		return func(r *http.Request) iter.Seq2[*http.Response, error] {
			return func(yield func(*http.Response, error) bool) {
				for _, code := range codes {
					if !yield(NewStringResponse(code, ""), nil) {
						return
					}
				}
			}
		}
	}

	t.Run("last wins", func(t *testing.T) {
		resp, err := Stepwise(steps(http.StatusContinue, http.StatusAccepted, http.StatusOK))(newRequest("", ""))
		require.NoError(t, err)
		require.Equal(t, http.StatusOK, resp.StatusCode)
	})

	t.Run("empty", func(t *testing.T) {
		resp, err := Stepwise(steps())(newRequest("", ""))
		require.NoError(t, err)
		require.Nil(t, resp)
	})

	t.Run("error stops", func(t *testing.T) {
		boom := errors.New("boom")
		var after bool
		res := Stepwise(func(r *http.Request) iter.Seq2[*http.Response, error] {
			return func(yield func(*http.Response, error) bool) {
				if !yield(nil, boom) {
					return
				}
				after = true
			}
		})

		resp, err := res(newRequest("", ""))
		require.Nil(t, resp)
		require.Equal(t, boom, err)
		require.False(t, after)
	})
}

// trackedBody records whether it has been closed.
type trackedBody struct {
	io.Reader
	closed int
}

func (b *trackedBody) Close() error {
	b.closed++
	return nil
}

func trackedResponse(code int) (*http.Response, *trackedBody) {
	body := &trackedBody{Reader: strings.NewReader("")}
	resp := NewStringResponse(code, "")
	resp.Body = body
	return resp, body
}

func TestStepwise_ClosesDiscarded(t *testing.T) {
	t.Run("replaced", func(t *testing.T) {
		first, firstBody := trackedResponse(http.StatusContinue)
		second, secondBody := trackedResponse(http.StatusAccepted)
		final, finalBody := trackedResponse(http.StatusOK)

		res := Stepwise(func(r *http.Request) iter.Seq2[*http.Response, error] {
			return func(yield func(*http.Response, error) bool) {
				for _, resp := range []*http.Response{first, second, final, final} {
					if !yield(resp, nil) {
						return
					}
				}
			}
		})

		resp, err := res(newRequest("", ""))
		require.NoError(t, err)
		require.Equal(t, final, resp)
		require.Equal(t, 1, firstBody.closed)
		require.Equal(t, 1, secondBody.closed)
		require.Equal(t, 0, finalBody.closed)
	})

	t.Run("error", func(t *testing.T) {
		held, heldBody := trackedResponse(http.StatusAccepted)
		failed, failedBody := trackedResponse(http.StatusBadGateway)
		boom := errors.New("boom")

		res := Stepwise(func(r *http.Request) iter.Seq2[*http.Response, error] {
			return func(yield func(*http.Response, error) bool) {
				if !yield(held, nil) {
					return
				}
				yield(failed, boom)
			}
		})

		resp, err := res(newRequest("", ""))
		require.Nil(t, resp)
		require.Equal(t, boom, err)
		require.Equal(t, 1, heldBody.closed)
		require.Equal(t, 1, failedBody.closed)
	})
}

func TestChain(t *testing.T) {
	var calls []string
	named := func(name string, resp *http.Response) Resolver {
		return func(r *http.Request) (*http.Response, error) {
			calls = append(calls, name)
			return resp, nil
		}
	}

	res := Chain(
		named("a", nil),
		nil,
		named("b", NewStringResponse(http.StatusOK, "b")),
		named("c", NewStringResponse(http.StatusOK, "c")),
	)

	resp, err := res(newRequest("", ""))
	require.NoError(t, err)
	require.Equal(t, "b", readBody(t, resp))
	require.Equal(t, []string{"a", "b"}, calls)

	resp, err = Chain()(newRequest("", ""))
	require.NoError(t, err)
	require.Nil(t, resp)
}
