package llm

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

type stubClient struct {
	resp *Response
	err  error
	got  *Request
}

func (c *stubClient) Complete(_ context.Context, req *Request) (*Response, error) {
	c.got = req
	return c.resp, c.err
}

func TestWrapWithMiddleware_NoMiddlewareReturnsClientUnchanged(t *testing.T) {
	client := &stubClient{}
	if got := WrapWithMiddleware(client); got != Client(client) {
		t.Error("expected the original client back when no middleware is given")
	}
}

func TestWrapWithMiddleware_HooksModifyRequestAndResponse(t *testing.T) {
	inner := &stubClient{resp: &Response{StopReason: "stop"}}
	wrapped := WrapWithMiddleware(inner, MiddlewareFunc{
		BeforeRequestFunc: func(_ context.Context, req *Request) (*Request, error) {
			modified := *req
			modified.Model = "claude-haiku-4-5"
			return &modified, nil
		},
		AfterResponseFunc: func(_ context.Context, _ *Request, resp *Response) (*Response, error) {
			modified := *resp
			modified.StopReason = "rewritten"
			return &modified, nil
		},
	})

	resp, err := wrapped.Complete(context.Background(), &Request{Model: "claude-sonnet-4-5"})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if inner.got.Model != "claude-haiku-4-5" {
		t.Errorf("inner client saw model %q, want the modified request", inner.got.Model)
	}
	if resp.StopReason != "rewritten" {
		t.Errorf("StopReason = %q, want the modified response", resp.StopReason)
	}
}

func TestWrapWithMiddleware_OnErrorMapsError(t *testing.T) {
	inner := &stubClient{err: errors.New("upstream exploded")}
	wrapped := WrapWithMiddleware(inner, MiddlewareFunc{
		OnErrorFunc: func(_ context.Context, _ *Request, err error) error {
			return fmt.Errorf("mapped: %w", err)
		},
	})

	_, err := wrapped.Complete(context.Background(), &Request{Model: "claude-sonnet-4-5"})
	if err == nil {
		t.Fatal("expected error")
	}
	if err.Error() != "mapped: upstream exploded" {
		t.Errorf("err = %v, want mapped error", err)
	}
}
