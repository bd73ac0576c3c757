package errkind

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"nil-safe default", errors.New("boom"), Internal},
		{"kinded", New(Conflict, "already decided"), Conflict},
		{"wrapped kinded", errors.Wrap(New(NotFound, "gone"), "outer"), NotFound},
		{"context canceled", context.Canceled, Cancelled},
		{"deadline", context.DeadlineExceeded, Cancelled},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, KindOf(tt.err))
		})
	}
}

func TestClassifyUpstream(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"refused", errors.New("dial tcp 127.0.0.1:11434: connection refused"), UpstreamUnavailable},
		{"gateway", errors.New("unexpected status code: 503"), UpstreamUnavailable},
		{"deadline", context.DeadlineExceeded, UpstreamUnavailable},
		{"terminal", errors.New("invalid api key"), UpstreamError},
		{"cancel", context.Canceled, Cancelled},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ClassifyUpstream(tt.err).Kind)
		})
	}
}

func TestIsRetriable(t *testing.T) {
	assert.True(t, IsRetriable(New(UpstreamUnavailable, "timeout")))
	assert.False(t, IsRetriable(New(UpstreamError, "bad auth")))
	assert.False(t, IsRetriable(New(Validation, "empty prompt")))
	assert.False(t, IsRetriable(errors.New("plain")))
}

func TestErrorFormatting(t *testing.T) {
	inner := errors.New("io failure")
	e := Wrap(UpstreamUnavailable, inner, "sending reminder")
	assert.Contains(t, e.Error(), "upstream_unavailable")
	assert.Contains(t, e.Error(), "sending reminder")
	assert.ErrorIs(t, e, inner)
}
