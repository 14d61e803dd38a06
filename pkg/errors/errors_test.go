package errors

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHTTPStatusCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"app error wins", New(ErrEngine, http.StatusTeapot, "x"), http.StatusTeapot},
		{"wrapped app error", fmt.Errorf("ctx: %w", Unavailable("no engine")), http.StatusServiceUnavailable},
		{"conflict", Conflict("%s running", "rebuild-index"), http.StatusConflict},
		{"not found", fmt.Errorf("page p1: %w", ErrDocumentNotFound), http.StatusNotFound},
		{"invalid", ErrInvalidInput, http.StatusBadRequest},
		{"timeout", fmt.Errorf("es: %w", ErrTimeout), http.StatusServiceUnavailable},
		{"engine", ErrEngine, http.StatusBadGateway},
		{"unknown", context.Canceled, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, HTTPStatusCode(tt.err))
		})
	}
}

func TestAppError(t *testing.T) {
	err := Newf(ErrEngine, http.StatusBadGateway, "bulk item %d failed", 3)
	assert.Equal(t, "index engine error: bulk item 3 failed", err.Error())
	assert.True(t, errors.Is(err, ErrEngine))
	assert.ErrorIs(t, Conflict("busy"), ErrJobRunning)
	assert.ErrorIs(t, Unavailable("down"), ErrSearchUnavailable)
}
