package tools_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/agentgw/internal/tools"
)

func TestWebRequestSpec_SuccessReturnsStatusAndBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("pong"))
	}))
	defer srv.Close()

	spec := tools.WebRequestSpec(5*time.Second, 1024)
	res, err := spec.Handler(context.Background(), map[string]any{"url": srv.URL})
	require.NoError(t, err)
	assert.Empty(t, res.Error)
	assert.Contains(t, res.Content, "HTTP 200")
	assert.Contains(t, res.Content, "pong")
}

func TestWebRequestSpec_ResponseTooLargeIsReportedAsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(make([]byte, 2048))
	}))
	defer srv.Close()

	spec := tools.WebRequestSpec(5*time.Second, 16)
	res, err := spec.Handler(context.Background(), map[string]any{"url": srv.URL})
	require.NoError(t, err)
	assert.NotEmpty(t, res.Error)
}

func TestWebRequestSpec_MissingURLIsAnError(t *testing.T) {
	spec := tools.WebRequestSpec(5*time.Second, 1024)
	_, err := spec.Handler(context.Background(), map[string]any{})
	assert.Error(t, err)
}
