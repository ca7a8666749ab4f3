// Package tools implements the built-in tools available to skills,
// grounded on the teacher's pkg/tools package.
package tools

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/kadirpekel/agentgw/internal/httpclient"
	"github.com/kadirpekel/agentgw/internal/tool"
)

type webRequestArgs struct {
	URL     string            `json:"url" jsonschema:"required,description=The URL to request"`
	Method  string            `json:"method,omitempty" jsonschema:"description=HTTP method; default GET,enum=GET|POST|PUT|DELETE|PATCH"`
	Headers map[string]string `json:"headers,omitempty" jsonschema:"description=HTTP headers as key-value pairs"`
	Body    string            `json:"body,omitempty" jsonschema:"description=Request body for POST/PUT/PATCH"`
}

// WebRequestSpec builds the web_request tool, grounded on the
// teacher's pkg/tools.WebRequestTool: same parameter shape, same
// retrying httpclient.Client, but without the domain allow/deny list
// (no multi-tenant untrusted-skill boundary in this daemon's scope).
func WebRequestSpec(timeout time.Duration, maxResponseBytes int64) tool.Spec {
	schema, err := tool.SchemaFor[webRequestArgs]()
	if err != nil {
		panic("web_request: schema generation: " + err.Error())
	}

	client := httpclient.New(httpclient.WithHTTPClient(&http.Client{Timeout: timeout}))

	handler := func(ctx context.Context, raw map[string]any) (tool.Result, error) {
		urlStr, _ := raw["url"].(string)
		if urlStr == "" {
			return tool.Result{}, fmt.Errorf("url is required")
		}
		if _, err := url.Parse(urlStr); err != nil {
			return tool.Result{}, fmt.Errorf("invalid url: %w", err)
		}

		method := "GET"
		if m, ok := raw["method"].(string); ok && m != "" {
			method = strings.ToUpper(m)
		}

		var body io.Reader
		if b, ok := raw["body"].(string); ok && b != "" {
			body = bytes.NewReader([]byte(b))
		}

		req, err := http.NewRequestWithContext(ctx, method, urlStr, body)
		if err != nil {
			return tool.Result{}, err
		}
		if headers, ok := raw["headers"].(map[string]any); ok {
			for k, v := range headers {
				if s, ok := v.(string); ok {
					req.Header.Set(k, s)
				}
			}
		}

		resp, err := client.Do(req)
		if err != nil {
			return tool.Result{Error: err.Error()}, nil
		}
		defer resp.Body.Close()

		respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes+1))
		if err != nil {
			return tool.Result{Error: err.Error()}, nil
		}
		if int64(len(respBody)) > maxResponseBytes {
			return tool.Result{Error: fmt.Sprintf("response exceeds %d bytes", maxResponseBytes)}, nil
		}

		return tool.Result{Content: fmt.Sprintf("HTTP %d\n\n%s", resp.StatusCode, respBody)}, nil
	}

	return tool.Spec{
		Name:        "web_request",
		Description: "Make an HTTP request to an external API or web service and return the response body.",
		Schema:      schema,
		Handler:     handler,
	}
}
