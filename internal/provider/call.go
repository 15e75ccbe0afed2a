package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/stacklok/toolhive-imagegen-server/internal/httpclient"
)

const maxResponseBody = 10 << 20

// messagePaths are tried in order to pull a human readable message out of an
// error response body.
var messagePaths = []string{"detail.0.msg", "detail", "error.message", "error", "message"}

// Call performs one JSON request against a provider API and returns the body
// of a 2xx response. Transport failures become KindUnreachable errors, other
// statuses are classified by ClassifyHTTPStatus.
func Call(
	ctx context.Context,
	client *http.Client,
	providerName, method, url string,
	header http.Header,
	payload any,
) ([]byte, error) {
	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	for k, v := range header {
		req.Header[k] = v
	}
	req.Header.Set("User-Agent", httpclient.UserAgent)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, Unreachable(providerName, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, Unreachable(providerName, fmt.Errorf("failed to read response: %w", err))
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, ClassifyHTTPStatus(providerName, resp.StatusCode, ErrorMessage(data))
	}
	return data, nil
}

// ErrorMessage extracts a message from a provider error body.
func ErrorMessage(body []byte) string {
	if gjson.ValidBytes(body) {
		for _, p := range messagePaths {
			if r := gjson.GetBytes(body, p); r.Exists() && r.Type == gjson.String && r.Str != "" {
				return r.Str
			}
		}
	}
	msg := strings.TrimSpace(string(body))
	if len(msg) > 200 {
		msg = msg[:200]
	}
	return msg
}
