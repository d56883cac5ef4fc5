package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
)

// APIError represents an error from the backend API.
type APIError struct {
	StatusCode int
	Message    string
	Body       []byte
}

func (e *APIError) Error() string {
	return fmt.Sprintf("backend api error %d: %s", e.StatusCode, e.Message)
}

// errorBody is the error shape the backend and its proxies return.
type errorBody struct {
	Message string `json:"message"`
	Error   string `json:"error"`
}

// messageFrom prefers the body's message, then its error, then the status text.
func messageFrom(status int, body []byte) string {
	var eb errorBody
	if json.Unmarshal(body, &eb) == nil {
		if eb.Message != "" {
			return eb.Message
		}
		if eb.Error != "" {
			return eb.Error
		}
	}
	return http.StatusText(status)
}

// doRequest performs one HTTP request. body, when non-nil, is sent as JSON.
func (c *Client) doRequest(ctx context.Context, method, path string, query url.Values, body any) ([]byte, error) {
	fullURL := c.baseURL + path
	if len(query) > 0 {
		fullURL += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, fullURL, reader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		return nil, &APIError{
			StatusCode: resp.StatusCode,
			Message:    messageFrom(resp.StatusCode, respBody),
			Body:       respBody,
		}
	}

	return respBody, nil
}

// call runs one request through the Caller and decodes the response into T.
func call[T any](ctx context.Context, c *Client, method, path string, query url.Values, body any, opts ...CallOption) (T, error) {
	all := make([]CallOption, 0, len(c.callOpts)+len(opts)+1)
	all = append(all, WithOperation(method+" "+path))
	all = append(all, c.callOpts...)
	all = append(all, opts...)

	return Do(ctx, c.caller, func(ctx context.Context) (T, error) {
		var result T
		data, err := c.doRequest(ctx, method, path, query, body)
		if err != nil {
			return result, err
		}
		if len(bytes.TrimSpace(data)) == 0 {
			return result, nil
		}
		if err := json.Unmarshal(data, &result); err != nil {
			return result, fmt.Errorf("unmarshal response: %w", err)
		}
		return result, nil
	}, all...)
}
