// Package storefront предоставляет клиент для API витрины: корзины, покупатели, справочники и каталог.
package storefront

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// ErrRateLimited возвращается, если витрина продолжает отвечать 429 после всех повторов.
var ErrRateLimited = errors.New("storefront rate limit exceeded")

// errNotFound сообщает вызывающим методам, что ответ 404 нужно превратить в nil.
var errNotFound = errors.New("not found")

const (
	maxRateLimitRetries = 2
	maxRetryAfter       = 10 * time.Second
)

// Client инкапсулирует HTTP-взаимодействие с витриной.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient создаёт HTTP-клиент для обращения к витрине по указанному адресу.
func NewClient(baseURL string) *Client {
	base := strings.TrimRight(baseURL, "/")
	if base != "" && !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}
	return &Client{
		baseURL: base,
		httpClient: &http.Client{
			Timeout: 5 * time.Second,
		},
	}
}

// do выполняет запрос и декодирует JSON-ответ в out. При 429 ждёт Retry-After и повторяет запрос.
func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	if c == nil || c.baseURL == "" {
		return fmt.Errorf("storefront client not configured")
	}

	var body []byte
	if in != nil {
		var err error
		if body, err = json.Marshal(in); err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
	}

	for attempt := 0; ; attempt++ {
		retryAfter, err := c.roundTrip(ctx, method, path, body, out)
		if !errors.Is(err, ErrRateLimited) {
			return err
		}
		if attempt >= maxRateLimitRetries {
			return err
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(retryAfter):
		}
	}
}

func (c *Client) roundTrip(ctx context.Context, method, path string, body []byte, out any) (time.Duration, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return 0, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return parseRetryAfter(resp.Header.Get("Retry-After")), ErrRateLimited
	case resp.StatusCode == http.StatusNotFound:
		return 0, errNotFound
	case resp.StatusCode == http.StatusNoContent:
		return 0, nil
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return 0, fmt.Errorf("%s %s: unexpected status: %d", method, path, resp.StatusCode)
	}

	if out == nil {
		return 0, nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return 0, fmt.Errorf("decode response: %w", err)
	}
	return 0, nil
}

func parseRetryAfter(v string) time.Duration {
	retryAfter := time.Second
	if seconds, err := strconv.Atoi(v); err == nil && seconds >= 0 {
		retryAfter = time.Duration(seconds) * time.Second
	}
	if retryAfter > maxRetryAfter {
		retryAfter = maxRetryAfter
	}
	return retryAfter
}

// getOptional декодирует ответ в out и сообщает, найден ли ресурс.
func (c *Client) getOptional(ctx context.Context, path string, out any) (bool, error) {
	err := c.do(ctx, http.MethodGet, path, nil, out)
	if errors.Is(err, errNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
