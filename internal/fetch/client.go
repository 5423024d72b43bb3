// Package fetch loads the initial snapshot of a shared document by its share
// token. Failures are terminal for the attempt; nothing here retries.
package fetch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/golang/glog"

	"collabtext/internal/liveview"
)

// Error describes a failed fetch. It unwraps to liveview.ErrNotFound,
// liveview.ErrRateLimited or liveview.ErrUnavailable.
type Error struct {
	Token      string
	StatusCode int
	// set for rate limited responses that carry Retry-After
	RetryAfter time.Duration
	kind       error
	cause      error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("fetch %s: %s", e.Token, e.kind)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (status %d)", e.StatusCode)
	}
	if e.cause != nil {
		msg += ": " + e.cause.Error()
	}
	return msg
}

func (e *Error) Unwrap() []error {
	if e.cause != nil {
		return []error{e.kind, e.cause}
	}
	return []error{e.kind}
}

type Client struct {
	baseUrl    string
	httpClient *http.Client
}

func NewClient(baseUrl string, timeout time.Duration) *Client {
	return &Client{
		baseUrl:    strings.TrimRight(baseUrl, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Fetch returns the current snapshot for token.
func (c *Client) Fetch(ctx context.Context, token string) (liveview.Snapshot, error) {
	endpoint := fmt.Sprintf("%s/api/shared/%s", c.baseUrl, url.PathEscape(token))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return liveview.Snapshot{}, &Error{Token: token, kind: liveview.ErrUnavailable, cause: err}
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		glog.Infof("[f]%s error = %s\n", token, err)
		return liveview.Snapshot{}, &Error{Token: token, kind: liveview.ErrUnavailable, cause: err}
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return liveview.Snapshot{}, &Error{Token: token, StatusCode: resp.StatusCode, kind: liveview.ErrNotFound}
	case http.StatusTooManyRequests:
		return liveview.Snapshot{}, &Error{
			Token:      token,
			StatusCode: resp.StatusCode,
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
			kind:       liveview.ErrRateLimited,
		}
	default:
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return liveview.Snapshot{}, &Error{Token: token, StatusCode: resp.StatusCode, kind: liveview.ErrUnavailable}
	}

	var body struct {
		ID        string         `json:"id"`
		Kind      string         `json:"kind"`
		Fields    map[string]any `json:"fields"`
		UpdatedAt int64          `json:"updatedAt"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return liveview.Snapshot{}, &Error{Token: token, StatusCode: resp.StatusCode, kind: liveview.ErrUnavailable, cause: err}
	}
	kind, err := liveview.ParseKind(body.Kind)
	if err != nil {
		return liveview.Snapshot{}, &Error{Token: token, StatusCode: resp.StatusCode, kind: liveview.ErrUnavailable, cause: err}
	}

	glog.V(2).Infof("[f]%s kind=%s updatedAt=%d\n", token, kind, body.UpdatedAt)
	return liveview.Snapshot{
		ID:        body.ID,
		Kind:      kind,
		Fields:    body.Fields,
		UpdatedAt: body.UpdatedAt,
	}, nil
}

func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(v); err == nil && 0 <= seconds {
		return time.Duration(seconds) * time.Second
	}
	if at, err := http.ParseTime(v); err == nil {
		if d := time.Until(at); 0 < d {
			return d
		}
	}
	return 0
}
