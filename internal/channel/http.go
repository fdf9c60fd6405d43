package channel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"uk.co.dudmesh.tgingest/internal/model"
)

const (
	defaultTimeout = 30 * time.Second
	maxErrorBody   = 4 << 10
)

// ErrorUpstream is returned for responses the gateway marks as transient
// (rate limiting, 5xx).
var ErrorUpstream = errors.New("upstream unavailable")

// HTTPClient talks to a JSON channel gateway:
//
//	GET {base}/channels/{id}/messages?limit=&offset_id=&min_id=
//	GET {base}/channels/{id}/messages/{messageId}/file
type HTTPClient struct {
	baseURL string
	token   string
	client  *http.Client
	limiter *rate.Limiter
}

type HTTPOption func(*HTTPClient)

func WithHTTPClient(client *http.Client) HTTPOption {
	return func(c *HTTPClient) {
		c.client = client
	}
}

func WithToken(token string) HTTPOption {
	return func(c *HTTPClient) {
		c.token = token
	}
}

// WithRateLimit bounds requests per second towards the gateway. Zero or a
// negative value disables limiting.
func WithRateLimit(rps float64) HTTPOption {
	return func(c *HTTPClient) {
		if rps <= 0 {
			c.limiter = nil
			return
		}
		burst := int(rps)
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

func NewHTTPClient(baseURL string, opts ...HTTPOption) (*HTTPClient, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, errors.New("channel: base url is required")
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("channel: parsing base url: %w", err)
	}

	c := &HTTPClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

type wireMessage struct {
	ID    int64  `json:"id"`
	Text  string `json:"text"`
	Date  int64  `json:"date"`
	Media bool   `json:"media"`
}

type wireMessages struct {
	Messages []wireMessage `json:"messages"`
}

type wireFile struct {
	FileID string `json:"fileId"`
}

type wireError struct {
	Error string `json:"error"`
}

func (c *HTTPClient) GetMessages(ctx context.Context, channelID string, q Query) ([]RawMessage, error) {
	params := url.Values{}
	if q.Limit > 0 {
		params.Set("limit", strconv.Itoa(q.Limit))
	}
	if q.OffsetID > 0 {
		params.Set("offset_id", strconv.FormatInt(int64(q.OffsetID), 10))
	}
	if q.MinID != nil {
		params.Set("min_id", strconv.FormatInt(int64(*q.MinID), 10))
	}

	endpoint := fmt.Sprintf("%s/channels/%s/messages", c.baseURL, url.PathEscape(channelID))
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}

	var body wireMessages
	status, err := c.get(ctx, endpoint, &body)
	if err != nil {
		if status == http.StatusNotFound {
			return nil, fmt.Errorf("channel %s: %w", channelID, model.ErrorChannelNotFound)
		}
		return nil, fmt.Errorf("getting messages: %w", err)
	}

	messages := make([]RawMessage, 0, len(body.Messages))
	for _, m := range body.Messages {
		messages = append(messages, RawMessage{
			ID:       model.MessageID(m.ID),
			Text:     m.Text,
			Date:     time.Unix(m.Date, 0).UTC(),
			HasMedia: m.Media,
		})
	}
	return messages, nil
}

func (c *HTTPClient) ResolveFileID(ctx context.Context, channelID string, messageID model.MessageID) (string, error) {
	endpoint := fmt.Sprintf("%s/channels/%s/messages/%d/file", c.baseURL, url.PathEscape(channelID), messageID)

	var body wireFile
	status, err := c.get(ctx, endpoint, &body)
	if err != nil {
		if status == http.StatusNotFound {
			return "", nil
		}
		return "", fmt.Errorf("resolving file id: %w", err)
	}
	return body.FileID, nil
}

// get performs a GET and decodes a 200 response into out. The status code is
// returned alongside any error so callers can map 404s.
func (c *HTTPClient) get(ctx context.Context, endpoint string, out interface{}) (int, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return 0, fmt.Errorf("waiting for rate limiter: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return 0, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("requesting %s: %w", req.URL.Path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		msg := strings.TrimSpace(string(raw))
		var we wireError
		if json.Unmarshal(raw, &we) == nil && we.Error != "" {
			msg = we.Error
		}
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return resp.StatusCode, fmt.Errorf("%w: status %d: %s", ErrorUpstream, resp.StatusCode, msg)
		}
		return resp.StatusCode, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, msg)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return resp.StatusCode, fmt.Errorf("decoding response: %w", err)
	}
	return resp.StatusCode, nil
}
