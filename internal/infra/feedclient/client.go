package feedclient

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

	"accesscontrol/internal/domain"
	"accesscontrol/internal/revsync"

	"github.com/gorilla/websocket"
)

const (
	defaultPageSize         = 1000
	defaultSubscriberBuffer = 256
)

// Client reads a registryd event feed over HTTP and its websocket stream.
type Client struct {
	BaseURL          string
	HTTPClient       *http.Client
	Dialer           *websocket.Dialer
	PageSize         int
	SubscriberBuffer int
}

// APIError is a non-2xx response from registryd.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("registry feed: status %d", e.Status)
	}
	return fmt.Sprintf("registry feed: status %d %s: %s", e.Status, e.Code, e.Message)
}

type Option func(*Client)

func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		c.HTTPClient = client
	}
}

func WithDialer(dialer *websocket.Dialer) Option {
	return func(c *Client) {
		c.Dialer = dialer
	}
}

func WithPageSize(size int) Option {
	return func(c *Client) {
		c.PageSize = size
	}
}

func WithSubscriberBuffer(size int) Option {
	return func(c *Client) {
		c.SubscriberBuffer = size
	}
}

func NewClient(baseURL string, opts ...Option) *Client {
	client := &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTPClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		Dialer:           websocket.DefaultDialer,
		PageSize:         defaultPageSize,
		SubscriberBuffer: defaultSubscriberBuffer,
	}
	for _, opt := range opts {
		opt(client)
	}
	return client
}

var _ revsync.Source = (*Client)(nil)

type eventsPage struct {
	Notifications []domain.Notification `json:"notifications"`
	NextFrom      uint64                `json:"next_from"`
}

// Query follows next_from until the requested range is exhausted.
func (c *Client) Query(ctx context.Context, filter domain.NotificationFilter) ([]domain.Notification, error) {
	var out []domain.Notification
	from := filter.From
	for {
		params := filterParams(filter)
		if from > 0 {
			params.Set("from", strconv.FormatUint(from, 10))
		}
		pageSize := c.pageSize()
		if filter.Limit > 0 && filter.Limit-len(out) < pageSize {
			pageSize = filter.Limit - len(out)
		}
		params.Set("limit", strconv.Itoa(pageSize))

		var page eventsPage
		if err := c.getJSON(ctx, "/v1/events?"+params.Encode(), &page); err != nil {
			return nil, fmt.Errorf("query events: %w", err)
		}
		out = append(out, page.Notifications...)
		if filter.Limit > 0 && len(out) >= filter.Limit {
			return out[:filter.Limit], nil
		}
		if page.NextFrom == 0 || page.NextFrom <= from {
			return out, nil
		}
		from = page.NextFrom
	}
}

func (c *Client) CurrentPosition(ctx context.Context) (uint64, error) {
	var resp struct {
		Position uint64 `json:"position"`
	}
	if err := c.getJSON(ctx, "/v1/events/position", &resp); err != nil {
		return 0, fmt.Errorf("current position: %w", err)
	}
	return resp.Position, nil
}

// Subscribe opens the websocket stream. The channel is closed when ctx ends
// or the server closes the connection.
func (c *Client) Subscribe(ctx context.Context, filter domain.NotificationFilter) (<-chan domain.Notification, error) {
	endpoint, err := c.streamURL(filter)
	if err != nil {
		return nil, err
	}
	dialer := c.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	conn, resp, err := dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		if resp != nil {
			return nil, decodeAPIError(resp)
		}
		return nil, fmt.Errorf("subscribe: %w", err)
	}

	buffer := c.SubscriberBuffer
	if buffer <= 0 {
		buffer = defaultSubscriberBuffer
	}
	ch := make(chan domain.Notification, buffer)
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
		case <-done:
		}
		_ = conn.Close()
	}()
	go func() {
		defer close(ch)
		defer close(done)
		for {
			var n domain.Notification
			if err := conn.ReadJSON(&n); err != nil {
				return
			}
			select {
			case ch <- n:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}

func (c *Client) streamURL(filter domain.NotificationFilter) (string, error) {
	u, err := url.Parse(c.BaseURL + "/v1/events/stream")
	if err != nil {
		return "", fmt.Errorf("parse registry url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported registry url scheme %q", u.Scheme)
	}
	params := filterParams(filter)
	params.Del("from")
	params.Del("to")
	u.RawQuery = params.Encode()
	return u.String(), nil
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+path, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	httpClient := c.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return decodeAPIError(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *Client) pageSize() int {
	if c.PageSize <= 0 || c.PageSize > defaultPageSize {
		return defaultPageSize
	}
	return c.PageSize
}

func filterParams(filter domain.NotificationFilter) url.Values {
	params := url.Values{}
	if len(filter.Types) > 0 {
		types := make([]string, 0, len(filter.Types))
		for _, t := range filter.Types {
			types = append(types, string(t))
		}
		params.Set("type", strings.Join(types, ","))
	}
	if filter.DeviceID != nil {
		params.Set("device_id", strconv.FormatUint(uint64(*filter.DeviceID), 10))
	}
	if filter.From > 0 {
		params.Set("from", strconv.FormatUint(filter.From, 10))
	}
	if filter.To > 0 {
		params.Set("to", strconv.FormatUint(filter.To, 10))
	}
	return params
}

func decodeAPIError(resp *http.Response) error {
	apiErr := &APIError{Status: resp.StatusCode}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var payload struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}
	if json.Unmarshal(body, &payload) == nil {
		apiErr.Code = payload.Code
		apiErr.Message = payload.Message
	}
	if apiErr.Message == "" {
		apiErr.Message = strings.TrimSpace(string(body))
	}
	return apiErr
}
