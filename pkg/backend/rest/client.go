package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/simrigs/rig-commander/log"
	"github.com/simrigs/rig-commander/pkg/model"
)

// Client talks to the cloud backend's device facade. It realizes both the
// command transport (fetch pending, mark processing/complete) and the state
// sink (device state push, timed session persistence).
type Client struct {
	baseURL  string
	deviceID string
	http     *http.Client
	l        *log.Logger
}

type Option func(*Client)

func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.http = c }
}

func WithTimeout(d time.Duration) Option {
	return func(cl *Client) { cl.http.Timeout = d }
}

func WithLogger(l *log.Logger) Option {
	return func(cl *Client) { cl.l = l }
}

func NewClient(baseURL, deviceID string, opts ...Option) *Client {
	ret := &Client{
		baseURL:  baseURL,
		deviceID: deviceID,
		http:     &http.Client{Timeout: 10 * time.Second},
		l:        log.Default().Named("backend.rest"),
	}
	for _, opt := range opts {
		opt(ret)
	}
	return ret
}

type commandsResponse struct {
	Commands []*model.Command `json:"commands"`
}

// FetchPending lists the pending commands for this device. A 404 means the
// commands feature is not rolled out for this backend yet and yields an
// empty result, not an error.
func (c *Client) FetchPending(ctx context.Context) ([]*model.Command, error) {
	url := fmt.Sprintf("%s/api/device/%s/commands?status=pending",
		c.baseURL, c.deviceID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch pending commands: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("fetch pending commands: unexpected status %s", resp.Status)
	}
	var payload commandsResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode pending commands: %w", err)
	}
	return payload.Commands, nil
}

type statusUpdate struct {
	Status       model.CommandStatus `json:"status"`
	Result       *model.Result       `json:"result,omitempty"`
	ErrorMessage string              `json:"error_message,omitempty"`
}

func (c *Client) MarkProcessing(ctx context.Context, id string) error {
	return c.postStatus(ctx, id, statusUpdate{Status: model.StatusProcessing})
}

//nolint:whitespace // can't make both editor and linter happy
func (c *Client) MarkComplete(
	ctx context.Context,
	id string,
	status model.CommandStatus,
	res *model.Result,
) error {
	upd := statusUpdate{Status: status, Result: res}
	if res != nil && !res.Success {
		upd.ErrorMessage = res.Message
	}
	return c.postStatus(ctx, id, upd)
}

func (c *Client) postStatus(ctx context.Context, id string, upd statusUpdate) error {
	url := fmt.Sprintf("%s/api/device/%s/commands/%s/complete",
		c.baseURL, c.deviceID, id)
	return c.postJSON(ctx, url, upd)
}

// PushState reports the derived device state to the backend.
func (c *Client) PushState(ctx context.Context, state *model.DerivedState) error {
	url := fmt.Sprintf("%s/api/device/%s/state", c.baseURL, c.deviceID)
	return c.postJSON(ctx, url, state)
}

// SaveTimedSession persists the timed session state on the device record.
func (c *Client) SaveTimedSession(ctx context.Context, state *model.TimedSessionState) error {
	url := fmt.Sprintf("%s/api/device/%s/timed-session", c.baseURL, c.deviceID)
	return c.postJSON(ctx, url, state)
}

func (c *Client) postJSON(ctx context.Context, url string, body any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(
		ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("post %s: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("post %s: unexpected status %s", url, resp.Status)
	}
	return nil
}
