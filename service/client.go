package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	backoff "github.com/cenkalti/backoff/v4"
	"github.com/flowrelay/flowrelay/logger"
	"github.com/flowrelay/flowrelay/model"
	"go.uber.org/zap"
)

// Auth carries the per-session credentials every engine call needs.
type Auth struct {
	TenantId  string
	AuthToken string
}

// APIError is a non-2xx reply from the engine. Transient statuses (0, 500,
// 504) keep queued work recoverable; everything else is surfaced as is.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("engine returned status %d: %s", e.Status, e.Body)
}

func (e *APIError) Transient() bool {
	return e.Status == 0 || e.Status == http.StatusInternalServerError || e.Status == http.StatusGatewayTimeout
}

type Config struct {
	BaseUrl      string
	HttpClient   *http.Client
	WaitInterval time.Duration
	JoinInterval time.Duration
	MaxWaitPolls uint64
	MaxJoinPolls uint64
}

// Client speaks the flow engine's fixed JSON-over-HTTP contract: invoke,
// join, objectDataRequest, fileDataRequest and the state-values read used
// by reconciliation.
type Client struct {
	conf Config
}

func NewClient(conf Config) *Client {
	if conf.HttpClient == nil {
		conf.HttpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if conf.WaitInterval == 0 {
		conf.WaitInterval = 2 * time.Second
	}
	if conf.JoinInterval == 0 {
		conf.JoinInterval = 10 * time.Second
	}
	if conf.MaxWaitPolls == 0 {
		conf.MaxWaitPolls = 30
	}
	if conf.MaxJoinPolls == 0 {
		conf.MaxJoinPolls = 6
	}
	return &Client{conf: conf}
}

func (c *Client) Invoke(ctx context.Context, req *model.InvokeRequest, auth Auth) (*model.InvokeResponse, error) {
	url := fmt.Sprintf("%s/api/run/1/state/%s", c.conf.BaseUrl, req.StateId)
	var resp model.InvokeResponse
	if err := c.postJSON(ctx, url, req, &resp, auth); err != nil {
		return nil, err
	}
	return &resp, nil
}

// InvokeAndWait invokes and, while the engine answers WAIT, polls on a
// fixed short interval until a terminal response or cancellation. Constant
// interval by design: expected waits are bounded, backoff would only slow
// the common case.
func (c *Client) InvokeAndWait(ctx context.Context, req *model.InvokeRequest, auth Auth) (*model.InvokeResponse, error) {
	var resp *model.InvokeResponse
	operation := func() error {
		r, err := c.Invoke(ctx, req, auth)
		if err != nil {
			return backoff.Permanent(err)
		}
		if r.InvokeType == model.RESPONSE_WAIT {
			logger.Debug("engine still waiting", zap.String("stateId", req.StateId), zap.String("message", r.WaitMessage))
			return fmt.Errorf("state %s still waiting", req.StateId)
		}
		resp = r
		return nil
	}
	b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(c.conf.WaitInterval), c.conf.MaxWaitPolls), ctx)
	if err := backoff.Retry(operation, b); err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *Client) Join(ctx context.Context, stateId string, auth Auth) (*model.InvokeResponse, error) {
	url := fmt.Sprintf("%s/api/run/1/state/%s", c.conf.BaseUrl, stateId)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	var resp model.InvokeResponse
	if err := c.do(httpReq, &resp, auth); err != nil {
		return nil, err
	}
	return &resp, nil
}

// JoinWithRetry polls the join endpoint on a longer interval, used when
// resuming a session after an authorization failure.
func (c *Client) JoinWithRetry(ctx context.Context, stateId string, auth Auth) (*model.InvokeResponse, error) {
	var resp *model.InvokeResponse
	operation := func() error {
		r, err := c.Join(ctx, stateId, auth)
		if err != nil {
			logger.Debug("join attempt failed", zap.String("stateId", stateId), zap.Error(err))
			return err
		}
		resp = r
		return nil
	}
	b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(c.conf.JoinInterval), c.conf.MaxJoinPolls), ctx)
	if err := backoff.Retry(operation, b); err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *Client) GetStateValues(ctx context.Context, stateId string, valueId string, auth Auth) (*model.StateValuesResponse, error) {
	url := fmt.Sprintf("%s/api/run/1/state/%s/values/%s", c.conf.BaseUrl, stateId, valueId)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	var resp model.StateValuesResponse
	if err := c.do(httpReq, &resp, auth); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) ObjectDataRequest(ctx context.Context, req *model.ObjectDataRequest, auth Auth) (*model.ObjectDataResponse, error) {
	url := fmt.Sprintf("%s/api/service/1/data", c.conf.BaseUrl)
	var resp model.ObjectDataResponse
	if err := c.postJSON(ctx, url, req, &resp, auth); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Ping answers whether the engine is reachable, used as the default
// connectivity probe.
func (c *Client) Ping(ctx context.Context) bool {
	url := fmt.Sprintf("%s/api/health", c.conf.BaseUrl)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false
	}
	resp, err := c.conf.HttpClient.Do(httpReq)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	return resp.StatusCode < http.StatusInternalServerError
}

func (c *Client) postJSON(ctx context.Context, url string, body any, out any, auth Auth) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	return c.do(httpReq, out, auth)
}

func (c *Client) do(req *http.Request, out any, auth Auth) error {
	req.Header.Set("X-Tenant-Id", auth.TenantId)
	if auth.AuthToken != "" {
		req.Header.Set("Authorization", auth.AuthToken)
	}
	resp, err := c.conf.HttpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &APIError{Status: resp.StatusCode, Body: string(data)}
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(data, out)
}
