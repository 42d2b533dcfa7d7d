package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/guseggert/execagent/agent/job"
	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

const streamReadLimit = 32768

// Client talks to a running agent.
type Client struct {
	Logger     *zap.SugaredLogger
	HTTPClient *http.Client

	baseURL                  string
	wsURL                    string
	waitInterval             time.Duration
	customizeRetryableClient func(*retryablehttp.Client)

	// wsHTTPClient is a plain client for WebSocket dials; the retrying client
	// can't be reused for an upgrade request.
	wsHTTPClient *http.Client
}

type ClientOption func(c *Client)

func WithClientWaitInterval(d time.Duration) ClientOption {
	return func(c *Client) {
		c.waitInterval = d
	}
}

func WithClientLogger(l *zap.Logger) ClientOption {
	return func(c *Client) {
		c.Logger = l.Named("agentclient").Sugar()
	}
}

func WithCustomizeRetryableClient(f func(r *retryablehttp.Client)) ClientOption {
	return func(c *Client) {
		c.customizeRetryableClient = f
	}
}

type logAdapter struct {
	*zap.SugaredLogger
}

func (a *logAdapter) Printf(msg string, args ...interface{}) { a.Debugf(msg, args...) }

func NewClient(log *zap.SugaredLogger, host string, port int, opts ...ClientOption) (*Client, error) {
	c := &Client{
		Logger:       log,
		baseURL:      fmt.Sprintf("http://%s:%d", host, port),
		wsURL:        fmt.Sprintf("ws://%s:%d", host, port),
		waitInterval: time.Second,
		wsHTTPClient: &http.Client{},
	}
	for _, o := range opts {
		o(c)
	}

	retryClient := retryablehttp.NewClient()
	retryClient.Logger = &logAdapter{c.Logger}
	if c.customizeRetryableClient != nil {
		c.customizeRetryableClient(retryClient)
	}
	c.HTTPClient = retryClient.StandardClient()

	return c, nil
}

// WaitForServer polls the health endpoint until the agent responds or the
// context is done.
func (c *Client) WaitForServer(ctx context.Context) error {
	for {
		h, err := c.Health(ctx)
		if err == nil && h.Status == "ok" {
			return nil
		}
		c.Logger.Debugw("agent not ready yet", "Error", err)
		select {
		case <-ctx.Done():
			return fmt.Errorf("waiting for agent: %w", ctx.Err())
		case <-time.After(c.waitInterval):
		}
	}
}

func (c *Client) Health(ctx context.Context) (*HealthResponse, error) {
	var resp HealthResponse
	if err := c.getJSON(ctx, "/health", &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Exec submits a command and returns the new job's ID.
func (c *Client) Exec(ctx context.Context, req ExecRequest) (string, error) {
	var resp ExecResponse
	if err := c.postJSON(ctx, "/exec", req, &resp); err != nil {
		return "", err
	}
	return resp.JobID, nil
}

func (c *Client) Status(ctx context.Context, jobID string) (*StatusResponse, error) {
	var resp StatusResponse
	if err := c.getJSON(ctx, "/status/"+jobID, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) Result(ctx context.Context, jobID string) (*ResultResponse, error) {
	var resp ResultResponse
	if err := c.getJSON(ctx, "/result/"+jobID, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) Cancel(ctx context.Context, jobID string) (*CancelResponse, error) {
	var resp CancelResponse
	if err := c.postJSON(ctx, "/cancel/"+jobID, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) ListJobs(ctx context.Context) (*ListJobsResponse, error) {
	var resp ListJobsResponse
	if err := c.getJSON(ctx, "/jobs", &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) Browse(ctx context.Context, path string) (*BrowseResponse, error) {
	var resp BrowseResponse
	if err := c.getJSON(ctx, "/browse?path="+url.QueryEscape(path), &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) DiskUsage(ctx context.Context) (*DiskUsageResponse, error) {
	var resp DiskUsageResponse
	if err := c.getJSON(ctx, "/disk", &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) ListArtifacts(ctx context.Context) (*ListArtifactsResponse, error) {
	var resp ListArtifactsResponse
	if err := c.getJSON(ctx, "/files", &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// DownloadArtifact writes the named artifact's contents to w.
func (c *Client) DownloadArtifact(ctx context.Context, name string, w io.Writer) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/files/"+name, nil)
	if err != nil {
		return err
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if err := checkStatus(resp); err != nil {
		return err
	}
	_, err = io.Copy(w, resp.Body)
	return err
}

// Upload sends one file to the agent's upload endpoint.
func (c *Client) Upload(ctx context.Context, destDir, name string, r io.Reader) (*UploadResponse, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", name)
	if err != nil {
		return nil, err
	}
	if _, err := io.Copy(fw, r); err != nil {
		return nil, err
	}
	if destDir != "" {
		if err := mw.WriteField("dest_dir", destDir); err != nil {
			return nil, err
		}
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/upload", &body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	httpResp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()
	if err := checkStatus(httpResp); err != nil {
		return nil, err
	}
	var resp UploadResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return nil, fmt.Errorf("decoding upload response: %w", err)
	}
	return &resp, nil
}

// FollowOutput dials the job's stream WebSocket and returns a channel of
// stream messages. The channel closes after the Done message, when ctx is
// done, or when the connection drops.
func (c *Client) FollowOutput(ctx context.Context, jobID string) (<-chan StreamMessage, error) {
	wsConn, resp, err := websocket.Dial(ctx, c.wsURL+"/exec/stream/"+jobID, &websocket.DialOptions{
		HTTPClient:      c.wsHTTPClient,
		CompressionMode: websocket.CompressionContextTakeover,
	})
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusNotFound {
			return nil, job.ErrNotFound
		}
		return nil, fmt.Errorf("establishing stream WebSocket conn: %w", err)
	}
	wsConn.SetReadLimit(streamReadLimit)

	events := make(chan StreamMessage)
	go func() {
		defer close(events)
		defer wsConn.Close(websocket.StatusNormalClosure, "")
		for {
			var msg StreamMessage
			err := wsjson.Read(ctx, wsConn, &msg)
			if err != nil {
				if websocket.CloseStatus(err) != websocket.StatusNormalClosure {
					c.Logger.Debugf("stream reader got error: %s", err)
				}
				return
			}
			select {
			case events <- msg:
			case <-ctx.Done():
				return
			}
			if msg.Done {
				return
			}
		}
	}()
	return events, nil
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	return c.doJSON(req, out)
}

func (c *Client) postJSON(ctx context.Context, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.doJSON(req, out)
}

func (c *Client) doJSON(req *http.Request, out any) error {
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if err := checkStatus(resp); err != nil {
		return err
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

func checkStatus(resp *http.Response) error {
	if resp.StatusCode == http.StatusOK {
		return nil
	}
	if resp.StatusCode == http.StatusNotFound {
		return job.ErrNotFound
	}
	b, _ := io.ReadAll(resp.Body)
	return fmt.Errorf("agent returned %s: %s", resp.Status, strings.TrimSpace(string(b)))
}
