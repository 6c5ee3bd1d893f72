// Package browser attaches to a running Chrome over the DevTools protocol.
// The Chrome profile must already be logged in; this package never logs in.
package browser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/itai-hania/HFI/internal/thread"
)

const pollInterval = 250 * time.Millisecond

const (
	scriptReady = `(() => {
  const href = location.href;
  return {href: href, ready: document.readyState === "complete" && document.querySelector('article') !== null};
})()`
	scriptSnapshot = `({href: location.href, html: document.documentElement.outerHTML})`
	scriptExpand   = `(() => {
  const labels = ["show replies", "show more replies", "show additional replies"];
  let n = 0;
  document.querySelectorAll('[role="button"], button').forEach(el => {
    if (labels.includes(el.innerText.trim().toLowerCase())) { el.click(); n++; }
  });
  return n;
})()`
	scriptScroll = `window.scrollBy(0, %d); true`
)

var errClosed = errors.New("devtools connection closed")

type message struct {
	ID     int64           `json:"id,omitempty"`
	Method string          `json:"method,omitempty"`
	Params json.RawMessage `json:"params,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *protocolError  `json:"error,omitempty"`
}

type protocolError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *protocolError) Error() string {
	return fmt.Sprintf("devtools error %d: %s", e.Code, e.Message)
}

// Client drives one browser tab. Calls are safe for concurrent use, but a
// traversal uses it sequentially.
type Client struct {
	conn    *websocket.Conn
	timeout time.Duration
	nextID  atomic.Int64

	writeMu sync.Mutex

	mu      sync.Mutex
	pending map[int64]chan message
	seen    map[string]bool
	res     []string

	done    chan struct{}
	readErr error
}

var _ thread.Browser = (*Client)(nil)

// Connect attaches to a tab. endpoint is either the tab's ws:// debugger URL
// or the http:// DevTools address, in which case the first page tab is used.
func Connect(ctx context.Context, endpoint string, timeout time.Duration) (*Client, error) {
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	wsURL := endpoint
	if !strings.HasPrefix(endpoint, "ws://") && !strings.HasPrefix(endpoint, "wss://") {
		var err error
		wsURL, err = discoverPage(ctx, endpoint)
		if err != nil {
			return nil, err
		}
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("dial devtools: %w", err)
	}

	c := &Client{
		conn:    conn,
		timeout: timeout,
		pending: make(map[int64]chan message),
		seen:    make(map[string]bool),
		done:    make(chan struct{}),
	}
	go c.readLoop()

	for _, method := range []string{"Page.enable", "Network.enable"} {
		if err := c.call(ctx, method, nil, nil); err != nil {
			c.Close()
			return nil, fmt.Errorf("%s: %w", method, err)
		}
	}
	log.Printf("Attached to browser tab %s", wsURL)
	return c, nil
}

func discoverPage(ctx context.Context, endpoint string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", strings.TrimRight(endpoint, "/")+"/json/list", nil)
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("listing browser tabs: %w", err)
	}
	defer resp.Body.Close()

	var targets []struct {
		Type                 string `json:"type"`
		URL                  string `json:"url"`
		WebSocketDebuggerURL string `json:"webSocketDebuggerUrl"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&targets); err != nil {
		return "", fmt.Errorf("decoding tab list: %w", err)
	}
	for _, t := range targets {
		if t.Type == "page" && t.WebSocketDebuggerURL != "" && !strings.HasPrefix(t.URL, "devtools://") {
			return t.WebSocketDebuggerURL, nil
		}
	}
	return "", fmt.Errorf("no page tab found at %s", endpoint)
}

// Close detaches from the tab. The browser itself keeps running.
func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) readLoop() {
	defer close(c.done)
	for {
		var msg message
		if err := c.conn.ReadJSON(&msg); err != nil {
			c.mu.Lock()
			c.readErr = err
			c.mu.Unlock()
			return
		}
		if msg.ID != 0 {
			c.mu.Lock()
			ch, ok := c.pending[msg.ID]
			delete(c.pending, msg.ID)
			c.mu.Unlock()
			if ok {
				ch <- msg
			}
			continue
		}
		if msg.Method == "Network.requestWillBeSent" {
			var p struct {
				Request struct {
					URL string `json:"url"`
				} `json:"request"`
			}
			if json.Unmarshal(msg.Params, &p) == nil {
				c.observe(p.Request.URL)
			}
		}
	}
}

func (c *Client) observe(raw string) {
	if !isMediaResource(raw) {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.seen[raw] {
		return
	}
	c.seen[raw] = true
	c.res = append(c.res, raw)
}

// isMediaResource keeps video manifests and progressive video files.
func isMediaResource(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	if strings.HasSuffix(u.Path, ".m3u8") {
		return true
	}
	return u.Host == "video.twimg.com" && strings.HasSuffix(u.Path, ".mp4")
}

func (c *Client) call(ctx context.Context, method string, params any, out any) error {
	id := c.nextID.Add(1)
	req := map[string]any{"id": id, "method": method}
	if params != nil {
		req["params"] = params
	}

	ch := make(chan message, 1)
	c.mu.Lock()
	c.pending[id] = ch
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	c.writeMu.Lock()
	err := c.conn.WriteJSON(req)
	c.writeMu.Unlock()
	if err != nil {
		return fmt.Errorf("sending %s: %w", method, err)
	}

	timer := time.NewTimer(c.timeout)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return fmt.Errorf("%s: timed out after %s", method, c.timeout)
	case <-c.done:
		c.mu.Lock()
		defer c.mu.Unlock()
		return fmt.Errorf("%w: %v", errClosed, c.readErr)
	case msg := <-ch:
		if msg.Error != nil {
			return msg.Error
		}
		if out != nil {
			if err := json.Unmarshal(msg.Result, out); err != nil {
				return fmt.Errorf("decoding %s result: %w", method, err)
			}
		}
		return nil
	}
}

// evaluate runs expression in the page and decodes its value into out.
func (c *Client) evaluate(ctx context.Context, expression string, out any) error {
	var res struct {
		Result struct {
			Value json.RawMessage `json:"value"`
		} `json:"result"`
		ExceptionDetails *struct {
			Text string `json:"text"`
		} `json:"exceptionDetails"`
	}
	err := c.call(ctx, "Runtime.evaluate", map[string]any{
		"expression":    expression,
		"returnByValue": true,
	}, &res)
	if err != nil {
		return err
	}
	if res.ExceptionDetails != nil {
		return fmt.Errorf("script error: %s", res.ExceptionDetails.Text)
	}
	if out == nil || len(res.Result.Value) == 0 {
		return nil
	}
	return json.Unmarshal(res.Result.Value, out)
}

// isLoginPage reports whether the tab was redirected to the sign-in flow.
func isLoginPage(href string) bool {
	u, err := url.Parse(href)
	if err != nil {
		return false
	}
	return u.Path == "/login" || strings.HasPrefix(u.Path, "/i/flow/login")
}

// Navigate loads url and waits until posts are rendered.
func (c *Client) Navigate(ctx context.Context, target string) error {
	var nav struct {
		ErrorText string `json:"errorText"`
	}
	if err := c.call(ctx, "Page.navigate", map[string]any{"url": target}, &nav); err != nil {
		return err
	}
	if nav.ErrorText != "" {
		return fmt.Errorf("navigating to %s: %s", target, nav.ErrorText)
	}

	deadline := time.Now().Add(c.timeout)
	for {
		var state struct {
			Href  string `json:"href"`
			Ready bool   `json:"ready"`
		}
		if err := c.evaluate(ctx, scriptReady, &state); err != nil {
			return err
		}
		if isLoginPage(state.Href) {
			return thread.ErrAuthExpired
		}
		if state.Ready {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("timed out waiting for posts at %s", target)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(pollInterval):
		}
	}
}

// Snapshot returns the rendered page HTML.
func (c *Client) Snapshot(ctx context.Context) (string, error) {
	var snap struct {
		Href string `json:"href"`
		HTML string `json:"html"`
	}
	if err := c.evaluate(ctx, scriptSnapshot, &snap); err != nil {
		return "", err
	}
	if isLoginPage(snap.Href) {
		return "", thread.ErrAuthExpired
	}
	return snap.HTML, nil
}

// ExpandReplies clicks every collapsed reply affordance on the page.
func (c *Client) ExpandReplies(ctx context.Context) (int, error) {
	var n int
	if err := c.evaluate(ctx, scriptExpand, &n); err != nil {
		return 0, err
	}
	return n, nil
}

// Scroll moves the viewport down by pixels.
func (c *Client) Scroll(ctx context.Context, pixels int) error {
	return c.evaluate(ctx, fmt.Sprintf(scriptScroll, pixels), nil)
}

// Resources returns video URIs the tab requested since attaching.
func (c *Client) Resources() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.res...)
}
