// Package rpcclient implements the JSON-RPC 1.0 daemon interface of spec
// §4.1: parallel fan-out calls across N daemons, a streaming per-daemon
// variant, batched calls to the primary daemon only, and an initial online
// check. Grounded on the teacher's internal/stratum/v2/litecoin_rpc.go
// single-daemon client, generalized to a pool of daemons.
package rpcclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// DaemonConfig describes one configured coin-daemon endpoint.
type DaemonConfig struct {
	ID       string
	Host     string
	Port     int
	User     string
	Password string
}

func (d DaemonConfig) url() string {
	return fmt.Sprintf("http://%s:%d", d.Host, d.Port)
}

// Result is one daemon's response to a call, spec §4.1 "Vec<{daemon_id,
// result|error}>".
type Result struct {
	DaemonID string
	Result   json.RawMessage
	Err      error
}

// Config configures the Client.
type Config struct {
	Daemons []DaemonConfig
	Timeout time.Duration // default per-call timeout, spec §4.1 default 60s
	Logger  *slog.Logger
}

// Client is the daemon RPC client described in spec §4.1.
type Client struct {
	daemons []DaemonConfig
	timeout time.Duration
	http    *http.Client
	logger  *slog.Logger

	calls  *prometheus.CounterVec
	errors *prometheus.CounterVec
}

// NewClient builds a Client for the configured daemon set.
func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		daemons: cfg.Daemons,
		timeout: timeout,
		http:    &http.Client{Timeout: timeout},
		logger:  logger.With("component", "rpcclient"),
		calls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "stratumpool_rpc_calls_total",
			Help: "Total RPC calls made to coin daemons.",
		}, []string{"daemon", "method"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "stratumpool_rpc_errors_total",
			Help: "Total RPC call errors by daemon and method.",
		}, []string{"daemon", "method"}),
	}
}

// Collectors exposes the client's Prometheus metrics for registration.
func (c *Client) Collectors() []prometheus.Collector {
	return []prometheus.Collector{c.calls, c.errors}
}

type jsonRPC1Request struct {
	ID     int           `json:"id"`
	Method string        `json:"method"`
	Params []interface{} `json:"params"`
}

type jsonRPC1Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type jsonRPC1Response struct {
	Result json.RawMessage `json:"result"`
	Error  *jsonRPC1Error  `json:"error"`
	ID     int             `json:"id"`
}

// doSingle issues a single JSON-RPC 1.0 call against one daemon, with the
// NaN-token salvage pass spec §4.1 describes ("`:-nan,` substituted with
// `:0` before re-parse").
func (c *Client) doSingle(ctx context.Context, d DaemonConfig, method string, params []interface{}, timeout time.Duration) (json.RawMessage, error) {
	c.calls.WithLabelValues(d.ID, method).Inc()

	body, err := json.Marshal(jsonRPC1Request{ID: 1, Method: method, Params: params})
	if err != nil {
		c.errors.WithLabelValues(d.ID, method).Inc()
		return nil, fmt.Errorf("%w: marshal request: %v", ErrRequestError, err)
	}

	reqCtx := ctx
	var cancel context.CancelFunc
	if timeout > 0 {
		reqCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, d.url(), bytes.NewReader(body))
	if err != nil {
		c.errors.WithLabelValues(d.ID, method).Inc()
		return nil, fmt.Errorf("%w: build request: %v", ErrRequestError, err)
	}
	req.SetBasicAuth(d.User, d.Password)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		c.errors.WithLabelValues(d.ID, method).Inc()
		if isConnRefused(err) {
			return nil, fmt.Errorf("%w: %s: %v", ErrOffline, d.ID, err)
		}
		return nil, fmt.Errorf("%w: %s: %v", ErrRequestError, d.ID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		c.errors.WithLabelValues(d.ID, method).Inc()
		return nil, fmt.Errorf("%w: %s", ErrUnauthorized, d.ID)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		c.errors.WithLabelValues(d.ID, method).Inc()
		return nil, fmt.Errorf("%w: read body: %v", ErrRequestError, err)
	}

	var parsed jsonRPC1Response
	if err := json.Unmarshal(raw, &parsed); err != nil {
		// Salvage pass: some daemons emit non-standard numeric tokens like
		// `:-nan,` for indeterminate floats. Substitute and retry once.
		salvaged := strings.ReplaceAll(string(raw), ":-nan,", ":0,")
		if uerr := json.Unmarshal([]byte(salvaged), &parsed); uerr != nil {
			c.errors.WithLabelValues(d.ID, method).Inc()
			return nil, fmt.Errorf("%w: %s: %v", ErrParseError, d.ID, err)
		}
	}

	if parsed.Error != nil {
		c.errors.WithLabelValues(d.ID, method).Inc()
		return nil, fmt.Errorf("daemon %s rpc error %d: %s", d.ID, parsed.Error.Code, parsed.Error.Message)
	}

	return parsed.Result, nil
}

func isConnRefused(err error) bool {
	return strings.Contains(err.Error(), "connection refused")
}

// Call issues method(params) against every configured daemon in parallel
// and resolves once all have completed. Spec §4.1 `call`.
func (c *Client) Call(ctx context.Context, method string, params []interface{}) []Result {
	results := make([]Result, len(c.daemons))
	var wg sync.WaitGroup
	for i, d := range c.daemons {
		wg.Add(1)
		go func(i int, d DaemonConfig) {
			defer wg.Done()
			raw, err := c.doSingle(ctx, d, method, params, c.timeout)
			results[i] = Result{DaemonID: d.ID, Result: raw, Err: err}
		}(i, d)
	}
	wg.Wait()
	return results
}

// CallStream is as Call, but invokes onResult per daemon as its response
// lands instead of collecting all of them. Spec §4.1 `call_stream`; the
// streaming dedup itself lives in the consumer (spec §9 design note), not
// here.
func (c *Client) CallStream(ctx context.Context, method string, params []interface{}, onResult func(Result)) {
	var wg sync.WaitGroup
	for _, d := range c.daemons {
		wg.Add(1)
		go func(d DaemonConfig) {
			defer wg.Done()
			raw, err := c.doSingle(ctx, d, method, params, c.timeout)
			onResult(Result{DaemonID: d.ID, Result: raw, Err: err})
		}(d)
	}
	wg.Wait()
}

// BatchCall is one JSON array of calls sent only to the primary daemon
// (daemons[0]). Spec §4.1 `batch`.
type BatchCall struct {
	Method string
	Params []interface{}
}

// Batch sends calls as a single JSON-RPC 1.0 batch request to the primary
// daemon and returns one result per call, in order.
func (c *Client) Batch(ctx context.Context, calls []BatchCall) ([]Result, error) {
	if len(c.daemons) == 0 {
		return nil, fmt.Errorf("%w: no daemons configured", ErrRequestError)
	}
	primary := c.daemons[0]

	reqs := make([]jsonRPC1Request, len(calls))
	for i, call := range calls {
		reqs[i] = jsonRPC1Request{ID: i, Method: call.Method, Params: call.Params}
	}

	body, err := json.Marshal(reqs)
	if err != nil {
		return nil, fmt.Errorf("%w: marshal batch: %v", ErrRequestError, err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, primary.url(), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: build batch request: %v", ErrRequestError, err)
	}
	req.SetBasicAuth(primary.User, primary.Password)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		if isConnRefused(err) {
			return nil, fmt.Errorf("%w: %v", ErrOffline, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrRequestError, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return nil, ErrUnauthorized
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read batch body: %v", ErrRequestError, err)
	}

	var parsed []jsonRPC1Response
	if err := json.Unmarshal(raw, &parsed); err != nil {
		salvaged := strings.ReplaceAll(string(raw), ":-nan,", ":0,")
		if uerr := json.Unmarshal([]byte(salvaged), &parsed); uerr != nil {
			return nil, fmt.Errorf("%w: %v", ErrParseError, err)
		}
	}

	results := make([]Result, len(parsed))
	for i, p := range parsed {
		r := Result{DaemonID: primary.ID}
		if p.Error != nil {
			r.Err = fmt.Errorf("daemon %s rpc error %d: %s", primary.ID, p.Error.Code, p.Error.Message)
		} else {
			r.Result = p.Result
		}
		results[i] = r
	}
	return results, nil
}

// OnlineEvent is fired once by CheckOnline.
type OnlineEvent int

const (
	EventOnline OnlineEvent = iota
	EventConnectionFailed
)

// CheckOnline issues getinfo on all daemons and reports whether every one
// responded without error, per spec §4.1.
func (c *Client) CheckOnline(ctx context.Context) OnlineEvent {
	results := c.Call(ctx, "getinfo", nil)
	for _, r := range results {
		if r.Err != nil {
			c.logger.Warn("daemon failed online check", "daemon", r.DaemonID, "error", r.Err)
			return EventConnectionFailed
		}
	}
	return EventOnline
}
