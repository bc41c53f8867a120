package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/roach88/fieldsync/internal/fault"
	"github.com/roach88/fieldsync/internal/model"
)

// maxErrorBody bounds how much of a failed response body is kept in errors.
const maxErrorBody = 512

// Config configures an HTTPGateway.
type Config struct {
	BaseURL    string
	FeedURL    string
	OperatorID string
	Token      TokenSource
	Timeout    time.Duration

	// Optional.
	Client *http.Client
	Dialer *websocket.Dialer
	Clock  func() time.Time
	Logger *slog.Logger
}

// HTTPGateway talks JSON over HTTP to the remote system and receives push
// events over a websocket.
type HTTPGateway struct {
	base     *url.URL
	feed     string
	operator string
	token    TokenSource
	client   *http.Client
	dialer   *websocket.Dialer
	now      func() time.Time
	logger   *slog.Logger
	decode   decoder
}

var _ Gateway = (*HTTPGateway)(nil)

// NewHTTP creates a gateway from cfg.
func NewHTTP(cfg Config) (*HTTPGateway, error) {
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("base url %q: scheme must be http or https", cfg.BaseURL)
	}
	if cfg.OperatorID == "" {
		return nil, fmt.Errorf("operator id is required")
	}

	schema, err := NewValidator()
	if err != nil {
		return nil, err
	}

	g := &HTTPGateway{
		base:     base,
		feed:     cfg.FeedURL,
		operator: cfg.OperatorID,
		token:    cfg.Token,
		client:   cfg.Client,
		dialer:   cfg.Dialer,
		now:      cfg.Clock,
		logger:   cfg.Logger,
		decode:   decoder{schema: schema},
	}
	if g.feed == "" {
		g.feed = DefaultFeedURL(base)
	}
	if g.client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		g.client = &http.Client{Timeout: timeout}
	}
	if g.dialer == nil {
		g.dialer = &websocket.Dialer{HandshakeTimeout: g.client.Timeout}
	}
	if g.now == nil {
		g.now = time.Now
	}
	if g.logger == nil {
		g.logger = slog.Default()
	}
	return g, nil
}

// DefaultFeedURL derives the push endpoint from the base URL.
func DefaultFeedURL(base *url.URL) string {
	u := *base
	if u.Scheme == "https" {
		u.Scheme = "wss"
	} else {
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/v1/feed"
	return u.String()
}

func (g *HTTPGateway) operatorPath(suffix string) string {
	return "/v1/operators/" + url.PathEscape(g.operator) + suffix
}

// FetchOffers implements Querier.
func (g *HTTPGateway) FetchOffers(ctx context.Context) ([]model.Task, time.Time, error) {
	const op = "fetch_offers"
	raw, err := g.do(ctx, op, http.MethodGet, "/v1/offers", "", nil)
	if err != nil {
		return nil, time.Time{}, err
	}
	tasks, takenAt, err := g.decode.offerPage(raw)
	if err != nil {
		return nil, time.Time{}, g.rejectPayload(op, err)
	}
	return tasks, takenAt, nil
}

// FetchAssignments implements Querier.
func (g *HTTPGateway) FetchAssignments(ctx context.Context) ([]model.Task, error) {
	const op = "fetch_assignments"
	raw, err := g.do(ctx, op, http.MethodGet, g.operatorPath("/assignments"), "", nil)
	if err != nil {
		return nil, err
	}
	var page []json.RawMessage
	if err := json.Unmarshal(raw, &page); err != nil {
		return nil, g.rejectPayload(op, err)
	}
	tasks, err := g.decode.tasks(page)
	if err != nil {
		return nil, g.rejectPayload(op, err)
	}
	return tasks, nil
}

// FetchStats implements Querier.
func (g *HTTPGateway) FetchStats(ctx context.Context) (model.OperatorStats, error) {
	const op = "fetch_stats"
	raw, err := g.do(ctx, op, http.MethodGet, g.operatorPath("/stats"), "", nil)
	if err != nil {
		return model.OperatorStats{}, err
	}
	stats, err := g.decode.stats(raw)
	if err != nil {
		return model.OperatorStats{}, g.rejectPayload(op, err)
	}
	return stats, nil
}

// FetchWallet implements Querier.
func (g *HTTPGateway) FetchWallet(ctx context.Context) (model.Wallet, error) {
	const op = "fetch_wallet"
	raw, err := g.do(ctx, op, http.MethodGet, g.operatorPath("/wallet"), "", nil)
	if err != nil {
		return model.Wallet{}, err
	}
	wallet, err := g.decode.wallet(raw)
	if err != nil {
		return model.Wallet{}, g.rejectPayload(op, err)
	}
	return wallet, nil
}

// AcceptTask implements Mutator.
func (g *HTTPGateway) AcceptTask(ctx context.Context, key, taskID string) (model.Task, error) {
	const op = "accept_task"
	raw, err := g.do(ctx, op, http.MethodPost, "/v1/tasks/"+url.PathEscape(taskID)+"/accept", key, struct{}{})
	if err != nil {
		return model.Task{}, err
	}
	t, err := g.decode.task(raw)
	if err != nil {
		return model.Task{}, g.rejectPayload(op, err)
	}
	return t, nil
}

// AdvancePhase implements Mutator.
func (g *HTTPGateway) AdvancePhase(ctx context.Context, key, taskID string, from, to model.Phase) (model.Task, error) {
	const op = "advance_phase"
	body := wirePhaseRequest{From: string(from), To: string(to)}
	raw, err := g.do(ctx, op, http.MethodPost, "/v1/tasks/"+url.PathEscape(taskID)+"/phase", key, body)
	if err != nil {
		return model.Task{}, err
	}
	t, err := g.decode.task(raw)
	if err != nil {
		return model.Task{}, g.rejectPayload(op, err)
	}
	return t, nil
}

// RequestWithdrawal implements Mutator.
func (g *HTTPGateway) RequestWithdrawal(ctx context.Context, key, requestID string, amount model.Money) error {
	body := wireWithdrawalRequest{RequestID: requestID, Amount: amount.Float()}
	_, err := g.do(ctx, "request_withdrawal", http.MethodPost, g.operatorPath("/withdrawals"), key, body)
	return err
}

// UpdatePresence implements Mutator.
func (g *HTTPGateway) UpdatePresence(ctx context.Context, pulse model.PresencePulse) error {
	_, err := g.do(ctx, "update_presence", http.MethodPut, g.operatorPath("/presence"), "", presenceBody(pulse))
	return err
}

// rejectPayload classifies a malformed server payload. It must not enter the
// store, and a retry may see a corrected payload, so it is transient.
func (g *HTTPGateway) rejectPayload(op string, err error) error {
	g.logger.Error("server payload rejected",
		"event", "payload_rejected",
		"op", op,
		"error", err,
	)
	return fault.Wrap(fault.Transient, op, err)
}

// do performs one request and returns the response body of a 2xx reply.
func (g *HTTPGateway) do(ctx context.Context, op, method, path, key string, body any) ([]byte, error) {
	tok, err := bearer(g.token, op, g.now())
	if err != nil {
		return nil, err
	}

	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return nil, fault.Wrap(fault.Validation, op, fmt.Errorf("encode request: %w", err))
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, g.base.String()+path, reader)
	if err != nil {
		return nil, fault.Wrap(fault.Validation, op, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if key != "" {
		req.Header.Set("Idempotency-Key", key)
	}
	if tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		if fault.IsCancelled(err) && ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, transportError(op, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, transportError(op, fmt.Errorf("read response: %w", err))
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := strings.TrimSpace(string(raw))
		if len(msg) > maxErrorBody {
			msg = msg[:maxErrorBody]
		}
		return nil, statusError(op, resp.StatusCode, msg)
	}
	return raw, nil
}
