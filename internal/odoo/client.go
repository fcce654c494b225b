package odoo

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"discussync/pkg/metrics"
)

// ErrInvalidCredentials is returned when the backend rejects the configured
// username/password. Distinct from transient transport errors so startup can
// fail hard on it.
var ErrInvalidCredentials = errors.New("odoo: invalid credentials")

const (
	channelModel = "discuss.channel"
	messageModel = "mail.message"
)

type Config struct {
	URL      string `yaml:"url"`
	Database string `yaml:"database"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// Client talks to the Odoo JSON-RPC endpoint. Authentication yields a user
// id that every execute_kw call must carry.
type Client struct {
	cfg        Config
	httpClient *http.Client

	mu  sync.Mutex
	uid int64

	nextID atomic.Int64
}

func NewClient(cfg Config, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &Client{
		cfg:        cfg,
		httpClient: httpClient,
	}
}

type rpcRequest struct {
	JSONRPC string    `json:"jsonrpc"`
	Method  string    `json:"method"`
	Params  rpcParams `json:"params"`
	ID      int64     `json:"id"`
}

type rpcParams struct {
	Service string `json:"service"`
	Method  string `json:"method"`
	Args    []any  `json:"args"`
}

type rpcError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("odoo rpc fault %d: %s", e.Code, e.Message)
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

func (c *Client) call(ctx context.Context, service, method string, args []any, out any) error {
	reqBody, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		Method:  "call",
		Params:  rpcParams{Service: service, Method: method, Args: args},
		ID:      c.nextID.Add(1),
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.URL+"/jsonrpc", bytes.NewReader(reqBody))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("odoo http status %d", resp.StatusCode)
	}

	var rpcResp rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return fmt.Errorf("failed to decode rpc response: %w", err)
	}
	if rpcResp.Error != nil {
		return rpcResp.Error
	}
	if out != nil {
		if err := json.Unmarshal(rpcResp.Result, out); err != nil {
			return fmt.Errorf("failed to decode rpc result: %w", err)
		}
	}
	return nil
}

// Authenticate logs in and caches the user id for subsequent calls.
func (c *Client) Authenticate(ctx context.Context) error {
	start := time.Now()
	var result json.RawMessage
	err := c.call(ctx, "common", "authenticate",
		[]any{c.cfg.Database, c.cfg.Username, c.cfg.Password, map[string]any{}},
		&result,
	)
	if err != nil {
		metrics.RecordBackendCall("common", "authenticate", "error", time.Since(start))
		return err
	}

	// Odoo answers false, not an error, for bad credentials.
	var uid int64
	if jsonErr := json.Unmarshal(result, &uid); jsonErr != nil || uid == 0 {
		metrics.RecordBackendCall("common", "authenticate", "denied", time.Since(start))
		return ErrInvalidCredentials
	}

	metrics.RecordBackendCall("common", "authenticate", "success", time.Since(start))
	c.mu.Lock()
	c.uid = uid
	c.mu.Unlock()
	return nil
}

func (c *Client) ensureUID(ctx context.Context) (int64, error) {
	c.mu.Lock()
	uid := c.uid
	c.mu.Unlock()
	if uid != 0 {
		return uid, nil
	}
	if err := c.Authenticate(ctx); err != nil {
		return 0, err
	}
	c.mu.Lock()
	uid = c.uid
	c.mu.Unlock()
	return uid, nil
}

// ExecuteKw is the generic invoke primitive: model, operation, positional
// args and keyword args. The decoded rows land in out.
func (c *Client) ExecuteKw(ctx context.Context, model, method string, args []any, kwargs map[string]any, out any) error {
	uid, err := c.ensureUID(ctx)
	if err != nil {
		return err
	}
	if kwargs == nil {
		kwargs = map[string]any{}
	}

	start := time.Now()
	err = c.call(ctx, "object", "execute_kw",
		[]any{c.cfg.Database, uid, c.cfg.Password, model, method, args, kwargs},
		out,
	)
	status := "success"
	if err != nil {
		status = "error"
	}
	metrics.RecordBackendCall(model, method, status, time.Since(start))
	return err
}

var messageFields = []string{"id", "body", "date", "author_id", "email_from", "res_id", "attachment_ids"}

func messageDomain(extra ...[]any) []any {
	domain := []any{
		[]any{"model", "=", channelModel},
		[]any{"message_type", "=", "comment"},
	}
	for _, clause := range extra {
		domain = append(domain, clause)
	}
	return domain
}

func (c *Client) searchMessages(ctx context.Context, domain []any, order string, limit int) ([]MessageRecord, error) {
	var rows []MessageRecord
	err := c.ExecuteKw(ctx, messageModel, "search_read",
		[]any{domain},
		map[string]any{"fields": messageFields, "order": order, "limit": limit},
		&rows,
	)
	if err != nil {
		return nil, fmt.Errorf("message search failed: %w", err)
	}
	return rows, nil
}

// FetchMessagesAfter returns messages with id strictly greater than afterID
// across all channels, oldest first.
func (c *Client) FetchMessagesAfter(ctx context.Context, afterID int64, limit int) ([]MessageRecord, error) {
	return c.searchMessages(ctx, messageDomain([]any{"id", ">", afterID}), "id asc", limit)
}

// FetchChannelMessagesAfter is the per-channel variant of FetchMessagesAfter.
func (c *Client) FetchChannelMessagesAfter(ctx context.Context, channelID, afterID int64, limit int) ([]MessageRecord, error) {
	return c.searchMessages(ctx,
		messageDomain([]any{"res_id", "=", channelID}, []any{"id", ">", afterID}),
		"id asc", limit)
}

// FetchMessagesSince returns messages originated at or after since.
func (c *Client) FetchMessagesSince(ctx context.Context, since time.Time, limit int) ([]MessageRecord, error) {
	return c.searchMessages(ctx,
		messageDomain([]any{"date", ">=", FormatTime(since)}),
		"id asc", limit)
}

// FetchMessagesBetween returns messages originated within [from, to].
func (c *Client) FetchMessagesBetween(ctx context.Context, from, to time.Time, limit int) ([]MessageRecord, error) {
	return c.searchMessages(ctx,
		messageDomain([]any{"date", ">=", FormatTime(from)}, []any{"date", "<=", FormatTime(to)}),
		"id asc", limit)
}

// FetchLatestMessages returns the most recent limit messages by id,
// newest first.
func (c *Client) FetchLatestMessages(ctx context.Context, limit int) ([]MessageRecord, error) {
	return c.searchMessages(ctx, messageDomain(), "id desc", limit)
}

// LatestMessageID returns the highest message id the backend currently
// holds, or 0 when there are no messages.
func (c *Client) LatestMessageID(ctx context.Context) (int64, error) {
	rows, err := c.FetchLatestMessages(ctx, 1)
	if err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		return 0, nil
	}
	return rows[0].ID, nil
}

// FetchChannels returns all discuss channels.
func (c *Client) FetchChannels(ctx context.Context) ([]ChannelRecord, error) {
	var rows []ChannelRecord
	err := c.ExecuteKw(ctx, channelModel, "search_read",
		[]any{[]any{}},
		map[string]any{"fields": []string{"id", "name", "channel_type"}, "order": "id desc"},
		&rows,
	)
	if err != nil {
		return nil, fmt.Errorf("channel search failed: %w", err)
	}
	return rows, nil
}

// FetchChannelsByIDs resolves a batch of channels in one call.
func (c *Client) FetchChannelsByIDs(ctx context.Context, ids []int64) ([]ChannelRecord, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var rows []ChannelRecord
	err := c.ExecuteKw(ctx, channelModel, "search_read",
		[]any{[]any{[]any{"id", "in", ids}}},
		map[string]any{"fields": []string{"id", "name", "channel_type"}},
		&rows,
	)
	if err != nil {
		return nil, fmt.Errorf("channel lookup failed: %w", err)
	}
	return rows, nil
}

// PostMessage creates a new comment in a channel.
func (c *Client) PostMessage(ctx context.Context, channelID int64, body string) error {
	err := c.ExecuteKw(ctx, channelModel, "message_post",
		[]any{[]any{channelID}},
		map[string]any{
			"body":          body,
			"message_type":  "comment",
			"subtype_xmlid": "mail.mt_comment",
		},
		nil,
	)
	if err != nil {
		return fmt.Errorf("message_post to channel %d failed: %w", channelID, err)
	}
	return nil
}
