package chat

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
	"sync/atomic"
	"time"

	"github.com/frahmantamala/invoice-approval/internal"
)

const DefaultAPIBaseURL = "https://discord.com/api/v10"

// Client is the Discord REST gateway used for approval threads. All outbound
// calls are suppressed once Shutdown is called so a draining agent never
// posts half-finished notices.
type Client struct {
	baseURL             string
	botToken            string
	guildID             string
	channelID           string
	fallbackChannelName string
	approverRoleID      string
	httpClient          *http.Client
	logger              *slog.Logger

	shuttingDown atomic.Bool

	mu              sync.Mutex
	resolvedChannel string
}

func NewClient(cfg internal.ChatConfig, logger *slog.Logger) *Client {
	baseURL := cfg.APIBaseURL
	if baseURL == "" {
		baseURL = DefaultAPIBaseURL
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		baseURL:             strings.TrimRight(baseURL, "/"),
		botToken:            cfg.BotToken,
		guildID:             cfg.GuildID,
		channelID:           cfg.ChannelID,
		fallbackChannelName: cfg.FallbackChannelName,
		approverRoleID:      cfg.ApproverRoleID,
		httpClient:          &http.Client{Timeout: timeout},
		logger:              logger,
	}
}

// Shutdown flips the drain flag. Subsequent sends return without calling out.
func (c *Client) Shutdown() {
	c.shuttingDown.Store(true)
	c.logger.Info("chat client draining, outbound sends suppressed")
}

type message struct {
	ID        string `json:"id"`
	ChannelID string `json:"channel_id"`
	Content   string `json:"content"`
}

type channel struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Type int    `json:"type"`
}

type guildMember struct {
	Roles []string `json:"roles"`
}

// PostNotice posts the approval request to the configured channel and opens a
// thread on it. Returns the thread ref and the starter message ref.
func (c *Client) PostNotice(ctx context.Context, threadName, content string) (string, string, error) {
	if c.shuttingDown.Load() {
		return "", "", fmt.Errorf("chat client is shutting down")
	}

	channelID, err := c.resolveChannel(ctx)
	if err != nil {
		return "", "", err
	}

	var starter message
	err = c.do(ctx, http.MethodPost,
		fmt.Sprintf("/channels/%s/messages", channelID),
		map[string]string{"content": content},
		&starter)
	if err != nil {
		return "", "", fmt.Errorf("post approval notice: %w", err)
	}

	var thread channel
	err = c.do(ctx, http.MethodPost,
		fmt.Sprintf("/channels/%s/messages/%s/threads", channelID, starter.ID),
		map[string]interface{}{"name": threadName},
		&thread)
	if err != nil {
		return "", "", fmt.Errorf("create approval thread: %w", err)
	}

	c.logger.Info("approval thread created", "thread_ref", thread.ID, "channel_id", channelID)
	return thread.ID, starter.ID, nil
}

func (c *Client) Send(ctx context.Context, threadRef, content string) (string, error) {
	if c.shuttingDown.Load() {
		c.logger.Debug("suppressed send during shutdown", "thread_ref", threadRef)
		return "", nil
	}

	var msg message
	err := c.do(ctx, http.MethodPost,
		fmt.Sprintf("/channels/%s/messages", threadRef),
		map[string]string{"content": content},
		&msg)
	if err != nil {
		return "", fmt.Errorf("send message: %w", err)
	}
	return msg.ID, nil
}

func (c *Client) Edit(ctx context.Context, threadRef, messageRef, content string) error {
	if c.shuttingDown.Load() {
		c.logger.Debug("suppressed edit during shutdown", "thread_ref", threadRef)
		return nil
	}

	err := c.do(ctx, http.MethodPatch,
		fmt.Sprintf("/channels/%s/messages/%s", threadRef, messageRef),
		map[string]string{"content": content},
		nil)
	if err != nil {
		return fmt.Errorf("edit message: %w", err)
	}
	return nil
}

// IsApprover checks guild membership for the approver role. With no role
// configured every author is allowed, which suits single-team servers.
func (c *Client) IsApprover(ctx context.Context, authorID string) (bool, error) {
	if c.approverRoleID == "" {
		return true, nil
	}

	var member guildMember
	err := c.do(ctx, http.MethodGet,
		fmt.Sprintf("/guilds/%s/members/%s", c.guildID, authorID),
		nil, &member)
	if err != nil {
		return false, fmt.Errorf("fetch member: %w", err)
	}

	for _, role := range member.Roles {
		if role == c.approverRoleID {
			return true, nil
		}
	}
	return false, nil
}

// resolveChannel prefers the configured channel id and falls back to a
// case-insensitive name search over the guild's channels.
func (c *Client) resolveChannel(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.resolvedChannel != "" {
		return c.resolvedChannel, nil
	}
	if c.channelID != "" {
		c.resolvedChannel = c.channelID
		return c.resolvedChannel, nil
	}
	if c.guildID == "" || c.fallbackChannelName == "" {
		return "", fmt.Errorf("no chat channel configured")
	}

	var channels []channel
	err := c.do(ctx, http.MethodGet,
		fmt.Sprintf("/guilds/%s/channels", c.guildID),
		nil, &channels)
	if err != nil {
		return "", fmt.Errorf("list channels: %w", err)
	}

	for _, ch := range channels {
		if strings.EqualFold(ch.Name, c.fallbackChannelName) {
			c.resolvedChannel = ch.ID
			c.logger.Info("resolved channel by name", "channel", ch.Name, "channel_id", ch.ID)
			return c.resolvedChannel, nil
		}
	}
	return "", fmt.Errorf("channel %q not found in guild", c.fallbackChannelName)
}

func (c *Client) do(ctx context.Context, method, path string, payload, out interface{}) error {
	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal payload: %w", err)
		}
		body = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bot "+c.botToken)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("call chat api: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("chat api returned status %d: %s", resp.StatusCode, string(respBody))
	}
	if out != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}
