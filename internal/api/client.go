package api

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

	"github.com/chatclient/internal/logger"
	"github.com/chatclient/internal/model"
)

const maxErrorBody = 512

// Client вызывает REST API чат-сервера для начальной загрузки чатов и истории.
// Если URL пустой, методы возвращают пустые результаты.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient создаёт клиент. Пустой baseURL отключает загрузку.
func NewClient(baseURL string) *Client {
	if baseURL == "" {
		return &Client{}
	}
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// Enabled reports whether a base URL is configured.
func (c *Client) Enabled() bool { return c.baseURL != "" }

// StatusError is a non-2xx response.
type StatusError struct {
	Path   string
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("api %s: %d %s", e.Path, e.Status, e.Body)
}

type messagesResponse struct {
	Messages []model.WireMessage `json:"messages"`
}

type chatsResponse struct {
	Chats []model.Chat `json:"chats"`
}

// ChatMessages загружает историю чата: GET /chats/{id}/messages?limit=&offset=.
// Direction is set from identity: messages sent by identity are outgoing.
func (c *Client) ChatMessages(ctx context.Context, chatID, identity string, limit, offset int) ([]model.Message, error) {
	if c.baseURL == "" {
		return nil, nil
	}
	q := url.Values{}
	q.Set("limit", strconv.Itoa(limit))
	q.Set("offset", strconv.Itoa(offset))
	var resp messagesResponse
	if err := c.get(ctx, "/chats/"+url.PathEscape(chatID)+"/messages", q, &resp); err != nil {
		return nil, fmt.Errorf("api.ChatMessages: %w", err)
	}
	out := make([]model.Message, 0, len(resp.Messages))
	for i := range resp.Messages {
		m := resp.Messages[i].ToMessage()
		if model.IsTempID(m.ID) {
			logger.Errorf("api.ChatMessages: message %s in chat %s uses the local id prefix, skipped", m.ID, chatID)
			continue
		}
		if m.ConversationID == "" {
			m.ConversationID = chatID
		}
		m.Status = m.Status.AtLeastSent()
		m.Direction = model.DirectionIncoming
		if identity != "" && m.SenderID == identity {
			m.Direction = model.DirectionOutgoing
		}
		out = append(out, m)
	}
	return out, nil
}

// UserChats загружает чаты пользователя: GET /chats?user_id={id}.
func (c *Client) UserChats(ctx context.Context, userID string) ([]model.Chat, error) {
	if c.baseURL == "" {
		return nil, nil
	}
	q := url.Values{}
	q.Set("user_id", userID)
	var resp chatsResponse
	if err := c.get(ctx, "/chats", q, &resp); err != nil {
		return nil, fmt.Errorf("api.UserChats: %w", err)
	}
	return resp.Chats, nil
}

func (c *Client) get(ctx context.Context, path string, q url.Values, out any) error {
	defer logger.DeferLogDuration("api GET "+path, time.Now())()
	u := c.baseURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &StatusError{Path: path, Status: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}
