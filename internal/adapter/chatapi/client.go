package chatapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"
)

// pageSize caps a single conversations.replies fetch; longer threads are
// followed via cursor pagination.
const pageSize = 100

var mentionPattern = regexp.MustCompile(`<@[A-Z0-9]+>`)

// StripMentions removes user mention tags from message text.
func StripMentions(text string) string {
	return strings.TrimSpace(mentionPattern.ReplaceAllString(text, ""))
}

// Message is a single chat message inside a channel or thread.
type Message struct {
	User  string `json:"user"`
	BotID string `json:"bot_id,omitempty"`
	Text  string `json:"text"`
	Ts    string `json:"ts"`
}

type Client struct {
	baseURL string
	token   string
	client  *http.Client
}

func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

// AuthTest resolves the bot's own user ID. Used at startup so inbound events
// authored by the bot can be dropped before they are enqueued.
func (c *Client) AuthTest(ctx context.Context) (string, error) {
	var result struct {
		OK     bool   `json:"ok"`
		Error  string `json:"error"`
		UserID string `json:"user_id"`
	}
	if err := c.post(ctx, "auth.test", nil, &result); err != nil {
		return "", err
	}
	if !result.OK {
		return "", fmt.Errorf("chat api error: %s", result.Error)
	}
	return result.UserID, nil
}

// ThreadReplies fetches every message of a thread in order, following cursor
// pagination until the API reports no more pages.
func (c *Client) ThreadReplies(ctx context.Context, channel, threadTS string) ([]Message, error) {
	var all []Message
	cursor := ""

	for {
		page, next, err := c.repliesPage(ctx, channel, threadTS, pageSize, cursor)
		if err != nil {
			return nil, err
		}
		all = append(all, page...)
		if next == "" {
			return all, nil
		}
		cursor = next
	}
}

// ParentMessage returns the first message of a thread, or nil when the thread
// has no messages.
func (c *Client) ParentMessage(ctx context.Context, channel, threadTS string) (*Message, error) {
	page, _, err := c.repliesPage(ctx, channel, threadTS, 1, "")
	if err != nil {
		return nil, err
	}
	if len(page) == 0 {
		return nil, nil
	}
	return &page[0], nil
}

func (c *Client) repliesPage(ctx context.Context, channel, threadTS string, limit int, cursor string) ([]Message, string, error) {
	params := url.Values{}
	params.Set("channel", channel)
	params.Set("ts", threadTS)
	params.Set("limit", fmt.Sprintf("%d", limit))
	if cursor != "" {
		params.Set("cursor", cursor)
	}

	req, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+"/conversations.replies?"+params.Encode(), nil)
	if err != nil {
		return nil, "", err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		return nil, "", fmt.Errorf("chat api error: %d", resp.StatusCode)
	}

	var result struct {
		OK       bool      `json:"ok"`
		Error    string    `json:"error"`
		Messages []Message `json:"messages"`
		HasMore  bool      `json:"has_more"`
		Metadata struct {
			NextCursor string `json:"next_cursor"`
		} `json:"response_metadata"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, "", err
	}
	if !result.OK {
		return nil, "", fmt.Errorf("chat api error: %s", result.Error)
	}

	if !result.HasMore {
		return result.Messages, "", nil
	}
	return result.Messages, result.Metadata.NextCursor, nil
}

// PostMessageRequest carries an outgoing message. Blocks, when present, ride
// alongside the text; the text doubles as the notification fallback.
type PostMessageRequest struct {
	Channel  string          `json:"channel"`
	ThreadTS string          `json:"thread_ts,omitempty"`
	Text     string          `json:"text,omitempty"`
	Blocks   json.RawMessage `json:"blocks,omitempty"`
}

// PostMessage sends a message and returns the timestamp the API assigned it.
func (c *Client) PostMessage(ctx context.Context, msg PostMessageRequest) (string, error) {
	var result struct {
		OK    bool   `json:"ok"`
		Error string `json:"error"`
		Ts    string `json:"ts"`
	}
	if err := c.post(ctx, "chat.postMessage", msg, &result); err != nil {
		return "", err
	}
	if !result.OK {
		return "", fmt.Errorf("chat api error: %s", result.Error)
	}
	return result.Ts, nil
}

func (c *Client) post(ctx context.Context, method string, body interface{}, out interface{}) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/"+method, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		return fmt.Errorf("chat api error: %d", resp.StatusCode)
	}

	return json.NewDecoder(resp.Body).Decode(out)
}
