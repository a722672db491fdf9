// Package graph is the client for the paged historical message source. It
// follows continuation links to completion and leaves transient-failure retry
// to the shared httpx client.
package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/mikey/misdelivery-guard/internal/core"
	"github.com/mikey/misdelivery-guard/internal/httpx"
)

// page is the wire shape of every list endpoint.
type page struct {
	Value    []json.RawMessage `json:"value"`
	NextLink string            `json:"@odata.nextLink"`
}

// Client fetches users, chats and messages from the message source.
type Client struct {
	baseURL string
	http    *httpx.Client
	logger  *zap.Logger
}

// NewClient creates a graph client rooted at baseURL.
func NewClient(baseURL string, http *httpx.Client, logger *zap.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    http,
		logger:  logger,
	}
}

// BaseURL reports the configured source root, recorded in baseline metadata.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// ListUsers returns every user of the tenant.
func (c *Client) ListUsers(ctx context.Context) ([]core.GraphUser, error) {
	items, err := c.fetchAll(ctx, "/v1.0/users")
	if err != nil {
		return nil, err
	}
	return decodeItems[core.GraphUser](items, c.logger, "user")
}

// ListUserChats returns every chat the user belongs to.
func (c *Client) ListUserChats(ctx context.Context, userID string) ([]core.Chat, error) {
	items, err := c.fetchAll(ctx, fmt.Sprintf("/v1.0/users/%s/chats", url.PathEscape(userID)))
	if err != nil {
		return nil, err
	}
	return decodeItems[core.Chat](items, c.logger, "chat")
}

// ListChatMessagesSince returns the chat's messages with a last-modified
// timestamp at or after the cutoff.
func (c *Client) ListChatMessagesSince(ctx context.Context, chatID, cutoffISO string) ([]core.Message, error) {
	endpoint := fmt.Sprintf("/v1.0/chats/%s/messages?$filter=lastModifiedDateTime%%20ge%%20%s",
		url.PathEscape(chatID), url.QueryEscape(cutoffISO))
	items, err := c.fetchAll(ctx, endpoint)
	if err != nil {
		return nil, err
	}
	return decodeItems[core.Message](items, c.logger, "message")
}

// fetchAll follows continuation links until none remains, aggregating all
// pages' items in order.
func (c *Client) fetchAll(ctx context.Context, endpoint string) ([]json.RawMessage, error) {
	var collected []json.RawMessage
	next := endpoint

	for next != "" {
		target := next
		if !strings.HasPrefix(target, "http") {
			target = c.baseURL + target
		}

		var p page
		if err := c.http.GetJSON(ctx, target, &p); err != nil {
			return nil, err
		}
		collected = append(collected, p.Value...)
		next = strings.TrimSpace(p.NextLink)
	}

	return collected, nil
}

// decodeItems parses each raw item, skipping malformed entries instead of
// failing the page.
func decodeItems[T any](items []json.RawMessage, logger *zap.Logger, kind string) ([]T, error) {
	out := make([]T, 0, len(items))
	for _, raw := range items {
		var item T
		if err := json.Unmarshal(raw, &item); err != nil {
			logger.Debug("Skipping malformed item",
				zap.String("kind", kind),
				zap.Error(err))
			continue
		}
		out = append(out, item)
	}
	return out, nil
}
