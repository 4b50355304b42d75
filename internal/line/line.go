// Package line wraps the LINE Messaging API for outbound replies.
package line

import (
	"fmt"
	"log/slog"

	"github.com/line/line-bot-sdk-go/v8/linebot/messaging_api"
)

// Client sends replies through the LINE Messaging API.
type Client struct {
	api    *messaging_api.MessagingApiAPI
	logger *slog.Logger
}

// NewClient creates a messaging client for the channel.
func NewClient(channelToken string, logger *slog.Logger) (*Client, error) {
	api, err := messaging_api.NewMessagingApiAPI(channelToken)
	if err != nil {
		return nil, fmt.Errorf("line: create messaging client: %w", err)
	}
	return &Client{
		api:    api,
		logger: logger.With("component", "line"),
	}, nil
}

// ReplyText sends a plain text reply to the reply token.
func (c *Client) ReplyText(replyToken, text string) error {
	_, err := c.api.ReplyMessage(&messaging_api.ReplyMessageRequest{
		ReplyToken: replyToken,
		Messages: []messaging_api.MessageInterface{
			messaging_api.TextMessage{Text: text},
		},
	})
	if err != nil {
		return fmt.Errorf("line: reply text: %w", err)
	}
	return nil
}

// ReplyImage sends an image reply carrying the asset URL as both the
// full content and the preview.
func (c *Client) ReplyImage(replyToken, url, previewURL string) error {
	_, err := c.api.ReplyMessage(&messaging_api.ReplyMessageRequest{
		ReplyToken: replyToken,
		Messages: []messaging_api.MessageInterface{
			messaging_api.ImageMessage{
				OriginalContentUrl: url,
				PreviewImageUrl:    previewURL,
			},
		},
	})
	if err != nil {
		return fmt.Errorf("line: reply image: %w", err)
	}
	return nil
}
