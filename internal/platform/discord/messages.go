package discord

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/modmail/internal/modmail"
)

// Discord rejects embeds past these sizes.
const (
	maxDescription = 4096
	maxFieldValue  = 1024
	maxFields      = 25
)

type embedAuthor struct {
	Name    string `json:"name"`
	IconURL string `json:"icon_url,omitempty"`
}

type embedField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline"`
}

type embedFooter struct {
	Text string `json:"text"`
}

type embed struct {
	Title       string       `json:"title,omitempty"`
	Description string       `json:"description,omitempty"`
	Color       int          `json:"color"`
	Author      *embedAuthor `json:"author,omitempty"`
	Fields      []embedField `json:"fields,omitempty"`
	Footer      *embedFooter `json:"footer,omitempty"`
}

type allowedMentions struct {
	Parse []string `json:"parse"`
	Users []string `json:"users,omitempty"`
}

type messagePayload struct {
	Content         string          `json:"content,omitempty"`
	Embeds          []embed         `json:"embeds"`
	AllowedMentions allowedMentions `json:"allowed_mentions"`
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

// splitRunes cuts s into pieces of at most n runes. An empty s yields one
// empty piece.
func splitRunes(s string, n int) []string {
	r := []rune(s)
	if len(r) <= n {
		return []string{s}
	}
	var parts []string
	for len(r) > n {
		parts = append(parts, string(r[:n]))
		r = r[n:]
	}
	if len(r) > 0 {
		parts = append(parts, string(r))
	}
	return parts
}

// renderMessages lays a relay message out as one embed per message. A
// description longer than one embed allows continues in follow-up messages:
// the title, author and mentions lead the first, the fields and footer close
// the last. Mentions go in the plain content so they notify.
func renderMessages(msg modmail.RelayMessage) []messagePayload {
	chunks := splitRunes(msg.Description, maxDescription)
	payloads := make([]messagePayload, len(chunks))
	for i, chunk := range chunks {
		payloads[i] = messagePayload{
			Embeds:          []embed{{Description: chunk, Color: int(msg.Color)}},
			AllowedMentions: allowedMentions{Parse: []string{}},
		}
	}

	first := &payloads[0]
	first.Embeds[0].Title = msg.Title
	if msg.Author != "" {
		first.Embeds[0].Author = &embedAuthor{Name: msg.Author, IconURL: msg.AuthorIcon}
	}
	if len(msg.Mentions) > 0 {
		tags := make([]string, 0, len(msg.Mentions))
		for _, id := range msg.Mentions {
			tags = append(tags, "<@"+id+">")
		}
		first.Content = strings.Join(tags, " ")
		first.AllowedMentions.Users = append([]string(nil), msg.Mentions...)
	}

	last := &payloads[len(payloads)-1].Embeds[0]
	for i, f := range msg.Fields {
		if i == maxFields {
			break
		}
		last.Fields = append(last.Fields, embedField{Name: f.Name, Value: truncate(f.Value, maxFieldValue)})
	}
	if msg.Footer != "" {
		last.Footer = &embedFooter{Text: msg.Footer}
	}
	return payloads
}

// postMessage sends every part of msg to channelID in order and stops at the
// first failure.
func (c *Client) postMessage(ctx context.Context, channelID string, msg modmail.RelayMessage) error {
	payloads := renderMessages(msg)
	if len(payloads) > 1 {
		log.Debug().
			Str("channel_id", channelID).
			Int("parts", len(payloads)).
			Msg("Splitting long message")
	}
	for i, payload := range payloads {
		if err := c.do(ctx, http.MethodPost, "/channels/"+channelID+"/messages", payload, nil); err != nil {
			if len(payloads) > 1 {
				return fmt.Errorf("part %d of %d: %w", i+1, len(payloads), err)
			}
			return err
		}
	}
	return nil
}

// undeliverable reports responses meaning the platform refused the message
// for good: missing access, unknown channel, or closed DMs.
func undeliverable(err error) bool {
	switch StatusOf(err) {
	case http.StatusForbidden, http.StatusNotFound:
		return true
	}
	return false
}

// SendToChannel posts msg to a relay channel.
func (c *Client) SendToChannel(ctx context.Context, channelID string, msg modmail.RelayMessage) (bool, error) {
	err := c.postMessage(ctx, channelID, msg)
	if err == nil {
		return true, nil
	}
	if undeliverable(err) {
		log.Warn().Err(err).Str("channel_id", channelID).Msg("Channel refused message")
		return false, nil
	}
	return false, fmt.Errorf("send to channel %s: %w", channelID, err)
}

// SendToRecipient opens (or reuses) the DM channel and posts msg there.
func (c *Client) SendToRecipient(ctx context.Context, recipientID string, msg modmail.RelayMessage) (bool, error) {
	dm, err := c.dmChannel(ctx, recipientID)
	if err != nil {
		if undeliverable(err) {
			log.Warn().Err(err).Str("recipient_id", recipientID).Msg("Recipient cannot be messaged")
			return false, nil
		}
		return false, err
	}

	err = c.postMessage(ctx, dm, msg)
	if err == nil {
		return true, nil
	}
	if undeliverable(err) {
		if StatusOf(err) == http.StatusNotFound {
			c.forgetDM(recipientID)
		}
		log.Warn().Err(err).Str("recipient_id", recipientID).Msg("Recipient refused direct message")
		return false, nil
	}
	return false, fmt.Errorf("send to recipient %s: %w", recipientID, err)
}

func (c *Client) dmChannel(ctx context.Context, recipientID string) (string, error) {
	c.mu.Lock()
	id, ok := c.dmChannels[recipientID]
	c.mu.Unlock()
	if ok {
		return id, nil
	}

	var ch channel
	if err := c.do(ctx, http.MethodPost, "/users/@me/channels", map[string]string{"recipient_id": recipientID}, &ch); err != nil {
		return "", fmt.Errorf("open direct message channel for %s: %w", recipientID, err)
	}

	c.mu.Lock()
	c.dmChannels[recipientID] = ch.ID
	c.mu.Unlock()
	return ch.ID, nil
}

func (c *Client) forgetDM(recipientID string) {
	c.mu.Lock()
	delete(c.dmChannels, recipientID)
	c.mu.Unlock()
}
