package discord

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"unicode"

	"github.com/rs/zerolog/log"

	"github.com/modmail/internal/modmail"
)

const guildTextChannel = 0

// Channel names are capped at 100 characters, prefix included.
const maxChannelNameRunes = 90

type channel struct {
	ID       string `json:"id"`
	Type     int    `json:"type"`
	Name     string `json:"name"`
	ParentID string `json:"parent_id"`
}

// channelName turns an owner key into a valid text channel name.
func channelName(ownerKey string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(ownerKey) {
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r), r == '-', r == '_':
			b.WriteRune(r)
		case unicode.IsSpace(r):
			b.WriteRune('-')
		}
	}
	name := b.String()
	if name == "" {
		name = "thread"
	}
	if r := []rune(name); len(r) > maxChannelNameRunes {
		name = string(r[:maxChannelNameRunes])
	}
	return "modmail-" + name
}

func (c *Client) category(slot modmail.CategorySlot) (string, error) {
	if id, ok := c.categories[slot]; ok {
		return id, nil
	}
	return "", fmt.Errorf("discord: no category configured for slot %q", slot)
}

// CreateChannel creates a text channel under the slot's category.
func (c *Client) CreateChannel(ctx context.Context, ownerKey string, slot modmail.CategorySlot) (string, error) {
	if c.guildID == "" {
		return "", errors.New("discord: guild id is required to create channels")
	}
	parent, err := c.category(slot)
	if err != nil {
		return "", err
	}

	var created channel
	err = c.do(ctx, http.MethodPost, "/guilds/"+c.guildID+"/channels", map[string]any{
		"name":      channelName(ownerKey),
		"type":      guildTextChannel,
		"parent_id": parent,
		"topic":     "Modmail thread for " + ownerKey,
	}, &created)
	if err != nil {
		return "", fmt.Errorf("create channel for %s: %w", ownerKey, err)
	}
	log.Debug().
		Str("channel_id", created.ID).
		Str("recipient_id", ownerKey).
		Str("slot", string(slot)).
		Msg("Created relay channel")
	return created.ID, nil
}

// MoveChannel reparents the channel under the slot's category.
func (c *Client) MoveChannel(ctx context.Context, channelID string, slot modmail.CategorySlot) error {
	parent, err := c.category(slot)
	if err != nil {
		return err
	}
	if err := c.do(ctx, http.MethodPatch, "/channels/"+channelID, map[string]any{"parent_id": parent}, nil); err != nil {
		return fmt.Errorf("move channel %s: %w", channelID, err)
	}
	return nil
}

// DeleteChannel deletes the channel. A channel that is already gone is not an error.
func (c *Client) DeleteChannel(ctx context.Context, channelID string) error {
	err := c.do(ctx, http.MethodDelete, "/channels/"+channelID, nil, nil)
	if err != nil && StatusOf(err) != http.StatusNotFound {
		return fmt.Errorf("delete channel %s: %w", channelID, err)
	}
	return nil
}

// ChannelExists reports whether the channel can still be fetched.
func (c *Client) ChannelExists(ctx context.Context, channelID string) (bool, error) {
	if strings.TrimSpace(channelID) == "" {
		return false, nil
	}
	var ch channel
	err := c.do(ctx, http.MethodGet, "/channels/"+channelID, nil, &ch)
	switch {
	case err == nil:
		return true, nil
	case StatusOf(err) == http.StatusNotFound:
		return false, nil
	default:
		return false, fmt.Errorf("get channel %s: %w", channelID, err)
	}
}
