package discord

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/modmail/internal/modmail"
)

// discordEpoch is the first millisecond of 2015, the snowflake epoch.
const discordEpoch = 1420070400000

// SnowflakeTime decodes the creation time embedded in a snowflake id.
func SnowflakeTime(id string) (time.Time, error) {
	v, err := strconv.ParseUint(id, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid snowflake %q: %w", id, err)
	}
	return time.UnixMilli(int64(v>>22) + discordEpoch).UTC(), nil
}

type user struct {
	ID         string `json:"id"`
	Username   string `json:"username"`
	GlobalName string `json:"global_name"`
	Avatar     string `json:"avatar"`
}

type member struct {
	Nick     string    `json:"nick"`
	JoinedAt time.Time `json:"joined_at"`
}

// ResolveRecipient fetches the user and derives display data.
func (c *Client) ResolveRecipient(ctx context.Context, recipientID string) (modmail.RecipientProfile, error) {
	var u user
	if err := c.do(ctx, http.MethodGet, "/users/"+recipientID, nil, &u); err != nil {
		return modmail.RecipientProfile{}, fmt.Errorf("get user %s: %w", recipientID, err)
	}

	profile := modmail.RecipientProfile{ID: u.ID, DisplayName: u.GlobalName}
	if profile.ID == "" {
		profile.ID = recipientID
	}
	if profile.DisplayName == "" {
		profile.DisplayName = u.Username
	}
	if u.Avatar != "" {
		profile.AvatarURL = fmt.Sprintf("https://cdn.discordapp.com/avatars/%s/%s.png", profile.ID, u.Avatar)
	}
	if created, err := SnowflakeTime(profile.ID); err == nil {
		profile.CreatedAt = created
	}
	return profile, nil
}

// ResolveMember returns nil when the user is not in the guild.
func (c *Client) ResolveMember(ctx context.Context, communityID, recipientID string) (*modmail.MemberProfile, error) {
	if communityID == "" {
		return nil, nil
	}
	var m member
	err := c.do(ctx, http.MethodGet, "/guilds/"+communityID+"/members/"+recipientID, nil, &m)
	if StatusOf(err) == http.StatusNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get member %s in %s: %w", recipientID, communityID, err)
	}
	return &modmail.MemberProfile{Nickname: m.Nick, JoinedAt: m.JoinedAt.UTC()}, nil
}
