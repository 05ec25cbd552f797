package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/modmail/internal/api/auth"
	"github.com/modmail/internal/modmail"
	"github.com/modmail/internal/store/memory"
)

const (
	testJWTSecret     = "jwt-secret"
	testInboundSecret = "inbound-secret"
)

type platform struct {
	mu            sync.Mutex
	next          int
	recipientDown bool
	sent          []modmail.RelayMessage
}

func (p *platform) CreateChannel(context.Context, string, modmail.CategorySlot) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.next++
	return fmt.Sprintf("chan-%d", p.next), nil
}

func (p *platform) MoveChannel(context.Context, string, modmail.CategorySlot) error { return nil }
func (p *platform) DeleteChannel(context.Context, string) error { return nil }
func (p *platform) ChannelExists(context.Context, string) (bool, error) { return true, nil }

func (p *platform) SendToRecipient(_ context.Context, _ string, msg modmail.RelayMessage) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sent = append(p.sent, msg)
	return !p.recipientDown, nil
}

func (p *platform) SendToChannel(context.Context, string, modmail.RelayMessage) (bool, error) {
	return true, nil
}

func (p *platform) ResolveRecipient(_ context.Context, id string) (modmail.RecipientProfile, error) {
	return modmail.RecipientProfile{ID: id, DisplayName: "user-" + id}, nil
}

func (p *platform) ResolveMember(context.Context, string, string) (*modmail.MemberProfile, error) {
	return nil, nil
}

type fakeQueue struct {
	recipient []modmail.NormalizedMessage
	channels  []string
}

func (q *fakeQueue) EnqueueRecipientMessage(_ context.Context, msg modmail.NormalizedMessage) (string, error) {
	q.recipient = append(q.recipient, msg)
	return "delivery-1", nil
}

func (q *fakeQueue) EnqueueModeratorReply(_ context.Context, channelID string, _ modmail.NormalizedMessage) (string, error) {
	q.channels = append(q.channels, channelID)
	return "delivery-2", nil
}

type testServer struct {
	server   *Server
	store    *memory.Store
	platform *platform
	token    string
}

func newTestServer(t *testing.T, queue Enqueuer) *testServer {
	t.Helper()
	store := memory.NewStore()
	p := &platform{}
	engine, err := modmail.NewEngine(modmail.Deps{
		Store:     store,
		Blocks:    store,
		Channels:  p,
		Transport: p,
		Profiles:  p,
		Snippets:  store,
	}, modmail.Settings{
		RootCommunityID: "root",
		Categories: map[modmail.CategorySlot]string{
			modmail.SlotPending:    "cat-pending",
			modmail.SlotInProgress: "cat-progress",
			modmail.SlotSuspended:  "cat-suspended",
		},
	})
	require.NoError(t, err)

	token, _, err := auth.NewTokenService(testJWTSecret).IssueToken("mod-1", "Mod One")
	require.NoError(t, err)

	return &testServer{
		server:   NewServer(Config{JWTSecret: testJWTSecret, InboundSecret: testInboundSecret}, engine, store, queue),
		store:    store,
		platform: p,
		token:    token,
	}
}

func (ts *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	return ts.request(t, method, path, body, func(r *http.Request) {
		r.Header.Set("Authorization", "Bearer "+ts.token)
	})
}

func (ts *testServer) inbound(t *testing.T, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	return ts.request(t, http.MethodPost, path, body, func(r *http.Request) {
		r.Header.Set(auth.SecretHeader, testInboundSecret)
	})
}

func (ts *testServer) request(t *testing.T, method, path string, body any, setup func(*http.Request)) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	setup(req)
	rec := httptest.NewRecorder()
	ts.server.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t, nil)
	rec := ts.request(t, http.MethodGet, "/health", nil, func(*http.Request) {})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-Id"))
}

func TestOperatorRoutesRequireToken(t *testing.T) {
	ts := newTestServer(t, nil)
	rec := ts.request(t, http.MethodGet, "/api/v1/threads/1", nil, func(*http.Request) {})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = ts.request(t, http.MethodPost, "/api/v1/inbound/direct-messages", map[string]string{"author_id": "u1", "content": "x"}, func(r *http.Request) {
		r.Header.Set("Authorization", "Bearer "+ts.token)
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code, "inbound needs the shared secret")
}

func TestThreadLifecycle(t *testing.T) {
	ts := newTestServer(t, nil)

	rec := ts.do(t, http.MethodPost, "/api/v1/threads", openThreadRequest{RecipientID: "u1"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	thread := decode[modmail.Thread](t, rec)
	assert.Equal(t, modmail.StatusOpen, thread.Status)
	assert.Equal(t, "chan-1", thread.ChannelID)

	rec = ts.do(t, http.MethodPost, "/api/v1/threads", openThreadRequest{RecipientID: "u1"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, thread.ID, decode[modmail.Thread](t, rec).ID)

	path := fmt.Sprintf("/api/v1/threads/%d", thread.ID)

	rec = ts.do(t, http.MethodGet, path, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(t, http.MethodGet, "/api/v1/channels/chan-1/thread", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, thread.ID, decode[modmail.Thread](t, rec).ID)

	rec = ts.do(t, http.MethodPost, path+"/subscribe", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"mod-1"}, decode[modmail.Thread](t, rec).SubscriberIDs)

	rec = ts.do(t, http.MethodPost, path+"/unsubscribe", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[modmail.Thread](t, rec).SubscriberIDs)

	rec = ts.do(t, http.MethodPost, path+"/answered", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decode[modmail.Thread](t, rec).IsAnswered)

	rec = ts.do(t, http.MethodPost, path+"/suspend", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, modmail.StatusSuspended, decode[modmail.Thread](t, rec).Status)

	rec = ts.do(t, http.MethodPost, path+"/unsuspend", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, modmail.StatusOpen, decode[modmail.Thread](t, rec).Status)

	rec = ts.do(t, http.MethodPost, path+"/close", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	closed := decode[modmail.Thread](t, rec)
	assert.Equal(t, modmail.StatusClosed, closed.Status)
	assert.NotNil(t, closed.ClosedAt)

	rec = ts.do(t, http.MethodPost, path+"/suspend", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = ts.do(t, http.MethodGet, "/api/v1/recipients/u1/threads", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]modmail.Thread](t, rec), 1)
}

func TestThreadErrors(t *testing.T) {
	ts := newTestServer(t, nil)

	assert.Equal(t, http.StatusNotFound, ts.do(t, http.MethodGet, "/api/v1/threads/99", nil).Code)
	assert.Equal(t, http.StatusBadRequest, ts.do(t, http.MethodGet, "/api/v1/threads/abc", nil).Code)
	assert.Equal(t, http.StatusNotFound, ts.do(t, http.MethodPost, "/api/v1/threads/99/close", nil).Code)
	assert.Equal(t, http.StatusNotFound, ts.do(t, http.MethodGet, "/api/v1/channels/none/thread", nil).Code)
	assert.Equal(t, http.StatusBadRequest, ts.do(t, http.MethodPost, "/api/v1/threads", openThreadRequest{}).Code)
	assert.Equal(t, http.StatusBadRequest, ts.do(t, http.MethodGet, "/api/v1/recipients/u1/threads?limit=-1", nil).Code)
}

func TestUnsuspendConflict(t *testing.T) {
	ts := newTestServer(t, nil)
	ctx := context.Background()

	first := decode[modmail.Thread](t, ts.do(t, http.MethodPost, "/api/v1/threads", openThreadRequest{RecipientID: "u1"}))
	require.Equal(t, http.StatusOK, ts.do(t, http.MethodPost, fmt.Sprintf("/api/v1/threads/%d/suspend", first.ID), nil).Code)
	require.Equal(t, http.StatusCreated, ts.do(t, http.MethodPost, "/api/v1/threads", openThreadRequest{RecipientID: "u1"}).Code)

	rec := ts.do(t, http.MethodPost, fmt.Sprintf("/api/v1/threads/%d/unsuspend", first.ID), nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	stored, err := ts.store.FindThreadByID(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, modmail.StatusSuspended, stored.Status)
}

func TestReply(t *testing.T) {
	ts := newTestServer(t, nil)
	thread := decode[modmail.Thread](t, ts.do(t, http.MethodPost, "/api/v1/threads", openThreadRequest{RecipientID: "u1"}))
	path := fmt.Sprintf("/api/v1/threads/%d", thread.ID)

	rec := ts.do(t, http.MethodPost, path+"/reply", replyRequest{Content: "hello"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	res := decode[modmail.RelayResult](t, rec)
	assert.Equal(t, "mod-1", res.Interaction.AuthorID)
	assert.False(t, res.Interaction.Failed)
	assert.True(t, res.Thread.IsAnswered)

	rec = ts.do(t, http.MethodPost, path+"/reply", replyRequest{Content: "   "})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	ts.platform.recipientDown = true
	rec = ts.do(t, http.MethodPost, path+"/reply", replyRequest{Content: "anyone?"})
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.True(t, decode[modmail.RelayResult](t, rec).Interaction.Failed)
}

func TestCannedReplyAndSnippets(t *testing.T) {
	ts := newTestServer(t, nil)
	thread := decode[modmail.Thread](t, ts.do(t, http.MethodPost, "/api/v1/threads", openThreadRequest{RecipientID: "u1"}))
	path := fmt.Sprintf("/api/v1/threads/%d/canned-reply", thread.ID)

	assert.Equal(t, http.StatusNotFound, ts.do(t, http.MethodPost, path, cannedReplyRequest{Snippet: "greet"}).Code)

	require.Equal(t, http.StatusNoContent, ts.do(t, http.MethodPut, "/api/v1/snippets/greet", snippetRequest{Content: "Hello there"}).Code)
	rec := ts.do(t, http.MethodGet, "/api/v1/snippets", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []modmail.Snippet{{Name: "greet", Content: "Hello there"}}, decode[[]modmail.Snippet](t, rec))

	rec = ts.do(t, http.MethodPost, path, cannedReplyRequest{Snippet: "greet"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "Hello there", decode[modmail.RelayResult](t, rec).Interaction.Content)

	assert.Equal(t, http.StatusNoContent, ts.do(t, http.MethodDelete, "/api/v1/snippets/greet", nil).Code)
	assert.Equal(t, http.StatusNotFound, ts.do(t, http.MethodDelete, "/api/v1/snippets/greet", nil).Code)
	assert.Equal(t, http.StatusBadRequest, ts.do(t, http.MethodPut, "/api/v1/snippets/x", snippetRequest{}).Code)
}

func TestInboundDirectMessage(t *testing.T) {
	ts := newTestServer(t, nil)

	rec := ts.inbound(t, "/api/v1/inbound/direct-messages", directMessageEvent{AuthorID: "u1", Content: "help"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	res := decode[modmail.InboundResult](t, rec)
	assert.Equal(t, modmail.EnsureCreated, res.Ensure.Outcome)
	require.NotNil(t, res.Relay)
	assert.Equal(t, "help", res.Relay.Interaction.Content)

	rec = ts.inbound(t, "/api/v1/inbound/direct-messages", directMessageEvent{AuthorID: "u1"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.inbound(t, "/api/v1/inbound/direct-messages", directMessageEvent{Content: "who am i"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.inbound(t, "/api/v1/inbound/channel-messages", channelMessageEvent{
		ChannelID:          res.Ensure.Thread.ChannelID,
		directMessageEvent: directMessageEvent{AuthorID: "mod-1", Content: "on it"},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, modmail.InteractionModerator, decode[modmail.RelayResult](t, rec).Interaction.Type)

	rec = ts.inbound(t, "/api/v1/inbound/channel-messages", channelMessageEvent{
		ChannelID:          "random-channel",
		directMessageEvent: directMessageEvent{AuthorID: "mod-1", Content: "chatter"},
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestInboundBlockedRecipient(t *testing.T) {
	ts := newTestServer(t, nil)
	require.Equal(t, http.StatusNoContent, ts.do(t, http.MethodPost, "/api/v1/recipients/u1/block", blockRequest{Reason: "spam"}).Code)

	rec := ts.inbound(t, "/api/v1/inbound/direct-messages", directMessageEvent{AuthorID: "u1", Content: "hi"})
	require.Equal(t, http.StatusOK, rec.Code)
	res := decode[modmail.InboundResult](t, rec)
	assert.True(t, res.Ensure.Blocked())
	assert.Equal(t, "spam", res.Ensure.BlockReason)
	require.Len(t, ts.platform.sent, 1)
	assert.Equal(t, modmail.MarkerBlocked, ts.platform.sent[0].Title)

	require.Equal(t, http.StatusNoContent, ts.do(t, http.MethodDelete, "/api/v1/recipients/u1/block", nil).Code)
	rec = ts.inbound(t, "/api/v1/inbound/direct-messages", directMessageEvent{AuthorID: "u1", Content: "hi"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, modmail.EnsureCreated, decode[modmail.InboundResult](t, rec).Ensure.Outcome)
}

func TestInboundIsQueuedWhenQueueEnabled(t *testing.T) {
	queue := &fakeQueue{}
	ts := newTestServer(t, queue)

	rec := ts.inbound(t, "/api/v1/inbound/direct-messages", directMessageEvent{AuthorID: "u1", Content: "help"})
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, "delivery-1", decode[queuedResponse](t, rec).DeliveryID)
	require.Len(t, queue.recipient, 1)

	rec = ts.inbound(t, "/api/v1/inbound/channel-messages", channelMessageEvent{
		ChannelID:          "chan-9",
		directMessageEvent: directMessageEvent{AuthorID: "mod-1", Content: "hi"},
	})
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, []string{"chan-9"}, queue.channels)

	open, err := ts.store.FindOpenThread(context.Background(), "u1")
	require.NoError(t, err)
	assert.Nil(t, open, "queued events are not processed inline")
}

func TestHTTPErrorMapping(t *testing.T) {
	ts := newTestServer(t, nil)
	for _, tc := range []struct {
		err  error
		want int
	}{
		{modmail.ErrNotFound, http.StatusNotFound},
		{&modmail.InvariantError{ThreadID: 1, OpenThreadID: 2, RecipientID: "u1"}, http.StatusConflict},
		{fmt.Errorf("x: %w", modmail.ErrUnresolvedRecipient), http.StatusUnprocessableEntity},
		{modmail.ErrEmptyMessage, http.StatusBadRequest},
		{errors.New("disk on fire"), http.StatusInternalServerError},
	} {
		c := ts.server.echo.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())
		var he *echo.HTTPError
		require.ErrorAs(t, httpError(c, tc.err), &he)
		assert.Equal(t, tc.want, he.Code, tc.err.Error())
	}
}
