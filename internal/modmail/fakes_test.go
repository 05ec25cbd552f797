package modmail_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/modmail/internal/modmail"
	"github.com/modmail/internal/store/memory"
)

var testSettings = modmail.Settings{
	RootCommunityID:  "root-guild",
	InboxCommunityID: "inbox-guild",
	Categories: map[modmail.CategorySlot]string{
		modmail.SlotPending:    "cat-pending",
		modmail.SlotInProgress: "cat-progress",
		modmail.SlotSuspended:  "cat-suspended",
	},
}

type channelMove struct {
	ChannelID string
	Slot      modmail.CategorySlot
}

type fakeChannels struct {
	mu        sync.Mutex
	next      int
	live      map[string]modmail.CategorySlot
	created   []string
	deleted   []string
	moves     []channelMove
	createErr error
	moveErr   error
	deleteErr error
}

func newFakeChannels() *fakeChannels {
	return &fakeChannels{live: make(map[string]modmail.CategorySlot)}
}

func (f *fakeChannels) CreateChannel(_ context.Context, ownerKey string, slot modmail.CategorySlot) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return "", f.createErr
	}
	f.next++
	id := fmt.Sprintf("chan-%d", f.next)
	f.live[id] = slot
	f.created = append(f.created, id)
	return id, nil
}

func (f *fakeChannels) MoveChannel(_ context.Context, channelID string, slot modmail.CategorySlot) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.moveErr != nil {
		return f.moveErr
	}
	f.live[channelID] = slot
	f.moves = append(f.moves, channelMove{ChannelID: channelID, Slot: slot})
	return nil
}

func (f *fakeChannels) DeleteChannel(_ context.Context, channelID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deleteErr != nil {
		return f.deleteErr
	}
	delete(f.live, channelID)
	f.deleted = append(f.deleted, channelID)
	return nil
}

func (f *fakeChannels) ChannelExists(_ context.Context, channelID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.live[channelID]
	return ok, nil
}

// drop simulates someone deleting a channel outside the relay.
func (f *fakeChannels) drop(channelID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.live, channelID)
}

func (f *fakeChannels) slotOf(channelID string) modmail.CategorySlot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.live[channelID]
}

type sentMessage struct {
	To  string
	Msg modmail.RelayMessage
}

type fakeTransport struct {
	mu            sync.Mutex
	toRecipient   []sentMessage
	toChannel     []sentMessage
	recipientDown bool
	channelErr    error
}

func (f *fakeTransport) SendToRecipient(_ context.Context, recipientID string, msg modmail.RelayMessage) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.recipientDown {
		return false, nil
	}
	f.toRecipient = append(f.toRecipient, sentMessage{To: recipientID, Msg: msg})
	return true, nil
}

func (f *fakeTransport) SendToChannel(_ context.Context, channelID string, msg modmail.RelayMessage) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.channelErr != nil {
		return false, f.channelErr
	}
	f.toChannel = append(f.toChannel, sentMessage{To: channelID, Msg: msg})
	return true, nil
}

func (f *fakeTransport) channelMessages(channelID string) []modmail.RelayMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []modmail.RelayMessage
	for _, s := range f.toChannel {
		if s.To == channelID {
			out = append(out, s.Msg)
		}
	}
	return out
}

func (f *fakeTransport) recipientMessages() []modmail.RelayMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]modmail.RelayMessage, 0, len(f.toRecipient))
	for _, s := range f.toRecipient {
		out = append(out, s.Msg)
	}
	return out
}

type fakeProfiles struct {
	mu      sync.Mutex
	calls   int
	err     error
	members map[string]*modmail.MemberProfile
}

func (f *fakeProfiles) ResolveRecipient(_ context.Context, recipientID string) (modmail.RecipientProfile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return modmail.RecipientProfile{}, f.err
	}
	return modmail.RecipientProfile{
		ID:          recipientID,
		DisplayName: "user-" + recipientID,
		CreatedAt:   time.Date(2020, 3, 14, 0, 0, 0, 0, time.UTC),
	}, nil
}

func (f *fakeProfiles) ResolveMember(_ context.Context, communityID, recipientID string) (*modmail.MemberProfile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if communityID != testSettings.RootCommunityID {
		return nil, errors.New("unexpected community")
	}
	return f.members[recipientID], nil
}

type fakeEvents struct {
	mu     sync.Mutex
	events []modmail.LifecycleEvent
}

func (f *fakeEvents) Publish(_ context.Context, event modmail.LifecycleEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
	return nil
}

func (f *fakeEvents) types() []modmail.EventType {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]modmail.EventType, 0, len(f.events))
	for _, e := range f.events {
		out = append(out, e.Type)
	}
	return out
}

type harness struct {
	engine    *modmail.Engine
	store     *memory.Store
	channels  *fakeChannels
	transport *fakeTransport
	profiles  *fakeProfiles
	events    *fakeEvents
}

func newHarness(t *testing.T) *harness {
	return newHarnessWith(t, nil, testSettings)
}

// newHarnessWith builds an engine; wrap, when set, decorates the store the
// engine sees.
func newHarnessWith(t *testing.T, wrap func(*memory.Store) modmail.Store, settings modmail.Settings) *harness {
	t.Helper()
	h := &harness{
		store:     memory.NewStore(),
		channels:  newFakeChannels(),
		transport: &fakeTransport{},
		profiles:  &fakeProfiles{members: map[string]*modmail.MemberProfile{}},
		events:    &fakeEvents{},
	}
	var store modmail.Store = h.store
	if wrap != nil {
		store = wrap(h.store)
	}
	engine, err := modmail.NewEngine(modmail.Deps{
		Store:     store,
		Blocks:    h.store,
		Channels:  h.channels,
		Transport: h.transport,
		Profiles:  h.profiles,
		Events:    h.events,
		Snippets:  h.store,
	}, settings)
	require.NoError(t, err)
	h.engine = engine
	return h
}

func (h *harness) open(t *testing.T, recipientID string) modmail.Thread {
	t.Helper()
	res, err := h.engine.Ensure(context.Background(), recipientID, false)
	require.NoError(t, err)
	require.NotNil(t, res.Thread)
	return *res.Thread
}

// racingStore lets a competing caller win the create race.
type racingStore struct {
	*memory.Store
	once sync.Once
}

func (s *racingStore) CreateThread(ctx context.Context, thread modmail.Thread) (modmail.Thread, error) {
	s.once.Do(func() {
		winner := thread
		winner.ChannelID = "winner-chan"
		_, _ = s.Store.CreateThread(ctx, winner)
	})
	return s.Store.CreateThread(ctx, thread)
}

// interferingStore runs before once, right ahead of the first conditional
// update, to simulate a transition committed by another event.
type interferingStore struct {
	*memory.Store
	once   sync.Once
	before func(ctx context.Context, s *memory.Store, thread modmail.Thread)
}

func (s *interferingStore) UpdateThread(ctx context.Context, thread modmail.Thread) (modmail.Thread, error) {
	s.once.Do(func() { s.before(ctx, s.Store, thread) })
	return s.Store.UpdateThread(ctx, thread)
}

// commitConcurrently returns an interferingStore hook that writes change to
// the stored thread as another event would.
func commitConcurrently(change func(next *modmail.Thread)) func(ctx context.Context, s *memory.Store, thread modmail.Thread) {
	return func(ctx context.Context, s *memory.Store, thread modmail.Thread) {
		cur, err := s.FindThreadByID(ctx, thread.ID)
		if err != nil || cur == nil {
			panic(fmt.Sprintf("thread %d not found: %v", thread.ID, err))
		}
		next := cur.Clone()
		change(&next)
		if _, err := s.UpdateThread(ctx, next); err != nil {
			panic(err)
		}
	}
}

// alwaysStaleStore loses every conditional update.
type alwaysStaleStore struct {
	*memory.Store
}

func (s *alwaysStaleStore) UpdateThread(context.Context, modmail.Thread) (modmail.Thread, error) {
	return modmail.Thread{}, modmail.ErrStaleThread
}
