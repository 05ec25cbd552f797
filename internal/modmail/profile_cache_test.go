package modmail

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingResolver struct {
	calls int
	err   error
}

func (r *countingResolver) ResolveRecipient(_ context.Context, recipientID string) (RecipientProfile, error) {
	r.calls++
	if r.err != nil {
		return RecipientProfile{}, r.err
	}
	return RecipientProfile{ID: recipientID}, nil
}

func (r *countingResolver) ResolveMember(context.Context, string, string) (*MemberProfile, error) {
	return nil, nil
}

func TestRecipientProfile_CachedPerThread(t *testing.T) {
	resolver := &countingResolver{}
	e := &Engine{profiles: resolver, profileCache: newProfileCache()}
	ctx := context.Background()
	thread := Thread{ID: 7, RecipientID: "r1"}

	p, err := e.recipientProfile(ctx, thread)
	require.NoError(t, err)
	assert.Equal(t, "r1", p.DisplayName)

	_, err = e.recipientProfile(ctx, thread)
	require.NoError(t, err)
	assert.Equal(t, 1, resolver.calls)

	e.profileCache.evict(thread.ID)
	_, err = e.recipientProfile(ctx, thread)
	require.NoError(t, err)
	assert.Equal(t, 2, resolver.calls)
}

func TestRecipientProfile_UnpersistedThreadIsNotCached(t *testing.T) {
	resolver := &countingResolver{}
	e := &Engine{profiles: resolver, profileCache: newProfileCache()}
	thread := Thread{RecipientID: "r1"}

	for i := 0; i < 2; i++ {
		_, err := e.recipientProfile(context.Background(), thread)
		require.NoError(t, err)
	}
	assert.Equal(t, 2, resolver.calls)
}

func TestRecipientProfile_Unresolved(t *testing.T) {
	e := &Engine{profiles: &countingResolver{err: errors.New("boom")}, profileCache: newProfileCache()}

	_, err := e.recipientProfile(context.Background(), Thread{ID: 1, RecipientID: "r1"})
	assert.ErrorIs(t, err, ErrUnresolvedRecipient)
}
