package stream

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSender struct {
	frames []OutgoingFrame
	err    error
}

func (s *recordingSender) Send(_ context.Context, frame OutgoingFrame) error {
	s.frames = append(s.frames, frame)
	return s.err
}

func TestSubscribeFrames(t *testing.T) {
	f, err := subscribeFrame("913256135", LevelTrade)
	require.NoError(t, err)
	assert.Equal(t, opSubscribe, f.op)
	assert.Equal(t, `{"tickerIds":["913256135"],"type":"103"}`, string(f.Data))

	f, err = unsubscribeFrame("913256135", LevelTrade)
	require.NoError(t, err)
	assert.Equal(t, opUnsubscribe, f.op)
	assert.Equal(t, `["type=103&tid=913256135"]`, string(f.Data))
}

func TestRegistrySubscribeTwice(t *testing.T) {
	r := newRegistry()
	s := &recordingSender{}

	require.NoError(t, r.subscribe(context.Background(), s, "913256135", LevelTrade))
	require.NoError(t, r.subscribe(context.Background(), s, "913256135", LevelTrade))

	assert.Len(t, s.frames, 2)
	assert.Equal(t, 1, r.size())
	assert.Equal(t, []Subscription{{TickerID: "913256135", Level: LevelTrade}}, r.desired())
}

func TestRegistryUnsubscribe(t *testing.T) {
	r := newRegistry()
	s := &recordingSender{}

	require.NoError(t, r.subscribe(context.Background(), s, "913256135", LevelTrade))
	require.NoError(t, r.subscribe(context.Background(), s, "913243251", LevelQuote))
	require.NoError(t, r.unsubscribe(context.Background(), s, "913256135", LevelTrade))

	assert.Equal(t, []Subscription{{TickerID: "913243251", Level: LevelQuote}}, r.desired())
	assert.Equal(t, 2, r.size())
	require.Len(t, s.frames, 3)
	assert.Equal(t, `["type=103&tid=913256135"]`, string(s.frames[2].Data))

	// never subscribed: still sent, still recorded
	require.NoError(t, r.unsubscribe(context.Background(), s, "1", LevelDepth))
	assert.Len(t, s.frames, 4)
	assert.Equal(t, 3, r.size())
}

func TestRegistryDesiredSorted(t *testing.T) {
	r := newRegistry()
	s := &recordingSender{}
	for _, sub := range []Subscription{
		{TickerID: "b", Level: LevelQuote},
		{TickerID: "a", Level: LevelDepth},
		{TickerID: "a", Level: LevelSnapshot},
	} {
		require.NoError(t, r.subscribe(context.Background(), s, sub.TickerID, sub.Level))
	}
	assert.Equal(t, []Subscription{
		{TickerID: "a", Level: LevelSnapshot},
		{TickerID: "a", Level: LevelDepth},
		{TickerID: "b", Level: LevelQuote},
	}, r.desired())
}

func TestRegistryEmptyTicker(t *testing.T) {
	r := newRegistry()
	s := &recordingSender{}
	assert.ErrorIs(t, r.subscribe(context.Background(), s, "", LevelTrade), ErrEmptyTickerID)
	assert.ErrorIs(t, r.unsubscribe(context.Background(), s, "", LevelTrade), ErrEmptyTickerID)
	assert.Empty(t, s.frames)
	assert.Zero(t, r.size())
}

func TestRegistrySendError(t *testing.T) {
	r := newRegistry()
	sendErr := errors.New("broken pipe")
	s := &recordingSender{err: sendErr}

	assert.ErrorIs(t, r.subscribe(context.Background(), s, "913256135", LevelTrade), sendErr)
	// the desire is recorded even though the frame did not make it
	assert.Len(t, r.desired(), 1)
}
