package services

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"userphone/internal/services/session"
	"userphone/internal/status"
	"userphone/mocks"
	"userphone/models"
	"userphone/security"
	"userphone/utils"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

type stubAssets map[string][]byte

func (s stubAssets) Fetch(_ context.Context, url string) ([]byte, error) {
	data, ok := s[url]
	if !ok {
		return nil, errors.New("404")
	}
	return data, nil
}

type relayFixture struct {
	relay    *RelayService
	platform *mocks.MockPlatform
	profiles *fakeProfileStore
	store    *session.MemoryStore
}

func newRelayFixture(t *testing.T, cooldown time.Duration) *relayFixture {
	t.Helper()
	ctrl := gomock.NewController(t)
	p := mocks.NewMockPlatform(ctrl)
	store := session.NewMemoryStore(nil)
	profiles := newFakeProfileStore()

	relay := NewRelayService(
		store,
		NewProfileService(profiles, slog.Default()),
		p,
		stubAssets{},
		security.NewCooldown(cooldown),
		utils.NewCircuitBreaker("platform"),
		nil,
		slog.Default(),
	)
	return &relayFixture{relay: relay, platform: p, profiles: profiles, store: store}
}

var (
	alice = models.User{ID: "100000001", DisplayName: "Alice", AvatarURL: "https://cdn.example/alice.png"}
	bob   = models.User{ID: "200000002", DisplayName: "Bob"}
	t0    = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
)

func msg(id, endpoint string, author models.User, content string, at time.Time) models.Message {
	return models.Message{ID: id, EndpointID: endpoint, Author: author, Content: content, CreatedAt: at}
}

func TestRelay_ForwardsUnderIdentity(t *testing.T) {
	f := newRelayFixture(t, time.Second)
	ctx := context.Background()
	require.NoError(t, f.store.StartCall(ctx, "A", "B", false))

	f.platform.EXPECT().
		SendAs(gomock.Any(), "B", models.Identity{Name: "Alice", AvatarURL: alice.AvatarURL}, "hi", gomock.Len(0)).
		Return("b1", nil)

	require.NoError(t, f.relay.HandleMessage(ctx, msg("a1", "A", alice, "hi", t0)))

	dest, ok := f.relay.Link("A", "a1")
	assert.True(t, ok)
	assert.Equal(t, "b1", dest)
}

func TestRelay_IgnoresEndpointsOutsideCall(t *testing.T) {
	f := newRelayFixture(t, time.Second)
	ctx := context.Background()

	assert.NoError(t, f.relay.HandleMessage(ctx, msg("a1", "A", alice, "hi", t0)))
	assert.NoError(t, f.relay.HandleEdit(ctx, models.MessageEdit{EndpointID: "A", MessageID: "a1", Content: "x"}))
	assert.NoError(t, f.relay.HandleReaction(ctx, models.Reaction{EndpointID: "A", MessageID: "a1", User: bob, Emoji: "👍"}))
}

func TestRelay_AnonymousIdentity(t *testing.T) {
	f := newRelayFixture(t, time.Second)
	ctx := context.Background()
	f.profiles.profiles[alice.ID] = models.Profile{Alias: "Ally"}
	require.NoError(t, f.store.StartCall(ctx, "A", "B", true))

	f.platform.EXPECT().
		SendAs(gomock.Any(), "B", models.Identity{Name: "Stranger 0001", AvatarURL: AnonymousAvatar}, "hi", gomock.Any()).
		Return("b1", nil)

	require.NoError(t, f.relay.HandleMessage(ctx, msg("a1", "A", alice, "hi", t0)))
}

func TestRelay_Cooldown(t *testing.T) {
	f := newRelayFixture(t, time.Second)
	ctx := context.Background()
	require.NoError(t, f.store.StartCall(ctx, "A", "B", false))

	f.platform.EXPECT().SendAs(gomock.Any(), "B", gomock.Any(), "one", gomock.Any()).Return("b1", nil)
	f.platform.EXPECT().SendAs(gomock.Any(), "B", gomock.Any(), "three", gomock.Any()).Return("b3", nil)

	require.NoError(t, f.relay.HandleMessage(ctx, msg("a1", "A", alice, "one", t0)))
	require.NoError(t, f.relay.HandleMessage(ctx, msg("a2", "A", alice, "two", t0.Add(300*time.Millisecond))))
	require.NoError(t, f.relay.HandleMessage(ctx, msg("a3", "A", alice, "three", t0.Add(1100*time.Millisecond))))

	_, ok := f.relay.Link("A", "a2")
	assert.False(t, ok)
}

func TestRelay_DropsEmptyMessages(t *testing.T) {
	f := newRelayFixture(t, 0)
	ctx := context.Background()
	require.NoError(t, f.store.StartCall(ctx, "A", "B", false))

	m := msg("a1", "A", alice, "", t0)
	m.Attachments = []models.Attachment{{Filename: "gone.png", URL: "https://cdn.example/gone.png"}}

	// the only attachment fails to download, leaving nothing to send
	assert.NoError(t, f.relay.HandleMessage(ctx, m))
}

func TestRelay_FallbackWithoutIntegration(t *testing.T) {
	f := newRelayFixture(t, 0)
	ctx := context.Background()
	require.NoError(t, f.store.StartCall(ctx, "A", "B", false))

	gomock.InOrder(
		f.platform.EXPECT().SendAs(gomock.Any(), "B", gomock.Any(), "hello", gomock.Any()).Return("", status.ErrNoIntegration),
		f.platform.EXPECT().Send(gomock.Any(), "B", "**Alice**: hello", gomock.Any()).Return("b9", nil),
	)

	require.NoError(t, f.relay.HandleMessage(ctx, msg("a1", "A", alice, "hello", t0)))
	dest, _ := f.relay.Link("A", "a1")
	assert.Equal(t, "b9", dest)
}

func TestRelay_SendFailureReturnsError(t *testing.T) {
	f := newRelayFixture(t, 0)
	ctx := context.Background()
	require.NoError(t, f.store.StartCall(ctx, "A", "B", false))

	f.platform.EXPECT().SendAs(gomock.Any(), "B", gomock.Any(), "hello", gomock.Any()).Return("", errors.New("503"))

	err := f.relay.HandleMessage(ctx, msg("a1", "A", alice, "hello", t0))
	assert.Error(t, err)
	_, ok := f.relay.Link("A", "a1")
	assert.False(t, ok)
}

func TestRelay_ProfileChangeNotice(t *testing.T) {
	f := newRelayFixture(t, 0)
	ctx := context.Background()
	require.NoError(t, f.store.StartCall(ctx, "A", "B", false))

	gomock.InOrder(
		f.platform.EXPECT().SendAs(gomock.Any(), "B", models.Identity{Name: "Alice", AvatarURL: alice.AvatarURL}, "first", gomock.Any()).Return("b1", nil),
		f.platform.EXPECT().Send(gomock.Any(), "B", "ℹ️ **Alice** updated their profile.", gomock.Nil()).Return("n1", nil),
		f.platform.EXPECT().SendAs(gomock.Any(), "B", models.Identity{Name: "Ally", AvatarURL: alice.AvatarURL}, "second", gomock.Any()).Return("b2", nil),
		f.platform.EXPECT().SendAs(gomock.Any(), "B", gomock.Any(), "third", gomock.Any()).Return("b3", nil),
	)

	require.NoError(t, f.relay.HandleMessage(ctx, msg("a1", "A", alice, "first", t0)))
	f.profiles.profiles[alice.ID] = models.Profile{Alias: "Ally"}
	require.NoError(t, f.relay.HandleMessage(ctx, msg("a2", "A", alice, "second", t0.Add(time.Second))))
	require.NoError(t, f.relay.HandleMessage(ctx, msg("a3", "A", alice, "third", t0.Add(2*time.Second))))
}

func TestRelay_EditPropagation(t *testing.T) {
	f := newRelayFixture(t, 0)
	ctx := context.Background()
	require.NoError(t, f.store.StartCall(ctx, "A", "B", false))

	f.platform.EXPECT().SendAs(gomock.Any(), "B", gomock.Any(), "helo", gomock.Any()).Return("b1", nil)
	f.platform.EXPECT().Edit(gomock.Any(), "B", "b1", "hello").Return(nil).Times(1)

	require.NoError(t, f.relay.HandleMessage(ctx, msg("a1", "A", alice, "helo", t0)))

	require.NoError(t, f.relay.HandleEdit(ctx, models.MessageEdit{EndpointID: "A", MessageID: "a1", Content: ""}))
	require.NoError(t, f.relay.HandleEdit(ctx, models.MessageEdit{EndpointID: "A", MessageID: "a1", Content: "hello"}))
	// unknown source message
	require.NoError(t, f.relay.HandleEdit(ctx, models.MessageEdit{EndpointID: "A", MessageID: "zz", Content: "hello"}))
}

func TestRelay_Reaction(t *testing.T) {
	long := strings.Repeat("a", 75)

	tests := []struct {
		name    string
		content string
		err     error
		want    string
	}{
		{"short", "hi there", nil, `**Bob** reacted with 👍 to "hi there"`},
		{"truncated", long, nil, `**Bob** reacted with 👍 to "` + strings.Repeat("a", 60) + `..."`},
		{"non text", "", nil, `**Bob** reacted with 👍 to "[non‑text]"`},
		{"unavailable", "", status.ErrMessageNotFound, `**Bob** reacted with 👍 to "a message"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newRelayFixture(t, 0)
			ctx := context.Background()
			require.NoError(t, f.store.StartCall(ctx, "A", "B", false))

			f.platform.EXPECT().FetchContent(gomock.Any(), "A", "m1").Return(tt.content, tt.err)
			f.platform.EXPECT().Send(gomock.Any(), "B", tt.want, gomock.Nil()).Return("n1", nil)

			require.NoError(t, f.relay.HandleReaction(ctx, models.Reaction{EndpointID: "A", MessageID: "m1", User: bob, Emoji: "👍"}))
		})
	}
}

func TestRelay_IgnoresOwnReactions(t *testing.T) {
	f := newRelayFixture(t, 0)
	ctx := context.Background()
	require.NoError(t, f.store.StartCall(ctx, "A", "B", false))
	f.relay.SetSelfID("bot")

	assert.NoError(t, f.relay.HandleReaction(ctx, models.Reaction{
		EndpointID: "A", MessageID: "m1", User: models.User{ID: "bot"}, Emoji: "👍",
	}))
}

func TestRelay_ForgetPrunesEndedCalls(t *testing.T) {
	f := newRelayFixture(t, 0)
	ctx := context.Background()
	require.NoError(t, f.store.StartCall(ctx, "A", "B", false))
	require.NoError(t, f.store.StartCall(ctx, "C", "D", false))

	f.platform.EXPECT().SendAs(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Return("x1", nil)
	f.platform.EXPECT().SendAs(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Return("x2", nil)

	require.NoError(t, f.relay.HandleMessage(ctx, msg("a1", "A", alice, "hi", t0)))
	require.NoError(t, f.relay.HandleMessage(ctx, msg("c1", "C", bob, "yo", t0)))

	f.relay.Forget("A", "B")

	_, ok := f.relay.Link("A", "a1")
	assert.False(t, ok)
	_, ok = f.relay.Link("C", "c1")
	assert.True(t, ok)
}

func TestMakeSnippet(t *testing.T) {
	assert.Equal(t, "[non‑text]", makeSnippet(""))
	assert.Equal(t, strings.Repeat("é", 60), makeSnippet(strings.Repeat("é", 60)))
	assert.Equal(t, strings.Repeat("é", 60)+"...", makeSnippet(strings.Repeat("é", 61)))
}
