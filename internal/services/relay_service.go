package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"unicode/utf8"

	"userphone/internal/platform"
	"userphone/internal/services/session"
	"userphone/internal/status"
	"userphone/models"
	"userphone/monitoring"
	"userphone/security"
	"userphone/utils"

	"github.com/samber/lo"
)

const snippetLength = 60

type linkKey struct {
	endpoint  string
	messageID string
}

type senderKey struct {
	userID string
	dest   string
}

// RelayService forwards messages, edits and reactions between the two ends of
// a live call.
type RelayService struct {
	sessions session.Store
	profiles *ProfileService
	platform platform.Platform
	assets   AssetFetcher
	cooldown *security.Cooldown
	breaker  *utils.CircuitBreaker
	monitor  *monitoring.Monitor
	log      *slog.Logger

	mu          sync.Mutex
	links       map[linkKey]string
	lastProfile map[senderKey]models.Identity
	selfID      string
}

func NewRelayService(
	sessions session.Store,
	profiles *ProfileService,
	p platform.Platform,
	assets AssetFetcher,
	cooldown *security.Cooldown,
	breaker *utils.CircuitBreaker,
	monitor *monitoring.Monitor,
	log *slog.Logger,
) *RelayService {
	return &RelayService{
		sessions:    sessions,
		profiles:    profiles,
		platform:    p,
		assets:      assets,
		cooldown:    cooldown,
		breaker:     breaker,
		monitor:     monitor,
		log:         log,
		links:       make(map[linkKey]string),
		lastProfile: make(map[senderKey]models.Identity),
	}
}

// SetSelfID tells the relay which user id is its own, so its reactions are ignored.
func (s *RelayService) SetSelfID(id string) {
	s.mu.Lock()
	s.selfID = id
	s.mu.Unlock()
}

// HandleMessage forwards msg to the partner endpoint. Messages outside a call,
// inside the sender's cooldown, or with nothing to carry are dropped without error.
func (s *RelayService) HandleMessage(ctx context.Context, msg models.Message) error {
	partner, ok, err := s.sessions.Partner(ctx, msg.EndpointID)
	if err != nil {
		return fmt.Errorf("resolve partner of %s: %w", msg.EndpointID, err)
	}
	if !ok {
		return nil
	}

	if !s.cooldown.Allow(msg.Author.ID, msg.CreatedAt) {
		s.monitor.TrackRelay("message", "throttled")
		return nil
	}

	files := s.collectFiles(ctx, msg)
	if msg.Content == "" && len(files) == 0 {
		s.monitor.TrackRelay("message", "empty")
		return nil
	}

	anonymous, err := s.sessions.IsAnonymous(ctx, msg.EndpointID)
	if err != nil {
		return fmt.Errorf("anonymity of %s: %w", msg.EndpointID, err)
	}
	identity := s.profiles.Identity(ctx, msg.Author, anonymous)

	if !anonymous {
		s.announceProfileChange(ctx, msg.Author.ID, partner, identity)
	}

	destID, err := s.forward(ctx, partner, identity, msg.Content, files)
	if err != nil {
		s.monitor.TrackRelay("message", "failed")
		return fmt.Errorf("forward %s to %s: %w", msg.ID, partner, err)
	}

	s.mu.Lock()
	s.links[linkKey{msg.EndpointID, msg.ID}] = destID
	s.mu.Unlock()

	s.monitor.TrackRelay("message", "success")
	return nil
}

func (s *RelayService) collectFiles(ctx context.Context, msg models.Message) []models.File {
	files := make([]models.File, 0, len(msg.Attachments)+len(msg.Stickers))

	for _, att := range msg.Attachments {
		data, err := s.assets.Fetch(ctx, att.URL)
		if err != nil {
			s.log.Warn("attachment dropped", "endpoint", msg.EndpointID, "file", att.Filename, "error", err)
			continue
		}
		files = append(files, attachmentFile(att, data))
	}
	for _, st := range msg.Stickers {
		data, err := s.assets.Fetch(ctx, st.URL)
		if err != nil {
			s.log.Warn("sticker dropped", "endpoint", msg.EndpointID, "sticker_id", st.ID, "error", err)
			continue
		}
		files = append(files, stickerFile(st, data))
	}
	return files
}

func (s *RelayService) announceProfileChange(ctx context.Context, userID, dest string, current models.Identity) {
	key := senderKey{userID, dest}

	s.mu.Lock()
	prev, seen := s.lastProfile[key]
	s.lastProfile[key] = current
	s.mu.Unlock()

	if !seen || prev == current {
		return
	}
	notice := fmt.Sprintf("ℹ️ **%s** updated their profile.", prev.Name)
	if _, err := s.platform.Send(ctx, dest, notice, nil); err != nil {
		s.log.Warn("profile notice failed", "endpoint", dest, "error", err)
	}
}

// forward sends under the relayed identity, falling back to a plain
// "**Name**: text" message where the endpoint has no webhook.
func (s *RelayService) forward(ctx context.Context, dest string, identity models.Identity, content string, files []models.File) (string, error) {
	res, err := s.breaker.Execute(ctx, func() (any, error) {
		id, err := s.platform.SendAs(ctx, dest, identity, content, files)
		if errors.Is(err, status.ErrNoIntegration) {
			return s.platform.Send(ctx, dest, fmt.Sprintf("**%s**: %s", identity.Name, content), files)
		}
		return id, err
	})
	if err != nil {
		return "", err
	}
	return res.(string), nil
}

// HandleEdit mirrors an edit onto the forwarded copy. Empty content is ignored
// so attachment-only edits never blank the destination.
func (s *RelayService) HandleEdit(ctx context.Context, edit models.MessageEdit) error {
	if edit.Content == "" {
		return nil
	}

	s.mu.Lock()
	destID, ok := s.links[linkKey{edit.EndpointID, edit.MessageID}]
	s.mu.Unlock()
	if !ok {
		return nil
	}

	partner, ok, err := s.sessions.Partner(ctx, edit.EndpointID)
	if err != nil {
		return fmt.Errorf("resolve partner of %s: %w", edit.EndpointID, err)
	}
	if !ok {
		return nil
	}

	if err := s.platform.Edit(ctx, partner, destID, edit.Content); err != nil {
		s.monitor.TrackRelay("edit", "failed")
		return fmt.Errorf("edit %s on %s: %w", destID, partner, err)
	}
	s.monitor.TrackRelay("edit", "success")
	return nil
}

// HandleReaction posts a one-line notice about the reaction on the partner side.
func (s *RelayService) HandleReaction(ctx context.Context, r models.Reaction) error {
	s.mu.Lock()
	self := s.selfID
	s.mu.Unlock()
	if self != "" && r.User.ID == self {
		return nil
	}

	partner, ok, err := s.sessions.Partner(ctx, r.EndpointID)
	if err != nil {
		return fmt.Errorf("resolve partner of %s: %w", r.EndpointID, err)
	}
	if !ok {
		return nil
	}

	anonymous, err := s.sessions.IsAnonymous(ctx, r.EndpointID)
	if err != nil {
		return fmt.Errorf("anonymity of %s: %w", r.EndpointID, err)
	}
	alias := s.profiles.Alias(ctx, r.User, anonymous)

	snippet := "a message"
	if content, err := s.platform.FetchContent(ctx, r.EndpointID, r.MessageID); err == nil {
		snippet = makeSnippet(content)
	} else {
		s.log.Debug("reaction source unavailable", "endpoint", r.EndpointID, "message_id", r.MessageID, "error", err)
	}

	notice := fmt.Sprintf("**%s** reacted with %s to \"%s\"", alias, r.Emoji, snippet)
	if _, err := s.platform.Send(ctx, partner, notice, nil); err != nil {
		s.monitor.TrackRelay("reaction", "failed")
		return fmt.Errorf("reaction notice to %s: %w", partner, err)
	}
	s.monitor.TrackRelay("reaction", "success")
	return nil
}

func makeSnippet(content string) string {
	if content == "" {
		return "[non‑text]"
	}
	if utf8.RuneCountInString(content) <= snippetLength {
		return content
	}
	return string([]rune(content)[:snippetLength]) + "..."
}

// Forget drops relay links and profile-change state for ended calls.
func (s *RelayService) Forget(endpoints ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.links = lo.OmitBy(s.links, func(k linkKey, _ string) bool {
		return lo.Contains(endpoints, k.endpoint)
	})
	s.lastProfile = lo.OmitBy(s.lastProfile, func(k senderKey, _ models.Identity) bool {
		return lo.Contains(endpoints, k.dest)
	})
}

// Link returns the forwarded copy of a source message, if any.
func (s *RelayService) Link(endpoint, messageID string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	dest, ok := s.links[linkKey{endpoint, messageID}]
	return dest, ok
}
