package platform

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"userphone/internal/status"
	"userphone/models"

	"github.com/bwmarrin/discordgo"
)

// Discord implements Platform over a discordgo session. Webhooks named
// IntegrationName are created on demand and cached per channel.
type Discord struct {
	session         *discordgo.Session
	deleteOnRelease bool
	log             *slog.Logger

	mu       sync.Mutex
	webhooks map[string]*discordgo.Webhook
	// messages sent through a channel's webhook, so edits go through it too
	sent map[string]map[string]struct{}
}

func NewDiscord(session *discordgo.Session, deleteOnRelease bool, log *slog.Logger) *Discord {
	return &Discord{
		session:         session,
		deleteOnRelease: deleteOnRelease,
		log:             log,
		webhooks:        make(map[string]*discordgo.Webhook),
		sent:            make(map[string]map[string]struct{}),
	}
}

func (d *Discord) Send(ctx context.Context, endpoint, content string, files []models.File) (string, error) {
	msg, err := d.session.ChannelMessageSendComplex(endpoint, &discordgo.MessageSend{
		Content: content,
		Files:   toDiscordFiles(files),
	}, discordgo.WithContext(ctx))
	if err != nil {
		return "", fmt.Errorf("send to %s: %w", endpoint, err)
	}
	return msg.ID, nil
}

func (d *Discord) SendAs(ctx context.Context, endpoint string, identity models.Identity, content string, files []models.File) (string, error) {
	wh, err := d.webhook(ctx, endpoint)
	if err != nil {
		return "", err
	}

	msg, err := d.session.WebhookExecute(wh.ID, wh.Token, true, &discordgo.WebhookParams{
		Content:   content,
		Username:  identity.Name,
		AvatarURL: identity.AvatarURL,
		Files:     toDiscordFiles(files),
	}, discordgo.WithContext(ctx))
	if err != nil {
		return "", fmt.Errorf("webhook send to %s: %w", endpoint, err)
	}

	d.mu.Lock()
	if d.sent[endpoint] == nil {
		d.sent[endpoint] = make(map[string]struct{})
	}
	d.sent[endpoint][msg.ID] = struct{}{}
	d.mu.Unlock()

	return msg.ID, nil
}

func (d *Discord) Edit(ctx context.Context, endpoint, messageID, content string) error {
	d.mu.Lock()
	wh := d.webhooks[endpoint]
	_, viaWebhook := d.sent[endpoint][messageID]
	d.mu.Unlock()

	if viaWebhook && wh != nil {
		_, err := d.session.WebhookMessageEdit(wh.ID, wh.Token, messageID, &discordgo.WebhookEdit{
			Content: &content,
		}, discordgo.WithContext(ctx))
		if err != nil {
			return fmt.Errorf("webhook edit %s/%s: %w", endpoint, messageID, mapRESTError(err))
		}
		return nil
	}

	if _, err := d.session.ChannelMessageEdit(endpoint, messageID, content, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("edit %s/%s: %w", endpoint, messageID, mapRESTError(err))
	}
	return nil
}

func (d *Discord) FetchContent(ctx context.Context, endpoint, messageID string) (string, error) {
	msg, err := d.session.ChannelMessage(endpoint, messageID, discordgo.WithContext(ctx))
	if err != nil {
		return "", fmt.Errorf("fetch %s/%s: %w", endpoint, messageID, mapRESTError(err))
	}
	return msg.Content, nil
}

func (d *Discord) Release(ctx context.Context, endpoint string) error {
	d.mu.Lock()
	wh := d.webhooks[endpoint]
	delete(d.webhooks, endpoint)
	delete(d.sent, endpoint)
	d.mu.Unlock()

	if wh == nil || !d.deleteOnRelease {
		return nil
	}
	if err := d.session.WebhookDelete(wh.ID, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("delete webhook %s: %w", endpoint, err)
	}
	return nil
}

// Origin resolves the guild a channel belongs to.
func (d *Discord) Origin(endpoint string) (string, error) {
	if ch, err := d.session.State.Channel(endpoint); err == nil {
		return ch.GuildID, nil
	}
	ch, err := d.session.Channel(endpoint)
	if err != nil {
		return "", fmt.Errorf("%w: %s", status.ErrUnknownEndpoint, endpoint)
	}
	return ch.GuildID, nil
}

func (d *Discord) webhook(ctx context.Context, endpoint string) (*discordgo.Webhook, error) {
	d.mu.Lock()
	wh, ok := d.webhooks[endpoint]
	d.mu.Unlock()
	if ok {
		return wh, nil
	}

	hooks, err := d.session.ChannelWebhooks(endpoint, discordgo.WithContext(ctx))
	if err != nil {
		return nil, mapRESTError(err)
	}
	for _, h := range hooks {
		if h.Name == IntegrationName && h.Token != "" {
			wh = h
			break
		}
	}
	if wh == nil {
		wh, err = d.session.WebhookCreate(endpoint, IntegrationName, "", discordgo.WithContext(ctx))
		if err != nil {
			return nil, mapRESTError(err)
		}
		d.log.Info("created relay webhook", "endpoint", endpoint, "webhook_id", wh.ID)
	}

	d.mu.Lock()
	d.webhooks[endpoint] = wh
	d.mu.Unlock()
	return wh, nil
}

func mapRESTError(err error) error {
	var restErr *discordgo.RESTError
	if !errors.As(err, &restErr) || restErr.Response == nil {
		return err
	}
	switch restErr.Response.StatusCode {
	case http.StatusForbidden:
		return fmt.Errorf("%w: %v", status.ErrNoIntegration, err)
	case http.StatusNotFound:
		return fmt.Errorf("%w: %v", status.ErrMessageNotFound, err)
	}
	return err
}

func toDiscordFiles(files []models.File) []*discordgo.File {
	if len(files) == 0 {
		return nil
	}
	out := make([]*discordgo.File, 0, len(files))
	for _, f := range files {
		out = append(out, &discordgo.File{
			Name:        f.Name,
			ContentType: f.ContentType,
			Reader:      bytes.NewReader(f.Data),
		})
	}
	return out
}
