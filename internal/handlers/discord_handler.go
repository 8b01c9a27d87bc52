package handlers

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"userphone/internal/services"
	"userphone/models"

	"github.com/bwmarrin/discordgo"
	"github.com/samber/lo"
)

const defaultRollSides = 6

var minRollSides = 2.0

// Commands is the slash command set registered with Discord.
var Commands = []*discordgo.ApplicationCommand{
	{Name: "call", Description: "Start a userphone call"},
	{Name: "anoncall", Description: "Start an anonymous userphone call"},
	{Name: "hangup", Description: "Hang up the current call or leave the queue"},
	{Name: "duration", Description: "How long this channel has been connected"},
	{Name: "queue", Description: "Show queue status"},
	{Name: "stats", Description: "Show userphone statistics"},
	{
		Name:        "settings",
		Description: "Set the alias and avatar your messages are relayed with",
		Options: []*discordgo.ApplicationCommandOption{
			{Type: discordgo.ApplicationCommandOptionString, Name: "alias", Description: "Display name, up to 32 characters"},
			{Type: discordgo.ApplicationCommandOptionString, Name: "avatar", Description: "Avatar image URL, empty to reset"},
		},
	},
	{
		Name:        "8ball",
		Description: "Ask the magic 8-ball",
		Options: []*discordgo.ApplicationCommandOption{
			{Type: discordgo.ApplicationCommandOptionString, Name: "question", Description: "Your question", Required: true},
		},
	},
	{Name: "flip", Description: "Flip a coin"},
	{
		Name:        "roll",
		Description: "Roll a die",
		Options: []*discordgo.ApplicationCommandOption{
			{Type: discordgo.ApplicationCommandOptionInteger, Name: "sides", Description: "Number of sides", MinValue: &minRollSides},
		},
	},
}

// Relay is the part of the relay engine the gateway feeds.
type Relay interface {
	SetSelfID(id string)
	HandleMessage(ctx context.Context, msg models.Message) error
	HandleEdit(ctx context.Context, edit models.MessageEdit) error
	HandleReaction(ctx context.Context, r models.Reaction) error
}

// invocation is what a slash command needs to know about who ran it and where.
type invocation struct {
	Endpoint string
	Origin   string
	User     string
	Options  map[string]*discordgo.ApplicationCommandInteractionDataOption
}

// DiscordHandler wires gateway events to the command surface and the relay.
type DiscordHandler struct {
	session  *discordgo.Session
	commands *services.CommandService
	relay    Relay
	appID    string
	guildID  string
	log      *slog.Logger
}

func NewDiscordHandler(session *discordgo.Session, commands *services.CommandService, relay Relay, appID, guildID string, log *slog.Logger) *DiscordHandler {
	return &DiscordHandler{
		session:  session,
		commands: commands,
		relay:    relay,
		appID:    appID,
		guildID:  guildID,
		log:      log,
	}
}

// Register installs the gateway handlers. Call before opening the session.
func (h *DiscordHandler) Register() {
	h.session.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsGuildMessageReactions |
		discordgo.IntentsDirectMessages |
		discordgo.IntentsMessageContent

	h.session.AddHandler(h.onReady)
	h.session.AddHandler(h.onInteraction)
	h.session.AddHandler(h.onMessage)
	h.session.AddHandler(h.onMessageUpdate)
	h.session.AddHandler(h.onReaction)
}

// Servers is the number of guilds the gateway currently sees.
func (h *DiscordHandler) Servers() int {
	if h.session.State == nil {
		return 0
	}
	h.session.State.RLock()
	defer h.session.State.RUnlock()
	return len(h.session.State.Guilds)
}

// SyncCommands overwrites the registered slash commands with Commands.
func (h *DiscordHandler) SyncCommands(ctx context.Context) error {
	appID := h.appID
	if appID == "" && h.session.State != nil && h.session.State.User != nil {
		appID = h.session.State.User.ID
	}
	if appID == "" {
		return fmt.Errorf("sync commands: application id unknown")
	}

	registered, err := h.session.ApplicationCommandBulkOverwrite(appID, h.guildID, Commands, discordgo.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("sync commands: %w", err)
	}
	h.log.Info("slash commands synced", "count", len(registered), "guild_id", h.guildID)
	return nil
}

// RunCommandSync re-registers the commands every interval until ctx is done.
func (h *DiscordHandler) RunCommandSync(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := h.SyncCommands(ctx); err != nil {
				h.log.Warn("periodic command sync failed", "error", err)
			}
		}
	}
}

func (h *DiscordHandler) onReady(s *discordgo.Session, r *discordgo.Ready) {
	h.relay.SetSelfID(r.User.ID)
	h.log.Info("discord gateway ready", "user", r.User.Username, "guilds", len(r.Guilds))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := h.SyncCommands(ctx); err != nil {
		h.log.Error("initial command sync failed", "error", err)
	}
}

func (h *DiscordHandler) onInteraction(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if i.Type != discordgo.InteractionApplicationCommand {
		return
	}
	data := i.ApplicationCommandData()

	user := i.User
	if i.Member != nil && i.Member.User != nil {
		user = i.Member.User
	}
	if user == nil {
		return
	}

	inv := invocation{
		Endpoint: i.ChannelID,
		Origin:   i.GuildID,
		User:     user.ID,
		Options:  optionMap(data.Options),
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// acknowledge inside the 3s interaction deadline, then fill the reply in
	err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{Flags: discordgo.MessageFlagsEphemeral},
	}, discordgo.WithContext(ctx))
	if err != nil {
		h.log.Warn("interaction ack failed", "command", data.Name, "channel_id", i.ChannelID, "error", err)
		return
	}

	reply := h.dispatch(ctx, data.Name, inv)

	_, err = s.InteractionResponseEdit(i.Interaction, &discordgo.WebhookEdit{Content: &reply}, discordgo.WithContext(ctx))
	if err != nil {
		h.log.Warn("interaction response failed", "command", data.Name, "channel_id", i.ChannelID, "error", err)
	}
}

func (h *DiscordHandler) dispatch(ctx context.Context, name string, inv invocation) string {
	switch name {
	case "call", "anoncall", "hangup", "duration":
		// direct messages have no guild to bill or channel to bridge
		if inv.Origin == "" {
			return services.MsgWrongContext
		}
	}

	switch name {
	case "call", "anoncall":
		return h.commands.PlaceCall(ctx, models.CallRequest{
			EndpointID: inv.Endpoint,
			UserID:     inv.User,
			OriginID:   inv.Origin,
			Anonymous:  name == "anoncall",
		})
	case "hangup":
		return h.commands.Hangup(ctx, inv.Endpoint, inv.User)
	case "duration":
		return h.commands.CallDuration(ctx, inv.Endpoint)
	case "queue":
		return h.commands.QueueStatus(ctx)
	case "stats":
		return h.commands.Stats(ctx)
	case "settings":
		return h.commands.SetProfile(ctx, inv.User, stringOption(inv.Options, "alias"), stringOption(inv.Options, "avatar"))
	case "8ball":
		return h.commands.EightBall()
	case "flip":
		return h.commands.Flip()
	case "roll":
		sides := defaultRollSides
		if opt, ok := inv.Options["sides"]; ok {
			sides = int(opt.IntValue())
		}
		return h.commands.Roll(sides)
	}
	return services.MsgUnexpected
}

func (h *DiscordHandler) onMessage(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.Bot || m.WebhookID != "" {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	if err := h.relay.HandleMessage(ctx, toMessage(m.Message)); err != nil {
		h.log.Error("relay message failed", "channel_id", m.ChannelID, "message_id", m.ID, "error", err)
	}
}

func (h *DiscordHandler) onMessageUpdate(s *discordgo.Session, m *discordgo.MessageUpdate) {
	if m.Message == nil || (m.Author != nil && m.Author.Bot) || m.WebhookID != "" {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	edit := models.MessageEdit{EndpointID: m.ChannelID, MessageID: m.ID, Content: m.Content}
	if err := h.relay.HandleEdit(ctx, edit); err != nil {
		h.log.Error("relay edit failed", "channel_id", m.ChannelID, "message_id", m.ID, "error", err)
	}
}

func (h *DiscordHandler) onReaction(s *discordgo.Session, r *discordgo.MessageReactionAdd) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	user := models.User{ID: r.UserID, DisplayName: r.UserID}
	if r.Member != nil && r.Member.User != nil {
		user = toUser(r.Member.User)
	} else if u, err := s.User(r.UserID, discordgo.WithContext(ctx)); err == nil {
		user = toUser(u)
	}

	reaction := models.Reaction{
		EndpointID: r.ChannelID,
		MessageID:  r.MessageID,
		User:       user,
		Emoji:      r.Emoji.MessageFormat(),
	}
	if err := h.relay.HandleReaction(ctx, reaction); err != nil {
		h.log.Error("relay reaction failed", "channel_id", r.ChannelID, "message_id", r.MessageID, "error", err)
	}
}

func optionMap(opts []*discordgo.ApplicationCommandInteractionDataOption) map[string]*discordgo.ApplicationCommandInteractionDataOption {
	return lo.SliceToMap(opts, func(o *discordgo.ApplicationCommandInteractionDataOption) (string, *discordgo.ApplicationCommandInteractionDataOption) {
		return o.Name, o
	})
}

// stringOption distinguishes an omitted option (nil) from an empty one.
func stringOption(opts map[string]*discordgo.ApplicationCommandInteractionDataOption, name string) *string {
	opt, ok := opts[name]
	if !ok {
		return nil
	}
	v := opt.StringValue()
	return &v
}

func toUser(u *discordgo.User) models.User {
	return models.User{
		ID:          u.ID,
		DisplayName: lo.Ternary(u.GlobalName != "", u.GlobalName, u.Username),
		AvatarURL:   u.AvatarURL(""),
	}
}

func toMessage(m *discordgo.Message) models.Message {
	msg := models.Message{
		ID:         m.ID,
		EndpointID: m.ChannelID,
		OriginID:   m.GuildID,
		Content:    m.Content,
		CreatedAt:  m.Timestamp,
	}
	if m.Author != nil {
		msg.Author = toUser(m.Author)
	}
	if m.Member != nil && m.Member.Nick != "" {
		msg.Author.DisplayName = m.Member.Nick
	}

	msg.Attachments = lo.Map(m.Attachments, func(a *discordgo.MessageAttachment, _ int) models.Attachment {
		return models.Attachment{Filename: a.Filename, URL: a.URL, ContentType: a.ContentType}
	})
	msg.Stickers = lo.Map(m.StickerItems, func(st *discordgo.StickerItem, _ int) models.Sticker {
		format := stickerFormat(st.FormatType)
		return models.Sticker{ID: st.ID, Name: st.Name, Format: format, URL: stickerURL(st.ID, format)}
	})
	return msg
}

func stickerFormat(f discordgo.StickerFormat) models.StickerFormat {
	switch f {
	case discordgo.StickerFormatTypePNG:
		return models.StickerFormatPNG
	case discordgo.StickerFormatTypeAPNG:
		return models.StickerFormatAPNG
	case discordgo.StickerFormatTypeLottie:
		return models.StickerFormatLottie
	case discordgo.StickerFormatTypeGIF:
		return models.StickerFormatGIF
	}
	return models.StickerFormatUnknown
}

func stickerURL(id string, format models.StickerFormat) string {
	ext := "png"
	switch format {
	case models.StickerFormatGIF:
		ext = "gif"
	case models.StickerFormatLottie:
		ext = "json"
	}
	return fmt.Sprintf("https://media.discordapp.net/stickers/%s.%s", id, ext)
}
