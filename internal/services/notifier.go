package services

import (
	"context"
	"fmt"
	"log/slog"

	pubnub "github.com/pubnub/go"
)

const (
	EventQueued    = "call_queued"
	EventConnected = "call_connected"
	EventEnded     = "call_ended"
	EventCancelled = "call_cancelled"
)

// Notifier fans call lifecycle events out to subscribers of an endpoint.
type Notifier interface {
	Notify(ctx context.Context, endpoint, event string, data map[string]any)
}

type PubNubNotifier struct {
	pubnub *pubnub.PubNub
	log    *slog.Logger
}

func NewPubNubNotifier(publishKey, subscribeKey, secretKey string, log *slog.Logger) *PubNubNotifier {
	cfg := pubnub.NewConfig()
	cfg.PublishKey = publishKey
	cfg.SubscribeKey = subscribeKey
	cfg.SecretKey = secretKey
	cfg.UUID = "userphone"

	return &PubNubNotifier{pubnub: pubnub.NewPubNub(cfg), log: log}
}

func endpointChannel(endpoint string) string {
	return fmt.Sprintf("endpoint-%s", endpoint)
}

func (n *PubNubNotifier) Notify(_ context.Context, endpoint, event string, data map[string]any) {
	message := map[string]any{"type": event, "endpoint_id": endpoint}
	for k, v := range data {
		message[k] = v
	}

	if _, _, err := n.pubnub.Publish().
		Channel(endpointChannel(endpoint)).
		Message(message).
		Execute(); err != nil {
		n.log.Warn("publish lifecycle event failed", "endpoint", endpoint, "event", event, "error", err)
	}
}

// NopNotifier is used when no PubNub keys are configured.
type NopNotifier struct{}

func (NopNotifier) Notify(context.Context, string, string, map[string]any) {}
