// Package notify delivers web-push notifications to subscribed local accounts.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"congregation-admin-go/internal/store"
	"congregation-admin-go/internal/telemetry"

	"github.com/SherClockHolmes/webpush-go"
)

const defaultTTL = 30

// Message is the JSON payload the service worker receives.
type Message struct {
	Title string `json:"title"`
	Body  string `json:"body"`
	URL   string `json:"url,omitempty"`
}

// Sender abstracts webpush.SendNotificationWithContext.
type Sender func(ctx context.Context, message []byte, s *webpush.Subscription, options *webpush.Options) (*http.Response, error)

type Pusher struct {
	subs       store.PushStore
	publicKey  string
	privateKey string
	subscriber string
	send       Sender
}

// NewPusher uses the given VAPID key pair, generating one when either half is empty.
func NewPusher(subs store.PushStore, publicKey, privateKey, subscriber string) (*Pusher, error) {
	if publicKey == "" || privateKey == "" {
		priv, pub, err := webpush.GenerateVAPIDKeys()
		if err != nil {
			return nil, fmt.Errorf("generate vapid keys: %w", err)
		}
		privateKey, publicKey = priv, pub
		slog.Warn("VAPID keys not configured, generated a new pair; set them to keep existing subscriptions working",
			"VAPID_PUBLIC_KEY", publicKey)
	}
	return &Pusher{
		subs:       subs,
		publicKey:  publicKey,
		privateKey: privateKey,
		subscriber: subscriber,
		send:       webpush.SendNotificationWithContext,
	}, nil
}

// SetSender replaces the transport. Used by tests.
func (p *Pusher) SetSender(send Sender) { p.send = send }

func (p *Pusher) PublicKey() string { return p.publicKey }

// Subscribe stores a browser subscription for a local user.
func (p *Pusher) Subscribe(ctx context.Context, userID int, endpoint, p256dh, auth string) error {
	return p.subs.SavePushSubscription(ctx, userID, endpoint, p256dh, auth)
}

// Broadcast sends msg to every subscription and returns how many were delivered.
// Subscriptions the push service reports as gone are deleted.
func (p *Pusher) Broadcast(ctx context.Context, msg Message) (int, error) {
	payload, err := json.Marshal(msg)
	if err != nil {
		return 0, err
	}
	subs, err := p.subs.ListPushSubscriptions(ctx)
	if err != nil {
		return 0, fmt.Errorf("list push subscriptions: %w", err)
	}

	sent := 0
	for _, sub := range subs {
		resp, err := p.send(ctx, payload, &webpush.Subscription{
			Endpoint: sub.Endpoint,
			Keys:     webpush.Keys{P256dh: sub.P256dh, Auth: sub.Auth},
		}, &webpush.Options{
			Subscriber:      p.subscriber,
			VAPIDPublicKey:  p.publicKey,
			VAPIDPrivateKey: p.privateKey,
			TTL:             defaultTTL,
		})
		if err != nil {
			telemetry.PushNotificationsTotal.WithLabelValues("failed").Inc()
			slog.Warn("failed to send push notification", "endpoint", sub.Endpoint, "error", err)
			continue
		}
		_, _ = io.Copy(io.Discard, resp.Body)
		resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusGone || resp.StatusCode == http.StatusNotFound:
			telemetry.PushNotificationsTotal.WithLabelValues("expired").Inc()
			if err := p.subs.DeletePushSubscription(ctx, sub.Endpoint); err != nil {
				slog.Warn("failed to delete expired push subscription", "endpoint", sub.Endpoint, "error", err)
			}
		case resp.StatusCode >= 400:
			telemetry.PushNotificationsTotal.WithLabelValues("failed").Inc()
			slog.Warn("push service rejected notification", "endpoint", sub.Endpoint, "status", resp.StatusCode)
		default:
			telemetry.PushNotificationsTotal.WithLabelValues("sent").Inc()
			sent++
		}
	}
	return sent, nil
}
