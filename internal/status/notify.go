package status

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	webpush "github.com/SherClockHolmes/webpush-go"
)

type Payload struct {
	Title string `json:"title"`
	Body  string `json:"body"`
	URL   string `json:"url,omitempty"`
	Tag   string `json:"tag,omitempty"`
}

type VAPID struct {
	PublicKey  string
	PrivateKey string
	Contact    string
}

type Subscription struct {
	Endpoint string `yaml:"endpoint"`
	P256dh   string `yaml:"p256dh"`
	Auth     string `yaml:"auth"`
}

// Notifier sends web push messages to a fixed set of subscriptions.
// Subscriptions the push service reports as gone are dropped for the life
// of the process.
type Notifier struct {
	vapid  VAPID
	client *http.Client

	mu   sync.Mutex
	subs []Subscription
}

func NewNotifier(vapid VAPID, subs []Subscription, client *http.Client) *Notifier {
	if client == nil {
		client = http.DefaultClient
	}
	return &Notifier{
		vapid:  vapid,
		client: client,
		subs:   append([]Subscription(nil), subs...),
	}
}

func (n *Notifier) Enabled() bool {
	return n != nil && n.vapid.PublicKey != "" && n.vapid.PrivateKey != ""
}

func (n *Notifier) Send(ctx context.Context, payload *Payload) {
	if !n.Enabled() {
		slog.WarnContext(ctx, "push notification: VAPID keys not configured, skipping")
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		slog.ErrorContext(ctx, "push notification: failed to marshal payload", "error", err)
		return
	}

	n.mu.Lock()
	subs := append([]Subscription(nil), n.subs...)
	n.mu.Unlock()

	for _, sub := range subs {
		if n.sendTo(ctx, sub, data) {
			n.drop(sub.Endpoint)
		}
	}
}

// sendTo reports whether the subscription has expired.
func (n *Notifier) sendTo(ctx context.Context, sub Subscription, data []byte) bool {
	resp, err := webpush.SendNotificationWithContext(ctx, data, &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			P256dh: sub.P256dh,
			Auth:   sub.Auth,
		},
	}, &webpush.Options{
		HTTPClient:      n.client,
		VAPIDPublicKey:  n.vapid.PublicKey,
		VAPIDPrivateKey: n.vapid.PrivateKey,
		Subscriber:      n.vapid.Contact,
		TTL:             86400,
	})
	if err != nil {
		slog.ErrorContext(ctx, "push notification: failed to send", "endpoint", sub.Endpoint, "error", err)
		return false
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusGone || resp.StatusCode == http.StatusNotFound {
		slog.InfoContext(ctx, "push notification: subscription expired, removing", "endpoint", sub.Endpoint)
		return true
	}
	if resp.StatusCode >= 400 {
		slog.WarnContext(ctx, "push notification: unexpected status", "endpoint", sub.Endpoint, "status", resp.StatusCode)
	}
	return false
}

func (n *Notifier) drop(endpoint string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	kept := n.subs[:0]
	for _, s := range n.subs {
		if s.Endpoint != endpoint {
			kept = append(kept, s)
		}
	}
	n.subs = kept
}

// Subscriptions returns the subscriptions still considered live.
func (n *Notifier) Subscriptions() []Subscription {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]Subscription(nil), n.subs...)
}
