package notification

import (
	"context"
	"errors"
)

// ErrInvalidToken marks a token the provider rejected permanently. Providers
// must wrap it so the dispatcher can soft-delete the token; every other
// error is treated as transient.
var ErrInvalidToken = errors.New("invalid device token")

// PushMessage is the rendered payload handed to the push provider.
type PushMessage struct {
	Title string            `json:"title"`
	Body  string            `json:"body"`
	Data  map[string]string `json:"data,omitempty"`
}

// PushProvider abstracts the downstream push service (FCM, APNs gateway).
type PushProvider interface {
	SendToToken(ctx context.Context, token string, message *PushMessage) error
}
