package notification

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/courierhq/dispatch-api/internal/model"
	"github.com/courierhq/dispatch-api/internal/repository"
	"github.com/courierhq/dispatch-api/pkg/logger"
	"github.com/courierhq/dispatch-api/pkg/metrics"
)

type fakeNotificationRepo struct {
	mu        sync.Mutex
	rows      []*model.Notification
	createErr error
}

func (f *fakeNotificationRepo) Create(ctx context.Context, n *model.Notification) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return f.createErr
	}
	n.ID = uuid.New()
	f.rows = append(f.rows, n)
	return nil
}

func (f *fakeNotificationRepo) Get(ctx context.Context, id uuid.UUID) (*model.Notification, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, n := range f.rows {
		if n.ID == id {
			return n, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (f *fakeNotificationRepo) List(ctx context.Context, recipientID uuid.UUID, limit, offset int) ([]*model.Notification, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*model.Notification
	for _, n := range f.rows {
		if n.RecipientID == recipientID {
			out = append(out, n)
		}
	}
	return out, nil
}

func (f *fakeNotificationRepo) MarkRead(ctx context.Context, id, recipientID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, n := range f.rows {
		if n.ID == id && n.RecipientID == recipientID {
			n.IsRead = true
			return nil
		}
	}
	return repository.ErrNotFound
}

func (f *fakeNotificationRepo) MarkAllRead(ctx context.Context, recipientID uuid.UUID) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var count int64
	for _, n := range f.rows {
		if n.RecipientID == recipientID && !n.IsRead {
			n.IsRead = true
			count++
		}
	}
	return count, nil
}

func (f *fakeNotificationRepo) UnreadCount(ctx context.Context, recipientID uuid.UUID) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var count int64
	for _, n := range f.rows {
		if n.RecipientID == recipientID && !n.IsRead {
			count++
		}
	}
	return count, nil
}

type fakeTokenRepo struct {
	mu      sync.Mutex
	tokens  []*model.DeviceToken
	invalid []string
	listErr error
}

func (f *fakeTokenRepo) Register(ctx context.Context, token *model.DeviceToken) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	token.IsActive = true
	f.tokens = append(f.tokens, token)
	return nil
}

func (f *fakeTokenRepo) ListActiveByUser(ctx context.Context, userID uuid.UUID) ([]*model.DeviceToken, error) {
	return f.ListActiveByUsers(ctx, []uuid.UUID{userID})
}

func (f *fakeTokenRepo) ListActiveByUsers(ctx context.Context, userIDs []uuid.UUID) ([]*model.DeviceToken, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	var out []*model.DeviceToken
	for _, t := range f.tokens {
		if !t.IsActive {
			continue
		}
		for _, id := range userIDs {
			if t.UserID == id {
				out = append(out, t)
				break
			}
		}
	}
	return out, nil
}

func (f *fakeTokenRepo) MarkInvalid(ctx context.Context, token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.invalid = append(f.invalid, token)
	for _, t := range f.tokens {
		if t.Token == token {
			t.IsActive = false
		}
	}
	return nil
}

func (f *fakeTokenRepo) TouchLastUsed(ctx context.Context, token string) error {
	return nil
}

// fakeProvider fails tokens listed in failWith with the mapped error.
type fakeProvider struct {
	mu       sync.Mutex
	sent     []string
	failWith map[string]error
}

func (f *fakeProvider) SendToToken(ctx context.Context, token string, message *PushMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.failWith[token]; ok {
		return err
	}
	f.sent = append(f.sent, token)
	return nil
}

func newTestService(t *testing.T) (*Service, *fakeNotificationRepo, *fakeTokenRepo, *fakeProvider) {
	t.Helper()
	repo := &fakeNotificationRepo{}
	tokens := &fakeTokenRepo{}
	provider := &fakeProvider{failWith: map[string]error{}}
	svc := NewService(repo, tokens, provider,
		metrics.NewMetricsWithRegistry("test", "notification", prometheus.NewRegistry()),
		logger.NewLogger(nil))
	return svc, repo, tokens, provider
}

func registerToken(t *testing.T, tokens *fakeTokenRepo, userID uuid.UUID, value string) {
	t.Helper()
	require.NoError(t, tokens.Register(context.Background(), &model.DeviceToken{
		ID:       uuid.New(),
		UserID:   userID,
		Token:    value,
		Platform: model.DevicePlatformAndroid,
	}))
}

func TestSendPersistsAndFansOut(t *testing.T) {
	svc, repo, tokens, provider := newTestService(t)
	userID := uuid.New()
	registerToken(t, tokens, userID, "tok-1")
	registerToken(t, tokens, userID, "tok-2")

	result, err := svc.Send(context.Background(), userID, model.NotificationTypeShipmentDelivered, Content{
		Title:   "Order delivered",
		Body:    "Your order TRK-1001 has been delivered.",
		Payload: json.RawMessage(`{"tracking_number":"TRK-1001"}`),
	})
	require.NoError(t, err)

	assert.Equal(t, 2, result.SentCount)
	assert.Zero(t, result.FailedCount)
	assert.Equal(t, 2, result.TotalDevices)
	require.NotNil(t, result.Notification)
	assert.NotEqual(t, uuid.Nil, result.Notification.ID)
	require.Len(t, repo.rows, 1)
	assert.ElementsMatch(t, []string{"tok-1", "tok-2"}, provider.sent)
}

func TestSendWithZeroDevicesSucceeds(t *testing.T) {
	svc, repo, _, _ := newTestService(t)

	result, err := svc.Send(context.Background(), uuid.New(), model.NotificationTypeShipmentPickedUp, Content{
		Title: "Order picked up",
		Body:  "On its way.",
	})
	require.NoError(t, err)
	assert.Zero(t, result.TotalDevices)
	assert.Zero(t, result.SentCount)
	assert.Len(t, repo.rows, 1)
}

func TestSendSurvivesProviderFailure(t *testing.T) {
	svc, repo, tokens, provider := newTestService(t)
	userID := uuid.New()
	registerToken(t, tokens, userID, "tok-1")
	registerToken(t, tokens, userID, "tok-2")
	provider.failWith["tok-1"] = errors.New("gateway timeout")
	provider.failWith["tok-2"] = errors.New("gateway timeout")

	result, err := svc.Send(context.Background(), userID, model.NotificationTypeShipmentFailed, Content{
		Title: "Delivery attempt failed",
		Body:  "We will retry soon.",
	})
	require.NoError(t, err)
	assert.Equal(t, 2, result.FailedCount)
	assert.Zero(t, result.SentCount)
	assert.Len(t, repo.rows, 1)

	// Transient failures never retire tokens.
	assert.Empty(t, tokens.invalid)
}

func TestSendRetiresInvalidTokens(t *testing.T) {
	svc, _, tokens, provider := newTestService(t)
	userID := uuid.New()
	registerToken(t, tokens, userID, "tok-dead")
	registerToken(t, tokens, userID, "tok-live")
	provider.failWith["tok-dead"] = fmt.Errorf("NotRegistered: %w", ErrInvalidToken)

	result, err := svc.Send(context.Background(), userID, model.NotificationTypeShipmentDelivering, Content{
		Title: "Out for delivery",
		Body:  "Almost there.",
	})
	require.NoError(t, err)
	assert.Equal(t, 1, result.SentCount)
	assert.Equal(t, 1, result.FailedCount)
	assert.Equal(t, []string{"tok-dead"}, tokens.invalid)

	// The retired token is excluded from the next fan-out.
	result, err = svc.Send(context.Background(), userID, model.NotificationTypeShipmentDelivered, Content{
		Title: "Order delivered",
		Body:  "Done.",
	})
	require.NoError(t, err)
	assert.Equal(t, 1, result.TotalDevices)
}

func TestSendBulkCreatesRowPerRecipient(t *testing.T) {
	svc, repo, tokens, _ := newTestService(t)
	customerID := uuid.New()
	shopID := uuid.New()
	registerToken(t, tokens, customerID, "tok-customer")

	result, err := svc.SendBulk(context.Background(), []uuid.UUID{customerID, shopID}, model.NotificationTypeShipmentDelivered, Content{
		Title: "Order delivered",
		Body:  "Your order TRK-1001 has been delivered.",
	})
	require.NoError(t, err)
	assert.Len(t, repo.rows, 2)
	assert.Equal(t, 1, result.TotalDevices)
	assert.Equal(t, 1, result.SentCount)
}

func TestSendBulkFailsOnlyWhenNothingStored(t *testing.T) {
	svc, repo, _, _ := newTestService(t)
	repo.createErr = errors.New("db down")

	_, err := svc.SendBulk(context.Background(), []uuid.UUID{uuid.New(), uuid.New()}, model.NotificationTypeShipmentRejected, Content{
		Title: "Shipment needs a new courier",
	})
	assert.Error(t, err)
}

func TestMarkReadLifecycle(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	userID := uuid.New()

	result, err := svc.Send(context.Background(), userID, model.NotificationTypeShipmentPickedUp, Content{Title: "Order picked up"})
	require.NoError(t, err)

	count, err := svc.UnreadCount(context.Background(), userID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	// Another user cannot read someone else's notification.
	err = svc.MarkRead(context.Background(), result.Notification.ID, uuid.New())
	assert.Error(t, err)

	require.NoError(t, svc.MarkRead(context.Background(), result.Notification.ID, userID))

	count, err = svc.UnreadCount(context.Background(), userID)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestMarkAllRead(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	userID := uuid.New()
	for i := 0; i < 3; i++ {
		_, err := svc.Send(context.Background(), userID, model.NotificationTypeShipmentDelivering, Content{Title: "Out for delivery"})
		require.NoError(t, err)
	}

	updated, err := svc.MarkAllRead(context.Background(), userID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), updated)
}

func TestRegisterDeviceInvalidatesTokenCache(t *testing.T) {
	svc, _, tokens, _ := newTestService(t)
	userID := uuid.New()
	registerToken(t, tokens, userID, "tok-1")

	// Prime the cache with one token.
	_, err := svc.Send(context.Background(), userID, model.NotificationTypeShipmentPickedUp, Content{Title: "Order picked up"})
	require.NoError(t, err)

	require.NoError(t, svc.RegisterDevice(context.Background(), &model.DeviceToken{
		ID:       uuid.New(),
		UserID:   userID,
		Token:    "tok-2",
		Platform: model.DevicePlatformIOS,
	}))

	result, err := svc.Send(context.Background(), userID, model.NotificationTypeShipmentDelivered, Content{Title: "Order delivered"})
	require.NoError(t, err)
	assert.Equal(t, 2, result.TotalDevices)
}
