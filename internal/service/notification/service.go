package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	gocache "github.com/patrickmn/go-cache"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/courierhq/dispatch-api/internal/model"
	"github.com/courierhq/dispatch-api/internal/repository"
	apperrors "github.com/courierhq/dispatch-api/pkg/errors"
	"github.com/courierhq/dispatch-api/pkg/logger"
	"github.com/courierhq/dispatch-api/pkg/metrics"
)

const (
	defaultPushTimeout  = 5 * time.Second
	tokenCacheTTL       = 30 * time.Second
	tokenCacheSweep     = time.Minute
	defaultListPageSize = 20
)

// Content is the rendered notification handed to Send.
type Content struct {
	Title   string
	Body    string
	Payload json.RawMessage
}

type Service struct {
	repo        repository.NotificationRepository
	tokens      repository.DeviceTokenRepository
	provider    PushProvider
	tokenCache  *gocache.Cache
	pushTimeout time.Duration
	metrics     *metrics.Metrics
	logger      *logger.Logger
}

func NewService(
	repo repository.NotificationRepository,
	tokens repository.DeviceTokenRepository,
	provider PushProvider,
	m *metrics.Metrics,
	l *logger.Logger,
) *Service {
	return &Service{
		repo:        repo,
		tokens:      tokens,
		provider:    provider,
		tokenCache:  gocache.New(tokenCacheTTL, tokenCacheSweep),
		pushTimeout: defaultPushTimeout,
		metrics:     m,
		logger:      l,
	}
}

// Send persists one notification row, then fans out to every active device
// of the recipient. The row is written first and unconditionally: in-app
// history survives a dead push provider. Zero devices and all-pushes-failed
// are both successful sends.
func (s *Service) Send(ctx context.Context, recipientID uuid.UUID, notifType model.NotificationType, content Content) (*model.SendResult, error) {
	notification := &model.Notification{
		RecipientID: recipientID,
		Type:        notifType,
		Title:       content.Title,
		Body:        content.Body,
		Payload:     content.Payload,
	}
	if err := s.repo.Create(ctx, notification); err != nil {
		return nil, fmt.Errorf("failed to store notification: %w", err)
	}
	s.metrics.NotificationsStored.Inc()

	tokens, err := s.activeTokens(ctx, recipientID)
	if err != nil {
		// The row is stored; report a deliverable-free success rather than
		// failing the send.
		s.logger.Error(err, "failed to list device tokens", "recipient_id", recipientID.String())
		tokens = nil
	}

	sent, failed := s.fanOut(ctx, tokens, &PushMessage{
		Title: content.Title,
		Body:  content.Body,
		Data:  payloadData(content.Payload),
	})

	return &model.SendResult{
		SentCount:    sent,
		FailedCount:  failed,
		TotalDevices: len(tokens),
		Notification: notification,
	}, nil
}

// SendBulk creates one notification row per recipient and performs a single
// batched fan-out across all their tokens. Per-recipient persistence and
// per-token failure isolation match Send.
func (s *Service) SendBulk(ctx context.Context, recipientIDs []uuid.UUID, notifType model.NotificationType, content Content) (*model.SendResult, error) {
	stored := make([]uuid.UUID, 0, len(recipientIDs))
	var last *model.Notification
	for _, recipientID := range recipientIDs {
		notification := &model.Notification{
			RecipientID: recipientID,
			Type:        notifType,
			Title:       content.Title,
			Body:        content.Body,
			Payload:     content.Payload,
		}
		if err := s.repo.Create(ctx, notification); err != nil {
			s.logger.Error(err, "failed to store notification", "recipient_id", recipientID.String())
			continue
		}
		s.metrics.NotificationsStored.Inc()
		stored = append(stored, recipientID)
		last = notification
	}
	if len(stored) == 0 {
		return nil, fmt.Errorf("failed to store notifications for all %d recipients", len(recipientIDs))
	}

	tokens, err := s.tokens.ListActiveByUsers(ctx, stored)
	if err != nil {
		s.logger.Error(err, "failed to list device tokens for bulk send")
		tokens = nil
	}

	sent, failed := s.fanOut(ctx, tokens, &PushMessage{
		Title: content.Title,
		Body:  content.Body,
		Data:  payloadData(content.Payload),
	})

	return &model.SendResult{
		SentCount:    sent,
		FailedCount:  failed,
		TotalDevices: len(tokens),
		Notification: last,
	}, nil
}

// fanOut attempts delivery to each token concurrently and waits for every
// attempt to settle. Each attempt gets its own timeout so one hung provider
// call cannot block the aggregate.
func (s *Service) fanOut(ctx context.Context, tokens []*model.DeviceToken, message *PushMessage) (sent, failed int) {
	if len(tokens) == 0 {
		return 0, 0
	}

	results := make(chan error, len(tokens))
	var wg sync.WaitGroup
	for _, token := range tokens {
		wg.Add(1)
		go func(t *model.DeviceToken) {
			defer wg.Done()
			results <- s.pushToToken(ctx, t, message)
		}(token)
	}
	wg.Wait()
	close(results)

	for err := range results {
		if err != nil {
			failed++
		} else {
			sent++
		}
	}
	return sent, failed
}

func (s *Service) pushToToken(ctx context.Context, token *model.DeviceToken, message *PushMessage) error {
	pushCtx, cancel := context.WithTimeout(ctx, s.pushTimeout)
	defer cancel()

	timer := prometheus.NewTimer(s.metrics.PushLatency)
	err := s.provider.SendToToken(pushCtx, token.Token, message)
	timer.ObserveDuration()

	if err == nil {
		s.metrics.PushAttempts.WithLabelValues("success").Inc()
		if touchErr := s.tokens.TouchLastUsed(ctx, token.Token); touchErr != nil {
			s.logger.Debug("failed to touch device token", "token_id", token.ID.String())
		}
		return nil
	}

	s.metrics.PushAttempts.WithLabelValues("failure").Inc()
	if apperrors.Is(err, ErrInvalidToken) {
		if markErr := s.tokens.MarkInvalid(ctx, token.Token); markErr != nil {
			s.logger.Error(markErr, "failed to mark device token invalid", "token_id", token.ID.String())
		}
		s.tokenCache.Delete(token.UserID.String())
	}
	s.logger.Warn("push delivery failed",
		"token_id", token.ID.String(), "user_id", token.UserID.String(), "error", err.Error())
	return apperrors.Provider(token.Token, err)
}

func (s *Service) activeTokens(ctx context.Context, userID uuid.UUID) ([]*model.DeviceToken, error) {
	if cached, ok := s.tokenCache.Get(userID.String()); ok {
		return cached.([]*model.DeviceToken), nil
	}

	tokens, err := s.tokens.ListActiveByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	s.tokenCache.Set(userID.String(), tokens, gocache.DefaultExpiration)
	return tokens, nil
}

// RegisterDevice stores or reactivates a device token for a user.
func (s *Service) RegisterDevice(ctx context.Context, token *model.DeviceToken) error {
	if err := s.tokens.Register(ctx, token); err != nil {
		return fmt.Errorf("failed to register device: %w", err)
	}
	s.tokenCache.Delete(token.UserID.String())
	return nil
}

func (s *Service) List(ctx context.Context, recipientID uuid.UUID, limit, offset int) ([]*model.Notification, error) {
	if limit <= 0 {
		limit = defaultListPageSize
	}
	return s.repo.List(ctx, recipientID, limit, offset)
}

func (s *Service) MarkRead(ctx context.Context, id, recipientID uuid.UUID) error {
	err := s.repo.MarkRead(ctx, id, recipientID)
	if err != nil {
		if apperrors.Is(err, repository.ErrNotFound) {
			return apperrors.NotFound("notification", err)
		}
		return err
	}
	return nil
}

func (s *Service) MarkAllRead(ctx context.Context, recipientID uuid.UUID) (int64, error) {
	return s.repo.MarkAllRead(ctx, recipientID)
}

func (s *Service) UnreadCount(ctx context.Context, recipientID uuid.UUID) (int64, error) {
	return s.repo.UnreadCount(ctx, recipientID)
}

func payloadData(payload json.RawMessage) map[string]string {
	if len(payload) == 0 {
		return nil
	}
	var raw map[string]interface{}
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil
	}
	data := make(map[string]string, len(raw))
	for k, v := range raw {
		data[k] = fmt.Sprint(v)
	}
	return data
}
