package notifications

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/emergent-company/tether/domain/relationships"
	"github.com/emergent-company/tether/internal/config"
	"github.com/emergent-company/tether/pkg/logger"
)

var deliveriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "tether_notifications_total",
	Help: "Notification deliveries by event and result",
}, []string{"event", "result"})

// Service persists notifications, pushes them to open streams and serves
// them back to users.
type Service struct {
	repo     *Repository
	hub      *Hub
	email    *EmailChannel
	timeout  time.Duration
	inFlight chan struct{}
	wg       sync.WaitGroup
	now      func() time.Time
	log      *slog.Logger
}

// NewService creates a new notifications service
func NewService(repo *Repository, cfg *config.Config, log *slog.Logger) *Service {
	timeout := cfg.Notifications.DeliveryTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	maxInFlight := cfg.Notifications.MaxInFlight
	if maxInFlight <= 0 {
		maxInFlight = 256
	}
	return &Service{
		repo:     repo,
		hub:      NewHub(),
		timeout:  timeout,
		inFlight: make(chan struct{}, maxInFlight),
		now:      func() time.Time { return time.Now().UTC() },
		log:      log.With(logger.Scope("notifications.svc")),
	}
}

var _ relationships.Notifier = (*Service)(nil)

// WithEmail mails the events ch wants after they are stored. A nil channel
// disables email.
func (s *Service) WithEmail(ch *EmailChannel) *Service {
	s.email = ch
	return s
}

// Notify stores the notification in the background. The caller's
// cancellation does not abort delivery; failures are logged and counted.
func (s *Service) Notify(ctx context.Context, userID, event string, payload map[string]any) {
	select {
	case s.inFlight <- struct{}{}:
	default:
		deliveriesTotal.WithLabelValues(event, "dropped").Inc()
		s.log.Warn("notification dropped, too many in flight",
			slog.String("user_id", userID),
			slog.String("event", event))
		return
	}

	if payload == nil {
		payload = map[string]any{}
	}
	n := &Notification{
		ID:        uuid.NewString(),
		UserID:    userID,
		Event:     event,
		Payload:   payload,
		CreatedAt: s.now(),
	}

	dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
	s.wg.Add(1)
	go func() {
		defer func() {
			cancel()
			<-s.inFlight
			s.wg.Done()
		}()

		if err := s.repo.Create(dctx, n); err != nil {
			deliveriesTotal.WithLabelValues(event, "failed").Inc()
			s.log.Error("notification delivery failed",
				slog.String("user_id", userID),
				slog.String("event", event),
				logger.Error(err))
			return
		}
		deliveriesTotal.WithLabelValues(event, "delivered").Inc()

		if _, dropped := s.hub.Publish(*n); dropped > 0 {
			deliveriesTotal.WithLabelValues(event, "stream_dropped").Add(float64(dropped))
		}

		if s.email.Wants(event) {
			s.sendEmail(context.WithoutCancel(ctx), n)
		}
	}()
}

func (s *Service) sendEmail(ctx context.Context, n *Notification) {
	err := s.email.Deliver(ctx, n)
	switch {
	case errors.Is(err, ErrNoAddress):
		deliveriesTotal.WithLabelValues(n.Event, "email_skipped").Inc()
	case err != nil:
		deliveriesTotal.WithLabelValues(n.Event, "email_failed").Inc()
		s.log.Error("notification email failed",
			slog.String("user_id", n.UserID),
			slog.String("event", n.Event),
			logger.Error(err))
	default:
		deliveriesTotal.WithLabelValues(n.Event, "emailed").Inc()
	}
}

// Subscribe opens a live stream of userID's new notifications.
func (s *Service) Subscribe(userID string) (<-chan Notification, func()) {
	return s.hub.Subscribe(userID)
}

// Wait blocks until in-flight deliveries finish or ctx is done.
func (s *Service) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Purge removes read notifications older than the retention window.
func (s *Service) Purge(ctx context.Context, retention time.Duration) (int64, error) {
	return s.repo.DeleteReadBefore(ctx, s.now().Add(-retention))
}

// GetStats returns notification statistics for a user
func (s *Service) GetStats(ctx context.Context, userID string) (*NotificationStats, error) {
	return s.repo.GetStats(ctx, userID)
}

// ListForUser returns notifications for a user with filters
func (s *Service) ListForUser(ctx context.Context, userID string, params ListParams) ([]Notification, error) {
	return s.repo.List(ctx, userID, params)
}

// MarkRead marks a notification as read
func (s *Service) MarkRead(ctx context.Context, userID, notificationID string) error {
	return s.repo.MarkRead(ctx, userID, notificationID)
}

// MarkAllRead marks all notifications as read for a user
func (s *Service) MarkAllRead(ctx context.Context, userID string) (int64, error) {
	return s.repo.MarkAllRead(ctx, userID)
}
