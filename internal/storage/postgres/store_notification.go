package postgres

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/eventcore/pipeline/internal/domain"
)

// CreateNotification persists a write-once Notification record. Fan-out
// calls this before acknowledging the originating stream message.
func (s *Store) CreateNotification(ctx context.Context, n domain.Notification) (domain.Notification, error) {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}

	channelsJSON, err := json.Marshal(n.DeliveredChannels)
	if err != nil {
		return domain.Notification{}, err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO notifications (id, recipient, team, kind, title, body, source_ref, priority, is_read, created_at, delivered_channels)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, n.ID, n.Recipient, n.Team, n.Kind, n.Title, n.Body, n.SourceRef, n.Priority, n.IsRead, n.CreatedAt, channelsJSON)
	if err != nil {
		return domain.Notification{}, err
	}
	return n, nil
}

// CountNotificationsSince counts the notifications persisted for recipient
// since the given time, independent of the Redis rate counter.
func (s *Store) CountNotificationsSince(ctx context.Context, recipient string, since time.Time) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT count(*) FROM notifications WHERE recipient = $1 AND created_at >= $2
	`, recipient, since.UTC()).Scan(&count)
	return count, err
}

// GetNotificationPreference resolves channel/enabled preferences for a
// recipient, defaulting to enabled+chat when no row exists.
func (s *Store) GetNotificationPreference(ctx context.Context, recipient string) (domain.NotificationPreference, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT recipient, enabled, channels FROM notification_preferences WHERE recipient = $1
	`, recipient)

	var (
		pref        domain.NotificationPreference
		channelsRaw []byte
	)
	if err := row.Scan(&pref.Recipient, &pref.Enabled, &channelsRaw); err != nil {
		if IsNotFound(err) {
			return domain.NotificationPreference{Recipient: recipient, Enabled: true, Channels: []string{"chat"}}, nil
		}
		return domain.NotificationPreference{}, err
	}
	_ = json.Unmarshal(channelsRaw, &pref.Channels)
	return pref, nil
}

// UpsertNotificationPreference creates or replaces a recipient's preferences.
func (s *Store) UpsertNotificationPreference(ctx context.Context, pref domain.NotificationPreference) error {
	channelsJSON, err := json.Marshal(pref.Channels)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO notification_preferences (recipient, enabled, channels)
		VALUES ($1, $2, $3)
		ON CONFLICT (recipient) DO UPDATE SET enabled = EXCLUDED.enabled, channels = EXCLUDED.channels
	`, pref.Recipient, pref.Enabled, channelsJSON)
	return err
}
