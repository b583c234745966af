package storage

import (
	"encoding/json"
	"errors"
	"log"

	"privacydesk/backend/internal/config"
	"privacydesk/backend/internal/models"

	"github.com/redis/go-redis/v9"
)

// UpsertPresence writes a user's presence record into the Redis hash. Keyed
// per user, last heartbeat wins across devices.
func (s *Service) UpsertPresence(rec models.PresenceRecord) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	if err := s.Redis.HSet(s.Ctx, config.PresenceKey, rec.UserID, string(payload)).Err(); err != nil {
		log.Printf("ERROR: Failed to upsert presence for %s: %v", rec.UserID, err)
		return err
	}

	return s.PublishEvent(models.FeedEvent{
		Kind:     models.EventPresenceChanged,
		EntityID: rec.UserID,
		ActorID:  rec.UserID,
		At:       rec.LastSeen,
	})
}

// GetPresence loads one user's presence record. Returns nil without error
// when the user has never heartbeated.
func (s *Service) GetPresence(userID string) (*models.PresenceRecord, error) {
	raw, err := s.Redis.HGet(s.Ctx, config.PresenceKey, userID).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var rec models.PresenceRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// ListPresence returns every stored presence record. Staleness filtering is
// the caller's job: records persist past the freshness window until the next
// heartbeat overwrites them.
func (s *Service) ListPresence() ([]models.PresenceRecord, error) {
	raw, err := s.Redis.HGetAll(s.Ctx, config.PresenceKey).Result()
	if err != nil {
		return nil, err
	}

	records := make([]models.PresenceRecord, 0, len(raw))
	for userID, payload := range raw {
		var rec models.PresenceRecord
		if err := json.Unmarshal([]byte(payload), &rec); err != nil {
			log.Printf("WARNING: Skipping malformed presence record for %s: %v", userID, err)
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}
