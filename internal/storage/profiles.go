package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"portalchat/backend/internal/models"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

func profileKey(userID string) string {
	return "profile:" + userID
}

// GetProfile reads a profile through the Redis cache.
func (s *Service) GetProfile(ctx context.Context, userID string) (*models.Profile, error) {
	if s.Redis != nil {
		raw, err := s.Redis.Get(ctx, profileKey(userID)).Bytes()
		switch {
		case err == nil:
			var cached models.Profile
			if jsonErr := json.Unmarshal(raw, &cached); jsonErr == nil {
				return &cached, nil
			}
		case !errors.Is(err, redis.Nil):
			s.log.Warn().Err(err).Str("user_id", userID).Msg("profile cache read failed")
		}
	}

	var profile models.Profile
	err := s.DB.WithContext(ctx).Where("user_id = ?", userID).First(&profile).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrProfileNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get profile %s: %w", userID, err)
	}

	if s.Redis != nil && s.ProfileTTL > 0 {
		if raw, err := json.Marshal(profile); err == nil {
			if err := s.Redis.Set(ctx, profileKey(userID), raw, s.ProfileTTL).Err(); err != nil {
				s.log.Warn().Err(err).Str("user_id", userID).Msg("profile cache write failed")
			}
		}
	}
	return &profile, nil
}

// SaveProfile upserts the profile, invalidates its cache entry and signals
// ProfilesTopic.
func (s *Service) SaveProfile(ctx context.Context, profile *models.Profile) error {
	if err := s.DB.WithContext(ctx).Save(profile).Error; err != nil {
		return fmt.Errorf("save profile %s: %w", profile.UserID, err)
	}
	if s.Redis != nil {
		if err := s.Redis.Del(ctx, profileKey(profile.UserID)).Err(); err != nil {
			s.log.Warn().Err(err).Str("user_id", profile.UserID).Msg("profile cache invalidation failed")
		}
	}
	s.publish(ctx, models.ChangeEvent{Kind: models.ChangeProfileSaved, UserID: profile.UserID}, models.ProfilesTopic)
	return nil
}

// ListNotifiableProfiles returns the profiles linked to a Telegram chat.
func (s *Service) ListNotifiableProfiles(ctx context.Context) ([]models.Profile, error) {
	var profiles []models.Profile
	if err := s.DB.WithContext(ctx).Where("telegram_chat_id <> 0").Find(&profiles).Error; err != nil {
		return nil, fmt.Errorf("list notifiable profiles: %w", err)
	}
	return profiles, nil
}
