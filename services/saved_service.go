package services

import (
	"context"
	"slices"

	"github.com/redis/go-redis/v9"

	"plot-server/models"
	apierrors "plot-server/utils/errors"
	"plot-server/utils/logger"
)

// SavedService keeps each user's saved listing ids in a Redis set.
type SavedService struct {
	redisClient *redis.Client
	store       ListingStore
	log         *logger.Logger
}

func NewSavedService(redisClient *redis.Client, store ListingStore, log *logger.Logger) *SavedService {
	return &SavedService{redisClient: redisClient, store: store, log: log}
}

func savedKey(userID string) string {
	return "saved:" + userID
}

// toggleSavedScript removes the id if present, otherwise adds it, and
// returns 1 when the id ends up saved.
var toggleSavedScript = redis.NewScript(`
if redis.call("SREM", KEYS[1], ARGV[1]) == 1 then
	return 0
end
redis.call("SADD", KEYS[1], ARGV[1])
return 1
`)

// Toggle saves the listing, or unsaves it if it was saved. It reports the new
// state. The flip itself is a single script call.
func (s *SavedService) Toggle(ctx context.Context, userID, listingID string) (bool, error) {
	key := savedKey(userID)
	member, err := s.redisClient.SIsMember(ctx, key, listingID).Result()
	if err != nil {
		return false, err
	}
	if !member {
		found, err := s.store.FindByIDs(ctx, []string{listingID})
		if err != nil {
			s.log.DatabaseError("find_listing", err)
			return false, err
		}
		if len(found) == 0 {
			return false, apierrors.ErrNotFound.WithDetails("listing " + listingID)
		}
	}

	saved, err := toggleSavedScript.Run(ctx, s.redisClient, []string{key}, listingID).Int()
	if err != nil {
		return false, err
	}
	s.log.Debug("saved listing toggled", "user_id", userID, "listing_id", listingID, "saved", saved == 1)
	return saved == 1, nil
}

// List returns the user's saved listings in store order. Ids whose listing
// no longer exists are dropped from the set.
func (s *SavedService) List(ctx context.Context, userID string) ([]models.Listing, error) {
	ids, err := s.redisClient.SMembers(ctx, savedKey(userID)).Result()
	if err != nil {
		return nil, err
	}
	listings, err := s.store.FindByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}

	if len(listings) < len(ids) {
		var stale []any
		for _, id := range ids {
			if !slices.ContainsFunc(listings, func(l models.Listing) bool { return l.ID == id }) {
				stale = append(stale, id)
			}
		}
		if err := s.redisClient.SRem(ctx, savedKey(userID), stale...).Err(); err != nil {
			s.log.Warn("failed to prune saved listings", "user_id", userID, "error", err)
		}
	}
	return listings, nil
}
