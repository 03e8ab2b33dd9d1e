package services

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"plot-server/models"
	apierrors "plot-server/utils/errors"
	"plot-server/utils/logger"
)

const usersGeoKey = "users:geo"

// ErrNoLocation is returned when a user has never reported a position.
var ErrNoLocation = errors.New("no location recorded")

// LocationProvider supplies the current coordinate of one user.
type LocationProvider interface {
	RequestPermission(ctx context.Context) (bool, error)
	CurrentCoordinate(ctx context.Context) (models.Coordinate, error)
}

// LocationService stores device positions in a Redis geo set. A ping also
// grants location consent for ttl; once the consent key expires the user is
// treated as having denied access.
type LocationService struct {
	redisClient *redis.Client
	ttl         time.Duration
	log         *logger.Logger
}

func NewLocationService(redisClient *redis.Client, ttl time.Duration, log *logger.Logger) *LocationService {
	return &LocationService{redisClient: redisClient, ttl: ttl, log: log}
}

func consentKey(userID string) string {
	return "location:consent:" + userID
}

// Ping records the user's position and refreshes consent.
func (s *LocationService) Ping(ctx context.Context, userID string, coord models.Coordinate) error {
	if !coord.Valid() {
		return apierrors.ErrInvalidLocation
	}

	_, err := s.redisClient.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.GeoAdd(ctx, usersGeoKey, &redis.GeoLocation{
			Name:      userID,
			Longitude: coord.Longitude,
			Latitude:  coord.Latitude,
		})
		pipe.Set(ctx, consentKey(userID), "granted", s.ttl)
		return nil
	})
	if err != nil {
		s.log.Error("failed to store location", "user_id", userID, "error", err)
		return err
	}

	s.log.Debug("location updated", "user_id", userID, "lat", coord.Latitude, "lon", coord.Longitude)
	return nil
}

// Revoke withdraws consent and forgets the stored position.
func (s *LocationService) Revoke(ctx context.Context, userID string) error {
	_, err := s.redisClient.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, consentKey(userID))
		pipe.ZRem(ctx, usersGeoKey, userID)
		return nil
	})
	return err
}

// ForUser returns a provider bound to one user.
func (s *LocationService) ForUser(userID string) LocationProvider {
	return &userLocation{service: s, userID: userID}
}

type userLocation struct {
	service *LocationService
	userID  string
}

func (u *userLocation) RequestPermission(ctx context.Context) (bool, error) {
	n, err := u.service.redisClient.Exists(ctx, consentKey(u.userID)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (u *userLocation) CurrentCoordinate(ctx context.Context) (models.Coordinate, error) {
	positions, err := u.service.redisClient.GeoPos(ctx, usersGeoKey, u.userID).Result()
	if err != nil {
		return models.Coordinate{}, err
	}
	if len(positions) == 0 || positions[0] == nil {
		return models.Coordinate{}, ErrNoLocation
	}
	return models.Coordinate{Latitude: positions[0].Latitude, Longitude: positions[0].Longitude}, nil
}
