package services

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"sync"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"plot-server/models"
	"plot-server/utils/logger"
)

// ListingStore is the read side of the listings collection.
type ListingStore interface {
	QueryAll(ctx context.Context) ([]models.Listing, error)
	// QueryByTagsAny returns listings having at least one of tags.
	QueryByTagsAny(ctx context.Context, tags []string) ([]models.Listing, error)
	FindByIDs(ctx context.Context, ids []string) ([]models.Listing, error)
	// Subscribe delivers the full listing set once immediately and again after
	// every change, in order, until the returned cancel func is called.
	Subscribe(ctx context.Context, fn func([]models.Listing)) (cancel func(), err error)
}

type MongoListingStore struct {
	collection *mongo.Collection
	log        *logger.Logger
}

func NewMongoListingStore(collection *mongo.Collection, log *logger.Logger) *MongoListingStore {
	return &MongoListingStore{collection: collection, log: log}
}

// ConnectMongo opens a client and pings the server.
func ConnectMongo(ctx context.Context, uri string) (*mongo.Client, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, err
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, err
	}
	return client, nil
}

// tagFilter builds the store-level predicate. It only narrows to listings
// sharing any tag; callers still have to check for all of them.
func tagFilter(tags []string) bson.M {
	if len(tags) == 0 {
		return bson.M{}
	}
	return bson.M{"amenities": bson.M{"$in": tags}}
}

// Results are sorted by _id so identical queries return identical order.
func (s *MongoListingStore) find(ctx context.Context, filter bson.M) ([]models.Listing, error) {
	opts := options.Find().SetSort(bson.D{{Key: "_id", Value: 1}})
	cursor, err := s.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	listings := []models.Listing{}
	if err := cursor.All(ctx, &listings); err != nil {
		return nil, err
	}
	return listings, nil
}

func (s *MongoListingStore) QueryAll(ctx context.Context) ([]models.Listing, error) {
	return s.find(ctx, bson.M{})
}

func (s *MongoListingStore) QueryByTagsAny(ctx context.Context, tags []string) ([]models.Listing, error) {
	return s.find(ctx, tagFilter(tags))
}

// idFilter matches both ObjectID and plain string ids.
func idFilter(ids []string) bson.M {
	values := make([]any, 0, len(ids)*2)
	for _, id := range ids {
		values = append(values, id)
		if oid, err := primitive.ObjectIDFromHex(id); err == nil {
			values = append(values, oid)
		}
	}
	return bson.M{"_id": bson.M{"$in": values}}
}

func (s *MongoListingStore) FindByIDs(ctx context.Context, ids []string) ([]models.Listing, error) {
	if len(ids) == 0 {
		return []models.Listing{}, nil
	}
	return s.find(ctx, idFilter(ids))
}

// Subscribe needs a replica set; a standalone server rejects change streams.
func (s *MongoListingStore) Subscribe(ctx context.Context, fn func([]models.Listing)) (func(), error) {
	ctx, cancel := context.WithCancel(ctx)

	stream, err := s.collection.Watch(ctx, mongo.Pipeline{})
	if err != nil {
		cancel()
		return nil, err
	}
	initial, err := s.QueryAll(ctx)
	if err != nil {
		_ = stream.Close(context.Background())
		cancel()
		return nil, err
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		defer stream.Close(context.Background())

		fn(initial)
		for stream.Next(ctx) {
			listings, err := s.QueryAll(ctx)
			if err != nil {
				if ctx.Err() == nil {
					s.log.DatabaseError("listings_snapshot", err)
				}
				continue
			}
			fn(listings)
		}
		if err := stream.Err(); err != nil && ctx.Err() == nil {
			s.log.DatabaseError("listings_watch", err)
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			<-done
		})
	}, nil
}

// SeedIfEmpty loads listings from a JSON file when the collection is empty.
// A missing file is not an error.
func (s *MongoListingStore) SeedIfEmpty(ctx context.Context, path string) (int, error) {
	count, err := s.collection.CountDocuments(ctx, bson.M{})
	if err != nil {
		return 0, err
	}
	if count > 0 {
		return 0, nil
	}

	listings, err := readSeedFile(path)
	if errors.Is(err, os.ErrNotExist) {
		s.log.Info("no seed file found, starting with empty listings", "path", path)
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	if len(listings) == 0 {
		return 0, nil
	}

	docs := make([]any, 0, len(listings))
	for _, l := range listings {
		docs = append(docs, l)
	}
	result, err := s.collection.InsertMany(ctx, docs)
	if err != nil {
		return 0, err
	}
	s.log.Info("seeded listings", "count", len(result.InsertedIDs), "path", path)
	return len(result.InsertedIDs), nil
}

func readSeedFile(path string) ([]models.Listing, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var listings []models.Listing
	if err := json.NewDecoder(file).Decode(&listings); err != nil {
		return nil, err
	}
	return listings, nil
}
