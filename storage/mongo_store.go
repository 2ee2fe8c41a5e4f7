package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"listing-harvester/models"
	"listing-harvester/utils"
)

// MongoStore upserts listings into a MongoDB collection keyed by external_id.
type MongoStore struct {
	client   *mongo.Client
	listings *mongo.Collection
	logger   *utils.Logger
}

// OpenMongo connects to uri and makes sure the unique external_id index exists.
func OpenMongo(ctx context.Context, uri, database, collection string, logger *utils.Logger) (*MongoStore, error) {
	cctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(cctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("mongo: connect: %w", err)
	}
	if err := client.Ping(cctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("mongo: ping: %w", err)
	}

	m := &MongoStore{
		client:   client,
		listings: client.Database(database).Collection(collection),
		logger:   logger,
	}
	if err := m.createIndexes(cctx); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("mongo: create indexes: %w", err)
	}
	return m, nil
}

func (m *MongoStore) createIndexes(ctx context.Context) error {
	_, err := m.listings.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "external_id", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "category", Value: 1}}},
		{Keys: bson.D{{Key: "quality_score", Value: -1}}},
	})
	return err
}

// UpsertBatch runs an unordered bulk write of per-listing upserts. Invalid
// listings are skipped client-side; together with server write errors they
// come back in a *PartialError while the rest are committed.
func (m *MongoStore) UpsertBatch(ctx context.Context, listings []*models.Listing) error {
	if len(listings) == 0 {
		return nil
	}
	failed := make(map[int]error)
	writes := make([]mongo.WriteModel, 0, len(listings))
	// position in writes → index in listings
	origin := make([]int, 0, len(listings))

	for i, l := range listings {
		if err := l.Validate(); err != nil {
			failed[i] = err
			continue
		}
		set, err := setDocument(l)
		if err != nil {
			failed[i] = err
			continue
		}
		writes = append(writes, mongo.NewUpdateOneModel().
			SetFilter(bson.M{"external_id": l.ExternalID}).
			SetUpdate(bson.M{
				"$set":         set,
				"$setOnInsert": bson.M{"first_seen_at": l.FirstSeenAt},
			}).
			SetUpsert(true))
		origin = append(origin, i)
	}

	if len(writes) > 0 {
		_, err := m.listings.BulkWrite(ctx, writes, options.BulkWrite().SetOrdered(false))
		if err != nil {
			var bwe mongo.BulkWriteException
			if !errors.As(err, &bwe) || len(bwe.WriteErrors) == 0 || bwe.WriteConcernError != nil {
				return fmt.Errorf("mongo: bulk upsert: %w", err)
			}
			for _, we := range bwe.WriteErrors {
				if we.Index >= 0 && we.Index < len(origin) {
					failed[origin[we.Index]] = fmt.Errorf("mongo write error %d: %s", we.Code, we.Message)
				}
			}
		}
	}

	if len(failed) > 0 {
		return &PartialError{Failed: failed}
	}
	return nil
}

// setDocument is the listing as a bson map without the fields $set must not
// touch.
func setDocument(l *models.Listing) (bson.M, error) {
	data, err := bson.Marshal(l)
	if err != nil {
		return nil, err
	}
	var doc bson.M
	if err := bson.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	delete(doc, "_id")
	delete(doc, "first_seen_at")
	return doc, nil
}

func (m *MongoStore) ListKnownIDs(ctx context.Context) (map[string]struct{}, error) {
	values, err := m.listings.Distinct(ctx, "external_id", bson.D{})
	if err != nil {
		return nil, fmt.Errorf("mongo: distinct ids: %w", err)
	}
	ids := make(map[string]struct{}, len(values))
	for _, v := range values {
		if s, ok := v.(string); ok {
			ids[s] = struct{}{}
		}
	}
	return ids, nil
}

// FetchAll returns every stored listing ordered by external id.
func (m *MongoStore) FetchAll(ctx context.Context) ([]*models.Listing, error) {
	cursor, err := m.listings.Find(ctx, bson.D{}, options.Find().SetSort(bson.D{{Key: "external_id", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("mongo: find: %w", err)
	}
	defer cursor.Close(ctx)

	var listings []*models.Listing
	if err := cursor.All(ctx, &listings); err != nil {
		return nil, fmt.Errorf("mongo: decode: %w", err)
	}
	return listings, nil
}

func (m *MongoStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return m.client.Disconnect(ctx)
}
