package ledger

import (
	"context"

	"github.com/EXCurryBar/mybot/internal/models"
	"github.com/EXCurryBar/mybot/internal/storage"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoStore keeps records in the records collection.
type MongoStore struct {
	coll *mongo.Collection
}

func NewMongoStore(db *mongo.Database) *MongoStore {
	return &MongoStore{coll: db.Collection(storage.LedgerCollection)}
}

func (s *MongoStore) Insert(ctx context.Context, rec *models.Record) error {
	if _, err := s.coll.InsertOne(ctx, rec); err != nil {
		return unavailable("insert record", err)
	}
	return nil
}

func (s *MongoStore) Find(ctx context.Context, f Filter) ([]*models.Record, error) {
	match := bson.M{"user_id": f.Owner}
	if f.Year != nil {
		match["year"] = *f.Year
	}
	if f.Month != nil {
		match["month"] = *f.Month
	}
	if f.Kind != "" {
		match["type"] = string(f.Kind)
	}
	opts := options.Find().SetSort(bson.D{
		{Key: "year", Value: 1}, {Key: "month", Value: 1}, {Key: "day", Value: 1}, {Key: "created_at", Value: 1},
	})
	cur, err := s.coll.Find(ctx, match, opts)
	if err != nil {
		return nil, unavailable("query records", err)
	}
	var recs []*models.Record
	if err := cur.All(ctx, &recs); err != nil {
		return nil, unavailable("decode records", err)
	}
	return recs, nil
}

func (s *MongoStore) SumByKind(ctx context.Context, owner string, year, month int) (map[models.Kind]float64, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.M{"user_id": owner, "year": year, "month": month}}},
		{{Key: "$group", Value: bson.M{"_id": "$type", "total": bson.M{"$sum": "$amount"}}}},
	}
	cur, err := s.coll.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, unavailable("aggregate records", err)
	}
	var rows []struct {
		Kind  string  `bson:"_id"`
		Total float64 `bson:"total"`
	}
	if err := cur.All(ctx, &rows); err != nil {
		return nil, unavailable("decode aggregate", err)
	}
	sums := make(map[models.Kind]float64, len(rows))
	for _, r := range rows {
		sums[models.Kind(r.Kind)] = r.Total
	}
	return sums, nil
}
