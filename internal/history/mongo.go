package history

import (
	"context"
	"time"

	"github.com/EXCurryBar/mybot/internal/models"
	"github.com/EXCurryBar/mybot/internal/storage"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type mongoMessage struct {
	ID        primitive.ObjectID `bson:"_id,omitempty"`
	SessionID string             `bson:"session_id"`
	Role      string             `bson:"role"`
	Content   string             `bson:"content"`
	CreatedAt time.Time          `bson:"created_at"`
}

// MongoStore keeps history in the chat_records collection. ObjectIDs give the append order.
type MongoStore struct {
	coll   *mongo.Collection
	window int
	now    func() time.Time
}

func NewMongoStore(db *mongo.Database, window int) *MongoStore {
	if window <= 0 {
		window = DefaultWindow
	}
	return &MongoStore{coll: db.Collection(storage.HistoryCollection), window: window, now: time.Now}
}

func (s *MongoStore) Append(ctx context.Context, key string, role models.Role, content string) error {
	doc := mongoMessage{
		ID:        primitive.NewObjectID(),
		SessionID: key,
		Role:      string(role),
		Content:   content,
		CreatedAt: s.now().UTC(),
	}
	if _, err := s.coll.InsertOne(ctx, doc); err != nil {
		return unavailable("insert message", err)
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "_id", Value: -1}}).
		SetSkip(int64(s.window)).
		SetProjection(bson.M{"_id": 1})
	cur, err := s.coll.Find(ctx, bson.M{"session_id": key}, opts)
	if err != nil {
		return unavailable("find overflow", err)
	}
	var stale []mongoMessage
	if err := cur.All(ctx, &stale); err != nil {
		return unavailable("decode overflow", err)
	}
	if len(stale) == 0 {
		return nil
	}
	ids := make([]primitive.ObjectID, 0, len(stale))
	for _, m := range stale {
		ids = append(ids, m.ID)
	}
	if _, err := s.coll.DeleteMany(ctx, bson.M{"_id": bson.M{"$in": ids}}); err != nil {
		return unavailable("trim history", err)
	}
	return nil
}

func (s *MongoStore) Read(ctx context.Context, key string) ([]*models.Message, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "_id", Value: -1}}).
		SetLimit(int64(s.window))
	cur, err := s.coll.Find(ctx, bson.M{"session_id": key}, opts)
	if err != nil {
		return nil, unavailable("query history", err)
	}
	var docs []mongoMessage
	if err := cur.All(ctx, &docs); err != nil {
		return nil, unavailable("decode history", err)
	}
	msgs := make([]*models.Message, 0, len(docs))
	for _, d := range docs {
		msgs = append(msgs, &models.Message{
			SessionKey: d.SessionID,
			Role:       models.Role(d.Role),
			Content:    d.Content,
			CreatedAt:  d.CreatedAt,
		})
	}
	reverse(msgs)
	return msgs, nil
}
