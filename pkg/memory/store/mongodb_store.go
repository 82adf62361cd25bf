package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/synaptiq/engram/pkg/memory/model"
)

// MongoStore keeps records in a MongoDB collection. Vector search happens
// client side: candidate documents are fetched with ordinary filters and
// ranked in process with cosine similarity. That trades query cost for zero
// server-side dependencies (no Atlas vector index required).
type MongoStore struct {
	client     *mongo.Client
	collection *mongo.Collection
}

const mongoCloseTimeout = 5 * time.Second

func NewMongoStore(ctx context.Context, uri, database, collection string) (*MongoStore, error) {
	if uri == "" {
		return nil, errors.New("mongo uri is required")
	}
	if database == "" {
		return nil, errors.New("mongo database name is required")
	}
	if collection == "" {
		collection = "engram_memories"
	}
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("%w: mongo connect: %v", ErrUnavailable, err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("%w: mongo ping: %v", ErrUnavailable, err)
	}
	return &MongoStore{
		client:     client,
		collection: client.Database(database).Collection(collection),
	}, nil
}

// CreateSchema ensures the indexes the tier and entity filters rely on.
func (ms *MongoStore) CreateSchema(ctx context.Context, _ string) error {
	if ms == nil || ms.collection == nil {
		return nil
	}
	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "tier", Value: 1}, {Key: "created_at", Value: -1}},
			Options: options.Index().SetName("tier_created_at"),
		},
		{
			Keys:    bson.D{{Key: "entities", Value: 1}},
			Options: options.Index().SetName("entities"),
		},
		{
			Keys:    bson.D{{Key: "session_id", Value: 1}},
			Options: options.Index().SetName("session_id"),
		},
	}
	if _, err := ms.collection.Indexes().CreateMany(ctx, indexes); err != nil {
		return fmt.Errorf("%w: mongo indexes: %v", ErrUnavailable, err)
	}
	return nil
}

func (ms *MongoStore) Upsert(ctx context.Context, rec model.MemoryRecord) error {
	doc := bson.M{
		"_id":              rec.ID,
		"body":             rec.Text,
		"embedding":        float64Embedding(rec.Embedding),
		"tier":             string(rec.Tier),
		"entities":         rec.Entities,
		"category":         rec.Category,
		"polarity":         int32(rec.Polarity),
		"session_id":       rec.SessionID,
		"created_at":       rec.CreatedAt.UTC(),
		"last_accessed_at": rec.LastAccessedAt.UTC(),
		"strength":         rec.Strength,
		"generation":       rec.Generation,
	}
	opts := options.Replace().SetUpsert(true)
	if _, err := ms.collection.ReplaceOne(ctx, bson.M{"_id": rec.ID}, doc, opts); err != nil {
		return fmt.Errorf("%w: mongo upsert: %v", ErrUnavailable, err)
	}
	return nil
}

func (ms *MongoStore) Query(ctx context.Context, tier model.Tier, embedding []float32, k int) ([]model.MemoryRecord, error) {
	if ms == nil || ms.collection == nil || k <= 0 {
		return nil, nil
	}
	records, err := ms.find(ctx, bson.M{"tier": string(tier)}, nil)
	if err != nil {
		return nil, err
	}
	for i := range records {
		records[i].Score = model.CosineSimilarity(embedding, records[i].Embedding)
	}
	sort.Slice(records, func(i, j int) bool { return records[i].Score > records[j].Score })
	if len(records) > k {
		records = records[:k]
	}
	return records, nil
}

func (ms *MongoStore) Get(ctx context.Context, id string) (model.MemoryRecord, error) {
	var doc mongoMemoryDocument
	err := ms.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return model.MemoryRecord{}, ErrNotFound
	}
	if err != nil {
		return model.MemoryRecord{}, fmt.Errorf("%w: mongo get: %v", ErrUnavailable, err)
	}
	return doc.toRecord(), nil
}

func (ms *MongoStore) Delete(ctx context.Context, ids ...string) error {
	if ms == nil || ms.collection == nil || len(ids) == 0 {
		return nil
	}
	if _, err := ms.collection.DeleteMany(ctx, bson.M{"_id": bson.M{"$in": ids}}); err != nil {
		return fmt.Errorf("%w: mongo delete: %v", ErrUnavailable, err)
	}
	return nil
}

func (ms *MongoStore) ByEntity(ctx context.Context, tier model.Tier, entity string, limit int) ([]model.MemoryRecord, error) {
	if limit <= 0 {
		return nil, nil
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}}).
		SetLimit(int64(limit))
	return ms.find(ctx, bson.M{"tier": string(tier), "entities": entity}, opts)
}

func (ms *MongoStore) Recent(ctx context.Context, tier model.Tier, limit int) ([]model.MemoryRecord, error) {
	if limit <= 0 {
		return nil, nil
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}}).
		SetLimit(int64(limit))
	return ms.find(ctx, bson.M{"tier": string(tier)}, opts)
}

func (ms *MongoStore) Iterate(ctx context.Context, fn func(model.MemoryRecord) bool) error {
	if ms == nil || ms.collection == nil {
		return nil
	}
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}})
	cursor, err := ms.collection.Find(ctx, bson.M{}, opts)
	if err != nil {
		return fmt.Errorf("%w: mongo iterate: %v", ErrUnavailable, err)
	}
	defer cursor.Close(ctx)
	for cursor.Next(ctx) {
		var doc mongoMemoryDocument
		if err := cursor.Decode(&doc); err != nil {
			return fmt.Errorf("%w: mongo decode: %v", ErrUnavailable, err)
		}
		if !fn(doc.toRecord()) {
			break
		}
	}
	if err := cursor.Err(); err != nil {
		return fmt.Errorf("%w: mongo cursor: %v", ErrUnavailable, err)
	}
	return nil
}

func (ms *MongoStore) Count(ctx context.Context, tier model.Tier) (int, error) {
	if ms == nil || ms.collection == nil {
		return 0, nil
	}
	count, err := ms.collection.CountDocuments(ctx, bson.M{"tier": string(tier)})
	if err != nil {
		return 0, fmt.Errorf("%w: mongo count: %v", ErrUnavailable, err)
	}
	return int(count), nil
}

func (ms *MongoStore) Close() error {
	if ms == nil || ms.client == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), mongoCloseTimeout)
	defer cancel()
	return ms.client.Disconnect(ctx)
}

func (ms *MongoStore) find(ctx context.Context, filter bson.M, opts *options.FindOptions) ([]model.MemoryRecord, error) {
	var cursor *mongo.Cursor
	var err error
	if opts != nil {
		cursor, err = ms.collection.Find(ctx, filter, opts)
	} else {
		cursor, err = ms.collection.Find(ctx, filter)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: mongo find: %v", ErrUnavailable, err)
	}
	defer cursor.Close(ctx)

	var out []model.MemoryRecord
	for cursor.Next(ctx) {
		var doc mongoMemoryDocument
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("%w: mongo decode: %v", ErrUnavailable, err)
		}
		out = append(out, doc.toRecord())
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("%w: mongo cursor: %v", ErrUnavailable, err)
	}
	return out, nil
}

type mongoMemoryDocument struct {
	ID             string    `bson:"_id"`
	Body           string    `bson:"body"`
	Embedding      []float64 `bson:"embedding"`
	Tier           string    `bson:"tier"`
	Entities       []string  `bson:"entities"`
	Category       string    `bson:"category"`
	Polarity       int32     `bson:"polarity"`
	SessionID      string    `bson:"session_id"`
	CreatedAt      time.Time `bson:"created_at"`
	LastAccessedAt time.Time `bson:"last_accessed_at"`
	Strength       float64   `bson:"strength"`
	Generation     int64     `bson:"generation"`
}

func (doc mongoMemoryDocument) toRecord() model.MemoryRecord {
	return model.MemoryRecord{
		ID:             doc.ID,
		Text:           doc.Body,
		Embedding:      float32Embedding(doc.Embedding),
		Tier:           model.ParseTier(doc.Tier),
		Entities:       doc.Entities,
		Category:       doc.Category,
		Polarity:       model.Polarity(doc.Polarity),
		SessionID:      doc.SessionID,
		CreatedAt:      doc.CreatedAt,
		LastAccessedAt: doc.LastAccessedAt,
		Strength:       doc.Strength,
		Generation:     doc.Generation,
	}
}

func float64Embedding(vec []float32) []float64 {
	if len(vec) == 0 {
		return nil
	}
	out := make([]float64, len(vec))
	for i, v := range vec {
		out[i] = float64(v)
	}
	return out
}

func float32Embedding(vec []float64) []float32 {
	if len(vec) == 0 {
		return nil
	}
	out := make([]float32, len(vec))
	for i, v := range vec {
		out[i] = float32(v)
	}
	return out
}
