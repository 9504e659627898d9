// internal/questions/store.go
package questions

import (
	"context"
	"fmt"
	"os"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/scibowl/scibowl/internal/models"
)

// Store serves science bowl questions from a Mongo collection.
type Store struct {
	collection *mongo.Collection
}

// Connect dials Mongo using environment variables and returns a store over
// the questions collection:
//   - MONGO_URI (default "mongodb://localhost:27017")
//   - MONGO_DB (default "scibowl")
func Connect(ctx context.Context) (*Store, error) {
	uri := os.Getenv("MONGO_URI")
	if uri == "" {
		uri = "mongodb://localhost:27017"
	}
	dbName := os.Getenv("MONGO_DB")
	if dbName == "" {
		dbName = "scibowl"
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Mongo at %s: %w", uri, err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("failed to ping Mongo at %s: %w", uri, err)
	}

	return NewStore(client.Database(dbName).Collection("questions")), nil
}

// NewStore wraps an existing collection, typically for tests.
func NewStore(collection *mongo.Collection) *Store {
	return &Store{collection: collection}
}

// MatchFilter translates a Filter into the $match document. The tossup
// constraint is only applied alongside at least one other constraint, so an
// unfiltered draw samples the whole collection.
func MatchFilter(f models.Filter) bson.M {
	match := bson.M{}
	if len(f.Subjects) > 0 {
		match["subject"] = bson.M{"$in": f.Subjects}
	}
	if len(f.Competitions) > 0 {
		match["competition"] = bson.M{"$in": f.Competitions}
	}
	if len(f.Years) > 0 {
		match["year"] = bson.M{"$in": f.Years}
	}
	if f.IsMcq != nil {
		match["is_mcq"] = *f.IsMcq
	}
	if f.IsTossup != nil && len(match) > 0 {
		match["is_tossup"] = *f.IsTossup
	}
	return match
}

// Random draws up to n questions matching the filter, sampled uniformly.
// Zero results is a valid outcome, not an error.
func (s *Store) Random(ctx context.Context, f models.Filter, n int) ([]models.Question, error) {
	if n <= 0 {
		n = 1
	}
	if f.MaxReturnLength > 0 && n > f.MaxReturnLength {
		n = f.MaxReturnLength
	}

	pipeline := mongo.Pipeline{
		bson.D{{Key: "$match", Value: MatchFilter(f)}},
		bson.D{{Key: "$sample", Value: bson.M{"size": n}}},
	}
	cursor, err := s.collection.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("failed to sample questions: %w", err)
	}
	defer cursor.Close(ctx)

	var qs []models.Question
	if err := cursor.All(ctx, &qs); err != nil {
		return nil, fmt.Errorf("failed to decode questions: %w", err)
	}
	return qs, nil
}

// Packet returns the questions of one named packet in question order.
func (s *Store) Packet(ctx context.Context, setName string, packetNumber int) ([]models.Question, error) {
	filter := bson.M{
		"set_name":      setName,
		"packet_number": packetNumber,
	}
	opts := options.Find().SetSort(bson.D{{Key: "question_number", Value: 1}})
	cursor, err := s.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to load packet %s/%d: %w", setName, packetNumber, err)
	}
	defer cursor.Close(ctx)

	var qs []models.Question
	if err := cursor.All(ctx, &qs); err != nil {
		return nil, fmt.Errorf("failed to decode packet %s/%d: %w", setName, packetNumber, err)
	}
	return qs, nil
}
