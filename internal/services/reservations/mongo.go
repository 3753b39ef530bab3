package reservations

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"atabat-scraper/internal/errcode"
	"atabat-scraper/internal/models"
)

const collection = "reservations"

type MongoRepository struct {
	coll *mongo.Collection
}

func NewMongoRepository(db *mongo.Database) *MongoRepository {
	return &MongoRepository{coll: db.Collection(collection)}
}

func (m *MongoRepository) Insert(ctx context.Context, r models.Reservation) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if _, err := m.coll.InsertOne(ctx, r); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return errcode.Wrap(errcode.InvalidParams, "reservation "+r.ID+" already exists", err)
		}
		return fmt.Errorf("failed to insert reservation: %w", err)
	}
	return nil
}

func (m *MongoRepository) Get(ctx context.Context, id string) (models.Reservation, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var r models.Reservation
	err := m.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&r)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return r, notFound(id)
	}
	if err != nil {
		return r, fmt.Errorf("failed to load reservation: %w", err)
	}
	return r, nil
}

func (m *MongoRepository) List(ctx context.Context) ([]models.Reservation, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	cur, err := m.coll.Find(ctx, bson.M{}, options.Find().SetSort(bson.D{{Key: "createdAt", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("failed to list reservations: %w", err)
	}
	out := []models.Reservation{}
	if err := cur.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("failed to decode reservations: %w", err)
	}
	return out, nil
}

func (m *MongoRepository) ApplyValidation(ctx context.Context, id string, u models.ValidationUpdate) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	set := bson.M{"lastValidatedAt": u.LastValidatedAt, "updatedAt": time.Now()}
	if u.Status != nil {
		set["status"] = *u.Status
	}
	res, err := m.coll.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": set})
	if err != nil {
		return fmt.Errorf("failed to update reservation: %w", err)
	}
	if res.MatchedCount == 0 {
		return notFound(id)
	}
	return nil
}
