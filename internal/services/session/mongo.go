package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"atabat-scraper/internal/models"
)

const (
	configCollection = "kargozar_config"
	configID         = "kargozar-config"
)

// MongoStore keeps the session in the single kargozar-config document.
type MongoStore struct {
	coll *mongo.Collection
}

func NewMongoStore(db *mongo.Database) *MongoStore {
	return &MongoStore{coll: db.Collection(configCollection)}
}

func newContext(parent context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, timeout)
}

func (m *MongoStore) Load(ctx context.Context) (models.SessionState, bool, error) {
	ctx, cancel := newContext(ctx, 5*time.Second)
	defer cancel()

	var state models.SessionState
	err := m.coll.FindOne(ctx, bson.M{"_id": configID}).Decode(&state)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return state, false, nil
	}
	if err != nil {
		return state, false, fmt.Errorf("failed to load session: %w", err)
	}
	return state, true, nil
}

func (m *MongoStore) set(ctx context.Context, fields bson.M) error {
	ctx, cancel := newContext(ctx, 5*time.Second)
	defer cancel()

	_, err := m.coll.UpdateOne(ctx,
		bson.M{"_id": configID},
		bson.M{"$set": fields},
		options.Update().SetUpsert(true),
	)
	return err
}

func (m *MongoStore) SaveCookies(ctx context.Context, cookies []models.Cookie, at time.Time) error {
	err := m.set(ctx, bson.M{
		"cookiesData":     cookies,
		"cookiesExpireAt": at.Add(models.CookieLifetime),
		"lastAuthAt":      at,
	})
	if err != nil {
		return fmt.Errorf("failed to save cookies: %w", err)
	}
	return nil
}

func (m *MongoStore) SaveOTP(ctx context.Context, otp string, at time.Time) error {
	if err := m.set(ctx, bson.M{"currentOTP": otp, "otpLastUpdated": at}); err != nil {
		return fmt.Errorf("failed to save otp: %w", err)
	}
	return nil
}

// SetCaptchaMaxAttempts stores the CAPTCHA budget read by the authenticator.
func (m *MongoStore) SetCaptchaMaxAttempts(ctx context.Context, n int) error {
	return m.set(ctx, bson.M{"captchaMaxAttempts": n})
}
