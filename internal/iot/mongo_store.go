package iot

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/iliyamo/parking-reservation/internal/repository"
)

// MongoStore keeps the IoT collections in one MongoDB database.
type MongoStore struct {
	db *mongo.Database
}

// NewMongoStore uses the named database of client.
func NewMongoStore(client *mongo.Client, database string) *MongoStore {
	return &MongoStore{db: client.Database(database)}
}

// EnsureIndexes creates the indexes the processor and prune queries use.
func (s *MongoStore) EnsureIndexes(ctx context.Context) error {
	byAge := mongo.IndexModel{Keys: bson.D{{Key: "created_at", Value: 1}}}
	for _, q := range []string{EntryQueue, ExitQueue} {
		if _, err := s.db.Collection(q).Indexes().CreateOne(ctx, byAge); err != nil {
			return fmt.Errorf("iot: index %s: %w", q, err)
		}
	}
	_, err := s.db.Collection(ExitQueue).Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "session_id", Value: 1}}},
		{Keys: bson.D{{Key: "action", Value: 1}, {Key: "created_at", Value: 1}}},
	})
	if err != nil {
		return fmt.Errorf("iot: index %s: %w", ExitQueue, err)
	}
	_, err = s.db.Collection(Commands).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "device_id", Value: 1}, {Key: "executed", Value: 1}, {Key: "created_at", Value: 1}},
	})
	if err != nil {
		return fmt.Errorf("iot: index %s: %w", Commands, err)
	}
	_, err = s.db.Collection(DeviceLogs).Indexes().CreateOne(ctx, mongo.IndexModel{Keys: bson.D{{Key: "at", Value: 1}}})
	if err != nil {
		return fmt.Errorf("iot: index %s: %w", DeviceLogs, err)
	}
	return nil
}

func (s *MongoStore) Enqueue(ctx context.Context, queue string, ev GateEvent) error {
	_, err := s.db.Collection(queue).InsertOne(ctx, ev)
	if mongo.IsDuplicateKeyError(err) {
		return fmt.Errorf("%w: event %s already queued", repository.ErrConflict, ev.ID)
	}
	return wrap(err)
}

func (s *MongoStore) MarkProcessed(ctx context.Context, queue string, ev GateEvent) error {
	res, err := s.db.Collection(queue).UpdateOne(ctx, bson.M{"_id": ev.ID}, bson.M{"$set": bson.M{
		"processed":    ev.Processed,
		"error":        ev.Error,
		"session_id":   ev.SessionID,
		"spot_code":    ev.SpotCode,
		"amount":       ev.Amount,
		"action":       ev.Action,
		"processed_at": ev.ProcessedAt,
	}})
	if err != nil {
		return wrap(err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("%w: event %s", repository.ErrNotFound, ev.ID)
	}
	return nil
}

func (s *MongoStore) LastExitForSession(ctx context.Context, sessionID string) (GateEvent, error) {
	var ev GateEvent
	opts := options.FindOne().SetSort(bson.M{"created_at": -1})
	err := s.db.Collection(ExitQueue).FindOne(ctx, bson.M{"session_id": sessionID, "processed": true}, opts).Decode(&ev)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return GateEvent{}, fmt.Errorf("%w: no exit event for session %s", repository.ErrNotFound, sessionID)
	}
	return ev, wrap(err)
}

func (s *MongoStore) WaitingExits(ctx context.Context, since time.Time) ([]GateEvent, error) {
	filter := bson.M{"action": WaitPayment, "session_id": bson.M{"$ne": ""}, "created_at": bson.M{"$gt": since}}
	cur, err := s.db.Collection(ExitQueue).Find(ctx, filter, options.Find().SetSort(bson.M{"created_at": 1}))
	if err != nil {
		return nil, wrap(err)
	}
	out := make([]GateEvent, 0)
	if err := cur.All(ctx, &out); err != nil {
		return nil, wrap(err)
	}
	return out, nil
}

func (s *MongoStore) PushCommand(ctx context.Context, cmd Command) error {
	_, err := s.db.Collection(Commands).InsertOne(ctx, cmd)
	return wrap(err)
}

func (s *MongoStore) NextCommand(ctx context.Context, deviceID string, now time.Time) (Command, error) {
	var cmd Command
	opts := options.FindOneAndUpdate().
		SetSort(bson.M{"created_at": 1}).
		SetReturnDocument(options.After)
	err := s.db.Collection(Commands).FindOneAndUpdate(ctx,
		bson.M{"device_id": deviceID, "executed": false},
		bson.M{"$set": bson.M{"executed": true, "executed_at": now}},
		opts,
	).Decode(&cmd)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return Command{}, fmt.Errorf("%w: no command for device %s", repository.ErrNotFound, deviceID)
	}
	return cmd, wrap(err)
}

func (s *MongoStore) AppendLog(ctx context.Context, entry LogEntry) error {
	_, err := s.db.Collection(DeviceLogs).InsertOne(ctx, entry)
	return wrap(err)
}

func (s *MongoStore) Prune(ctx context.Context, now time.Time) (PruneResult, error) {
	var res PruneResult
	queueCutoff, logCutoff := now.Add(-queueMaxAge), now.Add(-logMaxAge)
	stale := bson.M{"created_at": bson.M{"$lt": queueCutoff}}

	del := func(coll string, filter bson.M, n *int64) error {
		r, err := s.db.Collection(coll).DeleteMany(ctx, filter)
		if err != nil {
			return fmt.Errorf("iot: prune %s: %w", coll, wrap(err))
		}
		*n = r.DeletedCount
		return nil
	}
	if err := del(EntryQueue, stale, &res.EntryQueue); err != nil {
		return res, err
	}
	if err := del(ExitQueue, stale, &res.ExitQueue); err != nil {
		return res, err
	}
	if err := del(Commands, bson.M{"executed": true, "executed_at": bson.M{"$lt": queueCutoff}}, &res.Commands); err != nil {
		return res, err
	}
	if err := del(DeviceLogs, bson.M{"at": bson.M{"$lt": logCutoff}}, &res.Logs); err != nil {
		return res, err
	}
	return res, nil
}

// wrap marks network and timeout failures as transient.
func wrap(err error) error {
	if err == nil {
		return nil
	}
	if mongo.IsNetworkError(err) || mongo.IsTimeout(err) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", repository.ErrTransient, err)
	}
	return err
}
