package config

import (
    "context"
    "log"
    "time"

    "go.mongodb.org/mongo-driver/mongo"
    "go.mongodb.org/mongo-driver/mongo/options"
)

// NewMongoClient connects to MongoDB for the camera gate queues. Like
// NewRedisClient it returns nil when uri is empty or the server does not
// answer, and the gate falls back to an in-process store.
func NewMongoClient(uri string) *mongo.Client {
    if uri == "" {
        return nil
    }
    ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
    defer cancel()
    client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
    if err != nil {
        log.Printf("mongo: connect: %v", err)
        return nil
    }
    if err := client.Ping(ctx, nil); err != nil {
        log.Printf("mongo: ping: %v", err)
        _ = client.Disconnect(context.Background())
        return nil
    }
    return client
}
