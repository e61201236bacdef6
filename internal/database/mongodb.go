package database

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// MongoDB wraps the driver client and the application database handle.
type MongoDB struct {
	client   *mongo.Client
	database *mongo.Database
}

// Collection names used across services.
const (
	CollectionWorkflows  = "workflows"
	CollectionExecutions = "executions"
	CollectionRows       = "rows"
)

// NewMongoDB connects to MongoDB and verifies the connection with a ping.
func NewMongoDB(uri string) (*MongoDB, error) {
	if uri == "" {
		return nil, fmt.Errorf("mongodb uri is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	clientOpts := options.Client().
		ApplyURI(uri).
		SetMaxPoolSize(100).
		SetMinPoolSize(10).
		SetMaxConnIdleTime(5 * time.Minute).
		SetRetryWrites(true).
		SetRetryReads(true)

	client, err := mongo.Connect(ctx, clientOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongodb: %w", err)
	}

	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		return nil, fmt.Errorf("failed to ping mongodb: %w", err)
	}

	dbName := extractDBName(uri)
	log.Printf("✅ [MONGODB] Connected to database: %s", dbName)

	return &MongoDB{
		client:   client,
		database: client.Database(dbName),
	}, nil
}

// extractDBName pulls the database name out of the connection URI,
// falling back to "flowhub" when the URI does not specify one.
func extractDBName(uri string) string {
	withoutScheme := uri
	if idx := strings.Index(uri, "://"); idx != -1 {
		withoutScheme = uri[idx+3:]
	}

	slash := strings.Index(withoutScheme, "/")
	if slash == -1 {
		return "flowhub"
	}

	dbPart := withoutScheme[slash+1:]
	if q := strings.Index(dbPart, "?"); q != -1 {
		dbPart = dbPart[:q]
	}
	if dbPart == "" {
		return "flowhub"
	}
	return dbPart
}

// Collection returns a handle to the named collection.
func (m *MongoDB) Collection(name string) *mongo.Collection {
	return m.database.Collection(name)
}

// Client returns the underlying driver client.
func (m *MongoDB) Client() *mongo.Client {
	return m.client
}

// Database returns the application database handle.
func (m *MongoDB) Database() *mongo.Database {
	return m.database
}

// Ping verifies the connection is still alive.
func (m *MongoDB) Ping(ctx context.Context) error {
	return m.client.Ping(ctx, readpref.Primary())
}

// Stats returns basic server status info for health reporting.
func (m *MongoDB) Stats(ctx context.Context) (bson.M, error) {
	var result bson.M
	err := m.database.RunCommand(ctx, bson.D{{Key: "dbStats", Value: 1}}).Decode(&result)
	if err != nil {
		return nil, fmt.Errorf("failed to get db stats: %w", err)
	}
	return result, nil
}

// Close disconnects the client.
func (m *MongoDB) Close(ctx context.Context) error {
	log.Println("🔌 [MONGODB] Closing connection...")
	return m.client.Disconnect(ctx)
}
