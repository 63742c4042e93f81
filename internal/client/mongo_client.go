package client

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.uber.org/zap"

	"directory-service/internal/config"
	"directory-service/internal/util"
)

type MongoClient struct {
	Client   *mongo.Client
	Database *mongo.Database
	config   *config.MongoConfig
}

// NewMongoClient connects to MongoDB and ensures the indexes the directory
// relies on (unique email/phone/roll) exist.
func NewMongoClient(cfg *config.Config, logger *zap.Logger) (*MongoClient, error) {
	mongoConfig := cfg.Mongo

	ctx, cancel := context.WithTimeout(context.Background(), mongoConfig.Timeout)
	defer cancel()

	opts := options.Client().
		ApplyURI(mongoConfig.URI).
		SetConnectTimeout(mongoConfig.Timeout).
		SetServerSelectionTimeout(mongoConfig.Timeout).
		SetMaxPoolSize(100).
		SetMinPoolSize(10).
		SetRetryWrites(true)

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	mc := &MongoClient{
		Client:   client,
		Database: client.Database(mongoConfig.Database),
		config:   &mongoConfig,
	}

	if err := mc.ensureIndexes(ctx); err != nil {
		return nil, fmt.Errorf("failed to ensure indexes: %w", err)
	}

	util.Info("MongoDB client initialized",
		zap.String("database", mongoConfig.Database))

	return mc, nil
}

// ensureIndexes creates the unique identity indexes. Creation is idempotent.
func (m *MongoClient) ensureIndexes(ctx context.Context) error {
	students := m.Database.Collection("students")

	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "email", Value: 1}},
			Options: options.Index().SetUnique(true).SetName("uniq_email"),
		},
		{
			Keys:    bson.D{{Key: "phone", Value: 1}},
			Options: options.Index().SetUnique(true).SetName("uniq_phone"),
		},
		{
			Keys:    bson.D{{Key: "roll_number", Value: 1}},
			Options: options.Index().SetUnique(true).SetName("uniq_roll"),
		},
	}

	if _, err := students.Indexes().CreateMany(ctx, indexes); err != nil {
		return err
	}
	return nil
}

func (m *MongoClient) Collection(name string) *mongo.Collection {
	return m.Database.Collection(name)
}

// HealthCheck verifies MongoDB connectivity.
func (m *MongoClient) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := m.Client.Ping(ctx, readpref.Primary()); err != nil {
		return fmt.Errorf("mongodb ping failed: %w", err)
	}
	return nil
}

// Close disconnects the client.
func (m *MongoClient) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := m.Client.Disconnect(ctx); err != nil {
		util.Error("failed to close MongoDB client", zap.Error(err))
		return err
	}
	util.Info("MongoDB client closed")
	return nil
}
