package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"flowhub/internal/database"
	"flowhub/internal/models"
)

// ErrRowNotFound is returned when a row lookup misses.
var ErrRowNotFound = errors.New("row not found")

// RowService is the MongoDB-backed tenant row datastore behind the row
// blocks. Rows are free-form documents grouped by a named entity, always
// scoped to a tenant.
type RowService struct {
	mongoDB *database.MongoDB
}

// NewRowService creates the row service.
func NewRowService(mongoDB *database.MongoDB) *RowService {
	return &RowService{mongoDB: mongoDB}
}

func (s *RowService) collection() *mongo.Collection {
	return s.mongoDB.Database().Collection(database.CollectionRows)
}

// GetRow fetches one row by id within an entity.
func (s *RowService) GetRow(ctx context.Context, tenantID, entity, rowID string) (*models.Row, error) {
	var row models.Row
	err := s.collection().FindOne(ctx, bson.M{
		"_id":      rowID,
		"tenantId": tenantID,
		"entity":   entity,
	}).Decode(&row)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrRowNotFound
		}
		return nil, fmt.Errorf("failed to get row: %w", err)
	}
	return &row, nil
}

// CreateRow inserts a new row.
func (s *RowService) CreateRow(ctx context.Context, tenantID, entity string, data map[string]any) (*models.Row, error) {
	now := time.Now().UTC()
	row := &models.Row{
		ID:        uuid.NewString(),
		TenantID:  tenantID,
		Entity:    entity,
		Data:      data,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if _, err := s.collection().InsertOne(ctx, row); err != nil {
		return nil, fmt.Errorf("failed to create row: %w", err)
	}
	return row, nil
}

// UpdateRow merges the given fields into a row's data.
func (s *RowService) UpdateRow(ctx context.Context, tenantID, entity, rowID string, data map[string]any) (*models.Row, error) {
	set := bson.M{"updatedAt": time.Now().UTC()}
	for k, v := range data {
		set["data."+k] = v
	}

	var updated models.Row
	err := s.collection().FindOneAndUpdate(ctx,
		bson.M{"_id": rowID, "tenantId": tenantID, "entity": entity},
		bson.M{"$set": set},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&updated)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrRowNotFound
		}
		return nil, fmt.Errorf("failed to update row: %w", err)
	}
	return &updated, nil
}

// DeleteRow removes a row.
func (s *RowService) DeleteRow(ctx context.Context, tenantID, entity, rowID string) error {
	result, err := s.collection().DeleteOne(ctx, bson.M{
		"_id":      rowID,
		"tenantId": tenantID,
		"entity":   entity,
	})
	if err != nil {
		return fmt.Errorf("failed to delete row: %w", err)
	}
	if result.DeletedCount == 0 {
		return ErrRowNotFound
	}
	return nil
}

// CountRows counts rows in an entity matching an optional filter over data
// fields.
func (s *RowService) CountRows(ctx context.Context, tenantID, entity string, filter map[string]any) (int64, error) {
	query := bson.M{"tenantId": tenantID, "entity": entity}
	for k, v := range filter {
		query["data."+k] = v
	}
	count, err := s.collection().CountDocuments(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("failed to count rows: %w", err)
	}
	return count, nil
}

// EnsureIndexes creates the indexes for the rows collection.
func (s *RowService) EnsureIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{
			Keys: bson.D{
				{Key: "tenantId", Value: 1},
				{Key: "entity", Value: 1},
			},
		},
	}
	if _, err := s.collection().Indexes().CreateMany(ctx, indexes); err != nil {
		return fmt.Errorf("failed to create row indexes: %w", err)
	}
	log.Println("✅ [ROWS] Ensured indexes for rows collection")
	return nil
}
