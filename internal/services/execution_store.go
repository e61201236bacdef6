package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"flowhub/internal/database"
	"flowhub/internal/execution"
	"flowhub/internal/models"
)

// ExecutionStore persists workflow executions in MongoDB. It implements
// execution.Store for the engine and adds the history queries the API
// exposes (paginated lists, per-workflow stats, retention cleanup).
type ExecutionStore struct {
	mongoDB *database.MongoDB
}

// NewExecutionStore creates a Mongo-backed execution store.
func NewExecutionStore(mongoDB *database.MongoDB) *ExecutionStore {
	return &ExecutionStore{mongoDB: mongoDB}
}

func (s *ExecutionStore) collection() *mongo.Collection {
	return s.mongoDB.Database().Collection(database.CollectionExecutions)
}

// Create inserts a new execution record.
func (s *ExecutionStore) Create(ctx context.Context, exec *models.Execution) error {
	if _, err := s.collection().InsertOne(ctx, exec); err != nil {
		return fmt.Errorf("failed to create execution: %w", err)
	}
	log.Printf("📝 [EXECUTION] Created execution %s for workflow %s", exec.ID, exec.WorkflowID)
	return nil
}

// Get returns the execution or execution.ErrExecutionNotFound.
func (s *ExecutionStore) Get(ctx context.Context, id string) (*models.Execution, error) {
	var exec models.Execution
	err := s.collection().FindOne(ctx, bson.M{"_id": id}).Decode(&exec)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, execution.ErrExecutionNotFound
		}
		return nil, fmt.Errorf("failed to get execution: %w", err)
	}
	return &exec, nil
}

// GetForSession returns the execution only if it belongs to the tenant.
func (s *ExecutionStore) GetForSession(ctx context.Context, id string, sess models.Session) (*models.Execution, error) {
	var exec models.Execution
	err := s.collection().FindOne(ctx, bson.M{
		"_id":              id,
		"session.tenantId": sess.TenantID,
	}).Decode(&exec)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, execution.ErrExecutionNotFound
		}
		return nil, fmt.Errorf("failed to get execution: %w", err)
	}
	return &exec, nil
}

// AppendBlockRun appends one block run to the execution's ordered history.
func (s *ExecutionStore) AppendBlockRun(ctx context.Context, executionID string, run models.BlockRun) error {
	result, err := s.collection().UpdateByID(ctx, executionID, bson.M{
		"$push": bson.M{"blockRuns": run},
	})
	if err != nil {
		return fmt.Errorf("failed to append block run: %w", err)
	}
	if result.MatchedCount == 0 {
		return execution.ErrExecutionNotFound
	}
	return nil
}

// UpdateBlockRun rewrites a block run in place, matched by its run id.
func (s *ExecutionStore) UpdateBlockRun(ctx context.Context, executionID string, run models.BlockRun) error {
	result, err := s.collection().UpdateByID(ctx, executionID,
		bson.M{"$set": bson.M{"blockRuns.$[r]": run}},
		options.Update().SetArrayFilters(options.ArrayFilters{
			Filters: []any{bson.M{"r.id": run.ID}},
		}),
	)
	if err != nil {
		return fmt.Errorf("failed to update block run: %w", err)
	}
	if result.MatchedCount == 0 {
		return execution.ErrExecutionNotFound
	}
	return nil
}

// SetStatus transitions the execution's lifecycle status. The filter only
// matches statuses the lifecycle allows as sources for the target, so an
// illegal write (reviving a terminal execution, say) never lands.
func (s *ExecutionStore) SetStatus(ctx context.Context, executionID string, status models.ExecutionStatus, extra execution.StatusExtra) error {
	set := bson.M{"status": status}
	update := bson.M{"$set": set}
	if extra.WaitingBlock != nil {
		set["waitingBlock"] = extra.WaitingBlock
	} else {
		update["$unset"] = bson.M{"waitingBlock": ""}
	}
	if extra.Error != "" {
		set["error"] = extra.Error
	}
	if extra.CompletedAt != nil {
		set["completedAt"] = extra.CompletedAt
	} else if status.IsTerminal() {
		set["completedAt"] = time.Now().UTC()
	}

	result, err := s.collection().UpdateOne(ctx, bson.M{
		"_id":    executionID,
		"status": bson.M{"$in": execution.TransitionSources(status)},
	}, update)
	if err != nil {
		return fmt.Errorf("failed to update execution status: %w", err)
	}
	if result.MatchedCount == 0 {
		if _, getErr := s.Get(ctx, executionID); getErr != nil {
			return getErr
		}
		return fmt.Errorf("execution %s cannot transition to %s", executionID, status)
	}
	log.Printf("📊 [EXECUTION] Updated %s status to %s", executionID, status)
	return nil
}

// ClaimResume atomically flips waitingBlock back to running. The filter and
// update run as one FindOneAndUpdate, so of two concurrent resumes exactly
// one matches; the loser sees no waitingBlock document and gets
// ErrNotWaiting.
func (s *ExecutionStore) ClaimResume(ctx context.Context, executionID string) (*models.Execution, error) {
	var exec models.Execution
	err := s.collection().FindOneAndUpdate(ctx,
		bson.M{
			"_id":    executionID,
			"status": models.ExecutionStatusWaitingBlock,
		},
		bson.M{
			"$set":   bson.M{"status": models.ExecutionStatusRunning},
			"$unset": bson.M{"waitingBlock": ""},
		},
		options.FindOneAndUpdate().SetReturnDocument(options.Before),
	).Decode(&exec)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			// Distinguish "gone" from "not suspended".
			if _, getErr := s.Get(ctx, executionID); getErr != nil {
				return nil, getErr
			}
			return nil, execution.ErrNotWaiting
		}
		return nil, fmt.Errorf("failed to claim resume: %w", err)
	}
	log.Printf("🔓 [EXECUTION] Claimed resume for %s (was waiting at %s)", executionID, exec.WaitingBlock.BlockID)
	return &exec, nil
}

// ListOptions filters and paginates execution history queries.
type ListOptions struct {
	Page       int
	Limit      int
	Status     string
	WorkflowID string
}

// PaginatedExecutions is the response shape for history listings.
type PaginatedExecutions struct {
	Executions []models.Execution `json:"executions"`
	Total      int64              `json:"total"`
	Page       int64              `json:"page"`
	Limit      int64              `json:"limit"`
	HasMore    bool               `json:"hasMore"`
}

// ListByTenant returns the tenant's executions, newest first.
func (s *ExecutionStore) ListByTenant(ctx context.Context, tenantID string, opts *ListOptions) (*PaginatedExecutions, error) {
	filter := bson.M{"session.tenantId": tenantID}
	if opts != nil && opts.Status != "" {
		filter["status"] = opts.Status
	}
	if opts != nil && opts.WorkflowID != "" {
		filter["workflowId"] = opts.WorkflowID
	}
	return s.listWithFilter(ctx, filter, opts)
}

func (s *ExecutionStore) listWithFilter(ctx context.Context, filter bson.M, opts *ListOptions) (*PaginatedExecutions, error) {
	limit := int64(20)
	page := int64(1)
	if opts != nil {
		if opts.Limit > 0 && opts.Limit <= 100 {
			limit = int64(opts.Limit)
		}
		if opts.Page > 0 {
			page = int64(opts.Page)
		}
	}
	skip := (page - 1) * limit

	total, err := s.collection().CountDocuments(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to count executions: %w", err)
	}

	findOpts := options.Find().
		SetSort(bson.D{{Key: "createdAt", Value: -1}}).
		SetSkip(skip).
		SetLimit(limit)

	cursor, err := s.collection().Find(ctx, filter, findOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to find executions: %w", err)
	}
	defer cursor.Close(ctx)

	executions := []models.Execution{}
	if err := cursor.All(ctx, &executions); err != nil {
		return nil, fmt.Errorf("failed to decode executions: %w", err)
	}

	return &PaginatedExecutions{
		Executions: executions,
		Total:      total,
		Page:       page,
		Limit:      limit,
		HasMore:    skip+int64(len(executions)) < total,
	}, nil
}

// ExecutionStats aggregates outcome counts for one workflow.
type ExecutionStats struct {
	Total        int64            `json:"total"`
	SuccessCount int64            `json:"successCount"`
	ErrorCount   int64            `json:"errorCount"`
	WaitingCount int64            `json:"waitingCount"`
	SuccessRate  float64          `json:"successRate"`
	ByStatus     map[string]int64 `json:"byStatus"`
}

// GetStats returns execution statistics for a workflow within a tenant.
func (s *ExecutionStore) GetStats(ctx context.Context, workflowID, tenantID string) (*ExecutionStats, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.M{
			"workflowId":       workflowID,
			"session.tenantId": tenantID,
		}}},
		{{Key: "$group", Value: bson.M{
			"_id":   "$status",
			"count": bson.M{"$sum": 1},
		}}},
	}

	cursor, err := s.collection().Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate stats: %w", err)
	}
	defer cursor.Close(ctx)

	var results []struct {
		ID    string `bson:"_id"`
		Count int64  `bson:"count"`
	}
	if err := cursor.All(ctx, &results); err != nil {
		return nil, fmt.Errorf("failed to decode stats: %w", err)
	}

	stats := &ExecutionStats{ByStatus: make(map[string]int64)}
	for _, r := range results {
		stats.Total += r.Count
		stats.ByStatus[r.ID] = r.Count
		switch models.ExecutionStatus(r.ID) {
		case models.ExecutionStatusSuccess:
			stats.SuccessCount = r.Count
		case models.ExecutionStatusError:
			stats.ErrorCount = r.Count
		case models.ExecutionStatusWaitingBlock:
			stats.WaitingCount = r.Count
		}
	}
	if stats.Total > 0 {
		stats.SuccessRate = float64(stats.SuccessCount) / float64(stats.Total) * 100
	}
	return stats, nil
}

// DeleteExpired removes executions past their retention TTL. Called by the
// cleanup job as a backstop to the Mongo TTL index.
func (s *ExecutionStore) DeleteExpired(ctx context.Context) (int64, error) {
	result, err := s.collection().DeleteMany(ctx, bson.M{
		"expiresAt": bson.M{"$lt": time.Now().UTC()},
	})
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired executions: %w", err)
	}
	if result.DeletedCount > 0 {
		log.Printf("🗑️ [EXECUTION] Deleted %d expired executions", result.DeletedCount)
	}
	return result.DeletedCount, nil
}

// EnsureIndexes creates the indexes the store's queries rely on.
func (s *ExecutionStore) EnsureIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{
			Keys: bson.D{
				{Key: "session.tenantId", Value: 1},
				{Key: "createdAt", Value: -1},
			},
		},
		{
			Keys: bson.D{
				{Key: "workflowId", Value: 1},
				{Key: "createdAt", Value: -1},
			},
		},
		{
			Keys: bson.D{{Key: "status", Value: 1}},
		},
		{
			Keys:    bson.D{{Key: "expiresAt", Value: 1}},
			Options: options.Index().SetExpireAfterSeconds(0),
		},
	}

	if _, err := s.collection().Indexes().CreateMany(ctx, indexes); err != nil {
		return fmt.Errorf("failed to create execution indexes: %w", err)
	}
	log.Println("✅ [EXECUTION] Ensured indexes for executions collection")
	return nil
}
