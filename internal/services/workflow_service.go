package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	cache "github.com/patrickmn/go-cache"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"flowhub/internal/database"
	"flowhub/internal/execution"
	"flowhub/internal/models"
)

// WorkflowService manages workflow definitions in MongoDB. Live definitions
// are cached in-process: the engine fetches the definition on every execute
// and resume, and published workflows change rarely.
type WorkflowService struct {
	mongoDB   *database.MongoDB
	liveCache *cache.Cache
}

// NewWorkflowService creates the definition service.
func NewWorkflowService(mongoDB *database.MongoDB) *WorkflowService {
	return &WorkflowService{
		mongoDB:   mongoDB,
		liveCache: cache.New(5*time.Minute, 10*time.Minute),
	}
}

func (s *WorkflowService) collection() *mongo.Collection {
	return s.mongoDB.Database().Collection(database.CollectionWorkflows)
}

// Create persists a new draft definition for a tenant. Drafts are validated
// structurally on publish, not on save, so authors can store work in
// progress.
func (s *WorkflowService) Create(ctx context.Context, tenantID string, def *models.WorkflowDefinition) (*models.WorkflowDefinition, error) {
	now := time.Now().UTC()
	def.ID = uuid.NewString()
	def.TenantID = tenantID
	def.IsLive = false
	def.Version = 1
	def.CreatedAt = now
	def.UpdatedAt = now

	if _, err := s.collection().InsertOne(ctx, def); err != nil {
		return nil, fmt.Errorf("failed to create workflow: %w", err)
	}
	log.Printf("📝 [WORKFLOW] Created workflow %s (%s) for tenant %s", def.ID, def.Name, tenantID)
	return def, nil
}

// Get returns a tenant's definition by id.
func (s *WorkflowService) Get(ctx context.Context, tenantID, workflowID string) (*models.WorkflowDefinition, error) {
	var def models.WorkflowDefinition
	err := s.collection().FindOne(ctx, bson.M{
		"_id":      workflowID,
		"tenantId": tenantID,
	}).Decode(&def)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, execution.ErrWorkflowNotFound
		}
		return nil, fmt.Errorf("failed to get workflow: %w", err)
	}
	return &def, nil
}

// GetLiveWorkflow implements execution.DefinitionSource. Unlike Get it is
// not tenant-scoped; tenancy is enforced at the handler before the engine
// runs and the execution record carries the session.
func (s *WorkflowService) GetLiveWorkflow(ctx context.Context, workflowID string) (*models.WorkflowDefinition, error) {
	if cached, ok := s.liveCache.Get(workflowID); ok {
		if def, ok := cached.(*models.WorkflowDefinition); ok {
			return def, nil
		}
	}

	var def models.WorkflowDefinition
	err := s.collection().FindOne(ctx, bson.M{"_id": workflowID}).Decode(&def)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, execution.ErrWorkflowNotFound
		}
		return nil, fmt.Errorf("failed to get workflow: %w", err)
	}
	if !def.IsLive {
		return nil, execution.ErrWorkflowNotLive
	}

	s.liveCache.Set(workflowID, &def, cache.DefaultExpiration)
	return &def, nil
}

// List returns a tenant's definitions, most recently updated first.
func (s *WorkflowService) List(ctx context.Context, tenantID string) ([]models.WorkflowDefinition, error) {
	cursor, err := s.collection().Find(ctx,
		bson.M{"tenantId": tenantID},
		options.Find().SetSort(bson.D{{Key: "updatedAt", Value: -1}}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list workflows: %w", err)
	}
	defer cursor.Close(ctx)

	workflows := []models.WorkflowDefinition{}
	if err := cursor.All(ctx, &workflows); err != nil {
		return nil, fmt.Errorf("failed to decode workflows: %w", err)
	}
	return workflows, nil
}

// Update replaces a draft's content and bumps its version. Updating
// unpublishes: the author must re-publish to make the new version live,
// keeping in-flight executions against a stale graph impossible to create.
func (s *WorkflowService) Update(ctx context.Context, tenantID, workflowID string, def *models.WorkflowDefinition) (*models.WorkflowDefinition, error) {
	update := bson.M{
		"$set": bson.M{
			"name":          def.Name,
			"blocks":        def.Blocks,
			"edges":         def.Edges,
			"inputSchema":   def.InputSchema,
			"inputExamples": def.InputExamples,
			"isLive":        false,
			"updatedAt":     time.Now().UTC(),
		},
		"$inc": bson.M{"version": 1},
	}

	var updated models.WorkflowDefinition
	err := s.collection().FindOneAndUpdate(ctx,
		bson.M{"_id": workflowID, "tenantId": tenantID},
		update,
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&updated)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, execution.ErrWorkflowNotFound
		}
		return nil, fmt.Errorf("failed to update workflow: %w", err)
	}

	s.liveCache.Delete(workflowID)
	log.Printf("📝 [WORKFLOW] Updated workflow %s to version %d (unpublished)", workflowID, updated.Version)
	return &updated, nil
}

// Publish validates the definition and flips it live.
func (s *WorkflowService) Publish(ctx context.Context, tenantID, workflowID string) (*models.WorkflowDefinition, error) {
	def, err := s.Get(ctx, tenantID, workflowID)
	if err != nil {
		return nil, err
	}
	if err := execution.ValidateDefinition(def); err != nil {
		return nil, err
	}

	var updated models.WorkflowDefinition
	err = s.collection().FindOneAndUpdate(ctx,
		bson.M{"_id": workflowID, "tenantId": tenantID},
		bson.M{"$set": bson.M{"isLive": true, "updatedAt": time.Now().UTC()}},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&updated)
	if err != nil {
		return nil, fmt.Errorf("failed to publish workflow: %w", err)
	}

	s.liveCache.Delete(workflowID)
	log.Printf("🚀 [WORKFLOW] Published workflow %s version %d", workflowID, updated.Version)
	return &updated, nil
}

// Unpublish takes a definition out of rotation without deleting it.
func (s *WorkflowService) Unpublish(ctx context.Context, tenantID, workflowID string) error {
	result, err := s.collection().UpdateOne(ctx,
		bson.M{"_id": workflowID, "tenantId": tenantID},
		bson.M{"$set": bson.M{"isLive": false, "updatedAt": time.Now().UTC()}},
	)
	if err != nil {
		return fmt.Errorf("failed to unpublish workflow: %w", err)
	}
	if result.MatchedCount == 0 {
		return execution.ErrWorkflowNotFound
	}
	s.liveCache.Delete(workflowID)
	return nil
}

// Delete removes a definition. Executions keep their history; they carry
// the workflow id only as a reference.
func (s *WorkflowService) Delete(ctx context.Context, tenantID, workflowID string) error {
	result, err := s.collection().DeleteOne(ctx, bson.M{
		"_id":      workflowID,
		"tenantId": tenantID,
	})
	if err != nil {
		return fmt.Errorf("failed to delete workflow: %w", err)
	}
	if result.DeletedCount == 0 {
		return execution.ErrWorkflowNotFound
	}
	s.liveCache.Delete(workflowID)
	log.Printf("🗑️ [WORKFLOW] Deleted workflow %s", workflowID)
	return nil
}

// EnsureIndexes creates the indexes for the workflows collection.
func (s *WorkflowService) EnsureIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{
			Keys: bson.D{
				{Key: "tenantId", Value: 1},
				{Key: "updatedAt", Value: -1},
			},
		},
		{
			Keys: bson.D{{Key: "isLive", Value: 1}},
		},
	}
	if _, err := s.collection().Indexes().CreateMany(ctx, indexes); err != nil {
		return fmt.Errorf("failed to create workflow indexes: %w", err)
	}
	log.Println("✅ [WORKFLOW] Ensured indexes for workflows collection")
	return nil
}
