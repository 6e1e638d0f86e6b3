package movie

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"filmforge/internal/model/movie"
)

// GenerationRepository 渲染任务仓库接口
type GenerationRepository interface {
	Create(ctx context.Context, g *movie.Generation) error
	FindByID(ctx context.Context, id string) (*movie.Generation, error)
	FindByProviderRequestID(ctx context.Context, providerRequestID string) (*movie.Generation, error)
	FindActiveByScene(ctx context.Context, sceneID string) (*movie.Generation, error)
	MarkCreditDeducted(ctx context.Context, id string) error
	SetProviderRequestID(ctx context.Context, id, providerRequestID string) error
	MarkCompleted(ctx context.Context, id, videoURL string) (bool, error)
	MarkFailed(ctx context.Context, id, errorMessage string) (bool, error)
	MarkExpired(ctx context.Context, id string) (bool, error)
}

// GenerationRepo 渲染任务仓库实现
type GenerationRepo struct {
	coll *mongo.Collection
}

// NewGenerationRepo 创建渲染任务仓库
func NewGenerationRepo(db *mongo.Database) *GenerationRepo {
	var g movie.Generation
	return &GenerationRepo{coll: db.Collection(g.Collection())}
}

// Create 创建渲染任务记录
func (r *GenerationRepo) Create(ctx context.Context, g *movie.Generation) error {
	now := time.Now()
	g.CreatedAt = now
	g.UpdatedAt = now
	if g.Status == "" {
		g.Status = movie.GenerationStatusPending
	}
	_, err := r.coll.InsertOne(ctx, g)
	return err
}

// FindByID 根据ID查询渲染任务
func (r *GenerationRepo) FindByID(ctx context.Context, id string) (*movie.Generation, error) {
	var g movie.Generation
	if err := r.coll.FindOne(ctx, bson.M{"id": id}).Decode(&g); err != nil {
		return nil, err
	}
	return &g, nil
}

// FindByProviderRequestID 根据提供商任务ID查询渲染任务
func (r *GenerationRepo) FindByProviderRequestID(ctx context.Context, providerRequestID string) (*movie.Generation, error) {
	var g movie.Generation
	if err := r.coll.FindOne(ctx, bson.M{"provider_request_id": providerRequestID}).Decode(&g); err != nil {
		return nil, err
	}
	return &g, nil
}

// FindActiveByScene 查询场景下仍未终态的渲染任务
// 崩溃恢复用：pending 场景若已有在途任务记录，复用它而不是再建一条
func (r *GenerationRepo) FindActiveByScene(ctx context.Context, sceneID string) (*movie.Generation, error) {
	var g movie.Generation
	filter := bson.M{
		"scene_id": sceneID,
		"status": bson.M{"$in": []movie.GenerationStatus{
			movie.GenerationStatusPending,
			movie.GenerationStatusProcessing,
		}},
	}
	opts := options.FindOne().SetSort(bson.M{"created_at": -1})
	if err := r.coll.FindOne(ctx, filter, opts).Decode(&g); err != nil {
		return nil, err
	}
	return &g, nil
}

// MarkCreditDeducted 标记该任务已完成扣费
func (r *GenerationRepo) MarkCreditDeducted(ctx context.Context, id string) error {
	_, err := r.coll.UpdateOne(
		ctx,
		bson.M{"id": id},
		bson.M{"$set": bson.M{
			"credit_deducted": true,
			"updated_at":      time.Now(),
		}},
	)
	return err
}

// SetProviderRequestID 提交成功后回填提供商任务ID并进入处理中
func (r *GenerationRepo) SetProviderRequestID(ctx context.Context, id, providerRequestID string) error {
	_, err := r.coll.UpdateOne(
		ctx,
		bson.M{"id": id},
		bson.M{"$set": bson.M{
			"provider_request_id": providerRequestID,
			"status":              movie.GenerationStatusProcessing,
			"updated_at":          time.Now(),
		}},
	)
	return err
}

// MarkCompleted 标记任务完成
// 带状态条件，回调和轮询竞争时只有一方会写成功
func (r *GenerationRepo) MarkCompleted(ctx context.Context, id, videoURL string) (bool, error) {
	return r.markTerminal(ctx, id, bson.M{
		"status":     movie.GenerationStatusCompleted,
		"video_url":  videoURL,
		"updated_at": time.Now(),
	})
}

// MarkFailed 标记任务失败
func (r *GenerationRepo) MarkFailed(ctx context.Context, id, errorMessage string) (bool, error) {
	return r.markTerminal(ctx, id, bson.M{
		"status":        movie.GenerationStatusFailed,
		"error_message": errorMessage,
		"updated_at":    time.Now(),
	})
}

// MarkExpired 标记任务过期
func (r *GenerationRepo) MarkExpired(ctx context.Context, id string) (bool, error) {
	return r.markTerminal(ctx, id, bson.M{
		"status":        movie.GenerationStatusExpired,
		"error_message": "generation job expired at provider",
		"updated_at":    time.Now(),
	})
}

// markTerminal 只允许从非终态进入终态
func (r *GenerationRepo) markTerminal(ctx context.Context, id string, set bson.M) (bool, error) {
	filter := bson.M{
		"id": id,
		"status": bson.M{"$in": []movie.GenerationStatus{
			movie.GenerationStatusPending,
			movie.GenerationStatusProcessing,
		}},
	}
	result, err := r.coll.UpdateOne(ctx, filter, bson.M{"$set": set})
	if err != nil {
		return false, err
	}
	return result.ModifiedCount > 0, nil
}
