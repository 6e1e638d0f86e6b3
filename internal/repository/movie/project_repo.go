package movie

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"filmforge/internal/model/movie"
)

// ProjectRepository 项目仓库接口
type ProjectRepository interface {
	Create(ctx context.Context, p *movie.Project) error
	FindByID(ctx context.Context, id string) (*movie.Project, error)
	FindByUser(ctx context.Context, userID string, limit int64) ([]*movie.Project, error)
	FindGenerating(ctx context.Context, limit int64) ([]*movie.Project, error)
	UpdateStatus(ctx context.Context, id string, status movie.ProjectStatus, errorMessage string) error
	AdvanceCurrentScene(ctx context.Context, id string, fromScene int) (bool, error)
	IncrementCompletedScenes(ctx context.Context, id string) error
	IncrementSpentCredits(ctx context.Context, id string, amount int) error
	SetFinalVideo(ctx context.Context, id, videoURL string, duration float64) error
	Touch(ctx context.Context, id string) error
}

// ProjectRepo 项目仓库实现
type ProjectRepo struct {
	coll *mongo.Collection
}

// NewProjectRepo 创建项目仓库
func NewProjectRepo(db *mongo.Database) *ProjectRepo {
	var p movie.Project
	return &ProjectRepo{coll: db.Collection(p.Collection())}
}

// Create 创建项目
func (r *ProjectRepo) Create(ctx context.Context, p *movie.Project) error {
	now := time.Now()
	p.CreatedAt = now
	p.UpdatedAt = now
	if p.Status == "" {
		p.Status = movie.ProjectStatusDraft
	}
	if p.CurrentScene == 0 {
		p.CurrentScene = 1
	}
	_, err := r.coll.InsertOne(ctx, p)
	return err
}

// FindByID 根据ID查询项目
func (r *ProjectRepo) FindByID(ctx context.Context, id string) (*movie.Project, error) {
	var p movie.Project
	if err := r.coll.FindOne(ctx, bson.M{"id": id}).Decode(&p); err != nil {
		return nil, err
	}
	return &p, nil
}

// FindByUser 查询用户的项目列表（最新优先）
func (r *ProjectRepo) FindByUser(ctx context.Context, userID string, limit int64) ([]*movie.Project, error) {
	opts := options.Find().SetSort(bson.M{"created_at": -1}).SetLimit(limit)
	cursor, err := r.coll.Find(ctx, bson.M{"user_id": userID}, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var projects []*movie.Project
	if err := cursor.All(ctx, &projects); err != nil {
		return nil, err
	}
	return projects, nil
}

// FindGenerating 查询处于生成中的项目
// 按 updated_at 升序，最久未被推进的项目先被 sweep 处理
func (r *ProjectRepo) FindGenerating(ctx context.Context, limit int64) ([]*movie.Project, error) {
	filter := bson.M{"status": movie.ProjectStatusGenerating}
	opts := options.Find().SetSort(bson.M{"updated_at": 1}).SetLimit(limit)
	cursor, err := r.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var projects []*movie.Project
	if err := cursor.All(ctx, &projects); err != nil {
		return nil, err
	}
	return projects, nil
}

// UpdateStatus 更新项目状态
func (r *ProjectRepo) UpdateStatus(ctx context.Context, id string, status movie.ProjectStatus, errorMessage string) error {
	update := bson.M{
		"status":     status,
		"updated_at": time.Now(),
	}
	if errorMessage != "" {
		update["error_message"] = errorMessage
	}
	_, err := r.coll.UpdateOne(ctx, bson.M{"id": id}, bson.M{"$set": update})
	return err
}

// AdvanceCurrentScene 推进项目到下一个场景
// 带 current_scene 和 status 双重条件，项目被取消或并发推进时不会误写
func (r *ProjectRepo) AdvanceCurrentScene(ctx context.Context, id string, fromScene int) (bool, error) {
	filter := bson.M{
		"id":            id,
		"current_scene": fromScene,
		"status":        movie.ProjectStatusGenerating,
	}
	update := bson.M{
		"$inc": bson.M{"current_scene": 1},
		"$set": bson.M{"updated_at": time.Now()},
	}
	result, err := r.coll.UpdateOne(ctx, filter, update)
	if err != nil {
		return false, err
	}
	return result.ModifiedCount > 0, nil
}

// IncrementCompletedScenes 原子自增已完成场景数
func (r *ProjectRepo) IncrementCompletedScenes(ctx context.Context, id string) error {
	_, err := r.coll.UpdateOne(
		ctx,
		bson.M{"id": id},
		bson.M{
			"$inc": bson.M{"completed_scenes": 1},
			"$set": bson.M{"updated_at": time.Now()},
		},
	)
	return err
}

// IncrementSpentCredits 原子增加累计扣费
// amount 可以为负（退款回冲）
func (r *ProjectRepo) IncrementSpentCredits(ctx context.Context, id string, amount int) error {
	_, err := r.coll.UpdateOne(
		ctx,
		bson.M{"id": id},
		bson.M{
			"$inc": bson.M{"spent_credits": amount},
			"$set": bson.M{"updated_at": time.Now()},
		},
	)
	return err
}

// SetFinalVideo 写入最终成片信息
func (r *ProjectRepo) SetFinalVideo(ctx context.Context, id, videoURL string, duration float64) error {
	_, err := r.coll.UpdateOne(
		ctx,
		bson.M{"id": id},
		bson.M{"$set": bson.M{
			"final_video_url": videoURL,
			"total_duration":  duration,
			"updated_at":      time.Now(),
		}},
	)
	return err
}

// Touch 仅刷新 updated_at
// sweep 处理过但无状态变化的项目也要排到队尾
func (r *ProjectRepo) Touch(ctx context.Context, id string) error {
	_, err := r.coll.UpdateOne(
		ctx,
		bson.M{"id": id},
		bson.M{"$set": bson.M{"updated_at": time.Now()}},
	)
	return err
}
