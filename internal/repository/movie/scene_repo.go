package movie

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"filmforge/internal/model/movie"
)

// SceneRepository 场景仓库接口
type SceneRepository interface {
	Create(ctx context.Context, s *movie.Scene) error
	FindByID(ctx context.Context, id string) (*movie.Scene, error)
	FindByProjectAndNumber(ctx context.Context, projectID string, sceneNumber int) (*movie.Scene, error)
	FindByProject(ctx context.Context, projectID string) ([]*movie.Scene, error)
	FindCompletedByProject(ctx context.Context, projectID string) ([]*movie.Scene, error)
	UpdateStatus(ctx context.Context, id string, status movie.SceneStatus, errorMessage string) error
	RecordCharge(ctx context.Context, id, generationID string, creditCost int) error
	SetVideoURL(ctx context.Context, id, videoURL string) error
	SetPublished(ctx context.Context, id, publicVideoURL, lastFrameURL string) error
	MarkCompleted(ctx context.Context, id string) error
	ResetForRetry(ctx context.Context, id string) error
}

// SceneRepo 场景仓库实现
type SceneRepo struct {
	coll *mongo.Collection
}

// NewSceneRepo 创建场景仓库
func NewSceneRepo(db *mongo.Database) *SceneRepo {
	var s movie.Scene
	return &SceneRepo{coll: db.Collection(s.Collection())}
}

// Create 创建场景
func (r *SceneRepo) Create(ctx context.Context, s *movie.Scene) error {
	now := time.Now()
	s.CreatedAt = now
	s.UpdatedAt = now
	if s.Status == "" {
		s.Status = movie.SceneStatusPending
	}
	_, err := r.coll.InsertOne(ctx, s)
	return err
}

// FindByID 根据ID查询场景
func (r *SceneRepo) FindByID(ctx context.Context, id string) (*movie.Scene, error) {
	var s movie.Scene
	if err := r.coll.FindOne(ctx, bson.M{"id": id}).Decode(&s); err != nil {
		return nil, err
	}
	return &s, nil
}

// FindByProjectAndNumber 根据项目和场景编号查询场景
func (r *SceneRepo) FindByProjectAndNumber(ctx context.Context, projectID string, sceneNumber int) (*movie.Scene, error) {
	var s movie.Scene
	filter := bson.M{"project_id": projectID, "scene_number": sceneNumber}
	if err := r.coll.FindOne(ctx, filter).Decode(&s); err != nil {
		return nil, err
	}
	return &s, nil
}

// FindByProject 查询项目的全部场景（按编号排序）
func (r *SceneRepo) FindByProject(ctx context.Context, projectID string) ([]*movie.Scene, error) {
	opts := options.Find().SetSort(bson.M{"scene_number": 1})
	cursor, err := r.coll.Find(ctx, bson.M{"project_id": projectID}, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var scenes []*movie.Scene
	if err := cursor.All(ctx, &scenes); err != nil {
		return nil, err
	}
	return scenes, nil
}

// FindCompletedByProject 查询项目已完成的场景（按编号排序，用于合成成片）
func (r *SceneRepo) FindCompletedByProject(ctx context.Context, projectID string) ([]*movie.Scene, error) {
	filter := bson.M{"project_id": projectID, "status": movie.SceneStatusCompleted}
	opts := options.Find().SetSort(bson.M{"scene_number": 1})
	cursor, err := r.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var scenes []*movie.Scene
	if err := cursor.All(ctx, &scenes); err != nil {
		return nil, err
	}
	return scenes, nil
}

// UpdateStatus 更新场景状态
func (r *SceneRepo) UpdateStatus(ctx context.Context, id string, status movie.SceneStatus, errorMessage string) error {
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

// RecordCharge 扣费成功后记录渲染任务ID和实际价格
// credit_cost 在这里一次性写定，之后不再重算
func (r *SceneRepo) RecordCharge(ctx context.Context, id, generationID string, creditCost int) error {
	_, err := r.coll.UpdateOne(
		ctx,
		bson.M{"id": id},
		bson.M{"$set": bson.M{
			"generation_id": generationID,
			"credit_cost":   creditCost,
			"updated_at":    time.Now(),
		}},
	)
	return err
}

// SetVideoURL 记录提供商侧的视频URL
func (r *SceneRepo) SetVideoURL(ctx context.Context, id, videoURL string) error {
	_, err := r.coll.UpdateOne(
		ctx,
		bson.M{"id": id},
		bson.M{"$set": bson.M{
			"video_url":  videoURL,
			"updated_at": time.Now(),
		}},
	)
	return err
}

// SetPublished 记录永久存储URL和尾帧URL
func (r *SceneRepo) SetPublished(ctx context.Context, id, publicVideoURL, lastFrameURL string) error {
	update := bson.M{
		"public_video_url": publicVideoURL,
		"updated_at":       time.Now(),
	}
	if lastFrameURL != "" {
		update["last_frame_url"] = lastFrameURL
	}
	_, err := r.coll.UpdateOne(ctx, bson.M{"id": id}, bson.M{"$set": update})
	return err
}

// MarkCompleted 标记场景完成
func (r *SceneRepo) MarkCompleted(ctx context.Context, id string) error {
	now := time.Now()
	_, err := r.coll.UpdateOne(
		ctx,
		bson.M{"id": id},
		bson.M{"$set": bson.M{
			"status":       movie.SceneStatusCompleted,
			"completed_at": now,
			"updated_at":   now,
		}},
	)
	return err
}

// ResetForRetry 失败场景重置为待提交，清空错误并累加重试次数
func (r *SceneRepo) ResetForRetry(ctx context.Context, id string) error {
	_, err := r.coll.UpdateOne(
		ctx,
		bson.M{"id": id},
		bson.M{
			"$set": bson.M{
				"status":     movie.SceneStatusPending,
				"updated_at": time.Now(),
			},
			"$unset": bson.M{"error_message": ""},
			"$inc":   bson.M{"retry_count": 1},
		},
	)
	return err
}
