package movie

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Scene 场景实体
// 一个场景对应一个渲染片段加可选解说；场景编号在项目内从1开始连续
type Scene struct {
	ID             string      `bson:"id" json:"id"`                     // 场景ID（UUID）
	ProjectID      string      `bson:"project_id" json:"project_id"`     // 所属项目ID
	SceneNumber    int         `bson:"scene_number" json:"scene_number"` // 场景编号（从1开始）
	Status         SceneStatus `bson:"status" json:"status"`             // 状态机状态
	VideoPrompt    string      `bson:"video_prompt" json:"video_prompt"` // 视频生成提示词
	NarrationText  string      `bson:"narration_text,omitempty" json:"narration_text,omitempty"`
	VideoURL       string      `bson:"video_url,omitempty" json:"video_url,omitempty"`               // 提供商侧临时URL
	PublicVideoURL string      `bson:"public_video_url,omitempty" json:"public_video_url,omitempty"` // 永久存储URL
	LastFrameURL   string      `bson:"last_frame_url,omitempty" json:"last_frame_url,omitempty"`     // 尾帧URL（下一场景图生视频的种子）
	GenerationID   string      `bson:"generation_id,omitempty" json:"generation_id,omitempty"`       // 渲染任务记录ID
	CreditCost     int         `bson:"credit_cost" json:"credit_cost"`                               // 实际扣费积分（提交时一次性确定，之后不再重算）
	RetryCount     int         `bson:"retry_count" json:"retry_count"`
	ErrorMessage   string      `bson:"error_message,omitempty" json:"error_message,omitempty"`
	CompletedAt    *time.Time  `bson:"completed_at,omitempty" json:"completed_at,omitempty"`
	CreatedAt      time.Time   `bson:"created_at" json:"created_at"`
	UpdatedAt      time.Time   `bson:"updated_at" json:"updated_at"`
}

// Collection 返回集合名称
func (s *Scene) Collection() string {
	return "scenes"
}

// EnsureIndexes 创建和维护索引
func (s *Scene) EnsureIndexes(ctx context.Context, db *mongo.Database) error {
	coll := db.Collection(s.Collection())
	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "id", Value: 1}},
			Options: options.Index().SetName("idx_id").SetUnique(true),
		},
		{
			Keys:    bson.D{{Key: "project_id", Value: 1}, {Key: "scene_number", Value: 1}},
			Options: options.Index().SetName("idx_project_scene").SetUnique(true),
		},
		{
			Keys:    bson.D{{Key: "project_id", Value: 1}, {Key: "status", Value: 1}},
			Options: options.Index().SetName("idx_project_status"),
		},
	}
	_, err := coll.Indexes().CreateMany(ctx, indexes)
	return err
}
