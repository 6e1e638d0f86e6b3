package movie

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Project 电影项目实体
// 说明：一个项目由若干按顺序编号的场景组成，编排器逐场景推进
type Project struct {
	ID              string        `bson:"id" json:"id"`                                           // 项目ID（UUID）
	UserID          string        `bson:"user_id" json:"user_id"`                                 // 所属用户ID
	Title           string        `bson:"title" json:"title"`                                     // 项目标题
	Model           string        `bson:"model" json:"model"`                                     // 生成模型标识
	Style           string        `bson:"style,omitempty" json:"style,omitempty"`                 // 视觉风格（可选）
	Voice           string        `bson:"voice,omitempty" json:"voice,omitempty"`                 // 解说声音ID（可选，空则不配解说）
	CurrentScene    int           `bson:"current_scene" json:"current_scene"`                     // 正在推进的场景编号（从1开始）
	TotalScenes     int           `bson:"total_scenes" json:"total_scenes"`                       // 场景总数
	CompletedScenes int           `bson:"completed_scenes" json:"completed_scenes"`               // 已完成场景数（只允许原子自增）
	SpentCredits    int           `bson:"spent_credits" json:"spent_credits"`                     // 累计扣费积分（只允许原子增减）
	Status          ProjectStatus `bson:"status" json:"status"`                                   // 项目状态
	ErrorMessage    string        `bson:"error_message,omitempty" json:"error_message,omitempty"` // 错误信息（paused/failed 时可读）
	FinalVideoURL   string        `bson:"final_video_url,omitempty" json:"final_video_url,omitempty"`
	TotalDuration   float64       `bson:"total_duration,omitempty" json:"total_duration,omitempty"` // 最终成片时长（秒）
	CreatedAt       time.Time     `bson:"created_at" json:"created_at"`
	UpdatedAt       time.Time     `bson:"updated_at" json:"updated_at"`
}

// Collection 返回集合名称
func (p *Project) Collection() string {
	return "projects"
}

// EnsureIndexes 创建和维护索引
func (p *Project) EnsureIndexes(ctx context.Context, db *mongo.Database) error {
	coll := db.Collection(p.Collection())
	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "id", Value: 1}},
			Options: options.Index().SetName("idx_id").SetUnique(true),
		},
		{
			Keys:    bson.D{{Key: "status", Value: 1}, {Key: "updated_at", Value: 1}},
			Options: options.Index().SetName("idx_status_updated"),
		},
		{
			Keys:    bson.D{{Key: "user_id", Value: 1}, {Key: "created_at", Value: -1}},
			Options: options.Index().SetName("idx_user_created"),
		},
	}
	_, err := coll.Indexes().CreateMany(ctx, indexes)
	return err
}
