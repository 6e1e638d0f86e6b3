package movie

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Generation 外部渲染任务记录
// 在调用提供商之前创建，保证每一笔扣费都有可追溯的持久对象；
// 终态由回调或编排器的轮询兜底写入
type Generation struct {
	ID                string           `bson:"id" json:"id"`                                 // 记录ID（UUID）
	SceneID           string           `bson:"scene_id" json:"scene_id"`                     // 关联场景ID
	ProjectID         string           `bson:"project_id" json:"project_id"`                 // 关联项目ID
	UserID            string           `bson:"user_id" json:"user_id"`                       // 用户ID
	ProviderRequestID string           `bson:"provider_request_id" json:"provider_request_id"` // 提供商任务ID（提交前为占位值）
	Status            GenerationStatus `bson:"status" json:"status"`
	VideoURL          string           `bson:"video_url,omitempty" json:"video_url,omitempty"` // 完成后的视频URL
	CreditDeducted    bool             `bson:"credit_deducted" json:"credit_deducted"`         // 是否已扣费
	CreditAmount      int              `bson:"credit_amount" json:"credit_amount"`             // 扣费金额
	ErrorMessage      string           `bson:"error_message,omitempty" json:"error_message,omitempty"`
	CreatedAt         time.Time        `bson:"created_at" json:"created_at"`
	UpdatedAt         time.Time        `bson:"updated_at" json:"updated_at"`
}

// Collection 返回集合名称
func (g *Generation) Collection() string {
	return "generations"
}

// EnsureIndexes 创建和维护索引
func (g *Generation) EnsureIndexes(ctx context.Context, db *mongo.Database) error {
	coll := db.Collection(g.Collection())
	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "id", Value: 1}},
			Options: options.Index().SetName("idx_id").SetUnique(true),
		},
		{
			Keys:    bson.D{{Key: "provider_request_id", Value: 1}},
			Options: options.Index().SetName("idx_provider_request"),
		},
		{
			Keys:    bson.D{{Key: "scene_id", Value: 1}},
			Options: options.Index().SetName("idx_scene_id"),
		},
		{
			Keys:    bson.D{{Key: "status", Value: 1}},
			Options: options.Index().SetName("idx_status"),
		},
	}
	_, err := coll.Indexes().CreateMany(ctx, indexes)
	return err
}
