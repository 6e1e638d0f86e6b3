package joblock

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Lock 定时任务分布式锁
// job_name 唯一索引是互斥的根本保证：同名锁的插入在数据库层面只会成功一次
type Lock struct {
	ID         string    `bson:"id" json:"id"`                   // 锁持有者标识（UUID，释放时校验）
	JobName    string    `bson:"job_name" json:"job_name"`       // 任务名（互斥单位）
	AcquiredAt time.Time `bson:"acquired_at" json:"acquired_at"` // 获取时间
	ExpiresAt  time.Time `bson:"expires_at" json:"expires_at"`   // 过期时间（兜底回收崩溃持有者）
}

// Collection 返回集合名称
func (l *Lock) Collection() string {
	return "job_locks"
}

// EnsureIndexes 创建和维护索引
func (l *Lock) EnsureIndexes(ctx context.Context, db *mongo.Database) error {
	coll := db.Collection(l.Collection())
	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "job_name", Value: 1}},
			Options: options.Index().SetName("idx_job_name").SetUnique(true),
		},
	}
	_, err := coll.Indexes().CreateMany(ctx, indexes)
	return err
}
