package billing

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Account 用户积分账户
// 余额只能通过带条件的原子更新修改，禁止读改写
type Account struct {
	ID        string    `bson:"id" json:"id"`           // 账户ID（UUID）
	UserID    string    `bson:"user_id" json:"user_id"` // 用户ID（一人一户）
	Credits   int       `bson:"credits" json:"credits"` // 当前余额（恒不为负）
	CreatedAt time.Time `bson:"created_at" json:"created_at"`
	UpdatedAt time.Time `bson:"updated_at" json:"updated_at"`
}

// Collection 返回集合名称
func (a *Account) Collection() string {
	return "credit_accounts"
}

// EnsureIndexes 创建和维护索引
func (a *Account) EnsureIndexes(ctx context.Context, db *mongo.Database) error {
	coll := db.Collection(a.Collection())
	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "id", Value: 1}},
			Options: options.Index().SetName("idx_id").SetUnique(true),
		},
		{
			Keys:    bson.D{{Key: "user_id", Value: 1}},
			Options: options.Index().SetName("idx_user_id").SetUnique(true),
		},
	}
	_, err := coll.Indexes().CreateMany(ctx, indexes)
	return err
}
