package billing

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// TransactionType 流水类型
type TransactionType string

const (
	TransactionTypeDeduct TransactionType = "deduct" // 扣费
	TransactionTypeRefund TransactionType = "refund" // 退款
	TransactionTypeGrant  TransactionType = "grant"  // 充值发放
)

// Transaction 积分流水
// generation_id 唯一索引保证同一渲染任务只有一笔扣费流水，
// 退款的幂等性靠 refunded 字段的条件更新保证
type Transaction struct {
	ID           string          `bson:"id" json:"id"`             // 流水ID（UUID）
	UserID       string          `bson:"user_id" json:"user_id"`   // 用户ID
	Type         TransactionType `bson:"type" json:"type"`         // 流水类型
	Amount       int             `bson:"amount" json:"amount"`     // 金额（正数）
	GenerationID string          `bson:"generation_id,omitempty" json:"generation_id,omitempty"` // 关联渲染任务ID（扣费流水必填）
	ProjectID    string          `bson:"project_id,omitempty" json:"project_id,omitempty"`
	Refunded     bool            `bson:"refunded" json:"refunded"` // 该笔扣费是否已退款
	Description  string          `bson:"description,omitempty" json:"description,omitempty"`
	CreatedAt    time.Time       `bson:"created_at" json:"created_at"`
	UpdatedAt    time.Time       `bson:"updated_at" json:"updated_at"`
}

// Collection 返回集合名称
func (t *Transaction) Collection() string {
	return "credit_transactions"
}

// EnsureIndexes 创建和维护索引
func (t *Transaction) EnsureIndexes(ctx context.Context, db *mongo.Database) error {
	coll := db.Collection(t.Collection())
	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "id", Value: 1}},
			Options: options.Index().SetName("idx_id").SetUnique(true),
		},
		{
			Keys: bson.D{{Key: "generation_id", Value: 1}},
			Options: options.Index().SetName("idx_generation_id").SetUnique(true).
				SetPartialFilterExpression(bson.M{"type": TransactionTypeDeduct}),
		},
		{
			Keys:    bson.D{{Key: "user_id", Value: 1}, {Key: "created_at", Value: -1}},
			Options: options.Index().SetName("idx_user_created"),
		},
	}
	_, err := coll.Indexes().CreateMany(ctx, indexes)
	return err
}
