package billing

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"filmforge/internal/model/billing"
	"filmforge/internal/pkg/id"
)

var (
	// ErrInsufficientCredits 余额不足
	ErrInsufficientCredits = errors.New("insufficient credits")
	// ErrDuplicateDeduction 同一渲染任务重复扣费
	ErrDuplicateDeduction = errors.New("duplicate deduction for generation")
)

// CreditRepository 积分仓库接口
type CreditRepository interface {
	GetOrCreateAccount(ctx context.Context, userID string) (*billing.Account, error)
	GetBalance(ctx context.Context, userID string) (int, error)
	Grant(ctx context.Context, userID string, amount int, description string) error
	Deduct(ctx context.Context, userID string, amount int, generationID, projectID string) error
	Refund(ctx context.Context, generationID string) (int, error)
	FindDeduction(ctx context.Context, generationID string) (*billing.Transaction, error)
}

// CreditRepo 积分仓库实现
type CreditRepo struct {
	accounts     *mongo.Collection
	transactions *mongo.Collection
}

// NewCreditRepo 创建积分仓库
func NewCreditRepo(db *mongo.Database) *CreditRepo {
	var a billing.Account
	var t billing.Transaction
	return &CreditRepo{
		accounts:     db.Collection(a.Collection()),
		transactions: db.Collection(t.Collection()),
	}
}

// GetOrCreateAccount 获取或创建账户（新账户余额为0）
func (r *CreditRepo) GetOrCreateAccount(ctx context.Context, userID string) (*billing.Account, error) {
	now := time.Now()
	filter := bson.M{"user_id": userID}
	update := bson.M{
		"$setOnInsert": bson.M{
			"id":         id.New(),
			"user_id":    userID,
			"credits":    0,
			"created_at": now,
			"updated_at": now,
		},
	}
	opts := options.FindOneAndUpdate().
		SetUpsert(true).
		SetReturnDocument(options.After)

	var account billing.Account
	if err := r.accounts.FindOneAndUpdate(ctx, filter, update, opts).Decode(&account); err != nil {
		return nil, err
	}
	return &account, nil
}

// GetBalance 查询余额
func (r *CreditRepo) GetBalance(ctx context.Context, userID string) (int, error) {
	var account billing.Account
	if err := r.accounts.FindOne(ctx, bson.M{"user_id": userID}).Decode(&account); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return 0, nil
		}
		return 0, err
	}
	return account.Credits, nil
}

// Grant 发放积分
func (r *CreditRepo) Grant(ctx context.Context, userID string, amount int, description string) error {
	if amount <= 0 {
		return errors.New("grant amount must be positive")
	}

	if _, err := r.GetOrCreateAccount(ctx, userID); err != nil {
		return err
	}

	now := time.Now()
	_, err := r.accounts.UpdateOne(
		ctx,
		bson.M{"user_id": userID},
		bson.M{
			"$inc": bson.M{"credits": amount},
			"$set": bson.M{"updated_at": now},
		},
	)
	if err != nil {
		return err
	}

	_, err = r.transactions.InsertOne(ctx, &billing.Transaction{
		ID:          id.New(),
		UserID:      userID,
		Type:        billing.TransactionTypeGrant,
		Amount:      amount,
		Description: description,
		CreatedAt:   now,
		UpdatedAt:   now,
	})
	return err
}

// Deduct 原子扣费
// 余额校验和扣减是同一条 FindOneAndUpdate，余额不足时不会产生任何写入；
// 扣费流水按 generation_id 唯一，重复扣费会回冲余额并返回 ErrDuplicateDeduction
func (r *CreditRepo) Deduct(ctx context.Context, userID string, amount int, generationID, projectID string) error {
	if amount <= 0 {
		return errors.New("deduct amount must be positive")
	}

	now := time.Now()
	filter := bson.M{
		"user_id": userID,
		"credits": bson.M{"$gte": amount},
	}
	update := bson.M{
		"$inc": bson.M{"credits": -amount},
		"$set": bson.M{"updated_at": now},
	}

	var account billing.Account
	err := r.accounts.FindOneAndUpdate(ctx, filter, update).Decode(&account)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return ErrInsufficientCredits
		}
		return err
	}

	_, err = r.transactions.InsertOne(ctx, &billing.Transaction{
		ID:           id.New(),
		UserID:       userID,
		Type:         billing.TransactionTypeDeduct,
		Amount:       amount,
		GenerationID: generationID,
		ProjectID:    projectID,
		Refunded:     false,
		CreatedAt:    now,
		UpdatedAt:    now,
	})
	if err != nil {
		// 唯一索引冲突说明该任务已经扣过费，把刚扣的钱还回去
		if mongo.IsDuplicateKeyError(err) {
			_, _ = r.accounts.UpdateOne(
				ctx,
				bson.M{"user_id": userID},
				bson.M{
					"$inc": bson.M{"credits": amount},
					"$set": bson.M{"updated_at": time.Now()},
				},
			)
			return ErrDuplicateDeduction
		}
		return err
	}

	return nil
}

// Refund 按渲染任务退款（幂等）
// refunded:false 的条件更新保证同一笔扣费最多退一次；
// 已退过或查无扣费流水时返回 0，不算错误
func (r *CreditRepo) Refund(ctx context.Context, generationID string) (int, error) {
	now := time.Now()
	filter := bson.M{
		"generation_id": generationID,
		"type":          billing.TransactionTypeDeduct,
		"refunded":      false,
	}
	update := bson.M{"$set": bson.M{
		"refunded":   true,
		"updated_at": now,
	}}

	var txn billing.Transaction
	err := r.transactions.FindOneAndUpdate(ctx, filter, update).Decode(&txn)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return 0, nil
		}
		return 0, err
	}

	_, err = r.accounts.UpdateOne(
		ctx,
		bson.M{"user_id": txn.UserID},
		bson.M{
			"$inc": bson.M{"credits": txn.Amount},
			"$set": bson.M{"updated_at": now},
		},
	)
	if err != nil {
		return 0, err
	}

	_, err = r.transactions.InsertOne(ctx, &billing.Transaction{
		ID:           id.New(),
		UserID:       txn.UserID,
		Type:         billing.TransactionTypeRefund,
		Amount:       txn.Amount,
		GenerationID: generationID,
		ProjectID:    txn.ProjectID,
		Description:  "refund for failed generation",
		CreatedAt:    now,
		UpdatedAt:    now,
	})
	if err != nil {
		return 0, err
	}

	return txn.Amount, nil
}

// FindDeduction 查询某渲染任务的扣费流水
func (r *CreditRepo) FindDeduction(ctx context.Context, generationID string) (*billing.Transaction, error) {
	var txn billing.Transaction
	filter := bson.M{
		"generation_id": generationID,
		"type":          billing.TransactionTypeDeduct,
	}
	if err := r.transactions.FindOne(ctx, filter).Decode(&txn); err != nil {
		return nil, err
	}
	return &txn, nil
}
