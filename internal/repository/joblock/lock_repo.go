package joblock

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"filmforge/internal/model/joblock"
	"filmforge/internal/pkg/id"
)

// ErrLockHeld 锁已被其他持有者占用
var ErrLockHeld = errors.New("job lock is held by another holder")

// LockRepository 分布式锁仓库接口
type LockRepository interface {
	Acquire(ctx context.Context, jobName string, ttl time.Duration) (string, error)
	Release(ctx context.Context, jobName, lockID string) error
}

// LockRepo 分布式锁仓库实现
// 互斥靠 job_name 唯一索引：先清理过期锁，再尝试插入；
// 插入遇到唯一键冲突即为锁被占用
type LockRepo struct {
	coll *mongo.Collection
}

// NewLockRepo 创建分布式锁仓库
func NewLockRepo(db *mongo.Database) *LockRepo {
	var l joblock.Lock
	return &LockRepo{coll: db.Collection(l.Collection())}
}

// Acquire 尝试获取锁，成功返回锁持有者ID
func (r *LockRepo) Acquire(ctx context.Context, jobName string, ttl time.Duration) (string, error) {
	now := time.Now()

	// 过期锁说明上一个持有者崩溃了，先回收
	_, err := r.coll.DeleteMany(ctx, bson.M{
		"job_name":   jobName,
		"expires_at": bson.M{"$lt": now},
	})
	if err != nil {
		return "", err
	}

	lock := &joblock.Lock{
		ID:         id.New(),
		JobName:    jobName,
		AcquiredAt: now,
		ExpiresAt:  now.Add(ttl),
	}
	if _, err := r.coll.InsertOne(ctx, lock); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return "", ErrLockHeld
		}
		return "", err
	}

	return lock.ID, nil
}

// Release 释放锁
// 带持有者ID条件，过期后被别人重新获取的锁不会被误删
func (r *LockRepo) Release(ctx context.Context, jobName, lockID string) error {
	_, err := r.coll.DeleteOne(ctx, bson.M{
		"job_name": jobName,
		"id":       lockID,
	})
	return err
}
