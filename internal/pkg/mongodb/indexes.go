package mongodb

import (
	"context"

	"go.mongodb.org/mongo-driver/mongo"

	"filmforge/internal/model/billing"
	"filmforge/internal/model/joblock"
	"filmforge/internal/model/movie"
)

// EnsureIndexes 创建所有模型的索引
// 这是一个统一的入口，用于在应用启动时创建所有模型的索引
func EnsureIndexes(db *mongo.Database) error {
	ctx := context.Background()

	models := []Model{
		&movie.Project{},
		&movie.Scene{},
		&movie.Generation{},
		&billing.Account{},
		&billing.Transaction{},
		&joblock.Lock{},
	}

	return EnsureAllIndexes(ctx, db, models...)
}
