package movie

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/mongo"

	movierepo "filmforge/internal/repository/movie"
)

// ErrUnknownGeneration 回调里的任务ID在本地查不到
var ErrUnknownGeneration = errors.New("unknown generation request")

// CallbackService 生成服务回调处理
// 回调只负责把任务记录写到终态，场景推进统一由下一轮 sweep 完成；
// 回调丢失时状态机的轮询兜底会补上同样的写入
type CallbackService struct {
	generationRepo movierepo.GenerationRepository
}

// NewCallbackService 创建回调处理服务
func NewCallbackService(generationRepo movierepo.GenerationRepository) *CallbackService {
	return &CallbackService{generationRepo: generationRepo}
}

// HandleCompleted 处理任务完成回调
func (s *CallbackService) HandleCompleted(ctx context.Context, providerRequestID, videoURL string) error {
	gen, err := s.generationRepo.FindByProviderRequestID(ctx, providerRequestID)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return ErrUnknownGeneration
		}
		return fmt.Errorf("load generation: %w", err)
	}

	updated, err := s.generationRepo.MarkCompleted(ctx, gen.ID, videoURL)
	if err != nil {
		return err
	}
	if !updated {
		// 轮询兜底先一步写了终态，回调此时只是重复通知
		log.Debug().
			Str("generation_id", gen.ID).
			Str("provider_request_id", providerRequestID).
			Msg("任务已是终态，忽略回调")
		return nil
	}

	log.Info().
		Str("generation_id", gen.ID).
		Str("provider_request_id", providerRequestID).
		Msg("收到任务完成回调")
	return nil
}

// HandleFailed 处理任务失败回调
func (s *CallbackService) HandleFailed(ctx context.Context, providerRequestID, errorMessage string) error {
	gen, err := s.generationRepo.FindByProviderRequestID(ctx, providerRequestID)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return ErrUnknownGeneration
		}
		return fmt.Errorf("load generation: %w", err)
	}

	if errorMessage == "" {
		errorMessage = "generation failed (reported by callback)"
	}

	updated, err := s.generationRepo.MarkFailed(ctx, gen.ID, errorMessage)
	if err != nil {
		return err
	}
	if !updated {
		log.Debug().
			Str("generation_id", gen.ID).
			Str("provider_request_id", providerRequestID).
			Msg("任务已是终态，忽略回调")
		return nil
	}

	log.Info().
		Str("generation_id", gen.ID).
		Str("provider_request_id", providerRequestID).
		Str("error", errorMessage).
		Msg("收到任务失败回调")
	return nil
}
