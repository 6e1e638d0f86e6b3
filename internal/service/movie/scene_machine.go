package movie

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/mongo"

	"filmforge/internal/model/movie"
	"filmforge/internal/pkg/generation"
	"filmforge/internal/pkg/id"
	billingrepo "filmforge/internal/repository/billing"
	movierepo "filmforge/internal/repository/movie"
)

// Narrator 解说语音合成抽象
type Narrator interface {
	Synthesize(ctx context.Context, text, voice string, speedRatio float64) ([]byte, error)
}

// MediaProcessor 媒体加工抽象
type MediaProcessor interface {
	MuxNarration(ctx context.Context, projectID string, sceneNumber int, videoURL string, audio []byte) (string, error)
	PublishScene(ctx context.Context, projectID string, sceneNumber int, videoURL string) (publicURL, lastFrameURL string, err error)
	ConcatScenes(ctx context.Context, projectID string, videoURLs []string) (string, float64, error)
}

// Event 状态机单步处理的结果事件
type Event string

const (
	EventNone           Event = "none"            // 无状态变化（外部任务未完成，等下一轮）
	EventAdvanced       Event = "advanced"        // 场景状态前进了一步
	EventSceneCompleted Event = "scene_completed" // 场景到达 completed，编排器应推进项目
	EventSceneFailed    Event = "scene_failed"    // 场景进入 failed（下一轮决定重试或终止）
	EventProjectPaused  Event = "project_paused"  // 项目因积分不足暂停
	EventProjectFailed  Event = "project_failed"  // 场景耗尽重试，项目终止
)

// Outcome 状态机单步处理结果
type Outcome struct {
	Event Event
}

// SceneMachine 场景状态机
// 每个场景每轮 sweep 最多推进一步；所有写库都走条件或原子更新，
// 崩溃后重入不会重复提交、重复扣费
type SceneMachine struct {
	projectRepo    movierepo.ProjectRepository
	sceneRepo      movierepo.SceneRepository
	generationRepo movierepo.GenerationRepository
	creditRepo     billingrepo.CreditRepository
	provider       generation.Provider
	narrator       Narrator
	media          MediaProcessor
	pricing        *Pricing
	maxRetries     int
	callbackURL    string
}

// NewSceneMachine 创建场景状态机
func NewSceneMachine(
	projectRepo movierepo.ProjectRepository,
	sceneRepo movierepo.SceneRepository,
	generationRepo movierepo.GenerationRepository,
	creditRepo billingrepo.CreditRepository,
	provider generation.Provider,
	narrator Narrator,
	media MediaProcessor,
	pricing *Pricing,
	maxRetries int,
	callbackURL string,
) *SceneMachine {
	return &SceneMachine{
		projectRepo:    projectRepo,
		sceneRepo:      sceneRepo,
		generationRepo: generationRepo,
		creditRepo:     creditRepo,
		provider:       provider,
		narrator:       narrator,
		media:          media,
		pricing:        pricing,
		maxRetries:     maxRetries,
		callbackURL:    callbackURL,
	}
}

// Process 按当前状态推进场景一步
func (m *SceneMachine) Process(ctx context.Context, project *movie.Project, scene *movie.Scene) (*Outcome, error) {
	switch scene.Status {
	case movie.SceneStatusPending:
		return m.handlePending(ctx, project, scene)
	case movie.SceneStatusGenerating:
		return m.handleGenerating(ctx, project, scene)
	case movie.SceneStatusNarrating:
		return m.handleNarrating(ctx, project, scene)
	case movie.SceneStatusMerging:
		return m.handleMerging(ctx, project, scene)
	case movie.SceneStatusCompleted:
		// 崩溃后重入：场景已完成，交回编排器推进项目
		return &Outcome{Event: EventSceneCompleted}, nil
	case movie.SceneStatusFailed:
		return m.handleFailed(ctx, project, scene)
	default:
		return nil, fmt.Errorf("unknown scene status: %s", scene.Status)
	}
}

// handlePending 提交渲染任务（先扣费，后提交，提交失败退款）
func (m *SceneMachine) handlePending(ctx context.Context, project *movie.Project, scene *movie.Scene) (*Outcome, error) {
	// 断点续传：video_url 已存在说明之前提交成功过，直接跳到后续阶段，
	// 不重复提交也不重复扣费
	if scene.VideoURL != "" {
		next := movie.SceneStatusMerging
		if project.Voice != "" && scene.NarrationText != "" {
			next = movie.SceneStatusNarrating
		}
		if err := m.sceneRepo.UpdateStatus(ctx, scene.ID, next, ""); err != nil {
			return nil, err
		}
		return &Outcome{Event: EventAdvanced}, nil
	}

	// 崩溃恢复：上一轮可能在建完任务记录（甚至扣完费）之后崩掉，
	// 场景还停在 pending。复用未终态的记录，账才不会记两笔
	var cost int
	gen, err := m.generationRepo.FindActiveByScene(ctx, scene.ID)
	switch {
	case err == nil:
		cost = gen.CreditAmount
	case errors.Is(err, mongo.ErrNoDocuments):
		cost = m.pricing.CostFor(project.Model)
		gen = &movie.Generation{
			ID:                id.New(),
			SceneID:           scene.ID,
			ProjectID:         project.ID,
			UserID:            project.UserID,
			ProviderRequestID: "pending:" + id.New(),
			Status:            movie.GenerationStatusPending,
			CreditDeducted:    false,
			CreditAmount:      cost,
		}
		if err := m.generationRepo.Create(ctx, gen); err != nil {
			return nil, fmt.Errorf("create generation record: %w", err)
		}
	default:
		return nil, fmt.Errorf("find active generation: %w", err)
	}

	alreadyDeducted := false
	if err := m.creditRepo.Deduct(ctx, project.UserID, cost, gen.ID, project.ID); err != nil {
		switch {
		case errors.Is(err, billingrepo.ErrDuplicateDeduction):
			// 这条记录的账上一轮已经扣过了，接着往下走提交
			alreadyDeducted = true
		case errors.Is(err, billingrepo.ErrInsufficientCredits):
			_, _ = m.generationRepo.MarkFailed(ctx, gen.ID, "insufficient credits")
			msg := fmt.Sprintf("insufficient credits for scene %d (need %d)", scene.SceneNumber, cost)
			if err := m.projectRepo.UpdateStatus(ctx, project.ID, movie.ProjectStatusPaused, msg); err != nil {
				return nil, err
			}
			log.Warn().
				Str("project_id", project.ID).
				Int("scene_number", scene.SceneNumber).
				Int("cost", cost).
				Msg("积分不足，项目已暂停")
			return &Outcome{Event: EventProjectPaused}, nil
		default:
			return nil, fmt.Errorf("deduct credits: %w", err)
		}
	}

	if err := m.generationRepo.MarkCreditDeducted(ctx, gen.ID); err != nil {
		return nil, err
	}
	// 重入且场景上已挂了这条记录时，扣费落库早就做完了，不能再加一次
	if !alreadyDeducted || scene.GenerationID != gen.ID {
		if err := m.sceneRepo.RecordCharge(ctx, scene.ID, gen.ID, cost); err != nil {
			return nil, err
		}
		if err := m.projectRepo.IncrementSpentCredits(ctx, project.ID, cost); err != nil {
			return nil, err
		}
	}

	// 记录已经在处理中说明上一轮提交成功了，只是场景状态没落库，
	// 补上状态就行，绝不能再提交第二次
	if gen.Status == movie.GenerationStatusProcessing {
		if err := m.sceneRepo.UpdateStatus(ctx, scene.ID, movie.SceneStatusGenerating, ""); err != nil {
			return nil, err
		}
		return &Outcome{Event: EventAdvanced}, nil
	}

	// 场景1没有前序尾帧；其余场景用上一场景的尾帧做图生视频保持连贯
	imageURL := ""
	if scene.SceneNumber > 1 {
		prev, err := m.sceneRepo.FindByProjectAndNumber(ctx, project.ID, scene.SceneNumber-1)
		if err == nil && prev.LastFrameURL != "" {
			imageURL = prev.LastFrameURL
		}
	}

	prompt := scene.VideoPrompt
	if project.Style != "" {
		prompt = fmt.Sprintf("%s, %s style", prompt, project.Style)
	}

	var requestID string
	var submitErr error
	if imageURL == "" {
		requestID, submitErr = m.provider.SubmitTextToVideo(ctx, &generation.TextToVideoRequest{
			Model:      project.Model,
			Prompt:     prompt,
			WebhookURL: m.callbackURL,
		})
	} else {
		requestID, submitErr = m.provider.SubmitImageToVideo(ctx, &generation.ImageToVideoRequest{
			Model:      project.Model,
			Prompt:     prompt,
			ImageURL:   imageURL,
			WebhookURL: m.callbackURL,
		})
	}

	if submitErr != nil {
		// 提交没成功，这笔钱要原路退回
		if _, err := m.creditRepo.Refund(ctx, gen.ID); err != nil {
			log.Error().Err(err).Str("generation_id", gen.ID).Msg("提交失败后退款失败")
		}
		if err := m.projectRepo.IncrementSpentCredits(ctx, project.ID, -cost); err != nil {
			log.Error().Err(err).Str("project_id", project.ID).Msg("提交失败后回冲累计扣费失败")
		}
		_, _ = m.generationRepo.MarkFailed(ctx, gen.ID, submitErr.Error())
		if err := m.sceneRepo.UpdateStatus(ctx, scene.ID, movie.SceneStatusFailed,
			fmt.Sprintf("submission failed: %v", submitErr)); err != nil {
			return nil, err
		}
		return &Outcome{Event: EventSceneFailed}, submitErr
	}

	if err := m.generationRepo.SetProviderRequestID(ctx, gen.ID, requestID); err != nil {
		return nil, err
	}
	if err := m.sceneRepo.UpdateStatus(ctx, scene.ID, movie.SceneStatusGenerating, ""); err != nil {
		return nil, err
	}

	log.Info().
		Str("project_id", project.ID).
		Int("scene_number", scene.SceneNumber).
		Str("provider_request_id", requestID).
		Bool("image_to_video", imageURL != "").
		Msg("渲染任务提交成功")

	return &Outcome{Event: EventAdvanced}, nil
}

// handleGenerating 检查渲染结果，完成则进入解说或发布阶段
func (m *SceneMachine) handleGenerating(ctx context.Context, project *movie.Project, scene *movie.Scene) (*Outcome, error) {
	if scene.GenerationID == "" {
		return m.failScene(ctx, scene, "scene in generating without generation record")
	}

	gen, err := m.generationRepo.FindByID(ctx, scene.GenerationID)
	if err != nil {
		return nil, fmt.Errorf("load generation record: %w", err)
	}

	// 回调没送达时，主动轮询提供商兜底
	if !gen.Status.IsTerminal() {
		gen, err = m.reconcileGeneration(ctx, project.Model, gen)
		if err != nil {
			return nil, err
		}
	}

	switch gen.Status {
	case movie.GenerationStatusCompleted:
		if err := m.sceneRepo.SetVideoURL(ctx, scene.ID, gen.VideoURL); err != nil {
			return nil, err
		}
		next := movie.SceneStatusMerging
		if project.Voice != "" && scene.NarrationText != "" {
			next = movie.SceneStatusNarrating
		}
		if err := m.sceneRepo.UpdateStatus(ctx, scene.ID, next, ""); err != nil {
			return nil, err
		}
		return &Outcome{Event: EventAdvanced}, nil
	case movie.GenerationStatusFailed, movie.GenerationStatusExpired:
		msg := gen.ErrorMessage
		if msg == "" {
			msg = fmt.Sprintf("generation %s", gen.Status)
		}
		return m.failScene(ctx, scene, msg)
	default:
		// 仍在渲染，这一轮不动，等下一次 sweep
		return &Outcome{Event: EventNone}, nil
	}
}

// reconcileGeneration 轮询提供商修正未终态的任务记录
// 这是回调丢失时唯一的兜底路径，必须保持独立可辨认
func (m *SceneMachine) reconcileGeneration(ctx context.Context, model string, gen *movie.Generation) (*movie.Generation, error) {
	status, err := m.provider.PollStatus(ctx, model, gen.ProviderRequestID)
	if err != nil {
		if errors.Is(err, generation.ErrJobNotFound) {
			_, _ = m.generationRepo.MarkExpired(ctx, gen.ID)
			return m.generationRepo.FindByID(ctx, gen.ID)
		}
		// 轮询本身失败不算任务失败，下一轮再查
		log.Warn().
			Err(err).
			Str("generation_id", gen.ID).
			Str("provider_request_id", gen.ProviderRequestID).
			Msg("轮询提供商失败")
		return gen, nil
	}

	switch status.State {
	case generation.JobStateCompleted:
		if _, err := m.generationRepo.MarkCompleted(ctx, gen.ID, status.VideoURL); err != nil {
			return nil, err
		}
	case generation.JobStateFailed:
		if _, err := m.generationRepo.MarkFailed(ctx, gen.ID, status.ErrorMessage); err != nil {
			return nil, err
		}
	default:
		return gen, nil
	}

	return m.generationRepo.FindByID(ctx, gen.ID)
}

// handleNarrating 合成解说并混音
// 解说是增强能力，任何失败都不阻塞流水线，带着原视频继续发布
func (m *SceneMachine) handleNarrating(ctx context.Context, project *movie.Project, scene *movie.Scene) (*Outcome, error) {
	if m.narrator == nil || project.Voice == "" || scene.NarrationText == "" {
		if err := m.sceneRepo.UpdateStatus(ctx, scene.ID, movie.SceneStatusMerging, ""); err != nil {
			return nil, err
		}
		return &Outcome{Event: EventAdvanced}, nil
	}

	audio, err := m.narrator.Synthesize(ctx, scene.NarrationText, project.Voice, 1.0)
	if err != nil {
		log.Warn().
			Err(err).
			Str("project_id", project.ID).
			Int("scene_number", scene.SceneNumber).
			Msg("解说合成失败，使用原视频继续")
		if err := m.sceneRepo.UpdateStatus(ctx, scene.ID, movie.SceneStatusMerging,
			fmt.Sprintf("narration failed: %v", err)); err != nil {
			return nil, err
		}
		return &Outcome{Event: EventAdvanced}, nil
	}

	muxedURL, err := m.media.MuxNarration(ctx, project.ID, scene.SceneNumber, scene.VideoURL, audio)
	if err != nil {
		log.Warn().
			Err(err).
			Str("project_id", project.ID).
			Int("scene_number", scene.SceneNumber).
			Msg("解说混音失败，使用原视频继续")
		if err := m.sceneRepo.UpdateStatus(ctx, scene.ID, movie.SceneStatusMerging,
			fmt.Sprintf("narration mux failed: %v", err)); err != nil {
			return nil, err
		}
		return &Outcome{Event: EventAdvanced}, nil
	}

	if err := m.sceneRepo.SetVideoURL(ctx, scene.ID, muxedURL); err != nil {
		return nil, err
	}
	if err := m.sceneRepo.UpdateStatus(ctx, scene.ID, movie.SceneStatusMerging, ""); err != nil {
		return nil, err
	}
	return &Outcome{Event: EventAdvanced}, nil
}

// handleMerging 转存到永久存储、提取尾帧、标记完成
// 存储失败会让场景失败但不退款：渲染成本已经真实发生
func (m *SceneMachine) handleMerging(ctx context.Context, project *movie.Project, scene *movie.Scene) (*Outcome, error) {
	publicURL, lastFrameURL, err := m.media.PublishScene(ctx, project.ID, scene.SceneNumber, scene.VideoURL)
	if err != nil {
		outcome, ferr := m.failScene(ctx, scene, fmt.Sprintf("publish failed: %v", err))
		if ferr != nil {
			return nil, ferr
		}
		return outcome, err
	}

	if err := m.sceneRepo.SetPublished(ctx, scene.ID, publicURL, lastFrameURL); err != nil {
		return nil, err
	}
	if err := m.sceneRepo.MarkCompleted(ctx, scene.ID); err != nil {
		return nil, err
	}
	if err := m.projectRepo.IncrementCompletedScenes(ctx, project.ID); err != nil {
		return nil, err
	}

	log.Info().
		Str("project_id", project.ID).
		Int("scene_number", scene.SceneNumber).
		Str("public_video_url", publicURL).
		Msg("场景发布完成")

	return &Outcome{Event: EventSceneCompleted}, nil
}

// handleFailed 重试预算内重置为待提交，否则终止整个项目
func (m *SceneMachine) handleFailed(ctx context.Context, project *movie.Project, scene *movie.Scene) (*Outcome, error) {
	if scene.RetryCount < m.maxRetries {
		if err := m.sceneRepo.ResetForRetry(ctx, scene.ID); err != nil {
			return nil, err
		}
		log.Info().
			Str("project_id", project.ID).
			Int("scene_number", scene.SceneNumber).
			Int("retry", scene.RetryCount+1).
			Msg("场景重置重试")
		return &Outcome{Event: EventAdvanced}, nil
	}

	msg := fmt.Sprintf("scene %d failed after %d retries: %s", scene.SceneNumber, scene.RetryCount, scene.ErrorMessage)
	if err := m.projectRepo.UpdateStatus(ctx, project.ID, movie.ProjectStatusFailed, msg); err != nil {
		return nil, err
	}
	log.Error().
		Str("project_id", project.ID).
		Int("scene_number", scene.SceneNumber).
		Msg("场景耗尽重试，项目终止")
	return &Outcome{Event: EventProjectFailed}, nil
}

// failScene 把场景置为失败并记录错误
func (m *SceneMachine) failScene(ctx context.Context, scene *movie.Scene, message string) (*Outcome, error) {
	if err := m.sceneRepo.UpdateStatus(ctx, scene.ID, movie.SceneStatusFailed, message); err != nil {
		return nil, err
	}
	return &Outcome{Event: EventSceneFailed}, nil
}
