package movie

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/mongo"

	"filmforge/internal/model/movie"
	joblockrepo "filmforge/internal/repository/joblock"
	movierepo "filmforge/internal/repository/movie"
)

// SweepJobName 编排器分布式锁的任务名
const SweepJobName = "scene-sweep"

// SweepSummary 一次 sweep 的汇总结果
type SweepSummary struct {
	Skipped         bool     `json:"skipped"`          // 锁被占用，本次未执行
	Processed       int      `json:"processed"`        // 处理的项目数
	Advanced        int      `json:"advanced"`         // 有状态推进的项目数
	CompletedScenes int      `json:"completed_scenes"` // 本轮完成的场景数
	Errors          []string `json:"errors,omitempty"` // 各项目的错误（互不影响）
	Duration        string   `json:"duration"`         // 本轮耗时
}

// Orchestrator 项目编排器
// 一次 sweep：抢锁、取一批生成中的项目、逐项目把当前场景送进状态机、
// 场景完成后推进项目或触发完成检查，最后无条件释放锁
type Orchestrator struct {
	projectRepo movierepo.ProjectRepository
	sceneRepo   movierepo.SceneRepository
	lockRepo    joblockrepo.LockRepository
	machine     *SceneMachine
	media       MediaProcessor
	batchSize   int64
	lockTTL     time.Duration
}

// NewOrchestrator 创建编排器
func NewOrchestrator(
	projectRepo movierepo.ProjectRepository,
	sceneRepo movierepo.SceneRepository,
	lockRepo joblockrepo.LockRepository,
	machine *SceneMachine,
	media MediaProcessor,
	batchSize int,
	lockTTL time.Duration,
) *Orchestrator {
	return &Orchestrator{
		projectRepo: projectRepo,
		sceneRepo:   sceneRepo,
		lockRepo:    lockRepo,
		machine:     machine,
		media:       media,
		batchSize:   int64(batchSize),
		lockTTL:     lockTTL,
	}
}

// Sweep 执行一次编排扫描
// 锁被占用不算错误，直接汇报 skipped；锁在任何退出路径下都会释放
func (o *Orchestrator) Sweep(ctx context.Context) (*SweepSummary, error) {
	start := time.Now()
	summary := &SweepSummary{}

	lockID, err := o.lockRepo.Acquire(ctx, SweepJobName, o.lockTTL)
	if err != nil {
		if errors.Is(err, joblockrepo.ErrLockHeld) {
			log.Info().Msg("另一个编排器实例正在执行，本次跳过")
			summary.Skipped = true
			summary.Duration = time.Since(start).String()
			return summary, nil
		}
		return nil, fmt.Errorf("acquire sweep lock: %w", err)
	}
	defer func() {
		if err := o.lockRepo.Release(ctx, SweepJobName, lockID); err != nil {
			log.Error().Err(err).Msg("释放编排锁失败")
		}
	}()

	projects, err := o.projectRepo.FindGenerating(ctx, o.batchSize)
	if err != nil {
		return nil, fmt.Errorf("list generating projects: %w", err)
	}

	for _, project := range projects {
		summary.Processed++
		event, err := o.dispatchProject(ctx, project)
		if err != nil {
			summary.Errors = append(summary.Errors,
				fmt.Sprintf("project %s: %v", project.ID, err))
			continue
		}
		switch event {
		case EventNone:
		case EventSceneCompleted:
			summary.Advanced++
			summary.CompletedScenes++
		default:
			summary.Advanced++
		}
	}

	summary.Duration = time.Since(start).String()
	log.Info().
		Int("processed", summary.Processed).
		Int("advanced", summary.Advanced).
		Int("completed_scenes", summary.CompletedScenes).
		Int("errors", len(summary.Errors)).
		Str("duration", summary.Duration).
		Msg("sweep 完成")

	return summary, nil
}

// 单场景一轮 sweep 内的最大推进步数
// 正常路径 pending→generating→narrating→merging→completed 是4步，
// 加上一次 failed→pending 重试的余量
const maxStepsPerSweep = 8

// dispatchProject 处理单个项目，panic 被隔离成普通错误，不会拖垮整轮 sweep
// 外部服务瞬时完成时（如任务早已渲染完），场景在一轮内连续推进到卡住为止，
// 不用干等下一个调度周期
func (o *Orchestrator) dispatchProject(ctx context.Context, project *movie.Project) (event Event, err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Str("project_id", project.ID).
				Interface("panic", r).
				Msg("项目处理发生 panic")
			event = EventNone
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	scene, ferr := o.sceneRepo.FindByProjectAndNumber(ctx, project.ID, project.CurrentScene)
	if ferr != nil {
		if errors.Is(ferr, mongo.ErrNoDocuments) {
			// 当前编号没有场景行，说明计划已走完，做完成检查
			return EventNone, o.checkCompletion(ctx, project)
		}
		return EventNone, fmt.Errorf("load scene %d: %w", project.CurrentScene, ferr)
	}

	var outcome *Outcome
	var perr error
	progressed := false
	for step := 0; step < maxStepsPerSweep; step++ {
		outcome, perr = o.machine.Process(ctx, project, scene)
		if perr != nil && outcome == nil {
			return EventNone, perr
		}
		if outcome.Event != EventAdvanced {
			break
		}
		progressed = true
		// 状态前进了一步，重新加载场景继续推，直到等外部任务或到达终点
		scene, ferr = o.sceneRepo.FindByID(ctx, scene.ID)
		if ferr != nil {
			return outcome.Event, fmt.Errorf("reload scene: %w", ferr)
		}
	}

	if outcome.Event == EventSceneCompleted {
		if aerr := o.advanceProject(ctx, project, scene); aerr != nil {
			return outcome.Event, aerr
		}
	} else if outcome.Event == EventNone && !progressed {
		// 整轮毫无进展也刷一下 updated_at，让下一轮轮到别的项目
		if terr := o.projectRepo.Touch(ctx, project.ID); terr != nil {
			log.Warn().Err(terr).Str("project_id", project.ID).Msg("刷新项目时间失败")
		}
	}

	// 推进了几步后停在等待外部任务，对汇总来说仍算有进展
	finalEvent := outcome.Event
	if finalEvent == EventNone && progressed {
		finalEvent = EventAdvanced
	}

	// 状态机处理中途的错误（如提交失败）也计入 sweep 汇总
	return finalEvent, perr
}

// advanceProject 场景完成后的推进逻辑
// 推进前重读项目状态：外部的取消/暂停随时可能发生，发现后立即放弃
func (o *Orchestrator) advanceProject(ctx context.Context, project *movie.Project, scene *movie.Scene) error {
	fresh, err := o.projectRepo.FindByID(ctx, project.ID)
	if err != nil {
		return fmt.Errorf("reload project: %w", err)
	}
	if fresh.Status != movie.ProjectStatusGenerating {
		log.Info().
			Str("project_id", project.ID).
			Str("status", fresh.Status.String()).
			Msg("项目已不在生成中，放弃推进")
		return nil
	}

	if fresh.CompletedScenes < fresh.TotalScenes {
		advanced, err := o.projectRepo.AdvanceCurrentScene(ctx, project.ID, scene.SceneNumber)
		if err != nil {
			return fmt.Errorf("advance current scene: %w", err)
		}
		if !advanced {
			// 条件没命中：并发推进过或状态刚刚变化，都不是错误
			log.Debug().
				Str("project_id", project.ID).
				Int("from_scene", scene.SceneNumber).
				Msg("场景推进条件未命中，跳过")
		}
		return nil
	}

	return o.checkCompletion(ctx, fresh)
}

// checkCompletion 完成检查：全部场景完成则合成成片并终结项目
// 合成失败仍然把项目标记为完成，场景本身都可单独观看，绝不卡死项目
func (o *Orchestrator) checkCompletion(ctx context.Context, project *movie.Project) error {
	completed, err := o.sceneRepo.FindCompletedByProject(ctx, project.ID)
	if err != nil {
		return fmt.Errorf("count completed scenes: %w", err)
	}
	if len(completed) < project.TotalScenes {
		log.Warn().
			Str("project_id", project.ID).
			Int("completed", len(completed)).
			Int("total", project.TotalScenes).
			Msg("场景计划走完但完成数不足，等待人工处理")
		return nil
	}

	urls := make([]string, 0, len(completed))
	for _, s := range completed {
		urls = append(urls, s.PublicVideoURL)
	}

	finalURL, duration, err := o.media.ConcatScenes(ctx, project.ID, urls)
	if err != nil {
		log.Warn().
			Err(err).
			Str("project_id", project.ID).
			Msg("成片合成失败，项目按降级完成处理")
		return o.projectRepo.UpdateStatus(ctx, project.ID, movie.ProjectStatusCompleted,
			fmt.Sprintf("concatenation failed: %v", err))
	}

	if err := o.projectRepo.SetFinalVideo(ctx, project.ID, finalURL, duration); err != nil {
		return err
	}
	if err := o.projectRepo.UpdateStatus(ctx, project.ID, movie.ProjectStatusCompleted, ""); err != nil {
		return err
	}

	log.Info().
		Str("project_id", project.ID).
		Str("final_video_url", finalURL).
		Float64("duration", duration).
		Msg("项目完成")

	return nil
}
