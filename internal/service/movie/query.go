package movie

import (
	"context"
	"errors"

	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/mongo"

	"filmforge/internal/model/movie"
	"filmforge/internal/pkg/cache"
	movierepo "filmforge/internal/repository/movie"
)

var (
	// ErrProjectNotFound 项目不存在
	ErrProjectNotFound = errors.New("project not found")
	// ErrForbidden 访问了别人的项目
	ErrForbidden = errors.New("project belongs to another user")
)

// ProjectProgress 项目进度视图
type ProjectProgress struct {
	ProjectID       string  `json:"project_id"`
	UserID          string  `json:"user_id"`
	Status          string  `json:"status"`
	CurrentScene    int     `json:"current_scene"`
	TotalScenes     int     `json:"total_scenes"`
	CompletedScenes int     `json:"completed_scenes"`
	SpentCredits    int     `json:"spent_credits"`
	FinalVideoURL   string  `json:"final_video_url,omitempty"`
	TotalDuration   float64 `json:"total_duration,omitempty"`
	ErrorMessage    string  `json:"error_message,omitempty"`
}

// QueryService 项目只读查询服务
// 进度接口会被前端高频轮询，走 Redis 读穿缓存减轻 Mongo 压力
type QueryService struct {
	projectRepo movierepo.ProjectRepository
	sceneRepo   movierepo.SceneRepository
	cache       *cache.RedisCache
}

// NewQueryService 创建查询服务
func NewQueryService(projectRepo movierepo.ProjectRepository, sceneRepo movierepo.SceneRepository, redisCache *cache.RedisCache) *QueryService {
	return &QueryService{
		projectRepo: projectRepo,
		sceneRepo:   sceneRepo,
		cache:       redisCache,
	}
}

// GetProject 查询项目详情（校验归属）
func (s *QueryService) GetProject(ctx context.Context, userID, projectID string) (*movie.Project, error) {
	project, err := s.projectRepo.FindByID(ctx, projectID)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrProjectNotFound
		}
		return nil, err
	}
	if project.UserID != userID {
		return nil, ErrForbidden
	}
	return project, nil
}

// GetProgress 查询项目进度（带缓存）
// 缓存 TTL 很短，生成中的数字最多延迟半分钟，可接受
func (s *QueryService) GetProgress(ctx context.Context, userID, projectID string) (*ProjectProgress, error) {
	key := cache.ProjectProgressKey(projectID)

	var cached ProjectProgress
	if s.cache != nil {
		if err := s.cache.Get(ctx, key, &cached); err == nil {
			if cached.UserID != userID {
				return nil, ErrForbidden
			}
			return &cached, nil
		}
	}

	project, err := s.GetProject(ctx, userID, projectID)
	if err != nil {
		return nil, err
	}

	progress := &ProjectProgress{
		ProjectID:       project.ID,
		UserID:          project.UserID,
		Status:          project.Status.String(),
		CurrentScene:    project.CurrentScene,
		TotalScenes:     project.TotalScenes,
		CompletedScenes: project.CompletedScenes,
		SpentCredits:    project.SpentCredits,
		FinalVideoURL:   project.FinalVideoURL,
		TotalDuration:   project.TotalDuration,
		ErrorMessage:    project.ErrorMessage,
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, key, progress, cache.ProjectProgressTTL); err != nil {
			log.Warn().Err(err).Str("project_id", projectID).Msg("写入进度缓存失败")
		}
	}

	return progress, nil
}

// ListScenes 查询项目全部场景（按编号排序）
func (s *QueryService) ListScenes(ctx context.Context, userID, projectID string) ([]*movie.Scene, error) {
	if _, err := s.GetProject(ctx, userID, projectID); err != nil {
		return nil, err
	}
	return s.sceneRepo.FindByProject(ctx, projectID)
}

// ListProjects 查询用户的项目列表
func (s *QueryService) ListProjects(ctx context.Context, userID string, limit int64) ([]*movie.Project, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	return s.projectRepo.FindByUser(ctx, userID, limit)
}
