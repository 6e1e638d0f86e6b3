package movie

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/mongo"

	"filmforge/internal/model/billing"
	"filmforge/internal/model/movie"
	"filmforge/internal/pkg/generation"
	"filmforge/internal/pkg/id"
	billingrepo "filmforge/internal/repository/billing"
	joblockrepo "filmforge/internal/repository/joblock"
)

// 内存版仓库实现，行为对齐 Mongo 版的条件更新语义，
// 查不到返回 mongo.ErrNoDocuments 以便上层的错误判断走同一条路

type fakeProjectRepo struct {
	mu       sync.Mutex
	projects map[string]*movie.Project
}

func newFakeProjectRepo() *fakeProjectRepo {
	return &fakeProjectRepo{projects: make(map[string]*movie.Project)}
}

func (r *fakeProjectRepo) Create(ctx context.Context, p *movie.Project) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	p.CreatedAt = now
	p.UpdatedAt = now
	if p.Status == "" {
		p.Status = movie.ProjectStatusDraft
	}
	if p.CurrentScene == 0 {
		p.CurrentScene = 1
	}
	cp := *p
	r.projects[p.ID] = &cp
	return nil
}

func (r *fakeProjectRepo) FindByID(ctx context.Context, projectID string) (*movie.Project, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.projects[projectID]
	if !ok {
		return nil, mongo.ErrNoDocuments
	}
	cp := *p
	return &cp, nil
}

func (r *fakeProjectRepo) FindByUser(ctx context.Context, userID string, limit int64) ([]*movie.Project, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*movie.Project
	for _, p := range r.projects {
		if p.UserID == userID {
			cp := *p
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if int64(len(out)) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *fakeProjectRepo) FindGenerating(ctx context.Context, limit int64) ([]*movie.Project, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*movie.Project
	for _, p := range r.projects {
		if p.Status == movie.ProjectStatusGenerating {
			cp := *p
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	if int64(len(out)) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *fakeProjectRepo) UpdateStatus(ctx context.Context, projectID string, status movie.ProjectStatus, errorMessage string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.projects[projectID]
	if !ok {
		return nil
	}
	p.Status = status
	if errorMessage != "" {
		p.ErrorMessage = errorMessage
	}
	p.UpdatedAt = time.Now()
	return nil
}

func (r *fakeProjectRepo) AdvanceCurrentScene(ctx context.Context, projectID string, fromScene int) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.projects[projectID]
	if !ok || p.CurrentScene != fromScene || p.Status != movie.ProjectStatusGenerating {
		return false, nil
	}
	p.CurrentScene++
	p.UpdatedAt = time.Now()
	return true, nil
}

func (r *fakeProjectRepo) IncrementCompletedScenes(ctx context.Context, projectID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.projects[projectID]; ok {
		p.CompletedScenes++
		p.UpdatedAt = time.Now()
	}
	return nil
}

func (r *fakeProjectRepo) IncrementSpentCredits(ctx context.Context, projectID string, amount int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.projects[projectID]; ok {
		p.SpentCredits += amount
		p.UpdatedAt = time.Now()
	}
	return nil
}

func (r *fakeProjectRepo) SetFinalVideo(ctx context.Context, projectID, videoURL string, duration float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.projects[projectID]; ok {
		p.FinalVideoURL = videoURL
		p.TotalDuration = duration
		p.UpdatedAt = time.Now()
	}
	return nil
}

func (r *fakeProjectRepo) Touch(ctx context.Context, projectID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.projects[projectID]; ok {
		p.UpdatedAt = time.Now()
	}
	return nil
}

type fakeSceneRepo struct {
	mu     sync.Mutex
	scenes map[string]*movie.Scene
}

func newFakeSceneRepo() *fakeSceneRepo {
	return &fakeSceneRepo{scenes: make(map[string]*movie.Scene)}
}

func (r *fakeSceneRepo) Create(ctx context.Context, s *movie.Scene) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	s.CreatedAt = now
	s.UpdatedAt = now
	if s.Status == "" {
		s.Status = movie.SceneStatusPending
	}
	cp := *s
	r.scenes[s.ID] = &cp
	return nil
}

func (r *fakeSceneRepo) FindByID(ctx context.Context, sceneID string) (*movie.Scene, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.scenes[sceneID]
	if !ok {
		return nil, mongo.ErrNoDocuments
	}
	cp := *s
	return &cp, nil
}

func (r *fakeSceneRepo) FindByProjectAndNumber(ctx context.Context, projectID string, sceneNumber int) (*movie.Scene, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.scenes {
		if s.ProjectID == projectID && s.SceneNumber == sceneNumber {
			cp := *s
			return &cp, nil
		}
	}
	return nil, mongo.ErrNoDocuments
}

func (r *fakeSceneRepo) FindByProject(ctx context.Context, projectID string) ([]*movie.Scene, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*movie.Scene
	for _, s := range r.scenes {
		if s.ProjectID == projectID {
			cp := *s
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SceneNumber < out[j].SceneNumber })
	return out, nil
}

func (r *fakeSceneRepo) FindCompletedByProject(ctx context.Context, projectID string) ([]*movie.Scene, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*movie.Scene
	for _, s := range r.scenes {
		if s.ProjectID == projectID && s.Status == movie.SceneStatusCompleted {
			cp := *s
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SceneNumber < out[j].SceneNumber })
	return out, nil
}

func (r *fakeSceneRepo) UpdateStatus(ctx context.Context, sceneID string, status movie.SceneStatus, errorMessage string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.scenes[sceneID]; ok {
		s.Status = status
		if errorMessage != "" {
			s.ErrorMessage = errorMessage
		}
		s.UpdatedAt = time.Now()
	}
	return nil
}

func (r *fakeSceneRepo) RecordCharge(ctx context.Context, sceneID, generationID string, creditCost int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.scenes[sceneID]; ok {
		s.GenerationID = generationID
		s.CreditCost = creditCost
		s.UpdatedAt = time.Now()
	}
	return nil
}

func (r *fakeSceneRepo) SetVideoURL(ctx context.Context, sceneID, videoURL string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.scenes[sceneID]; ok {
		s.VideoURL = videoURL
		s.UpdatedAt = time.Now()
	}
	return nil
}

func (r *fakeSceneRepo) SetPublished(ctx context.Context, sceneID, publicVideoURL, lastFrameURL string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.scenes[sceneID]; ok {
		s.PublicVideoURL = publicVideoURL
		if lastFrameURL != "" {
			s.LastFrameURL = lastFrameURL
		}
		s.UpdatedAt = time.Now()
	}
	return nil
}

func (r *fakeSceneRepo) MarkCompleted(ctx context.Context, sceneID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.scenes[sceneID]; ok {
		now := time.Now()
		s.Status = movie.SceneStatusCompleted
		s.CompletedAt = &now
		s.UpdatedAt = now
	}
	return nil
}

// mutate 测试直接改写场景字段，绕过仓库方法构造指定状态
func (r *fakeSceneRepo) mutate(sceneID string, fn func(*movie.Scene)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.scenes[sceneID]; ok {
		fn(s)
	}
}

func (r *fakeSceneRepo) ResetForRetry(ctx context.Context, sceneID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.scenes[sceneID]; ok {
		s.Status = movie.SceneStatusPending
		s.ErrorMessage = ""
		s.RetryCount++
		s.UpdatedAt = time.Now()
	}
	return nil
}

type fakeGenerationRepo struct {
	mu          sync.Mutex
	generations map[string]*movie.Generation
}

func newFakeGenerationRepo() *fakeGenerationRepo {
	return &fakeGenerationRepo{generations: make(map[string]*movie.Generation)}
}

func (r *fakeGenerationRepo) Create(ctx context.Context, g *movie.Generation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	g.CreatedAt = now
	g.UpdatedAt = now
	if g.Status == "" {
		g.Status = movie.GenerationStatusPending
	}
	cp := *g
	r.generations[g.ID] = &cp
	return nil
}

func (r *fakeGenerationRepo) FindByID(ctx context.Context, generationID string) (*movie.Generation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	g, ok := r.generations[generationID]
	if !ok {
		return nil, mongo.ErrNoDocuments
	}
	cp := *g
	return &cp, nil
}

func (r *fakeGenerationRepo) FindByProviderRequestID(ctx context.Context, providerRequestID string) (*movie.Generation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, g := range r.generations {
		if g.ProviderRequestID == providerRequestID {
			cp := *g
			return &cp, nil
		}
	}
	return nil, mongo.ErrNoDocuments
}

func (r *fakeGenerationRepo) FindActiveByScene(ctx context.Context, sceneID string) (*movie.Generation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var latest *movie.Generation
	for _, g := range r.generations {
		if g.SceneID != sceneID || g.Status.IsTerminal() {
			continue
		}
		if latest == nil || g.CreatedAt.After(latest.CreatedAt) {
			latest = g
		}
	}
	if latest == nil {
		return nil, mongo.ErrNoDocuments
	}
	cp := *latest
	return &cp, nil
}

func (r *fakeGenerationRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.generations)
}

func (r *fakeGenerationRepo) MarkCreditDeducted(ctx context.Context, generationID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if g, ok := r.generations[generationID]; ok {
		g.CreditDeducted = true
		g.UpdatedAt = time.Now()
	}
	return nil
}

func (r *fakeGenerationRepo) SetProviderRequestID(ctx context.Context, generationID, providerRequestID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if g, ok := r.generations[generationID]; ok {
		g.ProviderRequestID = providerRequestID
		g.Status = movie.GenerationStatusProcessing
		g.UpdatedAt = time.Now()
	}
	return nil
}

func (r *fakeGenerationRepo) MarkCompleted(ctx context.Context, generationID, videoURL string) (bool, error) {
	return r.markTerminal(generationID, func(g *movie.Generation) {
		g.Status = movie.GenerationStatusCompleted
		g.VideoURL = videoURL
	})
}

func (r *fakeGenerationRepo) MarkFailed(ctx context.Context, generationID, errorMessage string) (bool, error) {
	return r.markTerminal(generationID, func(g *movie.Generation) {
		g.Status = movie.GenerationStatusFailed
		g.ErrorMessage = errorMessage
	})
}

func (r *fakeGenerationRepo) MarkExpired(ctx context.Context, generationID string) (bool, error) {
	return r.markTerminal(generationID, func(g *movie.Generation) {
		g.Status = movie.GenerationStatusExpired
		g.ErrorMessage = "generation job expired at provider"
	})
}

func (r *fakeGenerationRepo) markTerminal(generationID string, apply func(*movie.Generation)) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	g, ok := r.generations[generationID]
	if !ok || g.Status.IsTerminal() {
		return false, nil
	}
	apply(g)
	g.UpdatedAt = time.Now()
	return true, nil
}

type fakeCreditRepo struct {
	mu         sync.Mutex
	balances   map[string]int
	deductions map[string]*billing.Transaction
	refunds    int
}

func newFakeCreditRepo() *fakeCreditRepo {
	return &fakeCreditRepo{
		balances:   make(map[string]int),
		deductions: make(map[string]*billing.Transaction),
	}
}

func (r *fakeCreditRepo) GetOrCreateAccount(ctx context.Context, userID string) (*billing.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return &billing.Account{ID: id.New(), UserID: userID, Credits: r.balances[userID]}, nil
}

func (r *fakeCreditRepo) GetBalance(ctx context.Context, userID string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.balances[userID], nil
}

func (r *fakeCreditRepo) Grant(ctx context.Context, userID string, amount int, description string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.balances[userID] += amount
	return nil
}

func (r *fakeCreditRepo) Deduct(ctx context.Context, userID string, amount int, generationID, projectID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.deductions[generationID]; exists {
		return billingrepo.ErrDuplicateDeduction
	}
	if r.balances[userID] < amount {
		return billingrepo.ErrInsufficientCredits
	}
	r.balances[userID] -= amount
	r.deductions[generationID] = &billing.Transaction{
		ID:           id.New(),
		UserID:       userID,
		Type:         billing.TransactionTypeDeduct,
		Amount:       amount,
		GenerationID: generationID,
		ProjectID:    projectID,
	}
	return nil
}

func (r *fakeCreditRepo) Refund(ctx context.Context, generationID string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	txn, ok := r.deductions[generationID]
	if !ok || txn.Refunded {
		return 0, nil
	}
	txn.Refunded = true
	r.balances[txn.UserID] += txn.Amount
	r.refunds++
	return txn.Amount, nil
}

func (r *fakeCreditRepo) FindDeduction(ctx context.Context, generationID string) (*billing.Transaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	txn, ok := r.deductions[generationID]
	if !ok {
		return nil, mongo.ErrNoDocuments
	}
	cp := *txn
	return &cp, nil
}

type fakeLockRepo struct {
	mu       sync.Mutex
	holder   string
	acquires int
	releases int
}

func newFakeLockRepo() *fakeLockRepo {
	return &fakeLockRepo{}
}

func (r *fakeLockRepo) Acquire(ctx context.Context, jobName string, ttl time.Duration) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.holder != "" {
		return "", joblockrepo.ErrLockHeld
	}
	r.holder = id.New()
	r.acquires++
	return r.holder, nil
}

func (r *fakeLockRepo) Release(ctx context.Context, jobName, lockID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.holder == lockID {
		r.holder = ""
		r.releases++
	}
	return nil
}

func (r *fakeLockRepo) held() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.holder != ""
}

type fakeProvider struct {
	mu           sync.Mutex
	submitErr    error
	panicPrompt  string // 提示词包含该片段时提交直接 panic
	pollStatus   *generation.JobStatus
	pollErr      error
	textSubmits  int
	imageSubmits int
	polls        int
	lastText     *generation.TextToVideoRequest
	lastImage    *generation.ImageToVideoRequest
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		pollStatus: &generation.JobStatus{State: generation.JobStateProcessing},
	}
}

func (p *fakeProvider) SubmitTextToVideo(ctx context.Context, req *generation.TextToVideoRequest) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.panicPrompt != "" && strings.Contains(req.Prompt, p.panicPrompt) {
		panic("provider client broken")
	}
	if p.submitErr != nil {
		return "", p.submitErr
	}
	p.textSubmits++
	p.lastText = req
	return fmt.Sprintf("req-t2v-%d", p.textSubmits), nil
}

func (p *fakeProvider) SubmitImageToVideo(ctx context.Context, req *generation.ImageToVideoRequest) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.panicPrompt != "" && strings.Contains(req.Prompt, p.panicPrompt) {
		panic("provider client broken")
	}
	if p.submitErr != nil {
		return "", p.submitErr
	}
	p.imageSubmits++
	p.lastImage = req
	return fmt.Sprintf("req-i2v-%d", p.imageSubmits), nil
}

func (p *fakeProvider) PollStatus(ctx context.Context, model, requestID string) (*generation.JobStatus, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.polls++
	if p.pollErr != nil {
		return nil, p.pollErr
	}
	cp := *p.pollStatus
	return &cp, nil
}

func (p *fakeProvider) submits() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.textSubmits + p.imageSubmits
}

type fakeNarrator struct {
	mu    sync.Mutex
	err   error
	calls int
}

func (n *fakeNarrator) Synthesize(ctx context.Context, text, voice string, speedRatio float64) ([]byte, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls++
	if n.err != nil {
		return nil, n.err
	}
	return []byte("fake-audio"), nil
}

type fakeMedia struct {
	mu         sync.Mutex
	muxErr     error
	publishErr error
	concatErr  error
	publishes  int
	concats    int
}

func (m *fakeMedia) MuxNarration(ctx context.Context, projectID string, sceneNumber int, videoURL string, audio []byte) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.muxErr != nil {
		return "", m.muxErr
	}
	return fmt.Sprintf("local://projects/%s/scenes/%d/narrated.mp4", projectID, sceneNumber), nil
}

func (m *fakeMedia) PublishScene(ctx context.Context, projectID string, sceneNumber int, videoURL string) (string, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.publishErr != nil {
		return "", "", m.publishErr
	}
	m.publishes++
	return fmt.Sprintf("local://projects/%s/scenes/%d/scene.mp4", projectID, sceneNumber),
		fmt.Sprintf("local://projects/%s/scenes/%d/last_frame.jpg", projectID, sceneNumber), nil
}

func (m *fakeMedia) ConcatScenes(ctx context.Context, projectID string, videoURLs []string) (string, float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.concats++
	if m.concatErr != nil {
		return "", 0, m.concatErr
	}
	return fmt.Sprintf("local://projects/%s/final.mp4", projectID), float64(len(videoURLs)) * 5.0, nil
}

// pipelineFixture 一套完整的流水线测试装配
type pipelineFixture struct {
	projects     *fakeProjectRepo
	scenes       *fakeSceneRepo
	generations  *fakeGenerationRepo
	credits      *fakeCreditRepo
	locks        *fakeLockRepo
	provider     *fakeProvider
	narrator     *fakeNarrator
	media        *fakeMedia
	machine      *SceneMachine
	orchestrator *Orchestrator
}

func newPipelineFixture() *pipelineFixture {
	f := &pipelineFixture{
		projects:    newFakeProjectRepo(),
		scenes:      newFakeSceneRepo(),
		generations: newFakeGenerationRepo(),
		credits:     newFakeCreditRepo(),
		locks:       newFakeLockRepo(),
		provider:    newFakeProvider(),
		narrator:    &fakeNarrator{},
		media:       &fakeMedia{},
	}
	pricing := NewPricing(map[string]int{"test-model": 10}, 10)
	f.machine = NewSceneMachine(
		f.projects, f.scenes, f.generations, f.credits,
		f.provider, f.narrator, f.media, pricing,
		3, "https://example.com/api/v1/webhooks/generation",
	)
	f.orchestrator = NewOrchestrator(
		f.projects, f.scenes, f.locks, f.machine, f.media, 10, 5*time.Minute,
	)
	return f
}

// seedProject 建一个生成中的项目和全部 pending 场景，返回项目
func (f *pipelineFixture) seedProject(ctx context.Context, userID string, totalScenes, credits int) *movie.Project {
	project := &movie.Project{
		ID:           id.New(),
		UserID:       userID,
		Title:        "测试项目",
		Model:        "test-model",
		Status:       movie.ProjectStatusGenerating,
		CurrentScene: 1,
		TotalScenes:  totalScenes,
	}
	_ = f.projects.Create(ctx, project)
	for i := 1; i <= totalScenes; i++ {
		_ = f.scenes.Create(ctx, &movie.Scene{
			ID:          id.New(),
			ProjectID:   project.ID,
			SceneNumber: i,
			Status:      movie.SceneStatusPending,
			VideoPrompt: fmt.Sprintf("场景%d提示词", i),
		})
	}
	_ = f.credits.Grant(ctx, userID, credits, "test seed")
	return project
}
