package movie

// ProjectStatus 项目状态
type ProjectStatus string

const (
	ProjectStatusDraft       ProjectStatus = "draft"        // 草稿
	ProjectStatusScriptReady ProjectStatus = "script_ready" // 剧本就绪
	ProjectStatusGenerating  ProjectStatus = "generating"   // 生成中（编排器唯一处理的状态）
	ProjectStatusPaused      ProjectStatus = "paused"       // 已暂停（积分不足等，需人工介入）
	ProjectStatusCompleted   ProjectStatus = "completed"    // 已完成
	ProjectStatusFailed      ProjectStatus = "failed"       // 失败
	ProjectStatusCancelled   ProjectStatus = "cancelled"    // 已取消
)

// String 返回状态的字符串表示
func (s ProjectStatus) String() string {
	return string(s)
}

// SceneStatus 场景状态（状态机状态）
type SceneStatus string

const (
	SceneStatusPending    SceneStatus = "pending"    // 待提交
	SceneStatusGenerating SceneStatus = "generating" // 渲染中
	SceneStatusNarrating  SceneStatus = "narrating"  // 合成解说中
	SceneStatusMerging    SceneStatus = "merging"    // 合成发布中
	SceneStatusCompleted  SceneStatus = "completed"  // 已完成
	SceneStatusFailed     SceneStatus = "failed"     // 失败
)

// String 返回状态的字符串表示
func (s SceneStatus) String() string {
	return string(s)
}

// GenerationStatus 外部渲染任务状态
type GenerationStatus string

const (
	GenerationStatusPending    GenerationStatus = "pending"    // 已创建，尚未提交成功
	GenerationStatusProcessing GenerationStatus = "processing" // 提供商处理中
	GenerationStatusCompleted  GenerationStatus = "completed"  // 完成
	GenerationStatusFailed     GenerationStatus = "failed"     // 失败
	GenerationStatusExpired    GenerationStatus = "expired"    // 过期
)

// String 返回状态的字符串表示
func (s GenerationStatus) String() string {
	return string(s)
}

// IsTerminal 是否为终态
func (s GenerationStatus) IsTerminal() bool {
	return s == GenerationStatusCompleted || s == GenerationStatusFailed || s == GenerationStatusExpired
}
