package id

import (
	"github.com/google/uuid"
)

// New 生成UUID字符串
// 项目、场景、渲染任务和账单流水的主键都用它
func New() string {
	return uuid.New().String()
}

// IsValid 校验路径参数里的ID格式
func IsValid(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}
