package movie

// Pricing 按模型定价表
// 查价只在场景提交时发生一次，之后价格变化不影响已扣费的场景
type Pricing struct {
	modelCosts  map[string]int
	defaultCost int
}

// NewPricing 创建定价表
func NewPricing(modelCosts map[string]int, defaultCost int) *Pricing {
	if modelCosts == nil {
		modelCosts = map[string]int{}
	}
	return &Pricing{
		modelCosts:  modelCosts,
		defaultCost: defaultCost,
	}
}

// CostFor 查询模型的单场景价格
func (p *Pricing) CostFor(model string) int {
	if cost, ok := p.modelCosts[model]; ok {
		return cost
	}
	return p.defaultCost
}
