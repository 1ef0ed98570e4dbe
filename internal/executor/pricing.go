package executor

import (
	"time"

	"github.com/hivegrid/hivegrid/internal/config"
	"github.com/hivegrid/hivegrid/internal/node"
	"github.com/shopspring/decimal"
)

// Pricing is the billing model: resource-seconds plus a fixed cold start
// penalty. Money math stays in decimals; floats never touch a bill.
type Pricing struct {
	CPUSecond        decimal.Decimal
	MemoryGBSecond   decimal.Decimal
	GPUSecond        decimal.Decimal
	ColdStartPenalty decimal.Decimal
}

func PricingFromConfig() Pricing {
	return Pricing{
		CPUSecond:        decimal.NewFromFloat(config.GetFloat(config.PRICE_CPU_SECOND, 0.000024)),
		MemoryGBSecond:   decimal.NewFromFloat(config.GetFloat(config.PRICE_MEMORY_GB_SECOND, 0.0000025)),
		GPUSecond:        decimal.NewFromFloat(config.GetFloat(config.PRICE_GPU_SECOND, 0.00035)),
		ColdStartPenalty: decimal.NewFromFloat(config.GetFloat(config.PRICE_COLD_START, 0.0001)),
	}
}

// CostEstimate breaks an estimate down per resource dimension. Amounts
// are decimal strings in USD.
type CostEstimate struct {
	CPUCost          string `json:"cpuCost"`
	MemoryCost       string `json:"memoryCost"`
	GPUCost          string `json:"gpuCost"`
	ColdStartPenalty string `json:"coldStartPenalty"`
	TotalCost        string `json:"totalCost"`
}

// Estimate is a pure function: no side effects, usable both for
// user-facing quotes and for billing finished executions.
func (p Pricing) Estimate(res node.ContainerResources, duration time.Duration, expectColdStart bool) CostEstimate {
	seconds := decimal.NewFromFloat(duration.Seconds())

	cpu := p.CPUSecond.Mul(decimal.NewFromFloat(res.CPUCores)).Mul(seconds)
	memGB := decimal.NewFromInt(res.MemoryMB).Div(decimal.NewFromInt(1024))
	mem := p.MemoryGBSecond.Mul(memGB).Mul(seconds)

	gpu := decimal.Zero
	if res.GPUCount > 0 {
		gpu = p.GPUSecond.Mul(decimal.NewFromInt(int64(res.GPUCount))).Mul(seconds)
	}

	penalty := decimal.Zero
	if expectColdStart {
		penalty = p.ColdStartPenalty
	}

	total := cpu.Add(mem).Add(gpu).Add(penalty)
	return CostEstimate{
		CPUCost:          cpu.String(),
		MemoryCost:       mem.String(),
		GPUCost:          gpu.String(),
		ColdStartPenalty: penalty.String(),
		TotalCost:        total.String(),
	}
}
