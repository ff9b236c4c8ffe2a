package message

import "math"

// Usage tracks the four token counters reported by the provider. All
// arithmetic saturates at math.MaxInt64 instead of wrapping.
type Usage struct {
	InputTokens      int64 `json:"input_tokens"`
	OutputTokens     int64 `json:"output_tokens"`
	CacheReadTokens  int64 `json:"cache_read_tokens"`
	CacheWriteTokens int64 `json:"cache_write_tokens"`
}

// ContextWindow reports how much of the context window the request consumed:
// input + cache_read + cache_write.
func (u Usage) ContextWindow() int64 {
	return SatAdd(SatAdd(u.InputTokens, u.CacheReadTokens), u.CacheWriteTokens)
}

// Add accumulates another usage sample into the receiver.
func (u *Usage) Add(other Usage) {
	u.InputTokens = SatAdd(u.InputTokens, other.InputTokens)
	u.OutputTokens = SatAdd(u.OutputTokens, other.OutputTokens)
	u.CacheReadTokens = SatAdd(u.CacheReadTokens, other.CacheReadTokens)
	u.CacheWriteTokens = SatAdd(u.CacheWriteTokens, other.CacheWriteTokens)
}

// SatAdd adds two non-negative counters, clamping at MaxInt64.
func SatAdd(a, b int64) int64 {
	if a < 0 {
		a = 0
	}
	if b < 0 {
		b = 0
	}
	if a > math.MaxInt64-b {
		return math.MaxInt64
	}
	return a + b
}

// SatMul multiplies two non-negative counters, clamping at MaxInt64.
func SatMul(a, b int64) int64 {
	if a <= 0 || b <= 0 {
		return 0
	}
	if a > math.MaxInt64/b {
		return math.MaxInt64
	}
	return a * b
}
