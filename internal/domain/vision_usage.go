package domain

import (
	"context"
	"sync"
)

type visionUsageKey struct{}

// VisionUsage collects model token usage for a single request.
// The handler puts a mutable pointer into the context before calling the pipeline;
// the vision client writes after each model call; the handler reads it for response headers.
// Coalesced requests share one collector (the leader's), so writes are locked.
type VisionUsage struct {
	mu               sync.Mutex
	PromptTokens     int
	CompletionTokens int
	Calls            int
}

// NewContextWithVisionUsage returns a context with an embedded usage collector.
func NewContextWithVisionUsage(ctx context.Context) (context.Context, *VisionUsage) {
	u := &VisionUsage{}
	return context.WithValue(ctx, visionUsageKey{}, u), u
}

// VisionUsageFromContext extracts the usage collector from context. Returns nil if not set.
func VisionUsageFromContext(ctx context.Context) *VisionUsage {
	u, _ := ctx.Value(visionUsageKey{}).(*VisionUsage)
	return u
}

// Record adds one model call with its token counts.
func (u *VisionUsage) Record(prompt, completion int) {
	if u == nil {
		return
	}
	u.mu.Lock()
	u.PromptTokens += prompt
	u.CompletionTokens += completion
	u.Calls++
	u.mu.Unlock()
}

// TotalTokens returns prompt + completion tokens recorded so far.
func (u *VisionUsage) TotalTokens() int {
	if u == nil {
		return 0
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.PromptTokens + u.CompletionTokens
}
