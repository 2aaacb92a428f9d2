package ratelimit

import (
	"context"
	"fmt"

	"microcore/pkg/apperror"
	"microcore/pkg/types"
)

// Checker is the inf_check adapter contract consumed by the Web Server
// Adapter's handler pipeline: given a Standard Request, it returns nil when
// the request may proceed to the handler, or a Standard Response that
// becomes the final response without the handler ever running.
type Checker interface {
	Check(ctx context.Context, req *types.Request, serviceConfig map[string]any) (*types.Response, error)
}

// RateLimitChecker adapts a Limiter into the inf_check Checker contract,
// keying every check on the request's client IP (falling back to "global"
// when none is present, e.g. for a local call).
type RateLimitChecker struct {
	limiter Limiter
}

// NewRateLimitChecker wraps limiter as an inf_check adapter.
func NewRateLimitChecker(limiter Limiter) *RateLimitChecker {
	return &RateLimitChecker{limiter: limiter}
}

func (c *RateLimitChecker) Check(ctx context.Context, req *types.Request, serviceConfig map[string]any) (*types.Response, error) {
	key := "global"
	if req != nil {
		if ip, ok := req.Network["ip"].(string); ok && ip != "" {
			key = ip
		}
	}

	allowed, err := c.limiter.Allow(ctx, key)
	if err != nil {
		return nil, err
	}
	if allowed {
		return nil, nil
	}

	resp := &types.Response{
		Network: types.NetworkStatus{Status: string(apperror.WireCheckReject)},
		Headers: make(map[string]string),
		Msg: map[string]any{
			"errCode": string(apperror.CodeCheckReject),
			"errMsg":  "rate limit exceeded",
		},
	}

	if info, infoErr := c.limiter.GetInfo(ctx, key); infoErr == nil && info != nil {
		resp.Headers["X-RateLimit-Limit"] = fmt.Sprintf("%d", info.Limit)
		resp.Headers["X-RateLimit-Remaining"] = fmt.Sprintf("%d", info.Remaining)
		resp.Headers["Retry-After"] = info.RetryAfter.String()
	}

	return resp, nil
}
