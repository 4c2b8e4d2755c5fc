package router

import (
	"encoding/json"
	"math"
	"time"
)

// retryDecision is the outcome of resolveRetry: whether to republish, and
// how long to delay visibility before the next delivery.
type retryDecision struct {
	Retry           bool
	VisibilityDelay time.Duration
}

// streamRetryConfig mirrors the `_streamRetryConfig` envelope field spec.md
// §4.6.4 describes: a structured retry policy attached to the message by
// the engine at publish time.
type streamRetryConfig struct {
	MaximumAttempts    int     `json:"maximumAttempts"`
	BackoffCoefficient float64 `json:"backoffCoefficient"`
	MaximumInterval    int     `json:"maximumInterval"` // seconds
}

// retryPolicyMap mirrors `input.policies.retry[errorCode] = maxRetries`.
type retryPolicyMap map[string]int

// resolveRetry applies the precedence table from spec.md §4.6.4: a
// structured per-message retry config first, then a message-level policy
// map keyed by error code, else no retry.
func resolveRetry(data map[string]string, errorCode string, try int) retryDecision {
	if raw, ok := data["_streamRetryConfig"]; ok && raw != "" {
		var cfg streamRetryConfig
		if err := json.Unmarshal([]byte(raw), &cfg); err == nil && cfg.MaximumAttempts > 0 {
			if try+1 < cfg.MaximumAttempts {
				coeff := cfg.BackoffCoefficient
				if coeff <= 0 {
					coeff = 2
				}
				delaySeconds := math.Pow(coeff, float64(try+1))
				if cfg.MaximumInterval > 0 && delaySeconds > float64(cfg.MaximumInterval) {
					delaySeconds = float64(cfg.MaximumInterval)
				}
				return retryDecision{Retry: true, VisibilityDelay: time.Duration(delaySeconds * float64(time.Second))}
			}
			return retryDecision{Retry: false}
		}
	}

	if raw, ok := data["_retryPolicies"]; ok && raw != "" {
		var policies retryPolicyMap
		if err := json.Unmarshal([]byte(raw), &policies); err == nil {
			if maxRetries, ok := policies[errorCode]; ok {
				capped := try
				if capped > hmshMaxRetries {
					capped = hmshMaxRetries
				}
				if maxRetries > capped {
					delayMs := math.Pow(10, float64(try+1))
					return retryDecision{Retry: true, VisibilityDelay: time.Duration(delayMs) * time.Millisecond}
				}
			}
		}
	}

	return retryDecision{Retry: false}
}
