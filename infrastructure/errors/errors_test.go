package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"
)

func TestServiceError_Error(t *testing.T) {
	e := New(ErrCodeAgentNotFound, "Agent not found", http.StatusNotFound)
	if got := e.Error(); got != "[RES_AGENT_NOT_FOUND] Agent not found" {
		t.Fatalf("Error() = %q", got)
	}

	wrapped := Wrap(ErrCodeStorage, "Storage operation failed", http.StatusInternalServerError, errors.New("disk full"))
	if got := wrapped.Error(); got != "[SVC_STORAGE] Storage operation failed: disk full" {
		t.Fatalf("Error() = %q", got)
	}
}

func TestUnwrap(t *testing.T) {
	cause := errors.New("boom")
	e := Internal("save failed", cause)
	if !errors.Is(e, cause) {
		t.Fatalf("errors.Is should see the cause through Unwrap")
	}
}

func TestWithDetails(t *testing.T) {
	e := InvalidInput("complexity", "must be within [0,1]")
	if e.Details["field"] != "complexity" {
		t.Fatalf("field detail missing: %v", e.Details)
	}
	e.WithDetails("supplied", 1.5)
	if e.Details["supplied"] != 1.5 {
		t.Fatalf("supplied detail missing: %v", e.Details)
	}
}

func TestGetServiceError(t *testing.T) {
	e := AuthFailed("alpha")
	chained := fmt.Errorf("dispatch: %w", e)

	got := GetServiceError(chained)
	if got == nil || got.Code != ErrCodeAuthFailed {
		t.Fatalf("GetServiceError = %v", got)
	}
	if GetServiceError(errors.New("plain")) != nil {
		t.Fatalf("plain error should not convert")
	}
}

func TestGetHTTPStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"auth", AuthFailed("a"), http.StatusUnauthorized},
		{"not found", AgentNotFound("a"), http.StatusNotFound},
		{"rate limited", RateLimited("updates", time.Now().Add(time.Minute)), http.StatusTooManyRequests},
		{"lock", LockTimeout("metadata", 5*time.Second), http.StatusServiceUnavailable},
		{"plain", errors.New("x"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := GetHTTPStatus(tt.err); got != tt.want {
				t.Fatalf("GetHTTPStatus = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestRetryable(t *testing.T) {
	if !IsRetryable(LockTimeout("agent:alpha", time.Second)) {
		t.Fatalf("lock timeout should be retryable")
	}
	if !IsRetryable(LoopCooldown(5*time.Second, "rapid-fire")) {
		t.Fatalf("loop cooldown should be retryable")
	}
	if IsRetryable(AuthFailed("alpha")) {
		t.Fatalf("auth failure is not retryable")
	}
}

func TestLoopCooldownDetails(t *testing.T) {
	e := LoopCooldown(4200*time.Millisecond, "rapid-fire")
	remaining, ok := e.Details["remaining_seconds"].(float64)
	if !ok || remaining <= 0 || remaining > 5 {
		t.Fatalf("remaining_seconds = %v", e.Details["remaining_seconds"])
	}
	if e.Code != ErrCodeLoopCooldown {
		t.Fatalf("code = %s", e.Code)
	}
}

func TestRateLimitedDetails(t *testing.T) {
	reset := time.Now().Add(30 * time.Minute)
	e := RateLimited("knowledge_stores", reset)
	if e.Details["reset_at"] != reset.UTC().Format(time.RFC3339) {
		t.Fatalf("reset_at = %v", e.Details["reset_at"])
	}
}

func TestRecoveryHints(t *testing.T) {
	e := AgentNotFound("ghost")
	if e.Recovery == nil || len(e.Recovery.RelatedTools) == 0 {
		t.Fatalf("not-found should carry a recovery hint")
	}
	if e.Recovery.RelatedTools[0] != "get_agent_api_key" {
		t.Fatalf("related tool = %v", e.Recovery.RelatedTools)
	}
}

func TestSanitize(t *testing.T) {
	internal := Internal("persist state", errors.New("open /var/data/agents/x_state.json: permission denied"))
	if got := Sanitize(internal); got != "persist state" {
		t.Fatalf("Sanitize leaked cause: %q", got)
	}
	if got := Sanitize(errors.New("raw path /tmp/x")); got != "internal error" {
		t.Fatalf("Sanitize(plain) = %q", got)
	}
}
