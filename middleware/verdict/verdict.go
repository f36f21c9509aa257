package verdict

import (
	"errors"
	"net/http"
	"time"
)

// Kind classifica a rejeição. Cada kind tem um sentinel correspondente
// para uso com errors.Is.
type Kind string

const (
	KindRateLimit   Kind = "rate_limit_exceeded"
	KindQuota       Kind = "quota_exceeded"
	KindValidation  Kind = "validation_error"
	KindPermission  Kind = "permission_denied"
	KindUnavailable Kind = "unavailable"
)

var (
	ErrRateLimitExceeded = errors.New("rate limit exceeded")
	ErrQuotaExceeded     = errors.New("quota exceeded")
	ErrValidation        = errors.New("validation error")
	ErrPermissionDenied  = errors.New("permission denied")
	ErrUnavailable       = errors.New("unavailable")
)

// Rejection é o motivo estável de uma recusa: status HTTP, código de máquina
// e mensagem humana. RetryAfter só faz sentido para rate/quota.
type Rejection struct {
	Kind       Kind
	Status     int
	Code       string
	Message    string
	RetryAfter time.Duration
}

func (r *Rejection) Error() string {
	return r.Code + ": " + r.Message
}

func (r *Rejection) Unwrap() error {
	switch r.Kind {
	case KindRateLimit:
		return ErrRateLimitExceeded
	case KindQuota:
		return ErrQuotaExceeded
	case KindValidation:
		return ErrValidation
	case KindPermission:
		return ErrPermissionDenied
	case KindUnavailable:
		return ErrUnavailable
	}
	return nil
}

// Verdict é o resultado de uma checagem: Pass ou Reject(Rejection).
// O valor zero é Pass.
type Verdict struct {
	rejection *Rejection
}

func Pass() Verdict { return Verdict{} }

func Reject(r Rejection) Verdict { return Verdict{rejection: &r} }

func (v Verdict) Passed() bool { return v.rejection == nil }

// Rejection retorna nil quando o verdict é Pass.
func (v Verdict) Rejection() *Rejection { return v.rejection }

// Check é uma checagem pura sobre o request.
type Check func(r *http.Request) Verdict

// Run executa as checagens em ordem e para na primeira rejeição.
func Run(r *http.Request, checks ...Check) Verdict {
	for _, check := range checks {
		if v := check(r); !v.Passed() {
			return v
		}
	}
	return Pass()
}

func RateLimited(code, message string, retryAfter time.Duration) Verdict {
	return Reject(Rejection{Kind: KindRateLimit, Status: http.StatusTooManyRequests, Code: code, Message: message, RetryAfter: retryAfter})
}

func QuotaExceeded(code, message string) Verdict {
	return Reject(Rejection{Kind: KindQuota, Status: http.StatusTooManyRequests, Code: code, Message: message})
}

func Invalid(code, message string) Verdict {
	return Reject(Rejection{Kind: KindValidation, Status: http.StatusBadRequest, Code: code, Message: message})
}

func Forbidden(code, message string) Verdict {
	return Reject(Rejection{Kind: KindPermission, Status: http.StatusForbidden, Code: code, Message: message})
}

func Unavailable(code, message string) Verdict {
	return Reject(Rejection{Kind: KindUnavailable, Status: http.StatusServiceUnavailable, Code: code, Message: message})
}
