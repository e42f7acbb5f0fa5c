package audit

import "time"

// LimitExceededEvent is emitted when a request is denied because its key
// has no remaining quota.
type LimitExceededEvent struct {
	ID         string        `json:"id"`
	Key        string        `json:"key"`
	Algorithm  string        `json:"algorithm"`
	Limit      int64         `json:"limit"`
	RetryAfter time.Duration `json:"retryAfter"`
	Path       string        `json:"path"`
	Method     string        `json:"method"`
	ClientIP   string        `json:"clientIp"`
	UserAgent  string        `json:"userAgent"`
	DeniedAt   time.Time     `json:"deniedAt"`
}

// LimiterDegradedEvent is emitted when the backing store is unreachable
// and the limiter falls back to its configured failure policy.
type LimiterDegradedEvent struct {
	ID         string    `json:"id"`
	Key        string    `json:"key"`
	Policy     string    `json:"policy"`
	Path       string    `json:"path"`
	OccurredAt time.Time `json:"occurredAt"`
}
