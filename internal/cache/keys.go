package cache

import (
	"fmt"

	"github.com/google/uuid"
)

// Every key lives under one namespace so a shared Redis can be flushed per app.
const namespace = "artify"

// RecordKey addresses the cached snapshot of a terminal record.
func RecordKey(id uuid.UUID) string {
	return fmt.Sprintf("%s:record:%s", namespace, id)
}

// RateLimitKey scopes a counter to one caller and one fixed window. The
// subject is an owner ID, or "anon:<ip>" for unauthenticated callers.
func RateLimitKey(subject string, window int64) string {
	return fmt.Sprintf("%s:ratelimit:%s:%d", namespace, subject, window)
}
