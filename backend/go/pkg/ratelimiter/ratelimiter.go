package ratelimiter

// RateLimiter gates outbound calls to paid provider APIs. The embedding
// layer consults it before every request; callers that get false back
// wait and retry rather than drop the work.
type RateLimiter interface {
	// Allow returns true if the request is allowed, otherwise returns false.
	Allow() bool
}
