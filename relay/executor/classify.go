package executor

// ErrorKind classifies what the executor does after a failed attempt, not
// what the upstream said.
type ErrorKind int

const (
	// KindRetryableTransient covers connection faults, 502/503/504 and
	// empty streams; advance with no cooldown of its own.
	KindRetryableTransient ErrorKind = iota
	// KindRetryableRateLimit covers 429 and 529.
	KindRetryableRateLimit
	// KindRetryableAuth covers 401; the OAuth cache is invalidated on the
	// way past.
	KindRetryableAuth
	// KindKeyFatal covers 402, 403 and disabled-account 400s; the key takes
	// a long cooldown but the request advances.
	KindKeyFatal
	// KindClientFatal surfaces immediately with no retry.
	KindClientFatal
)

// retryableStatuses are the 4xx codes that justify trying another key.
var retryableStatuses = map[int]bool{
	401: true, 402: true, 403: true, 408: true,
	409: true, 423: true, 425: true, 429: true,
}

// errorCategories label usage rows and metrics per kind.
var errorCategories = map[ErrorKind]string{
	KindRetryableTransient: "transient",
	KindRetryableRateLimit: "rate_limit",
	KindRetryableAuth:      "auth",
	KindKeyFatal:           "key_fatal",
	KindClientFatal:        "client_error",
}

// classifyStatus maps an upstream HTTP status onto the executor's action.
func classifyStatus(statusCode int) ErrorKind {
	switch {
	case statusCode == 401:
		return KindRetryableAuth
	case statusCode == 402 || statusCode == 403:
		return KindKeyFatal
	case statusCode == 429 || statusCode == 529:
		return KindRetryableRateLimit
	case statusCode >= 500:
		return KindRetryableTransient
	case retryableStatuses[statusCode]:
		return KindRetryableTransient
	default:
		return KindClientFatal
	}
}

// Retryable reports whether the executor advances to the next candidate.
func (k ErrorKind) Retryable() bool {
	return k != KindClientFatal
}

// Category returns the usage error category for this kind.
func (k ErrorKind) Category() string {
	return errorCategories[k]
}
