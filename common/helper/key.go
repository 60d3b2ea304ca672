package helper

const (
	// RequestIdHeader carries the gateway request identifier back to clients.
	RequestIdHeader = "X-Gateway-Request-Id"
)

// MaskAPIKey returns a masked version of an API key for safe logging.
// It shows the first 6 characters and last 4 characters, with "..." in
// between; short keys collapse to "***".
func MaskAPIKey(key string) string {
	if len(key) < 12 {
		return "***"
	}
	return key[:6] + "..." + key[len(key)-4:]
}
