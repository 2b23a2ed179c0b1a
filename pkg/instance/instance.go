package instance

import "os"

// ID names the running process for logs and lock ownership. DYNO wins over
// SETTLA_INSTANCE_ID, then the hostname.
func ID() string {
	for _, key := range []string{"DYNO", "SETTLA_INSTANCE_ID"} {
		if id := os.Getenv(key); id != "" {
			return id
		}
	}
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return "local-0"
}
