package envutil

import (
	"os"
	"strings"
)

// EnvVar selects the runtime environment
const EnvVar = "AUTH_FRONT_ENV"

// IsDev checks if we're running in development mode, where cookies
// may be sent over plain HTTP to localhost
func IsDev() bool {
	env := strings.ToLower(os.Getenv(EnvVar))
	return env == "development" || env == "dev"
}
