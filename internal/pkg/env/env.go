package env

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

var Env map[string]string

func GetEnv(key, def string) string {
	// First check our loaded Env map
	if val, ok := Env[key]; ok && strings.TrimSpace(val) != "" {
		return strings.TrimSpace(val)
	}
	// Fallback to OS environment variables (for Docker/tests)
	if val := strings.TrimSpace(os.Getenv(key)); val != "" {
		return val
	}
	return def
}

// GetEnvBool treats anything but an explicit "false"/"0" as true when the key is set.
func GetEnvBool(key string, def bool) bool {
	val := strings.ToLower(GetEnv(key, ""))
	switch val {
	case "":
		return def
	case "false", "0", "no", "off":
		return false
	default:
		return true
	}
}

func GetEnvInt64(key string, def int64) int64 {
	val := GetEnv(key, "")
	if val == "" {
		return def
	}
	n, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		log.Printf("env: invalid integer for %s=%q, using %d", key, val, def)
		return def
	}
	return n
}

// GetEnvDuration accepts Go duration strings ("30s") or bare milliseconds ("30000").
func GetEnvDuration(key string, def time.Duration) time.Duration {
	val := GetEnv(key, "")
	if val == "" {
		return def
	}
	if ms, err := strconv.ParseInt(val, 10, 64); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		log.Printf("env: invalid duration for %s=%q, using %s", key, val, def)
		return def
	}
	return d
}

// GetEnvList splits a comma separated value and drops empty entries.
func GetEnvList(key string) []string {
	var out []string
	for _, item := range strings.Split(GetEnv(key, ""), ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func SetupEnvFile() {
	// Look for .env file in project root
	envFiles := []string{
		".env",          // Current directory
		"../../.env",    // From cmd/handlepay to project root
		"../../../.env", // Fallback for deeper nesting
	}

	var err error
	for _, envFile := range envFiles {
		Env, err = godotenv.Read(envFile)
		if err == nil {
			return
		}
	}

	// Containers usually inject everything through the process environment.
	Env = map[string]string{}
	log.Printf("No .env file found, falling back to process environment")
}

func IsDev() bool {
	return GetEnv("APP_ENV", "prod") == "dev"
}
