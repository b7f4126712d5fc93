package utils

import (
	"os"
	"strconv"
	"sync"
)

// envCache remembers non-empty environment lookups made through getEnv, so
// repeated getEnv reads of the same key skip the syscall on a cache hit.
var envCache sync.Map // map[string]string

// getEnv retrieves key from the cache or the environment, caching non-empty
// hits. EnvOrDefault and friends deliberately do NOT call this: config
// reload paths (pkg/config.Load) must see a freshly Setenv'd value on every
// call, not a stale cached one.
func getEnv(key string) (string, bool) {
	if v, ok := envCache.Load(key); ok {
		return v.(string), true
	}
	if v := os.Getenv(key); v != "" {
		envCache.Store(key, v)
		return v, true
	}
	return "", false
}

// clearEnvCache drops any cached value for key. The benchmarks call it
// before their first lookup.
func clearEnvCache(key string) {
	envCache.Delete(key)
}

// EnvOrDefault returns the value of the AGORAMESH_* environment variable
// named by key, or fallback if it's unset or empty - e.g.
// EnvOrDefault("AGORAMESH_ENV", "") to pick the active config overlay in
// pkg/config.Load.
func EnvOrDefault(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

// EnvOrDefaultInt parses key as a base-10 int, returning fallback if the
// variable is unset, empty, or not a valid integer.
func EnvOrDefaultInt(key string, fallback int) int {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

// EnvOrDefaultUint64 parses key as a base-10 uint64, returning fallback if
// the variable is unset, empty, or not a valid uint64 - suited to reading a
// microUSDC amount, such as a Kleros stake floor override, from the
// environment.
func EnvOrDefaultUint64(key string, fallback uint64) uint64 {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback
	}
	n, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return fallback
	}
	return n
}
