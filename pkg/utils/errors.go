// Package utils holds small, dependency-free helpers used by AgoraMesh's
// config loader - env-var lookups and error wrapping that don't belong to
// any one domain package.
package utils

import "fmt"

// Wrap prepends message to err's chain, preserving err for errors.Is/As.
// Returns nil if err is nil. pkg/config.Load wraps every viper call that
// can fail with it, e.g.
//
//	if err := viper.ReadInConfig(); err != nil {
//	    return nil, utils.Wrap(err, "load default config")
//	}
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}
