// Package config handles YAML configuration loading with environment variable substitution.
//
// Configuration files support ${VAR} syntax for environment variable interpolation,
// which keeps the gateway token out of the file. A Watcher reloads the file on
// change and hands the validated result to a callback.
package config
