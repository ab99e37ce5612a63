// Package config loads runtime configuration.
//
// Configuration resolves in three layers: built-in defaults, then an
// optional TOML or YAML file, then REFLOW_* environment variables. Later
// layers override earlier ones. A Watcher can monitor the file and
// trigger reloads while the process runs.
package config
