// Package config handles configuration loading for the sync engine.
//
// # Overview
//
// Configuration is loaded from YAML files with environment variable expansion.
// The package provides validation and sensible defaults.
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	api:
//	  endpoint: "${REMINDFUL_API_URL}"
//
// Syntax: ${VAR_NAME}
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	api:
//	  request_timeout: "30s"
//	push:
//	  reconnect_min_delay: "1s"
//	  reconnect_max_delay: "2m"
//	  ping_interval: "30s"
//
// Supported units: ns, us, ms, s, m, h
//
// # Configuration Sections
//
// Request/response endpoint:
//
//	api:
//	  endpoint: "https://api.remindful.example/graph"
//	  request_timeout: "30s"
//
// Change stream:
//
//	push:
//	  endpoint: "wss://api.remindful.example/stream"
//	  reconnect_min_delay: "1s"
//	  reconnect_max_delay: "2m"
//	  max_reconnect_attempts: 10
//
// Local cache persistence (empty path disables it):
//
//	cache:
//	  path: "~/.local/share/remindful/cache.db"
//
// Logging:
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
//
// # Usage
//
//	cfg, err := config.Load("/etc/remindful/engine.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
package config
