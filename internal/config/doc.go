// Package config handles configuration loading for recorder-gateway.
//
// # Configuration File
//
// Locations (first match wins):
//
//  1. The --config flag
//  2. Path from RECORDER_GATEWAY_CONFIG
//  3. $XDG_CONFIG_HOME/recorder-gateway/gateway.yaml
//
// Every key is optional; Default supplies the rest.
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	tailscale:
//	  auth_key: "${TS_AUTHKEY}"
//
// # Configuration Sections
//
//	server:
//	  http_addr: "127.0.0.1:4444"   # loopback only by default
//
//	tailscale:
//	  enabled: false
//	  hostname: "recorder-gateway"
//	  auth_key: "${TS_AUTHKEY}"
//	  https: false
//
//	registry:
//	  path: "~/.local/share/recorder-gateway/apps.ock"
//
//	database:
//	  path: "~/.local/share/recorder-gateway/audit.db"
//
//	consent:
//	  mode: "prompt"    # prompt, approve, deny
//	  timeout: "2m"     # unanswered prompts are denied; empty waits forever
//
//	recorder:
//	  driver: "command" # command, nop
//	  start_command: ["obs-cmd", "recording", "start"]
//	  stop_command: ["obs-cmd", "recording", "stop"]
//
//	ratelimit:
//	  register_per_minute: 10
//	  register_burst: 3
//	  idle_ttl: "10m"
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
//
//	metrics:
//	  enabled: false
//	  path: "/metrics"
package config
