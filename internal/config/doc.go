// Package config handles configuration loading for firstaid-gateway.
//
// # Overview
//
// Configuration is loaded from YAML files with environment variable
// expansion. The package validates required fields at load time.
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	auth:
//	  jwt_secret: "${FIRSTAID_JWT_SECRET}"
//
// Syntax: ${VAR_NAME}. Unset variables expand to the empty string.
//
// # Configuration Sections
//
// Server settings:
//
//	server:
//	  http_addr: "0.0.0.0:8080"
//	  shutdown_timeout: "15s"
//
// Database:
//
//	database:
//	  path: "/var/lib/firstaid/gateway.db"
//
// Authentication:
//
//	auth:
//	  jwt_secret: "${FIRSTAID_JWT_SECRET}"
//	  admin_ids: ["responder-1"]   # users granted the responder role
//
// Event bus and optional cross-instance relay:
//
//	bus:
//	  subscriber_buffer: 64
//	redis:
//	  enabled: false
//	  addr: "localhost:6379"
//	  channel: "firstaid-events"
//
// Optional lifecycle notifications over AMQP:
//
//	notify:
//	  enabled: false
//	  amqp_url: "${FIRSTAID_AMQP_URL}"
//	  exchange: "firstaid.requests"
//
// Logging:
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
package config
