// Package config handles configuration loading for parley.
//
// # Overview
//
// Configuration is loaded from a YAML file with environment variable expansion.
// Defaults are applied after parsing and the result is validated.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from PARLEY_CONFIG environment variable
//  2. $XDG_CONFIG_HOME/parley/parley.yaml
//  3. ~/.config/parley/parley.yaml
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	auth:
//	  jwt_secret: "${PARLEY_JWT_SECRET}"
//	  backend_secret: "${PARLEY_BACKEND_SECRET}"
//
// # Process Roles
//
//	server:
//	  role: "api"    # api, tasks, all
//
// Exactly one process per deployment should run the tasks role. PARLEY_ROLE
// overrides the file.
//
// # Dialogue Engines
//
//	dialogue:
//	  engine_url: "http://localhost:{port}/webhooks/rest/webhook"
//	  default_language: "EN"
//	  languages:
//	    - {code: EN, title: English, port: 5005, action_port: 5055}
//	    - {code: NL, title: Nederlands, port: 5006, action_port: 5056}
//
// # Task Runner
//
//	tasks:
//	  schedule_path: "/etc/parley/conversations.csv"
//	  poll_interval: "1s"
//	  busy_interval: "100ms"
//	  stagger: "10s"
package config
