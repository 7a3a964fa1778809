// Package config loads and watches the casewatch configuration file
// (config.yaml).
//
// Top-level types:
//   - Config{Service, Sources} — full config tree parsed from YAML
//   - ServiceConfig — http_port, refresh_interval, table_ttl,
//     broadcast_every, auth, history, alerts
//   - Source — id, type (csv|prom), endpoint, column/label mappings,
//     metrics map, auth, tls
//   - AuthConfig — mode (mtls|apikey|bearer|basic|none), cert/key/ca files,
//     header, key_env, token_env, password_env; Key(), Token() and
//     Password() resolve secrets from environment variables
//   - HistoryConfig, AlertsConfig — optional SQLite history and
//     data-quality alerting settings
//
// Load(path) reads the YAML file, applies defaults (6h refresh, 48h table
// TTL, port 8080), then validates required fields and enums.
//
// Watch(ctx, path, onChange) uses fsnotify to detect file changes and calls
// onChange with the newly parsed Config. It handles the rename→create
// pattern used by atomic-save editors by re-adding the watch after a
// rename event.
package config
