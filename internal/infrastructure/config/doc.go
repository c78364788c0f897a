// Package config provides configuration loading for VitalMesh Core.
//
// Configuration is read from a YAML file, merged over hardcoded defaults,
// and finally overridden by VITALMESH_* environment variables. The loaded
// Config is treated as read-only; components that need a stable view of
// transport tuning take a value snapshot when a connection attempt starts.
package config
