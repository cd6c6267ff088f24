// Package config handles loading and validating Therapy Core configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with environment variables (THERAPY_*)
//   - Validation of required fields
//   - Default value handling, including the presence sweep timings
//
// Security Considerations:
//   - Sensitive values (passwords, tokens) should be set via environment variables
//   - The config file should have restricted permissions (0600)
//   - The JWT secret has no default and must be supplied
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	timeout := cfg.Presence.HeartbeatTimeoutDuration()
package config
