// Package config handles loading and validating the device agent's
// configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with environment variables (and an optional .env file)
//   - Validation of required fields
//   - Default value handling
//
// Security Considerations:
//   - The access key and secret should be set via environment variables
//     rather than committed to a config file
//   - The config file should have restricted permissions (0600)
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Device.ID)
package config
