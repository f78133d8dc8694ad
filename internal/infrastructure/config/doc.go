// Package config loads the protector bridge configuration.
//
// A YAML file supplies the instances to bridge and the hub, MQTT, API,
// WebSocket, security and logging sections. Missing values fall back to
// defaults, PROTECTOR_* environment variables override the file, and
// Validate rejects the result before anything connects.
//
// Vendor credentials are best kept out of the file: set
// PROTECTOR_INSTANCE_<ID>_PASSWORD or PROTECTOR_INSTANCE_<ID>_SESSION_COOKIE
// instead, and keep the file itself at mode 0600. InstanceConfig.String
// redacts both, so instances can be logged as-is.
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//		return fmt.Errorf("loading config: %w", err)
//	}
//	for _, inst := range cfg.Instances {
//		logger.Info("instance configured", "instance", inst.String())
//	}
package config
