// Package config loads pool-server settings from a YAML or JSON file.
//
// The format is picked by file extension. Fields left out of the file keep
// the values from Default(), and durations are written as Go duration
// strings ("5s", "250ms").
//
//	cfg, err := config.LoadFile("pool-server.yaml")
//	if err != nil {
//	    return err
//	}
//	if err := cfg.Validate(); err != nil {
//	    return err
//	}
//	serverCfg, err := cfg.ToServerConfig()
package config
