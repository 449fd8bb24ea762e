// Package config loads the bridge configuration from YAML, applies
// GRAYLOGIC_* environment overrides, fills defaults and validates the
// result, including every device entry and its transport mode.
//
// Keep the vendor token and secret out of the file: set SWITCHBOT_TOKEN and
// SWITCHBOT_SECRET instead, and keep the file itself at 0600.
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    return err
//	}
//	for _, d := range cfg.Devices {
//	    fmt.Println(d.ID, d.TransportMode())
//	}
package config
