// Package logging builds the bridge's log/slog logger from config.
//
// Every entry carries service and version attributes. Subsystems take a
// child from Component so their lines can be filtered:
//
//	log := logging.New(cfg.Logging, version)
//	cloudLog := log.Component("cloud")
//	cloudLog.Info("device list fetched", "devices", 4)
//
// The config section is:
//
//	logging:
//	  level: info      # debug, info, warn, error
//	  format: json     # json, text
//	  output: stdout   # stdout, stderr
//
// Attributes whose key contains token, secret, sign, password or
// authorization are written as [REDACTED], so vendor credentials do not
// reach the log even at debug level.
package logging
