// Package logging builds the bridge's slog loggers.
//
// New picks a JSON or text handler from the logging section and stamps every
// record with the service name and build version. ForInstance derives the
// child logger each hub, forwarder and echo bridge writes through, so one
// bridge process can serve several vendor systems with attributable output:
//
//	logger := logging.New(cfg.Logging, version)
//	hubLog := logger.ForInstance("hq", "hub")
//	hubLog.Info("hub connected", "doors", 12)
//
// Passwords and ss-id session cookies never go into log attributes.
package logging
