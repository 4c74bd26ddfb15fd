// Package logger provides a small leveled logger shared by the pool,
// the connection handler and the admin server.
//
// Each line carries a timestamp, the level, an optional scope (a worker id
// such as "worker-3" or a component name such as "httpd") and the message.
//
//	logger.Info("", "pool-server starting")
//	logger.Info("worker-0", "got a job; executing")
//
//	l := logger.New(os.Stderr, logger.LevelDebug)
//	l.Debug("httpd", "request line: %q", line)
//
// Levels below the configured minimum are dropped. ParseLevel converts the
// "log.level" config value. All methods are safe for concurrent use.
package logger
