// Package logging provides structured logging for lanscan.
//
// The package wraps a single zap logger. It is silent until Initialize is
// called with a level, either from the --log-level flag, the log_level
// configuration key or the LANSCAN_LOG_LEVEL environment variable.
//
// Log output goes to stderr so that scan reports on stdout stay machine readable:
//
//	if err := logging.Initialize("debug"); err != nil {
//	    return err
//	}
//	defer logging.Sync()
//
//	engine := scan.NewEngine(opts, table, scan.WithLogger(logging.Named("scan")))
//
// Subsystems take a *zap.Logger rather than calling the package functions so
// that tests can pass zap.NewNop or an observer core.
package logging
