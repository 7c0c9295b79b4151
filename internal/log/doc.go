// Package log provides secure logging built on log/slog.
//
// SecureHandler wraps any slog.Handler and masks values that must never
// reach a log file: hidden-service auth cookies, x25519 client-auth keys,
// ED25519-V3 key blobs, PEM private keys and HTTP credentials. Masking is
// applied by attribute key and by value pattern, so a cookie logged under
// an innocent key is still caught.
//
// # Usage
//
//	logger, closer, err := log.New(log.Options{Verbose: true, File: path})
//	if err != nil {
//	    return err
//	}
//	defer closer.Close()
//
//	logger.Info("peer configured",
//	    "hostname", host,        // logged
//	    "auth_cookie", cookie,   // ***REDACTED***
//	)
//
// Log files are rotated by size with lumberjack.
package log
