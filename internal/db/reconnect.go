package db

import (
	"context"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/unklstewy/los-relay/pkg/config"
)

// ReconnectWithRetry attempts to reconnect to the database with exponential backoff.
//
// Parameters:
//   - ctx: Cancels the wait between attempts
//   - cfg: Database configuration
//   - maxRetries: Maximum number of reconnection attempts (0 = infinite)
//   - initialDelay: Initial wait time between retries
//
// Returns: Connected database or error if all retries exhausted
func ReconnectWithRetry(ctx context.Context, log logrus.FieldLogger, cfg config.DatabaseConfig, maxRetries int, initialDelay time.Duration) (*DB, error) {
	delay := initialDelay
	attempt := 0

	for {
		attempt++
		log.WithField("attempt", attempt).Info("Database connection attempt")

		db, err := Connect(cfg)
		if err == nil {
			log.Info("✓ Database connected")
			return db, nil
		}

		if maxRetries > 0 && attempt >= maxRetries {
			log.WithField("attempts", attempt).WithError(err).Error("Failed to reconnect")
			return nil, err
		}

		log.WithError(err).WithField("retry_in", delay).Warn("Connection failed")
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}

		// Exponential backoff with cap at 60 seconds
		delay *= 2
		if delay > 60*time.Second {
			delay = 60 * time.Second
		}
	}
}

// EnsureConnection checks if the database connection is alive and reconnects if needed.
// Returns the active connection, either the original or a new one.
func EnsureConnection(ctx context.Context, log logrus.FieldLogger, db *DB, cfg config.DatabaseConfig) (*DB, error) {
	if db == nil {
		log.Warn("Database connection is nil, attempting to reconnect")
		return ReconnectWithRetry(ctx, log, cfg, 3, time.Second)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		log.WithError(err).Warn("Database connection lost, attempting to reconnect")
		db.Close()
		return ReconnectWithRetry(ctx, log, cfg, 3, time.Second)
	}

	return db, nil
}

// HealthCheck returns true if the database is reachable and answers queries.
func HealthCheck(ctx context.Context, db *DB) bool {
	if db == nil {
		return false
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return false
	}

	var result int
	if err := db.QueryRowContext(ctx, "SELECT 1").Scan(&result); err != nil {
		return false
	}
	return result == 1
}

// connErrors are substrings of errors worth retrying.
var connErrors = []string{
	"connection refused",
	"broken pipe",
	"no connection",
	"connection reset",
	"eof",
	"timeout",
	"bad connection",
}

// isConnectionError reports whether err looks like a transient connection failure.
func isConnectionError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, pattern := range connErrors {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}

// WithRetry executes a database operation with automatic retry on connection failures.
// Other errors are returned immediately.
func WithRetry(ctx context.Context, log logrus.FieldLogger, operation func() error, maxRetries int) error {
	var lastErr error

	for attempt := 0; attempt <= maxRetries; attempt++ {
		err := operation()
		if err == nil {
			return nil
		}
		lastErr = err

		if !isConnectionError(err) {
			return err
		}

		if attempt < maxRetries {
			waitTime := time.Duration(attempt+1) * retryUnit
			log.WithFields(logrus.Fields{
				"attempt":  attempt + 1,
				"of":       maxRetries + 1,
				"retry_in": waitTime,
			}).WithError(err).Warn("Database operation failed")

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(waitTime):
			}
		}
	}

	return lastErr
}

// retryUnit scales the linear WithRetry backoff.
var retryUnit = time.Second
