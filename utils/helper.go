package utils

import (
	"errors"
	"fmt"
	"math/rand"
	"net"
	"strings"
	"time"

	"url-redirector/middlewares"
)

const shortCodeChars = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// GenerateShortCode returns a random alphanumeric key of the given length.
func GenerateShortCode(length int) string {
	shortCode := make([]byte, length)
	for i := range shortCode {
		shortCode[i] = shortCodeChars[rand.Intn(len(shortCodeChars))]
	}
	return string(shortCode)
}

func isRecoverableError(err error) bool {
	// Check if the error is a network error that is temporary or due to a timeout.
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, transient := range []string{"timeout", "temporarily unavailable", "connection refused", "connection reset"} {
		if strings.Contains(msg, transient) {
			return true
		}
	}
	return false
}

// RetryWithExponentialBackoff runs operation until it succeeds, fails with
// an error that is not transient, or maxRetries attempts have been made.
func RetryWithExponentialBackoff(operation func() error, maxRetries int, initialDelay time.Duration) error {
	delay := initialDelay
	var err error

	for i := 0; i < maxRetries; i++ {
		err = operation()
		if err == nil {
			return nil
		}

		if !isRecoverableError(err) {
			return err
		}
		if i == maxRetries-1 {
			break
		}

		middlewares.DebugLogger.Printf("Attempt %d failed: %v. Retrying in %v...", i+1, err, delay)

		// Apply jitter: add a random duration between 0 and half the current delay.
		var jitter time.Duration
		if half := int64(delay / 2); half > 0 {
			jitter = time.Duration(rand.Int63n(half))
		}
		time.Sleep(delay + jitter)
		delay *= 2 // Exponential backoff.
	}
	// After exhausting retries, return an error wrapping the last failure.
	middlewares.ErrorLogger.Printf("operation failed after %d attempts: %v", maxRetries, err)
	return fmt.Errorf("operation failed after %d attempts: %w", maxRetries, err)
}
