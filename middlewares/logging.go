package middlewares

import (
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Logger instances for different log levels. They write to stderr until
// InitLoggers points them at rotating files.
var (
	AuditLogger = log.New(os.Stderr, "AUDIT: ", log.LstdFlags)
	DebugLogger = log.New(os.Stderr, "DEBUG: ", log.LstdFlags)
	ErrorLogger = log.New(os.Stderr, "Error: ", log.LstdFlags)
)

// RequestIDHeader carries the id assigned to every request.
const RequestIDHeader = "X-Request-ID"

// InitLoggers points the audit, debug and error loggers at rotating files
// below dir. Errors are also copied to stderr.
func InitLoggers(dir string) error {
	auditLog, err := rotatingFile(dir, "audit")
	if err != nil {
		return err
	}
	debugLog, err := rotatingFile(dir, "debug")
	if err != nil {
		return err
	}
	errorLog, err := rotatingFile(dir, "error")
	if err != nil {
		return err
	}

	AuditLogger.SetOutput(auditLog)
	DebugLogger.SetOutput(debugLog)
	ErrorLogger.SetOutput(io.MultiWriter(errorLog, os.Stderr))
	return nil
}

// rotatingFile ensures dir/name exists and returns a lumberjack logger for
// dir/name/name.log.
func rotatingFile(dir, name string) (*lumberjack.Logger, error) {
	logDir := filepath.Join(dir, name)
	if err := os.MkdirAll(logDir, os.ModePerm); err != nil {
		return nil, fmt.Errorf("could not create log directory %s: %w", logDir, err)
	}
	return &lumberjack.Logger{
		Filename:   filepath.Join(logDir, name+".log"),
		MaxSize:    1,
		MaxBackups: 3,
		MaxAge:     28,
		Compress:   true,
	}, nil
}

// LoggingMiddleware assigns a request id and writes one audit line per
// request once it has been served.
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get(RequestIDHeader)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, requestID)

		rec := newStatusRecorder(w)
		next.ServeHTTP(rec, r)

		AuditLogger.Printf("Request: %s | Method: %s | URL: %s | Status: %d | Duration: %s | User-Agent: %s | IP: %s",
			requestID, r.Method, r.URL.String(), rec.Status(), time.Since(rec.start), r.UserAgent(), getIPAddress(r))
	})
}

var (
	proxyMu        sync.RWMutex
	trustedProxies []*net.IPNet
)

// SetTrustedProxies sets the proxies whose X-Forwarded-For header is
// believed. With none set, clients are identified by RemoteAddr only.
func SetTrustedProxies(nets []*net.IPNet) {
	proxyMu.Lock()
	defer proxyMu.Unlock()
	trustedProxies = nets
}

func isTrustedProxy(ip net.IP) bool {
	if ip == nil {
		return false
	}
	proxyMu.RLock()
	defer proxyMu.RUnlock()
	for _, network := range trustedProxies {
		if network.Contains(ip) {
			return true
		}
	}
	return false
}

// getIPAddress returns the connection address unless it is a trusted
// proxy. Behind a trusted proxy it walks X-Forwarded-For from the right and
// returns the first hop that is not itself a trusted proxy.
func getIPAddress(r *http.Request) string {
	remote, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		remote = r.RemoteAddr
	}
	if !isTrustedProxy(net.ParseIP(remote)) {
		return remote
	}

	hops := strings.Split(r.Header.Get("X-Forwarded-For"), ",")
	for i := len(hops) - 1; i >= 0; i-- {
		hop := strings.TrimSpace(hops[i])
		ip := net.ParseIP(hop)
		if ip == nil {
			break
		}
		if !isTrustedProxy(ip) {
			return hop
		}
	}
	return remote
}

// ClientIP returns the address used for per-client limits.
func ClientIP(r *http.Request) string {
	return getIPAddress(r)
}
