package server

import (
	"bytes"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/nhowze/overunder/internal/adapters/auth"
	"github.com/nhowze/overunder/internal/domain"
	"golang.org/x/time/rate"
)

// callerHandler is a handler for a signed request.
type callerHandler func(w http.ResponseWriter, r *http.Request, caller domain.Address)

// signed rate-limits the client address, verifies X-Timestamp, X-Nonce and
// X-Signature, rejects a nonce the caller already used and passes the
// recovered caller on. The body is restored for the handler.
func (s *Server) signed(next callerHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.limits.allow(s.clientIP(r)) {
			w.Header().Set("Retry-After", "1")
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}

		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
		if err != nil {
			writeError(w, http.StatusBadRequest, "read body: "+err.Error())
			return
		}

		ts := r.Header.Get(auth.HeaderTimestamp)
		nonce := r.Header.Get(auth.HeaderNonce)
		sig := r.Header.Get(auth.HeaderSignature)
		if ts == "" || nonce == "" || sig == "" {
			writeError(w, http.StatusUnauthorized, "missing signature headers")
			return
		}
		if len(nonce) > auth.MaxNonceLen {
			writeError(w, http.StatusUnauthorized, "nonce too long")
			return
		}
		unix, err := strconv.ParseInt(ts, 10, 64)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "bad timestamp")
			return
		}
		if skew := s.now().Sub(time.Unix(unix, 0)); skew > s.maxSkew || skew < -s.maxSkew {
			writeError(w, http.StatusUnauthorized, "timestamp outside accepted window")
			return
		}

		caller, err := auth.RecoverHex(auth.RequestDigest(r.Method, r.URL.Path, ts, nonce, body), sig)
		if err != nil {
			writeError(w, http.StatusUnauthorized, err.Error())
			return
		}

		// a nonce outlives the widest timestamp window it can be replayed in
		fresh, err := s.nonces.Remember(r.Context(), caller.Hex()+":"+nonce, 2*s.maxSkew)
		if err != nil {
			s.logger.ErrorContext(r.Context(), "nonce store failed", slog.String("err", err.Error()))
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		if !fresh {
			writeError(w, http.StatusConflict, "request already processed")
			return
		}

		r.Body = io.NopCloser(bytes.NewReader(body))
		next(w, r, caller)
	}
}

// clientIP is the address the rate limit applies to. Proxy headers are
// honoured only when the server sits behind a trusted proxy; otherwise any
// client could pick its own bucket.
func (s *Server) clientIP(r *http.Request) string {
	if s.trustProxy {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			ip := strings.TrimSpace(strings.SplitN(xff, ",", 2)[0])
			if ip != "" {
				return ip
			}
		}
		if xri := r.Header.Get("X-Real-IP"); xri != "" {
			return strings.TrimSpace(xri)
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// limiterSet keeps one token bucket per client address. A bucket idle long
// enough to refill completely is indistinguishable from a new one, so it is
// dropped on the next sweep.
type limiterSet struct {
	mu        sync.Mutex
	m         map[string]*visitor
	rate      rate.Limit
	burst     int
	idle      time.Duration
	lastSweep time.Time
	now       func() time.Time
}

type visitor struct {
	lim  *rate.Limiter
	seen time.Time
}

func newLimiterSet(perSec float64, burst int) *limiterSet {
	idle := time.Duration(float64(burst) / perSec * float64(time.Second))
	if idle < time.Minute {
		idle = time.Minute
	}
	return &limiterSet{
		m:     make(map[string]*visitor),
		rate:  rate.Limit(perSec),
		burst: burst,
		idle:  idle,
		now:   time.Now,
	}
}

func (l *limiterSet) allow(key string) bool {
	now := l.now()
	l.mu.Lock()
	if now.Sub(l.lastSweep) >= l.idle {
		for k, v := range l.m {
			if now.Sub(v.seen) >= l.idle {
				delete(l.m, k)
			}
		}
		l.lastSweep = now
	}
	v, ok := l.m[key]
	if !ok {
		v = &visitor{lim: rate.NewLimiter(l.rate, l.burst)}
		l.m[key] = v
	}
	v.seen = now
	l.mu.Unlock()
	return v.lim.AllowN(now, 1)
}

func (l *limiterSet) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.m)
}

// logging logs every request with its status and duration.
func logging(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(rw, r)

			logger.InfoContext(r.Context(), "http request",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", rw.statusCode),
				slog.Duration("duration", time.Since(start)),
				slog.String("remote_addr", r.RemoteAddr),
			)
		})
	}
}

// responseWriter captures the status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode  int
	wroteHeader bool
}

func (rw *responseWriter) WriteHeader(code int) {
	if !rw.wroteHeader {
		rw.statusCode = code
		rw.wroteHeader = true
	}
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	if !rw.wroteHeader {
		rw.wroteHeader = true
	}
	return rw.ResponseWriter.Write(b)
}
