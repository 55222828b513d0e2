package httpserver

import (
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// quietRoutes are polled by probes and scrapers and only logged on failure.
var quietRoutes = map[string]bool{
	"/metrics": true,
	"/healthz": true,
}

func levelFor(status int) zapcore.Level {
	switch {
	case status >= 500:
		return zapcore.ErrorLevel
	case status >= 400:
		return zapcore.WarnLevel
	default:
		return zapcore.DebugLevel
	}
}

// Logger writes one access log entry per request once the handler returned.
func Logger(log *zap.Logger) echo.MiddlewareFunc {
	log = log.Named("access")
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			if err != nil {
				c.Error(err)
			}

			res := c.Response()
			level := levelFor(res.Status)
			if quietRoutes[c.Path()] && level < zapcore.WarnLevel {
				return nil
			}
			ce := log.Check(level, strconv.Itoa(res.Status)+" "+c.Request().Method+" "+c.Path())
			if ce == nil {
				return nil
			}

			req := c.Request()
			fields := []zapcore.Field{
				zap.String("uri", req.RequestURI),
				zap.String("remote_ip", c.RealIP()),
				zap.Duration("latency", time.Since(start)),
				zap.Int64("bytes_out", res.Size),
				zap.String("request_id", res.Header().Get(echo.HeaderXRequestID)),
			}
			if err != nil {
				fields = append(fields, zap.Error(err))
			}
			ce.Write(fields...)
			return nil
		}
	}
}
