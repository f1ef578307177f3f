package middleware

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/livewall/api/pkg/response"
)

// RequestLogger logs one line per request and propagates X-Request-Id.
// When verbose is set, query strings are logged too.
func RequestLogger(l zerolog.Logger, verbose bool) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()

		reqID := c.Get(fiber.HeaderXRequestID)
		if reqID == "" {
			reqID = uuid.New().String()
		}
		c.Set(fiber.HeaderXRequestID, reqID)
		c.Locals(response.RequestIDKey, reqID)

		err := c.Next()
		if err != nil {
			// Let the app's error handler write the response before we read the status.
			if herr := c.App().ErrorHandler(c, err); herr != nil {
				c.Status(fiber.StatusInternalServerError)
			}
		}

		status := c.Response().StatusCode()
		ev := l.Info()
		switch {
		case status >= 500:
			ev = l.Error()
		case status >= 400:
			ev = l.Warn()
		}

		ev = ev.
			Str("requestId", reqID).
			Str("method", c.Method()).
			Str("path", c.Path()).
			Int("status", status).
			Dur("latency", time.Since(start))
		if userID := GetUserID(c); userID != "" {
			ev = ev.Str("userId", userID)
		}
		if verbose {
			ev = ev.Str("query", string(c.Request().URI().QueryString()))
		}
		ev.Msg("request")
		return nil
	}
}
