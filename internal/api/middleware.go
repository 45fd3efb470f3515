package api

import (
	"errors"
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"carechat/pkg/interfaces"
	"carechat/pkg/types"
)

const (
	requestIDKey = "request_id"
	identityKey  = "identity"
)

// authenticate resolves the caller with the same authenticator the
// WebSocket handshake uses.
func authenticate(auth interfaces.Authenticator) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			identity, err := auth.Authenticate(c.Request())
			switch {
			case err == nil:
			case errors.Is(err, interfaces.ErrForbidden):
				return echo.NewHTTPError(http.StatusForbidden, err.Error())
			case errors.Is(err, interfaces.ErrUnauthenticated):
				return echo.NewHTTPError(http.StatusUnauthorized, err.Error())
			default:
				return fmt.Errorf("authenticate: %w", err)
			}

			c.Set(identityKey, identity)
			return next(c)
		}
	}
}

func identityFrom(c echo.Context) types.Identity {
	identity, _ := c.Get(identityKey).(types.Identity)
	return identity
}

func requestLogger(logger zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			req := c.Request()
			rid, _ := c.Get(requestIDKey).(string)

			err := next(c)

			evt := logger.Info()
			if err != nil {
				evt = logger.Error().Err(err)
			}
			evt.
				Str("request_id", rid).
				Str("method", req.Method).
				Str("path", req.URL.Path).
				Int("status", c.Response().Status).
				Dur("latency", time.Since(start)).
				Str("remote_ip", c.RealIP()).
				Msg("request")

			return err
		}
	}
}

func recovery(logger zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) (err error) {
			defer func() {
				if r := recover(); r != nil {
					var stack [4096]byte
					n := runtime.Stack(stack[:], false)

					logger.Error().
						Str("request_id", fmt.Sprintf("%v", c.Get(requestIDKey))).
						Str("panic", fmt.Sprintf("%v", r)).
						Str("stack", string(stack[:n])).
						Msg("panic recovered")

					err = echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
				}
			}()
			return next(c)
		}
	}
}
