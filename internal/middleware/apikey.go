package middleware

import (
	"errors"

	"saaskit/internal/model"
	"saaskit/internal/service"
	"saaskit/pkg/apperror"
	"saaskit/pkg/logger"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

const (
	APIKeyHeader = "X-Api-Key"
	APIKeyKey    = "api_key"
)

// APIKeyAuth authenticates X-Api-Key, scopes the request to the key's tenant
// and records every call in the key's log
func APIKeyAuth(keys *service.APIKeyService) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			log := logger.FromContext(c)
			ctx := c.Request().Context()

			plaintext := c.Request().Header.Get(APIKeyHeader)
			if plaintext == "" {
				return apperror.Unauthorized("missing API key")
			}
			key, err := keys.Authenticate(ctx, plaintext)
			if err != nil {
				log.Warn("API key rejected", zap.Error(err))
				return err
			}

			c.Set(APIKeyKey, key)
			c.Set(TenantIDKey, key.TenantID)

			err = next(c)

			status := c.Response().Status
			if err != nil {
				status = statusOf(err)
			}
			if logErr := keys.Log(ctx, key.ID, c.Request().Method, c.Request().URL.Path, status); logErr != nil {
				log.Error("Failed to log API key call", zap.Uint("api_key_id", key.ID), zap.Error(logErr))
			}
			return err
		}
	}
}

// APIKey returns the key authenticated by APIKeyAuth
func APIKey(c echo.Context) *model.APIKey {
	key, _ := c.Get(APIKeyKey).(*model.APIKey)
	return key
}

func statusOf(err error) int {
	var he *echo.HTTPError
	if errors.As(err, &he) {
		return he.Code
	}
	return apperror.HTTPStatus(err)
}
