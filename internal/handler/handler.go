// Package handler exposes the services over echo. Handlers bind and validate
// the request, call one service and return its error untouched; ErrorHandler
// turns errors into JSON responses.
package handler

import (
	"errors"
	"net/http"
	"reflect"
	"strconv"
	"strings"

	"saaskit/internal/middleware"
	"saaskit/internal/service"
	"saaskit/pkg/apperror"
	"saaskit/pkg/config"
	"saaskit/pkg/jwtutil"
	"saaskit/pkg/logger"
	"saaskit/prometheus"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

// Handler holds the dependencies shared by every route
type Handler struct {
	svc *service.Services
	jwt *jwtutil.JWTUtil
	cfg *config.Config
}

// New creates a handler
func New(svc *service.Services, j *jwtutil.JWTUtil, cfg *config.Config) *Handler {
	return &Handler{svc: svc, jwt: j, cfg: cfg}
}

// CustomValidator plugs validator/v10 into echo's Context.Validate
type CustomValidator struct {
	validator *validator.Validate
}

// NewValidator creates the echo validator. Field errors are reported under
// their JSON names.
func NewValidator() *CustomValidator {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return &CustomValidator{validator: v}
}

// Validate validates a request DTO, reporting failures per JSON field
func (cv *CustomValidator) Validate(i interface{}) error {
	err := cv.validator.Struct(i)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return apperror.Wrap(err, apperror.CodeInvalidInput, "invalid request")
	}
	appErr := apperror.Invalid("validation failed")
	for _, fe := range verrs {
		appErr.WithField(fieldName(fe), fieldMessage(fe))
	}
	return appErr
}

// fieldName drops the struct name from a namespace like
// PromptFlowInput.templates[0].template
func fieldName(fe validator.FieldError) string {
	ns := fe.Namespace()
	if i := strings.Index(ns, "."); i >= 0 {
		return ns[i+1:]
	}
	return ns
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "email":
		return "must be a valid email"
	case "min":
		return "must be at least " + fe.Param()
	case "max":
		return "must be at most " + fe.Param()
	case "len":
		return "must have length " + fe.Param()
	case "oneof":
		return "must be one of: " + fe.Param()
	case "gte":
		return "must be greater than or equal to " + fe.Param()
	case "lte":
		return "must be less than or equal to " + fe.Param()
	}
	return "failed " + fe.Tag() + " validation"
}

// bind decodes the request into req and validates it
func bind(c echo.Context, req interface{}) error {
	if err := c.Bind(req); err != nil {
		logger.FromContext(c).Warn("Failed to parse request", zap.Error(err))
		return apperror.Wrap(err, apperror.CodeInvalidInput, "invalid request")
	}
	return c.Validate(req)
}

// ErrorHandler replies {"error": message, "fields": {...}}. Causes of
// internal errors are logged, never sent.
func ErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}
	log := logger.FromContext(c)

	var he *echo.HTTPError
	if errors.As(err, &he) {
		message := http.StatusText(he.Code)
		if m, ok := he.Message.(string); ok {
			message = m
		}
		respond(c, he.Code, echo.Map{"error": message})
		return
	}

	var appErr *apperror.Error
	if !errors.As(err, &appErr) {
		appErr = apperror.Wrap(err, apperror.CodeInternal, "internal error")
	}
	prometheus.RecordAppError(appErr.Code.String())

	status := apperror.HTTPStatus(appErr)
	body := echo.Map{"error": appErr.Message}
	if status == http.StatusInternalServerError {
		log.Error("Request failed", zap.Error(err))
		body["error"] = "internal error"
	} else if len(appErr.Fields) > 0 {
		body["fields"] = appErr.Fields
	}
	respond(c, status, body)
}

func respond(c echo.Context, status int, body echo.Map) {
	var err error
	if c.Request().Method == http.MethodHead {
		err = c.NoContent(status)
	} else {
		err = c.JSON(status, body)
	}
	if err != nil {
		logger.FromContext(c).Error("Failed to write error response", zap.Error(err))
	}
}

// idParam parses a positive integer path parameter
func idParam(c echo.Context, name string) (uint, error) {
	id, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil || id == 0 {
		return 0, apperror.Invalid("invalid " + name).WithField(name, "must be a positive integer")
	}
	return uint(id), nil
}

// pageParams reads page and per_page; services clamp the values
func pageParams(c echo.Context) (int, int) {
	page, _ := strconv.Atoi(c.QueryParam("page"))
	perPage, _ := strconv.Atoi(c.QueryParam("per_page"))
	return page, perPage
}

func tenantID(c echo.Context) uint {
	id, _ := middleware.TenantID(c)
	return id
}

func tenantPtr(c echo.Context) *uint {
	id, ok := middleware.TenantID(c)
	if !ok {
		return nil
	}
	return &id
}

func userPtr(c echo.Context) *uint {
	id := middleware.UserID(c)
	if id == 0 {
		return nil
	}
	return &id
}

func paged(data interface{}, pagination service.Pagination) echo.Map {
	return echo.Map{"data": data, "pagination": pagination}
}
