package handlers

import (
	"errors"
	"reflect"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/huangang/backoffice/backend/internal/secrets"
	"github.com/huangang/backoffice/backend/internal/services"
	"github.com/huangang/backoffice/backend/internal/settings"
	"github.com/huangang/backoffice/backend/pkg/logger"
	"github.com/huangang/backoffice/backend/pkg/response"
)

func init() {
	// Report binding failures by their wire names instead of Go field names.
	if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
		v.RegisterTagNameFunc(func(f reflect.StructField) string {
			for _, tag := range []string{"form", "json"} {
				name := strings.SplitN(f.Tag.Get(tag), ",", 2)[0]
				if name != "" && name != "-" {
					return name
				}
			}
			return f.Name
		})
	}
}

// writeError maps service errors onto the response envelope.
func writeError(c *gin.Context, err error) {
	var verr *settings.ValidationError
	switch {
	case errors.As(err, &verr):
		response.Invalid(c, verr.Field, verr.Reason)
	case errors.Is(err, services.ErrDomainMismatch):
		response.BadRequest(c, err.Error())
	case errors.Is(err, services.ErrNotFound):
		response.NotFound(c, err.Error())
	case errors.Is(err, services.ErrConflict):
		response.Error(c, response.NewConflict(err.Error()))
	case errors.Is(err, secrets.ErrResolve):
		logger.Error().Err(err).Str("path", c.Request.URL.Path).Msg("[API] secret resolution failed")
		response.ServerError(c, err.Error())
	default:
		logger.Error().Err(err).Str("path", c.Request.URL.Path).Msg("[API] request failed")
		response.ServerError(c, "internal server error")
	}
}

// writeBindError turns a binding failure into a field-level 400.
func writeBindError(c *gin.Context, err error) {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		response.Invalid(c, fe.Field(), describeFieldError(fe))
		return
	}
	response.BadRequest(c, err.Error())
}

func describeFieldError(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "min", "gte":
		if fe.Kind() == reflect.String {
			return "must be at least " + fe.Param() + " characters"
		}
		return "must be >= " + fe.Param()
	case "max", "lte":
		if fe.Kind() == reflect.String {
			return "must be at most " + fe.Param() + " characters"
		}
		return "must be <= " + fe.Param()
	case "oneof":
		return "must be one of: " + strings.ReplaceAll(fe.Param(), " ", ", ")
	}
	return "failed " + fe.Tag() + " validation"
}

// parseID reads a positive numeric path parameter.
func parseID(c *gin.Context, name string) (uint, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil || id == 0 {
		response.Invalid(c, name, "must be a positive integer")
		return 0, false
	}
	return uint(id), true
}

// parseDomain reads the :domain path parameter.
func parseDomain(c *gin.Context) (settings.Domain, bool) {
	domain, ok := settings.ParseDomain(c.Param("domain"))
	if !ok {
		names := make([]string, 0, len(settings.Domains()))
		for _, d := range settings.Domains() {
			names = append(names, string(d))
		}
		response.Invalid(c, "domain", "must be one of: "+strings.Join(names, ", "))
		return "", false
	}
	return domain, true
}
