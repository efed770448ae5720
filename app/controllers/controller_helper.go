package controllers

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/HandlePay/internal/pkg/apperr"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	// report json field names instead of Go field names
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// ErrorResponse is the body of every failed request
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Reason  string `json:"reason,omitempty"`
}

// ErrorHandler renders AppErrors with their mapped status. Internal causes are
// logged, never sent to the client.
func ErrorHandler(c *fiber.Ctx, err error) error {
	var fe *fiber.Error
	if errors.As(err, &fe) {
		return c.Status(fe.Code).JSON(ErrorResponse{
			Error:   fiberErrorKind(fe.Code),
			Message: fe.Message,
		})
	}

	status := apperr.HTTPStatus(err)
	body := ErrorResponse{
		Error:   string(apperr.KindOf(err)),
		Message: apperr.PublicMessage(err),
	}
	if ae, ok := apperr.As(err); ok {
		body.Reason = ae.Reason
	}
	if status >= fiber.StatusInternalServerError {
		log.Errorf("[HTTP] %s %s failed: %v", c.Method(), c.Path(), err)
	}
	return c.Status(status).JSON(body)
}

func fiberErrorKind(code int) string {
	switch code {
	case fiber.StatusNotFound:
		return string(apperr.NotFound)
	case fiber.StatusTooManyRequests:
		return "rate_limited"
	case fiber.StatusMethodNotAllowed:
		return "method_not_allowed"
	}
	if code >= fiber.StatusInternalServerError {
		return string(apperr.Internal)
	}
	return string(apperr.Invalid)
}

// bindJSON parses the body into dst and runs struct validation.
func bindJSON(c *fiber.Ctx, dst any) error {
	if err := c.BodyParser(dst); err != nil {
		return apperr.InvalidErr("Invalid JSON body")
	}
	return validateStruct(dst)
}

func validateStruct(dst any) error {
	if err := validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, validationMessage(fe))
			}
			return apperr.InvalidErr(strings.Join(msgs, "; "))
		}
		return apperr.InvalidErr(err.Error())
	}
	return nil
}

func validationMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", fe.Field())
	case "min":
		return fmt.Sprintf("%s must be at least %s characters", fe.Field(), fe.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s characters", fe.Field(), fe.Param())
	case "eth_addr":
		return fmt.Sprintf("%s must be an Ethereum address", fe.Field())
	case "email":
		return fmt.Sprintf("%s must be an email address", fe.Field())
	}
	return fmt.Sprintf("%s is invalid", fe.Field())
}

// requiredQuery reads a mandatory query parameter.
func requiredQuery(c *fiber.Ctx, key string) (string, error) {
	v := strings.TrimSpace(c.Query(key))
	if v == "" {
		return "", apperr.InvalidErrf("%s is required", key)
	}
	return v, nil
}
