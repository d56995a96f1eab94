package common

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-playground/validator"
	"github.com/labstack/echo/v4"
)

// GenericEchoValidator plugs go-playground/validator into echo and turns
// failures into 400 responses naming the offending fields.
type GenericEchoValidator struct {
	Validator *validator.Validate
}

func (gv *GenericEchoValidator) Validate(i interface{}) error {
	if gv.Validator == nil {
		gv.Validator = validator.New()
	}
	if err := gv.Validator.Struct(i); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("received invalid request body: %s", describe(err)))
	}
	return nil
}

func describe(err error) string {
	var fieldErrors validator.ValidationErrors
	if !errors.As(err, &fieldErrors) {
		return err.Error()
	}
	parts := make([]string, 0, len(fieldErrors))
	for _, fe := range fieldErrors {
		field := strings.ToLower(fe.Field())
		if fe.Param() != "" {
			parts = append(parts, fmt.Sprintf("%s must satisfy %s=%s", field, fe.Tag(), fe.Param()))
		} else {
			parts = append(parts, fmt.Sprintf("%s is %s", field, fe.Tag()))
		}
	}
	return strings.Join(parts, "; ")
}
