// Package validator checks inbound HTTP requests against the service's
// OpenAPI document before they reach a handler.
package validator

import (
	"context"
	"errors"
	"fmt"

	apperrors "actionit/backend/pkg/errors"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/getkin/kin-openapi/openapi3filter"
	"github.com/getkin/kin-openapi/routers"
	"github.com/getkin/kin-openapi/routers/gorillamux"
	"github.com/gin-gonic/gin"
)

type OpenAPIValidator struct {
	doc    *openapi3.T
	router routers.Router
}

// Violation describes the first schema rule a request broke
type Violation struct {
	In     string `json:"in"`
	Field  string `json:"field,omitempty"`
	Reason string `json:"reason"`
}

// NewOpenAPIValidator loads the schema from a file
func NewOpenAPIValidator(schemaPath string) (*OpenAPIValidator, error) {
	loader := openapi3.NewLoader()
	doc, err := loader.LoadFromFile(schemaPath)
	if err != nil {
		return nil, fmt.Errorf("load OpenAPI schema %s: %w", schemaPath, err)
	}
	return build(loader.Context, doc)
}

// NewOpenAPIValidatorFromData loads the schema from raw YAML or JSON
func NewOpenAPIValidatorFromData(data []byte) (*OpenAPIValidator, error) {
	loader := openapi3.NewLoader()
	doc, err := loader.LoadFromData(data)
	if err != nil {
		return nil, fmt.Errorf("parse OpenAPI schema: %w", err)
	}
	return build(loader.Context, doc)
}

func build(ctx context.Context, doc *openapi3.T) (*OpenAPIValidator, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := doc.Validate(ctx); err != nil {
		return nil, fmt.Errorf("invalid OpenAPI schema: %w", err)
	}
	// Servers would pin matching to a host; routes are matched on path only.
	doc.Servers = nil

	router, err := gorillamux.NewRouter(doc)
	if err != nil {
		return nil, fmt.Errorf("build OpenAPI router: %w", err)
	}
	return &OpenAPIValidator{doc: doc, router: router}, nil
}

// Middleware rejects requests that violate the schema with VALIDATION_FAILED.
// Routes the schema does not describe pass through untouched.
func (v *OpenAPIValidator) Middleware() gin.HandlerFunc {
	opts := &openapi3filter.Options{
		AuthenticationFunc: openapi3filter.NoopAuthenticationFunc,
		MultiError:         false,
	}
	return func(c *gin.Context) {
		route, pathParams, err := v.router.FindRoute(c.Request)
		if err != nil {
			c.Next()
			return
		}

		err = openapi3filter.ValidateRequest(c.Request.Context(), &openapi3filter.RequestValidationInput{
			Request:    c.Request,
			PathParams: pathParams,
			Route:      route,
			Options:    opts,
		})
		if err != nil {
			_ = c.Error(apperrors.NewBadRequestError(apperrors.CodeValidation, "Request does not match the API schema").
				WithDetails(describe(err)))
			c.Abort()
			return
		}

		c.Next()
	}
}

func describe(err error) Violation {
	var reqErr *openapi3filter.RequestError
	if !errors.As(err, &reqErr) {
		return Violation{In: "request", Reason: err.Error()}
	}

	out := Violation{In: "body", Reason: reqErr.Reason}
	if reqErr.Parameter != nil {
		out.In = reqErr.Parameter.In
		out.Field = reqErr.Parameter.Name
	}

	var schemaErr *openapi3.SchemaError
	if errors.As(reqErr.Err, &schemaErr) {
		if ptr := schemaErr.JSONPointer(); len(ptr) > 0 {
			out.Field = ptr[len(ptr)-1]
		}
		out.Reason = schemaErr.Reason
	}
	if out.Reason == "" && reqErr.Err != nil {
		out.Reason = reqErr.Err.Error()
	}
	return out
}
