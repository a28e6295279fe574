package router

import (
	"net/http"

	"actionit/backend/conversation/api"
	"actionit/backend/pkg/validator"

	"github.com/gin-gonic/gin"
)

// AddOpenAPIValidation validates requests against the schema at schemaPath,
// or against the built-in schema when the path is empty.
func (r *Router) AddOpenAPIValidation(schemaPath string) {
	var (
		v   *validator.OpenAPIValidator
		err error
	)
	if schemaPath != "" {
		v, err = validator.NewOpenAPIValidator(schemaPath)
	} else {
		v, err = validator.NewOpenAPIValidatorFromData(api.OpenAPISchema)
	}
	if err != nil {
		r.Logger.Error("Failed to initialize OpenAPI validator", "path", schemaPath, "error", err)
		return
	}

	r.Engine.Use(v.Middleware())
	r.Engine.GET("/api/docs/openapi.yaml", func(c *gin.Context) {
		if schemaPath != "" {
			c.File(schemaPath)
			return
		}
		c.Data(http.StatusOK, "application/yaml", api.OpenAPISchema)
	})
	r.Logger.Info("OpenAPI validation enabled", "url", "/api/docs/openapi.yaml")
}
