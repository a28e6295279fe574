package api

import _ "embed"

// OpenAPISchema describes the conversation REST surface
//
//go:embed openapi.yaml
var OpenAPISchema []byte
