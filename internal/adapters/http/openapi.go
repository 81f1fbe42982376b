package http

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"gopkg.in/yaml.v3"
)

//go:embed openapi.yaml
var openAPIYAML []byte

// openAPIJSON converts the embedded document once and caches the result.
var openAPIJSON = sync.OnceValues(func() ([]byte, error) {
	var doc interface{}
	if err := yaml.Unmarshal(openAPIYAML, &doc); err != nil {
		return nil, fmt.Errorf("parsing openapi.yaml: %w", err)
	}
	return json.MarshalIndent(jsonCompatible(doc), "", "  ")
})

// jsonCompatible rewrites non-string map keys, which yaml.v3 produces for
// keys such as response codes, into strings.
func jsonCompatible(v interface{}) interface{} {
	switch v := v.(type) {
	case map[string]interface{}:
		for key, value := range v {
			v[key] = jsonCompatible(value)
		}
		return v
	case map[interface{}]interface{}:
		out := make(map[string]interface{}, len(v))
		for key, value := range v {
			out[fmt.Sprint(key)] = jsonCompatible(value)
		}
		return out
	case []interface{}:
		for i, value := range v {
			v[i] = jsonCompatible(value)
		}
		return v
	default:
		return v
	}
}

// handleOpenAPI returns the API description as JSON.
func (s *Server) handleOpenAPI(w http.ResponseWriter, _ *http.Request) {
	doc, err := openAPIJSON()
	if err != nil {
		s.logger.Error("failed to load OpenAPI document", "error", err)
		s.writeError(w, http.StatusInternalServerError, "Failed to load OpenAPI specification")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(doc)
}

const swaggerUIHTML = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <title>BuildingRadar API</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css">
</head>
<body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js"></script>
    <script>
        window.ui = SwaggerUIBundle({ url: "/openapi.json", dom_id: "#swagger-ui" });
    </script>
</body>
</html>
`

// handleSwaggerUI serves a Swagger UI page backed by /openapi.json.
func (s *Server) handleSwaggerUI(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(swaggerUIHTML))
}
