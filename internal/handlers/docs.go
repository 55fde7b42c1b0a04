package handlers

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"html/template"
	"net/http"
)

//go:embed openapi.yaml
var openAPISpec []byte

// ServeOpenAPISpec serves the embedded OpenAPI document.
// @Summary Get OpenAPI specification
// @Tags Documentation
// @Produce text/yaml
// @Success 200 {string} string "OpenAPI YAML specification"
// @Router /docs/openapi.yaml [get]
func (h *DrawerHandler) ServeOpenAPISpec(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/yaml; charset=utf-8")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(http.StatusOK)
	w.Write(openAPISpec)
}

// docsConfig is handed to SwaggerUIBundle as is.
type docsConfig struct {
	URL                    string   `json:"url"`
	DomID                  string   `json:"dom_id"`
	Layout                 string   `json:"layout"`
	DocExpansion           string   `json:"docExpansion"`
	DefaultModelsExpand    int      `json:"defaultModelsExpandDepth"`
	DisplayRequestDuration bool     `json:"displayRequestDuration"`
	TryItOutEnabled        bool     `json:"tryItOutEnabled"`
	SupportedSubmitMethods []string `json:"supportedSubmitMethods"`
}

// Opening a drawer has a physical effect, so the page starts read-only and
// only GET and POST can be submitted from it.
var drawerDocs = docsConfig{
	URL:                    "/docs/openapi.yaml",
	DomID:                  "#drawer-api",
	Layout:                 "BaseLayout",
	DocExpansion:           "full",
	DefaultModelsExpand:    -1,
	DisplayRequestDuration: true,
	SupportedSubmitMethods: []string{"get", "post"},
}

var docsPage = template.Must(template.New("docs").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="UTF-8">
<title>drawer-hal: cash drawer API</title>
<link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css">
</head>
<body>
<div id="drawer-api"></div>
<script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js"></script>
<script>
window.ui = SwaggerUIBundle({{.}});
</script>
</body>
</html>
`))

// ServeSwaggerUI renders the interactive documentation page.
// @Summary Swagger UI documentation
// @Tags Documentation
// @Produce text/html
// @Success 200 {string} string "Swagger UI HTML page"
// @Router /docs [get]
func (h *DrawerHandler) ServeSwaggerUI(w http.ResponseWriter, r *http.Request) {
	cfg, err := json.Marshal(drawerDocs)
	if err != nil {
		errorResponse(w, http.StatusInternalServerError, "render docs: "+err.Error())
		return
	}

	var page bytes.Buffer
	if err := docsPage.Execute(&page, template.JS(cfg)); err != nil {
		errorResponse(w, http.StatusInternalServerError, "render docs: "+err.Error())
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write(page.Bytes())
}
