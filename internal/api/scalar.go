package api

import (
	"bytes"
	"html/template"
	"net/http"
)

const defaultDocsTheme = "purple"

// DocsServer is an API base URL listed in the docs' request panel.
type DocsServer struct {
	URL         string `json:"url"`
	Description string `json:"description"`
}

type scalarMeta struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

// scalarConfig is the Scalar api-reference configuration object.
type scalarConfig struct {
	Theme                 string       `json:"theme"`
	Layout                string       `json:"layout"`
	ShowSidebar           bool         `json:"showSidebar"`
	HideDownloadButton    bool         `json:"hideDownloadButton"`
	HideTestRequestButton bool         `json:"hideTestRequestButton"`
	DarkMode              bool         `json:"darkMode"`
	MetaData              scalarMeta   `json:"metaData"`
	Servers               []DocsServer `json:"servers,omitempty"`
}

var scalarPage = template.Must(template.New("docs").Parse(`<!DOCTYPE html>
<html>
<head>
	<title>{{.Title}} - API Documentation</title>
	<meta charset="utf-8" />
	<meta name="viewport" content="width=device-width, initial-scale=1" />
	<style>body { margin: 0; padding: 0; }</style>
</head>
<body>
	<script id="api-reference" data-url="{{.SpecURL}}"></script>
	<script>
		var configuration = {{.Config}};
		if (!configuration.servers) {
			configuration.servers = [{url: window.location.origin, description: 'Current server'}];
		}
		document.getElementById('api-reference').dataset.configuration = JSON.stringify(configuration);
	</script>
	<script src="https://cdn.jsdelivr.net/npm/@scalar/api-reference"></script>
</body>
</html>`))

// ScalarHandler serves the Scalar reference UI for the spec at specURL.
// Title, description, theme and servers come from cfg. With no servers
// configured the page targets its own origin.
func ScalarHandler(specURL string, cfg *Config) http.Handler {
	theme := cfg.DocsTheme
	if theme == "" {
		theme = defaultDocsTheme
	}

	var buf bytes.Buffer
	err := scalarPage.Execute(&buf, struct {
		Title   string
		SpecURL string
		Config  scalarConfig
	}{
		Title:   cfg.Title,
		SpecURL: specURL,
		Config: scalarConfig{
			Theme:       theme,
			Layout:      "modern",
			ShowSidebar: true,
			DarkMode:    true,
			MetaData:    scalarMeta{Title: cfg.Title, Description: cfg.Description},
			Servers:     cfg.DocsServers,
		},
	})
	page := buf.Bytes()

	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if err != nil {
			http.Error(w, "Failed to render documentation", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(page)
	})
}
