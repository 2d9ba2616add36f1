package middleware

import (
	"context"
	"net/http"
	"strings"
)

type contextKey string

// ProjectKey is the context key for the project ID.
const ProjectKey contextKey = "project"

// DefaultProject is used when a request names no project.
const DefaultProject = "default"

// ProjectExtractor resolves the project a request acts on.
// It checks the X-Project-Id header, then the project query parameter,
// and falls back to "default".
func ProjectExtractor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		project := strings.TrimSpace(r.Header.Get("X-Project-Id"))
		if project == "" {
			project = strings.TrimSpace(r.URL.Query().Get("project"))
		}
		if project == "" {
			project = DefaultProject
		}

		ctx := context.WithValue(r.Context(), ProjectKey, project)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetProject retrieves the project ID from the request context.
func GetProject(ctx context.Context) string {
	if v, ok := ctx.Value(ProjectKey).(string); ok {
		return v
	}
	return DefaultProject
}
