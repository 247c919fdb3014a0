package server

import (
	"net/http"

	"github.com/jrsteele09/go-session-keeper/users"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func (s *Server) initRoutes() {
	// SESSION
	s.RegisterRouteHandler("POST "+RouteLogin, ChainMiddleware(s.LoginHandler(), s.APIMiddleware()...))
	s.RegisterRouteHandler("POST "+RouteRefresh, ChainMiddleware(s.RefreshHandler(), s.APIMiddleware()...))
	s.RegisterRouteHandler("POST "+RouteLogout, ChainMiddleware(s.LogoutHandler(), s.APIMiddleware(s.RequireAuth())...))
	s.RegisterRouteHandler("GET "+RouteSessionCurrent, ChainMiddleware(s.CurrentSessionHandler(), s.APIMiddleware(s.RequireAuth())...))

	// Resources (require a valid access token)
	s.RegisterRouteHandler("GET "+RouteExams, ChainMiddleware(s.ExamsHandler(), s.APIMiddleware(s.RequireAuth())...))
	s.RegisterRouteHandler("GET "+RouteExamsV2, ChainMiddleware(s.ExamsHandler(), s.APIMiddleware(s.RequireAuth())...))
	s.RegisterRouteHandler("GET "+RouteExam, ChainMiddleware(s.ExamHandler(), s.APIMiddleware(s.RequireAuth())...))
	s.RegisterRouteHandler("GET "+RouteExamAttemptsV2, ChainMiddleware(s.ExamAttemptsHandler(), s.APIMiddleware(s.RequireAuth())...))
	s.RegisterRouteHandler("GET "+RouteReports, ChainMiddleware(s.ReportsHandler(), s.APIMiddleware(s.RequireAuth(), s.RequireRole(users.RoleAdmin))...))

	// Operational
	s.RegisterRouteFunc("GET "+RouteHealth, s.HealthHandler())
	s.RegisterRouteHandler("GET "+RouteMetrics, promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	s.RegisterRouteHandler("GET "+RouteWellKnownJWKS, ChainMiddleware(s.JWKS(), s.APIMiddleware()...))

	s.router.NotFoundHandler = http.HandlerFunc(routeNotFound)
	s.router.MethodNotAllowedHandler = http.HandlerFunc(methodNotAllowed)
}

// routeNotFound marks the 404 as a routing failure so clients may try another path.
func routeNotFound(w http.ResponseWriter, _ *http.Request) {
	writeJSONError(w, "route_not_found", "", http.StatusNotFound)
}

func methodNotAllowed(w http.ResponseWriter, _ *http.Request) {
	writeJSONError(w, "method_not_allowed", "", http.StatusMethodNotAllowed)
}
