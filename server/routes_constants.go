package server

import "github.com/jrsteele09/go-session-keeper/sessionapi"

// Route path constants
// All application routes are defined here to ensure consistency and prevent typos
const (
	// Session Routes
	RouteLogin          = sessionapi.LoginPath
	RouteLogout         = sessionapi.LogoutPath
	RouteRefresh        = sessionapi.RefreshPath
	RouteSessionCurrent = sessionapi.CurrentPath

	// Resource Routes
	RouteExams   = "/exams"
	RouteExam    = "/exams/{id}"
	RouteReports = "/reports"

	// Resource Routes only served under the v2 prefix
	RouteExamsV2        = "/api/v2/exams"
	RouteExamAttemptsV2 = "/api/v2/exams/{id}/attempts"

	// Operational Routes
	RouteHealth        = "/health"
	RouteMetrics       = "/metrics"
	RouteWellKnownJWKS = "/.well-known/jwks.json"
)
