package server

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/jrsteele09/go-session-keeper/token/keys"
)

const (
	contentTypeJSON = "application/json; charset=utf-8"
)

// Exam is the sample resource served to authenticated callers.
type Exam struct {
	ID              string `json:"id"`
	Title           string `json:"title"`
	DurationMinutes int    `json:"duration_minutes"`
}

// ExamReport is the admin-only view of an exam.
type ExamReport struct {
	ExamID   string `json:"exam_id"`
	Attempts int    `json:"attempts"`
}

func sampleExams() []Exam {
	return []Exam{
		{ID: "1", Title: "Networking Fundamentals", DurationMinutes: 60},
		{ID: "2", Title: "Distributed Systems", DurationMinutes: 90},
	}
}

// ExamsHandler lists exams. It is mounted on the current and the alternate path.
func (s *Server) ExamsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string][]Exam{"exams": s.exams})
	}
}

// ExamHandler returns one exam. An unknown id is a business 404, not a routing one.
func (s *Server) ExamHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]
		for _, exam := range s.exams {
			if exam.ID == id {
				writeJSON(w, http.StatusOK, exam)
				return
			}
		}
		writeJSONError(w, "not_found", "Exam not found", http.StatusNotFound)
	}
}

// Attempt is one sitting of an exam by the caller.
type Attempt struct {
	ExamID string `json:"exam_id"`
	UserID string `json:"user_id"`
}

// ExamAttemptsHandler lists the caller's attempts at an exam.
func (s *Server) ExamAttemptsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]
		if !s.examExists(id) {
			writeJSONError(w, "not_found", "Exam not found", http.StatusNotFound)
			return
		}
		userID, _ := r.Context().Value(ContextKeyUserID).(string)
		writeJSON(w, http.StatusOK, map[string][]Attempt{"attempts": {{ExamID: id, UserID: userID}}})
	}
}

func (s *Server) examExists(id string) bool {
	for _, exam := range s.exams {
		if exam.ID == id {
			return true
		}
	}
	return false
}

// ReportsHandler is restricted to admins.
func (s *Server) ReportsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		reports := make([]ExamReport, 0, len(s.exams))
		for _, exam := range s.exams {
			reports = append(reports, ExamReport{ExamID: exam.ID})
		}
		writeJSON(w, http.StatusOK, map[string][]ExamReport{"reports": reports})
	}
}

func (s *Server) HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

// JWKS publishes the access token verification key when tokens are RSA signed.
func (s *Server) JWKS() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		kps, ok := s.signer.(*keys.KeyPairSigner)
		if !ok {
			routeNotFound(w, r)
			return
		}
		jwks, err := kps.GetJWKS()
		if err != nil {
			s.internalError(w, err, "Failed to get JWKS")
			return
		}

		w.Header().Set("Content-Type", contentTypeJSON)
		w.Header().Set("Cache-Control", "public, max-age=3600") // Cache for 1 hour
		_ = json.NewEncoder(w).Encode(jwks)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", contentTypeJSON)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeJSONError writes the {"error", "message"} body clients surface verbatim
func writeJSONError(w http.ResponseWriter, errorCode, message string, statusCode int) {
	body := map[string]string{"error": errorCode}
	if message != "" {
		body["message"] = message
	}
	writeJSON(w, statusCode, body)
}

func (s *Server) internalError(w http.ResponseWriter, err error, message string) {
	s.logger.Error().Err(err).Msg(message)
	writeJSONError(w, "internal_error", message, http.StatusInternalServerError)
}
