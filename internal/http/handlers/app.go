package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/propertyreel/server/internal/domain"
	"github.com/propertyreel/server/internal/infra"
	"github.com/propertyreel/server/internal/middleware"
	"github.com/propertyreel/server/internal/orchestrator"
)

// App is the handler container holding the service's collaborators.
type App struct {
	Orchestrator *orchestrator.Orchestrator
	Reporter     *orchestrator.StatusReporter
	Jobs         domain.JobRepository
	Credits      domain.CreditLedger
	Logger       infra.Logger
}

func NewApp(orch *orchestrator.Orchestrator, reporter *orchestrator.StatusReporter, jobs domain.JobRepository, credits domain.CreditLedger, logger infra.Logger) *App {
	return &App{
		Orchestrator: orch,
		Reporter:     reporter,
		Jobs:         jobs,
		Credits:      credits,
		Logger:       logger,
	}
}

func (a *App) currentUserID(r *http.Request) string {
	return middleware.UserIDFromContext(r.Context())
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *App) error(w http.ResponseWriter, code int, kind, message string) {
	a.json(w, code, map[string]string{"error": kind, "message": message})
}
