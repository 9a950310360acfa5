package internal

import (
	"embed"
	"fmt"
	"html/template"
	"net/http"

	"github.com/etesami/traffic-counting-system/pkg/counting"
	"github.com/etesami/traffic-counting-system/pkg/store"
)

//go:embed templates/*.html
var templatesFS embed.FS

type classCount struct {
	Class counting.VehicleClass
	Count int
}

type pageData struct {
	Run     *store.Run
	Counts  []classCount
	History []*store.Run
}

func parsePage() (*template.Template, error) {
	t, err := template.New("index.html").Funcs(template.FuncMap{
		"levelClass": func(l counting.TrafficLevel) string {
			return "level-" + string(l)
		},
	}).ParseFS(templatesFS, "templates/index.html")
	if err != nil {
		return nil, fmt.Errorf("failed to parse templates: %w", err)
	}
	return t, nil
}

func (s *Server) renderPage(w http.ResponseWriter, r *http.Request, run *store.Run) {
	data := pageData{Run: run}
	if run != nil {
		for _, c := range counting.Classes {
			data.Counts = append(data.Counts, classCount{Class: c, Count: run.Counts[c]})
		}
	}
	if s.runs != nil {
		history, err := s.runs.RecentRuns(r.Context(), s.cfg.HistorySize)
		if err != nil {
			s.logger.Warn("error listing runs", "err", err)
		}
		data.History = history
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := s.page.Execute(w, data); err != nil {
		s.logger.Error("error rendering page", "err", err)
	}
}
