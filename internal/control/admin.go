package control

import (
	"net/http"

	"tailscale.com/tsweb"

	"github.com/banshee-data/companion/internal/httputil"
)

// AttachAdminRoutes mounts /debug/companion, a JSON view of Stats.
func (l *Loop) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)

	debug.HandleFunc("companion", "control loop state and counters", func(w http.ResponseWriter, r *http.Request) {
		if !httputil.RequireGET(w, r) {
			return
		}
		httputil.WriteJSON(w, http.StatusOK, l.Stats())
	})
}
