package handlers

import (
	"net/http"
)

// Health reports process liveness. It does not touch the database so load
// balancers keep routing while the pool reconnects.
func (a *App) Health(w http.ResponseWriter, r *http.Request) {
	a.json(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"service": "genserver",
	})
}
