package handlers

import "net/http"

// Health reports liveness plus connectivity of the queue backend and the
// preview store.
func (a *App) Health(w http.ResponseWriter, r *http.Request) {
	queueOK := a.Queue.Ping(r.Context()) == nil
	dbOK := a.DB == nil || a.DB.Ping(r.Context()) == nil

	code := http.StatusOK
	statusText := "ok"
	if !queueOK || !dbOK {
		code = http.StatusServiceUnavailable
		statusText = "degraded"
	}

	a.json(w, code, map[string]any{
		"success": queueOK && dbOK,
		"status":  statusText,
		"queue":   queueOK,
		"store":   dbOK,
	})
}
