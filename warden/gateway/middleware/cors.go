package middleware

import (
	"net/http"
)

// CorsMiddleware applies the CORS headers for the operator API and
// short-circuits preflight requests. Auth is bearer-token based, so no
// credentialed origins are required.
func CorsMiddleware(w http.ResponseWriter, r *http.Request, next func(w http.ResponseWriter, r *http.Request)) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}
	next(w, r)
}
