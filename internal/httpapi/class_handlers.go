package httpapi

import (
	"net/http"
	"strings"
)

func (a *API) handleClassesCollection(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	list, err := a.catalog.ListOfferings(r.Context(), strings.TrimSpace(r.URL.Query().Get("email")))
	if err != nil {
		handleEnrollmentError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (a *API) handleClassResource(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/classes/"), "/")
	if id == "" || strings.Contains(id, "/") {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	off, err := a.catalog.GetOffering(r.Context(), id)
	if err != nil {
		handleEnrollmentError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, off)
}
