// Local HTTP API the field UI calls into the capture façade with.
package main

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/fieldops/fieldsync/internal/capture"
	apperrors "github.com/fieldops/fieldsync/internal/errors"
	"github.com/fieldops/fieldsync/internal/media"
)

// registerAPI mounts the capture façade on the local mux.
func registerAPI(mux *http.ServeMux, service *capture.Service) {
	mux.HandleFunc("POST /v1/projects/{projectID}/photos", func(w http.ResponseWriter, r *http.Request) {
		data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 64<<20))
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}

		localID, err := service.CaptureOffline(r.Context(), media.RawAsset{
			Data:     data,
			Filename: r.URL.Query().Get("filename"),
		}, capture.Options{
			ProjectID:       r.PathValue("projectID"),
			Caption:         r.URL.Query().Get("caption"),
			PhaseID:         r.URL.Query().Get("phase_id"),
			IncludeLocation: r.URL.Query().Get("location") == "1",
		})
		if err != nil {
			writeError(w, statusFor(err), err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]string{"local_id": localID})
	})

	mux.HandleFunc("GET /v1/projects/{projectID}/pending", func(w http.ResponseWriter, r *http.Request) {
		items, err := service.PendingForProject(r.PathValue("projectID"))
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"items": items})
	})

	mux.HandleFunc("GET /v1/projects/{projectID}/pending/count", func(w http.ResponseWriter, r *http.Request) {
		n, err := service.PendingCount(r.PathValue("projectID"))
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]int{"count": n})
	})

	mux.HandleFunc("POST /v1/sync", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, service.SyncNow(r.Context()))
	})

	mux.HandleFunc("DELETE /v1/pending/{localID}", func(w http.ResponseWriter, r *http.Request) {
		if err := service.DeletePending(r.PathValue("localID")); err != nil {
			writeError(w, statusFor(err), err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})

	mux.HandleFunc("GET /v1/status", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]bool{"online": service.IsOnline()})
	})
}

func statusFor(err error) int {
	switch apperrors.CodeOf(err) {
	case apperrors.ErrAssetEmpty, apperrors.ErrAssetUnsupported, apperrors.ErrAssetInvalid, apperrors.ErrInvalid:
		return http.StatusBadRequest
	case apperrors.ErrNotFound:
		return http.StatusNotFound
	case apperrors.ErrDeleteInFlight:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
