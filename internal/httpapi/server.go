// Package httpapi exposes attendee lookups, photo recording and scan
// triggers over HTTP.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"gatheringAccess/internal/quota"
	"gatheringAccess/models"
)

const maxBodyBytes = 1 << 20

// Profiles resolves attendee profiles.
type Profiles interface {
	FetchProfile(ctx context.Context, id string) (*models.Attendee, error)
}

// PhotoRecorder records photos against the attendee's quota.
type PhotoRecorder interface {
	RecordPhoto(ctx context.Context, id, claimedRole string) (quota.Outcome, error)
}

// Scanner runs the scan notification flow.
type Scanner interface {
	HandleScan(ctx context.Context, id string)
}

// Pinger reports store reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server bundles the dependencies of the HTTP handlers.
type Server struct {
	Profiles Profiles
	Photos   PhotoRecorder
	Scans    Scanner
	Health   Pinger
	// Subscribe serves the real-time channel; nil leaves /ws unrouted.
	Subscribe http.Handler
	Log       zerolog.Logger
}

// Router returns the routes of s wrapped in request id, access log and
// panic recovery middleware.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(RequestID)
	r.Use(Logging(s.Log))
	r.Use(Recover(s.Log))

	r.HandleFunc("/get_user_data", s.GetUserData).Methods(http.MethodGet)
	r.HandleFunc("/update_photos_taken", s.UpdatePhotosTaken).Methods(http.MethodPost)
	r.HandleFunc("/test_scan_user", s.TriggerScan).Methods(http.MethodPost)
	r.HandleFunc("/emit_scan_user", s.TriggerScan).Methods(http.MethodPost)
	r.HandleFunc("/healthz", s.Healthz).Methods(http.MethodGet)
	if s.Subscribe != nil {
		r.Handle("/ws", s.Subscribe).Methods(http.MethodGet)
	}
	return r
}

func (s *Server) logger(r *http.Request) *zerolog.Logger {
	l := s.Log.With().Str("request_id", GetRequestID(r.Context())).Logger()
	return &l
}

// GET /get_user_data?user_id=U1
func (s *Server) GetUserData(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.URL.Query().Get("user_id"))
	if id == "" {
		s.logger(r).Info().Msg("get_user_data without user_id")
		writeError(w, http.StatusBadRequest, msgUserIDRequired)
		return
	}

	a, err := s.Profiles.FetchProfile(r.Context(), id)
	if err != nil {
		s.logger(r).Error().Err(err).Str("attendee", id).Msg("fetch profile failed")
		writeError(w, http.StatusInternalServerError, msgDatabaseError)
		return
	}
	if a == nil {
		writeError(w, http.StatusNotFound, msgUserNotFound)
		return
	}
	writeJSON(w, http.StatusOK, ProfileResponse{
		Name:        a.Name,
		AccessLevel: string(a.Role),
		PhotosTaken: a.PhotosTaken,
	})
}

type photoRequest struct {
	UserID      string `json:"user_id"`
	AccessLevel string `json:"access_level"`
}

// POST /update_photos_taken {"user_id": "U1", "access_level": "general"}
func (s *Server) UpdatePhotosTaken(w http.ResponseWriter, r *http.Request) {
	var req photoRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.logger(r).Info().Err(err).Msg("update_photos_taken with unreadable body")
		writeError(w, http.StatusBadRequest, msgNoData)
		return
	}
	req.UserID = strings.TrimSpace(req.UserID)
	if req.UserID == "" || req.AccessLevel == "" {
		s.logger(r).Info().Msg("update_photos_taken with missing fields")
		writeError(w, http.StatusBadRequest, msgMissingFields)
		return
	}

	out, err := s.Photos.RecordPhoto(r.Context(), req.UserID, req.AccessLevel)
	switch out {
	case quota.Recorded:
		writeMessage(w, http.StatusOK, msgPhotoTaken)
	case quota.NotFound:
		writeError(w, http.StatusNotFound, msgUserNotFound)
	case quota.RoleMismatch:
		writeError(w, http.StatusForbidden, msgInvalidAccess)
	case quota.InvalidRole:
		writeError(w, http.StatusForbidden, msgNotEligible)
	case quota.QuotaExceeded:
		writeError(w, http.StatusBadRequest, msgMaxPhotos)
	default:
		s.logger(r).Error().Err(err).Str("attendee", req.UserID).Msg("record photo failed")
		writeError(w, http.StatusInternalServerError, msgDatabaseError)
	}
}

type scanRequest struct {
	UserID string `json:"user_id"`
}

// POST /test_scan_user {"user_id": "U1"}
//
// The outcome of the scan is only visible on the broadcast channel.
func (s *Server) TriggerScan(w http.ResponseWriter, r *http.Request) {
	var req scanRequest
	if err := decodeBody(w, r, &req); err != nil || strings.TrimSpace(req.UserID) == "" {
		s.logger(r).Info().Err(err).Msg("scan trigger without user_id")
		writeError(w, http.StatusBadRequest, msgUserIDRequired)
		return
	}
	s.Scans.HandleScan(r.Context(), strings.TrimSpace(req.UserID))
	writeMessage(w, http.StatusOK, msgScanTriggered)
}

// GET /healthz
func (s *Server) Healthz(w http.ResponseWriter, r *http.Request) {
	if s.Health != nil {
		if err := s.Health.Ping(r.Context()); err != nil {
			s.logger(r).Error().Err(err).Msg("health check failed")
			writeError(w, http.StatusServiceUnavailable, msgStoreUnavailable)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

var errEmptyBody = errors.New("empty body")

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return errEmptyBody
		}
		return err
	}
	return nil
}
