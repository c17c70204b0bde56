package httpapi

import (
	"encoding/json"
	"net/http"
)

const (
	msgUserIDRequired   = "User ID is required"
	msgNoData           = "No data provided"
	msgMissingFields    = "Missing required fields"
	msgUserNotFound     = "User not found"
	msgInvalidAccess    = "Invalid access level"
	msgNotEligible      = "Access level not eligible for photos"
	msgMaxPhotos        = "Maximum photos taken"
	msgPhotoTaken       = "Photo taken successfully"
	msgScanTriggered    = "Scan event triggered successfully"
	msgDatabaseError    = "Database error occurred"
	msgUnexpected       = "An unexpected error occurred"
	msgStoreUnavailable = "Store unavailable"
)

type errorBody struct {
	Error string `json:"error"`
}

type messageBody struct {
	Message string `json:"message"`
}

// ProfileResponse is the body of a successful profile lookup.
type ProfileResponse struct {
	Name        string `json:"name"`
	AccessLevel string `json:"access_level"`
	PhotosTaken int    `json:"photos_taken"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Error: msg})
}

func writeMessage(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, messageBody{Message: msg})
}
