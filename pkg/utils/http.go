package utils

import (
	"encoding/json"
	"net/http"
)

// WriteJSONResponse encodes data as the JSON body of a statusCode response. Encoding errors
// are dropped since the status line is already written.
func WriteJSONResponse(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}
