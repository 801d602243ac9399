package device

import (
	"context"
	"errors"
	"net/http"

	"github.com/CallumSergeant/alarm/internal/alert"
	"github.com/CallumSergeant/alarm/internal/server"
	"github.com/CallumSergeant/alarm/internal/token"
	"github.com/CallumSergeant/alarm/pkg/models"
)

// AuthMessages are the alert titles and response details one endpoint uses
// when resolving the caller's bearer token.
type AuthMessages struct {
	MissingTitle   string // alert title for an absent or malformed header (401)
	MissingDetail  string
	NotFoundTitle  string // alert title when the device no longer exists (404)
	NotFoundDetail string
	ErrorTitle     string // alert title for any other failure (400)
}

// ResolveFunc maps a raw bearer token to a device.
type ResolveFunc func(ctx context.Context, raw string) (*models.Device, error)

// Authorize resolves the Bearer token on r. On failure it records an alert,
// writes the error response and returns false.
func Authorize(w http.ResponseWriter, r *http.Request, alerts alert.Recorder, msgs AuthMessages, resolve ResolveFunc) (*models.Device, bool) {
	raw, err := server.BearerToken(r)
	if err != nil {
		alerts.Record(r.Context(), msgs.MissingTitle, msgs.MissingDetail, models.SeverityError)
		server.Unauthorized(w, msgs.MissingDetail, r.URL.Path)
		return nil, false
	}

	d, err := resolve(r.Context(), raw)
	if err != nil {
		writeDeviceError(w, r, alerts, msgs, err)
		return nil, false
	}
	return d, true
}

// writeDeviceError maps a registry error onto the endpoint's response.
func writeDeviceError(w http.ResponseWriter, r *http.Request, alerts alert.Recorder, msgs AuthMessages, err error) {
	switch {
	case isNotFound(err):
		alerts.Record(r.Context(), msgs.NotFoundTitle, "Device not found.", models.SeverityWarning)
		server.NotFound(w, msgs.NotFoundDetail, r.URL.Path)
	case errors.Is(err, token.ErrInvalidToken):
		alerts.Record(r.Context(), msgs.ErrorTitle, err.Error(), models.SeverityWarning)
		server.BadRequest(w, err.Error(), r.URL.Path)
	default:
		alerts.Record(r.Context(), msgs.ErrorTitle, err.Error(), models.SeverityError)
		server.BadRequest(w, err.Error(), r.URL.Path)
	}
}
