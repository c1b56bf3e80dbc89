package httpmiddleware

import (
	"context"
	"net/http"

	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"
)

const (
	// DeviceHeader names the client installation a request comes from.
	DeviceHeader = "X-Device-ID"
	// DefaultDevice is used when a request carries no DeviceHeader.
	DefaultDevice = "default"

	maxDeviceIDLen = 64
)

type deviceIDKey struct{}

// DeviceIDFromContext returns the device set by DeviceID, or "".
func DeviceIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(deviceIDKey{}).(string)
	return id
}

// DeviceID resolves the requesting device from DeviceHeader. Malformed
// values are rejected with 400 since they end up in storage keys.
func DeviceID() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := r.Header.Get(DeviceHeader)
			if id == "" {
				id = DefaultDevice
			}
			if !ValidDeviceID(id) {
				WriteError(w, http.StatusBadRequest, "invalid "+DeviceHeader)
				return
			}

			ctx := context.WithValue(r.Context(), deviceIDKey{}, id)
			ctx = zctx.With(ctx, zap.String("device_id", id))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ValidDeviceID reports whether id is 1 to 64 characters of [A-Za-z0-9._-].
func ValidDeviceID(id string) bool {
	if id == "" || len(id) > maxDeviceIDLen {
		return false
	}
	for i := range len(id) {
		switch c := id[i]; {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		case c == '.', c == '_', c == '-':
		default:
			return false
		}
	}
	return true
}
