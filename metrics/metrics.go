// Package metrics exposes prometheus collectors for the gateway.
// Formatting and dashboards are out of scope; the daemon decides
// whether and where to serve them.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// SessionsActive tracks sessions currently holding a live
	// connection.
	SessionsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "walink",
		Name:      "sessions_active",
		Help:      "Number of sessions with an open upstream connection.",
	})

	// FramesIn counts decrypted inbound frames across all sessions.
	FramesIn = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "walink",
		Name:      "frames_in_total",
		Help:      "Inbound frames processed after the handshake.",
	})

	// FramesOut counts encrypted outbound frames across all sessions.
	FramesOut = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "walink",
		Name:      "frames_out_total",
		Help:      "Outbound frames sent after the handshake.",
	})

	// Handshakes counts handshake attempts by result ("ok" or "error").
	Handshakes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "walink",
		Name:      "handshakes_total",
		Help:      "Noise handshakes attempted, by result.",
	}, []string{"result"})

	// Reconnects counts scheduled reconnection attempts.
	Reconnects = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "walink",
		Name:      "reconnects_total",
		Help:      "Reconnection attempts scheduled after a lost connection.",
	})

	// PreKeyUploads counts completed pre-key upload batches.
	PreKeyUploads = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "walink",
		Name:      "prekey_uploads_total",
		Help:      "Pre-key batches uploaded to the server.",
	})

	// QRCodesIssued counts QR payloads surfaced to consumers.
	QRCodesIssued = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "walink",
		Name:      "qr_codes_issued_total",
		Help:      "QR payload strings issued during pairing.",
	})

	// DecryptFailures counts dropped post-handshake frames.
	DecryptFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "walink",
		Name:      "decrypt_failures_total",
		Help:      "Post-handshake frames dropped because AEAD open failed.",
	})
)

// MustRegister installs every collector on the given registry.
func MustRegister(reg prometheus.Registerer) {
	reg.MustRegister(
		SessionsActive,
		FramesIn,
		FramesOut,
		Handshakes,
		Reconnects,
		PreKeyUploads,
		QRCodesIssued,
		DecryptFailures,
	)
}
