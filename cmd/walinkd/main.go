// walinkd runs a multi-session WA linking gateway: it opens the
// durable store, brings up the configured sessions and logs their QR
// payloads and connection updates until it is told to stop.
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/opd-ai/walink"
	"github.com/opd-ai/walink/metrics"
	"github.com/opd-ai/walink/store"
)

func main() {
	var (
		storePath   = flag.String("store", envOr("WALINK_STORE", "walink-data"), "pebble store directory")
		url         = flag.String("url", envOr("WALINK_URL", walink.DefaultURL), "upstream websocket endpoint")
		origin      = flag.String("origin", envOr("WALINK_ORIGIN", walink.DefaultOrigin), "HTTP Origin header")
		proxyURL    = flag.String("proxy", envOr("WALINK_PROXY", ""), "optional http(s) or socks5 proxy url")
		country     = flag.String("country", envOr("WALINK_COUNTRY", "US"), "ISO country advertised to the server")
		sessionIDs  = flag.String("sessions", envOr("WALINK_SESSIONS", "default"), "comma-separated session ids to connect")
		metricsAddr = flag.String("metrics-addr", envOr("WALINK_METRICS_ADDR", ""), "address for prometheus metrics, empty disables")
		logLevel    = flag.String("log-level", envOr("WALINK_LOG_LEVEL", "info"), "logrus level")
	)
	flag.Parse()

	level, err := logrus.ParseLevel(*logLevel)
	if err != nil {
		logrus.WithError(err).Fatal("bad log level")
	}
	logrus.SetLevel(level)
	log := logrus.WithField("component", "walinkd")

	st, err := store.OpenPebble(*storePath)
	if err != nil {
		log.WithError(err).Fatal("store open failed")
	}
	defer st.Close()

	opts := walink.NewOptions()
	opts.URL = *url
	opts.Origin = *origin
	opts.ProxyURL = *proxyURL
	opts.Country = *country

	manager := walink.NewManager(st, opts)

	if *metricsAddr != "" {
		reg := prometheus.NewRegistry()
		metrics.MustRegister(reg)
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		go func() {
			log.WithField("addr", *metricsAddr).Info("serving metrics")
			if err := http.ListenAndServe(*metricsAddr, mux); err != nil {
				log.WithError(err).Error("metrics server stopped")
			}
		}()
	}

	go logEvents(manager, log)

	for _, id := range strings.Split(*sessionIDs, ",") {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		session, err := manager.Create(id)
		if err != nil {
			log.WithError(err).WithField("session_id", id).Fatal("session create failed")
		}
		if err := session.Connect(context.Background()); err != nil {
			log.WithError(err).WithField("session_id", id).Error("initial connect failed")
		}
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	received := <-sig
	log.WithField("signal", received.String()).Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := manager.Shutdown(ctx); err != nil {
		log.WithError(err).Error("shutdown incomplete")
		os.Exit(1)
	}
}

// logEvents drains the fan-in stream. QR payloads are printed as-is;
// rendering them is the operator's problem.
func logEvents(manager *walink.Manager, log *logrus.Entry) {
	for se := range manager.Events() {
		l := log.WithField("session_id", se.SessionID)
		switch evt := se.Event.(type) {
		case walink.ConnectionUpdate:
			fields := logrus.Fields{"connection": evt.Connection}
			if evt.LastDisconnect != nil && evt.LastDisconnect.Error != nil {
				fields["last_disconnect"] = evt.LastDisconnect.Error.Error()
			}
			l.WithFields(fields).Info("connection update")
			if evt.QR != "" {
				l.WithField("qr", evt.QR).Info("current QR payload")
			}
		case walink.CredsUpdate:
			l.Info("credentials updated")
		case walink.MessagesUpsert:
			l.WithField("count", len(evt.Messages)).Info("messages upsert")
		case walink.QRExpired:
			l.Warn("QR refs exhausted, reconnect to pair")
		case walink.CredsError:
			l.WithError(evt.Err).Error("credentials error")
		}
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
