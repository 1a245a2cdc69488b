// Package metrics exposes Prometheus metrics for the pairing engine, command
// processor and BLE transport. Labels are bounded enums; no peer ids.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// CommandsTotal counts command payloads by message type and outcome
	// (dispatched, decode_error, invalid, unauthorized, dropped).
	CommandsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "remotetouch_commands_total",
		Help: "Command payloads received, by type and result.",
	}, []string{"type", "result"})

	// PairingCodesIssuedTotal counts generated pairing codes.
	PairingCodesIssuedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "remotetouch_pairing_codes_issued_total",
		Help: "Pairing codes generated.",
	})

	// PairingAttemptsTotal counts verification attempts by result.
	PairingAttemptsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "remotetouch_pairing_attempts_total",
		Help: "Pairing code verifications, by result.",
	}, []string{"result"})

	// PairingRequestsRejectedTotal counts pairing requests refused before
	// reaching the engine (rate limit, wrong peer, malformed).
	PairingRequestsRejectedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "remotetouch_pairing_requests_rejected_total",
		Help: "Pairing characteristic requests rejected by the transport glue, by reason.",
	}, []string{"reason"})

	LockoutsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "remotetouch_pairing_lockouts_total",
		Help: "Lockouts triggered by repeated wrong codes.",
	})

	// ConnectedPeers is 1 while a peer holds the link.
	ConnectedPeers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "remotetouch_connected_peers",
		Help: "Peers currently connected (0 or 1).",
	})

	// StatusSentTotal counts status notifications by result (sent, error).
	StatusSentTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "remotetouch_status_sent_total",
		Help: "Status notifications sent to the peer, by result.",
	}, []string{"result"})

	// ClientQueueDepth is the number of commands waiting for a reconnect.
	ClientQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "remotetouch_client_queue_depth",
		Help: "Commands queued by the client role while disconnected.",
	})

	ReconnectAttemptsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "remotetouch_reconnect_attempts_total",
		Help: "Client reconnect attempts, by result.",
	}, []string{"result"})
)

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Serve exposes /metrics on addr until ctx is cancelled.
func Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("[METRICS] listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("metrics: serve %s: %w", addr, err)
	}
}
