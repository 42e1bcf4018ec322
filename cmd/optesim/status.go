package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/luqmana/opte/internal/optelog"
	"github.com/luqmana/opte/internal/port"
)

// statusServer serves a Port's live Snapshot as JSON and shuts down
// gracefully on SIGINT/SIGTERM, mirroring the teacher's flywall-sim
// server's signal-driven shutdown.
type statusServer struct {
	httpSrv *http.Server
	stop    chan os.Signal
	done    chan struct{}
}

func startStatusServer(addr string, p *port.Port, log *optelog.Logger) *statusServer {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/status", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(p.Dump()); err != nil {
			log.Error("failed to encode snapshot", "err", err)
		}
	})

	srv := &statusServer{
		httpSrv: &http.Server{Addr: addr, Handler: mux},
		stop:    make(chan os.Signal, 1),
		done:    make(chan struct{}),
	}
	signal.Notify(srv.stop, os.Interrupt, syscall.SIGTERM)

	go func() {
		log.Info("status server listening", "addr", addr)
		if err := srv.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("status server failed", "err", err)
		}
	}()

	go func() {
		<-srv.stop
		log.Info("shutting down status server")
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.httpSrv.Shutdown(ctx); err != nil {
			log.Error("status server shutdown error", "err", err)
		}
		close(srv.done)
	}()

	return srv
}

// waitForShutdown blocks until the status server has been signaled to
// stop and has finished its graceful shutdown.
func (s *statusServer) waitForShutdown(log *optelog.Logger) {
	log.Info("scenario complete, status server still running; send SIGINT/SIGTERM to exit")
	<-s.done
}
