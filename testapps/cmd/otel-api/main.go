package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"
)

// otel-api is a stand-in for the instrumented API service: it reports the
// OTEL_* environment it was launched with and shuts down cleanly on
// SIGTERM, which is what the orchestrate smoketest verifies.
func main() {
	var port int
	flag.IntVar(&port, "port", 0, "Port to listen on (0 for ephemeral)")
	flag.Parse()

	if port == 0 {
		if v := os.Getenv("OTEL_API_PORT"); v != "" {
			_, _ = fmt.Sscanf(v, "%d", &port)
		}
	}

	addr := fmt.Sprintf("127.0.0.1:%d", port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "listen error: %v\n", err)
		os.Exit(2)
	}
	_, _ = fmt.Fprintf(os.Stderr, "listening on %s\n", ln.Addr().String())

	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(otelEnvDump()))
	})

	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 2 * time.Second,
	}

	go func() {
		t := time.NewTicker(200 * time.Millisecond)
		defer t.Stop()
		for range t.C {
			_, _ = fmt.Fprintf(os.Stdout, "%s otel-api: tick\n", time.Now().Format(time.RFC3339))
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, os.Interrupt)
	go func() {
		<-sigCh
		_, _ = fmt.Fprintln(os.Stderr, "otel-api: shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
		_, _ = fmt.Fprintf(os.Stderr, "serve error: %v\n", err)
		os.Exit(3)
	}
}

func otelEnvDump() string {
	var lines []string
	for _, kv := range os.Environ() {
		if strings.HasPrefix(kv, "OTEL_") {
			lines = append(lines, kv)
		}
	}
	sort.Strings(lines)
	return strings.Join(lines, "\n") + "\n"
}
