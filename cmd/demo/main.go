// Demo server: a stub OpenID provider whose endpoints sit behind the
// admission gate. Every protocol response is canned; the point is watching
// the per-class quotas, headers, and 429 payloads.
package main

import (
	"encoding/json"
	"flag"
	"log"
	"net/http"
	"os"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"

	"github.com/fujie/idp-throttle/metrics"
	"github.com/fujie/idp-throttle/pkg/throttle"
)

func main() {
	_ = godotenv.Load()

	port := flag.String("port", getEnv("PORT", "8080"), "port to listen on")
	configFile := flag.String("config", os.Getenv("THROTTLE_CONFIG"), "path to YAML config (empty for defaults)")
	flag.Parse()

	opts := []throttle.Option{}
	if *configFile != "" {
		log.Println("loading configuration from:", *configFile)
		opts = append(opts, throttle.WithConfigFile(*configFile))
	}

	stats := metrics.New()
	opts = append(opts, throttle.WithRecorder(stats))

	gate, err := throttle.New(opts...)
	if err != nil {
		log.Fatalf("failed to create admission gate: %v", err)
	}
	stopSweep := gate.StartBackgroundSweep()
	defer stopSweep()

	r := chi.NewRouter()
	r.Use(chimiddleware.RealIP)

	// Operational endpoints stay outside the gate.
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, map[string]string{"status": "ok"})
	})
	r.Get("/stats", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, stats.GetSnapshot())
	})

	r.Group(func(r chi.Router) {
		r.Use(gate.Middleware)

		r.Get("/authorization", stub("authorization endpoint"))
		r.Post("/token", stub("token endpoint"))
		r.Post("/introspection", stub("introspection endpoint"))
		r.Post("/revocation", stub("revocation endpoint"))
		r.Post("/register", stub("registration endpoint"))
		r.Post("/federation/fetch", stub("federation fetch endpoint"))
		r.Get("/.well-known/openid-configuration", stub("discovery endpoint"))
	})

	addr := ":" + *port
	log.Printf("stub OpenID provider listening on %s", addr)
	if err := http.ListenAndServe(addr, r); err != nil {
		log.Fatalf("server failed: %v", err)
	}
}

func stub(name string) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, map[string]string{"endpoint": name})
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
