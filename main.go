package main

import (
	"encoding/json"
	"log"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"github.com/mfrey/minol-monitor/config"
	"github.com/mfrey/minol-monitor/database"
	"github.com/mfrey/minol-monitor/handlers"
	"github.com/mfrey/minol-monitor/middleware"
	"github.com/mfrey/minol-monitor/services"
)

func recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				log.Printf("PANIC RECOVERED: %v", err)
				log.Printf("Stack trace: %s", debug.Stack())

				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusInternalServerError)
				json.NewEncoder(w).Encode(map[string]string{
					"error": "Internal server error",
				})
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		log.Printf("[%s] %s %s", r.Method, r.URL.Path, r.RemoteAddr)
		next.ServeHTTP(w, r)
		log.Printf("[%s] %s - completed in %v", r.Method, r.URL.Path, time.Since(start))
	})
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("Starting Minol Monitor...")

	cfg := config.Load()

	db, err := database.InitDB(cfg.DatabasePath)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer db.Close()

	if err := database.RunMigrations(db); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}

	// Credentials rotated through the API win over the environment.
	username, password := cfg.PortalUsername, cfg.PortalPassword
	if u, p, ok := handlers.LoadStoredCredentials(db); ok {
		log.Println("Using portal credentials stored in the database")
		username, password = u, p
	}
	if username == "" {
		log.Println("WARNING: No portal credentials configured, set MINOL_USERNAME / MINOL_PASSWORD")
	}

	client := services.NewMinolClient(username, password)

	var publisher *services.MQTTPublisher
	if cfg.MQTTBroker != "" {
		publisher = services.NewMQTTPublisher(cfg.MQTTBroker, cfg.MQTTClientID, cfg.MQTTTopicPrefix)
		if err := publisher.Connect(); err != nil {
			log.Printf("ERROR: MQTT broker unavailable, publishing disabled: %v", err)
			publisher = nil
		}
	}

	interval := handlers.LoadStoredInterval(db, cfg.ScanIntervalMinutes)
	collector := services.NewMinolCollector(db, client, publisher, interval)
	reportGenerator := services.NewReportGenerator(cfg.ReportDir)

	authHandler := handlers.NewAuthHandler(db, cfg.JWTSecret)
	dashboardHandler := handlers.NewDashboardHandler(db, collector)
	settingsHandler := handlers.NewSettingsHandler(db, collector)
	diagnosticsHandler := handlers.NewDiagnosticsHandler(collector)
	reportHandler := handlers.NewReportHandler(collector, reportGenerator)
	liveHandler := handlers.NewLiveHandler(collector, cfg.JWTSecret)

	collector.Start()
	defer collector.Stop()

	r := mux.NewRouter()

	r.Use(recoverMiddleware)
	r.Use(loggingMiddleware)

	r.HandleFunc("/api/auth/login", authHandler.Login).Methods("POST")
	r.HandleFunc("/api/health", healthCheck).Methods("GET")
	// WebSockets cannot carry an Authorization header; the handler
	// validates a token query parameter itself.
	r.HandleFunc("/api/live", liveHandler.Serve).Methods("GET")

	api := r.PathPrefix("/api").Subrouter()
	api.Use(middleware.AuthMiddleware(cfg.JWTSecret))

	api.HandleFunc("/auth/change-password", authHandler.ChangePassword).Methods("POST")

	api.HandleFunc("/snapshot", dashboardHandler.GetSnapshot).Methods("GET")
	api.HandleFunc("/metrics", dashboardHandler.GetMetrics).Methods("GET")
	api.HandleFunc("/status", dashboardHandler.GetStatus).Methods("GET")
	api.HandleFunc("/refresh", dashboardHandler.TriggerRefresh).Methods("POST")
	api.HandleFunc("/readings", dashboardHandler.GetReadings).Methods("GET")
	api.HandleFunc("/logs", dashboardHandler.GetLogs).Methods("GET")

	api.HandleFunc("/settings", settingsHandler.GetSettings).Methods("GET")
	api.HandleFunc("/settings", settingsHandler.UpdateSettings).Methods("PUT")
	api.HandleFunc("/settings/credentials", settingsHandler.UpdateCredentials).Methods("POST")

	api.HandleFunc("/diagnostics", diagnosticsHandler.GetDiagnostics).Methods("GET")
	api.HandleFunc("/report", reportHandler.GetReport).Methods("GET")

	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:4173", "*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
		Debug:            false,
	})

	handler := c.Handler(r)

	server := &http.Server{
		Addr:         cfg.ServerAddress,
		Handler:      handler,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  180 * time.Second,
	}

	log.Printf("Server starting on %s", cfg.ServerAddress)
	log.Printf("Portal collector running (%d-minute intervals)", interval)

	if err := server.ListenAndServe(); err != nil {
		log.Fatalf("Server failed to start: %v", err)
	}
}

func healthCheck(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{
		"status": "ok",
		"time":   time.Now().Format(time.RFC3339),
	})
}
