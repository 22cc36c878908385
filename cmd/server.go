package cmd

import (
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/depotgrab/depotgrab/internal/config"
	"github.com/depotgrab/depotgrab/internal/core"
	"github.com/depotgrab/depotgrab/internal/history"
	"github.com/depotgrab/depotgrab/internal/orchestrator"
	"github.com/depotgrab/depotgrab/internal/runner"
	"github.com/depotgrab/depotgrab/internal/sources"
	"github.com/depotgrab/depotgrab/internal/utils"
)

// GlobalService is the daemon's local backend, set while the server runs.
var GlobalService core.JobService

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Manage the depotgrab background server (daemon)",
	Long:  `Start, stop, or check the status of the depotgrab background server.`,
}

var serverStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the depotgrab server in headless mode",
	Run: func(cmd *cobra.Command, args []string) {
		initializeGlobalState()

		// Attempt to acquire lock
		isMaster, err := AcquireLock()
		if err != nil {
			fmt.Printf("Error acquiring lock: %v\n", err)
			os.Exit(1)
		}
		if !isMaster {
			fmt.Fprintln(os.Stderr, "Error: depotgrab server is already running.")
			os.Exit(1)
		}
		defer func() {
			if err := ReleaseLock(); err != nil {
				utils.Debug("Error releasing lock: %v", err)
			}
		}()

		portFlag, _ := cmd.Flags().GetInt("port")

		// Save current PID to file
		savePID()
		defer removePID()

		startServerLogic(portFlag)
	},
}

var serverStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running depotgrab server",
	Run: func(cmd *cobra.Command, args []string) {
		pid := readPID()
		if pid == 0 {
			fmt.Println("No running depotgrab server found (PID file missing).")
			return
		}

		process, err := os.FindProcess(pid)
		if err != nil {
			fmt.Printf("Error finding process: %v\n", err)
			return
		}

		if err := process.Signal(syscall.SIGTERM); err != nil {
			fmt.Printf("Error stopping server: %v\n", err)
			return
		}
		fmt.Printf("Sent stop signal to process %d\n", pid)
	},
}

var serverStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Check the status of the depotgrab server",
	Run: func(cmd *cobra.Command, args []string) {
		pid := readPID()
		if pid == 0 {
			fmt.Println("depotgrab server is NOT running.")
			return
		}

		process, err := os.FindProcess(pid)
		if err != nil {
			fmt.Printf("depotgrab server is NOT running (Process %d not found).\n", pid)
			return
		}

		// Sending signal 0 to check existence
		if err := process.Signal(syscall.Signal(0)); err != nil {
			fmt.Printf("depotgrab server is NOT running (Process %d dead).\n", pid)
			return
		}

		port := readActivePort()
		fmt.Printf("depotgrab server is running (PID: %d, Port: %d).\n", pid, port)
	},
}

func init() {
	rootCmd.AddCommand(serverCmd)
	serverCmd.AddCommand(serverStartCmd)
	serverCmd.AddCommand(serverStopCmd)
	serverCmd.AddCommand(serverStatusCmd)

	serverStartCmd.Flags().IntP("port", "p", 0, "Port to listen on (default: first available from 1980)")
}

func savePID() {
	pidFile := filepath.Join(config.GetRuntimeDir(), "pid")
	if err := os.WriteFile(pidFile, []byte(fmt.Sprintf("%d", os.Getpid())), 0o644); err != nil {
		utils.Debug("Error writing PID file: %v", err)
	}
}

func removePID() {
	pidFile := filepath.Join(config.GetRuntimeDir(), "pid")
	if err := os.Remove(pidFile); err != nil && !os.IsNotExist(err) {
		utils.Debug("Error removing PID file: %v", err)
	}
}

func readPID() int {
	pidFile := filepath.Join(config.GetRuntimeDir(), "pid")
	data, err := os.ReadFile(pidFile)
	if err != nil {
		return 0
	}
	pid, _ := strconv.Atoi(strings.TrimSpace(string(data)))
	return pid
}

// findAvailablePort tries ports starting from 'start' until one is available
func findAvailablePort(start int) (int, net.Listener) {
	for port := start; port < start+100; port++ {
		ln, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
		if err == nil {
			return port, ln
		}
	}
	return 0, nil
}

func startServerLogic(portFlag int) {
	settings := loadSettingsOrDefault()

	if settings.Tool.Path == "" || !utils.FileExists(settings.Tool.Path) {
		fmt.Fprintln(os.Stderr, "Error: downloader tool path is not configured.")
		fmt.Fprintln(os.Stderr, "Set tool.path in settings.json or DEPOTGRAB_TOOL_PATH.")
		os.Exit(1)
	}

	var port int
	var listener net.Listener

	if portFlag > 0 {
		port = portFlag
		var err error
		listener, err = net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: could not bind to port %d: %v\n", port, err)
			os.Exit(1)
		}
	} else {
		port, listener = findAvailablePort(1980)
		if listener == nil {
			fmt.Fprintf(os.Stderr, "Error: could not find available port\n")
			os.Exit(1)
		}
	}

	store, err := history.Open(history.DefaultPath(config.GetStateDir()))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening history store: %v\n", err)
		os.Exit(1)
	}

	repos := sources.NewRepoClient(nil, settings.Sources.GithubToken)
	var hub orchestrator.ManifestHost
	if settings.Sources.ManifestHubAPIKey != "" {
		hub = sources.NewHubClient(nil, settings.Sources.ManifestHubAPIKey)
	}
	orch := orchestrator.New(orchestrator.Options{
		Settings:  settings,
		Repos:     repos,
		AltSource: sources.NewAltSourceClient(nil),
		Bundle:    sources.NewBundleClient(nil),
		Hub:       hub,
		Store:     sources.NewStoreClient(nil),
		Runner:    runner.New(settings.Tool.Path, settings.Tool.ExtraArgs),
		History:   store,
	})
	GlobalService = core.NewLocalJobService(orch, repos, store)

	saveActivePort(port)
	defer removeActivePort()

	token := ensureAuthToken()
	go startHTTPServer(listener, port, token, GlobalService)

	fmt.Printf("depotgrab %s running in server mode.\n", Version)
	fmt.Printf("HTTP server listening on port %d\n", port)
	fmt.Println("Press Ctrl+C to exit.")

	startHeadlessConsumer(GlobalService)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	fmt.Println("\nShutting down...")
	if err := GlobalService.Shutdown(); err != nil {
		utils.Debug("shutdown: %v", err)
	}
}

// startHTTPServer serves the daemon API on an existing listener.
func startHTTPServer(ln net.Listener, port int, token string, svc core.JobService) {
	mux := http.NewServeMux()

	// Health check endpoint
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"status":  "ok",
			"port":    port,
			"version": Version,
		})
	})

	mux.HandleFunc("/download", func(w http.ResponseWriter, r *http.Request) {
		handleDownload(w, r, svc)
	})

	mux.HandleFunc("/cancel", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		id := r.URL.Query().Get("id")
		if id == "" {
			http.Error(w, "Missing id parameter", http.StatusBadRequest)
			return
		}
		if err := svc.Cancel(id); err != nil {
			status := http.StatusConflict
			if err == orchestrator.ErrJobNotFound {
				status = http.StatusNotFound
			}
			http.Error(w, err.Error(), status)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "cancelling", "jobId": id})
	})

	mux.HandleFunc("/job", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		id := r.URL.Query().Get("id")
		if id == "" {
			http.Error(w, "Missing id parameter", http.StatusBadRequest)
			return
		}
		snap, err := svc.Status(id)
		if err != nil {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(snap)
	})

	mux.HandleFunc("/list", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		snaps, err := svc.List()
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(snaps)
	})

	mux.HandleFunc("/history", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		entries, err := svc.History(limit)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if entries == nil {
			entries = []history.Entry{}
		}
		json.NewEncoder(w).Encode(entries)
	})

	mux.HandleFunc("/search", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		appID := r.URL.Query().Get("app")
		if appID == "" {
			http.Error(w, "Missing app parameter", http.StatusBadRequest)
			return
		}
		result, err := svc.Search(r.Context(), appID)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadGateway)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(result)
	})

	mux.HandleFunc("/events", func(w http.ResponseWriter, r *http.Request) {
		handleEvents(w, r, svc)
	})

	server := &http.Server{Handler: authMiddleware(token, corsMiddleware(mux))}
	if err := server.Serve(ln); err != nil && err != http.ErrServerClosed {
		utils.Debug("HTTP server error: %v", err)
	}
}

// authMiddleware enforces the Bearer token on everything except /health.
func authMiddleware(token string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" || r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}
		auth := r.Header.Get("Authorization")
		if token == "" || auth != "Bearer "+token {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Requested-With")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func handleDownload(w http.ResponseWriter, r *http.Request, svc core.JobService) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req orchestrator.DownloadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON: "+err.Error(), http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	if req.AppID == "" {
		http.Error(w, "appId is required", http.StatusBadRequest)
		return
	}
	if strings.Contains(req.DownloadDir, "..") {
		http.Error(w, "Invalid path", http.StatusBadRequest)
		return
	}

	utils.Debug("Received download request: app=%s depots=%d", req.AppID, len(req.Depots))

	jobID, err := svc.Submit(req)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"status":  "queued",
		"message": "Download job queued successfully",
		"jobId":   jobID,
	})
}

// handleEvents streams job events over SSE. An optional ?job= filter limits
// the stream to one job.
func handleEvents(w http.ResponseWriter, r *http.Request, svc core.JobService) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ch, cancel, err := svc.StreamEvents(r.Context(), r.URL.Query().Get("job"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	defer cancel()

	// Heartbeat keeps intermediaries from timing out an idle stream.
	heartbeat := time.NewTicker(15 * time.Second)
	defer heartbeat.Stop()

	fmt.Fprintf(w, ": connected\n\n")
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			fmt.Fprintf(w, ": ping\n\n")
			flusher.Flush()
		case msg, open := <-ch:
			if !open {
				return
			}
			writeSSE(w, msg)
			flusher.Flush()
		}
	}
}
