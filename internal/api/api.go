package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/your-org/fileorganizer/internal/organizer"
)

// StatusProvider is the part of the organizer the API reports on
type StatusProvider interface {
	State() organizer.State
	Root() string
	Stats() organizer.StatsSnapshot
}

// Server provides a small HTTP API for inspecting a running organizer
type Server struct {
	status     StatusProvider
	instanceID string
	logPath    string
	startedAt  time.Time
	logger     zerolog.Logger
}

// NewServer creates a new API server. logPath is the JSON log file served by
// /api/logs and may be empty.
func NewServer(status StatusProvider, instanceID, logPath string, logger zerolog.Logger) *Server {
	return &Server{
		status:     status,
		instanceID: instanceID,
		logPath:    logPath,
		startedAt:  time.Now(),
		logger:     logger.With().Str("component", "api").Logger(),
	}
}

// RegisterHandlers registers all API endpoints on mux
func (s *Server) RegisterHandlers(mux *http.ServeMux) {
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/api/status", s.handleStatus)
	mux.HandleFunc("/api/logs", s.handleLogs)
	mux.HandleFunc("/api/loglevel", s.handleLogLevel)
}

// ListenAndServe registers the API on mux and serves it on addr until ctx is cancelled.
// mux may already carry other handlers; nil starts from an empty one.
func (s *Server) ListenAndServe(ctx context.Context, addr string, mux *http.ServeMux) error {
	if mux == nil {
		mux = http.NewServeMux()
	}
	s.RegisterHandlers(mux)

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	s.logger.Info().Str("addr", addr).Msg("Status API listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("status API: %w", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// handleHealth reports 200 while the organizer is watching and 503 otherwise
// GET /healthz
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	state := s.status.State()
	code := http.StatusOK
	if state == organizer.StateStopped || state == organizer.StateErrored {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]string{"status": state.String()})
}

// StatusResponse describes the running organizer
type StatusResponse struct {
	InstanceID string                  `json:"instanceId"`
	Hostname   string                  `json:"hostname"`
	Platform   string                  `json:"platform"`
	Root       string                  `json:"root"`
	State      string                  `json:"state"`
	Uptime     string                  `json:"uptime"`
	Stats      organizer.StatsSnapshot `json:"stats"`
}

// handleStatus returns state and counters
// GET /api/status
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed. Use GET", http.StatusMethodNotAllowed)
		return
	}

	hostname, _ := os.Hostname()
	writeJSON(w, http.StatusOK, StatusResponse{
		InstanceID: s.instanceID,
		Hostname:   hostname,
		Platform:   runtime.GOOS + "/" + runtime.GOARCH,
		Root:       s.status.Root(),
		State:      s.status.State().String(),
		Uptime:     time.Since(s.startedAt).Round(time.Second).String(),
		Stats:      s.status.Stats(),
	})
}

// LogEntry represents a single log line with metadata
type LogEntry struct {
	Timestamp string                 `json:"timestamp"`
	Level     string                 `json:"level"`
	Message   string                 `json:"message"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	LineNum   int                    `json:"lineNum"`
}

// LogsResponse represents paginated log response
type LogsResponse struct {
	Logs       []LogEntry `json:"logs"`
	TotalLines int        `json:"totalLines"`
	Page       int        `json:"page"`
	PageSize   int        `json:"pageSize"`
	TotalPages int        `json:"totalPages"`
	HasMore    bool       `json:"hasMore"`
}

// handleLogs returns the JSON log file newest first, filtered and paginated
// GET /api/logs?page=1&pageSize=100&level=error&search=moved
func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	if page < 1 {
		page = 1
	}
	pageSize, _ := strconv.Atoi(r.URL.Query().Get("pageSize"))
	if pageSize < 1 || pageSize > 1000 {
		pageSize = 100
	}
	levelFilter := strings.ToLower(r.URL.Query().Get("level"))
	searchFilter := strings.ToLower(r.URL.Query().Get("search"))

	entries, err := readLogEntries(s.logPath, levelFilter, searchFilter)
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to read logs: %v", err), http.StatusInternalServerError)
		return
	}

	totalLines := len(entries)
	totalPages := (totalLines + pageSize - 1) / pageSize
	startIdx := (page - 1) * pageSize
	if startIdx > totalLines {
		startIdx = totalLines
	}
	endIdx := startIdx + pageSize
	if endIdx > totalLines {
		endIdx = totalLines
	}

	writeJSON(w, http.StatusOK, LogsResponse{
		Logs:       entries[startIdx:endIdx],
		TotalLines: totalLines,
		Page:       page,
		PageSize:   pageSize,
		TotalPages: totalPages,
		HasMore:    page < totalPages,
	})
}

// readLogEntries parses zerolog JSON lines, newest first. Non-JSON lines are skipped;
// a missing file has no entries.
func readLogEntries(path, levelFilter, searchFilter string) ([]LogEntry, error) {
	entries := []LogEntry{}
	if path == "" {
		return entries, nil
	}

	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return entries, nil
		}
		return nil, err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}

		var logData map[string]interface{}
		if err := json.Unmarshal([]byte(line), &logData); err != nil {
			continue
		}

		entry := LogEntry{
			LineNum:  lineNum,
			Metadata: make(map[string]interface{}),
		}
		if ts, ok := logData[zerolog.TimestampFieldName].(string); ok {
			entry.Timestamp = ts
		} else if ts, ok := logData[zerolog.TimestampFieldName].(float64); ok {
			entry.Timestamp = time.Unix(int64(ts), 0).Format(time.RFC3339)
		}
		entry.Level, _ = logData[zerolog.LevelFieldName].(string)
		entry.Message, _ = logData[zerolog.MessageFieldName].(string)
		for key, val := range logData {
			switch key {
			case zerolog.TimestampFieldName, zerolog.LevelFieldName, zerolog.MessageFieldName:
			default:
				entry.Metadata[key] = val
			}
		}

		if levelFilter != "" && entry.Level != levelFilter {
			continue
		}
		if searchFilter != "" {
			searchText := strings.ToLower(entry.Message + " " + fmt.Sprint(entry.Metadata))
			if !strings.Contains(searchText, searchFilter) {
				continue
			}
		}
		entries = append(entries, entry)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}
	return entries, nil
}

// LogLevelResponse represents log level status
type LogLevelResponse struct {
	CurrentLevel    string   `json:"currentLevel"`
	AvailableLevels []string `json:"availableLevels"`
}

// LogLevelRequest represents log level change request
type LogLevelRequest struct {
	Level string `json:"level"`
}

var availableLevels = []string{"trace", "debug", "info", "warn", "error"}

// handleLogLevel gets or sets the process-wide log level
// GET /api/loglevel - Get current level
// POST /api/loglevel - Set new level (body: {"level": "debug"})
func (s *Server) handleLogLevel(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, LogLevelResponse{
			CurrentLevel:    zerolog.GlobalLevel().String(),
			AvailableLevels: availableLevels,
		})

	case http.MethodPost:
		var req LogLevelRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, fmt.Sprintf("Invalid request: %v", err), http.StatusBadRequest)
			return
		}
		newLevel, err := zerolog.ParseLevel(strings.ToLower(req.Level))
		if err != nil || req.Level == "" {
			http.Error(w, fmt.Sprintf("Invalid log level: %s. Valid levels: %s", req.Level, strings.Join(availableLevels, ", ")), http.StatusBadRequest)
			return
		}

		oldLevel := zerolog.GlobalLevel()
		zerolog.SetGlobalLevel(newLevel)
		s.logger.Info().
			Str("oldLevel", oldLevel.String()).
			Str("newLevel", newLevel.String()).
			Msg("Log level changed via API")

		writeJSON(w, http.StatusOK, LogLevelResponse{
			CurrentLevel:    newLevel.String(),
			AvailableLevels: availableLevels,
		})

	default:
		http.Error(w, "Method not allowed. Use GET or POST", http.StatusMethodNotAllowed)
	}
}
