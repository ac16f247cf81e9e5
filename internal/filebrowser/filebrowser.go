package filebrowser

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/your-org/fileorganizer/internal/classifier"
)

const defaultMaxListItems = 1000

// FileBrowser serves read-only listings of the organized directory
type FileBrowser struct {
	root         string
	table        classifier.Table
	maxListItems int
	logger       zerolog.Logger
}

// FileInfo represents a file or directory
type FileInfo struct {
	Name     string              `json:"name"`
	Path     string              `json:"path"`
	IsDir    bool                `json:"isDir"`
	Size     int64               `json:"size"`
	ModTime  time.Time           `json:"modTime"`
	Category classifier.Category `json:"category,omitempty"`
}

// BrowseResponse represents the response from a browse request
type BrowseResponse struct {
	Path   string     `json:"path"`
	Files  []FileInfo `json:"files"`
	Parent string     `json:"parent,omitempty"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error string `json:"error"`
}

// New creates a browser over root. A nil table uses the built-in groups.
func New(root string, table classifier.Table, logger zerolog.Logger) *FileBrowser {
	if table == nil {
		table = classifier.DefaultTable()
	}
	return &FileBrowser{
		root:         filepath.Clean(root),
		table:        table,
		maxListItems: defaultMaxListItems,
		logger:       logger.With().Str("component", "filebrowser").Logger(),
	}
}

// RegisterHandlers registers the file browser HTTP handlers on mux
func (fb *FileBrowser) RegisterHandlers(mux *http.ServeMux) {
	mux.HandleFunc("/api/files/browse", fb.handleBrowse)
}

// validatePath resolves a path relative to the root and rejects anything outside it,
// including targets reached through symlinks
func (fb *FileBrowser) validatePath(requestedPath string) (string, error) {
	if filepath.IsAbs(requestedPath) {
		return "", fmt.Errorf("path must be relative to the watched directory")
	}

	absPath := filepath.Join(fb.root, filepath.Clean(requestedPath))
	if !within(fb.root, absPath) {
		return "", fmt.Errorf("access denied: path outside watched directory")
	}

	realRoot, err := filepath.EvalSymlinks(fb.root)
	if err != nil {
		return "", fmt.Errorf("cannot resolve watched directory: %w", err)
	}
	realPath, err := filepath.EvalSymlinks(absPath)
	if err != nil {
		if os.IsNotExist(err) {
			// Reported as not found by the caller
			return absPath, nil
		}
		return "", fmt.Errorf("invalid path: %w", err)
	}
	if !within(realRoot, realPath) {
		return "", fmt.Errorf("access denied: path outside watched directory")
	}
	return absPath, nil
}

// within reports whether path is root or lies below it
func within(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	return err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// handleBrowse lists a directory under the root. Files carry the category they
// would be filed under.
// GET /api/files/browse?path=doc
func (fb *FileBrowser) handleBrowse(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, ErrorResponse{Error: "method not allowed"})
		return
	}

	requestedPath := r.URL.Query().Get("path")
	validPath, err := fb.validatePath(requestedPath)
	if err != nil {
		fb.logger.Warn().Err(err).Str("path", requestedPath).Msg("Path validation failed")
		writeJSON(w, http.StatusForbidden, ErrorResponse{Error: err.Error()})
		return
	}

	info, err := os.Stat(validPath)
	if err != nil {
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: "path not found"})
		return
	}
	if !info.IsDir() {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "path is not a directory"})
		return
	}

	entries, err := os.ReadDir(validPath)
	if err != nil {
		fb.logger.Error().Err(err).Str("path", validPath).Msg("Failed to read directory")
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "failed to read directory"})
		return
	}

	files := make([]FileInfo, 0, len(entries))
	for i, entry := range entries {
		if i >= fb.maxListItems {
			break
		}
		entryInfo, err := entry.Info()
		if err != nil {
			continue
		}

		fi := FileInfo{
			Name:    entry.Name(),
			Path:    fb.relative(filepath.Join(validPath, entry.Name())),
			IsDir:   entry.IsDir(),
			Size:    entryInfo.Size(),
			ModTime: entryInfo.ModTime(),
		}
		if !entry.IsDir() {
			fi.Category = fb.table.Classify(classifier.FileExtension(entry.Name()))
		}
		files = append(files, fi)
	}

	response := BrowseResponse{
		Path:  fb.relative(validPath),
		Files: files,
	}
	if validPath != fb.root {
		response.Parent = fb.relative(filepath.Dir(validPath))
	}

	fb.logger.Debug().Str("path", validPath).Int("fileCount", len(files)).Msg("Browse request")
	writeJSON(w, http.StatusOK, response)
}

func (fb *FileBrowser) relative(path string) string {
	rel, err := filepath.Rel(fb.root, path)
	if err != nil {
		return path
	}
	return filepath.ToSlash(rel)
}
