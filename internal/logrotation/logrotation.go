package logrotation

import (
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

const backupTimeFormat = "20060102-150405.000"

// Options controls when the log file is rotated and how many backups survive
type Options struct {
	MaxSizeMB  int  // Rotate once the file would grow past this size
	MaxAgeDays int  // Backups older than this are removed
	MaxBackups int  // Keep at most this many backups
	Compress   bool // Gzip rotated backups
}

func (o *Options) setDefaults() {
	if o.MaxSizeMB <= 0 {
		o.MaxSizeMB = 10
	}
	if o.MaxAgeDays <= 0 {
		o.MaxAgeDays = 14
	}
	if o.MaxBackups <= 0 {
		o.MaxBackups = 3
	}
}

// RotatingWriter is an io.Writer over a log file that rotates by size and prunes
// backups by age and count
type RotatingWriter struct {
	filename string
	maxSize  int64
	opts     Options

	mu   sync.Mutex
	file *os.File
	size int64

	// background compression and pruning
	wg sync.WaitGroup
}

// NewRotatingWriter opens (or creates) filename for appending
func NewRotatingWriter(filename string, opts Options) (*RotatingWriter, error) {
	opts.setDefaults()

	rw := &RotatingWriter{
		filename: filename,
		maxSize:  int64(opts.MaxSizeMB) * 1024 * 1024,
		opts:     opts,
	}

	if err := os.MkdirAll(filepath.Dir(filename), 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	if err := rw.open(); err != nil {
		return nil, err
	}
	return rw, nil
}

// Write implements io.Writer
func (rw *RotatingWriter) Write(p []byte) (int, error) {
	rw.mu.Lock()
	defer rw.mu.Unlock()

	if rw.file == nil {
		return 0, os.ErrClosed
	}

	if rw.size > 0 && rw.size+int64(len(p)) > rw.maxSize {
		if err := rw.rotate(); err != nil {
			return 0, fmt.Errorf("failed to rotate log: %w", err)
		}
	}

	n, err := rw.file.Write(p)
	rw.size += int64(n)
	return n, err
}

// Rotate forces a rotation regardless of the current size
func (rw *RotatingWriter) Rotate() error {
	rw.mu.Lock()
	defer rw.mu.Unlock()
	return rw.rotate()
}

// Close closes the log file and waits for pending compression and pruning
func (rw *RotatingWriter) Close() error {
	rw.mu.Lock()
	var err error
	if rw.file != nil {
		err = rw.file.Close()
		rw.file = nil
	}
	rw.mu.Unlock()

	rw.wg.Wait()
	return err
}

// open appends to an existing file or creates a new one
func (rw *RotatingWriter) open() error {
	file, err := os.OpenFile(rw.filename, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return fmt.Errorf("failed to stat log file: %w", err)
	}

	rw.file = file
	rw.size = info.Size()
	return nil
}

// rotate must be called with mu held
func (rw *RotatingWriter) rotate() error {
	if rw.file != nil {
		if err := rw.file.Close(); err != nil {
			return err
		}
		rw.file = nil
	}

	backup := rw.filename + "." + time.Now().Format(backupTimeFormat)
	if err := os.Rename(rw.filename, backup); err != nil && !os.IsNotExist(err) {
		return err
	}

	rw.wg.Add(1)
	go func() {
		defer rw.wg.Done()
		if rw.opts.Compress {
			// A failed compression leaves the plain backup in place
			_ = compressFile(backup)
		}
		rw.prune()
	}()

	return rw.open()
}

// backups returns rotated files, oldest first
func (rw *RotatingWriter) backups() []os.FileInfo {
	dir := filepath.Dir(rw.filename)
	prefix := filepath.Base(rw.filename) + "."

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}

	var infos []os.FileInfo
	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), prefix) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		infos = append(infos, info)
	}

	sort.Slice(infos, func(i, j int) bool {
		return infos[i].ModTime().Before(infos[j].ModTime())
	})
	return infos
}

// prune removes backups past MaxAgeDays, then the oldest beyond MaxBackups
func (rw *RotatingWriter) prune() {
	dir := filepath.Dir(rw.filename)
	cutoff := time.Now().AddDate(0, 0, -rw.opts.MaxAgeDays)

	var kept []os.FileInfo
	for _, info := range rw.backups() {
		if info.ModTime().Before(cutoff) {
			os.Remove(filepath.Join(dir, info.Name()))
			continue
		}
		kept = append(kept, info)
	}

	for len(kept) > rw.opts.MaxBackups {
		os.Remove(filepath.Join(dir, kept[0].Name()))
		kept = kept[1:]
	}
}

// compressFile gzips filename next to itself and removes the original
func compressFile(filename string) error {
	src, err := os.Open(filename)
	if err != nil {
		return err
	}
	defer src.Close()

	dst, err := os.Create(filename + ".gz")
	if err != nil {
		return err
	}

	gz := gzip.NewWriter(dst)
	if _, err := io.Copy(gz, src); err != nil {
		gz.Close()
		dst.Close()
		os.Remove(filename + ".gz")
		return err
	}
	if err := gz.Close(); err != nil {
		dst.Close()
		return err
	}
	if err := dst.Close(); err != nil {
		return err
	}

	src.Close()
	return os.Remove(filename)
}
