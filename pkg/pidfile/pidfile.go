package pidfile

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

// ErrRunning is returned by Create when a live process owns the file
var ErrRunning = errors.New("daemon already running")

// PIDFile guards a daemon against running twice
type PIDFile struct {
	path  string
	pid   int
	alive func(pid int) bool
}

// New creates a PIDFile for the current process
func New(path string) *PIDFile {
	return &PIDFile{path: path, pid: os.Getpid(), alive: processAlive}
}

// Path returns the path to the PID file
func (p *PIDFile) Path() string {
	return p.path
}

// Create writes the PID file. A file left behind by a dead process is
// replaced; a live owner yields ErrRunning unless force is set.
func (p *PIDFile) Create(force bool) error {
	running, existing, err := p.CheckRunning()
	if err != nil && !force {
		return err
	}
	if running && existing != p.pid && !force {
		return fmt.Errorf("%w with PID %d", ErrRunning, existing)
	}

	if err := os.MkdirAll(filepath.Dir(p.path), 0o755); err != nil {
		return fmt.Errorf("failed to create PID file directory: %w", err)
	}

	tmp := p.path + ".tmp"
	if err := os.WriteFile(tmp, []byte(strconv.Itoa(p.pid)+"\n"), 0o644); err != nil {
		return fmt.Errorf("failed to write PID file: %w", err)
	}
	if err := os.Rename(tmp, p.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to create PID file: %w", err)
	}
	return nil
}

// Remove deletes the PID file if it still belongs to this process
func (p *PIDFile) Remove() error {
	existing, err := p.read()
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err == nil && existing != p.pid {
		return fmt.Errorf("PID file contains different PID (%d vs %d), not removing", existing, p.pid)
	}
	return os.Remove(p.path)
}

// CheckRunning reports whether the recorded process is alive and its PID
func (p *PIDFile) CheckRunning() (bool, int, error) {
	existing, err := p.read()
	if errors.Is(err, os.ErrNotExist) {
		return false, 0, nil
	}
	if err != nil {
		return false, 0, fmt.Errorf("failed to read PID file: %w", err)
	}
	return p.alive(existing), existing, nil
}

func (p *PIDFile) read() (int, error) {
	data, err := os.ReadFile(p.path)
	if err != nil {
		return 0, err
	}
	value := strings.TrimSpace(string(data))
	pid, err := strconv.Atoi(value)
	if err != nil || pid <= 0 {
		return 0, fmt.Errorf("invalid PID in file: %q", value)
	}
	return pid, nil
}

func processAlive(pid int) bool {
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = process.Signal(syscall.Signal(0))
	return err == nil || errors.Is(err, syscall.EPERM)
}
