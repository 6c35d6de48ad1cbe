package feature

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"gocv.io/x/gocv"
)

// idleShutdown is how long the python service may sit unused before it is
// stopped. It is restarted on the next frame.
const idleShutdown = 30 * time.Second

// HolisticExtractor implements Extractor using a Python MediaPipe Holistic
// subprocess.
//
// Wire protocol: each request is a 4-byte big-endian length followed by a
// JPEG; each response is a single JSON line shaped like Holistic, or
// {"error": "..."}.
type HolisticExtractor struct {
	config    Config
	script    string
	cmd       *exec.Cmd
	stdin     io.WriteCloser
	stdout    *bufio.Reader
	mu        sync.Mutex
	started   bool
	idleTimer *time.Timer
}

// NewHolisticExtractor creates a new holistic extractor.
// The Python process is started lazily on first extraction.
func NewHolisticExtractor(config Config) (*HolisticExtractor, error) {
	script := config.ScriptPath
	if script == "" {
		script = findHolisticScript()
	}
	if script == "" {
		return nil, fmt.Errorf("holistic_service.py not found")
	}
	if _, err := os.Stat(script); err != nil {
		return nil, fmt.Errorf("holistic script: %w", err)
	}

	return &HolisticExtractor{
		config: config,
		script: script,
	}, nil
}

// Extract sends the frame to the holistic service and flattens the result.
func (e *HolisticExtractor) Extract(frame *gocv.Mat) (Vector, error) {
	if frame == nil || frame.Empty() {
		return nil, ErrEmptyFrame
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.ensureStarted(); err != nil {
		return nil, err
	}

	buf, err := gocv.IMEncode(gocv.JPEGFileExt, *frame)
	if err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}
	defer buf.Close()

	data := buf.GetBytes()

	header := make([]byte, 4)
	binary.BigEndian.PutUint32(header, uint32(len(data)))

	if _, err := e.stdin.Write(header); err != nil {
		e.shutdown()
		return nil, fmt.Errorf("write length: %w", err)
	}
	if _, err := e.stdin.Write(data); err != nil {
		e.shutdown()
		return nil, fmt.Errorf("write data: %w", err)
	}

	line, err := e.stdout.ReadBytes('\n')
	if err != nil {
		e.shutdown()
		return nil, fmt.Errorf("read response: %w", err)
	}

	var response struct {
		Holistic
		Error string `json:"error"`
	}
	if err := json.Unmarshal(line, &response); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}
	if response.Error != "" {
		return nil, fmt.Errorf("holistic service: %s", response.Error)
	}

	e.resetIdleTimer()

	return response.Holistic.Flatten(), nil
}

// Close shuts down the Python process.
func (e *HolisticExtractor) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.shutdown()
}

func (e *HolisticExtractor) ensureStarted() error {
	if e.started {
		return nil
	}

	python := e.config.PythonPath
	if python == "" {
		python = findVenvPython()
	}
	if python == "" {
		python = "python3"
	}

	e.cmd = exec.Command(python, e.script,
		"--min-detection-confidence", strconv.FormatFloat(e.config.MinDetectionConf, 'f', -1, 64),
		"--min-tracking-confidence", strconv.FormatFloat(e.config.MinTrackingConf, 'f', -1, 64),
	)

	stdin, err := e.cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("create stdin pipe: %w", err)
	}

	stdout, err := e.cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("create stdout pipe: %w", err)
	}

	e.cmd.Stderr = os.Stderr

	if err := e.cmd.Start(); err != nil {
		return fmt.Errorf("start holistic service: %w", err)
	}

	e.stdin = stdin
	e.stdout = bufio.NewReaderSize(stdout, 64*1024)
	e.started = true

	return nil
}

func (e *HolisticExtractor) shutdown() error {
	if !e.started {
		return nil
	}

	if e.idleTimer != nil {
		e.idleTimer.Stop()
		e.idleTimer = nil
	}

	if e.stdin != nil {
		e.stdin.Close()
	}

	err := e.cmd.Wait()
	e.started = false
	e.cmd = nil
	e.stdin = nil
	e.stdout = nil

	return err
}

func (e *HolisticExtractor) resetIdleTimer() {
	if e.idleTimer != nil {
		e.idleTimer.Stop()
	}
	e.idleTimer = time.AfterFunc(idleShutdown, func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		e.shutdown()
	})
}

func findHolisticScript() string {
	execPath, err := os.Executable()
	var execDir string
	if err == nil {
		execDir = filepath.Dir(execPath)
	}

	candidates := []string{
		"scripts/holistic_service.py",
		"../scripts/holistic_service.py",
		filepath.Join(execDir, "scripts/holistic_service.py"),
		filepath.Join(os.Getenv("HOME"), ".mudra/scripts/holistic_service.py"),
	}

	return firstExisting(candidates)
}

// findVenvPython looks for a Python interpreter in a virtual environment.
func findVenvPython() string {
	execPath, err := os.Executable()
	if err != nil {
		return ""
	}
	execDir := filepath.Dir(execPath)

	candidates := []string{
		"venv/bin/python",
		"../venv/bin/python",
		"../../venv/bin/python",
		filepath.Join(execDir, "venv/bin/python"),
		filepath.Join(os.Getenv("HOME"), ".mudra/venv/bin/python"),
	}

	return firstExisting(candidates)
}

func firstExisting(paths []string) string {
	for _, path := range paths {
		if _, err := os.Stat(path); err == nil {
			if abs, err := filepath.Abs(path); err == nil {
				return abs
			}
			return path
		}
	}
	return ""
}
