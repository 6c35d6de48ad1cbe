// Package main provides a speech plugin. It speaks the recognized gesture,
// or the whole transcript, with the platform's text-to-speech command.
package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strconv"
	"strings"
)

// Request represents the input from the plugin executor.
type Request struct {
	Action     string          `json:"action"`
	Gesture    string          `json:"gesture"`
	Transcript []string        `json:"transcript"`
	Config     json.RawMessage `json:"config"`
}

// Response represents the output to the plugin executor.
type Response struct {
	Success bool            `json:"success"`
	Error   string          `json:"error,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Config is the per-binding configuration.
type Config struct {
	Voice  string `json:"voice"`
	Rate   int    `json:"rate"`    // words per minute, 0 = engine default
	DryRun bool   `json:"dry_run"` // report the text without speaking
}

// phrases maps vocabulary labels to spoken text. Other labels are spoken
// with underscores and dashes replaced by spaces.
var phrases = map[string]string{
	"hello":    "Hello",
	"thanks":   "Thank you",
	"iloveyou": "I love you",
}

func main() {
	var req Request
	if err := json.NewDecoder(os.Stdin).Decode(&req); err != nil {
		writeErrorResponse(fmt.Sprintf("failed to decode request: %v", err))
		return
	}

	var cfg Config
	if len(req.Config) > 0 {
		if err := json.Unmarshal(req.Config, &cfg); err != nil {
			writeErrorResponse(fmt.Sprintf("failed to parse config: %v", err))
			return
		}
	}

	var text string
	switch req.Action {
	case "say":
		text = phrase(req.Gesture)
	case "say-transcript":
		words := make([]string, 0, len(req.Transcript))
		for _, label := range req.Transcript {
			words = append(words, phrase(label))
		}
		text = strings.Join(words, ", ")
	default:
		writeErrorResponse(fmt.Sprintf("unknown action: %s", req.Action))
		return
	}

	if text == "" {
		writeErrorResponse("nothing to say")
		return
	}

	if !cfg.DryRun {
		if err := speak(text, cfg); err != nil {
			writeErrorResponse(fmt.Sprintf("action %s failed: %v", req.Action, err))
			return
		}
	}

	writeSuccessResponse(text)
}

func phrase(label string) string {
	if p, ok := phrases[label]; ok {
		return p
	}
	return strings.NewReplacer("_", " ", "-", " ").Replace(label)
}

// speak runs say on macOS and espeak or spd-say elsewhere.
func speak(text string, cfg Config) error {
	var name string
	var args []string

	switch {
	case runtime.GOOS == "darwin":
		name = "say"
		if cfg.Voice != "" {
			args = append(args, "-v", cfg.Voice)
		}
		if cfg.Rate > 0 {
			args = append(args, "-r", strconv.Itoa(cfg.Rate))
		}
	case hasCommand("espeak"):
		name = "espeak"
		if cfg.Voice != "" {
			args = append(args, "-v", cfg.Voice)
		}
		if cfg.Rate > 0 {
			args = append(args, "-s", strconv.Itoa(cfg.Rate))
		}
	case hasCommand("spd-say"):
		name = "spd-say"
		args = append(args, "--wait")
		if cfg.Voice != "" {
			args = append(args, "-l", cfg.Voice)
		}
	default:
		return errors.New("no text-to-speech command found (say, espeak or spd-say)")
	}

	cmd := exec.Command(name, append(args, text)...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("%w: %s", err, string(output))
	}
	return nil
}

func hasCommand(name string) bool {
	_, err := exec.LookPath(name)
	return err == nil
}

// writeErrorResponse writes an error response to stdout.
func writeErrorResponse(errMsg string) {
	resp := Response{
		Success: false,
		Error:   errMsg,
	}
	json.NewEncoder(os.Stdout).Encode(resp)
}

// writeSuccessResponse writes a success response carrying the spoken text.
func writeSuccessResponse(text string) {
	data, _ := json.Marshal(map[string]string{"text": text})
	resp := Response{
		Success: true,
		Data:    data,
	}
	json.NewEncoder(os.Stdout).Encode(resp)
}
