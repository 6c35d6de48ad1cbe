package server

import (
	"fmt"
	"net/http"
	"time"
)

// FrameSource provides the most recent camera frame as JPEG.
type FrameSource interface {
	// LatestJPEG returns the last captured frame, or false when no frame
	// has been captured yet.
	LatestJPEG() ([]byte, bool)
}

// PreviewHandler serves MJPEG frames from a FrameSource.
type PreviewHandler struct {
	source   FrameSource
	interval time.Duration
}

// NewPreviewHandler creates a PreviewHandler emitting about 15 frames per second.
func NewPreviewHandler(source FrameSource) *PreviewHandler {
	return &PreviewHandler{source: source, interval: 66 * time.Millisecond}
}

// ServeHTTP streams MJPEG frames until the client disconnects.
func (h *PreviewHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary=frame")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	var last []byte
	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
		}

		jpeg, ok := h.source.LatestJPEG()
		if !ok || len(jpeg) == 0 || sameBuffer(jpeg, last) {
			continue
		}
		last = jpeg

		fmt.Fprintf(w, "--frame\r\n")
		fmt.Fprintf(w, "Content-Type: image/jpeg\r\n")
		fmt.Fprintf(w, "Content-Length: %d\r\n\r\n", len(jpeg))
		if _, err := w.Write(jpeg); err != nil {
			return
		}
		fmt.Fprintf(w, "\r\n")

		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
	}
}

// sameBuffer reports whether a and b share a backing array, which means
// the source has not captured a new frame.
func sameBuffer(a, b []byte) bool {
	return len(a) > 0 && len(a) == len(b) && &a[0] == &b[0]
}
