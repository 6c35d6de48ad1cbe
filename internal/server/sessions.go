package server

import (
	"errors"
	"io"
	"mime"
	"net/http"
	"strings"

	"github.com/ayusman/mudra/internal/server/api"
	"github.com/ayusman/mudra/internal/store"
	"github.com/ayusman/mudra/internal/stream"
)

// predictResponse is the reply to one frame on every endpoint. Gesture is
// null when nothing was confirmed for this frame.
type predictResponse struct {
	SessionID  string       `json:"session_id,omitempty"`
	Gesture    *string      `json:"gesture"`
	Confidence float64      `json:"confidence"`
	Transcript []string     `json:"transcript"`
	Phase      stream.Phase `json:"phase"`
}

func toPredictResponse(res stream.Result) predictResponse {
	resp := predictResponse{
		SessionID:  res.SessionID,
		Confidence: res.Confidence,
		Transcript: res.Transcript,
		Phase:      res.Phase,
	}
	if res.Gesture != "" {
		g := res.Gesture
		resp.Gesture = &g
	}
	if resp.Transcript == nil {
		resp.Transcript = []string{}
	}
	return resp
}

func (s *Server) ready(w http.ResponseWriter) bool {
	if s.config.Orchestrator == nil || s.config.Registry == nil {
		api.WriteError(w, http.StatusServiceUnavailable, "Recognition is not configured")
		return false
	}
	return true
}

// handlePredict runs one uploaded image through the default session.
func (s *Server) handlePredict(w http.ResponseWriter, r *http.Request) {
	if !s.ready(w) {
		return
	}

	data, status, msg := s.readUpload(w, r)
	if msg != "" {
		api.WriteError(w, status, msg)
		return
	}

	st := s.config.Registry.Default()
	res, err := s.config.Orchestrator.Process(r.Context(), st, data)
	if err != nil {
		s.writeProcessError(w, st.ID(), err)
		return
	}
	resp := toPredictResponse(res)
	resp.SessionID = ""
	api.WriteJSON(w, http.StatusOK, resp)
}

// readUpload returns the image in the multipart field "file". The part
// must declare an image/* content type. On failure it returns the status
// and message to send.
func (s *Server) readUpload(w http.ResponseWriter, r *http.Request) ([]byte, int, string) {
	r.Body = http.MaxBytesReader(w, r.Body, s.config.MaxFrameBytes)

	file, header, err := r.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, http.StatusRequestEntityTooLarge, "File is too large"
		}
		return nil, http.StatusBadRequest, `Multipart field "file" is required`
	}
	defer file.Close()

	if !strings.HasPrefix(header.Header.Get("Content-Type"), "image/") {
		return nil, http.StatusBadRequest, "File must be an image"
	}

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, http.StatusBadRequest, "Failed to read file"
	}
	return data, 0, ""
}

// readFrame accepts either a raw image body or a multipart upload.
func (s *Server) readFrame(w http.ResponseWriter, r *http.Request) ([]byte, int, string) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "multipart/form-data" {
		return s.readUpload(w, r)
	}

	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.config.MaxFrameBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, http.StatusRequestEntityTooLarge, "Frame is too large"
		}
		return nil, http.StatusBadRequest, "Failed to read frame"
	}
	return data, 0, ""
}

// writeProcessError maps an orchestrator error to a response. Bad input is
// the client's fault; everything else is escalated.
func (s *Server) writeProcessError(w http.ResponseWriter, sessionID string, err error) {
	if errors.Is(err, stream.ErrDecode) {
		api.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.log.WithError(err).WithField("session", sessionID).Error("frame processing failed")
	api.WriteError(w, http.StatusInternalServerError, err.Error())
}

type createSessionResponse struct {
	ID string `json:"id"`
}

type listSessionsResponse struct {
	Sessions []string `json:"sessions"`
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	if !s.ready(w) {
		return
	}
	ids := s.config.Registry.IDs()
	if ids == nil {
		ids = []string{}
	}
	api.WriteJSON(w, http.StatusOK, listSessionsResponse{Sessions: ids})
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	if !s.ready(w) {
		return
	}
	st := s.config.Registry.Create()
	s.log.WithField("session", st.ID()).Debug("session created")
	api.WriteJSON(w, http.StatusCreated, createSessionResponse{ID: st.ID()})
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	if !s.ready(w) {
		return
	}
	st, ok := s.config.Registry.Get(r.PathValue("id"))
	if !ok {
		api.WriteError(w, http.StatusNotFound, "Session not found")
		return
	}
	api.WriteJSON(w, http.StatusOK, st.Snapshot())
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	if !s.ready(w) {
		return
	}
	id := r.PathValue("id")
	if !s.config.Registry.Remove(id) {
		api.WriteError(w, http.StatusNotFound, "Session not found")
		return
	}
	s.closeRecorded(id)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleResetSession(w http.ResponseWriter, r *http.Request) {
	if !s.ready(w) {
		return
	}
	st, ok := s.config.Registry.Get(r.PathValue("id"))
	if !ok {
		api.WriteError(w, http.StatusNotFound, "Session not found")
		return
	}
	st.Reset()
	api.WriteJSON(w, http.StatusOK, st.Snapshot())
}

// handleFrames feeds one frame to a session. An unknown ID starts a new
// session under that ID.
func (s *Server) handleFrames(w http.ResponseWriter, r *http.Request) {
	if !s.ready(w) {
		return
	}

	data, status, msg := s.readFrame(w, r)
	if msg != "" {
		api.WriteError(w, status, msg)
		return
	}

	st := s.config.Registry.GetOrCreate(r.PathValue("id"))
	res, err := s.config.Orchestrator.Process(r.Context(), st, data)
	if err != nil {
		s.writeProcessError(w, st.ID(), err)
		return
	}
	api.WriteJSON(w, http.StatusOK, toPredictResponse(res))
}

// closeRecorded marks a session closed in the store, if it was recorded.
func (s *Server) closeRecorded(id string) {
	if s.config.Store == nil {
		return
	}
	err := s.config.Store.Sessions().Close(id)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		s.log.WithError(err).WithField("session", id).Warn("failed to close recorded session")
	}
}
