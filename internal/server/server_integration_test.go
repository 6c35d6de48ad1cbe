package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ayusman/mudra/internal/fixture"
	"github.com/ayusman/mudra/internal/observe"
	"github.com/ayusman/mudra/internal/store"
	"github.com/ayusman/mudra/internal/stream"
)

func testJPEG(t *testing.T) []byte {
	t.Helper()
	data, err := fixture.JPEG(fixture.Width, fixture.Height, 0)
	if err != nil {
		t.Fatalf("fixture.JPEG: %v", err)
	}
	return data
}

type predictResult struct {
	Gesture    *string  `json:"gesture"`
	Confidence float64  `json:"confidence"`
	Transcript []string `json:"transcript"`
	Phase      string   `json:"phase"`
	Error      string   `json:"error"`
}

func postPredict(t *testing.T, client *http.Client, url, contentType string, data []byte) (int, predictResult) {
	t.Helper()
	body, ct := multipartBody(t, "file", contentType, data)
	resp, err := client.Post(url+"/predict", ct, body)
	if err != nil {
		t.Fatalf("POST /predict error = %v", err)
	}
	defer resp.Body.Close()

	var out predictResult
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("failed to decode /predict response: %v", err)
	}
	return resp.StatusCode, out
}

func TestAPI_PredictWorkflow(t *testing.T) {
	deps := newTestDeps(t)
	ts := httptest.NewServer(New(deps.config()))
	defer ts.Close()

	client := ts.Client()
	frame := testJPEG(t)

	// 1. Warm-up frames never reach the classifier.
	for i := 0; i < testEngine.WindowSize-1; i++ {
		status, res := postPredict(t, client, ts.URL, "image/jpeg", frame)
		if status != http.StatusOK {
			t.Fatalf("warm-up frame %d: status = %d", i, status)
		}
		if res.Gesture != nil || res.Phase != "warming_up" || len(res.Transcript) != 0 {
			t.Errorf("warm-up frame %d: unexpected result %+v", i, res)
		}
	}
	if deps.classifier.Calls() != 0 {
		t.Errorf("classifier called during warm-up: %d", deps.classifier.Calls())
	}

	// 2. First classification has one vote, below MinVotes.
	_, res := postPredict(t, client, ts.URL, "image/jpeg", frame)
	if res.Gesture != nil || res.Phase != "active" {
		t.Errorf("expected active phase without a gesture, got %+v", res)
	}

	// 3. Second classification confirms.
	_, res = postPredict(t, client, ts.URL, "image/jpeg", frame)
	if res.Gesture == nil || *res.Gesture != "hello" {
		t.Fatalf("expected hello, got %+v", res)
	}
	if len(res.Transcript) != 1 || res.Transcript[0] != "hello" {
		t.Errorf("expected transcript [hello], got %v", res.Transcript)
	}

	// 4. Bad input is rejected without touching the default session.
	t.Run("non-image content type", func(t *testing.T) {
		status, res := postPredict(t, client, ts.URL, "text/plain", frame)
		if status != http.StatusBadRequest || res.Error != "File must be an image" {
			t.Errorf("expected 400 'File must be an image', got %d %+v", status, res)
		}
	})

	t.Run("undecodable image", func(t *testing.T) {
		status, res := postPredict(t, client, ts.URL, "image/jpeg", []byte("definitely not a jpeg"))
		if status != http.StatusBadRequest || res.Error == "" {
			t.Errorf("expected 400 with error, got %d %+v", status, res)
		}
	})

	t.Run("missing file field", func(t *testing.T) {
		body, ct := multipartBody(t, "image", "image/jpeg", frame)
		resp, err := client.Post(ts.URL+"/predict", ct, body)
		if err != nil {
			t.Fatalf("POST error = %v", err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("expected 400, got %d", resp.StatusCode)
		}
	})

	t.Run("inference failure", func(t *testing.T) {
		deps.classifier.SetError(errors.New("model crashed"))
		defer deps.classifier.SetError(nil)

		status, res := postPredict(t, client, ts.URL, "image/jpeg", frame)
		if status != http.StatusInternalServerError || !strings.Contains(res.Error, "model crashed") {
			t.Errorf("expected 500 with classifier error, got %d %+v", status, res)
		}
	})

	snap := deps.registry.Default().Snapshot()
	if len(snap.Transcript) != 1 || snap.Frames != uint64(testEngine.WindowSize+1) {
		t.Errorf("default session changed by rejected requests: %+v", snap)
	}
}

func TestAPI_SessionWorkflow(t *testing.T) {
	deps := newTestDeps(t)
	ts := httptest.NewServer(New(deps.config()))
	defer ts.Close()

	client := ts.Client()
	frame := testJPEG(t)

	// 1. Create a session
	resp, err := client.Post(ts.URL+"/api/sessions", "application/json", nil)
	if err != nil {
		t.Fatalf("POST /api/sessions error = %v", err)
	}
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("POST status = %d, want %d", resp.StatusCode, http.StatusCreated)
	}
	var created struct {
		ID string `json:"id"`
	}
	json.NewDecoder(resp.Body).Decode(&created)
	resp.Body.Close()
	if created.ID == "" {
		t.Fatal("expected a session id")
	}

	// 2. Feed raw frames until confirmed
	var last stream.Result
	for i := 0; i < testEngine.WindowSize+1; i++ {
		if i == 0 {
			resp, err := client.Post(ts.URL+"/api/sessions/"+created.ID+"/frames", "image/jpeg", bytes.NewReader(frame))
			if err != nil {
				t.Fatalf("POST frames error = %v", err)
			}
			var first map[string]any
			json.NewDecoder(resp.Body).Decode(&first)
			resp.Body.Close()
			if g, ok := first["gesture"]; !ok || g != nil {
				t.Errorf("expected null gesture before confirmation, got %v", first)
			}
			continue
		}
		resp, err := client.Post(ts.URL+"/api/sessions/"+created.ID+"/frames", "image/jpeg", bytes.NewReader(frame))
		if err != nil {
			t.Fatalf("POST frames error = %v", err)
		}
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("frame %d: status = %d", i, resp.StatusCode)
		}
		json.NewDecoder(resp.Body).Decode(&last)
		resp.Body.Close()
	}
	if last.SessionID != created.ID || last.Gesture != "hello" {
		t.Errorf("unexpected last result %+v", last)
	}

	// 3. Snapshot reflects the session, and the default session is untouched
	resp, _ = client.Get(ts.URL + "/api/sessions/" + created.ID)
	var snap stream.Snapshot
	json.NewDecoder(resp.Body).Decode(&snap)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || snap.Phase != stream.PhaseActive || len(snap.Transcript) != 1 {
		t.Errorf("unexpected snapshot %d %+v", resp.StatusCode, snap)
	}
	if len(deps.registry.Default().Transcript()) != 0 {
		t.Error("default session should not see another session's frames")
	}

	// 4. Reset
	resp, _ = client.Post(ts.URL+"/api/sessions/"+created.ID+"/reset", "application/json", nil)
	json.NewDecoder(resp.Body).Decode(&snap)
	resp.Body.Close()
	if snap.Phase != stream.PhaseWarmingUp || len(snap.Transcript) != 0 {
		t.Errorf("expected reset session, got %+v", snap)
	}

	// 5. Delete
	req, _ := http.NewRequest(http.MethodDelete, ts.URL+"/api/sessions/"+created.ID, nil)
	resp, _ = client.Do(req)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("DELETE status = %d, want %d", resp.StatusCode, http.StatusNoContent)
	}
	resp.Body.Close()

	// 6. Verify deleted
	resp, _ = client.Get(ts.URL + "/api/sessions/" + created.ID)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("GET after delete status = %d, want %d", resp.StatusCode, http.StatusNotFound)
	}
	resp.Body.Close()

	// 7. Frames for an unknown id start a session under that id
	resp, _ = client.Post(ts.URL+"/api/sessions/kiosk-1/frames", "image/jpeg", bytes.NewReader(frame))
	resp.Body.Close()
	if _, ok := deps.registry.Get("kiosk-1"); !ok {
		t.Error("expected session kiosk-1 to be created")
	}
}

func TestAPI_StreamWebSocket(t *testing.T) {
	deps := newTestDeps(t)
	ts := httptest.NewServer(New(deps.config()))
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/stream"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	frame := testJPEG(t)
	send := func(mt int, data []byte) map[string]any {
		t.Helper()
		if err := conn.WriteMessage(mt, data); err != nil {
			t.Fatalf("write: %v", err)
		}
		conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		var reply map[string]any
		if err := conn.ReadJSON(&reply); err != nil {
			t.Fatalf("read: %v", err)
		}
		return reply
	}

	first := send(websocket.BinaryMessage, frame)
	sessionID, _ := first["session_id"].(string)
	if sessionID == "" || sessionID == stream.DefaultSessionID {
		t.Fatalf("expected a fresh session id, got %v", first["session_id"])
	}
	if g, ok := first["gesture"]; !ok || g != nil {
		t.Errorf("expected null gesture before confirmation, got %v", first)
	}
	if deps.registry.Len() != 1 {
		t.Errorf("expected 1 live session, got %d", deps.registry.Len())
	}

	// A bad frame is reported but keeps the connection open.
	bad := send(websocket.BinaryMessage, []byte("garbage"))
	if bad["error"] == nil {
		t.Errorf("expected error reply, got %v", bad)
	}

	var reply map[string]any
	for i := 0; i < testEngine.WindowSize; i++ {
		reply = send(websocket.BinaryMessage, frame)
	}
	if reply["gesture"] != "hello" {
		t.Errorf("expected hello after %d frames, got %v", testEngine.WindowSize+1, reply)
	}

	reset := send(websocket.TextMessage, []byte("reset"))
	if reset["phase"] != "warming_up" {
		t.Errorf("expected reset snapshot, got %v", reset)
	}
	if unknown := send(websocket.TextMessage, []byte("dance")); unknown["error"] == nil {
		t.Errorf("expected error for unknown command, got %v", unknown)
	}

	conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for deps.registry.Len() != 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if deps.registry.Len() != 0 {
		t.Errorf("session should be removed when the connection closes, %d left", deps.registry.Len())
	}
}

func TestAPI_StreamOutlivesSessionTTL(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping TTL test in short mode")
	}

	deps := newTestDeps(t)
	deps.registry = stream.NewRegistry(deps.orch, 8, 100*time.Millisecond)
	ts := httptest.NewServer(New(deps.config()))
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/stream"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	frame := testJPEG(t)
	var sessionID string
	deadline := time.Now().Add(350 * time.Millisecond)
	for time.Now().Before(deadline) {
		if err := conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
			t.Fatalf("write: %v", err)
		}
		conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		var reply map[string]any
		if err := conn.ReadJSON(&reply); err != nil {
			t.Fatalf("read: %v", err)
		}
		sessionID, _ = reply["session_id"].(string)
		time.Sleep(30 * time.Millisecond)
	}

	resp, err := ts.Client().Get(ts.URL + "/api/sessions/" + sessionID)
	if err != nil {
		t.Fatalf("GET session error = %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected streaming session to stay registered, got status %d", resp.StatusCode)
	}
}

func TestAPI_HistoryRecorded(t *testing.T) {
	deps := newTestDeps(t)

	s, err := store.New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("store.New() error = %v", err)
	}
	defer s.Close()
	deps.orch.AddListener(store.NewRecorder(s, observe.Discard()))

	cfg := deps.config()
	cfg.Store = s
	ts := httptest.NewServer(New(cfg))
	defer ts.Close()

	client := ts.Client()
	frame := testJPEG(t)
	for i := 0; i < testEngine.WindowSize+3; i++ {
		postPredict(t, client, ts.URL, "image/jpeg", frame)
	}

	resp, err := client.Get(ts.URL + "/api/history?session=" + stream.DefaultSessionID)
	if err != nil {
		t.Fatalf("GET /api/history error = %v", err)
	}
	defer resp.Body.Close()

	var history struct {
		Events []store.Event `json:"events"`
	}
	json.NewDecoder(resp.Body).Decode(&history)

	// Repeated confirmations of the same label append once.
	if len(history.Events) != 1 || history.Events[0].Gesture != "hello" {
		t.Errorf("expected one hello event, got %+v", history.Events)
	}
}

type fakeSource struct {
	frame []byte
	reads atomic.Int32
}

func (f *fakeSource) LatestJPEG() ([]byte, bool) {
	f.reads.Add(1)
	return f.frame, len(f.frame) > 0
}

func TestAPI_Preview(t *testing.T) {
	src := &fakeSource{frame: testJPEG(t)}
	ts := httptest.NewServer(New(Config{Preview: src}))
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/api/preview", nil)
	resp, err := ts.Client().Do(req)
	if err != nil {
		t.Fatalf("GET /api/preview error = %v", err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "multipart/x-mixed-replace") {
		t.Fatalf("unexpected content type %q", ct)
	}

	reader := bufio.NewReader(resp.Body)
	line, err := reader.ReadString('\n')
	if err != nil {
		t.Fatalf("read preview: %v", err)
	}
	if strings.TrimSpace(line) != "--frame" {
		t.Errorf("expected frame boundary, got %q", line)
	}
}
