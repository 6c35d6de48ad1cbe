package e2e

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel/metric/noop"

	"github.com/ayusman/mudra/internal/bus"
	"github.com/ayusman/mudra/internal/classifier"
	"github.com/ayusman/mudra/internal/feature"
	"github.com/ayusman/mudra/internal/fixture"
	"github.com/ayusman/mudra/internal/observe"
	"github.com/ayusman/mudra/internal/plugin"
	"github.com/ayusman/mudra/internal/server"
	"github.com/ayusman/mudra/internal/store"
	"github.com/ayusman/mudra/internal/stream"
)

// writePlugin installs a shell plugin that copies its request to out.
func writePlugin(t *testing.T, dir, out string) {
	t.Helper()
	pluginDir := filepath.Join(dir, "echo")
	if err := os.MkdirAll(pluginDir, 0755); err != nil {
		t.Fatal(err)
	}

	manifest := `{"name":"echo","version":"1.0.0","description":"records requests","executable":"echo.sh","actions":["record"]}`
	if err := os.WriteFile(filepath.Join(pluginDir, "plugin.json"), []byte(manifest), 0644); err != nil {
		t.Fatal(err)
	}

	script := "#!/bin/sh\ncat > '" + out + "'\necho '{\"success\":true}'\n"
	if err := os.WriteFile(filepath.Join(pluginDir, "echo.sh"), []byte(script), 0755); err != nil {
		t.Fatal(err)
	}
}

func postFrame(t *testing.T, client *http.Client, url string, jpeg []byte) map[string]any {
	t.Helper()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="file"; filename="frame.jpg"`)
	h.Set("Content-Type", "image/jpeg")
	part, err := mw.CreatePart(h)
	if err != nil {
		t.Fatal(err)
	}
	part.Write(jpeg)
	mw.Close()

	resp, err := client.Post(url+"/predict", mw.FormDataContentType(), &body)
	if err != nil {
		t.Fatalf("POST /predict: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("POST /predict status = %d", resp.StatusCode)
	}

	var out map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return out
}

func getJSON(t *testing.T, client *http.Client, url string, v any) {
	t.Helper()
	resp, err := client.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET %s status = %d", url, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode %s: %v", url, err)
	}
}

func TestE2E_CompleteWorkflow(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping e2e test")
	}
	if runtime.GOOS == "windows" {
		t.Skip("shell plugins are not supported on Windows")
	}

	tmpDir := t.TempDir()
	log := observe.Discard()

	s, err := store.New(filepath.Join(tmpDir, "data.db"))
	if err != nil {
		t.Fatalf("store.New() error = %v", err)
	}
	defer s.Close()

	pluginOut := filepath.Join(tmpDir, "request.json")
	pluginDir := filepath.Join(tmpDir, "plugins")
	writePlugin(t, pluginDir, pluginOut)

	plugins := plugin.NewManager(pluginDir, log)
	if err := plugins.Discover(); err != nil {
		t.Fatalf("Discover() error = %v", err)
	}
	dispatcher := plugin.NewDispatcher(plugins, plugin.NewExecutor(5*time.Second), s.Actions(), 2, log)
	defer dispatcher.Close()

	nsrv, err := bus.StartEmbedded("127.0.0.1", -1, log)
	if err != nil {
		t.Fatalf("StartEmbedded() error = %v", err)
	}
	defer nsrv.Shutdown()

	publisher, err := bus.Connect(bus.Config{Servers: []string{nsrv.URL()}}, log)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer publisher.Close()

	sub, err := nats.Connect(nsrv.URL())
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Close()
	msgs := make(chan *nats.Msg, 8)
	if _, err := sub.ChanSubscribe(bus.DefaultSubjectPrefix+".>", msgs); err != nil {
		t.Fatal(err)
	}
	sub.Flush()

	metrics, err := observe.NewMetrics(noop.NewMeterProvider())
	if err != nil {
		t.Fatal(err)
	}
	cls := classifier.NewMockClassifier(3, feature.Length)
	cls.SetDistribution(classifier.OneHot(3, 0, 0.9))

	orch, err := stream.New(feature.NewMockExtractor(), cls, classifier.DefaultVocabulary(), stream.Options{
		Config:    stream.Config{WindowSize: 3, HistorySize: 3, MinVotes: 2, Threshold: 0.4, TranscriptCap: 5},
		Metrics:   metrics,
		Logger:    log,
		Listeners: []stream.Listener{store.NewRecorder(s, log), dispatcher, publisher},
	})
	if err != nil {
		t.Fatalf("stream.New() error = %v", err)
	}

	srv := server.New(server.Config{
		Orchestrator: orch,
		Registry:     stream.NewRegistry(orch, 8, time.Minute),
		Store:        s,
		Plugins:      plugins,
		Logger:       log,
	})
	ts := httptest.NewServer(srv)
	defer ts.Close()
	client := ts.Client()

	t.Run("BindAction", func(t *testing.T) {
		resp, err := client.Post(ts.URL+"/api/actions", "application/json", strings.NewReader(
			`{"gesture":"hello","plugin_name":"echo","action_name":"record","config":{"voice":"default"}}`))
		if err != nil {
			t.Fatalf("create action error = %v", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusCreated {
			t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusCreated)
		}
	})

	t.Run("RecognizeGesture", func(t *testing.T) {
		jpeg, err := fixture.JPEG(fixture.Width, fixture.Height, 0)
		if err != nil {
			t.Fatal(err)
		}

		var last map[string]any
		for i := 0; i < 4; i++ {
			last = postFrame(t, client, ts.URL, jpeg)
		}
		if last["gesture"] != "hello" {
			t.Fatalf("gesture = %v, want hello", last["gesture"])
		}
		transcript, _ := last["transcript"].([]any)
		if len(transcript) != 1 || transcript[0] != "hello" {
			t.Errorf("transcript = %v, want [hello]", last["transcript"])
		}

		// a repeated confirmation is not appended again
		again := postFrame(t, client, ts.URL, jpeg)
		if transcript, _ := again["transcript"].([]any); len(transcript) != 1 {
			t.Errorf("transcript after repeat = %v", again["transcript"])
		}
	})

	t.Run("EventPublished", func(t *testing.T) {
		select {
		case msg := <-msgs:
			if msg.Subject != bus.DefaultSubjectPrefix+".hello" {
				t.Errorf("subject = %q", msg.Subject)
			}
			var m bus.Message
			if err := json.Unmarshal(msg.Data, &m); err != nil {
				t.Fatalf("decode message: %v", err)
			}
			if m.SessionID != stream.DefaultSessionID || m.Gesture != "hello" {
				t.Errorf("message = %+v", m)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("no event published")
		}

		select {
		case msg := <-msgs:
			t.Errorf("unexpected second event on %s", msg.Subject)
		case <-time.After(100 * time.Millisecond):
		}
	})

	t.Run("PluginRan", func(t *testing.T) {
		dispatcher.Wait()

		data, err := os.ReadFile(pluginOut)
		if err != nil {
			t.Fatalf("plugin did not run: %v", err)
		}
		var req plugin.Request
		if err := json.Unmarshal(data, &req); err != nil {
			t.Fatalf("decode plugin request: %v", err)
		}
		if req.Action != "record" || req.Gesture != "hello" {
			t.Errorf("plugin request = %+v", req)
		}
		if !strings.Contains(string(req.Config), "voice") {
			t.Errorf("plugin config = %s, want the bound config", req.Config)
		}
	})

	t.Run("HistoryRecorded", func(t *testing.T) {
		var events struct {
			Events []store.Event `json:"events"`
		}
		getJSON(t, client, ts.URL+"/api/history?session="+stream.DefaultSessionID, &events)
		if len(events.Events) != 1 || events.Events[0].Gesture != "hello" {
			t.Fatalf("events = %+v, want one hello", events.Events)
		}

		var counts struct {
			Counts map[string]int `json:"counts"`
		}
		getJSON(t, client, ts.URL+"/api/history/counts", &counts)
		if counts.Counts["hello"] != 1 {
			t.Errorf("counts = %v", counts.Counts)
		}
	})

	t.Run("ListPlugins", func(t *testing.T) {
		var list struct {
			Plugins []struct {
				Name    string   `json:"name"`
				Actions []string `json:"actions"`
			} `json:"plugins"`
		}
		getJSON(t, client, ts.URL+"/api/plugins", &list)
		if len(list.Plugins) != 1 || list.Plugins[0].Name != "echo" {
			t.Errorf("plugins = %+v", list.Plugins)
		}
	})

	t.Run("ResetSession", func(t *testing.T) {
		resp, err := client.Post(ts.URL+"/api/sessions/"+stream.DefaultSessionID+"/reset", "", nil)
		if err != nil {
			t.Fatal(err)
		}
		defer resp.Body.Close()

		var snap struct {
			Buffered   int      `json:"buffered"`
			Transcript []string `json:"transcript"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
			t.Fatalf("decode snapshot: %v", err)
		}
		if len(snap.Transcript) != 0 || snap.Buffered != 0 {
			t.Errorf("snapshot after reset = %+v", snap)
		}
	})
}
