package bus

import (
	"context"
	"encoding/json"
	"reflect"
	"testing"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/ayusman/mudra/internal/observe"
	"github.com/ayusman/mudra/internal/stream"
)

func startServer(t *testing.T) *EmbeddedServer {
	t.Helper()
	srv, err := StartEmbedded("127.0.0.1", -1, observe.Discard())
	if err != nil {
		t.Fatalf("StartEmbedded: %v", err)
	}
	t.Cleanup(srv.Shutdown)
	return srv
}

func TestSubject(t *testing.T) {
	tests := []struct {
		prefix, gesture, want string
	}{
		{"mudra.gesture", "hello", "mudra.gesture.hello"},
		{"mudra.gesture", "good night", "mudra.gesture.good_night"},
		{"x", "a.b>*", "x.a_b__"},
	}
	for _, tt := range tests {
		if got := Subject(tt.prefix, tt.gesture); got != tt.want {
			t.Errorf("Subject(%q, %q) = %q, want %q", tt.prefix, tt.gesture, got, tt.want)
		}
	}
}

func TestConnect_NoServers(t *testing.T) {
	if _, err := Connect(Config{}, observe.Discard()); err == nil {
		t.Error("expected error without servers")
	}
}

func TestPublisher_OnTranscript(t *testing.T) {
	srv := startServer(t)

	pub, err := Connect(Config{Servers: []string{srv.URL()}}, observe.Discard())
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer pub.Close()

	if !pub.Healthy() {
		t.Fatal("expected healthy connection")
	}

	sub, err := nats.Connect(srv.URL())
	if err != nil {
		t.Fatalf("subscriber connect: %v", err)
	}
	defer sub.Close()

	msgs := make(chan *nats.Msg, 4)
	if _, err := sub.ChanSubscribe(DefaultSubjectPrefix+".>", msgs); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if err := sub.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}

	var _ stream.Listener = pub
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	pub.OnTranscript(context.Background(), stream.Event{
		SessionID:  "s1",
		Gesture:    "thanks",
		Confidence: 0.87,
		Transcript: []string{"hello", "thanks"},
		At:         at,
	})

	select {
	case msg := <-msgs:
		if msg.Subject != "mudra.gesture.thanks" {
			t.Errorf("unexpected subject %q", msg.Subject)
		}
		var got Message
		if err := json.Unmarshal(msg.Data, &got); err != nil {
			t.Fatalf("invalid payload: %v", err)
		}
		want := Message{SessionID: "s1", Gesture: "thanks", Confidence: 0.87, Transcript: []string{"hello", "thanks"}, At: at}
		if !reflect.DeepEqual(got, want) {
			t.Errorf("payload = %+v, want %+v", got, want)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
	}
}

func TestSubscribe(t *testing.T) {
	srv := startServer(t)

	pub, err := Connect(Config{Servers: []string{srv.URL()}, SubjectPrefix: "test.gesture"}, observe.Discard())
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer pub.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan Message, 1)
	done := make(chan error, 1)
	go func() {
		done <- Subscribe(ctx, pub.Conn(), "test.gesture", func(_ string, m Message) {
			select {
			case got <- m:
			default:
			}
		})
	}()

	// the subscription is registered asynchronously
	deadline := time.After(2 * time.Second)
	for {
		pub.OnTranscript(context.Background(), stream.Event{SessionID: "s", Gesture: "hello"})
		select {
		case m := <-got:
			if m.Gesture != "hello" {
				t.Errorf("expected hello, got %+v", m)
			}
			cancel()
			if err := <-done; err != nil {
				t.Errorf("Subscribe returned %v", err)
			}
			return
		case <-time.After(50 * time.Millisecond):
		case <-deadline:
			t.Fatal("timed out waiting for subscribed message")
		}
	}
}
