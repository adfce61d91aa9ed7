package bus

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"

	"github.com/dgnsrekt/insight-tts/internal/session"
	"github.com/dgnsrekt/insight-tts/internal/tts"
)

func runServer(t *testing.T) *server.Server {
	t.Helper()
	ns, err := server.NewServer(&server.Options{Host: "127.0.0.1", Port: -1, NoLog: true, NoSigs: true})
	if err != nil {
		t.Fatalf("create nats server: %v", err)
	}
	go ns.Start()
	if !ns.ReadyForConnections(5 * time.Second) {
		ns.Shutdown()
		t.Fatal("nats server did not start")
	}
	t.Cleanup(func() {
		ns.Shutdown()
		ns.WaitForShutdown()
	})
	return ns
}

func TestNewMessage(t *testing.T) {
	at := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	tests := []struct {
		name string
		ev   session.Event
		want Message
	}{
		{
			name: "playing",
			ev:   session.Event{SessionID: "s1", Provider: tts.ProviderPiper, State: tts.StatePlaying, At: at},
			want: Message{SessionID: "s1", Provider: "piper", State: "playing", At: at},
		},
		{
			name: "credential failure",
			ev: session.Event{SessionID: "s2", Provider: tts.ProviderPolly, State: tts.StateErrored, At: at,
				Err: tts.NewError(tts.CodeAuthenticationRejected, "denied", nil)},
			want: Message{SessionID: "s2", Provider: "polly", State: "errored", At: at,
				Code: "AUTHENTICATION_REJECTED", NeedsCredentials: true},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NewMessage(tt.ev)
			got.Error = ""
			if got != tt.want {
				t.Errorf("NewMessage() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestBridgePublishesEvents(t *testing.T) {
	ns := runServer(t)

	sub, err := nats.Connect(ns.ClientURL())
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Close()
	msgs := make(chan *nats.Msg, 8)
	if _, err := sub.ChanSubscribe(DefaultSubject, msgs); err != nil {
		t.Fatal(err)
	}
	if err := sub.Flush(); err != nil {
		t.Fatal(err)
	}

	b, err := Connect(Config{URL: ns.ClientURL()})
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer b.Close()

	events := make(chan session.Event, 2)
	events <- session.Event{SessionID: "s1", Provider: tts.ProviderMock, State: tts.StateSynthesizing}
	events <- session.Event{SessionID: "s1", Provider: tts.ProviderMock, State: tts.StateFinished}
	close(events)
	b.Run(context.Background(), events)

	for _, want := range []string{"synthesizing", "finished"} {
		select {
		case msg := <-msgs:
			var m Message
			if err := json.Unmarshal(msg.Data, &m); err != nil {
				t.Fatal(err)
			}
			if m.State != want || m.SessionID != "s1" || m.Provider != "mock" {
				t.Errorf("message = %+v, want state %s", m, want)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("no message for %s", want)
		}
	}
}

func TestConnectRequiresURL(t *testing.T) {
	if _, err := Connect(Config{}); err == nil {
		t.Error("Connect() without a URL should fail")
	}
}
