package preview

import (
	"bytes"
	"image/png"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/pthm-cable/fluidsurface/gpu"
)

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func waitForClients(t *testing.T, h *Hub, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for h.Clients() != n {
		if time.Now().After(deadline) {
			t.Fatalf("expected %d clients, have %d", n, h.Clients())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestHubBroadcastSurface(t *testing.T) {
	h := NewHub(nil)
	srv := httptest.NewServer(NewMux(h))
	defer srv.Close()

	conn := dial(t, srv)
	waitForClients(t, h, 1)

	surface := gpu.NewSurface(4, 2)
	if err := h.BroadcastSurface(surface); err != nil {
		t.Fatal(err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	kind, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatal(err)
	}
	if kind != websocket.BinaryMessage {
		t.Fatalf("message type = %d, want binary", kind)
	}
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("decoding frame: %v", err)
	}
	if b := img.Bounds(); b.Dx() != 4 || b.Dy() != 2 {
		t.Errorf("frame is %dx%d, want 4x2", b.Dx(), b.Dy())
	}
}

func TestHubSendsLastFrameToNewClients(t *testing.T) {
	h := NewHub(nil)
	srv := httptest.NewServer(NewMux(h))
	defer srv.Close()

	if err := h.BroadcastSurface(gpu.NewSurface(3, 3)); err != nil {
		t.Fatal(err)
	}

	conn := dial(t, srv)
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	kind, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatal(err)
	}
	if kind != websocket.BinaryMessage || len(data) == 0 {
		t.Errorf("expected the cached frame, got type %d with %d bytes", kind, len(data))
	}
}

func TestHubBroadcastStats(t *testing.T) {
	h := NewHub(nil)
	srv := httptest.NewServer(NewMux(h))
	defer srv.Close()

	conn := dial(t, srv)
	waitForClients(t, h, 1)

	h.BroadcastStats(Stats{Frame: 12, Density: 3.5})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var got Stats
	if err := conn.ReadJSON(&got); err != nil {
		t.Fatal(err)
	}
	if got.Type != "stats" || got.Frame != 12 || got.Density != 3.5 {
		t.Errorf("stats = %+v", got)
	}
}

func TestHubDropsClosedClients(t *testing.T) {
	h := NewHub(nil)
	srv := httptest.NewServer(NewMux(h))
	defer srv.Close()

	conn := dial(t, srv)
	waitForClients(t, h, 1)
	conn.Close()
	waitForClients(t, h, 0)

	h.Close()
	if h.Clients() != 0 {
		t.Error("Close should disconnect all clients")
	}
}

func TestHubDropsStalledClients(t *testing.T) {
	h := NewHub(nil)
	h.SetWriteWait(100 * time.Millisecond)
	srv := httptest.NewServer(NewMux(h))
	defer srv.Close()

	// Never reads, so socket buffers fill and writes stall
	dial(t, srv)
	waitForClients(t, h, 1)

	payload := make([]byte, 1<<20)
	done := make(chan int)
	go func() {
		sent := 0
		for h.Clients() > 0 && sent < 500 {
			h.broadcast(func(c *websocket.Conn) error {
				return c.WriteMessage(websocket.BinaryMessage, payload)
			})
			sent++
		}
		done <- sent
	}()

	select {
	case sent := <-done:
		if h.Clients() != 0 {
			t.Errorf("stalled client still connected after %d messages", sent)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("broadcast blocked on a stalled client")
	}
}

func TestIndexPage(t *testing.T) {
	srv := httptest.NewServer(NewMux(NewHub(nil)))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(body), "/ws") {
		t.Errorf("index: status %d", resp.StatusCode)
	}

	missing, err := http.Get(srv.URL + "/nope")
	if err != nil {
		t.Fatal(err)
	}
	missing.Body.Close()
	if missing.StatusCode != http.StatusNotFound {
		t.Errorf("unknown path status = %d, want 404", missing.StatusCode)
	}
}
