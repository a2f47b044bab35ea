package gateway

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/mdp2021s129-bot/hdcomm/client"
	"github.com/mdp2021s129-bot/hdcomm/message"
	"github.com/mdp2021s129-bot/hdcomm/registry"
	"github.com/mdp2021s129-bot/hdcomm/router"
	"github.com/mdp2021s129-bot/hdcomm/server"
)

type fixture struct {
	router *router.Router
	sim    *server.Simulator
	srv    *httptest.Server
}

// startGateway serves the gateway over a proxy linked to the simulator. The
// simulator publishes a sample every 10ms.
func startGateway(t *testing.T, opts Options) *fixture {
	t.Helper()
	host, dev := net.Pipe()

	mux := server.NewMux()
	sim := server.NewSimulator(0.75)
	sim.Register(mux)
	svr := server.NewServer(mux)
	ctx, cancel := context.WithCancel(context.Background())
	go svr.Serve(ctx, dev)
	go svr.RunTelemetry(ctx, 10*time.Millisecond, sim.Sample)

	r, p := client.Dial(host)
	go r.Run(context.Background())

	opts.Done = r.Done()
	srv := httptest.NewServer(New(p, opts))
	t.Cleanup(func() {
		srv.Close()
		cancel()
		r.Close()
		svr.Shutdown(time.Second)
	})
	return &fixture{router: r, sim: sim, srv: srv}
}

func do(t *testing.T, method, url, body string) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	return resp, data
}

func TestHealthz(t *testing.T) {
	f := startGateway(t, Options{})

	resp, _ := do(t, http.MethodGet, f.srv.URL+"/healthz", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expect 200, got %d", resp.StatusCode)
	}

	f.router.Close()
	<-f.router.Done()
	resp, _ = do(t, http.MethodGet, f.srv.URL+"/healthz", "")
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expect 503 after disconnect, got %d", resp.StatusCode)
	}
}

func TestPing(t *testing.T) {
	f := startGateway(t, Options{CallTimeout: time.Second})

	resp, body := do(t, http.MethodPost, f.srv.URL+"/v1/ping", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expect 200, got %d: %s", resp.StatusCode, body)
	}
	var rep map[string]uint32
	if err := json.Unmarshal(body, &rep); err != nil {
		t.Fatal(err)
	}
	if _, ok := rep["time_ms"]; !ok {
		t.Fatalf("unexpected body %s", body)
	}
}

func TestLedAndFrontDistance(t *testing.T) {
	f := startGateway(t, Options{})

	resp, body := do(t, http.MethodPut, f.srv.URL+"/v1/led", `{"r":10,"g":20,"b":30}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expect 200, got %d: %s", resp.StatusCode, body)
	}
	if got := f.sim.LED(); got != (message.PwmReq{R: 10, G: 20, B: 30}) {
		t.Fatalf("simulator LED is %+v", got)
	}

	resp, body = do(t, http.MethodGet, f.srv.URL+"/v1/front-distance", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expect 200, got %d: %s", resp.StatusCode, body)
	}
	var rep message.GetFrontDistanceRep
	if err := json.Unmarshal(body, &rep); err != nil {
		t.Fatal(err)
	}
	if !rep.Valid || rep.Distance != 0.75 {
		t.Fatalf("unexpected distance %+v", rep)
	}
}

func TestMoveLifecycle(t *testing.T) {
	f := startGateway(t, Options{})

	resp, body := do(t, http.MethodPost, f.srv.URL+"/v1/move", `{"distance":1000,"max_velocity":100}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expect 200, got %d: %s", resp.StatusCode, body)
	}
	var mv message.MoveRep
	if err := json.Unmarshal(body, &mv); err != nil {
		t.Fatal(err)
	}
	if mv.Status != message.MoveAccepted {
		t.Fatalf("expect accepted, got %v", mv.Status)
	}

	_, body = do(t, http.MethodGet, f.srv.URL+"/v1/move", "")
	var st message.MoveStatusRep
	if err := json.Unmarshal(body, &st); err != nil {
		t.Fatal(err)
	}
	if !st.Moving {
		t.Fatal("expect the move to be in progress")
	}

	resp, _ = do(t, http.MethodDelete, f.srv.URL+"/v1/move", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("cancel: expect 200, got %d", resp.StatusCode)
	}
	_, body = do(t, http.MethodGet, f.srv.URL+"/v1/move", "")
	if err := json.Unmarshal(body, &st); err != nil {
		t.Fatal(err)
	}
	if st.Moving {
		t.Fatal("expect no move after cancel")
	}
}

func TestBadBody(t *testing.T) {
	f := startGateway(t, Options{})

	resp, _ := do(t, http.MethodPut, f.srv.URL+"/v1/led", `{"r":`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expect 400, got %d", resp.StatusCode)
	}
}

func TestCallAfterDisconnect(t *testing.T) {
	f := startGateway(t, Options{})
	f.router.Close()
	<-f.router.Done()

	resp, body := do(t, http.MethodPost, f.srv.URL+"/v1/ping", "")
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expect 503, got %d: %s", resp.StatusCode, body)
	}
}

func TestMetricsExposed(t *testing.T) {
	f := startGateway(t, Options{})
	do(t, http.MethodPost, f.srv.URL+"/v1/ping", "")

	resp, body := do(t, http.MethodGet, f.srv.URL+"/metrics", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expect 200, got %d", resp.StatusCode)
	}
	if !strings.Contains(string(body), "hdcomm_") {
		t.Fatal("expect hdcomm collectors in the exposition")
	}
}

func TestBridges(t *testing.T) {
	reg := registry.NewMemoryRegistry()
	inst := registry.Instance{Addr: "10.0.0.2:8080", Serial: "/dev/ttyUSB0", LinkID: "abc"}
	if err := reg.Register(context.Background(), "robot", inst, 10); err != nil {
		t.Fatal(err)
	}
	f := startGateway(t, Options{Bridges: reg, Name: "robot"})

	_, body := do(t, http.MethodGet, f.srv.URL+"/v1/bridges", "")
	var got []registry.Instance
	if err := json.Unmarshal(body, &got); err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Addr != inst.Addr {
		t.Fatalf("unexpected bridges %+v", got)
	}
}

func TestTelemetryWebsocket(t *testing.T) {
	f := startGateway(t, Options{})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	url := "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/v1/telemetry"
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.CloseNow()

	typ, b, err := conn.Read(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if typ != websocket.MessageText {
		t.Fatalf("expect a text message, got %v", typ)
	}

	var got struct {
		Type string       `json:"type"`
		Data message.Ahrs `json:"data"`
	}
	if err := json.Unmarshal(b, &got); err != nil {
		t.Fatal(err)
	}
	if got.Type != "Ahrs" {
		t.Fatalf("expect Ahrs, got %q", got.Type)
	}
	if got.Data.Acc[2] != 16384 {
		t.Fatalf("unexpected sample %+v", got.Data)
	}
	conn.Close(websocket.StatusNormalClosure, "")
}
