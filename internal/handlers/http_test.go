package handlers

import (
	"bytes"
	"encoding/json"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"capdissector/internal/document"
	"capdissector/internal/engine"
	"capdissector/internal/models"
)

func captureBytes(t *testing.T) []byte {
	t.Helper()
	var out bytes.Buffer
	w := pcapgo.NewWriter(&out)
	if err := w.WriteFileHeader(65535, layers.LinkTypeEthernet); err != nil {
		t.Fatal(err)
	}
	eth := &layers.Ethernet{
		SrcMAC:       net.HardwareAddr{0, 1, 2, 3, 4, 5},
		DstMAC:       net.HardwareAddr{6, 7, 8, 9, 10, 11},
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip := &layers.IPv4{Version: 4, TTL: 64, Protocol: layers.IPProtocolUDP, SrcIP: net.IP{10, 0, 0, 1}, DstIP: net.IP{10, 0, 0, 2}}
	udp := &layers.UDP{SrcPort: 5000, DstPort: 6000}
	buf := gopacket.NewSerializeBuffer()
	if err := gopacket.SerializeLayers(buf, gopacket.SerializeOptions{FixLengths: true}, eth, ip, udp, gopacket.Payload("payload")); err != nil {
		t.Fatal(err)
	}
	ci := gopacket.CaptureInfo{Timestamp: time.Unix(1700000000, 0), CaptureLength: len(buf.Bytes()), Length: len(buf.Bytes())}
	if err := w.WritePacket(ci, buf.Bytes()); err != nil {
		t.Fatal(err)
	}
	return out.Bytes()
}

func upload(t *testing.T, srv *httptest.Server, data []byte) *http.Response {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", "test.pcap")
	if err != nil {
		t.Fatal(err)
	}
	part.Write(data)
	mw.Close()

	resp, err := http.Post(srv.URL+"/api/upload", mw.FormDataContentType(), &body)
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	return resp
}

func newServer(t *testing.T) (*httptest.Server, *engine.Engine) {
	t.Helper()
	eng := engine.New(zap.NewNop())
	srv := httptest.NewServer(NewAPI(eng, zap.NewNop(), 10).Router())
	t.Cleanup(func() {
		srv.Close()
		eng.Close()
	})
	return srv, eng
}

func get(t *testing.T, url string) (int, []byte) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, body
}

func TestUploadAndQuery(t *testing.T) {
	srv, _ := newServer(t)

	resp := upload(t, srv, captureBytes(t))
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("upload status = %d", resp.StatusCode)
	}

	status, body := get(t, srv.URL+"/api/frames")
	var frames []models.FrameSummary
	if status != http.StatusOK || json.Unmarshal(body, &frames) != nil || len(frames) != 1 {
		t.Fatalf("frames: %d %s", status, body)
	}

	status, body = get(t, srv.URL+"/api/frames/1")
	if status != http.StatusOK {
		t.Fatalf("document status = %d", status)
	}
	entries, err := document.Unmarshal(body)
	if err != nil || len(entries) == 0 {
		t.Fatalf("document: %v\n%s", err, body)
	}

	status, body = get(t, srv.URL+"/api/frames/1/fields?name=udp.dstport")
	var result models.FieldQueryResult
	if status != http.StatusOK || json.Unmarshal(body, &result) != nil {
		t.Fatalf("fields: %d %s", status, body)
	}
	if len(result.Fields) != 1 || result.Fields[0].DisplayValue != "6000" {
		t.Errorf("fields = %+v", result.Fields)
	}

	status, body = get(t, srv.URL+"/api/frames/1/blobs/frame")
	if status != http.StatusOK || !bytes.HasSuffix(body, []byte("payload")) {
		t.Errorf("blob: %d %q", status, body)
	}

	status, body = get(t, srv.URL+"/api/flows")
	if status != http.StatusOK || !strings.Contains(string(body), `"packetCount":1`) {
		t.Errorf("flows: %d %s", status, body)
	}
}

func TestNotFound(t *testing.T) {
	srv, _ := newServer(t)
	resp := upload(t, srv, captureBytes(t))
	resp.Body.Close()

	for _, path := range []string{
		"/api/frames/99",
		"/api/frames/1/blobs/nothing",
		"/api/frames/1/fields?parent=500",
	} {
		if status, _ := get(t, srv.URL+path); status != http.StatusNotFound {
			t.Errorf("GET %s = %d, want 404", path, status)
		}
	}
}

func TestUploadRejectsGarbage(t *testing.T) {
	srv, _ := newServer(t)
	resp := upload(t, srv, []byte("definitely not a capture file"))
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestWebSocketFindFields(t *testing.T) {
	srv, eng := newServer(t)
	resp := upload(t, srv, captureBytes(t))
	resp.Body.Close()
	if len(eng.Frames()) != 1 {
		t.Fatal("capture not loaded")
	}

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	payload, _ := json.Marshal(models.FieldQuery{Number: 1, Name: "ip.src"})
	if err := conn.WriteJSON(models.WSMessage{Type: "find_fields", Payload: payload}); err != nil {
		t.Fatal(err)
	}
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var msg models.WSMessage
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read: %v", err)
	}
	if msg.Type != "fields" {
		t.Fatalf("message type = %s (%s)", msg.Type, msg.Payload)
	}
	var result models.FieldQueryResult
	if err := json.Unmarshal(msg.Payload, &result); err != nil {
		t.Fatal(err)
	}
	if len(result.Fields) != 1 || result.Fields[0].DisplayValue != "10.0.0.1" {
		t.Errorf("fields = %+v", result.Fields)
	}

	if err := conn.WriteJSON(models.WSMessage{Type: "bogus"}); err != nil {
		t.Fatal(err)
	}
	if err := conn.ReadJSON(&msg); err != nil || msg.Type != "error" {
		t.Errorf("unknown command reply: %v %+v", err, msg)
	}
}
