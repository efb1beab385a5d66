package scan

import (
	"context"
	"errors"
	"fmt"
	"os"
	"syscall"
	"testing"
	"time"
)

func TestDefaultTablePorts(t *testing.T) {
	table := DefaultTable()
	want := []uint16{22, 80, 443, 554, 1883, 1900, 1935, 5353, 5555, 7878, 8008, 8080, 8112, 8123, 8883, 8989, 32400}
	got := table.Ports()
	if len(got) != len(want) {
		t.Fatalf("expected %d ports, got %v", len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("port %d: expected %d, got %d", i, want[i], got[i])
		}
	}
}

func TestTableUnregisteredPort(t *testing.T) {
	table := DefaultTable()
	for _, err := range []error{nil, errors.New("boom")} {
		if status := table.Classify(9999, Response{Data: []byte("HTTP/1.1 200 OK")}, err); status != StatusNotApplicable {
			t.Fatalf("expected N/A, got %s", status)
		}
	}
	if name := table.Name(9999); name != "9999" {
		t.Fatalf("expected numeric name, got %q", name)
	}
	got := table.Probe(context.Background(), "127.0.0.1", 9999, time.Second)
	if got.Status != StatusNotApplicable {
		t.Fatalf("expected N/A probe status, got %s", got.Status)
	}
	if _, err := table.Invoke(context.Background(), "127.0.0.1", 9999, time.Second); err == nil {
		t.Fatalf("expected invoke error for unregistered port")
	}
}

func TestFamilyClassification(t *testing.T) {
	table := DefaultTable()
	cases := []struct {
		port uint16
		resp Response
		want Status
	}{
		{80, Response{Connected: true, Data: []byte("HTTP/1.1 404 Not Found\r\n")}, StatusActive},
		{8080, Response{Connected: true, Data: []byte("garbage")}, StatusInactive},
		{554, Response{Connected: true, Data: []byte("RTSP/1.0 200 OK\r\nCSeq: 1\r\n")}, StatusActive},
		{1935, Response{Connected: true, Data: []byte{0x03, 0, 0, 0}}, StatusActive},
		{1935, Response{Connected: true, Data: []byte{0x06}}, StatusInactive},
		{1883, Response{Connected: true, Data: []byte{0x20, 0x02, 0x00, 0x00}}, StatusActive},
		{1883, Response{Connected: true, Data: []byte("mosquitto version 2.0")}, StatusActive},
		{1883, Response{Connected: true}, StatusInactive},
		{1900, Response{Data: []byte("HTTP/1.1 200 OK\r\nLocation: http://10.0.0.1:49152/desc.xml\r\n")}, StatusActive},
		{1900, Response{Data: []byte("HTTP/1.1 200 OK\r\nST: upnp:rootdevice\r\n")}, StatusInactive},
		{5353, Response{Data: []byte(";; flags: qr aa; QUERY: 1, ANSWER: 0, AUTHORITY: 0, ADDITIONAL: 0")}, StatusActive},
		{5353, Response{}, StatusInactive},
		{22, Response{Connected: true}, StatusActive},
		{22, Response{Connected: true, Data: []byte("SSH-2.0-OpenSSH_9.6\r\n")}, StatusInactive},
		{5555, Response{Connected: true, Data: []byte(ADBStateDevice)}, StatusActive},
		{5555, Response{Connected: true, Data: []byte(ADBStateUnauthorized)}, StatusActive},
		{5555, Response{Connected: true, Data: []byte("offline")}, StatusInactive},
	}
	for _, tc := range cases {
		name := fmt.Sprintf("%d/%q", tc.port, tc.resp.Data)
		first := table.Classify(tc.port, tc.resp, nil)
		if first != tc.want {
			t.Fatalf("%s: expected %s, got %s", name, tc.want, first)
		}
		if again := table.Classify(tc.port, tc.resp, nil); again != first {
			t.Fatalf("%s: classification not deterministic: %s then %s", name, first, again)
		}
	}
}

func TestClassifyErrors(t *testing.T) {
	table := DefaultTable()
	cases := []struct {
		err  error
		want Status
	}{
		{&ProbeError{Kind: KindUnreachable, Err: syscall.ECONNREFUSED}, StatusInactive},
		{&ProbeError{Kind: KindTimeout}, StatusTimeout},
		{malformed("bad header"), StatusError},
		{errors.New("unexpected"), StatusError},
		{os.ErrDeadlineExceeded, StatusTimeout},
		{context.DeadlineExceeded, StatusTimeout},
		{fmt.Errorf("dial: %w", syscall.ECONNREFUSED), StatusInactive},
		{syscall.EHOSTUNREACH, StatusInactive},
	}
	for _, tc := range cases {
		if got := table.Classify(80, Response{}, tc.err); got != tc.want {
			t.Fatalf("%v: expected %s, got %s", tc.err, tc.want, got)
		}
	}
}

func TestDefinitionBuild(t *testing.T) {
	spec, err := Definition{Port: 2323, Family: FamilyBanner, Match: []string{"login:"}}.Build()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if spec.Name != "2323" || spec.Timeout != DefaultTCPTimeout {
		t.Fatalf("unexpected defaults: %+v", spec)
	}
	if spec.Status(Response{Data: []byte("router login: ")}) != StatusActive {
		t.Fatalf("expected match on banner")
	}

	patterned, err := Definition{Port: 8081, Family: FamilyHTTP, Pattern: `Server: nginx/\d`}.Build()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if patterned.Status(Response{Data: []byte("HTTP/1.1 200 OK\r\nServer: nginx/1.25\r\n")}) != StatusActive {
		t.Fatalf("expected pattern match")
	}
	if patterned.Status(Response{Data: []byte("HTTP/1.1 200 OK\r\nServer: caddy\r\n")}) != StatusInactive {
		t.Fatalf("pattern should override the family classifier")
	}

	bad := []Definition{
		{Port: 0, Family: FamilyTCP},
		{Port: 10, Family: "gopher"},
		{Port: 11, Family: FamilyBanner},
		{Port: 12, Family: FamilyHTTP, Pattern: "("},
	}
	for i, def := range bad {
		if _, err := def.Build(); !errors.Is(err, ErrInvalidArgument) {
			t.Fatalf("definition %d: expected ErrInvalidArgument, got %v", i, err)
		}
	}
}

func TestTableRegisterReplaces(t *testing.T) {
	table := DefaultTable()
	table.Register(Definition{Port: 80, Name: "Web UI", Family: FamilyBanner, Match: []string{"ok"}}.MustBuild())
	if table.Name(80) != "Web UI" {
		t.Fatalf("expected replaced name, got %q", table.Name(80))
	}
	if table.Classify(80, Response{Data: []byte("HTTP/1.1 500")}, nil) != StatusInactive {
		t.Fatalf("expected replaced classifier to be used")
	}
}

func TestExpandPayload(t *testing.T) {
	got := expandPayload("GET / HTTP/1.0\r\nHost: {host}:{port}\r\n\r\n", "10.0.0.7", 8081)
	if got != "GET / HTTP/1.0\r\nHost: 10.0.0.7:8081\r\n\r\n" {
		t.Fatalf("unexpected payload %q", got)
	}
}

func TestMQTTConnect(t *testing.T) {
	packet := mqttConnect("lanscan")
	if packet[0] != 0x10 {
		t.Fatalf("expected CONNECT packet type, got %#x", packet[0])
	}
	if int(packet[1]) != len(packet)-2 {
		t.Fatalf("remaining length %d does not match body %d", packet[1], len(packet)-2)
	}
}
