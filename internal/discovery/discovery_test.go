package discovery

import (
	"context"
	"errors"
	"net"
	"reflect"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func freePort(t *testing.T) int {
	t.Helper()
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("reserving port: %v", err)
	}
	defer conn.Close()
	return conn.LocalAddr().(*net.UDPAddr).Port
}

func testProber(t *testing.T) *Prober {
	p := NewProber("127.0.0.1", zerolog.Nop())
	p.Port = freePort(t)
	return p
}

// sendUntil repeats packets to port until stop is closed, since the prober
// socket may not be bound yet when sending starts.
func sendUntil(t *testing.T, port int, stop <-chan struct{}, packets ...[]byte) {
	t.Helper()
	conn, err := net.DialUDP("udp4", nil, &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: port})
	if err != nil {
		t.Fatalf("dialing prober: %v", err)
	}
	go func() {
		defer conn.Close()
		ticker := time.NewTicker(20 * time.Millisecond)
		defer ticker.Stop()
		for {
			for _, p := range packets {
				conn.Write(p)
			}
			select {
			case <-stop:
				return
			case <-ticker.C:
			}
		}
	}()
}

func TestDecode(t *testing.T) {
	tests := []struct {
		name    string
		packet  string
		want    []string
		wantErr bool
	}{
		{"valid", `{"version":1,"bootstrap-package-urls":["http://h/p"]}`, []string{"http://h/p"}, false},
		{"missing version", `{"bootstrap-package-urls":["http://h/p"]}`, []string{"http://h/p"}, false},
		{"duplicates", `{"version":1,"bootstrap-package-urls":["http://a/p","http://b/p","http://a/p"]}`, []string{"http://a/p", "http://b/p"}, false},
		{"empty list", `{"version":1,"bootstrap-package-urls":[]}`, nil, true},
		{"no list", `{"version":1}`, nil, true},
		{"version zero", `{"version":0,"bootstrap-package-urls":["http://h/p"]}`, nil, true},
		{"relative URL", `{"version":1,"bootstrap-package-urls":["/bootstrap.pkg"]}`, nil, true},
		{"malformed", `{"version":`, nil, true},
		{"invalid UTF-8", "{\"version\":1,\"bootstrap-package-urls\":[\"http://h/p\xff\"]}", nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Decode([]byte(tt.packet))
			if (err != nil) != tt.wantErr {
				t.Fatalf("err: got %v, wantErr %v", err, tt.wantErr)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("urls: got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDecode_InvalidUTF8(t *testing.T) {
	_, err := Decode([]byte("{\"version\":1,\"bootstrap-package-urls\":[\"http://h\xc3\x28/p\"]}"))
	if !errors.Is(err, ErrInvalidEncoding) {
		t.Errorf("expected ErrInvalidEncoding, got %v", err)
	}
}

func TestDecode_EmptyListIsProtocolViolation(t *testing.T) {
	_, err := Decode([]byte(`{"version":1,"bootstrap-package-urls":[]}`))
	if !errors.Is(err, ErrEmptyURLList) {
		t.Fatalf("expected ErrEmptyURLList, got %v", err)
	}
}

func TestEncode(t *testing.T) {
	data, err := Encode([]string{"http://h/p"})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if string(data) != `{"version":1,"bootstrap-package-urls":["http://h/p"]}` {
		t.Errorf("payload: got %s", data)
	}

	if _, err := Encode(nil); !errors.Is(err, ErrEmptyURLList) {
		t.Errorf("expected ErrEmptyURLList, got %v", err)
	}

	long := make([]string, 100)
	for i := range long {
		long[i] = "http://bootstrap.example.com/bootstrap.pkg"
	}
	if _, err := Encode(long); !errors.Is(err, ErrPayloadTooLarge) {
		t.Errorf("expected ErrPayloadTooLarge, got %v", err)
	}
}

func TestDiscover_InvalidTimeout(t *testing.T) {
	p := NewProber("not-an-address", zerolog.Nop())
	for _, timeout := range []time.Duration{0, -time.Millisecond, time.Microsecond} {
		if _, err := p.Discover(context.Background(), timeout); !errors.Is(err, ErrInvalidTimeout) {
			t.Errorf("timeout %s: expected ErrInvalidTimeout, got %v", timeout, err)
		}
	}
}

func TestDiscover_InvalidBindAddress(t *testing.T) {
	p := NewProber("not-an-address", zerolog.Nop())
	if _, err := p.Discover(context.Background(), time.Second); !errors.Is(err, ErrInvalidBindAddress) {
		t.Fatalf("expected ErrInvalidBindAddress, got %v", err)
	}
}

func TestDiscover_NothingReceived(t *testing.T) {
	p := testProber(t)
	timeout := 150 * time.Millisecond

	start := time.Now()
	urls, err := p.Discover(context.Background(), timeout)
	elapsed := time.Since(start)

	if err != nil {
		t.Fatalf("discover: %v", err)
	}
	if len(urls) != 0 {
		t.Errorf("expected no URL, got %v", urls)
	}
	if elapsed > timeout+time.Second {
		t.Errorf("discover took %s with a %s timeout", elapsed, timeout)
	}
}

func TestDiscover_FirstValidAdvertisementWins(t *testing.T) {
	p := testProber(t)
	stop := make(chan struct{})
	defer close(stop)
	sendUntil(t, p.Port, stop,
		[]byte(`garbage`),
		[]byte(`{"version":1,"bootstrap-package-urls":[]}`),
		[]byte(`{"version":1,"bootstrap-package-urls":["http://h/p"]}`),
		[]byte(`{"version":1,"bootstrap-package-urls":["http://other/p"]}`),
	)

	urls, err := p.Discover(context.Background(), 5*time.Second)
	if err != nil {
		t.Fatalf("discover: %v", err)
	}
	if !reflect.DeepEqual(urls, []string{"http://h/p"}) {
		t.Errorf("urls: got %v, want [http://h/p]", urls)
	}
}

func TestDiscover_EmptyListIsNoResult(t *testing.T) {
	p := testProber(t)
	stop := make(chan struct{})
	defer close(stop)
	sendUntil(t, p.Port, stop, []byte(`{"version":1,"bootstrap-package-urls":[]}`))

	urls, err := p.Discover(context.Background(), 200*time.Millisecond)
	if err != nil {
		t.Fatalf("discover: %v", err)
	}
	if len(urls) != 0 {
		t.Errorf("expected no URL, got %v", urls)
	}
}

func TestDiscover_Cancelled(t *testing.T) {
	p := testProber(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := p.Discover(ctx, time.Minute)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestAdvertiser_ReachesProber(t *testing.T) {
	p := testProber(t)

	a := NewAdvertiser("0.0.0.0", []string{"http://h/p"}, zerolog.Nop())
	a.Port = p.Port
	a.Interval = 20 * time.Millisecond
	a.Targets = []string{"127.0.0.1"}
	if err := a.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer a.Stop()

	urls, err := p.Discover(context.Background(), 5*time.Second)
	if err != nil {
		t.Fatalf("discover: %v", err)
	}
	if !reflect.DeepEqual(urls, []string{"http://h/p"}) {
		t.Errorf("urls: got %v, want [http://h/p]", urls)
	}
}

func TestAdvertiser_Lifecycle(t *testing.T) {
	a := NewAdvertiser("0.0.0.0", []string{"http://h/p"}, zerolog.Nop())
	a.Port = freePort(t)
	a.Interval = 10 * time.Millisecond

	if err := a.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := a.Start(); !errors.Is(err, ErrAlreadyStarted) {
		t.Errorf("second start: expected ErrAlreadyStarted, got %v", err)
	}

	start := time.Now()
	a.Stop()
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("stop took %s", elapsed)
	}
	a.Stop()

	if err := a.Start(); !errors.Is(err, ErrAlreadyStarted) {
		t.Errorf("restart: expected ErrAlreadyStarted, got %v", err)
	}
}

func TestAdvertiser_ConfigurationErrors(t *testing.T) {
	a := NewAdvertiser("0.0.0.0", nil, zerolog.Nop())
	if err := a.Start(); !errors.Is(err, ErrEmptyURLList) {
		t.Errorf("expected ErrEmptyURLList, got %v", err)
	}

	a = NewAdvertiser("bogus", []string{"http://h/p"}, zerolog.Nop())
	if err := a.Start(); !errors.Is(err, ErrInvalidBindAddress) {
		t.Errorf("expected ErrInvalidBindAddress, got %v", err)
	}
}

func TestBroadcastTargets(t *testing.T) {
	ips, err := BroadcastTargets("0.0.0.0")
	if err != nil {
		t.Fatalf("wildcard: %v", err)
	}
	if len(ips) != 1 || !ips[0].Equal(net.IPv4bcast) {
		t.Errorf("wildcard: got %v, want [255.255.255.255]", ips)
	}

	// TEST-NET-1 is never assigned to a local interface.
	if _, err := BroadcastTargets("192.0.2.77"); !errors.Is(err, ErrInvalidBindAddress) {
		t.Errorf("unowned address: expected ErrInvalidBindAddress, got %v", err)
	}
}

func TestBroadcastTargets_NoBroadcastFlagFallsBack(t *testing.T) {
	iface, err := interfaceByIP(net.ParseIP("127.0.0.1"))
	if err != nil {
		t.Skipf("no loopback interface: %v", err)
	}
	if iface.Flags&net.FlagBroadcast != 0 {
		t.Skipf("%s supports broadcast", iface.Name)
	}

	ips, err := BroadcastTargets("127.0.0.1")
	if err != nil {
		t.Fatalf("loopback: %v", err)
	}
	if len(ips) != 1 || !ips[0].Equal(net.IPv4bcast) {
		t.Errorf("loopback: got %v, want [255.255.255.255]", ips)
	}
}

func TestGetBroadcastIP(t *testing.T) {
	tests := []struct {
		cidr string
		want string
	}{
		{"192.168.1.10/24", "192.168.1.255"},
		{"10.0.0.1/8", "10.255.255.255"},
		{"172.16.5.4/20", "172.16.15.255"},
	}
	for _, tt := range tests {
		ip, ipNet, err := net.ParseCIDR(tt.cidr)
		if err != nil {
			t.Fatalf("parsing %s: %v", tt.cidr, err)
		}
		ipNet.IP = ip
		if got := getBroadcastIP(ipNet); got.String() != tt.want {
			t.Errorf("%s: got %s, want %s", tt.cidr, got, tt.want)
		}
	}

	_, v6, _ := net.ParseCIDR("fe80::1/64")
	if got := getBroadcastIP(v6); got != nil {
		t.Errorf("IPv6: got %s, want nil", got)
	}
}
