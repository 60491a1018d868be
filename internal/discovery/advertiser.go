package discovery

import (
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/net/ipv4"
)

// DefaultInterval is the pause between two advertising rounds.
const DefaultInterval = 2 * time.Second

const advertiserStopTimeout = time.Second

// Advertiser periodically broadcasts the URLs of a bootstrap package.
// It goes through idle, running and stopped once; it cannot be restarted.
type Advertiser struct {
	// BindAddress selects the broadcast targets, see BroadcastTargets.
	BindAddress string
	// Targets are extra hosts advertised to by unicast, for networks where
	// broadcast does not reach the target machines.
	Targets  []string
	Port     int
	Interval time.Duration
	// TTL, when positive, is set on every advertising socket.
	TTL int

	urls []string
	log  zerolog.Logger

	mu      sync.Mutex
	started bool
	stop    chan struct{}
	done    chan struct{}
}

// NewAdvertiser returns an idle advertiser for urls.
func NewAdvertiser(bindAddress string, urls []string, log zerolog.Logger) *Advertiser {
	return &Advertiser{
		BindAddress: bindAddress,
		Port:        Port,
		Interval:    DefaultInterval,
		urls:        append([]string(nil), urls...),
		log:         log,
	}
}

// Start resolves the broadcast targets and launches the advertising loop.
// Configuration errors are returned before anything is sent.
func (a *Advertiser) Start() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.started {
		return ErrAlreadyStarted
	}

	payload, err := Encode(a.urls)
	if err != nil {
		return err
	}

	ips, err := BroadcastTargets(a.BindAddress)
	if err != nil {
		return err
	}
	addrs := make([]*net.UDPAddr, 0, len(ips)+len(a.Targets))
	for _, ip := range ips {
		addrs = append(addrs, &net.UDPAddr{IP: ip, Port: a.Port})
	}
	for _, target := range a.Targets {
		addr, err := net.ResolveUDPAddr("udp4", net.JoinHostPort(target, strconv.Itoa(a.Port)))
		if err != nil {
			a.log.Warn().Err(err).Str("target", target).Msg("Failed to resolve unicast target")
			continue
		}
		addrs = append(addrs, addr)
	}

	interval := a.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}

	a.started = true
	a.stop = make(chan struct{})
	a.done = make(chan struct{})

	a.log.Info().
		Strs("urls", a.urls).
		Str("bind_address", a.BindAddress).
		Int("port", a.Port).
		Dur("interval", interval).
		Msg("Advertiser started")

	go a.loop(payload, addrs, interval)
	return nil
}

func (a *Advertiser) loop(payload []byte, addrs []*net.UDPAddr, interval time.Duration) {
	defer close(a.done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		a.advertise(payload, addrs)
		select {
		case <-a.stop:
			a.log.Info().Msg("Advertiser stopped")
			return
		case <-ticker.C:
		}
	}
}

// advertise sends one round of datagrams from a fresh ephemeral socket.
// Failures are logged per target and never end the loop.
func (a *Advertiser) advertise(payload []byte, addrs []*net.UDPAddr) {
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4zero, Port: 0})
	if err != nil {
		a.log.Warn().Err(err).Msg("Failed to open advertising socket")
		return
	}
	defer conn.Close()

	if a.TTL > 0 {
		if err := ipv4.NewPacketConn(conn).SetTTL(a.TTL); err != nil {
			a.log.Warn().Err(err).Msg("Failed to set advertising TTL")
		}
	}

	for _, addr := range addrs {
		if _, err := conn.WriteToUDP(payload, addr); err != nil {
			a.log.Warn().Err(err).Str("target", addr.String()).Msg("Failed to send advertisement")
			continue
		}
		a.log.Debug().Str("target", addr.String()).Int("bytes", len(payload)).Msg("Advertisement sent")
	}
}

// Stop ends the advertising loop. It waits for the loop at most one second and
// is a no-op on an advertiser that is not running.
func (a *Advertiser) Stop() {
	a.mu.Lock()
	stop, done := a.stop, a.done
	a.stop = nil
	a.mu.Unlock()
	if stop == nil {
		return
	}

	close(stop)
	select {
	case <-done:
	case <-time.After(advertiserStopTimeout):
		a.log.Warn().Dur("timeout", advertiserStopTimeout).Msg("Advertiser did not stop in time")
	}
}

