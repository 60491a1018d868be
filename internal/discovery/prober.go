package discovery

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/net/ipv4"
)

const listenerJoinTimeout = time.Second

// Prober listens for a single advertisement. The first valid advertisement
// wins; anything received after it is ignored.
type Prober struct {
	BindAddress string
	Port        int

	log zerolog.Logger
}

// NewProber returns a prober bound to bindAddress on the discovery port.
func NewProber(bindAddress string, log zerolog.Logger) *Prober {
	if bindAddress == "" {
		bindAddress = net.IPv4zero.String()
	}
	return &Prober{BindAddress: bindAddress, Port: Port, log: log}
}

// Discover waits up to timeout for an advertisement and returns its URLs. An
// empty result with a nil error means nothing valid was received in time.
// Timeouts under one millisecond and bad bind addresses are rejected before
// any socket is opened; a socket that cannot be bound is returned as an error.
func (p *Prober) Discover(ctx context.Context, timeout time.Duration) ([]string, error) {
	if timeout < time.Millisecond {
		return nil, fmt.Errorf("%w: %s", ErrInvalidTimeout, timeout)
	}
	ip := net.ParseIP(p.BindAddress)
	if ip == nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidBindAddress, p.BindAddress)
	}

	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: ip, Port: p.Port})
	if err != nil {
		return nil, fmt.Errorf("binding discovery socket %s:%d: %w", p.BindAddress, p.Port, err)
	}
	defer conn.Close()

	p.log.Debug().Str("bind_address", p.BindAddress).Int("port", p.Port).Dur("timeout", timeout).Msg("Starting network probe")

	result := make(chan []string, 1)
	done := make(chan struct{})
	go func() {
		defer close(done)
		p.listen(conn, result)
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-done:
	case <-timer.C:
		p.log.Debug().Msg("Network probe timed out")
	case <-ctx.Done():
	}

	conn.Close()
	select {
	case <-done:
	case <-time.After(listenerJoinTimeout):
		p.log.Warn().Msg("Network probe listener did not exit")
	}

	select {
	case urls := <-result:
		return urls, nil
	default:
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return nil, nil
}

// listen receives datagrams until one carries a valid advertisement or the
// socket is closed. Invalid datagrams are logged and skipped.
func (p *Prober) listen(conn *net.UDPConn, result chan<- []string) {
	pc := ipv4.NewPacketConn(conn)
	if err := pc.SetControlMessage(ipv4.FlagDst|ipv4.FlagInterface, true); err != nil {
		p.log.Debug().Err(err).Msg("Packet control messages unavailable")
	}

	buf := make([]byte, maxPayloadSize)
	for {
		n, cm, src, err := pc.ReadFrom(buf)
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				p.log.Warn().Err(err).Msg("Error while looking for bootstrap package")
			}
			return
		}

		event := p.log.Debug().Str("src", src.String()).Int("bytes", n)
		if cm != nil {
			event = event.Str("dst", cm.Dst.String()).Int("ifindex", cm.IfIndex)
		}
		event.Msg("Advertisement received")

		urls, err := Decode(buf[:n])
		if err != nil {
			p.log.Warn().Err(err).Str("src", src.String()).Msg("Ignoring invalid advertisement")
			continue
		}

		p.log.Info().Strs("urls", urls).Str("src", src.String()).Msg("Bootstrap package advertised")
		result <- urls
		return
	}
}
