// Package discovery implements the LAN discovery protocol used to locate a
// bootstrap package. An Advertiser periodically broadcasts the package URLs
// over UDP and a Prober listens for the first such advertisement.
package discovery

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"unicode/utf8"
)

// Port is the UDP port advertisements are sent to and probed on.
const Port = 17710

// ProtocolVersion is the advertisement version written by this package.
const ProtocolVersion = 1

// maxPayloadSize caps a single advertisement datagram.
const maxPayloadSize = 1024

var (
	// ErrInvalidTimeout is returned by Discover for timeouts under one millisecond.
	ErrInvalidTimeout = errors.New("discovery: invalid timeout")
	// ErrInvalidBindAddress is returned when a bind address is malformed or not
	// owned by any local interface.
	ErrInvalidBindAddress = errors.New("discovery: invalid bind address")
	// ErrEmptyURLList reports an advertisement without any package URL.
	ErrEmptyURLList = errors.New("discovery: advertisement carries no URL")
	// ErrInvalidEncoding reports an advertisement that is not valid UTF-8.
	ErrInvalidEncoding = errors.New("discovery: advertisement is not valid UTF-8")
	// ErrPayloadTooLarge is returned by Start when the encoded advertisement
	// would not fit a single probe receive.
	ErrPayloadTooLarge = errors.New("discovery: advertisement too large")
	// ErrAlreadyStarted is returned by Start on an advertiser that was started before.
	ErrAlreadyStarted = errors.New("discovery: advertiser already started")
)

// Advertisement is the JSON document carried by each discovery datagram.
type Advertisement struct {
	Version int      `json:"version"`
	URLs    []string `json:"bootstrap-package-urls"`
}

// Encode marshals an advertisement for the given URLs.
func Encode(urls []string) ([]byte, error) {
	if len(urls) == 0 {
		return nil, ErrEmptyURLList
	}
	data, err := json.Marshal(Advertisement{Version: ProtocolVersion, URLs: urls})
	if err != nil {
		return nil, fmt.Errorf("marshaling advertisement: %w", err)
	}
	if len(data) > maxPayloadSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrPayloadTooLarge, len(data))
	}
	return data, nil
}

// Decode parses a datagram and returns its package URLs, deduplicated in
// order. A missing version is read as version 1. Versions below 1, a missing
// or empty URL list, invalid UTF-8, and relative or unparseable URLs are all
// errors.
func Decode(packet []byte) ([]string, error) {
	if !utf8.Valid(packet) {
		return nil, ErrInvalidEncoding
	}
	adv := Advertisement{Version: ProtocolVersion}
	if err := json.Unmarshal(packet, &adv); err != nil {
		return nil, fmt.Errorf("parsing advertisement: %w", err)
	}
	if adv.Version < 1 {
		return nil, fmt.Errorf("unsupported advertisement version %d", adv.Version)
	}
	if len(adv.URLs) == 0 {
		return nil, ErrEmptyURLList
	}

	seen := make(map[string]struct{}, len(adv.URLs))
	urls := make([]string, 0, len(adv.URLs))
	for _, raw := range adv.URLs {
		u, err := url.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("parsing advertised URL %q: %w", raw, err)
		}
		if !u.IsAbs() || u.Host == "" {
			return nil, fmt.Errorf("advertised URL %q is not absolute", raw)
		}
		if _, dup := seen[raw]; dup {
			continue
		}
		seen[raw] = struct{}{}
		urls = append(urls, raw)
	}
	return urls, nil
}
