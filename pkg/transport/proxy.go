package transport

import (
	"context"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"net"
	"strings"

	"golang.org/x/net/proxy"
)

// Proxy types.
const (
	ProxyNone      = "none"
	ProxySocks5    = "socks5"
	ProxyTorSocks5 = "tor+socks5"
)

// DefaultTorSocksAddress is the SOCKS port of a stock Tor daemon.
const DefaultTorSocksAddress = "127.0.0.1:9050"

// DialContextFunc matches net.Dialer.DialContext.
type DialContextFunc func(ctx context.Context, network, address string) (net.Conn, error)

// ProxyConfig selects how outbound streams are opened.
type ProxyConfig struct {
	// Type is "none", "socks5" or "tor+socks5".
	Type string `yaml:"type"`

	// Network is the proxy network ("tcp" or "unix").
	Network string `yaml:"network"`

	// Address is the proxy address.
	Address string `yaml:"address"`
}

// DefaultProxyConfig returns a Tor SOCKS5 proxy on the default port.
func DefaultProxyConfig() ProxyConfig {
	return ProxyConfig{
		Type:    ProxyTorSocks5,
		Network: "tcp",
		Address: DefaultTorSocksAddress,
	}
}

// Validate normalizes the config and checks its fields.
func (c *ProxyConfig) Validate() error {
	c.Type = strings.ToLower(c.Type)
	c.Network = strings.ToLower(c.Network)

	switch c.Type {
	case "":
		c.Type = ProxyNone
	case ProxyNone:
	case ProxySocks5, ProxyTorSocks5:
		if c.Network == "" {
			c.Network = "tcp"
		}
		switch c.Network {
		case "tcp":
			if _, _, err := net.SplitHostPort(c.Address); err != nil {
				return fmt.Errorf("proxy address %q: %w", c.Address, err)
			}
		case "unix":
			if c.Address == "" {
				return fmt.Errorf("proxy socket path is empty")
			}
		default:
			return fmt.Errorf("proxy network %q is invalid", c.Network)
		}
	default:
		return fmt.Errorf("proxy type %q is invalid", c.Type)
	}
	return nil
}

// DialContext returns a dial function for streams to the peer identified by
// tag. With tor+socks5 every tag gets its own circuit through Tor's SOCKS
// username isolation.
func (c ProxyConfig) DialContext(tag string) (DialContextFunc, error) {
	forward := &net.Dialer{}

	var auth *proxy.Auth
	switch c.Type {
	case "", ProxyNone:
		return forward.DialContext, nil
	case ProxySocks5:
	case ProxyTorSocks5:
		sum := sha512.Sum512_256([]byte(tag))
		auth = &proxy.Auth{
			User:     "veil-" + hex.EncodeToString(sum[:16]),
			Password: string([]byte{0x00}),
		}
	default:
		return nil, fmt.Errorf("proxy type %q is invalid", c.Type)
	}

	d, err := proxy.SOCKS5(c.Network, c.Address, auth, forward)
	if err != nil {
		return nil, fmt.Errorf("socks5 dialer: %w", err)
	}
	cd, ok := d.(proxy.ContextDialer)
	if !ok {
		return nil, fmt.Errorf("socks5 dialer does not support contexts")
	}
	return cd.DialContext, nil
}
