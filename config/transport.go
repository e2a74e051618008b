package config

import (
	"fmt"

	ma "github.com/multiformats/go-multiaddr"
)

// 传输类型
const (
	// TransportQUIC QUIC 传输（默认）
	TransportQUIC = "quic"
	// TransportTCP TCP + TLS 1.3 + yamux
	TransportTCP = "tcp"
)

// DefaultPort 默认监听端口
const DefaultPort = 8890

// TransportConfig 传输层配置
type TransportConfig struct {
	// Kind 传输类型: quic | tcp
	Kind string `json:"kind"`

	// Port 监听端口，ListenAddrs 为空时使用
	Port int `json:"port"`

	// UseIPv6 使用 IPv6 通配地址监听
	UseIPv6 bool `json:"use_ipv6"`

	// ListenAddrs 显式监听地址（multiaddr），非空时忽略 Port 和 UseIPv6
	ListenAddrs []string `json:"listen_addrs,omitempty"`
}

// DefaultTransportConfig 返回默认传输配置
func DefaultTransportConfig() TransportConfig {
	return TransportConfig{
		Kind: TransportQUIC,
		Port: DefaultPort,
	}
}

// Validate 验证传输配置
func (c TransportConfig) Validate() error {
	if c.Kind != TransportQUIC && c.Kind != TransportTCP {
		return fmt.Errorf("unknown transport kind %q", c.Kind)
	}
	if len(c.ListenAddrs) == 0 && (c.Port < 0 || c.Port > 65535) {
		return fmt.Errorf("port %d out of range", c.Port)
	}
	_, err := c.Multiaddrs()
	return err
}

// Multiaddrs 返回解析后的监听地址
//
// 未显式配置时，根据 Kind / Port / UseIPv6 生成：
//
//	quic: /ip4/0.0.0.0/udp/8890/quic-v1
//	tcp:  /ip4/0.0.0.0/tcp/8890
func (c TransportConfig) Multiaddrs() ([]ma.Multiaddr, error) {
	addrs := c.ListenAddrs
	if len(addrs) == 0 {
		addrs = []string{c.defaultListenAddr()}
	}

	out := make([]ma.Multiaddr, 0, len(addrs))
	for _, s := range addrs {
		addr, err := ma.NewMultiaddr(s)
		if err != nil {
			return nil, fmt.Errorf("invalid listen addr %q: %w", s, err)
		}
		out = append(out, addr)
	}
	return out, nil
}

func (c TransportConfig) defaultListenAddr() string {
	ip := "/ip4/0.0.0.0"
	if c.UseIPv6 {
		ip = "/ip6/::"
	}
	if c.Kind == TransportTCP {
		return fmt.Sprintf("%s/tcp/%d", ip, c.Port)
	}
	return fmt.Sprintf("%s/udp/%d/quic-v1", ip, c.Port)
}
