package quic

import (
	"fmt"
	"net"

	ma "github.com/multiformats/go-multiaddr"
	manet "github.com/multiformats/go-multiaddr/net"
)

var quicV1 = ma.StringCast("/quic-v1")

// isQUICAddr 地址是否为 /ip{4,6}/.../udp/.../quic-v1
func isQUICAddr(addr ma.Multiaddr) bool {
	if addr == nil {
		return false
	}
	if _, err := addr.ValueForProtocol(ma.P_QUIC_V1); err != nil {
		return false
	}
	_, err := addr.ValueForProtocol(ma.P_UDP)
	return err == nil
}

// toUDPAddr 解析 multiaddr 到 UDP 地址
func toUDPAddr(addr ma.Multiaddr) (*net.UDPAddr, error) {
	if !isQUICAddr(addr) {
		return nil, fmt.Errorf("%w: %s", ErrInvalidAddress, addr)
	}
	na, err := manet.ToNetAddr(addr.Decapsulate(quicV1))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}
	udp, ok := na.(*net.UDPAddr)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrInvalidAddress, addr)
	}
	return udp, nil
}

// fromNetAddr 把 UDP 地址转为 quic-v1 multiaddr
func fromNetAddr(na net.Addr) (ma.Multiaddr, error) {
	addr, err := manet.FromNetAddr(na)
	if err != nil {
		return nil, err
	}
	return addr.Encapsulate(quicV1), nil
}
