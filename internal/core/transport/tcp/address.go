package tcp

import (
	"fmt"
	"net"

	ma "github.com/multiformats/go-multiaddr"
	manet "github.com/multiformats/go-multiaddr/net"
)

// isTCPAddr 地址是否为 /ip{4,6}/.../tcp/...（不带其他后缀）
func isTCPAddr(addr ma.Multiaddr) bool {
	if addr == nil {
		return false
	}
	na, err := manet.ToNetAddr(addr)
	if err != nil {
		return false
	}
	_, ok := na.(*net.TCPAddr)
	return ok
}

// toTCPAddr 解析 multiaddr 到 TCP 地址
func toTCPAddr(addr ma.Multiaddr) (*net.TCPAddr, error) {
	if addr == nil {
		return nil, ErrInvalidAddress
	}
	na, err := manet.ToNetAddr(addr)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}
	tcp, ok := na.(*net.TCPAddr)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrInvalidAddress, addr)
	}
	return tcp, nil
}
