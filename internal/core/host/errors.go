package host

import "errors"

var (
	// ErrHostClosed Host 已关闭
	ErrHostClosed = errors.New("host closed")

	// ErrNoConnection 没有到目标节点的连接
	ErrNoConnection = errors.New("no connection to peer")

	// ErrNoProtocols 未指定协议
	ErrNoProtocols = errors.New("no protocols given")
)
