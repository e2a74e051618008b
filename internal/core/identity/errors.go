package identity

import "errors"

var (
	// ErrNilPrivateKey 私钥为 nil
	ErrNilPrivateKey = errors.New("private key is nil")

	// ErrNoCertificate 对端未提供证书
	ErrNoCertificate = errors.New("peer presented no certificate")

	// ErrUnsupportedKey 证书公钥不是 Ed25519
	ErrUnsupportedKey = errors.New("unsupported certificate public key")

	// ErrPeerIDMismatch 对端身份与期望不一致
	ErrPeerIDMismatch = errors.New("peer id mismatch")
)
