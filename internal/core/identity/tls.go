package identity

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"fmt"
	"math/big"
	"time"

	"github.com/dep2p/relayd/pkg/types"
)

// certValidity 自签名证书有效期
const certValidity = 180 * 24 * time.Hour

// peerIDExtensionOID 证书中携带 PeerID 的扩展，仅用于调试，验证以公钥派生为准
var peerIDExtensionOID = []int{1, 3, 6, 1, 4, 1, 53594, 1, 1}

// Certificate 生成由节点私钥签名的自签名证书
func (i *Identity) Certificate() (tls.Certificate, error) {
	now := time.Now()
	template := &x509.Certificate{
		SerialNumber: big.NewInt(now.UnixNano()),
		Subject: pkix.Name{
			Organization: []string{"relayd"},
			CommonName:   i.id.String(),
		},
		NotBefore:             now.Add(-time.Hour),
		NotAfter:              now.Add(certValidity),
		KeyUsage:              x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
		BasicConstraintsValid: true,
		ExtraExtensions: []pkix.Extension{
			{Id: peerIDExtensionOID, Value: i.id.Bytes()},
		},
	}

	der, err := x509.CreateCertificate(rand.Reader, template, template, i.pub, i.priv)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("创建证书失败: %w", err)
	}
	return tls.Certificate{
		Certificate: [][]byte{der},
		PrivateKey:  i.priv,
	}, nil
}

// TLSConfig 生成双向认证的 TLS 1.3 配置
//
// InsecureSkipVerify 关闭 CA 校验，对端证书由 VerifyPeerCertificate 检查。
// expected 非空时（拨号方），派生出的 PeerID 必须等于 expected。
func (i *Identity) TLSConfig(alpn string, expected types.PeerID) (*tls.Config, error) {
	cert, err := i.Certificate()
	if err != nil {
		return nil, err
	}
	return &tls.Config{
		Certificates:       []tls.Certificate{cert},
		NextProtos:         []string{alpn},
		InsecureSkipVerify: true,
		ClientAuth:         tls.RequireAnyClientCert,
		MinVersion:         tls.VersionTLS13,

		// 不做会话恢复，每条连接都重新认证
		SessionTicketsDisabled: true,

		VerifyPeerCertificate: func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
			return verifyPeerCertificate(rawCerts, expected)
		},
	}, nil
}

func verifyPeerCertificate(rawCerts [][]byte, expected types.PeerID) error {
	if len(rawCerts) == 0 {
		return ErrNoCertificate
	}
	cert, err := x509.ParseCertificate(rawCerts[0])
	if err != nil {
		return fmt.Errorf("解析证书失败: %w", err)
	}

	now := time.Now()
	if now.Before(cert.NotBefore) || now.After(cert.NotAfter) {
		return fmt.Errorf("证书不在有效期内: %v - %v", cert.NotBefore, cert.NotAfter)
	}
	// 自签名证书不是 CA，CheckSignatureFrom(cert) 会拒绝，直接校验签名本身
	if err := cert.CheckSignature(cert.SignatureAlgorithm, cert.RawTBSCertificate, cert.Signature); err != nil {
		return fmt.Errorf("证书自签名无效: %w", err)
	}

	id, err := PeerIDFromCertificate(cert)
	if err != nil {
		return err
	}
	if !expected.IsEmpty() && id != expected {
		return fmt.Errorf("%w: 期望 %s, 实际 %s", ErrPeerIDMismatch, expected.ShortString(), id.ShortString())
	}
	return nil
}

// PeerIDFromCertificate 从证书公钥派生 PeerID
func PeerIDFromCertificate(cert *x509.Certificate) (types.PeerID, error) {
	pub, ok := cert.PublicKey.(ed25519.PublicKey)
	if !ok {
		return types.EmptyPeerID, fmt.Errorf("%w: %T", ErrUnsupportedKey, cert.PublicKey)
	}
	return types.PeerIDFromPublicKey(pub), nil
}

// RemotePeer 从已完成握手的连接状态中提取对端 PeerID 与公钥
func RemotePeer(state tls.ConnectionState) (types.PeerID, ed25519.PublicKey, error) {
	if len(state.PeerCertificates) == 0 {
		return types.EmptyPeerID, nil, ErrNoCertificate
	}
	cert := state.PeerCertificates[0]
	id, err := PeerIDFromCertificate(cert)
	if err != nil {
		return types.EmptyPeerID, nil, err
	}
	return id, cert.PublicKey.(ed25519.PublicKey), nil
}
