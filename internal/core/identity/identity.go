package identity

import (
	"crypto/ed25519"
	"crypto/rand"
	"fmt"

	"github.com/dep2p/relayd/pkg/types"
)

// ============================================================================
//                              Identity
// ============================================================================

// Identity 节点身份：Ed25519 密钥对与派生出的 PeerID
type Identity struct {
	priv ed25519.PrivateKey
	pub  ed25519.PublicKey
	id   types.PeerID
}

// New 从私钥创建身份
func New(priv ed25519.PrivateKey) (*Identity, error) {
	if len(priv) != ed25519.PrivateKeySize {
		return nil, ErrNilPrivateKey
	}
	pub := priv.Public().(ed25519.PublicKey)
	return &Identity{
		priv: priv,
		pub:  pub,
		id:   types.PeerIDFromPublicKey(pub),
	}, nil
}

// FromSeed 从单字节种子确定性派生身份
func FromSeed(seed uint8) *Identity {
	s := make([]byte, ed25519.SeedSize)
	s[0] = seed
	id, _ := New(ed25519.NewKeyFromSeed(s))
	return id
}

// Generate 生成随机身份
func Generate() (*Identity, error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate ed25519 key: %w", err)
	}
	return New(priv)
}

// ID 返回节点 ID
func (i *Identity) ID() types.PeerID {
	return i.id
}

// PublicKey 返回公钥
func (i *Identity) PublicKey() ed25519.PublicKey {
	return i.pub
}

// PrivateKey 返回私钥
func (i *Identity) PrivateKey() ed25519.PrivateKey {
	return i.priv
}

// Sign 签名数据
func (i *Identity) Sign(data []byte) []byte {
	return ed25519.Sign(i.priv, data)
}

// Verify 使用给定公钥验证签名
func Verify(pub ed25519.PublicKey, data, sig []byte) bool {
	if len(pub) != ed25519.PublicKeySize || len(sig) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(pub, data, sig)
}
