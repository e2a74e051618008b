package identify

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/dep2p/relayd/internal/util/logger"
	"github.com/dep2p/relayd/pkg/interfaces"
	"github.com/dep2p/relayd/pkg/protocolids"
	"github.com/dep2p/relayd/pkg/types"
)

var log = logger.Logger("identify")

// ProtocolID Identify 协议 ID
const ProtocolID = protocolids.SysIdentify

const (
	// ProtocolVersion 协议版本
	ProtocolVersion = "relayd/1.0.0"

	// DefaultCacheSize 缓存的节点数
	DefaultCacheSize = 1024

	// Timeout 单次 identify 超时
	Timeout = 10 * time.Second

	// maxMessageSize Info 消息上限
	maxMessageSize = 8 << 10
)

var (
	// ErrPeerMismatch 公钥与连接身份不一致
	ErrPeerMismatch = errors.New("identify: public key does not match peer id")

	// ErrInvalidPublicKey 公钥格式错误
	ErrInvalidPublicKey = errors.New("identify: invalid public key")
)

// Info 节点身份信息
type Info struct {
	// PeerID 节点 ID
	PeerID types.PeerID `json:"peer_id"`

	// PublicKey 公钥（base64 编码）
	PublicKey string `json:"public_key"`

	// ListenAddrs 监听地址列表
	ListenAddrs []string `json:"listen_addrs"`

	// ObservedAddr 服务端看到的请求方地址
	ObservedAddr string `json:"observed_addr"`

	// Protocols 支持的协议列表
	Protocols []string `json:"protocols"`

	// AgentVersion 代理版本
	AgentVersion string `json:"agent_version"`

	// ProtocolVersion 协议版本
	ProtocolVersion string `json:"protocol_version"`

	// ReceivedAt 收到时间（本地字段）
	ReceivedAt time.Time `json:"received_at,omitempty"`
}

// Verify 校验公钥派生的 PeerID 与 peer 一致
func (i *Info) Verify(peer types.PeerID) error {
	raw, err := base64.StdEncoding.DecodeString(i.PublicKey)
	if err != nil || len(raw) != ed25519.PublicKeySize {
		return ErrInvalidPublicKey
	}
	derived := types.PeerIDFromPublicKey(ed25519.PublicKey(raw))
	if derived != peer || i.PeerID != peer {
		return ErrPeerMismatch
	}
	return nil
}

// Service Identify 服务
type Service struct {
	host      interfaces.Host
	publicKey ed25519.PublicKey
	agent     string
	cache     *lru.Cache[types.PeerID, *Info]

	ctx    context.Context
	cancel context.CancelFunc
}

// NewService 创建 Identify 服务
func NewService(host interfaces.Host, pub ed25519.PublicKey, agent string, cacheSize int) (*Service, error) {
	if cacheSize <= 0 {
		cacheSize = DefaultCacheSize
	}
	cache, err := lru.New[types.PeerID, *Info](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("create identify cache: %w", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		host:      host,
		publicKey: pub,
		agent:     agent,
		cache:     cache,
		ctx:       ctx,
		cancel:    cancel,
	}, nil
}

// LocalInfo 构造本节点信息
func (s *Service) LocalInfo() *Info {
	addrs := s.host.Addrs()
	listen := make([]string, len(addrs))
	for i, a := range addrs {
		listen[i] = a.String()
	}
	protos := s.host.Protocols()
	names := make([]string, len(protos))
	for i, p := range protos {
		names[i] = string(p)
	}
	return &Info{
		PeerID:          s.host.ID(),
		PublicKey:       base64.StdEncoding.EncodeToString(s.publicKey),
		ListenAddrs:     listen,
		Protocols:       names,
		AgentVersion:    s.agent,
		ProtocolVersion: ProtocolVersion,
	}
}

// Handler 写入本节点信息（服务端）
func (s *Service) Handler(stream interfaces.Stream) {
	defer stream.Close()

	info := s.LocalInfo()
	info.ObservedAddr = observedAddr(stream)

	_ = stream.SetWriteDeadline(time.Now().Add(Timeout))
	if err := json.NewEncoder(stream).Encode(info); err != nil {
		log.Debug("写入 identify 失败", "err", err)
	}
}

// Identify 向已连接的节点请求信息并校验
func Identify(ctx context.Context, host interfaces.Host, peer types.PeerID) (*Info, error) {
	stream, err := host.NewStream(ctx, peer, ProtocolID)
	if err != nil {
		return nil, err
	}
	defer stream.Close()

	_ = stream.SetReadDeadline(time.Now().Add(Timeout))
	return readInfo(stream, peer)
}

func readInfo(r io.Reader, peer types.PeerID) (*Info, error) {
	info := &Info{}
	if err := json.NewDecoder(io.LimitReader(r, maxMessageSize)).Decode(info); err != nil {
		return nil, fmt.Errorf("decode identify: %w", err)
	}
	if err := info.Verify(peer); err != nil {
		return nil, err
	}
	return info, nil
}

// observedAddr 连接的远端地址，即请求方在本节点看来的地址
func observedAddr(stream interfaces.Stream) string {
	conn := stream.Conn()
	if conn == nil {
		return ""
	}
	if addr := conn.RemoteMultiaddr(); addr != nil {
		return addr.String()
	}
	return ""
}

// ============================================================================
//                              缓存
// ============================================================================

// Notifiee 返回连接通知：新连接时异步拉取对端信息
func (s *Service) Notifiee() interfaces.Notifiee {
	return &interfaces.NotifyBundle{
		ConnectedF: func(conn interfaces.Connection) {
			go s.identifyPeer(conn.RemotePeer())
		},
	}
}

func (s *Service) identifyPeer(peer types.PeerID) {
	ctx, cancel := context.WithTimeout(s.ctx, Timeout)
	defer cancel()

	info, err := Identify(ctx, s.host, peer)
	if err != nil {
		log.Debug("identify 失败", "peer", peer.ShortString(), "err", err)
		return
	}
	info.ReceivedAt = time.Now()
	s.cache.Add(peer, info)
	log.Debug("identify 完成", "peer", peer.ShortString(), "agent", info.AgentVersion)
}

// Lookup 返回缓存的节点信息
func (s *Service) Lookup(peer types.PeerID) (*Info, bool) {
	return s.cache.Get(peer)
}

// Cached 返回全部缓存的节点信息
func (s *Service) Cached() []*Info {
	return s.cache.Values()
}

// Close 停止后台 identify
func (s *Service) Close() {
	s.cancel()
}
