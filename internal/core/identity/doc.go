// Package identity 实现 relayd 的节点身份
//
// 节点使用 Ed25519 密钥，PeerID = SHA256(原始 32 字节公钥)。
//
// # 密钥种子
//
// 中继节点的密钥由单字节种子确定性派生：种子写入 32 字节 Ed25519 种子的
// 第 0 字节，其余为零。这样重启后 PeerID 不变，客户端可以长期配置中继地址。
//
// # TLS
//
// QUIC 与 TCP 传输都使用 TLS 1.3 双向认证：
//   - 证书由节点私钥自签名
//   - 对端身份总是从证书公钥派生，不信任证书中的任何声明
//   - 拨号时校验派生出的 PeerID 与期望值一致
//
// # Fx 模块
//
//	app := fx.New(
//	    fx.Supply(cfg),
//	    identity.Module(),
//	    fx.Invoke(func(id *identity.Identity) {
//	        fmt.Println(id.ID())
//	    }),
//	)
package identity
