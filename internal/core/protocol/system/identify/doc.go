// Package identify 实现节点身份识别协议
//
// # 协议 ID
//
//	/dep2p/sys/identify/1.0.0
//
// # 流程
//
//  1. 新连接建立后，向对端打开 identify 流
//  2. 对端写入一个 JSON 编码的 Info 后关闭流
//  3. 校验公钥派生的 PeerID 与连接身份一致，写入 LRU 缓存
//
// 信息仅用于诊断（/debug/peers），不影响中继决策。
package identify
