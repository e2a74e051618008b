// Package lib 包含基础设施工具库
//
// 本目录包含与架构组件无关的通用工具库：
//
//   - proto/relay: 中继协议的消息编解码与分帧
//
// # 与 pkg/ 其他目录的关系
//
// pkg/ 目录包含四类内容：
//
//   - interfaces/: 组件公共接口（架构核心）
//   - types/: 公共类型定义（架构核心）
//   - protocolids/: 协议 ID 常量
//   - lib/: 基础设施工具库（本目录）
//
// # 使用示例
//
//	import pb "github.com/dep2p/relayd/pkg/lib/proto/relay"
//
//	err := pb.WriteMessage(stream, pb.NewReserve(3600))
//	resp, err := pb.ReadMessage(stream)
package lib
