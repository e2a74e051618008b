// Package main 提供 relayd 命令行入口
//
// relayd 是独立的中继节点：帮助无法直连的两个节点通过本节点转发加密字节流。
//
// 使用方法:
//
//	relayd --secret-key-seed 1
//	relayd --secret-key-seed 1 --transport tcp --port 4001
//	relayd --secret-key-seed 1 --config relayd.json --diagnostics-addr 127.0.0.1:6060
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "错误: %v\n", err)
		os.Exit(1)
	}
}
