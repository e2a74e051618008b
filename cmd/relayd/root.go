package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dep2p/relayd/config"
	"github.com/dep2p/relayd/internal/app"
	"github.com/dep2p/relayd/internal/util/logger"
)

var log = logger.Logger("cmd")

// flags 命令行参数
//
// 命令行参数覆盖配置文件，配置文件覆盖默认值。
type flags struct {
	configFile      string
	port            int
	seed            uint8
	useIPv6         bool
	transport       string
	diagnosticsAddr string
	fxLog           bool
	logLevel        string

	maxReservations    int
	maxReservationTTL  time.Duration
	maxCircuits        int
	maxCircuitsPerPeer int
	maxCircuitDuration time.Duration
	maxCircuitBytes    int64
	closeOnResEnd      bool
}

func newRootCommand() *cobra.Command {
	f := &flags{}

	cmd := &cobra.Command{
		Use:           "relayd",
		Short:         "Peer-to-peer circuit relay node",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			if cmd.Flags().Changed("log-level") {
				logger.Apply(f.logLevel, "")
			}
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := buildConfig(cmd, f)
			if err != nil {
				return err
			}
			return run(cmd.Context(), cmd.OutOrStdout(), cfg, f.fxLog)
		},
	}

	f.bind(cmd)
	return cmd
}

// bind 注册命令行参数
//
// 身份种子没有默认值：必须由 --secret-key-seed 或配置文件提供，
// 缺失时由 Validate 报错。
func (f *flags) bind(cmd *cobra.Command) {
	fs := cmd.Flags()
	fs.StringVar(&f.configFile, "config", "", "JSON 配置文件路径")
	fs.IntVar(&f.port, "port", config.DefaultPort, "监听端口")
	fs.Uint8Var(&f.seed, "secret-key-seed", 0, "确定性身份密钥种子 (0-255)")
	fs.BoolVar(&f.useIPv6, "use-ipv6", false, "监听 IPv6 通配地址")
	fs.StringVar(&f.transport, "transport", config.TransportQUIC, "传输类型: quic | tcp")
	fs.StringVar(&f.diagnosticsAddr, "diagnostics-addr", "", "启用诊断 HTTP 服务并监听该地址")
	fs.BoolVar(&f.fxLog, "fx-log", false, "输出依赖注入生命周期日志")
	fs.StringVar(&f.logLevel, "log-level", "", "日志级别，如 info 或 relay=debug,warn（覆盖 RELAYD_LOG_LEVEL）")

	fs.IntVar(&f.maxReservations, "max-reservations", 0, "同时存在的预留上限")
	fs.DurationVar(&f.maxReservationTTL, "max-reservation-ttl", 0, "预留最长有效期")
	fs.IntVar(&f.maxCircuits, "max-circuits", 0, "同时存在的电路上限")
	fs.IntVar(&f.maxCircuitsPerPeer, "max-circuits-per-peer", 0, "以同一节点为目标的电路上限")
	fs.DurationVar(&f.maxCircuitDuration, "max-circuit-duration", 0, "单条电路最长存活时间")
	fs.Int64Var(&f.maxCircuitBytes, "max-circuit-bytes", 0, "单条电路可转发字节数")
	fs.BoolVar(&f.closeOnResEnd, "close-circuits-on-reservation-end", false, "预留结束时关闭以该节点为目标的电路")
}

// buildConfig 合并默认值、配置文件和命令行参数
//
// 只有显式设置的参数才覆盖配置文件；限制类参数的零值不会被当作“不限制”，
// 而是交给 Validate 拒绝。
func buildConfig(cmd *cobra.Command, f *flags) (*config.Config, error) {
	cfg := config.NewConfig()
	if f.configFile != "" {
		loaded, err := config.LoadFile(f.configFile)
		if err != nil {
			return nil, fmt.Errorf("加载配置文件失败: %w", err)
		}
		cfg = loaded
	}

	changed := cmd.Flags().Changed
	if changed("secret-key-seed") {
		cfg.Identity = cfg.Identity.WithSeed(f.seed)
	}
	if changed("port") {
		cfg.Transport.Port = f.port
	}
	if changed("use-ipv6") {
		cfg.Transport.UseIPv6 = f.useIPv6
	}
	if changed("transport") {
		cfg.Transport.Kind = f.transport
	}
	if changed("diagnostics-addr") {
		cfg.Diagnostics.Enabled = f.diagnosticsAddr != ""
		cfg.Diagnostics.Addr = f.diagnosticsAddr
	}

	r := &cfg.Relay
	if changed("max-reservations") {
		r.MaxReservations = f.maxReservations
	}
	if changed("max-reservation-ttl") {
		r.MaxReservationTTL = config.Duration(f.maxReservationTTL)
	}
	if changed("max-circuits") {
		r.MaxCircuits = f.maxCircuits
	}
	if changed("max-circuits-per-peer") {
		r.MaxCircuitsPerPeer = f.maxCircuitsPerPeer
	}
	if changed("max-circuit-duration") {
		r.MaxCircuitDuration = config.Duration(f.maxCircuitDuration)
	}
	if changed("max-circuit-bytes") {
		r.MaxCircuitBytes = f.maxCircuitBytes
	}
	if changed("close-circuits-on-reservation-end") {
		r.CloseCircuitsOnReservationEnd = f.closeOnResEnd
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("配置无效: %w", err)
	}
	return cfg, nil
}

func run(ctx context.Context, out io.Writer, cfg *config.Config, fxLog bool) error {
	var opts []app.Option
	if fxLog {
		zl, err := zap.NewDevelopment()
		if err != nil {
			return err
		}
		defer func() { _ = zl.Sync() }()
		opts = append(opts, app.WithFxLogger(zl))
	}

	return app.Run(ctx, app.NewBootstrap(cfg, opts...), func(rt *app.Runtime) {
		printNodeInfo(out, rt, cfg)
	})
}

// printNodeInfo 打印本地 PeerID 和监听地址
func printNodeInfo(out io.Writer, rt *app.Runtime, cfg *config.Config) {
	id := rt.Host.ID()
	fmt.Fprintf(out, "Local peer id: %s\n", id)
	for _, addr := range rt.Host.ListenAddrs() {
		fmt.Fprintf(out, "Listening on %s/p2p/%s\n", addr, id)
	}
	if rt.Introspect != nil {
		fmt.Fprintf(out, "Diagnostics on http://%s\n", rt.Introspect.Addr())
	}
	log.Info("relayd 就绪",
		"peer", id.ShortString(),
		"transport", cfg.Transport.Kind,
		"maxReservations", cfg.Relay.MaxReservations,
		"maxCircuits", cfg.Relay.MaxCircuits)
}
