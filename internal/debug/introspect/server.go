package introspect

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"runtime"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dep2p/relayd/internal/core/protocol/system/identify"
	"github.com/dep2p/relayd/internal/util/logger"
	"github.com/dep2p/relayd/pkg/interfaces"
	"github.com/dep2p/relayd/pkg/types"
)

var log = logger.Logger("introspect")

// DefaultAddr 默认监听地址
const DefaultAddr = "127.0.0.1:6060"

// ============================================================================
//                              配置
// ============================================================================

// RelayReporter 中继状态来源
type RelayReporter interface {
	Stats() types.RelayStats
	Reservations() []types.ReservationInfo
	Circuits() []types.CircuitInfo
	Closed() bool
}

// PeerInfoSource identify 缓存
type PeerInfoSource interface {
	Lookup(peer types.PeerID) (*identify.Info, bool)
}

// Config 服务配置
type Config struct {
	// Addr 监听地址，默认 "127.0.0.1:6060"
	Addr string

	// Host 可选的 Host 组件
	Host interfaces.Host

	// Relay 可选的中继服务
	Relay RelayReporter

	// Peers 可选的 identify 缓存
	Peers PeerInfoSource

	// Gatherer Prometheus 指标来源，nil 时使用默认注册表
	Gatherer prometheus.Gatherer
}

// ============================================================================
//                              Server
// ============================================================================

// Server 本地诊断 HTTP 服务
type Server struct {
	config Config
	router chi.Router

	server   *http.Server
	listener net.Listener

	running   bool
	startTime time.Time

	mu sync.Mutex
}

// New 创建诊断服务
func New(cfg Config) *Server {
	if cfg.Addr == "" {
		cfg.Addr = DefaultAddr
	}
	if cfg.Gatherer == nil {
		cfg.Gatherer = prometheus.DefaultGatherer
	}

	s := &Server{
		config:    cfg,
		startTime: time.Now(),
	}
	r := chi.NewRouter()
	s.RegisterRoutes(r)
	s.router = r
	return s
}

// RegisterRoutes 注册全部端点
func (s *Server) RegisterRoutes(r chi.Router) {
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.config.Gatherer, promhttp.HandlerOpts{}))

	r.Route("/debug", func(r chi.Router) {
		r.Get("/node", s.handleNode)
		r.Get("/peers", s.handlePeers)
		r.Get("/peers/{peer}", s.handlePeer)
		r.Get("/runtime", s.handleRuntime)

		r.Route("/relay", func(r chi.Router) {
			r.Get("/stats", s.handleRelayStats)
			r.Get("/reservations", s.handleReservations)
			r.Get("/circuits", s.handleCircuits)
		})

		r.Mount("/profile", middleware.Profiler())
	})
}

// Handler 返回路由（测试中配合 httptest 使用）
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start 启动服务
func (s *Server) Start(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}

	listener, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		return err
	}
	s.listener = listener

	s.server = &http.Server{
		Handler:      s.router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("诊断服务异常退出", "error", err)
		}
	}()

	s.running = true
	s.startTime = time.Now()
	log.Info("诊断服务已启动", "addr", listener.Addr().String())
	return nil
}

// Stop 停止服务
func (s *Server) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		log.Error("关闭诊断服务失败", "error", err)
		return err
	}

	s.running = false
	log.Info("诊断服务已停止")
	return nil
}

// Addr 返回实际监听地址
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.config.Addr
}

// ============================================================================
//                              响应结构
// ============================================================================

// NodeInfo 节点信息
type NodeInfo struct {
	ID        string   `json:"id"`
	Addresses []string `json:"addresses"`
	Protocols []string `json:"protocols,omitempty"`
}

// PeerInfo 已连接节点
type PeerInfo struct {
	ID          string         `json:"id"`
	Addresses   []string       `json:"addresses"`
	Connections int            `json:"connections"`
	Identify    *identify.Info `json:"identify,omitempty"`
}

// RuntimeInfo 运行时信息
type RuntimeInfo struct {
	GoVersion    string `json:"go_version"`
	NumGoroutine int    `json:"num_goroutine"`
	NumCPU       int    `json:"num_cpu"`
	MemAlloc     uint64 `json:"mem_alloc"`
	MemSys       uint64 `json:"mem_sys"`
	NumGC        uint32 `json:"num_gc"`
}

// HealthResponse 健康检查响应
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Uptime    string    `json:"uptime,omitempty"`
}

// ============================================================================
//                              HTTP 处理器
// ============================================================================

// handleHealth 没有 Host 或中继已关闭时报告 degraded
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	health := HealthResponse{
		Status:    "ok",
		Timestamp: time.Now(),
		Uptime:    time.Since(s.startTime).String(),
	}
	if s.config.Host == nil || (s.config.Relay != nil && s.config.Relay.Closed()) {
		health.Status = "degraded"
	}
	s.writeJSON(w, health)
}

func (s *Server) handleNode(w http.ResponseWriter, _ *http.Request) {
	h := s.config.Host
	if h == nil {
		http.Error(w, "Node info not available", http.StatusServiceUnavailable)
		return
	}

	info := NodeInfo{ID: h.ID().String()}
	for _, a := range h.Addrs() {
		info.Addresses = append(info.Addresses, a.String())
	}
	for _, p := range h.Protocols() {
		info.Protocols = append(info.Protocols, string(p))
	}
	s.writeJSON(w, info)
}

func (s *Server) handlePeers(w http.ResponseWriter, _ *http.Request) {
	if s.config.Host == nil {
		http.Error(w, "Peer info not available", http.StatusServiceUnavailable)
		return
	}

	peers := s.config.Host.Peers()
	out := make([]PeerInfo, 0, len(peers))
	for _, p := range peers {
		out = append(out, s.collectPeer(p))
	}
	s.writeJSON(w, out)
}

func (s *Server) handlePeer(w http.ResponseWriter, r *http.Request) {
	if s.config.Host == nil {
		http.Error(w, "Peer info not available", http.StatusServiceUnavailable)
		return
	}

	peer, err := types.ParsePeerID(chi.URLParam(r, "peer"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if len(s.config.Host.ConnsToPeer(peer)) == 0 {
		http.Error(w, "Peer not connected", http.StatusNotFound)
		return
	}
	s.writeJSON(w, s.collectPeer(peer))
}

func (s *Server) handleRuntime(w http.ResponseWriter, _ *http.Request) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	s.writeJSON(w, RuntimeInfo{
		GoVersion:    runtime.Version(),
		NumGoroutine: runtime.NumGoroutine(),
		NumCPU:       runtime.NumCPU(),
		MemAlloc:     memStats.Alloc,
		MemSys:       memStats.Sys,
		NumGC:        memStats.NumGC,
	})
}

func (s *Server) handleRelayStats(w http.ResponseWriter, _ *http.Request) {
	if s.config.Relay == nil {
		http.Error(w, "Relay not available", http.StatusServiceUnavailable)
		return
	}
	s.writeJSON(w, s.config.Relay.Stats())
}

func (s *Server) handleReservations(w http.ResponseWriter, _ *http.Request) {
	if s.config.Relay == nil {
		http.Error(w, "Relay not available", http.StatusServiceUnavailable)
		return
	}
	s.writeJSON(w, s.config.Relay.Reservations())
}

func (s *Server) handleCircuits(w http.ResponseWriter, _ *http.Request) {
	if s.config.Relay == nil {
		http.Error(w, "Relay not available", http.StatusServiceUnavailable)
		return
	}
	s.writeJSON(w, s.config.Relay.Circuits())
}

// ============================================================================
//                              辅助方法
// ============================================================================

func (s *Server) collectPeer(peer types.PeerID) PeerInfo {
	conns := s.config.Host.ConnsToPeer(peer)
	info := PeerInfo{
		ID:          peer.String(),
		Addresses:   make([]string, 0, len(conns)),
		Connections: len(conns),
	}
	for _, c := range conns {
		if addr := c.RemoteMultiaddr(); addr != nil {
			info.Addresses = append(info.Addresses, addr.String())
		}
	}
	if s.config.Peers != nil {
		if id, ok := s.config.Peers.Lookup(peer); ok {
			info.Identify = id
		}
	}
	return info
}

// writeJSON 写入 JSON 响应
func (s *Server) writeJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Content-Type-Options", "nosniff")

	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(data); err != nil {
		log.Error("JSON 编码失败", "error", err)
	}
}
