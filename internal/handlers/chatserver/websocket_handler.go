package chatserver

import (
	"log"
	"net/http"

	"edchat/internal/config"
	"edchat/internal/dispatch"
	"edchat/internal/protocol"
	"edchat/internal/registry"
	ws "edchat/internal/websocket"
)

// WebSocketHandler 负责处理 WebSocket 连接请求。
type WebSocketHandler struct {
	dispatcher *dispatch.Dispatcher
	registry   *registry.Registry
	cfg        config.Config
}

// NewWebSocketHandler 创建一个新的 WebSocketHandler 实例。
func NewWebSocketHandler(dispatcher *dispatch.Dispatcher, reg *registry.Registry, cfg config.Config) *WebSocketHandler {
	return &WebSocketHandler{dispatcher: dispatcher, registry: reg, cfg: cfg}
}

// ServeWS 将 HTTP 连接升级为 WebSocket 连接并启动读写泵。
// 客户端可以用 token 查询参数在连接建立时直接完成认证，
// 也可以在升级后发送 auth 帧；两条路径都会走完整的校验。
func (h *WebSocketHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	client, err := ws.ServeConnection(h.dispatcher, w, r, h.cfg.WebSocket)
	if err != nil {
		log.Printf("WebSocket 升级失败: %v", err)
		return
	}

	if token := r.URL.Query().Get("token"); token != "" {
		if _, err := h.registry.Authenticate(r.Context(), client, token); err != nil {
			// 保持连接打开：客户端仍可通过 auth 帧用新令牌重试。
			log.Printf("连接时令牌认证失败 (套接字 %s): %v", client.ID(), err)
			if err := client.Enqueue(protocol.NewError("Authentication failed: invalid token")); err != nil {
				log.Printf("认证失败通知发送失败 (套接字 %s): %v", client.ID(), err)
			}
		}
	}
}

// Healthz 是存活探针。
func Healthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}
