package server

import (
	"net/http"

	"wtcore/internal/gateway/handler"
	"wtcore/internal/gateway/handler/rpc"
	"wtcore/internal/gateway/middleware"
)

func NewMux(
	sessionHandler *handler.SessionHandler,
	sessionService *rpc.SessionHandler,
	debugHandler *handler.DebugHandler,
	metrics http.Handler,
) http.Handler {
	mux := http.NewServeMux()

	// Page and runtime endpoints
	mux.HandleFunc("/", sessionHandler.HandlePage)
	mux.HandleFunc("/event", sessionHandler.HandleEvent)
	mux.HandleFunc("/poll", sessionHandler.HandlePoll)
	mux.HandleFunc("/ws", sessionHandler.HandleWS)
	mux.HandleFunc("/nojs", sessionHandler.HandleForm)
	mux.HandleFunc("/wt.js", sessionHandler.HandleRuntime)

	// RPC Handlers
	mux.Handle(rpc.NewSessionServiceHandler(sessionService))

	// Debug Handlers
	mux.HandleFunc("/debug/sessions", debugHandler.HandleSessions)
	mux.HandleFunc("/debug/render-logs", debugHandler.HandleRenderLogs)
	mux.HandleFunc("/debug/snapshot", debugHandler.HandleSnapshot)
	if metrics != nil {
		mux.Handle("/metrics", metrics)
	}

	// Middleware
	return middleware.CORS(mux)
}
