package api

import (
	"context"
	"encoding/json"
	stdErrors "errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"ZKAttest-Chain/internal/observability/metrics"
	"ZKAttest-Chain/internal/session"
	"ZKAttest-Chain/internal/workflow"
)

// Server 负责暴露 REST 接口，供外部提交与观察见证会话。
type Server struct {
	addr    string
	service *workflow.Service
}

// NewServer 构造 API 服务实例。
func NewServer(addr string, service *workflow.Service) *Server {
	return &Server{addr: addr, service: service}
}

// Start 启动 HTTP 服务，直到上下文取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/sessions", observe("sessions", s.handleSessions))
	mux.HandleFunc("/api/v1/sessions/", observe("session_detail", s.handleSessionSubpath))

	server := &http.Server{
		Addr:              s.addr,
		Handler:           withContext(ctx, mux),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !stdErrors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handleCreateSession(w, r)
	case http.MethodGet:
		s.handleListSessions(w, r)
	default:
		http.Error(w, "仅支持 GET/POST", http.StatusMethodNotAllowed)
	}
}

// handleCreateSession 处理提交见证会话的请求。
func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	if s.service == nil {
		http.Error(w, "会话服务未初始化", http.StatusServiceUnavailable)
		return
	}

	var req workflow.SubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "请求体解析失败", http.StatusBadRequest)
		return
	}

	sess, err := s.service.Submit(r.Context(), req)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(sess)
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	if s.service == nil {
		http.Error(w, "会话服务未初始化", http.StatusServiceUnavailable)
		return
	}

	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	results, err := s.service.List(r.Context(), limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(results)
}

// handleSessionSubpath 分发 /api/v1/sessions/{id} 与
// /api/v1/sessions/{id}/events 两类路径。
func (s *Server) handleSessionSubpath(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/v1/sessions/")
	if rest == "" {
		http.Error(w, "缺少会话 ID", http.StatusBadRequest)
		return
	}
	if id, ok := strings.CutSuffix(rest, "/events"); ok {
		s.handleSessionEvents(w, r, id)
		return
	}
	s.handleSessionDetail(w, r, rest)
}

func (s *Server) handleSessionDetail(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodGet {
		http.Error(w, "仅支持 GET", http.StatusMethodNotAllowed)
		return
	}
	if s.service == nil {
		http.Error(w, "会话服务未初始化", http.StatusServiceUnavailable)
		return
	}
	if strings.Contains(id, "/") {
		http.Error(w, "会话 ID 非法", http.StatusBadRequest)
		return
	}

	sess, err := s.service.Get(r.Context(), id)
	if err != nil {
		if stdErrors.Is(err, session.ErrSessionNotFound) {
			http.Error(w, "会话不存在", http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(sess)
}

// handleSessionEvents 以 NDJSON 流式返回会话事件，直到会话终结或
// 客户端断开。已终结的会话返回一条由最终状态折算出的事件。
func (s *Server) handleSessionEvents(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodGet {
		http.Error(w, "仅支持 GET", http.StatusMethodNotAllowed)
		return
	}
	if s.service == nil {
		http.Error(w, "会话服务未初始化", http.StatusServiceUnavailable)
		return
	}

	stream, err := s.service.Subscribe(r.Context(), id)
	if err != nil {
		if stdErrors.Is(err, session.ErrSessionNotFound) {
			http.Error(w, "会话不存在", http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)
	flusher, _ := w.(http.Flusher)
	encoder := json.NewEncoder(w)

	if stream == nil {
		sess, err := s.service.Get(r.Context(), id)
		if err != nil {
			return
		}
		_ = encoder.Encode(terminalEvent(sess))
		if flusher != nil {
			flusher.Flush()
		}
		return
	}
	defer s.service.Unsubscribe(id, stream)

	for {
		select {
		case <-r.Context().Done():
			return
		case event, ok := <-stream.Events():
			if !ok {
				return
			}
			if err := encoder.Encode(event); err != nil {
				return
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
	}
}

// terminalEvent 将已终结会话的最终状态折算为单条事件。
func terminalEvent(sess *session.Session) session.Event {
	summary := sess.Summary
	event := session.Event{
		SessionID: sess.ID,
		At:        sess.UpdatedAt,
		Phase:     sess.Phase,
		Progress:  sess.ProgressPercent,
		Summary:   &summary,
	}
	if sess.Phase == session.PhaseErrored {
		event.Type = session.EventError
		event.Error = sess.Error
	} else {
		event.Type = session.EventComplete
	}
	return event
}

// observe 记录请求的耗时与状态码。
func observe(handler string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next(recorder, r)
		metrics.ObserveHTTPRequest(handler, r.Method, recorder.status, time.Since(start))
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Flush 透传底层 Flusher, 供事件流及时推送。
func (r *statusRecorder) Flush() {
	if flusher, ok := r.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

// withContext 确保请求处理能够感知根上下文取消。
func withContext(ctx context.Context, handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-ctx.Done():
			http.Error(w, "服务已关闭", http.StatusServiceUnavailable)
			return
		default:
		}
		handler.ServeHTTP(w, r)
	})
}
