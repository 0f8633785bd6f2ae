package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/open-chat-labs/open-chat-sub002/internal/chat"
	"github.com/open-chat-labs/open-chat-sub002/internal/chatlog"
	"github.com/open-chat-labs/open-chat-sub002/internal/runtime"
)

type Server struct {
	rt  *runtime.Runtime
	log zerolog.Logger
	srv *http.Server
	lis net.Listener
}

func New(rt *runtime.Runtime, logger zerolog.Logger) *Server {
	mux := http.NewServeMux()
	s := &Server{rt: rt, log: logger.With().Str("component", "http").Logger(), srv: &http.Server{Handler: cors(mux)}}
	mux.HandleFunc("/v1/healthz", s.handleHealth)
	mux.HandleFunc("/v1/chats/create", s.handleChatCreate)
	mux.HandleFunc("/v1/chats/list", s.handleChatList)
	mux.HandleFunc("/v1/chats/join", s.handleJoin)
	mux.HandleFunc("/v1/chats/members/add", s.handleMembersAdd)
	mux.HandleFunc("/v1/chats/members/role", s.handleMembersRole)
	mux.HandleFunc("/v1/chats/members/remove", s.handleMembersRemove)
	mux.HandleFunc("/v1/messages/send", s.handleSend)
	mux.HandleFunc("/v1/messages/edit", s.handleEdit)
	mux.HandleFunc("/v1/messages/delete", s.handleDelete)
	mux.HandleFunc("/v1/messages/pin", s.handlePin)
	mux.HandleFunc("/v1/messages/unpin", s.handleUnpin)
	mux.HandleFunc("/v1/reactions/add", s.handleReactionAdd)
	mux.HandleFunc("/v1/reactions/remove", s.handleReactionRemove)
	mux.HandleFunc("/v1/events", s.handleEvents)
	mux.Handle("/metrics", promhttp.Handler())
	return s
}

func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.lis = l
	s.log.Info().Str("addr", l.Addr().String()).Msg("http listening")
	errCh := make(chan error, 1)
	go func() { errCh <- s.srv.Serve(l) }()
	select {
	case <-ctx.Done():
		cctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.srv.Shutdown(cctx)
		return nil
	case err := <-errCh:
		return err
	}
}

func (s *Server) Close() {
	if s.lis != nil {
		_ = s.lis.Close()
	}
}

func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// writeError maps domain errors onto HTTP statuses with a JSON body.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, chat.ErrUserNotInChat), errors.Is(err, chat.ErrNotAuthorized), errors.Is(err, chat.ErrUserSuspended):
		status = http.StatusForbidden
	case errors.Is(err, chat.ErrMessageNotFound), errors.Is(err, chat.ErrThreadMessageNotFound), errors.Is(err, runtime.ErrChatNotFound):
		status = http.StatusNotFound
	case errors.Is(err, chat.ErrInvalidRequest), errors.Is(err, chat.ErrMessageEmpty),
		errors.Is(err, chat.ErrTextTooLong), errors.Is(err, chat.ErrInvalidPoll),
		errors.Is(err, chat.ErrCannotForward), errors.Is(err, chat.ErrLastOwner):
		status = http.StatusBadRequest
	}
	if status == http.StatusInternalServerError {
		s.log.Error().Err(err).Msg("request failed")
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return false
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return false
	}
	return true
}

func nowMs() int64 { return time.Now().UnixMilli() }

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.rt.CheckHealth(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not_serving"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type chatCreateReq struct {
	ChatID         uuid.UUID `json:"chat_id"`
	Name           string    `json:"name"`
	Description    string    `json:"description"`
	CreatedBy      uuid.UUID `json:"created_by"`
	HistoryVisible *bool     `json:"history_visible,omitempty"`
}

func (s *Server) handleChatCreate(w http.ResponseWriter, r *http.Request) {
	var req chatCreateReq
	if !decodeBody(w, r, &req) {
		return
	}
	if req.ChatID == uuid.Nil {
		req.ChatID = uuid.New()
	}
	c, err := s.rt.CreateChat(r.Context(), req.ChatID, req.Name, req.Description, req.CreatedBy, req.HistoryVisible, nowMs())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"chat_id": c.ID()})
}

func (s *Server) handleChatList(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	chats, err := s.rt.ListChats()
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"chats": chats})
}

type joinReq struct {
	ChatID uuid.UUID `json:"chat_id"`
	UserID uuid.UUID `json:"user_id"`
}

func (s *Server) handleJoin(w http.ResponseWriter, r *http.Request) {
	var req joinReq
	if !decodeBody(w, r, &req) {
		return
	}
	c, err := s.rt.OpenChat(req.ChatID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	m, err := c.Join(r.Context(), req.UserID, nowMs())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"min_visible_event_index":   m.MinVisibleEventIndex,
		"min_visible_message_index": m.MinVisibleMessageIndex,
	})
}

type membersAddReq struct {
	ChatID  uuid.UUID   `json:"chat_id"`
	Caller  uuid.UUID   `json:"caller"`
	UserIDs []uuid.UUID `json:"user_ids"`
}

func (s *Server) handleMembersAdd(w http.ResponseWriter, r *http.Request) {
	var req membersAddReq
	if !decodeBody(w, r, &req) {
		return
	}
	c, err := s.rt.OpenChat(req.ChatID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if err := c.AddMembers(r.Context(), req.Caller, req.UserIDs, nowMs()); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type membersRoleReq struct {
	ChatID uuid.UUID `json:"chat_id"`
	Caller uuid.UUID `json:"caller"`
	Target uuid.UUID `json:"target"`
	Role   string    `json:"role"`
}

func (s *Server) handleMembersRole(w http.ResponseWriter, r *http.Request) {
	var req membersRoleReq
	if !decodeBody(w, r, &req) {
		return
	}
	role, err := chat.ParseRole(req.Role)
	if err != nil {
		s.writeError(w, err)
		return
	}
	c, err := s.rt.OpenChat(req.ChatID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if err := c.ChangeRole(r.Context(), req.Caller, req.Target, role, nowMs()); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type membersRemoveReq struct {
	ChatID uuid.UUID `json:"chat_id"`
	Caller uuid.UUID `json:"caller"`
	Target uuid.UUID `json:"target"`
}

func (s *Server) handleMembersRemove(w http.ResponseWriter, r *http.Request) {
	var req membersRemoveReq
	if !decodeBody(w, r, &req) {
		return
	}
	c, err := s.rt.OpenChat(req.ChatID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if err := c.RemoveMember(r.Context(), req.Caller, req.Target, nowMs()); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type sendReq struct {
	ChatID      uuid.UUID             `json:"chat_id"`
	Sender      uuid.UUID             `json:"sender"`
	ThreadRoot  *chatlog.MessageIndex `json:"thread_root,omitempty"`
	MessageID   uuid.UUID             `json:"message_id"`
	ContentKind string                `json:"content_kind"`
	Content     json.RawMessage       `json:"content"`
	RepliesTo   *chatlog.ReplyContext `json:"replies_to,omitempty"`
	Mentioned   []uuid.UUID           `json:"mentioned,omitempty"`
	Forwarded   bool                  `json:"forwarded,omitempty"`
	ExpiresMs   int64                 `json:"expires_ms,omitempty"`
}

func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	var req sendReq
	if !decodeBody(w, r, &req) {
		return
	}
	content, err := chatlog.DecodeContent(req.ContentKind, req.Content)
	if err != nil {
		s.writeError(w, err)
		return
	}
	c, err := s.rt.OpenChat(req.ChatID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	res, err := c.SendMessage(r.Context(), chat.SendArgs{
		Sender:     req.Sender,
		ThreadRoot: req.ThreadRoot,
		MessageID:  req.MessageID,
		Content:    content,
		RepliesTo:  req.RepliesTo,
		Mentioned:  req.Mentioned,
		Forwarded:  req.Forwarded,
		Now:        nowMs(),
		Expires:    req.ExpiresMs,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	status := http.StatusCreated
	if res.Duplicate {
		status = http.StatusOK
	}
	writeJSON(w, status, map[string]any{
		"event_index":   res.EventIndex,
		"message_index": res.MessageIndex,
		"timestamp":     res.Timestamp,
		"duplicate":     res.Duplicate,
		"recipients":    res.Recipients,
	})
}

type editReq struct {
	ChatID       uuid.UUID             `json:"chat_id"`
	Caller       uuid.UUID             `json:"caller"`
	ThreadRoot   *chatlog.MessageIndex `json:"thread_root,omitempty"`
	MessageIndex chatlog.MessageIndex  `json:"message_index"`
	ContentKind  string                `json:"content_kind"`
	Content      json.RawMessage       `json:"content"`
}

func (s *Server) handleEdit(w http.ResponseWriter, r *http.Request) {
	var req editReq
	if !decodeBody(w, r, &req) {
		return
	}
	content, err := chatlog.DecodeContent(req.ContentKind, req.Content)
	if err != nil {
		s.writeError(w, err)
		return
	}
	c, err := s.rt.OpenChat(req.ChatID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if err := c.EditMessage(r.Context(), req.Caller, req.ThreadRoot, req.MessageIndex, content, nowMs()); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type messageTargetReq struct {
	ChatID       uuid.UUID             `json:"chat_id"`
	Caller       uuid.UUID             `json:"caller"`
	ThreadRoot   *chatlog.MessageIndex `json:"thread_root,omitempty"`
	MessageIndex chatlog.MessageIndex  `json:"message_index"`
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	var req messageTargetReq
	if !decodeBody(w, r, &req) {
		return
	}
	c, err := s.rt.OpenChat(req.ChatID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if err := c.DeleteMessage(r.Context(), req.Caller, req.ThreadRoot, req.MessageIndex, nowMs()); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handlePin(w http.ResponseWriter, r *http.Request)   { s.pinOp(w, r, true) }
func (s *Server) handleUnpin(w http.ResponseWriter, r *http.Request) { s.pinOp(w, r, false) }

func (s *Server) pinOp(w http.ResponseWriter, r *http.Request, pin bool) {
	var req messageTargetReq
	if !decodeBody(w, r, &req) {
		return
	}
	c, err := s.rt.OpenChat(req.ChatID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	var idx chatlog.EventIndex
	if pin {
		idx, err = c.PinMessage(r.Context(), req.Caller, req.MessageIndex, nowMs())
	} else {
		idx, err = c.UnpinMessage(r.Context(), req.Caller, req.MessageIndex, nowMs())
	}
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"event_index": idx})
}

type reactionReq struct {
	ChatID       uuid.UUID             `json:"chat_id"`
	Caller       uuid.UUID             `json:"caller"`
	ThreadRoot   *chatlog.MessageIndex `json:"thread_root,omitempty"`
	MessageIndex chatlog.MessageIndex  `json:"message_index"`
	Emoji        string                `json:"emoji"`
}

func (s *Server) handleReactionAdd(w http.ResponseWriter, r *http.Request) {
	s.reactionOp(w, r, true)
}

func (s *Server) handleReactionRemove(w http.ResponseWriter, r *http.Request) {
	s.reactionOp(w, r, false)
}

func (s *Server) reactionOp(w http.ResponseWriter, r *http.Request, add bool) {
	var req reactionReq
	if !decodeBody(w, r, &req) {
		return
	}
	c, err := s.rt.OpenChat(req.ChatID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	var res *chat.ReactionResult
	if add {
		res, err = c.AddReaction(r.Context(), req.Caller, req.ThreadRoot, req.MessageIndex, req.Emoji, nowMs())
	} else {
		res, err = c.RemoveReaction(r.Context(), req.Caller, req.ThreadRoot, req.MessageIndex, req.Emoji, nowMs())
	}
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"changed": res.Changed, "reactions": res.Reactions})
}

// handleEvents reads a range of events. Query params: chat_id, user_id,
// thread_root (optional), from, to (optional, defaults to the full visible
// range), order=asc|desc, filter (optional CEL expression), limit.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	q := r.URL.Query()
	chatID, err := uuid.Parse(q.Get("chat_id"))
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	userID, err := uuid.Parse(q.Get("user_id"))
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	c, err := s.rt.OpenChat(chatID)
	if err != nil {
		s.writeError(w, err)
		return
	}

	var root *chatlog.MessageIndex
	if v := q.Get("thread_root"); v != "" {
		n, err := strconv.ParseUint(v, 10, 32)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		mi := chatlog.MessageIndex(n)
		root = &mi
	}
	lo := chatlog.MinEventIndex
	hi := chatlog.EventIndex(math.MaxUint32) // Range clamps to the scope's latest
	if v := q.Get("from"); v != "" {
		n, err := strconv.ParseUint(v, 10, 32)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		lo = chatlog.EventIndex(n)
	}
	if v := q.Get("to"); v != "" {
		n, err := strconv.ParseUint(v, 10, 32)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		hi = chatlog.EventIndex(n)
	}
	limit := 100
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		limit = n
	}
	filter, err := chatlog.NewFilter(q.Get("filter"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	newestFirst := q.Get("order") == "desc"

	it, err := c.Events(userID, root, lo, hi)
	if err != nil {
		s.writeError(w, err)
		return
	}
	now := nowMs()
	events := make([]chatlog.Event, 0, limit)
	for len(events) < limit {
		var (
			ev chatlog.Event
			ok bool
		)
		if newestFirst {
			ev, ok, err = it.NextBack()
		} else {
			ev, ok, err = it.Next()
		}
		if err != nil {
			s.writeError(w, err)
			return
		}
		if !ok {
			break
		}
		if ev.Expired(now) || !filter.Eval(ev) {
			continue
		}
		events = append(events, ev)
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}
