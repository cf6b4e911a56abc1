package stub

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/mickgian/pratiko-chat/internal/apitypes"
)

func ok(c *gin.Context, data any) {
	c.JSON(http.StatusOK, gin.H{
		"code":    0,
		"message": "ok",
		"data":    data,
	})
}

func fail(c *gin.Context, httpStatus int, code int, msg string) {
	c.JSON(httpStatus, gin.H{
		"code":    code,
		"message": msg,
		"data":    nil,
	})
}

// Server is the QA backend: real wire contracts, canned AI replies.
type Server struct {
	store  *Store
	usage  *UsageStore
	secret string
	logger *slog.Logger
	// costPerTurn is the flat spend attributed to each streamed turn.
	costPerTurn float64
	costCounter metric.Float64Counter
}

func NewServer(store *Store, usage *UsageStore, secret string, logger *slog.Logger) *Server {
	costCounter, err := otel.Meter("pratiko-chat-stub").Float64Counter(
		"chat.stream.cost_eur",
		metric.WithDescription("EUR cost attributed to streamed turns"),
	)
	if err != nil {
		costCounter = nil
	}
	return &Server{
		store:       store,
		usage:       usage,
		secret:      secret,
		logger:      logger,
		costPerTurn: 0.05,
		costCounter: costCounter,
	}
}

func (s *Server) toAPISession(c *gin.Context, sess *Session, withToken bool) apitypes.Session {
	out := apitypes.Session{
		ID:        sess.ID,
		Name:      sess.Name,
		CreatedAt: sess.CreatedAt,
		UpdatedAt: sess.UpdatedAt,
	}
	if n, err := s.store.CountMessages(c.Request.Context(), sess.ID); err == nil {
		out.MessageCount = n
	}
	if withToken {
		if tok, err := SignSessionToken(s.secret, sess.ID); err == nil {
			out.Token = tok
		}
	}
	return out
}

func toAPIMessage(m *Message) apitypes.Message {
	out := apitypes.Message{
		ID:        m.ID,
		Type:      m.Type,
		Content:   m.Content,
		Timestamp: m.Timestamp,
	}
	if m.Attachments != "" {
		_ = json.Unmarshal([]byte(m.Attachments), &out.Attachments)
	}
	return out
}

func toStoredMessage(sessionID string, m *apitypes.Message) *Message {
	out := &Message{
		ID:        m.ID,
		SessionID: sessionID,
		Type:      m.Type,
		Content:   m.Content,
		Timestamp: m.Timestamp,
	}
	if len(m.Attachments) > 0 {
		if b, err := json.Marshal(m.Attachments); err == nil {
			out.Attachments = string(b)
		}
	}
	return out
}

type createSessionReq struct {
	Name string `json:"name"`
}

func (s *Server) CreateSession(c *gin.Context) {
	var req createSessionReq
	_ = c.ShouldBindJSON(&req) // allow empty {}
	if req.Name == "" {
		req.Name = "Nuova conversazione"
	}

	now := time.Now()
	sess := &Session{
		ID:        NewSessionID(),
		Name:      req.Name,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.CreateSession(c.Request.Context(), sess); err != nil {
		fail(c, http.StatusInternalServerError, 50001, "failed to create session")
		return
	}
	ok(c, s.toAPISession(c, sess, true))
}

func (s *Server) ListSessions(c *gin.Context) {
	sessions, err := s.store.ListSessions(c.Request.Context())
	if err != nil {
		fail(c, http.StatusInternalServerError, 50002, "failed to list sessions")
		return
	}
	out := make([]apitypes.Session, 0, len(sessions))
	for i := range sessions {
		out = append(out, s.toAPISession(c, &sessions[i], true))
	}
	ok(c, gin.H{"sessions": out})
}

// authorizedSession resolves the :id parameter and checks it against the
// bearer token's session id.
func (s *Server) authorizedSession(c *gin.Context) (string, bool) {
	sid, okk := sessionIDFromContext(c)
	if !okk {
		fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return "", false
	}
	id := c.Param("id")
	if id != sid {
		fail(c, http.StatusForbidden, 40301, "token does not match session")
		return "", false
	}
	return id, true
}

type renameSessionReq struct {
	Name string `json:"name" binding:"required"`
}

func (s *Server) RenameSession(c *gin.Context) {
	id, okk := s.authorizedSession(c)
	if !okk {
		return
	}
	var req renameSessionReq
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}
	if err := s.store.RenameSession(c.Request.Context(), id, req.Name); err != nil {
		fail(c, http.StatusInternalServerError, 50003, "failed to rename session")
		return
	}
	ok(c, nil)
}

func (s *Server) TouchSession(c *gin.Context) {
	id, okk := s.authorizedSession(c)
	if !okk {
		return
	}
	if err := s.store.TouchSession(c.Request.Context(), id); err != nil {
		fail(c, http.StatusInternalServerError, 50004, "failed to touch session")
		return
	}
	ok(c, nil)
}

func (s *Server) DeleteSession(c *gin.Context) {
	id, okk := s.authorizedSession(c)
	if !okk {
		return
	}
	if err := s.store.DeleteSession(c.Request.Context(), id); err != nil {
		fail(c, http.StatusInternalServerError, 50005, "failed to delete session")
		return
	}
	ok(c, nil)
}

func (s *Server) ListMessages(c *gin.Context) {
	id, okk := s.authorizedSession(c)
	if !okk {
		return
	}
	if _, err := s.store.GetSession(c.Request.Context(), id); err != nil {
		fail(c, http.StatusNotFound, 40004, "session not found")
		return
	}
	msgs, err := s.store.MessagesBySession(c.Request.Context(), id)
	if err != nil {
		fail(c, http.StatusInternalServerError, 50006, "failed to list messages")
		return
	}
	out := make([]apitypes.Message, 0, len(msgs))
	for i := range msgs {
		out = append(out, toAPIMessage(&msgs[i]))
	}
	ok(c, gin.H{"messages": out})
}

type importMessagesReq struct {
	Messages []apitypes.Message `json:"messages" binding:"required"`
}

// ImportMessages ingests client-side history. Deduplication is by
// message id, so replaying an import changes nothing.
func (s *Server) ImportMessages(c *gin.Context) {
	id, okk := s.authorizedSession(c)
	if !okk {
		return
	}
	var req importMessagesReq
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}

	imported := 0
	for i := range req.Messages {
		created, err := s.store.InsertMessage(c.Request.Context(), toStoredMessage(id, &req.Messages[i]))
		if err != nil {
			fail(c, http.StatusInternalServerError, 50007, "failed to import messages")
			return
		}
		if created {
			imported++
		}
	}
	s.logger.Info("history import", "session_id", id, "received", len(req.Messages), "imported", imported)
	ok(c, gin.H{"imported": imported})
}

func (s *Server) UsageStatus(c *gin.Context) {
	status, err := s.usage.Status(c.Request.Context())
	if err != nil {
		fail(c, http.StatusInternalServerError, 50008, "failed to read usage")
		return
	}
	ok(c, status)
}

type simulateUsageReq struct {
	WindowType       string  `json:"window_type" binding:"required"`
	TargetPercentage float64 `json:"target_percentage"`
}

func (s *Server) SimulateUsage(c *gin.Context) {
	var req simulateUsageReq
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}
	if req.WindowType != apitypes.Window5h && req.WindowType != apitypes.Window7d {
		fail(c, http.StatusBadRequest, 10002, "unknown window type")
		return
	}
	if err := s.usage.Simulate(c.Request.Context(), req.WindowType, req.TargetPercentage); err != nil {
		fail(c, http.StatusInternalServerError, 50009, "failed to simulate usage")
		return
	}
	ok(c, nil)
}

func (s *Server) ResetUsage(c *gin.Context) {
	if err := s.usage.Reset(c.Request.Context()); err != nil {
		fail(c, http.StatusInternalServerError, 50010, "failed to reset usage")
		return
	}
	ok(c, nil)
}

// UploadDocument accepts a multipart file and hands back the opaque
// attachment id later chat requests reference. The stub keeps no bytes;
// only the metadata matters to the client flow.
func (s *Server) UploadDocument(c *gin.Context) {
	file, err := c.FormFile("document")
	if err != nil {
		fail(c, http.StatusBadRequest, 10004, "missing document field")
		return
	}
	ok(c, apitypes.Attachment{
		ID:       uuid.NewString(),
		Filename: file.Filename,
		Size:     file.Size,
		Type:     file.Header.Get("Content-Type"),
	})
}
