package stub

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/mickgian/pratiko-chat/internal/apitypes"
)

type streamChatReq struct {
	Query         string   `json:"query" binding:"required"`
	AttachmentIDs []string `json:"attachment_ids"`
}

const cannedReply = "Grazie per la domanda. In base alla normativa fiscale italiana vigente, " +
	"la risposta dipende dal regime applicabile al tuo caso. Ti consiglio di verificare " +
	"i requisiti specifici e, in caso di dubbio, di consultare un professionista abilitato."

// StreamChat serves one chat turn over SSE. Admission is checked before
// any work: an exhausted window answers 429 with the structured limit
// payload instead of opening the stream.
func (s *Server) StreamChat(c *gin.Context) {
	sid, okk := sessionIDFromContext(c)
	if !okk {
		fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}

	var req streamChatReq
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}

	ctx := c.Request.Context()

	limitInfo, err := s.usage.Exceeded(ctx)
	if err != nil {
		fail(c, http.StatusInternalServerError, 50008, "failed to read usage")
		return
	}
	if limitInfo != nil {
		// Distinguished 429 contract: raw structured error, no envelope.
		c.JSON(http.StatusTooManyRequests, apitypes.StructuredError{
			Type:      apitypes.ErrTypeUsageLimitExceeded,
			MessageIT: "Hai raggiunto il limite di utilizzo del tuo piano.",
			LimitInfo: limitInfo,
			CanBypass: false,
		})
		return
	}

	if _, err := s.store.GetSession(ctx, sid); err != nil {
		fail(c, http.StatusNotFound, 40004, "session not found")
		return
	}

	if err := s.usage.AddCost(ctx, s.costPerTurn); err != nil {
		s.logger.Warn("failed to record usage cost", "session_id", sid, "error", err)
	}
	if s.costCounter != nil {
		s.costCounter.Add(ctx, s.costPerTurn)
	}

	userMsg := toStoredMessage(sid, &apitypes.Message{
		ID:        uuid.NewString(),
		Type:      apitypes.MessageTypeUser,
		Content:   req.Query,
		Timestamp: time.Now(),
	})
	if len(req.AttachmentIDs) > 0 {
		atts := make([]apitypes.Attachment, 0, len(req.AttachmentIDs))
		for _, id := range req.AttachmentIDs {
			atts = append(atts, apitypes.Attachment{ID: id})
		}
		if b, err := json.Marshal(atts); err == nil {
			userMsg.Attachments = string(b)
		}
	}
	if _, err := s.store.InsertMessage(ctx, userMsg); err != nil {
		fail(c, http.StatusInternalServerError, 50011, "failed to record message")
		return
	}
	_ = s.store.TouchSession(ctx, sid)

	// SSE headers
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	flusher, okk := c.Writer.(http.Flusher)
	if !okk {
		fmt.Fprintf(c.Writer, "event: error\ndata: {\"type\":\"error\",\"message\":\"flusher not supported\"}\n\n")
		return
	}

	writeJSON := func(event string, payload any) {
		b, err := json.Marshal(payload)
		if err != nil {
			fmt.Fprintf(c.Writer, "event: error\ndata: {\"type\":\"error\",\"message\":\"json marshal failed\"}\n\n")
			flusher.Flush()
			return
		}
		if event != "" {
			fmt.Fprintf(c.Writer, "event: %s\n", event)
		}
		fmt.Fprintf(c.Writer, "data: %s\n\n", string(b))
		flusher.Flush()
	}

	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	var reply strings.Builder
	words := strings.Fields(cannedReply)
	for i, w := range words {
		select {
		case <-ctx.Done():
			// Client went away; keep whatever was streamed so far.
			s.persistReply(sid, reply.String())
			return
		case <-ticker.C:
			writeJSON("ping", gin.H{"type": "ping", "ts": time.Now().Unix()})
		default:
		}

		delta := w
		if i < len(words)-1 {
			delta += " "
		}
		reply.WriteString(delta)
		writeJSON("chunk", gin.H{
			"type":  "chunk",
			"delta": delta,
		})
		time.Sleep(5 * time.Millisecond)
	}

	msgID := s.persistReply(sid, reply.String())
	writeJSON("done", gin.H{
		"type":       "done",
		"message_id": msgID,
	})
}

func (s *Server) persistReply(sessionID, content string) string {
	if content == "" {
		return ""
	}
	msg := &Message{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Type:      apitypes.MessageTypeAI,
		Content:   content,
		Timestamp: time.Now(),
	}
	// Persist survives request cancellation.
	if _, err := s.store.InsertMessage(context.Background(), msg); err != nil {
		s.logger.Warn("failed to persist reply", "session_id", sessionID, "error", err)
	}
	return msg.ID
}
