// Counterpart HTTP handlers.
//
// This file exposes the per-counterpart conversation endpoints:
//   - POST   /counterparts/{id}/open            (open chat, greet once)
//   - GET    /counterparts/{id}/messages        (transcript page, weak ETag)
//   - POST   /counterparts/{id}/messages        (send, AI reply when not real)
//   - POST   /counterparts/{id}/match-requests  (pending match request)
//   - POST   /counterparts/{id}/real-chat       (switch to the real person)
//   - POST   /counterparts/{id}/autopilot       (simulate and store a conversation)
//   - DELETE /counterparts/{id}                 (forget the conversation)
//
// POST endpoints accept an Idempotency-Key; replays are served by the
// idempotency middleware before these handlers run.
package handlers

import (
	"fmt"
	"net/http"
	"regexp"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-auras-backend/internal/domain"
	"github.com/tbourn/go-auras-backend/internal/utils"
)

var nlCollapseRE = regexp.MustCompile(`\n{3,}`)

// sanitizeContent normalizes line endings to LF, collapses runs of three or
// more newlines to a paragraph break, and trims the result.
func sanitizeContent(raw string) string {
	s := strings.ReplaceAll(raw, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	s = nlCollapseRE.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}

// transcriptETag changes whenever a message is appended or the chat is reset.
func transcriptETag(counterpartID string, msgs []domain.ChatMessage) string {
	var last int64
	if n := len(msgs); n > 0 {
		last = msgs[n-1].Timestamp.UnixMilli()
	}
	return fmt.Sprintf(`W/"messages:%s:%d:%d"`, counterpartID, len(msgs), last)
}

// OpenChat godoc
// @ID          openChat
// @Summary     Open a chat with a counterpart
// @Description Marks the counterpart as the current chat and, for a fresh AI conversation, stores the persona's greeting.
// @Tags        Counterparts
// @Produce     json
// @Param       X-User-ID    header  string  false  "Viewer id (demo header)"  example(user123)
// @Param       X-User-Name  header  string  false  "Viewer display name"      example(Jamie)
// @Param       id           path    string  true   "Counterpart id"           example(2)
// @Success     200  {object}  services.OpenedChat
// @Failure     404  {object}  handlers.ErrorResponse  "Profile not found"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /counterparts/{id}/open [post]
func (h *Handlers) OpenChat(c *gin.Context) {
	opened, err := h.svc.OpenChat(c.Request.Context(), viewer(c), c.Param("id"))
	if err != nil {
		failErr(c, err)
		return
	}
	opened.Messages = nonNil(opened.Messages)
	ok(c, http.StatusOK, opened)
}

// ListMessages godoc
// @ID          listMessages
// @Summary     Read a transcript
// @Description Returns a page of the conversation with the counterpart in append order. Supports weak ETag via If-None-Match.
// @Tags        Counterparts
// @Produce     json
// @Param       id             path    string  true   "Counterpart id"              example(2)
// @Param       If-None-Match  header  string  false  "Return 304 if ETag matches"
// @Param       page           query   int     false  "Page number"                 minimum(1) default(1)
// @Param       page_size      query   int     false  "Items per page"              minimum(1) maximum(200) default(50)
// @Success     200  {object}  handlers.ListMessagesResponse
// @Header      200  {string}  ETag  "Weak ETag for the whole transcript"
// @Success     304  {string}  string  "Not Modified"
// @Failure     404  {object}  handlers.ErrorResponse  "Profile not found"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /counterparts/{id}/messages [get]
func (h *Handlers) ListMessages(c *gin.Context) {
	id := c.Param("id")
	msgs, err := h.svc.Transcript(c.Request.Context(), id)
	if err != nil {
		failErr(c, err)
		return
	}

	etag := transcriptETag(id, msgs)
	c.Header("ETag", etag)
	if inm := c.GetHeader("If-None-Match"); inm != "" && inm == etag {
		c.Status(http.StatusNotModified)
		return
	}

	page, pageSize := clampPagination(c)
	ok(c, http.StatusOK, ListMessagesResponse{
		Messages:   utils.Paginate(msgs, page, pageSize),
		Pagination: newPagination(page, pageSize, len(msgs)),
	})
}

// PostMessage godoc
// @ID          postMessage
// @Summary     Send a message
// @Description Appends the viewer's message. While the conversation is with the AI persona, the persona's reply is appended and returned too.
// @Tags        Counterparts
// @Accept      json
// @Produce     json
// @Param       X-User-ID        header  string  false  "Viewer id (demo header)"  example(user123)
// @Param       X-User-Name      header  string  false  "Viewer display name"      example(Jamie)
// @Param       Idempotency-Key  header  string  false  "Key for safe retries"     example(7a8d9f4c-1b2a-4c3d-8e9f-0123456789ab)
// @Param       id               path    string  true   "Counterpart id"           example(2)
// @Param       body             body    handlers.SendMessageRequest  true  "Message"
// @Success     201  {object}  services.SentMessage
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     404  {object}  handlers.ErrorResponse  "Profile not found"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /counterparts/{id}/messages [post]
func (h *Handlers) PostMessage(c *gin.Context) {
	var req SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "text required")
		return
	}
	sent, err := h.svc.SendMessage(c.Request.Context(), viewer(c), c.Param("id"), sanitizeContent(req.Text))
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusCreated, sent)
}

// RequestMatch godoc
// @ID          requestMatch
// @Summary     Request a match
// @Description Creates or refreshes the pending match record for the counterpart with a transcript snapshot.
// @Tags        Counterparts
// @Produce     json
// @Param       Idempotency-Key  header  string  false  "Key for safe retries"
// @Param       id               path    string  true   "Counterpart id"  example(2)
// @Success     201  {object}  domain.Match
// @Failure     404  {object}  handlers.ErrorResponse  "Profile not found"
// @Failure     409  {object}  handlers.ErrorResponse  "Already matched"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /counterparts/{id}/match-requests [post]
func (h *Handlers) RequestMatch(c *gin.Context) {
	m, err := h.svc.RequestMatch(c.Request.Context(), c.Param("id"))
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusCreated, m)
}

// StartRealChat godoc
// @ID          startRealChat
// @Summary     Switch to the real person
// @Description Flags the conversation as real and appends a separator. Calling it again is a no-op reporting started=false.
// @Tags        Counterparts
// @Produce     json
// @Param       id  path  string  true  "Counterpart id"  example(2)
// @Success     200  {object}  handlers.RealChatResponse
// @Failure     404  {object}  handlers.ErrorResponse  "Profile not found"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /counterparts/{id}/real-chat [post]
func (h *Handlers) StartRealChat(c *gin.Context) {
	started, err := h.svc.StartRealChat(c.Request.Context(), c.Param("id"))
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, RealChatResponse{Started: started})
}

// RunAutopilot godoc
// @ID          runAutopilot
// @Summary     Run autopilot
// @Description Simulates a conversation between the viewer and the counterpart, stores it, and creates a pending match when the verdict is positive.
// @Tags        Counterparts
// @Produce     json
// @Param       X-User-Name      header  string  false  "Viewer display name"   example(Jamie)
// @Param       Idempotency-Key  header  string  false  "Key for safe retries"
// @Param       id               path    string  true   "Counterpart id"        example(2)
// @Success     200  {object}  services.AutopilotOutcome
// @Failure     404  {object}  handlers.ErrorResponse  "Profile not found"
// @Failure     409  {object}  handlers.ErrorResponse  "Conversation is real"
// @Failure     429  {object}  handlers.ErrorResponse  "Rate limited"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /counterparts/{id}/autopilot [post]
func (h *Handlers) RunAutopilot(c *gin.Context) {
	out, err := h.svc.RunAutopilot(c.Request.Context(), viewer(c), c.Param("id"))
	if err != nil {
		failErr(c, err)
		return
	}
	out.Result.Messages = nonNil(out.Result.Messages)
	ok(c, http.StatusOK, out)
}

// DeleteChat godoc
// @ID          deleteChat
// @Summary     Delete a conversation
// @Description Removes the transcript, the real-chat flag and any match record for the counterpart.
// @Tags        Counterparts
// @Param       id  path  string  true  "Counterpart id"  example(2)
// @Success     204  {string}  string  "No Content"
// @Failure     404  {object}  handlers.ErrorResponse  "Nothing stored for the counterpart"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /counterparts/{id} [delete]
func (h *Handlers) DeleteChat(c *gin.Context) {
	if err := h.svc.DeleteChat(c.Request.Context(), c.Param("id")); err != nil {
		failErr(c, err)
		return
	}
	noContent(c)
}
