// Match and chat-list HTTP handlers.
//
// This file exposes:
//   - GET  /matches/pending         (pending match requests)
//   - POST /matches/{id}/accept     (pending -> matched, starts the real chat)
//   - POST /matches/{id}/decline    (pending -> declined)
//   - GET  /chats                   (active chats, most recent first)
//   - GET  /chats/ongoing           (AI-only conversations)
//   - GET  /chats/current           (counterpart last opened)
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// PendingMatches godoc
// @ID          pendingMatches
// @Summary     List pending match requests
// @Tags        Matches
// @Produce     json
// @Success     200  {object}  handlers.MatchesResponse
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /matches/pending [get]
func (h *Handlers) PendingMatches(c *gin.Context) {
	list, err := h.svc.Pending(c.Request.Context())
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, MatchesResponse{Matches: nonNil(list)})
}

// AcceptMatch godoc
// @ID          acceptMatch
// @Summary     Accept a match request
// @Description Moves a pending record to matched and switches the conversation to the real person.
// @Tags        Matches
// @Produce     json
// @Param       Idempotency-Key  header  string  false  "Key for safe retries"
// @Param       id               path    string  true   "Match id"  example(match_2_1715365800000)
// @Success     200  {object}  domain.Match
// @Failure     404  {object}  handlers.ErrorResponse  "Match not found"
// @Failure     409  {object}  handlers.ErrorResponse  "Not pending"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /matches/{id}/accept [post]
func (h *Handlers) AcceptMatch(c *gin.Context) {
	m, err := h.svc.AcceptMatch(c.Request.Context(), c.Param("id"))
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, m)
}

// DeclineMatch godoc
// @ID          declineMatch
// @Summary     Decline a match request
// @Tags        Matches
// @Produce     json
// @Param       Idempotency-Key  header  string  false  "Key for safe retries"
// @Param       id               path    string  true   "Match id"  example(match_2_1715365800000)
// @Success     200  {object}  domain.Match
// @Failure     404  {object}  handlers.ErrorResponse  "Match not found"
// @Failure     409  {object}  handlers.ErrorResponse  "Not pending"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /matches/{id}/decline [post]
func (h *Handlers) DeclineMatch(c *gin.Context) {
	m, err := h.svc.DeclineMatch(c.Request.Context(), c.Param("id"))
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, m)
}

// ActiveChats godoc
// @ID          activeChats
// @Summary     List active chats
// @Description Matched counterparts plus real-chat conversations without a match record, most recent activity first.
// @Tags        Chats
// @Produce     json
// @Success     200  {object}  handlers.MatchesResponse
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /chats [get]
func (h *Handlers) ActiveChats(c *gin.Context) {
	list, err := h.svc.Active(c.Request.Context())
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, MatchesResponse{Matches: nonNil(list)})
}

// OngoingChats godoc
// @ID          ongoingChats
// @Summary     List ongoing AI conversations
// @Description Meaningful conversations with AI personas that have no match record and are not real yet.
// @Tags        Chats
// @Produce     json
// @Success     200  {object}  handlers.OngoingChatsResponse
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /chats/ongoing [get]
func (h *Handlers) OngoingChats(c *gin.Context) {
	list, err := h.svc.OngoingAI(c.Request.Context())
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, OngoingChatsResponse{Chats: nonNil(list)})
}

// CurrentChat godoc
// @ID          currentChat
// @Summary     Counterpart last opened
// @Tags        Chats
// @Produce     json
// @Success     200  {object}  handlers.CurrentChatResponse
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /chats/current [get]
func (h *Handlers) CurrentChat(c *gin.Context) {
	p, found, err := h.svc.CurrentChat(c.Request.Context())
	if err != nil {
		failErr(c, err)
		return
	}
	var resp CurrentChatResponse
	if found {
		resp.Profile = &p
	}
	ok(c, http.StatusOK, resp)
}
