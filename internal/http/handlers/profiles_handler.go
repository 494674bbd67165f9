// Profile and preference HTTP handlers.
//
// This file exposes:
//   - GET /profiles            (browsable candidates)
//   - GET /profiles/search     (ranked browsable candidates)
//   - GET /preferences         (saved filters or defaults)
//   - PUT /preferences         (overwrite filters)
package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-auras-backend/internal/domain"
	"github.com/tbourn/go-auras-backend/internal/utils"
)

// nonNil keeps empty lists serialized as [] rather than null.
func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

// BrowseProfiles godoc
// @ID          browseProfiles
// @Summary     List browsable counterparts
// @Description Returns catalog profiles the user has not interacted with yet, filtered by the saved preferences.
// @Tags        Profiles
// @Produce     json
// @Param       X-User-ID  header  string  false  "Viewer id (demo header)"  example(user123)
// @Success     200  {object}  handlers.ProfilesResponse
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /profiles [get]
func (h *Handlers) BrowseProfiles(c *gin.Context) {
	list, err := h.svc.Browse(c.Request.Context())
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, ProfilesResponse{Profiles: nonNil(list)})
}

// SearchProfiles godoc
// @ID          searchProfiles
// @Summary     Search browsable counterparts
// @Description Ranks browsable profiles by keyword overlap with bio and interests. A blank query lists all candidates unranked.
// @Tags        Profiles
// @Produce     json
// @Param       q  query  string  false  "Free-text query"       example(jazz cooking)
// @Param       k  query  int     false  "Maximum results"       minimum(1) maximum(50) default(10)
// @Success     200  {object}  handlers.SearchResponse
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /profiles/search [get]
func (h *Handlers) SearchProfiles(c *gin.Context) {
	q := strings.TrimSpace(c.Query("q"))
	k := utils.AtoiDefault(c.Query("k"), 10)
	if k < 1 {
		k = 1
	}
	if k > 50 {
		k = 50
	}
	hits, err := h.svc.SearchProfiles(c.Request.Context(), q, k)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, SearchResponse{Query: q, Results: nonNil(hits)})
}

// GetPreferences godoc
// @ID          getPreferences
// @Summary     Read browse preferences
// @Tags        Preferences
// @Produce     json
// @Success     200  {object}  domain.Preferences
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /preferences [get]
func (h *Handlers) GetPreferences(c *gin.Context) {
	p, err := h.svc.Preferences(c.Request.Context())
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, p)
}

// PutPreferences godoc
// @ID          putPreferences
// @Summary     Save browse preferences
// @Description Overwrites the saved age range, gender preference and maximum distance.
// @Tags        Preferences
// @Accept      json
// @Produce     json
// @Param       body  body  domain.Preferences  true  "Preferences"
// @Success     200  {object}  domain.Preferences
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     422  {object}  handlers.ErrorResponse  "Invalid preferences"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /preferences [put]
func (h *Handlers) PutPreferences(c *gin.Context) {
	var p domain.Preferences
	if err := c.ShouldBindJSON(&p); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	if err := h.svc.SavePreferences(c.Request.Context(), p); err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, p)
}
