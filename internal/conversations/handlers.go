package conversations

import (
	"errors"
	"net/http"

	"github.com/coachbase/fitchat/internal/auth"
	"github.com/coachbase/fitchat/internal/chat"
	"github.com/coachbase/fitchat/internal/httpx"
	"github.com/coachbase/fitchat/internal/realtime"
	"github.com/coachbase/fitchat/internal/utils"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
)

type Service struct {
	Store    chat.Store
	Resolver *chat.Resolver
	Hub      *realtime.Hub
}

type resolveReq struct {
	// Target is either a conversation id or a counterpart participant
	// id; the resolver's fallback policy decides which.
	Target string `json:"target" binding:"required"`
}

type privateReq struct {
	PeerID string `json:"peer_id" binding:"required"`
}

func Register(rg *gin.RouterGroup, store chat.Store, hub *realtime.Hub) {
	s := Service{
		Store:    store,
		Resolver: chat.NewResolver(store),
		Hub:      hub,
	}
	rg.POST("/conversations/resolve", s.resolve)
	rg.POST("/conversations/private", s.createOrGetPrivate)
	rg.GET("/conversations", s.listMine)
	rg.POST("/conversations/:id/read", s.markRead)
	rg.GET("/presence/:id", s.presence)
}

// resolve handles the ambiguous id-or-peer entry point. The response
// always carries the canonical id; a caller holding a different one
// must adopt it (redirect-on-mismatch).
func (s Service) resolve(c *gin.Context) {
	uid := auth.MustUserID(c)
	var req resolveReq
	if err := c.ShouldBindJSON(&req); err != nil {
		if validationErrors, ok := err.(validator.ValidationErrors); ok {
			httpx.Err(c, http.StatusBadRequest, utils.ValidationErr(validationErrors))
			return
		}
		httpx.Err(c, http.StatusBadRequest, err.Error())
		return
	}

	conv, err := s.Resolver.ResolveAny(c.Request.Context(), uid, req.Target)
	if err != nil {
		s.resolveErr(c, err)
		return
	}
	httpx.OK(c, gin.H{"conversation": conv})
}

func (s Service) createOrGetPrivate(c *gin.Context) {
	uid := auth.MustUserID(c)
	var req privateReq
	if err := c.ShouldBindJSON(&req); err != nil {
		if validationErrors, ok := err.(validator.ValidationErrors); ok {
			httpx.Err(c, http.StatusBadRequest, utils.ValidationErr(validationErrors))
			return
		}
		httpx.Err(c, http.StatusBadRequest, err.Error())
		return
	}

	conv, err := s.Resolver.Resolve(c.Request.Context(), uid, chat.ByPeer(req.PeerID))
	if err != nil {
		s.resolveErr(c, err)
		return
	}
	httpx.OK(c, gin.H{"conversation": conv})
}

func (s Service) listMine(c *gin.Context) {
	uid := auth.MustUserID(c)

	list, err := s.Store.ListConversations(c.Request.Context(), uid)
	if err != nil {
		httpx.Err(c, http.StatusInternalServerError, "failed to fetch conversations")
		return
	}
	httpx.OK(c, gin.H{"conversations": list})
}

func (s Service) markRead(c *gin.Context) {
	uid := auth.MustUserID(c)
	cid := c.Param("id")

	conv, err := s.Store.GetConversation(c.Request.Context(), cid)
	if err != nil || !conv.Has(uid) {
		httpx.Err(c, http.StatusForbidden, "not a participant")
		return
	}
	if err := s.Store.MarkRead(c.Request.Context(), cid, uid); err != nil {
		httpx.Err(c, http.StatusInternalServerError, "mark read failed")
		return
	}
	httpx.OK(c, gin.H{"ok": true})
}

// presence serves the hub's ephemeral registry; a participant who
// never connected simply reads as offline.
func (s Service) presence(c *gin.Context) {
	rec, ok := s.Hub.PresenceOf(c.Param("id"))
	if !ok {
		httpx.OK(c, gin.H{"participant_id": c.Param("id"), "status": "offline"})
		return
	}
	httpx.OK(c, rec)
}

func (s Service) resolveErr(c *gin.Context, err error) {
	switch {
	case errors.Is(err, chat.ErrMissingParticipant), errors.Is(err, chat.ErrSelfConversation):
		httpx.Err(c, http.StatusBadRequest, err.Error())
	case errors.Is(err, chat.ErrNotFound):
		httpx.Err(c, http.StatusNotFound, "conversation not found")
	default:
		// store unavailable: the caller must not proceed to send
		// against an unresolved conversation
		httpx.Retry(c, "conversation resolution failed")
	}
}
