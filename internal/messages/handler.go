package messages

import (
	"errors"
	"net/http"

	"github.com/coachbase/fitchat/internal/auth"
	"github.com/coachbase/fitchat/internal/chat"
	"github.com/coachbase/fitchat/internal/httpx"
	"github.com/coachbase/fitchat/internal/model"
	"github.com/coachbase/fitchat/internal/utils"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
)

// Service exposes the send/history/mutation surface to remote UI
// clients. The store is fanout-wrapped, so every durable mutation here
// is echoed onto the push channel the clients' engines listen to.
type Service struct {
	Store     chat.Store
	Reactions *chat.Reactions
}

type sendReq struct {
	ConversationID string             `json:"conversation_id" binding:"required"`
	RecipientID    string             `json:"recipient_id" binding:"required"`
	Content        string             `json:"content"`
	Kind           string             `json:"kind"`
	Attachments    []model.Attachment `json:"attachments"`
	ParentID       string             `json:"parent_id"`
	// TempID is the client's optimistic correlation id; it is persisted
	// verbatim in the metadata bag and comes back on the channel event.
	TempID string `json:"temp_id"`
}

type editReq struct {
	Content string `json:"content" binding:"required"`
}

type reactReq struct {
	Kind string `json:"kind" binding:"required"`
}

func Register(rg *gin.RouterGroup, store chat.Store) {
	s := Service{
		Store:     store,
		Reactions: chat.NewReactions(store),
	}
	rg.POST("/messages", s.send)
	rg.GET("/conversations/:id/messages", s.list)
	rg.PATCH("/messages/:id", s.edit)
	rg.DELETE("/messages/:id", s.remove)
	rg.POST("/messages/:id/reactions", s.react)
	rg.DELETE("/reactions/:id", s.unreact)
}

func (s Service) send(c *gin.Context) {
	uid := auth.MustUserID(c)
	var req sendReq
	if err := c.ShouldBindJSON(&req); err != nil {
		if validationErrors, ok := err.(validator.ValidationErrors); ok {
			httpx.Err(c, http.StatusBadRequest, utils.ValidationErr(validationErrors))
			return
		}
		httpx.Err(c, http.StatusBadRequest, err.Error())
		return
	}
	if req.Content == "" && len(req.Attachments) == 0 {
		httpx.Err(c, http.StatusBadRequest, "content or attachments required")
		return
	}

	// authorize participant
	conv, err := s.Store.GetConversation(c.Request.Context(), req.ConversationID)
	if err != nil || !conv.Has(uid) {
		httpx.Err(c, http.StatusForbidden, "not a participant")
		return
	}

	kind := model.MessageKind(req.Kind)
	if kind == "" {
		kind = model.KindText
	}
	msg := model.Message{
		ConversationID: req.ConversationID,
		SenderID:       uid,
		RecipientID:    req.RecipientID,
		Content:        req.Content,
		Kind:           kind,
		Attachments:    req.Attachments,
		ParentID:       req.ParentID,
	}
	if req.TempID != "" {
		msg.Metadata = map[string]interface{}{model.MetaTempID: req.TempID}
	}

	durable, err := s.Store.InsertMessage(c.Request.Context(), msg)
	if err != nil {
		httpx.Err(c, http.StatusBadRequest, "insert failed")
		return
	}
	httpx.OK(c, gin.H{"message": durable})
}

func (s Service) list(c *gin.Context) {
	uid := auth.MustUserID(c)
	cid := c.Param("id")

	conv, err := s.Store.GetConversation(c.Request.Context(), cid)
	if err != nil || !conv.Has(uid) {
		httpx.Err(c, http.StatusForbidden, "not a participant")
		return
	}

	// ascending creation order, soft-deleted rows excluded
	list, err := s.Store.FetchMessages(c.Request.Context(), cid)
	if err != nil {
		httpx.Err(c, http.StatusInternalServerError, "failed to fetch messages")
		return
	}
	httpx.OK(c, gin.H{"messages": list})
}

func (s Service) edit(c *gin.Context) {
	uid := auth.MustUserID(c)
	var req editReq
	if err := c.ShouldBindJSON(&req); err != nil {
		if validationErrors, ok := err.(validator.ValidationErrors); ok {
			httpx.Err(c, http.StatusBadRequest, utils.ValidationErr(validationErrors))
			return
		}
		httpx.Err(c, http.StatusBadRequest, err.Error())
		return
	}

	msg, err := s.Reactions.Edit(c.Request.Context(), c.Param("id"), uid, req.Content)
	if err != nil {
		s.mutationErr(c, err)
		return
	}
	httpx.OK(c, gin.H{"message": msg})
}

func (s Service) remove(c *gin.Context) {
	uid := auth.MustUserID(c)
	if err := s.Reactions.Delete(c.Request.Context(), c.Param("id"), uid); err != nil {
		s.mutationErr(c, err)
		return
	}
	httpx.OK(c, gin.H{"ok": true})
}

func (s Service) react(c *gin.Context) {
	uid := auth.MustUserID(c)
	var req reactReq
	if err := c.ShouldBindJSON(&req); err != nil {
		if validationErrors, ok := err.(validator.ValidationErrors); ok {
			httpx.Err(c, http.StatusBadRequest, utils.ValidationErr(validationErrors))
			return
		}
		httpx.Err(c, http.StatusBadRequest, err.Error())
		return
	}

	reaction, err := s.Reactions.Add(c.Request.Context(), c.Param("id"), uid, req.Kind)
	if err != nil {
		s.mutationErr(c, err)
		return
	}
	httpx.OK(c, gin.H{"reaction": reaction})
}

func (s Service) unreact(c *gin.Context) {
	if err := s.Reactions.Remove(c.Request.Context(), c.Param("id")); err != nil {
		s.mutationErr(c, err)
		return
	}
	httpx.OK(c, gin.H{"ok": true})
}

func (s Service) mutationErr(c *gin.Context, err error) {
	switch {
	case errors.Is(err, chat.ErrNotFound):
		httpx.Err(c, http.StatusNotFound, "message not found")
	case errors.Is(err, chat.ErrForbidden):
		httpx.Err(c, http.StatusForbidden, "only the sender can do that")
	default:
		httpx.Err(c, http.StatusBadRequest, err.Error())
	}
}
