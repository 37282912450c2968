package handlers

import (
	"bytes"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/eventchain/middlewares"
	"github.com/mmdatafocus/eventchain/models"
	"github.com/mmdatafocus/eventchain/queries"
	"github.com/shopspring/decimal"
)

type transitionRequest struct {
	State    models.ChainState `json:"state" binding:"required"`
	Metadata map[string]any    `json:"metadata"`
}

type reopenRequest struct {
	ToState models.ChainState `json:"to_state"`
	Reason  string            `json:"reason"`
}

type amountRequest struct {
	TotalAmount decimal.Decimal `json:"total_amount"`
	Currency    string          `json:"currency"`
}

func (h *Handler) createChain(c *gin.Context) {
	var req models.NewChain
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	chain, created, err := h.Engine.CreateChain(c.Request.Context(), req)
	if err != nil {
		h.respondError(c, "createChain", err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	c.JSON(status, chain)
}

func (h *Handler) listChains(c *gin.Context) {
	var filter queries.ChainFilter
	if err := c.ShouldBindQuery(&filter); err != nil {
		badRequest(c, err)
		return
	}
	list, err := h.Queries.GetChains(c.Request.Context(), filter)
	if err != nil {
		h.respondError(c, "listChains", err)
		return
	}
	c.JSON(http.StatusOK, list)
}

func (h *Handler) exportChains(c *gin.Context) {
	var filter queries.ChainFilter
	if err := c.ShouldBindQuery(&filter); err != nil {
		badRequest(c, err)
		return
	}
	var buf bytes.Buffer
	if err := h.Queries.ExportChains(c.Request.Context(), filter, &buf); err != nil {
		h.respondError(c, "exportChains", err)
		return
	}
	c.Header("Content-Disposition", "attachment; filename=chains.xlsx")
	c.Data(http.StatusOK, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", buf.Bytes())
}

func (h *Handler) getChainDetail(c *gin.Context) {
	detail, err := h.Queries.GetChainDetail(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, "getChainDetail", err)
		return
	}
	c.JSON(http.StatusOK, detail)
}

func (h *Handler) getChainTimeline(c *gin.Context) {
	timeline, err := h.Queries.GetChainTimeline(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, "getChainTimeline", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"chain_id": c.Param("id"), "timeline": timeline})
}

func (h *Handler) transitionState(c *gin.Context) {
	var req transitionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	chain, err := h.Engine.TransitionState(c.Request.Context(), c.Param("id"), req.State, req.Metadata)
	if err != nil {
		h.respondError(c, "transitionState", err)
		return
	}
	c.JSON(http.StatusOK, chain)
}

func (h *Handler) reopenChain(c *gin.Context) {
	var req reopenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	chain, err := h.Engine.ReopenChain(c.Request.Context(), c.Param("id"), req.ToState, req.Reason)
	if err != nil {
		h.respondError(c, "reopenChain", err)
		return
	}
	c.JSON(http.StatusOK, chain)
}

func (h *Handler) verifyChain(c *gin.Context) {
	chain, err := h.Engine.VerifyChain(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, "verifyChain", err)
		return
	}
	c.JSON(http.StatusOK, chain)
}

func (h *Handler) updateChainAmount(c *gin.Context) {
	var req amountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	chain, err := h.Engine.UpdateChainAmount(c.Request.Context(), c.Param("id"), req.TotalAmount, req.Currency)
	if err != nil {
		h.respondError(c, "updateChainAmount", err)
		return
	}
	c.JSON(http.StatusOK, chain)
}

func (h *Handler) recomputeCompliance(c *gin.Context) {
	chain, err := h.Engine.RecomputeCompliance(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, "recomputeCompliance", err)
		return
	}
	c.JSON(http.StatusOK, chain)
}

func (h *Handler) getChainObjects(c *gin.Context) {
	objects, err := h.Engine.GetChainObjects(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, "getChainObjects", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"chain_id": c.Param("id"), "objects": objects})
}

func (h *Handler) addObjectToChain(c *gin.Context) {
	var req models.NewChainObject
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	req.ChainId = c.Param("id")
	obj, err := h.Engine.AddObjectToChain(c.Request.Context(), req)
	if err != nil {
		h.respondError(c, "addObjectToChain", err)
		return
	}
	c.JSON(http.StatusCreated, obj)
}

// linkResponse carries the far end of every link, resolved through the request's
// chain loader.
type linkResponse struct {
	*models.ChainLink
	Counterpart *queries.ChainRef `json:"counterpart"`
}

func (h *Handler) getChainLinks(c *gin.Context) {
	ctx := c.Request.Context()
	chainId := c.Param("id")
	links, err := h.Engine.GetChainLinks(ctx, chainId)
	if err != nil {
		h.respondError(c, "getChainLinks", err)
		return
	}
	ids := make([]string, 0, len(links))
	for _, l := range links {
		other := l.ToChainId
		if other == chainId {
			other = l.FromChainId
		}
		ids = append(ids, other)
	}
	others, errs := middlewares.GetChains(ctx, ids)
	out := make([]*linkResponse, 0, len(links))
	for i, l := range links {
		resp := &linkResponse{ChainLink: l}
		if (i >= len(errs) || errs[i] == nil) && i < len(others) && others[i] != nil {
			o := others[i]
			resp.Counterpart = &queries.ChainRef{
				ID:                o.ID,
				ChainNumber:       o.ChainNumber,
				ChainType:         o.ChainType,
				State:             o.State,
				Title:             o.Title,
				PrimaryObjectType: o.PrimaryObjectType,
				PrimaryObjectId:   o.PrimaryObjectId,
			}
		}
		out = append(out, resp)
	}
	c.JSON(http.StatusOK, gin.H{"chain_id": chainId, "links": out})
}

func (h *Handler) linkChains(c *gin.Context) {
	var req models.NewChainLink
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	req.FromChainId = c.Param("id")
	link, err := h.Engine.LinkChains(c.Request.Context(), req)
	if err != nil {
		h.respondError(c, "linkChains", err)
		return
	}
	c.JSON(http.StatusCreated, link)
}
