package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/Aidin1998/walletsend/internal/send/interfaces"
	"github.com/Aidin1998/walletsend/internal/send/orchestrator"
	"github.com/Aidin1998/walletsend/internal/send/state"
	"github.com/Aidin1998/walletsend/pkg/errors"
)

type sessionView struct {
	ID                 uuid.UUID                  `json:"id"`
	Kind               orchestrator.OperationKind `json:"kind"`
	Amount             *interfaces.Amount         `json:"amount,omitempty"`
	Fee                interfaces.Fee             `json:"fee"`
	Fees               []interfaces.Fee           `json:"fees,omitempty"`
	Destination        string                     `json:"destination,omitempty"`
	Ready              bool                       `json:"ready"`
	FeeIncluded        bool                       `json:"fee_included"`
	ActionInProcessing bool                       `json:"action_in_processing"`
	Candidate          *candidateView             `json:"candidate,omitempty"`
	Staking            *stakingView               `json:"staking,omitempty"`
	Summary            *orchestrator.Summary      `json:"summary,omitempty"`
	SentAt             *time.Time                 `json:"sent_at,omitempty"`
	URL                string                     `json:"url,omitempty"`
}

type candidateView struct {
	Transaction *interfaces.Transaction `json:"transaction,omitempty"`
	Problem     *errors.ProblemDetails  `json:"problem,omitempty"`
}

type stakingView struct {
	Kind           state.Kind          `json:"kind"`
	Amount         decimal.NullDecimal `json:"amount"`
	Fee            decimal.NullDecimal `json:"fee"`
	AmountToReduce decimal.NullDecimal `json:"amount_to_reduce"`
	InitFee        decimal.NullDecimal `json:"init_fee"`
	StakesCount    int                 `json:"stakes_count,omitempty"`
	Spender        string              `json:"spender,omitempty"`
	ValidationKind string              `json:"validation_kind,omitempty"`
	Error          string              `json:"error,omitempty"`
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "sessions": len(s.registry.List())})
}

func (s *Server) withSession(next func(*gin.Context, *orchestrator.Orchestrator)) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := uuid.Parse(c.Param("id"))
		if err != nil {
			s.problem(c, errors.Input.Reason("invalidSessionID").Explain("%q is not a session id", c.Param("id")))
			return
		}
		o, ok := s.registry.Get(id)
		if !ok {
			p := errors.NewNotFoundError("session not found", c.Request.URL.Path)
			c.AbortWithStatusJSON(p.Status, p)
			return
		}
		next(c, o)
	}
}

func (s *Server) listSessions(c *gin.Context) {
	sessions := s.registry.List()
	views := make([]sessionView, 0, len(sessions))
	for _, o := range sessions {
		views = append(views, s.view(c, o))
	}
	c.JSON(http.StatusOK, views)
}

func (s *Server) getSession(c *gin.Context, o *orchestrator.Orchestrator) {
	c.JSON(http.StatusOK, s.view(c, o))
}

func (s *Server) deleteSession(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil || !s.registry.Remove(id) {
		p := errors.NewNotFoundError("session not found", c.Request.URL.Path)
		c.AbortWithStatusJSON(p.Status, p)
		return
	}
	c.Status(http.StatusNoContent)
}

type amountRequest struct {
	Crypto *decimal.Decimal `json:"crypto"`
	Fiat   *decimal.Decimal `json:"fiat"`
}

func (s *Server) setAmount(c *gin.Context, o *orchestrator.Orchestrator) {
	var req amountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.problem(c, errors.Input.Reason("invalidBody").Wrap(err))
		return
	}

	switch {
	case req.Crypto != nil:
		o.AmountDidChange(&interfaces.Amount{Crypto: decimal.NewNullDecimal(*req.Crypto), Kind: interfaces.AmountKindTypical})
	case req.Fiat != nil:
		o.AmountDidChange(&interfaces.Amount{Fiat: decimal.NewNullDecimal(*req.Fiat), Kind: interfaces.AmountKindAlternative})
	default:
		o.AmountDidChange(nil)
	}
	c.JSON(http.StatusAccepted, s.view(c, o))
}

type destinationRequest struct {
	Address         string                `json:"address"`
	Provenance      interfaces.Provenance `json:"provenance"`
	AdditionalField *string               `json:"additional_field"`
}

func (s *Server) setDestination(c *gin.Context, o *orchestrator.Orchestrator) {
	var req destinationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.problem(c, errors.Input.Reason("invalidBody").Wrap(err))
		return
	}
	if req.Provenance == "" {
		req.Provenance = interfaces.ProvenanceTextEntry
	}

	o.DestinationDidChange(c.Request.Context(), req.Address, req.Provenance)
	if req.AdditionalField != nil {
		o.AdditionalFieldDidChange(*req.AdditionalField)
	}
	c.JSON(http.StatusAccepted, s.view(c, o))
}

type feeRequest struct {
	Option interfaces.FeeOption `json:"option" binding:"required,oneof=slow market fast custom"`
	Custom *decimal.Decimal     `json:"custom"`
}

func (s *Server) setFee(c *gin.Context, o *orchestrator.Orchestrator) {
	var req feeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.problem(c, errors.Input.Reason("invalidBody").Wrap(err))
		return
	}

	if req.Option == interfaces.FeeOptionCustom {
		if req.Custom == nil {
			s.problem(c, errors.Input.Reason("customFeeMissing").Explain("custom fee value is required"))
			return
		}
		o.SetCustomFee(*req.Custom)
	} else {
		o.FeeDidChange(req.Option)
	}
	c.JSON(http.StatusAccepted, s.view(c, o))
}

type validatorRequest struct {
	Address string `json:"address" binding:"required"`
}

func (s *Server) setValidator(c *gin.Context, o *orchestrator.Orchestrator) {
	var req validatorRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.problem(c, errors.Input.Reason("invalidBody").Wrap(err))
		return
	}
	o.SelectValidator(req.Address)
	c.JSON(http.StatusAccepted, s.view(c, o))
}

func (s *Server) refreshFee(c *gin.Context, o *orchestrator.Orchestrator) {
	o.RefreshFee(c.Request.Context())
	c.JSON(http.StatusAccepted, s.view(c, o))
}

func (s *Server) perform(c *gin.Context, o *orchestrator.Orchestrator) {
	result, err := o.PerformAction(c.Request.Context())
	if err != nil {
		s.problem(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) approve(c *gin.Context, o *orchestrator.Orchestrator) {
	if err := o.SendApproveTransaction(c.Request.Context()); err != nil {
		s.problem(c, err)
		return
	}
	c.JSON(http.StatusAccepted, s.view(c, o))
}

func (s *Server) initialize(c *gin.Context, o *orchestrator.Orchestrator) {
	if err := o.InitializeAccount(c.Request.Context()); err != nil {
		s.problem(c, err)
		return
	}
	c.JSON(http.StatusAccepted, s.view(c, o))
}

func (s *Server) view(c *gin.Context, o *orchestrator.Orchestrator) sessionView {
	v := sessionView{
		ID:                 o.Session(),
		Kind:               o.Kind(),
		Amount:             o.Amount(),
		Fee:                o.SelectedFee(),
		Fees:               o.Fees(),
		Ready:              o.Ready().Get(),
		FeeIncluded:        o.FeeIncluded().Get(),
		ActionInProcessing: o.ActionInProcessing(),
		Summary:            o.Summary(),
		URL:                o.TransactionURL(),
	}
	if at, ok := o.TransactionSentAt(); ok {
		v.SentAt = &at
	}

	if o.Kind() == orchestrator.KindTransfer {
		if d, ok := o.Destination(); ok && d.Destination != nil {
			v.Destination = d.Destination.Address
		}
		if candidate := o.Candidate(); candidate != nil {
			cv := &candidateView{Transaction: candidate.Transaction}
			if candidate.Err != nil {
				cv.Problem = errors.ProblemFromError(candidate.Err, c.Request.URL.Path)
			}
			v.Candidate = cv
		}
		return v
	}

	v.Staking = stakingViewOf(o.StakingState())
	return v
}

func stakingViewOf(st state.StakingState) *stakingView {
	v := &stakingView{Kind: st.Kind, Fee: st.Fee, ValidationKind: st.ValidationKind}
	if st.Ready != nil {
		v.Amount = decimal.NewNullDecimal(st.Ready.Amount)
		v.Fee = decimal.NewNullDecimal(st.Ready.Fee)
		v.AmountToReduce = st.Ready.AmountToReduce
		v.StakesCount = st.Ready.StakesCount
	}
	if st.Approval != nil {
		v.Spender = st.Approval.Spender
		v.Fee = decimal.NewNullDecimal(st.Approval.Fee)
	}
	if st.Kind == state.KindAccountInitializationRequired {
		v.InitFee = decimal.NewNullDecimal(st.InitFee)
	}
	if st.Err != nil {
		v.Error = st.Err.Error()
	}
	return v
}

// problem writes err as RFC 7807 problem details
func (s *Server) problem(c *gin.Context, err error) {
	var de *interfaces.DispatchError
	if errors.As(err, &de) {
		err = errors.NewWithCategory(de.Kind.Category()).Reason(string(de.Kind)).Wrap(de.Err)
	}

	p := errors.ProblemFromError(err, c.Request.URL.Path)
	if p.Status >= http.StatusInternalServerError {
		s.log.Error("request failed", zap.String("path", c.Request.URL.Path), zap.Error(err))
	}
	c.AbortWithStatusJSON(p.Status, p)
}
