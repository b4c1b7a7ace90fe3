package http

import (
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/gin-gonic/gin"
	"github.com/holiman/uint256"

	"bonsaipay/internal/domain"
	"bonsaipay/internal/usecase"
)

type actionResponse struct {
	Action      string           `json:"action"`
	TxHash      string           `json:"tx_hash,omitempty"`
	BlockNumber uint64           `json:"block_number,omitempty"`
	GasUsed     uint64           `json:"gas_used,omitempty"`
	ClaimID     string           `json:"claim_id,omitempty"`
	Account     *accountResponse `json:"account,omitempty"`
}

type accountResponse struct {
	Address   string `json:"address"`
	Status    string `json:"status"`
	CreatedAt string `json:"created_at,omitempty"`
	UpdatedAt string `json:"updated_at,omitempty"`
}

type healthResponse struct {
	Status     string `json:"status"`
	Mode       string `json:"mode"`
	QueueDepth int    `json:"queue_depth"`
}

func (s *Server) handleHealth(c *gin.Context) {
	resp := healthResponse{Status: "ok", Mode: "no-db"}
	if s.store.Enabled() {
		resp.Mode = "db"
		if err := s.store.Ping(c.Request.Context()); err != nil {
			resp.Status = "degraded"
		}
	}
	if s.queueDepth != nil {
		resp.QueueDepth = s.queueDepth()
	}
	status := http.StatusOK
	if resp.Status != "ok" {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, resp)
}

// handleDeploy replies with the account address as a bare JSON string.
func (s *Server) handleDeploy(c *gin.Context) {
	res, err := s.pipeline.Deploy(c.Request.Context(), extractToken(c))
	if err != nil {
		writeError(c, err)
		return
	}
	if res.Account == nil {
		writeErrorCode(c, http.StatusInternalServerError, "INTERNAL_ERROR", "internal error")
		return
	}
	c.JSON(http.StatusOK, res.Account.Address.Hex())
}

func (s *Server) handleExecute(c *gin.Context) {
	params := usecase.ExecuteParams{}
	if raw := destinationHeader(c); raw != "" {
		dest, err := parseAddress(raw)
		if err != nil {
			writeError(c, err)
			return
		}
		params.Destination = &dest
	}
	if raw := strings.TrimSpace(c.GetHeader(headerValue)); raw != "" {
		value, err := parseWei(raw)
		if err != nil {
			writeError(c, err)
			return
		}
		params.Value = value
	}
	if raw := strings.TrimSpace(c.GetHeader(headerCalldata)); raw != "" {
		data, err := hexutil.Decode(raw)
		if err != nil {
			writeError(c, fmt.Errorf("%w: calldata: %v", domain.ErrInvalidRequest, err))
			return
		}
		params.Calldata = data
	}
	res, err := s.pipeline.Execute(c.Request.Context(), extractToken(c), params)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, buildActionResponse(res))
}

func (s *Server) handleClaim(c *gin.Context) {
	res, err := s.pipeline.Claim(c.Request.Context(), extractToken(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, buildActionResponse(res))
}

func (s *Server) handleExecuteCall(c *gin.Context) {
	raw := destinationHeader(c)
	if raw == "" {
		writeError(c, fmt.Errorf("%w: %s header is required", domain.ErrInvalidRequest, headerDest))
		return
	}
	dest, err := parseAddress(raw)
	if err != nil {
		writeError(c, err)
		return
	}
	res, err := s.pipeline.ExecuteCall(c.Request.Context(), extractToken(c), dest)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, buildActionResponse(res))
}

func (s *Server) handleAccount(c *gin.Context) {
	rec, err := s.pipeline.Account(c.Request.Context(), extractToken(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, buildAccountResponse(rec))
}

func (s *Server) handleNoRoute(c *gin.Context) {
	writeErrorCode(c, http.StatusNotFound, "NOT_FOUND", "route not found")
}

func buildActionResponse(res domain.ActionResult) actionResponse {
	out := actionResponse{Action: string(res.Action)}
	if res.ClaimID != (common.Hash{}) {
		out.ClaimID = res.ClaimID.Hex()
	}
	if res.Receipt != nil {
		out.TxHash = res.Receipt.TxHash.Hex()
		out.BlockNumber = res.Receipt.BlockNumber
		out.GasUsed = res.Receipt.GasUsed
	}
	if res.Account != nil {
		acct := buildAccountResponse(*res.Account)
		out.Account = &acct
	}
	return out
}

func buildAccountResponse(rec domain.AccountRecord) accountResponse {
	out := accountResponse{
		Address: rec.Address.Hex(),
		Status:  string(rec.Status),
	}
	if !rec.CreatedAt.IsZero() {
		out.CreatedAt = rec.CreatedAt.UTC().Format(time.RFC3339)
	}
	if !rec.UpdatedAt.IsZero() {
		out.UpdatedAt = rec.UpdatedAt.UTC().Format(time.RFC3339)
	}
	return out
}

func parseAddress(raw string) (common.Address, error) {
	if !common.IsHexAddress(raw) {
		return common.Address{}, fmt.Errorf("%w: invalid destination address %q", domain.ErrInvalidRequest, raw)
	}
	return common.HexToAddress(raw), nil
}

func parseWei(raw string) (*big.Int, error) {
	v, err := uint256.FromDecimal(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid value %q", domain.ErrInvalidRequest, raw)
	}
	return v.ToBig(), nil
}
