package apis

import (
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/pprof"
	"github.com/gin-gonic/gin"

	"github.com/RiemaLabs/charms-indexer/apprunner"
	"github.com/RiemaLabs/charms-indexer/charms"
	"github.com/RiemaLabs/charms-indexer/checker"
	"github.com/RiemaLabs/charms-indexer/getter"
	"github.com/RiemaLabs/charms-indexer/indexer"
	"github.com/RiemaLabs/charms-indexer/internal/logs"
	"github.com/RiemaLabs/charms-indexer/internal/metrics"
	"github.com/RiemaLabs/charms-indexer/ledger"
	"github.com/RiemaLabs/charms-indexer/spell"
)

// Service holds the collaborators of the HTTP API. Getter, Checker and
// Indexer are optional; their routes answer 503 when absent.
type Service struct {
	Verifier ledger.Verifier
	Getter   getter.TxGetter
	Checker  *checker.Checker
	Indexer  *indexer.Indexer
	// Budget of each app run on /spells/check, zero fields take the defaults.
	Budget apprunner.Budget
}

func parseTx(chain, txHex string) (ledger.Tx, error) {
	if chain == "" {
		return ledger.FromHex(txHex)
	}
	c, err := ledger.ParseChain(chain)
	if err != nil {
		return nil, err
	}
	return ledger.ParseTx(c, txHex)
}

func (s *Service) respondSpell(c *gin.Context, tx ledger.Tx) {
	ns, err := tx.ExtractAndVerify(s.Verifier)
	if err != nil {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: fmt.Sprintf("No verified spell in %s: %v", tx.TxId(), err)})
		return
	}
	c.JSON(http.StatusOK, spell.Denormalize(ns))
}

func (s *Service) PutSpell(c *gin.Context) {
	txid, err := charms.ParseTxId(c.Param("txid"))
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}
	var req ExtractRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}
	tx, err := parseTx(req.Chain, req.TxHex)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}
	if tx.TxId() != txid {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: fmt.Sprintf("transaction has txid %s, not %s", tx.TxId(), txid)})
		return
	}
	s.respondSpell(c, tx)
}

func (s *Service) GetSpell(c *gin.Context) {
	if s.Getter == nil {
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: "no Bitcoin node is configured"})
		return
	}
	txid, err := charms.ParseTxId(c.Param("txid"))
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}
	msg, err := s.Getter.GetRawTransaction(txid)
	if errors.Is(err, getter.ErrNotFound) {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: err.Error()})
		return
	}
	if err != nil {
		c.JSON(http.StatusBadGateway, ErrorResponse{Error: fmt.Sprintf("Failed to get the transaction due to %v", err)})
		return
	}
	s.respondSpell(c, ledger.NewBitcoinTx(msg))
}

func (s *Service) CheckSpell(c *gin.Context) {
	if s.Checker == nil {
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: "checking is not enabled"})
		return
	}
	var req CheckRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}
	prevTxs := make([]ledger.Tx, 0, len(req.PrevTxs))
	for _, h := range req.PrevTxs {
		tx, err := parseTx(req.Chain, h)
		if err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
			return
		}
		prevTxs = append(prevTxs, tx)
	}
	bins, err := BatchDecodeBase64(req.AppBins)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}
	checkReq, err := checker.NewRequest(req.Spell, prevTxs, bins)
	if err != nil {
		checkFailed(c, err)
		return
	}
	checkReq.Budget = s.Budget.OrDefault()
	report, err := s.Checker.Check(c.Request.Context(), checkReq)
	if err != nil {
		checkFailed(c, err)
		return
	}
	res := &CheckResult{Steps: report.Steps}
	for _, app := range report.Apps {
		res.Apps = append(res.Apps, app.String())
	}
	c.JSON(http.StatusOK, CheckResponse{Result: res})
}

func checkFailed(c *gin.Context, err error) {
	errStr := err.Error()
	c.JSON(http.StatusUnprocessableEntity, CheckResponse{Error: &errStr, Code: string(spell.CodeOf(err))})
}

func (s *Service) GetBlockHeight(c *gin.Context) {
	c.Data(http.StatusOK, "text/plain", []byte(fmt.Sprintf("%d", s.Indexer.Height())))
}

func (s *Service) GetCommitment(c *gin.Context) {
	commitment := s.Indexer.Commitment()
	c.JSON(http.StatusOK, CommitmentResult{
		Height:     s.Indexer.Height(),
		Hash:       s.Indexer.BlockHash(),
		Commitment: base64.StdEncoding.EncodeToString(commitment[:]),
	})
}

func (s *Service) GetSpellInclusion(c *gin.Context) {
	txid, err := charms.ParseTxId(c.Param("txid"))
	if err != nil {
		errStr := err.Error()
		c.JSON(http.StatusBadRequest, SpellInclusionResponse{Error: &errStr})
		return
	}
	value, err := s.Indexer.Lookup(txid)
	if err != nil || len(value) == 0 {
		errStr := fmt.Sprintf("spell %s is not indexed", txid)
		c.JSON(http.StatusNotFound, SpellInclusionResponse{Error: &errStr})
		return
	}
	proof, err := s.Indexer.Prove(txid)
	if err != nil {
		errStr := err.Error()
		c.JSON(http.StatusInternalServerError, SpellInclusionResponse{Error: &errStr})
		return
	}
	c.JSON(http.StatusOK, SpellInclusionResponse{
		Result: &SpellInclusionResult{
			TxId:      txid.String(),
			SpellHash: base64.StdEncoding.EncodeToString(value),
			Height:    s.Indexer.Height(),
		},
		Proof: &proof,
	})
}

func NewRouter(s *Service, enablePprof bool) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), cors.New(cors.Config{
		AllowAllOrigins: true,
		AllowMethods:    []string{http.MethodGet, http.MethodPut, http.MethodPost, http.MethodOptions},
		AllowHeaders:    []string{"Origin", "Content-Type"},
	}), metrics.HTTP)
	if enablePprof {
		pprof.Register(r)
	}

	r.GET("/ready", func(c *gin.Context) {
		c.String(http.StatusOK, "OK")
	})
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status": "healthy",
		})
	})

	r.PUT("/spells/:txid", s.PutSpell)
	r.GET("/spells/:txid", s.GetSpell)
	r.POST("/spells/check", s.CheckSpell)

	if s.Indexer != nil {
		r.GET("/v1/charms/block_height", s.GetBlockHeight)
		r.GET("/v1/charms/commitment", s.GetCommitment)
		r.GET("/v1/charms/spells/:txid/proof", s.GetSpellInclusion)
	}
	return r
}

func StartService(s *Service, addr string, enablePprof, enableDebug bool) error {
	if !enableDebug {
		gin.SetMode(gin.ReleaseMode)
	}
	logs.Infof("Providing API service at: %s", addr)
	return NewRouter(s, enablePprof).Run(addr)
}
