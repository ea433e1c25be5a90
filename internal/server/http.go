package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"google.golang.org/grpc/codes"

	"ReserveLedger/internal/core"
	"ReserveLedger/internal/event"
	"ReserveLedger/internal/observability"
	"ReserveLedger/internal/query"
	"ReserveLedger/internal/reserve"
)

// HTTPServer serves the HTTP/JSON API for operations and queries.
// Write endpoints feed the deterministic core; read endpoints hit the
// Postgres projections via QueryService.
type HTTPServer struct {
	core          *core.ReserveCore
	queryService  *query.QueryService
	healthChecker *observability.HealthChecker
	httpServer    *http.Server
	addr          string
}

func NewHTTPServer(
	addr string,
	reserveCore *core.ReserveCore,
	queryService *query.QueryService,
	healthChecker *observability.HealthChecker,
) *HTTPServer {
	return &HTTPServer{
		core:          reserveCore,
		queryService:  queryService,
		healthChecker: healthChecker,
		addr:          addr,
	}
}

// Start runs the HTTP server until ctx is cancelled.
func (s *HTTPServer) Start(ctx context.Context) error {
	mux := runtime.NewServeMux()

	routes := []struct {
		method  string
		path    string
		handler runtime.HandlerFunc
	}{
		{"POST", "/v1/initialize", s.handleInitialize},
		{"POST", "/v1/stake", s.handleStake},
		{"POST", "/v1/unstake", s.handleUnstake},
		{"POST", "/v1/pool/join", s.handleJoinPool},
		{"POST", "/v1/pool/leave", s.handleLeavePool},
		{"POST", "/v1/profit", s.handleRecordProfit},
		{"POST", "/v1/rewards/claim", s.handleClaimRewards},
		{"POST", "/v1/prize", s.handleSendPrize},
		{"POST", "/v1/games/approve", s.handleApproveGame},
		{"POST", "/v1/deposit", s.handleDeposit},
		{"POST", "/v1/withdraw", s.handleWithdraw},
		{"GET", "/v1/participants/{id}", s.handleGetParticipant},
		{"GET", "/v1/wallets/{id}", s.handleGetWallet},
		{"GET", "/v1/participants/{id}/journal", s.handleGetJournal},
		{"GET", "/v1/reserve", s.handleGetReserve},
		{"GET", "/v1/operations", s.handleListOperations},
		{"GET", "/v1/rewards/history", s.handleRewardHistory},
		{"GET", "/v1/admin/integrity", s.handleVerifyIntegrity},
	}

	for _, r := range routes {
		if err := mux.HandlePath(r.method, r.path, r.handler); err != nil {
			return fmt.Errorf("register %s %s: %w", r.method, r.path, err)
		}
	}

	httpMux := http.NewServeMux()
	if s.healthChecker != nil {
		httpMux.HandleFunc("/healthz", s.healthChecker.LivenessHandler)
		httpMux.HandleFunc("/readyz", s.healthChecker.ReadinessHandler)
	}
	httpMux.Handle("/", mux)

	s.httpServer = &http.Server{
		Addr:    s.addr,
		Handler: httpMux,
	}

	go func() {
		<-ctx.Done()
		log.Println("INFO: HTTP server shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	log.Printf("INFO: HTTP server listening on %s", s.addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// --- write handlers ---

type opResponse struct {
	OperationID  string `json:"operation_id"`
	Sequence     int64  `json:"sequence"`
	Duplicate    bool   `json:"duplicate"`
	SharesIssued uint64 `json:"shares_issued,omitempty"`
	AmountPaid   uint64 `json:"amount_paid,omitempty"`
	NetShares    uint64 `json:"net_shares,omitempty"`
}

func (s *HTTPServer) handleInitialize(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	var req struct {
		OperationID    string `json:"operation_id"`
		Authority      string `json:"authority"`
		StakeFeeBps    uint16 `json:"stake_fee_bps"`
		UnstakeFeeBps  uint16 `json:"unstake_fee_bps"`
		LowerThreshold uint64 `json:"lower_threshold"`
		UpperThreshold uint64 `json:"upper_threshold"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	authority, err := uuid.Parse(req.Authority)
	if err != nil {
		writeError(w, codes.InvalidArgument, "invalid authority: %v", err)
		return
	}

	op := &event.Initialize{
		OperationID:    opID(req.OperationID),
		Authority:      authority,
		StakeFeeBps:    req.StakeFeeBps,
		UnstakeFeeBps:  req.UnstakeFeeBps,
		LowerThreshold: req.LowerThreshold,
		UpperThreshold: req.UpperThreshold,
		Timestamp:      time.Now().UTC(),
	}
	s.process(w, op)
}

func (s *HTTPServer) handleStake(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	var req struct {
		OperationID string `json:"operation_id"`
		UserID      string `json:"user_id"`
		Amount      uint64 `json:"amount"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	userID, err := uuid.Parse(req.UserID)
	if err != nil {
		writeError(w, codes.InvalidArgument, "invalid user_id: %v", err)
		return
	}

	s.process(w, &event.Stake{
		OperationID: opID(req.OperationID),
		UserID:      userID,
		Amount:      req.Amount,
		Timestamp:   time.Now().UTC(),
	})
}

func (s *HTTPServer) handleUnstake(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	var req struct {
		OperationID string `json:"operation_id"`
		UserID      string `json:"user_id"`
		Shares      uint64 `json:"shares"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	userID, err := uuid.Parse(req.UserID)
	if err != nil {
		writeError(w, codes.InvalidArgument, "invalid user_id: %v", err)
		return
	}

	s.process(w, &event.Unstake{
		OperationID: opID(req.OperationID),
		UserID:      userID,
		Shares:      req.Shares,
		Timestamp:   time.Now().UTC(),
	})
}

func (s *HTTPServer) handleJoinPool(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	var req struct {
		OperationID string `json:"operation_id"`
		UserID      string `json:"user_id"`
		Shares      uint64 `json:"shares"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	userID, err := uuid.Parse(req.UserID)
	if err != nil {
		writeError(w, codes.InvalidArgument, "invalid user_id: %v", err)
		return
	}

	s.process(w, &event.JoinDividendPool{
		OperationID: opID(req.OperationID),
		UserID:      userID,
		Shares:      req.Shares,
		Timestamp:   time.Now().UTC(),
	})
}

func (s *HTTPServer) handleLeavePool(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	var req struct {
		OperationID string `json:"operation_id"`
		UserID      string `json:"user_id"`
		Shares      uint64 `json:"shares"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	userID, err := uuid.Parse(req.UserID)
	if err != nil {
		writeError(w, codes.InvalidArgument, "invalid user_id: %v", err)
		return
	}

	s.process(w, &event.LeaveDividendPool{
		OperationID: opID(req.OperationID),
		UserID:      userID,
		Shares:      req.Shares,
		Timestamp:   time.Now().UTC(),
	})
}

func (s *HTTPServer) handleRecordProfit(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	var req struct {
		OperationID string `json:"operation_id"`
		CallerID    string `json:"caller_id"`
		Amount      uint64 `json:"amount"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	callerID, err := uuid.Parse(req.CallerID)
	if err != nil {
		writeError(w, codes.InvalidArgument, "invalid caller_id: %v", err)
		return
	}

	// API-submitted profit carries no source partition; ordering
	// validation applies only to the NATS feed.
	s.process(w, &event.RecordProfit{
		OperationID: opID(req.OperationID),
		CallerID:    callerID,
		Amount:      req.Amount,
		Timestamp:   time.Now().UTC(),
	})
}

func (s *HTTPServer) handleClaimRewards(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	var req struct {
		OperationID string `json:"operation_id"`
		UserID      string `json:"user_id"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	userID, err := uuid.Parse(req.UserID)
	if err != nil {
		writeError(w, codes.InvalidArgument, "invalid user_id: %v", err)
		return
	}

	s.process(w, &event.ClaimRewards{
		OperationID: opID(req.OperationID),
		UserID:      userID,
		Timestamp:   time.Now().UTC(),
	})
}

func (s *HTTPServer) handleSendPrize(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	var req struct {
		OperationID string `json:"operation_id"`
		GameID      string `json:"game_id"`
		Recipient   string `json:"recipient"`
		Amount      uint64 `json:"amount"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	gameID, err := uuid.Parse(req.GameID)
	if err != nil {
		writeError(w, codes.InvalidArgument, "invalid game_id: %v", err)
		return
	}
	recipient, err := uuid.Parse(req.Recipient)
	if err != nil {
		writeError(w, codes.InvalidArgument, "invalid recipient: %v", err)
		return
	}

	s.process(w, &event.SendPrize{
		OperationID: opID(req.OperationID),
		GameID:      gameID,
		Recipient:   recipient,
		Amount:      req.Amount,
		Timestamp:   time.Now().UTC(),
	})
}

func (s *HTTPServer) handleApproveGame(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	var req struct {
		OperationID string `json:"operation_id"`
		CallerID    string `json:"caller_id"`
		GameID      string `json:"game_id"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	callerID, err := uuid.Parse(req.CallerID)
	if err != nil {
		writeError(w, codes.InvalidArgument, "invalid caller_id: %v", err)
		return
	}
	gameID, err := uuid.Parse(req.GameID)
	if err != nil {
		writeError(w, codes.InvalidArgument, "invalid game_id: %v", err)
		return
	}

	s.process(w, &event.ApproveGame{
		OperationID: opID(req.OperationID),
		CallerID:    callerID,
		GameID:      gameID,
		Timestamp:   time.Now().UTC(),
	})
}

func (s *HTTPServer) handleDeposit(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	var req struct {
		OperationID string `json:"operation_id"`
		UserID      string `json:"user_id"`
		Amount      uint64 `json:"amount"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	userID, err := uuid.Parse(req.UserID)
	if err != nil {
		writeError(w, codes.InvalidArgument, "invalid user_id: %v", err)
		return
	}

	s.process(w, &event.Deposit{
		OperationID: opID(req.OperationID),
		UserID:      userID,
		Amount:      req.Amount,
		Timestamp:   time.Now().UTC(),
	})
}

func (s *HTTPServer) handleWithdraw(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	var req struct {
		OperationID string `json:"operation_id"`
		UserID      string `json:"user_id"`
		Amount      uint64 `json:"amount"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	userID, err := uuid.Parse(req.UserID)
	if err != nil {
		writeError(w, codes.InvalidArgument, "invalid user_id: %v", err)
		return
	}

	s.process(w, &event.Withdraw{
		OperationID: opID(req.OperationID),
		UserID:      userID,
		Amount:      req.Amount,
		Timestamp:   time.Now().UTC(),
	})
}

// process runs the operation through the core and writes the result.
func (s *HTTPServer) process(w http.ResponseWriter, op event.Operation) {
	res, err := s.core.ProcessOperation(op)
	if err != nil {
		writeError(w, errToCode(err), "%v", err)
		return
	}

	writeJSON(w, http.StatusOK, opResponse{
		OperationID:  op.IdempotencyKey(),
		Sequence:     res.Sequence,
		Duplicate:    res.Duplicate,
		SharesIssued: res.SharesIssued,
		AmountPaid:   res.AmountPaid,
		NetShares:    res.NetShares,
	})
}

// --- read handlers ---

func (s *HTTPServer) handleGetParticipant(w http.ResponseWriter, r *http.Request, pathParams map[string]string) {
	owner, err := uuid.Parse(pathParams["id"])
	if err != nil {
		writeError(w, codes.InvalidArgument, "invalid id: %v", err)
		return
	}

	resp, err := s.queryService.GetParticipant(r.Context(), owner)
	if err != nil {
		writeError(w, codes.Internal, "get participant: %v", err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *HTTPServer) handleGetWallet(w http.ResponseWriter, r *http.Request, pathParams map[string]string) {
	userID, err := uuid.Parse(pathParams["id"])
	if err != nil {
		writeError(w, codes.InvalidArgument, "invalid id: %v", err)
		return
	}

	resp, err := s.queryService.GetWalletBalance(r.Context(), userID)
	if err != nil {
		writeError(w, codes.Internal, "get wallet: %v", err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *HTTPServer) handleGetJournal(w http.ResponseWriter, r *http.Request, pathParams map[string]string) {
	userID, err := uuid.Parse(pathParams["id"])
	if err != nil {
		writeError(w, codes.InvalidArgument, "invalid id: %v", err)
		return
	}

	limit := queryLimit(r, 50)
	before := queryCursor(r, "before")

	entries, err := s.queryService.GetJournalHistory(r.Context(), userID, limit, before)
	if err != nil {
		writeError(w, codes.Internal, "get journal: %v", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"entries": entries})
}

func (s *HTTPServer) handleGetReserve(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	resp, err := s.queryService.GetReserveStatus(r.Context())
	if err != nil {
		writeError(w, codes.Internal, "get reserve: %v", err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *HTTPServer) handleListOperations(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	limit := queryLimit(r, 50)
	before := queryCursor(r, "before")

	var opType *string
	if v := r.URL.Query().Get("op_type"); v != "" {
		opType = &v
	}

	ops, err := s.queryService.ListOperations(r.Context(), opType, limit, before)
	if err != nil {
		writeError(w, codes.Internal, "list operations: %v", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"operations": ops})
}

func (s *HTTPServer) handleRewardHistory(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	limit := queryLimit(r, 50)
	before := queryCursor(r, "before")

	var account, kind *string
	if v := r.URL.Query().Get("account"); v != "" {
		account = &v
	}
	if v := r.URL.Query().Get("kind"); v != "" {
		kind = &v
	}

	history, err := s.queryService.GetRewardHistory(r.Context(), account, kind, limit, before)
	if err != nil {
		writeError(w, codes.Internal, "reward history: %v", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"history": history})
}

func (s *HTTPServer) handleVerifyIntegrity(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	report, err := s.queryService.VerifyIntegrity(r.Context())
	if err != nil {
		writeError(w, codes.Internal, "verify integrity: %v", err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// --- helpers ---

// opID returns the caller-provided operation ID, or generates one when
// omitted. Callers that want idempotent retries must supply their own.
func opID(s string) uuid.UUID {
	if s == "" {
		return uuid.New()
	}
	if id, err := uuid.Parse(s); err == nil {
		return id
	}
	return uuid.New()
}

func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, codes.InvalidArgument, "invalid request body: %v", err)
		return false
	}
	return true
}

func queryLimit(r *http.Request, def int) int {
	v := r.URL.Query().Get("limit")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 || n > 500 {
		return def
	}
	return n
}

func queryCursor(r *http.Request, name string) *int64 {
	v := r.URL.Query().Get(name)
	if v == "" {
		return nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return nil
	}
	return &n
}

// errToCode maps engine errors to gRPC status codes, which in turn map
// to HTTP statuses via the gateway's standard translation.
func errToCode(err error) codes.Code {
	switch {
	case errors.Is(err, reserve.ErrInvalidAmount),
		errors.Is(err, reserve.ErrZeroShares),
		errors.Is(err, reserve.ErrMathOverflow):
		return codes.InvalidArgument
	case errors.Is(err, reserve.ErrInsufficientFunds),
		errors.Is(err, reserve.ErrInsufficientShares),
		errors.Is(err, reserve.ErrNoDividendShares),
		errors.Is(err, reserve.ErrNotInitialized):
		return codes.FailedPrecondition
	case errors.Is(err, reserve.ErrAlreadyInitialized):
		return codes.AlreadyExists
	case errors.Is(err, reserve.ErrUnauthorized):
		return codes.PermissionDenied
	case errors.Is(err, reserve.ErrUnknownParticipant):
		return codes.NotFound
	default:
		return codes.Internal
	}
}

func writeError(w http.ResponseWriter, code codes.Code, format string, args ...interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(runtime.HTTPStatusFromCode(code))
	json.NewEncoder(w).Encode(map[string]interface{}{
		"code":  code.String(),
		"error": fmt.Sprintf(format, args...),
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
