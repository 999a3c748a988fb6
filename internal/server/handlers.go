package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/nhowze/overunder/internal/application/settlement"
	"github.com/nhowze/overunder/internal/domain"
)

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	if s.ping != nil {
		if err := s.ping(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// --- pools ---

func (s *Server) openPool(w http.ResponseWriter, r *http.Request, caller domain.Address) {
	var body OpenPoolBody
	if !decode(w, r, &body) {
		return
	}
	subject, err := domain.ParseAddress(body.Subject)
	if err != nil {
		writeError(w, http.StatusBadRequest, "subject: "+err.Error())
		return
	}
	authority, ok := optionalAddress(w, "authority", body.Authority, domain.ZeroAddress)
	if !ok {
		return
	}

	p, err := s.venue.OpenPool(r.Context(), settlement.OpenPoolRequest{
		Key: domain.PoolKey{
			FixtureID:  body.FixtureID,
			Sport:      body.Sport,
			Subject:    subject,
			StatMetric: body.StatMetric,
			Threshold:  body.Threshold,
		},
		Deadline:  body.Deadline,
		Authority: authority,
	}, caller)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, poolView(p))
}

func (s *Server) getPool(w http.ResponseWriter, r *http.Request) {
	id, ok := pathHash(w, r, "pool")
	if !ok {
		return
	}
	p, err := s.venue.Pool(r.Context(), id)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, poolView(p))
}

func (s *Server) listReceipts(w http.ResponseWriter, r *http.Request) {
	id, ok := pathHash(w, r, "pool")
	if !ok {
		return
	}
	receipts, err := s.venue.Receipts(r.Context(), id)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	out := make([]ReceiptView, 0, len(receipts))
	for _, rc := range receipts {
		out = append(out, receiptView(rc))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) placeBet(w http.ResponseWriter, r *http.Request, caller domain.Address) {
	id, ok := pathHash(w, r, "pool")
	if !ok {
		return
	}
	var body BetBody
	if !decode(w, r, &body) {
		return
	}
	side, err := domain.ParseSide(body.Side)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	rc, err := s.venue.PlaceBet(r.Context(), settlement.PlaceBetRequest{
		Pool:  id,
		Gross: body.Gross,
		Side:  side,
		Nonce: body.Nonce,
	}, caller)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, receiptView(rc))
}

func (s *Server) publishResult(w http.ResponseWriter, r *http.Request, caller domain.Address) {
	id, ok := pathHash(w, r, "pool")
	if !ok {
		return
	}
	var body ResultBody
	if !decode(w, r, &body) {
		return
	}
	outcome, err := domain.ParseOutcome(body.Outcome)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	p, err := s.venue.PublishResult(r.Context(), settlement.PublishRequest{
		Pool:      id,
		Outcome:   outcome,
		FinalStat: body.FinalStat,
	}, caller)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, poolView(p))
}

func (s *Server) withdrawFees(w http.ResponseWriter, r *http.Request, caller domain.Address) {
	id, ok := pathHash(w, r, "pool")
	if !ok {
		return
	}
	var body RecipientBody
	if !decode(w, r, &body) {
		return
	}
	recipient, ok := optionalAddress(w, "recipient", body.Recipient, caller)
	if !ok {
		return
	}

	amount, err := s.venue.WithdrawFees(r.Context(), id, recipient, caller)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"withdrawn": amount, "recipient": recipient.Hex()})
}

// --- receipts ---

func (s *Server) getReceipt(w http.ResponseWriter, r *http.Request) {
	id, ok := pathHash(w, r, "receipt")
	if !ok {
		return
	}
	rc, err := s.venue.Receipt(r.Context(), id)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, receiptView(rc))
}

func (s *Server) getListing(w http.ResponseWriter, r *http.Request) {
	id, ok := pathHash(w, r, "receipt")
	if !ok {
		return
	}
	l, err := s.venue.Listing(r.Context(), id)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listingView(l))
}

func (s *Server) claim(w http.ResponseWriter, r *http.Request, caller domain.Address) {
	id, ok := pathHash(w, r, "receipt")
	if !ok {
		return
	}
	var body ClaimBody
	if !decode(w, r, &body) {
		return
	}
	recipient, ok := optionalAddress(w, "recipient", body.Recipient, caller)
	if !ok {
		return
	}

	var pool domain.PoolID
	if body.Pool != "" {
		var err error
		if pool, err = domain.ParseHash(body.Pool); err != nil {
			writeError(w, http.StatusBadRequest, "pool: "+err.Error())
			return
		}
	} else {
		rc, err := s.venue.Receipt(r.Context(), id)
		if err != nil {
			s.writeEngineError(w, r, err)
			return
		}
		pool = rc.Pool
	}

	res, err := s.venue.Claim(r.Context(), settlement.ClaimRequest{Pool: pool, Receipt: id, Recipient: recipient}, caller)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"receipt":    receiptView(res.Receipt),
		"settlement": res.Settlement.Kind,
		"payout":     res.Settlement.Payout,
	})
}

func (s *Server) list(w http.ResponseWriter, r *http.Request, caller domain.Address) {
	id, ok := pathHash(w, r, "receipt")
	if !ok {
		return
	}
	l, err := s.venue.List(r.Context(), id, caller)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, listingView(l))
}

func (s *Server) delist(w http.ResponseWriter, r *http.Request, caller domain.Address) {
	id, ok := pathHash(w, r, "receipt")
	if !ok {
		return
	}
	if err := s.venue.Delist(r.Context(), id, caller); err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "delisted"})
}

func (s *Server) reclaim(w http.ResponseWriter, r *http.Request, caller domain.Address) {
	id, ok := pathHash(w, r, "receipt")
	if !ok {
		return
	}
	if err := s.venue.Reclaim(r.Context(), id, caller); err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "reclaimed"})
}

func (s *Server) buy(w http.ResponseWriter, r *http.Request, caller domain.Address) {
	id, ok := pathHash(w, r, "receipt")
	if !ok {
		return
	}
	var body BuyBody
	if !decode(w, r, &body) {
		return
	}
	rc, err := s.venue.Buy(r.Context(), settlement.BuyRequest{Receipt: id, Price: body.Price}, caller)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, receiptView(rc))
}

// --- accounts ---

func (s *Server) deposit(w http.ResponseWriter, r *http.Request, caller domain.Address) {
	var body DepositBody
	if !decode(w, r, &body) {
		return
	}
	to, err := domain.ParseAddress(body.To)
	if err != nil {
		writeError(w, http.StatusBadRequest, "to: "+err.Error())
		return
	}
	if err := s.venue.Deposit(r.Context(), to, body.Amount, caller); err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"account": to.Hex(), "credited": body.Amount})
}

func (s *Server) balance(w http.ResponseWriter, r *http.Request) {
	addr, err := domain.ParseAddress(r.PathValue("addr"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	bal, err := s.venue.Balance(r.Context(), domain.UserAccount(addr))
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"account": addr.Hex(), "balance": bal})
}

// --- helpers ---

// decode reads a JSON body into v. An empty body leaves v zero.
func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid body: "+err.Error())
		return false
	}
	return true
}

func pathHash(w http.ResponseWriter, r *http.Request, name string) (domain.Hash, bool) {
	h, err := domain.ParseHash(r.PathValue(name))
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("%s: %v", name, err))
		return domain.Hash{}, false
	}
	return h, true
}

func optionalAddress(w http.ResponseWriter, field, s string, fallback domain.Address) (domain.Address, bool) {
	if s == "" {
		return fallback, true
	}
	a, err := domain.ParseAddress(s)
	if err != nil {
		writeError(w, http.StatusBadRequest, field+": "+err.Error())
		return domain.Address{}, false
	}
	return a, true
}
