package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	app "github.com/R3E-Network/liquidity_layer/internal/app"
	"github.com/R3E-Network/liquidity_layer/internal/app/domain/request"
	"github.com/R3E-Network/liquidity_layer/internal/app/services/aggregator"
	"github.com/R3E-Network/liquidity_layer/internal/app/storage"
)

// Auth carries the credentials guarding privileged routes. AdminSecret signs
// the bearer tokens accepted on admin routes; RelayKey authenticates the
// relayer delivering inbound messages.
type Auth struct {
	AdminSecret string
	RelayKey    string
}

// handler bundles HTTP endpoints for the application services.
type handler struct {
	app *app.Application
}

// NewHandler returns a router exposing the coordinator REST API.
func NewHandler(application *app.Application, auth Auth) http.Handler {
	h := &handler{app: application}
	r := mux.NewRouter()

	r.HandleFunc("/healthz", h.health).Methods(http.MethodGet)

	r.HandleFunc("/requests", h.createRequest).Methods(http.MethodPost)
	r.HandleFunc("/requests", h.listRequests).Methods(http.MethodGet)
	r.HandleFunc("/requests/{id}", h.getRequest).Methods(http.MethodGet)

	r.HandleFunc("/peers", h.listPeers).Methods(http.MethodGet)
	r.HandleFunc("/peers/{domain}", h.getPeer).Methods(http.MethodGet)

	admin := r.NewRoute().Subrouter()
	admin.Use(adminMiddleware(auth.AdminSecret))
	admin.HandleFunc("/peers/{domain}", h.setPeer).Methods(http.MethodPut)
	admin.HandleFunc("/peers/{domain}", h.removePeer).Methods(http.MethodDelete)
	admin.HandleFunc("/gasbank/deposits", h.depositGas).Methods(http.MethodPost)
	admin.HandleFunc("/vault/deposits", h.depositVault).Methods(http.MethodPost)

	r.HandleFunc("/gasbank", h.gasBalance).Methods(http.MethodGet)
	r.HandleFunc("/gasbank/transactions", h.gasHistory).Methods(http.MethodGet)

	inbound := r.PathPrefix("/inbound").Subrouter()
	inbound.Use(relayMiddleware(auth.RelayKey))
	inbound.HandleFunc("/get-user-tokens", h.inboundGetUserTokens).Methods(http.MethodPost)
	inbound.HandleFunc("/handle-with-tokens", h.inboundHandleWithTokens).Methods(http.MethodPost)

	return r
}

func (h *handler) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handler) createRequest(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Buyer      string `json:"buyer"`
		Collection string `json:"collection"`
		TokenID    string `json:"token_id"`
		Funds      []struct {
			Domain string `json:"domain"`
			Token  string `json:"token"`
			Amount int64  `json:"amount"`
		} `json:"funds"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	funds := make([]request.FundInput, 0, len(payload.Funds))
	for _, f := range payload.Funds {
		funds = append(funds, request.FundInput{Domain: f.Domain, Token: f.Token, Amount: f.Amount})
	}

	req, err := h.app.Aggregator.Buy(r.Context(), payload.Buyer, request.Item{
		Collection: payload.Collection,
		TokenID:    payload.TokenID,
	}, funds)
	if err != nil {
		writeError(w, statusForError(err), err)
		return
	}
	writeJSON(w, http.StatusCreated, req)
}

func (h *handler) listRequests(w http.ResponseWriter, r *http.Request) {
	reqs, err := h.app.Aggregator.ListRequests(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, reqs)
}

func (h *handler) getRequest(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, errors.New("request id must be a number"))
		return
	}
	req, err := h.app.Aggregator.GetRequest(r.Context(), id)
	if err != nil {
		writeError(w, statusForError(err), err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

func (h *handler) listPeers(w http.ResponseWriter, r *http.Request) {
	peers, err := h.app.Peers.ListPeers(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, peers)
}

func (h *handler) getPeer(w http.ResponseWriter, r *http.Request) {
	p, err := h.app.Peers.GetPeer(r.Context(), mux.Vars(r)["domain"])
	if err != nil {
		writeError(w, statusForError(err), err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *handler) setPeer(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Address string `json:"address"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	p, err := h.app.Peers.SetPeer(r.Context(), mux.Vars(r)["domain"], payload.Address)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *handler) removePeer(w http.ResponseWriter, r *http.Request) {
	if err := h.app.Peers.RemovePeer(r.Context(), mux.Vars(r)["domain"]); err != nil {
		writeError(w, statusForError(err), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) depositGas(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Amount    int64  `json:"amount"`
		Reference string `json:"reference"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	tx, err := h.app.GasBank.Deposit(r.Context(), payload.Amount, payload.Reference)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusCreated, tx)
}

func (h *handler) gasBalance(w http.ResponseWriter, r *http.Request) {
	balance, err := h.app.GasBank.Balance(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"balance": balance})
}

func (h *handler) gasHistory(w http.ResponseWriter, r *http.Request) {
	txs, err := h.app.GasBank.History(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, txs)
}

func (h *handler) depositVault(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Token  string `json:"token"`
		Owner  string `json:"owner"`
		Amount int64  `json:"amount"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if payload.Amount <= 0 {
		writeError(w, http.StatusBadRequest, errors.New("amount must be positive"))
		return
	}
	if err := h.app.Vault.Credit(r.Context(), payload.Token, payload.Owner, payload.Amount); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) inboundGetUserTokens(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Origin string `json:"origin"`
		Sender string `json:"sender"`
		Call   struct {
			Token     string `json:"token"`
			Amount    int64  `json:"amount"`
			Buyer     string `json:"buyer"`
			RequestID uint64 `json:"request_id"`
			FundIndex int    `json:"fund_index"`
		} `json:"call"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	messageID, err := h.app.Aggregator.GetUserTokens(r.Context(), payload.Origin, payload.Sender, aggregator.PurchaseCall{
		Token:     payload.Call.Token,
		Amount:    payload.Call.Amount,
		Buyer:     payload.Call.Buyer,
		RequestID: payload.Call.RequestID,
		FundIndex: payload.Call.FundIndex,
	})
	if err != nil {
		writeError(w, statusForError(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message_id": messageID})
}

func (h *handler) inboundHandleWithTokens(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Origin   string `json:"origin"`
		Sender   string `json:"sender"`
		Token    string `json:"token"`
		Amount   int64  `json:"amount"`
		Callback []byte `json:"callback"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	req, err := h.app.Aggregator.HandleWithTokens(r.Context(), payload.Origin, payload.Sender, payload.Token, payload.Amount, payload.Callback)
	if err != nil {
		writeError(w, statusForError(err), err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

func statusForError(err error) int {
	switch {
	case errors.Is(err, aggregator.ErrInvalidRequest), errors.Is(err, aggregator.ErrMalformedCallback):
		return http.StatusBadRequest
	case errors.Is(err, aggregator.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, aggregator.ErrUnknownPeer), errors.Is(err, aggregator.ErrInsufficientFunds):
		return http.StatusConflict
	case errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func decodeJSON(body io.ReadCloser, dst interface{}) error {
	defer body.Close()
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}
