package aggregator

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/R3E-Network/liquidity_layer/internal/app/domain/peer"
	"github.com/R3E-Network/liquidity_layer/internal/app/domain/request"
	gasbanksvc "github.com/R3E-Network/liquidity_layer/internal/app/services/gasbank"
	"github.com/R3E-Network/liquidity_layer/internal/app/storage/memory"
	"github.com/R3E-Network/liquidity_layer/internal/app/vault"
)

type fakeGateway struct {
	quote       int64
	dispatches  []Dispatch
	transfers   []Transfer
	dispatchErr error
	transferErr error
}

func (g *fakeGateway) QuoteGasPayment(context.Context, string) (int64, error) {
	return g.quote, nil
}

func (g *fakeGateway) DispatchPurchase(_ context.Context, d Dispatch) (string, error) {
	if g.dispatchErr != nil {
		return "", g.dispatchErr
	}
	g.dispatches = append(g.dispatches, d)
	return fmt.Sprintf("msg-%d", len(g.dispatches)), nil
}

func (g *fakeGateway) TransferRemote(_ context.Context, t Transfer) (string, error) {
	if g.transferErr != nil {
		return "", g.transferErr
	}
	g.transfers = append(g.transfers, t)
	return fmt.Sprintf("xfer-%d", len(g.transfers)), nil
}

type fakeEscrow struct {
	releases []string
	err      error
}

func (e *fakeEscrow) ReleaseItem(_ context.Context, item request.Item, recipient string) error {
	if e.err != nil {
		return e.err
	}
	e.releases = append(e.releases, item.Collection+"/"+item.TokenID+"->"+recipient)
	return nil
}

type fixture struct {
	svc     *Service
	store   *memory.Store
	vault   *vault.Memory
	gateway *fakeGateway
	escrow  *fakeEscrow
}

func newFixture(t *testing.T, domain string) *fixture {
	t.Helper()
	store := memory.New()
	bank := vault.NewMemory(nil)
	gw := &fakeGateway{}
	esc := &fakeEscrow{}

	svc := New(domain, store, store, gw, bank, nil)
	svc.AttachEscrow(esc)
	return &fixture{svc: svc, store: store, vault: bank, gateway: gw, escrow: esc}
}

func (f *fixture) registerPeer(t *testing.T, domain, address string) {
	t.Helper()
	if _, err := f.store.SetPeer(context.Background(), peer.Peer{Domain: domain, Address: address}); err != nil {
		t.Fatalf("register peer %s: %v", domain, err)
	}
}

func (f *fixture) fund(t *testing.T, token, owner string, amount int64) {
	t.Helper()
	if err := f.vault.Deposit(context.Background(), token, owner, amount); err != nil {
		t.Fatalf("fund %s: %v", owner, err)
	}
}

var item = request.Item{Collection: "punks", TokenID: "42"}

func TestService_BuyValidation(t *testing.T) {
	f := newFixture(t, "linea")

	cases := []struct {
		name  string
		buyer string
		funds []request.FundInput
	}{
		{"missing buyer", "", []request.FundInput{{Domain: "linea", Token: "usdc", Amount: 10}}},
		{"no funds", "alice", nil},
		{"zero amount", "alice", []request.FundInput{{Domain: "linea", Token: "usdc", Amount: 0}}},
		{"negative amount", "alice", []request.FundInput{{Domain: "linea", Token: "usdc", Amount: -5}}},
		{"missing token", "alice", []request.FundInput{{Domain: "linea", Amount: 10}}},
		{"duplicate domain", "alice", []request.FundInput{
			{Domain: "mumbai", Token: "usdc", Amount: 10},
			{Domain: "mumbai", Token: "usdc", Amount: 20},
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := f.svc.Buy(context.Background(), tc.buyer, item, tc.funds); !errors.Is(err, ErrInvalidRequest) {
				t.Fatalf("expected ErrInvalidRequest, got %v", err)
			}
		})
	}

	reqs, err := f.store.ListRequests(context.Background())
	if err != nil {
		t.Fatalf("list requests: %v", err)
	}
	if len(reqs) != 0 {
		t.Fatalf("expected no requests after rejected buys, got %d", len(reqs))
	}
	if len(f.gateway.dispatches) != 0 {
		t.Fatalf("expected no dispatches after rejected buys")
	}
}

func TestService_BuyUnknownPeerIsAtomic(t *testing.T) {
	f := newFixture(t, "linea")
	f.fund(t, "usdc", "alice", 100)

	_, err := f.svc.Buy(context.Background(), "alice", item, []request.FundInput{
		{Domain: "linea", Token: "usdc", Amount: 60},
		{Domain: "mumbai", Token: "usdc", Amount: 40},
	})
	if !errors.Is(err, ErrUnknownPeer) {
		t.Fatalf("expected ErrUnknownPeer, got %v", err)
	}

	reqs, _ := f.store.ListRequests(context.Background())
	if len(reqs) != 0 {
		t.Fatalf("expected no request created, got %d", len(reqs))
	}
	if got := f.vault.BalanceOf(context.Background(), "usdc", "alice"); got != 100 {
		t.Fatalf("expected untouched balance 100, got %d", got)
	}
	if len(f.gateway.dispatches) != 0 {
		t.Fatalf("expected no dispatches")
	}
}

func TestService_BuyLocalOnlyFinalizesImmediately(t *testing.T) {
	f := newFixture(t, "linea")
	f.fund(t, "usdc", "alice", 100)

	req, err := f.svc.Buy(context.Background(), "alice", item, []request.FundInput{
		{Domain: "linea", Token: "usdc", Amount: 100},
	})
	if err != nil {
		t.Fatalf("buy: %v", err)
	}

	if !req.Fulfilled {
		t.Fatalf("expected immediate fulfillment: %#v", req)
	}
	if req.ReceivedTotal != 0 {
		t.Fatalf("local funds must not count toward the received total, got %d", req.ReceivedTotal)
	}
	if got := f.vault.BalanceOf(context.Background(), "usdc", "alice"); got != 0 {
		t.Fatalf("expected buyer debited, balance %d", got)
	}
	if len(f.escrow.releases) != 1 {
		t.Fatalf("expected one escrow release, got %d", len(f.escrow.releases))
	}
}

func TestService_BuyInsufficientLocalFunds(t *testing.T) {
	f := newFixture(t, "linea")
	f.fund(t, "usdc", "alice", 10)

	_, err := f.svc.Buy(context.Background(), "alice", item, []request.FundInput{
		{Domain: "linea", Token: "usdc", Amount: 50},
	})
	if !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}

	reqs, _ := f.store.ListRequests(context.Background())
	if len(reqs) != 0 {
		t.Fatalf("expected no request created")
	}
	if got := f.vault.BalanceOf(context.Background(), "usdc", "alice"); got != 10 {
		t.Fatalf("expected untouched balance, got %d", got)
	}
}

func TestService_BuyDispatchesRemoteFunds(t *testing.T) {
	f := newFixture(t, "linea")
	f.registerPeer(t, "mumbai", "agg-mumbai")
	f.registerPeer(t, "base", "agg-base")
	f.fund(t, "usdc", "alice", 50)

	req, err := f.svc.Buy(context.Background(), "alice", item, []request.FundInput{
		{Domain: "linea", Token: "usdc", Amount: 50},
		{Domain: "mumbai", Token: "usdc", Amount: 30},
		{Domain: "base", Token: "dai", Amount: 20},
	})
	if err != nil {
		t.Fatalf("buy: %v", err)
	}

	if req.Fulfilled {
		t.Fatalf("request with pending remote funds must stay open")
	}
	if !req.Funds[0].Settled || req.Funds[1].Settled || req.Funds[2].Settled {
		t.Fatalf("only the local fund should be settled: %#v", req.Funds)
	}
	if req.ReceivedTotal != 0 {
		t.Fatalf("no remote delivery yet, received total must be 0, got %d", req.ReceivedTotal)
	}

	if len(f.gateway.dispatches) != 2 {
		t.Fatalf("expected 2 dispatches, got %d", len(f.gateway.dispatches))
	}
	first := f.gateway.dispatches[0]
	if first.Destination != "mumbai" || first.Recipient != "agg-mumbai" {
		t.Fatalf("unexpected dispatch routing: %#v", first)
	}
	if first.Call.RequestID != req.ID || first.Call.FundIndex != 1 || first.Call.Amount != 30 || first.Call.Buyer != "alice" {
		t.Fatalf("unexpected purchase call: %#v", first.Call)
	}
	if len(f.escrow.releases) != 0 {
		t.Fatalf("open request must not release escrow")
	}
}

func TestService_BuyPaysDeliveryFees(t *testing.T) {
	f := newFixture(t, "linea")
	f.gateway.quote = 5
	f.registerPeer(t, "mumbai", "agg-mumbai")
	f.registerPeer(t, "base", "agg-base")

	gas := gasbanksvc.New(f.store, nil)
	f.svc.AttachFeePayer(gas)
	if _, err := gas.Deposit(context.Background(), 20, "ops top-up"); err != nil {
		t.Fatalf("deposit gas: %v", err)
	}

	if _, err := f.svc.Buy(context.Background(), "alice", item, []request.FundInput{
		{Domain: "mumbai", Token: "usdc", Amount: 30},
		{Domain: "base", Token: "dai", Amount: 20},
	}); err != nil {
		t.Fatalf("buy: %v", err)
	}

	balance, err := gas.Balance(context.Background())
	if err != nil {
		t.Fatalf("gas balance: %v", err)
	}
	if balance != 10 {
		t.Fatalf("expected gas balance 10 after two payments, got %d", balance)
	}
}

func TestService_BuyAbortsDispatchWithoutGas(t *testing.T) {
	f := newFixture(t, "linea")
	f.gateway.quote = 50
	f.registerPeer(t, "mumbai", "agg-mumbai")

	gas := gasbanksvc.New(f.store, nil)
	f.svc.AttachFeePayer(gas)

	_, err := f.svc.Buy(context.Background(), "alice", item, []request.FundInput{
		{Domain: "mumbai", Token: "usdc", Amount: 30},
	})
	if !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
	if len(f.gateway.dispatches) != 0 {
		t.Fatalf("unfunded dispatch must not be sent")
	}
}

func TestService_RequestIDsAreMonotonic(t *testing.T) {
	f := newFixture(t, "linea")
	f.fund(t, "usdc", "alice", 300)

	var last uint64
	for i := 0; i < 3; i++ {
		req, err := f.svc.Buy(context.Background(), "alice", item, []request.FundInput{
			{Domain: "linea", Token: "usdc", Amount: 100},
		})
		if err != nil {
			t.Fatalf("buy %d: %v", i, err)
		}
		if req.ID != last+1 {
			t.Fatalf("expected request id %d, got %d", last+1, req.ID)
		}
		last = req.ID
	}
}

func openTwoLegRequest(t *testing.T, f *fixture) request.Request {
	t.Helper()
	f.registerPeer(t, "mumbai", "agg-mumbai")
	f.fund(t, "usdc", "alice", 60)

	req, err := f.svc.Buy(context.Background(), "alice", item, []request.FundInput{
		{Domain: "linea", Token: "usdc", Amount: 60},
		{Domain: "mumbai", Token: "usdc", Amount: 40},
	})
	if err != nil {
		t.Fatalf("buy: %v", err)
	}
	return req
}

func callbackFor(t *testing.T, requestID uint64, fundIndex int) []byte {
	t.Helper()
	payload, err := request.EncodeCallback(requestID, fundIndex)
	if err != nil {
		t.Fatalf("encode callback: %v", err)
	}
	return payload
}

func TestService_HandleWithTokensSettlesAndFinalizes(t *testing.T) {
	f := newFixture(t, "linea")
	req := openTwoLegRequest(t, f)

	got, err := f.svc.HandleWithTokens(context.Background(), "mumbai", "agg-mumbai", "usdc", 40, callbackFor(t, req.ID, 1))
	if err != nil {
		t.Fatalf("handle with tokens: %v", err)
	}
	if !got.Fulfilled {
		t.Fatalf("expected fulfilled request: %#v", got)
	}
	if got.ReceivedTotal != 40 {
		t.Fatalf("received total must count only the delivered remote amount, got %d", got.ReceivedTotal)
	}
	if len(f.escrow.releases) != 1 {
		t.Fatalf("expected one escrow release, got %d", len(f.escrow.releases))
	}
	if f.escrow.releases[0] != "punks/42->alice" {
		t.Fatalf("unexpected release %q", f.escrow.releases[0])
	}
}

func TestService_HandleWithTokensDuplicateIsNoop(t *testing.T) {
	f := newFixture(t, "linea")
	req := openTwoLegRequest(t, f)
	payload := callbackFor(t, req.ID, 1)

	if _, err := f.svc.HandleWithTokens(context.Background(), "mumbai", "agg-mumbai", "usdc", 40, payload); err != nil {
		t.Fatalf("first delivery: %v", err)
	}
	got, err := f.svc.HandleWithTokens(context.Background(), "mumbai", "agg-mumbai", "usdc", 40, payload)
	if err != nil {
		t.Fatalf("duplicate delivery must succeed as a no-op, got %v", err)
	}
	if got.ReceivedTotal != 40 {
		t.Fatalf("duplicate delivery double-counted: received total %d", got.ReceivedTotal)
	}
	if len(f.escrow.releases) != 1 {
		t.Fatalf("finalization must run once, got %d releases", len(f.escrow.releases))
	}
}

func TestService_HandleWithTokensOutOfOrder(t *testing.T) {
	f := newFixture(t, "linea")
	f.registerPeer(t, "mumbai", "agg-mumbai")
	f.registerPeer(t, "base", "agg-base")
	f.fund(t, "usdc", "alice", 10)

	req, err := f.svc.Buy(context.Background(), "alice", item, []request.FundInput{
		{Domain: "linea", Token: "usdc", Amount: 10},
		{Domain: "mumbai", Token: "usdc", Amount: 30},
		{Domain: "base", Token: "dai", Amount: 60},
	})
	if err != nil {
		t.Fatalf("buy: %v", err)
	}

	// The base leg lands before the mumbai leg.
	got, err := f.svc.HandleWithTokens(context.Background(), "base", "agg-base", "dai", 60, callbackFor(t, req.ID, 2))
	if err != nil {
		t.Fatalf("base delivery: %v", err)
	}
	if got.Fulfilled {
		t.Fatalf("request must stay open with one leg pending")
	}
	if len(f.escrow.releases) != 0 {
		t.Fatalf("no release before full settlement")
	}

	got, err = f.svc.HandleWithTokens(context.Background(), "mumbai", "agg-mumbai", "usdc", 30, callbackFor(t, req.ID, 1))
	if err != nil {
		t.Fatalf("mumbai delivery: %v", err)
	}
	if !got.Fulfilled || got.ReceivedTotal != 90 {
		t.Fatalf("expected fulfillment with remote total 90: %#v", got)
	}
	if len(f.escrow.releases) != 1 {
		t.Fatalf("expected exactly one release, got %d", len(f.escrow.releases))
	}
}

func TestService_HandleWithTokensUnauthorized(t *testing.T) {
	f := newFixture(t, "linea")
	req := openTwoLegRequest(t, f)
	payload := callbackFor(t, req.ID, 1)

	if _, err := f.svc.HandleWithTokens(context.Background(), "mumbai", "impostor", "usdc", 40, payload); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized for wrong sender, got %v", err)
	}
	if _, err := f.svc.HandleWithTokens(context.Background(), "base", "agg-base", "usdc", 40, payload); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized for unregistered origin, got %v", err)
	}

	got, err := f.store.GetRequest(context.Background(), req.ID)
	if err != nil {
		t.Fatalf("get request: %v", err)
	}
	if got.Funds[1].Settled || got.ReceivedTotal != 0 {
		t.Fatalf("rejected delivery mutated the ledger: %#v", got)
	}
}

func TestService_HandleWithTokensMalformed(t *testing.T) {
	f := newFixture(t, "linea")
	req := openTwoLegRequest(t, f)

	cases := []struct {
		name    string
		token   string
		amount  int64
		payload []byte
	}{
		{"garbage payload", "usdc", 40, []byte("not json")},
		{"unknown request", "usdc", 40, callbackFor(t, req.ID+100, 1)},
		{"fund index out of range", "usdc", 40, callbackFor(t, req.ID, 7)},
		{"amount mismatch", "usdc", 39, callbackFor(t, req.ID, 1)},
		{"token mismatch", "dai", 40, callbackFor(t, req.ID, 1)},
		{"wrong origin fund", "usdc", 60, callbackFor(t, req.ID, 0)},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := f.svc.HandleWithTokens(context.Background(), "mumbai", "agg-mumbai", tc.token, tc.amount, tc.payload); !errors.Is(err, ErrMalformedCallback) {
				t.Fatalf("expected ErrMalformedCallback, got %v", err)
			}
		})
	}

	got, _ := f.store.GetRequest(context.Background(), req.ID)
	if got.Funds[1].Settled || got.ReceivedTotal != 0 {
		t.Fatalf("rejected deliveries mutated the ledger: %#v", got)
	}
}

func TestService_EscrowFailureDoesNotRollBack(t *testing.T) {
	f := newFixture(t, "linea")
	f.escrow.err = errors.New("market down")
	req := openTwoLegRequest(t, f)

	got, err := f.svc.HandleWithTokens(context.Background(), "mumbai", "agg-mumbai", "usdc", 40, callbackFor(t, req.ID, 1))
	if err != nil {
		t.Fatalf("delivery must succeed despite escrow failure, got %v", err)
	}
	if !got.Fulfilled {
		t.Fatalf("request must stay fulfilled after escrow failure")
	}

	stored, _ := f.store.GetRequest(context.Background(), req.ID)
	if !stored.Fulfilled || !stored.Funds[1].Settled {
		t.Fatalf("escrow failure rolled back the ledger: %#v", stored)
	}
}

func TestService_GetUserTokens(t *testing.T) {
	f := newFixture(t, "mumbai")
	f.registerPeer(t, "linea", "agg-linea")
	f.fund(t, "usdc", "alice", 100)

	call := PurchaseCall{Token: "usdc", Amount: 40, Buyer: "alice", RequestID: 7, FundIndex: 1}

	if _, err := f.svc.GetUserTokens(context.Background(), "linea", "impostor", call); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if got := f.vault.BalanceOf(context.Background(), "usdc", "alice"); got != 100 {
		t.Fatalf("rejected call debited buyer: %d", got)
	}

	messageID, err := f.svc.GetUserTokens(context.Background(), "linea", "agg-linea", call)
	if err != nil {
		t.Fatalf("get user tokens: %v", err)
	}
	if messageID == "" {
		t.Fatalf("expected a message id")
	}
	if got := f.vault.BalanceOf(context.Background(), "usdc", "alice"); got != 60 {
		t.Fatalf("expected buyer debited to 60, got %d", got)
	}

	if len(f.gateway.transfers) != 1 {
		t.Fatalf("expected one transfer, got %d", len(f.gateway.transfers))
	}
	xfer := f.gateway.transfers[0]
	if xfer.Destination != "linea" || xfer.Recipient != "agg-linea" || xfer.Amount != 40 {
		t.Fatalf("unexpected transfer: %#v", xfer)
	}
	cb, err := request.DecodeCallback(xfer.Callback)
	if err != nil {
		t.Fatalf("decode attached callback: %v", err)
	}
	if cb.RequestID != 7 || cb.FundIndex != 1 {
		t.Fatalf("unexpected callback: %#v", cb)
	}
}

func TestService_GetUserTokensInsufficientBalance(t *testing.T) {
	f := newFixture(t, "mumbai")
	f.registerPeer(t, "linea", "agg-linea")
	f.fund(t, "usdc", "alice", 10)

	call := PurchaseCall{Token: "usdc", Amount: 40, Buyer: "alice", RequestID: 7, FundIndex: 1}
	if _, err := f.svc.GetUserTokens(context.Background(), "linea", "agg-linea", call); !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
	if len(f.gateway.transfers) != 0 {
		t.Fatalf("no transfer must be sent without funds")
	}
	if got := f.vault.BalanceOf(context.Background(), "usdc", "alice"); got != 10 {
		t.Fatalf("failed call must not debit buyer, balance %d", got)
	}
}

func TestService_GetUserTokensRefundsOnTransferFailure(t *testing.T) {
	f := newFixture(t, "mumbai")
	f.registerPeer(t, "linea", "agg-linea")
	f.fund(t, "usdc", "alice", 100)
	f.gateway.transferErr = errors.New("relay unavailable")

	call := PurchaseCall{Token: "usdc", Amount: 40, Buyer: "alice", RequestID: 7, FundIndex: 1}
	if _, err := f.svc.GetUserTokens(context.Background(), "linea", "agg-linea", call); err == nil {
		t.Fatalf("expected transfer error")
	}
	if got := f.vault.BalanceOf(context.Background(), "usdc", "alice"); got != 100 {
		t.Fatalf("expected debit refunded, balance %d", got)
	}
}
