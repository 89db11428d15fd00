package rpc

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strings"

	"marketd/crypto"
	"marketd/native/common"
	"marketd/native/marketplace"
)

const (
	codeMarketInvalidParams = -32031
	codeMarketNotFound      = -32032
	codeMarketConflict      = -32033
	codeMarketRejected      = -32034
	codeMarketPaused        = -32035
	codeMarketInternal      = -32036
)

type paymentParam struct {
	From   string `json:"from"`
	To     string `json:"to"`
	Amount string `json:"amount"`
}

type assetTransferParam struct {
	Asset  uint64 `json:"asset"`
	From   string `json:"from"`
	To     string `json:"to"`
	Amount string `json:"amount"`
}

type allowAssetParams struct {
	Caller string       `json:"caller"`
	Asset  uint64       `json:"asset"`
	MbrPay paymentParam `json:"mbrPay"`
}

type optInParams struct {
	Caller string `json:"caller"`
	Asset  uint64 `json:"asset"`
}

type firstDepositParams struct {
	Caller       string             `json:"caller"`
	Nonce        uint64             `json:"nonce"`
	UnitaryPrice string             `json:"unitaryPrice"`
	MbrPay       paymentParam       `json:"mbrPay"`
	Xfer         assetTransferParam `json:"xfer"`
}

type depositParams struct {
	Caller string             `json:"caller"`
	Nonce  uint64             `json:"nonce"`
	Xfer   assetTransferParam `json:"xfer"`
}

type setPriceParams struct {
	Caller       string `json:"caller"`
	Asset        uint64 `json:"asset"`
	Nonce        uint64 `json:"nonce"`
	UnitaryPrice string `json:"unitaryPrice"`
}

type buyParams struct {
	Caller   string       `json:"caller"`
	Owner    string       `json:"owner"`
	Asset    uint64       `json:"asset"`
	Nonce    uint64       `json:"nonce"`
	Quantity string       `json:"quantity"`
	BuyPay   paymentParam `json:"buyPay"`
}

type bidParams struct {
	Caller       string       `json:"caller"`
	Owner        string       `json:"owner"`
	Asset        uint64       `json:"asset"`
	Nonce        uint64       `json:"nonce"`
	Quantity     string       `json:"quantity"`
	UnitaryPrice string       `json:"unitaryPrice"`
	BidPay       paymentParam `json:"bidPay"`
}

type listingRefParams struct {
	Caller string `json:"caller"`
	Asset  uint64 `json:"asset"`
	Nonce  uint64 `json:"nonce"`
}

type getListingParams struct {
	Owner string `json:"owner"`
	Asset uint64 `json:"asset"`
	Nonce uint64 `json:"nonce"`
}

type getAccountParams struct {
	Address string `json:"address"`
}

type getAssetParams struct {
	Asset uint64 `json:"asset"`
}

type listingJSON struct {
	Owner           string  `json:"owner"`
	Asset           uint64  `json:"asset"`
	Nonce           uint64  `json:"nonce"`
	Deposited       string  `json:"deposited"`
	UnitaryPrice    string  `json:"unitaryPrice"`
	Bidder          *string `json:"bidder,omitempty"`
	BidQuantity     string  `json:"bidQuantity"`
	BidUnitaryPrice string  `json:"bidUnitaryPrice"`
}

type accountJSON struct {
	Address  string            `json:"address"`
	Balance  string            `json:"balance"`
	Holdings map[uint64]string `json:"holdings,omitempty"`
}

func decodeParams(req *RPCRequest, out interface{}) *RPCError {
	if len(req.Params) != 1 {
		return &RPCError{Code: codeMarketInvalidParams, Message: "invalid_params", Data: "exactly one parameter object expected"}
	}
	if err := json.Unmarshal(req.Params[0], out); err != nil {
		return &RPCError{Code: codeMarketInvalidParams, Message: "invalid_params", Data: err.Error()}
	}
	return nil
}

func parseAddress(value string) ([20]byte, error) {
	addr, err := crypto.DecodeAddress(strings.TrimSpace(value))
	if err != nil {
		return [20]byte{}, err
	}
	return addr.Bytes(), nil
}

func parseAmount(value string) (*big.Int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return big.NewInt(0), nil
	}
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", value)
	}
	if amount.Sign() < 0 {
		return nil, fmt.Errorf("amount must be non-negative")
	}
	return amount, nil
}

func parsePayment(p paymentParam) (marketplace.Payment, error) {
	from, err := parseAddress(p.From)
	if err != nil {
		return marketplace.Payment{}, fmt.Errorf("payment sender: %w", err)
	}
	to, err := parseAddress(p.To)
	if err != nil {
		return marketplace.Payment{}, fmt.Errorf("payment receiver: %w", err)
	}
	amount, err := parseAmount(p.Amount)
	if err != nil {
		return marketplace.Payment{}, fmt.Errorf("payment amount: %w", err)
	}
	return marketplace.Payment{From: from, To: to, Amount: amount}, nil
}

func parseAssetTransfer(p assetTransferParam) (marketplace.AssetTransfer, error) {
	from, err := parseAddress(p.From)
	if err != nil {
		return marketplace.AssetTransfer{}, fmt.Errorf("transfer sender: %w", err)
	}
	to, err := parseAddress(p.To)
	if err != nil {
		return marketplace.AssetTransfer{}, fmt.Errorf("transfer receiver: %w", err)
	}
	amount, err := parseAmount(p.Amount)
	if err != nil {
		return marketplace.AssetTransfer{}, fmt.Errorf("transfer amount: %w", err)
	}
	return marketplace.AssetTransfer{Asset: p.Asset, From: from, To: to, Amount: amount}, nil
}

func invalidParams(err error) *RPCError {
	return &RPCError{Code: codeMarketInvalidParams, Message: "invalid_params", Data: err.Error()}
}

func marketError(err error) *RPCError {
	switch {
	case errors.Is(err, marketplace.ErrListingNotFound):
		return &RPCError{Code: codeMarketNotFound, Message: "not_found", Data: err.Error()}
	case errors.Is(err, marketplace.ErrListingExists), errors.Is(err, marketplace.ErrCustodyRegistered):
		return &RPCError{Code: codeMarketConflict, Message: "conflict", Data: err.Error()}
	case errors.Is(err, marketplace.ErrNoActiveBid),
		errors.Is(err, marketplace.ErrBidTooLow),
		errors.Is(err, marketplace.ErrInsufficientDeposit),
		errors.Is(err, marketplace.ErrCustodyNotRegistered),
		errors.Is(err, marketplace.ErrTransferMismatch):
		return &RPCError{Code: codeMarketRejected, Message: "rejected", Data: err.Error()}
	case errors.Is(err, common.ErrModulePaused):
		return &RPCError{Code: codeMarketPaused, Message: "paused", Data: err.Error()}
	default:
		return &RPCError{Code: codeMarketInternal, Message: "internal", Data: err.Error()}
	}
}

func listingToJSON(l *marketplace.Listing) listingJSON {
	out := listingJSON{
		Owner:           crypto.NewAddress(l.Key.Owner).String(),
		Asset:           l.Key.Asset,
		Nonce:           l.Key.Nonce,
		Deposited:       l.Deposited.String(),
		UnitaryPrice:    l.UnitaryPrice.String(),
		BidQuantity:     l.BidQuantity.String(),
		BidUnitaryPrice: l.BidUnitaryPrice.String(),
	}
	if l.HasBid() {
		bidder := crypto.NewAddress(l.Bidder).String()
		out.Bidder = &bidder
	}
	return out
}

func (s *Server) handleAllowAsset(_ *http.Request, req *RPCRequest) (interface{}, *RPCError) {
	var params allowAssetParams
	if rpcErr := decodeParams(req, &params); rpcErr != nil {
		return nil, rpcErr
	}
	caller, err := parseAddress(params.Caller)
	if err != nil {
		return nil, invalidParams(err)
	}
	mbrPay, err := parsePayment(params.MbrPay)
	if err != nil {
		return nil, invalidParams(err)
	}
	if err := s.node.MarketAllowAsset(caller, mbrPay, params.Asset); err != nil {
		return nil, marketError(err)
	}
	return map[string]bool{"ok": true}, nil
}

func (s *Server) handleOptIn(_ *http.Request, req *RPCRequest) (interface{}, *RPCError) {
	var params optInParams
	if rpcErr := decodeParams(req, &params); rpcErr != nil {
		return nil, rpcErr
	}
	caller, err := parseAddress(params.Caller)
	if err != nil {
		return nil, invalidParams(err)
	}
	if err := s.node.MarketOptIn(caller, params.Asset); err != nil {
		return nil, marketError(err)
	}
	return map[string]bool{"ok": true}, nil
}

func (s *Server) handleFirstDeposit(_ *http.Request, req *RPCRequest) (interface{}, *RPCError) {
	var params firstDepositParams
	if rpcErr := decodeParams(req, &params); rpcErr != nil {
		return nil, rpcErr
	}
	caller, err := parseAddress(params.Caller)
	if err != nil {
		return nil, invalidParams(err)
	}
	price, err := parseAmount(params.UnitaryPrice)
	if err != nil {
		return nil, invalidParams(err)
	}
	mbrPay, err := parsePayment(params.MbrPay)
	if err != nil {
		return nil, invalidParams(err)
	}
	xfer, err := parseAssetTransfer(params.Xfer)
	if err != nil {
		return nil, invalidParams(err)
	}
	listing, err := s.node.MarketFirstDeposit(caller, mbrPay, xfer, params.Nonce, price)
	if err != nil {
		return nil, marketError(err)
	}
	return listingToJSON(listing), nil
}

func (s *Server) handleDeposit(_ *http.Request, req *RPCRequest) (interface{}, *RPCError) {
	var params depositParams
	if rpcErr := decodeParams(req, &params); rpcErr != nil {
		return nil, rpcErr
	}
	caller, err := parseAddress(params.Caller)
	if err != nil {
		return nil, invalidParams(err)
	}
	xfer, err := parseAssetTransfer(params.Xfer)
	if err != nil {
		return nil, invalidParams(err)
	}
	if err := s.node.MarketDeposit(caller, xfer, params.Nonce); err != nil {
		return nil, marketError(err)
	}
	return map[string]bool{"ok": true}, nil
}

func (s *Server) handleSetPrice(_ *http.Request, req *RPCRequest) (interface{}, *RPCError) {
	var params setPriceParams
	if rpcErr := decodeParams(req, &params); rpcErr != nil {
		return nil, rpcErr
	}
	caller, err := parseAddress(params.Caller)
	if err != nil {
		return nil, invalidParams(err)
	}
	price, err := parseAmount(params.UnitaryPrice)
	if err != nil {
		return nil, invalidParams(err)
	}
	if err := s.node.MarketSetPrice(caller, params.Asset, params.Nonce, price); err != nil {
		return nil, marketError(err)
	}
	return map[string]bool{"ok": true}, nil
}

func (s *Server) handleBuy(_ *http.Request, req *RPCRequest) (interface{}, *RPCError) {
	var params buyParams
	if rpcErr := decodeParams(req, &params); rpcErr != nil {
		return nil, rpcErr
	}
	caller, err := parseAddress(params.Caller)
	if err != nil {
		return nil, invalidParams(err)
	}
	owner, err := parseAddress(params.Owner)
	if err != nil {
		return nil, invalidParams(err)
	}
	quantity, err := parseAmount(params.Quantity)
	if err != nil {
		return nil, invalidParams(err)
	}
	buyPay, err := parsePayment(params.BuyPay)
	if err != nil {
		return nil, invalidParams(err)
	}
	if err := s.node.MarketBuy(caller, owner, params.Asset, params.Nonce, buyPay, quantity); err != nil {
		return nil, marketError(err)
	}
	return map[string]bool{"ok": true}, nil
}

func (s *Server) handleBid(_ *http.Request, req *RPCRequest) (interface{}, *RPCError) {
	var params bidParams
	if rpcErr := decodeParams(req, &params); rpcErr != nil {
		return nil, rpcErr
	}
	caller, err := parseAddress(params.Caller)
	if err != nil {
		return nil, invalidParams(err)
	}
	owner, err := parseAddress(params.Owner)
	if err != nil {
		return nil, invalidParams(err)
	}
	quantity, err := parseAmount(params.Quantity)
	if err != nil {
		return nil, invalidParams(err)
	}
	price, err := parseAmount(params.UnitaryPrice)
	if err != nil {
		return nil, invalidParams(err)
	}
	bidPay, err := parsePayment(params.BidPay)
	if err != nil {
		return nil, invalidParams(err)
	}
	if err := s.node.MarketBid(caller, owner, params.Asset, params.Nonce, bidPay, quantity, price); err != nil {
		return nil, marketError(err)
	}
	return map[string]bool{"ok": true}, nil
}

func (s *Server) handleAcceptBid(_ *http.Request, req *RPCRequest) (interface{}, *RPCError) {
	var params listingRefParams
	if rpcErr := decodeParams(req, &params); rpcErr != nil {
		return nil, rpcErr
	}
	caller, err := parseAddress(params.Caller)
	if err != nil {
		return nil, invalidParams(err)
	}
	if err := s.node.MarketAcceptBid(caller, params.Asset, params.Nonce); err != nil {
		return nil, marketError(err)
	}
	return map[string]bool{"ok": true}, nil
}

func (s *Server) handleWithdraw(_ *http.Request, req *RPCRequest) (interface{}, *RPCError) {
	var params listingRefParams
	if rpcErr := decodeParams(req, &params); rpcErr != nil {
		return nil, rpcErr
	}
	caller, err := parseAddress(params.Caller)
	if err != nil {
		return nil, invalidParams(err)
	}
	if err := s.node.MarketWithdraw(caller, params.Asset, params.Nonce); err != nil {
		return nil, marketError(err)
	}
	return map[string]bool{"ok": true}, nil
}

func (s *Server) handleGetListing(_ *http.Request, req *RPCRequest) (interface{}, *RPCError) {
	var params getListingParams
	if rpcErr := decodeParams(req, &params); rpcErr != nil {
		return nil, rpcErr
	}
	owner, err := parseAddress(params.Owner)
	if err != nil {
		return nil, invalidParams(err)
	}
	listing, err := s.node.MarketListing(owner, params.Asset, params.Nonce)
	if err != nil {
		return nil, marketError(err)
	}
	return listingToJSON(listing), nil
}

func (s *Server) handleGetAccount(_ *http.Request, req *RPCRequest) (interface{}, *RPCError) {
	var params getAccountParams
	if rpcErr := decodeParams(req, &params); rpcErr != nil {
		return nil, rpcErr
	}
	addr, err := parseAddress(params.Address)
	if err != nil {
		return nil, invalidParams(err)
	}
	account, err := s.node.Account(addr)
	if err != nil {
		return nil, marketError(err)
	}
	out := accountJSON{
		Address: crypto.NewAddress(addr).String(),
		Balance: account.Balance.String(),
	}
	if len(account.Holdings) > 0 {
		out.Holdings = make(map[uint64]string, len(account.Holdings))
		for asset, amount := range account.Holdings {
			out.Holdings[asset] = amount.String()
		}
	}
	return out, nil
}

func (s *Server) handleGetAsset(_ *http.Request, req *RPCRequest) (interface{}, *RPCError) {
	var params getAssetParams
	if rpcErr := decodeParams(req, &params); rpcErr != nil {
		return nil, rpcErr
	}
	info, err := s.node.Asset(params.Asset)
	if err != nil {
		return nil, &RPCError{Code: codeMarketNotFound, Message: "not_found", Data: err.Error()}
	}
	return info, nil
}
