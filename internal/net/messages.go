package net

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/sony/gobreaker"

	"github.com/research-ag/icrc1-auction/internal/auction"
	. "github.com/research-ag/icrc1-auction/internal/common"
	"github.com/research-ag/icrc1-auction/internal/credit"
	"github.com/research-ag/icrc1-auction/internal/ledger"
)

var ErrMissingPrincipal = errors.New("missing principal")

// Requests.

type notifyRequest struct {
	Ledger string `json:"ledger"`
}

type withdrawRequest struct {
	Ledger string         `json:"ledger"`
	To     ledger.Account `json:"to"`
	Amount uint64         `json:"amount"`
}

type placeRequest struct {
	Orders           []auction.OrderRequest `json:"orders"`
	ExpectedRevision *uint64                `json:"expectedRevision,omitempty"`
}

type cancelRequest struct {
	IDs []OrderID `json:"ids"`
}

type cancelAllRequest struct {
	Side   Side      `json:"side"`
	Assets []AssetID `json:"assets,omitempty"`
}

type manageRequest struct {
	Cancel           *auction.Cancellation `json:"cancel,omitempty"`
	Place            []auction.Placement   `json:"place"`
	ExpectedRevision *uint64               `json:"expectedRevision,omitempty"`
}

type replaceRequest struct {
	Price            float64 `json:"price"`
	Volume           uint64  `json:"volume"`
	ExpectedRevision *uint64 `json:"expectedRevision,omitempty"`
}

type darkBooksRequest struct {
	Updates          []auction.DarkBookUpdate `json:"updates"`
	ExpectedRevision *uint64                  `json:"expectedRevision,omitempty"`
}

type queryRequest struct {
	Assets    []AssetID         `json:"assets,omitempty"`
	Selection auction.Selection `json:"selection"`
}

type registerAssetRequest struct {
	Ledger         string `json:"ledger"`
	MinOrderVolume uint64 `json:"minOrderVolume"`
}

type volumeRequest struct {
	Volume uint64 `json:"volume"`
}

type adminRequest struct {
	Principal UserID `json:"principal"`
}

// Responses.

type notifyResponse struct {
	CreditInc uint64         `json:"creditInc"`
	Credit    credit.Account `json:"credit"`
}

type txResponse struct {
	TxID uint64 `json:"txid"`
}

type assetResponse struct {
	ID AssetID `json:"id"`
}

// orderResult carries a placement outcome or its error.
type orderResult struct {
	auction.OrderResult
	Error *errorBody `json:"error,omitempty"`
}

type cancelResult struct {
	Order *Order     `json:"order,omitempty"`
	Error *errorBody `json:"error,omitempty"`
}

type errorBody struct {
	Error   string   `json:"error"`
	Message string   `json:"message,omitempty"`
	OrderID *OrderID `json:"orderId,omitempty"`
	Index   *int     `json:"index,omitempty"`
}

var errorCodes = []struct {
	err    error
	code   string
	status int
}{
	{ErrInsufficientCredit, "InsufficientCredit", http.StatusBadRequest},
	{ErrNoCredit, "NoCredit", http.StatusBadRequest},
	{ErrTooLowOrder, "TooLowOrder", http.StatusBadRequest},
	{ErrUnknownAsset, "UnknownAsset", http.StatusNotFound},
	{ErrUnknownOrder, "UnknownOrder", http.StatusNotFound},
	{ErrAccountRevisionMismatch, "AccountRevisionMismatch", http.StatusConflict},
	{ErrDecrypt, "DecryptError", http.StatusBadRequest},
	{ErrPermissionDenied, "PermissionDenied", http.StatusForbidden},
	{ErrAssetExists, "AssetExists", http.StatusConflict},
	{ErrLastAdmin, "LastAdmin", http.StatusConflict},
	{ErrMissingPrincipal, "Unauthorized", http.StatusUnauthorized},
	{ledger.ErrInsufficientFunds, "InsufficientFunds", http.StatusBadGateway},
	{gobreaker.ErrOpenState, "LedgerUnavailable", http.StatusServiceUnavailable},
	{gobreaker.ErrTooManyRequests, "LedgerUnavailable", http.StatusServiceUnavailable},
}

// encodeError maps an error to its wire form and HTTP status.
func encodeError(err error) (errorBody, int) {
	body := errorBody{Error: "Internal", Message: err.Error()}
	status := http.StatusInternalServerError

	var batch *BatchError
	if errors.As(err, &batch) {
		index := batch.Index
		body.Index = &index
	}
	var conflict *ConflictingOrderError
	var na *NotAvailableError
	switch {
	case errors.As(err, &conflict):
		id := conflict.OrderID
		body.Error, body.OrderID, status = "ConflictingOrder", &id, http.StatusConflict
		return body, status
	case errors.As(err, &na):
		body.Error, body.Message, status = "NotAvailable", na.Message, http.StatusBadRequest
		return body, status
	}
	for _, c := range errorCodes {
		if errors.Is(err, c.err) {
			body.Error, status = c.code, c.status
			break
		}
	}
	return body, status
}

func errorOf(err error) *errorBody {
	if err == nil {
		return nil
	}
	body, _ := encodeError(err)
	return &body
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	body, status := encodeError(err)
	writeJSON(w, status, body)
}

func decode(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
