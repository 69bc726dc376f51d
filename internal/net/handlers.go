package net

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/research-ag/icrc1-auction/internal/auction"
	. "github.com/research-ag/icrc1-auction/internal/common"
)

func badRequest(w http.ResponseWriter, err error) {
	writeJSON(w, http.StatusBadRequest, errorBody{Error: "BadRequest", Message: err.Error()})
}

func (s *Server) handleAssets(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.svc.Assets())
}

func (s *Server) handleSettings(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.svc.Settings())
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.svc.NextSession())
}

func (s *Server) handleDepositAccount(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.svc.DepositAccount(principal(r)))
}

func (s *Server) handleNotify(w http.ResponseWriter, r *http.Request) {
	var req notifyRequest
	if err := decode(r, &req); err != nil {
		badRequest(w, err)
		return
	}
	inc, acc, err := s.svc.NotifyDeposit(r.Context(), principal(r), req.Ledger)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, notifyResponse{CreditInc: inc, Credit: acc})
}

func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	var req withdrawRequest
	if err := decode(r, &req); err != nil {
		badRequest(w, err)
		return
	}
	tx, err := s.svc.Withdraw(r.Context(), principal(r), req.Ledger, req.To, req.Amount)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, txResponse{TxID: tx})
}

func (s *Server) handlePlace(side Side) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req placeRequest
		if err := decode(r, &req); err != nil {
			badRequest(w, err)
			return
		}
		var results []auction.OrderResult
		if side == Bid {
			results = s.svc.PlaceBids(principal(r), req.Orders, req.ExpectedRevision)
		} else {
			results = s.svc.PlaceAsks(principal(r), req.Orders, req.ExpectedRevision)
		}
		out := make([]orderResult, len(results))
		for i, res := range results {
			out[i] = orderResult{OrderResult: res, Error: errorOf(res.Err)}
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	var req cancelRequest
	if err := decode(r, &req); err != nil {
		badRequest(w, err)
		return
	}
	orders, errs := s.svc.Cancel(principal(r), req.IDs)
	out := make([]cancelResult, len(orders))
	for i := range orders {
		if errs[i] != nil {
			out[i].Error = errorOf(errs[i])
			continue
		}
		out[i].Order = &orders[i]
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleCancelAll(w http.ResponseWriter, r *http.Request) {
	var req cancelAllRequest
	if err := decode(r, &req); err != nil {
		badRequest(w, err)
		return
	}
	orders := s.svc.CancelAll(principal(r), req.Side, req.Assets...)
	if orders == nil {
		orders = []Order{}
	}
	writeJSON(w, http.StatusOK, orders)
}

func (s *Server) handleManage(w http.ResponseWriter, r *http.Request) {
	var req manageRequest
	if err := decode(r, &req); err != nil {
		badRequest(w, err)
		return
	}
	results, err := s.svc.ManageOrders(principal(r), req.Cancel, req.Place, req.ExpectedRevision)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, results)
}

func (s *Server) handleReplace(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		badRequest(w, fmt.Errorf("order id: %w", err))
		return
	}
	var req replaceRequest
	if err := decode(r, &req); err != nil {
		badRequest(w, err)
		return
	}
	res, err := s.svc.Replace(principal(r), OrderID(id), req.Price, req.Volume, req.ExpectedRevision)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleDarkBooks(w http.ResponseWriter, r *http.Request) {
	var req darkBooksRequest
	if err := decode(r, &req); err != nil {
		badRequest(w, err)
		return
	}
	prev, err := s.svc.ManageDarkOrderBooks(principal(r), req.Updates, req.ExpectedRevision)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, prev)
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if err := decode(r, &req); err != nil {
		badRequest(w, err)
		return
	}
	res, err := s.svc.Query(principal(r), req.Assets, req.Selection)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleListAdmins(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.svc.ListAdmins())
}

func (s *Server) handleAddAdmin(w http.ResponseWriter, r *http.Request) {
	var req adminRequest
	if err := decode(r, &req); err != nil {
		badRequest(w, err)
		return
	}
	if err := s.svc.AddAdmin(principal(r), req.Principal); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRemoveAdmin(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.RemoveAdmin(principal(r), UserID(chi.URLParam(r, "principal"))); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRegisterAsset(w http.ResponseWriter, r *http.Request) {
	var req registerAssetRequest
	if err := decode(r, &req); err != nil {
		badRequest(w, err)
		return
	}
	id, err := s.svc.RegisterAsset(principal(r), req.Ledger, req.MinOrderVolume)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, assetResponse{ID: id})
}

func (s *Server) handleMinOrderVolume(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 32)
	if err != nil {
		badRequest(w, fmt.Errorf("asset id: %w", err))
		return
	}
	var req volumeRequest
	if err := decode(r, &req); err != nil {
		badRequest(w, err)
		return
	}
	if err := s.svc.SetMinOrderVolume(principal(r), AssetID(id), req.Volume); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleQuoteVolumeMinimum(w http.ResponseWriter, r *http.Request) {
	var req volumeRequest
	if err := decode(r, &req); err != nil {
		badRequest(w, err)
		return
	}
	if err := s.svc.SetQuoteVolumeMinimum(principal(r), req.Volume); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
