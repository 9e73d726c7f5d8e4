// Copyright 2025 Blink Labs Software
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/blinklabs-io/landregistry/approval"
	"github.com/blinklabs-io/landregistry/event"
	"github.com/blinklabs-io/landregistry/ledger"
	"github.com/blinklabs-io/landregistry/ledgersync"
	"github.com/blinklabs-io/landregistry/parcel"
	"github.com/blinklabs-io/landregistry/registry"
)

func writeJSON(
	w http.ResponseWriter,
	status int,
	v any,
) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	//nolint:errcheck,errchkjson
	json.NewEncoder(w).Encode(v)
}

func writeError(
	w http.ResponseWriter,
	status int,
	errStr string,
	message string,
) {
	writeJSON(w, status, ErrorResponse{
		StatusCode: status,
		Error:      errStr,
		Message:    message,
	})
}

// errorStatus maps a domain error to its HTTP status
func errorStatus(err error) int {
	switch {
	case errors.Is(err, ledger.ErrMissingCaller):
		return http.StatusUnauthorized
	case errors.Is(err, registry.ErrParcelNotFound),
		errors.Is(err, ledger.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, approval.ErrDuplicateApproval),
		errors.Is(err, approval.ErrParcelClosed),
		errors.Is(err, ledger.ErrRejected):
		return http.StatusConflict
	case errors.Is(err, parcel.ErrInvalidParcel),
		errors.Is(err, parcel.ErrInvalidStatus),
		errors.Is(err, parcel.ErrInvalidCouncilMember),
		errors.Is(err, ledgersync.ErrMissingOwner):
		return http.StatusUnprocessableEntity
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, ledger.ErrUnavailable),
		errors.Is(err, ledgersync.ErrLocalApply):
		return http.StatusBadGateway
	case errors.Is(err, ledgersync.ErrClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (a *API) writeDomainError(w http.ResponseWriter, err error) {
	status := errorStatus(err)
	if status >= http.StatusInternalServerError {
		a.logger.Error("request failed", "error", err)
	}
	writeError(w, status, http.StatusText(status), err.Error())
}

func parseID(w http.ResponseWriter, r *http.Request) (uint64, bool) {
	id, err := strconv.ParseUint(r.PathValue("id"), 10, 64)
	if err != nil || id == 0 {
		writeError(w, http.StatusBadRequest, "Bad Request", "invalid parcel id")
		return 0, false
	}
	return id, true
}

func decodeBody(w http.ResponseWriter, r *http.Request, dest any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dest); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(
				w,
				http.StatusRequestEntityTooLarge,
				"Request Entity Too Large",
				"request body exceeds "+strconv.FormatInt(tooLarge.Limit, 10)+" bytes",
			)
			return false
		}
		writeError(w, http.StatusBadRequest, "Bad Request", "invalid request body: "+err.Error())
		return false
	}
	return true
}

func (a *API) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{IsHealthy: true})
}

func searchFilters(r *http.Request) (registry.SearchFilters, error) {
	query := r.URL.Query()
	filters := registry.SearchFilters{
		KhasraID:     strings.TrimSpace(query.Get("khasraId")),
		District:     strings.TrimSpace(query.Get("district")),
		Tehsil:       strings.TrimSpace(query.Get("tehsil")),
		Village:      strings.TrimSpace(query.Get("village")),
		KhasraNumber: strings.TrimSpace(query.Get("khasraNumber")),
		OwnerName:    strings.TrimSpace(query.Get("ownerName")),
	}
	for _, val := range query["status"] {
		for _, part := range strings.Split(val, ",") {
			if strings.TrimSpace(part) == "" {
				continue
			}
			status, err := parcel.ParseStatus(part)
			if err != nil {
				return registry.SearchFilters{}, err
			}
			filters.Statuses = append(filters.Statuses, status)
		}
	}
	return filters, nil
}

// handleSearchParcels handles GET /api/v0/parcels
func (a *API) handleSearchParcels(w http.ResponseWriter, r *http.Request) {
	params, err := ParsePagination(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Bad Request", err.Error())
		return
	}
	filters, err := searchFilters(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Bad Request", err.Error())
		return
	}
	results := a.backend.Parcels.Search(filters)
	SetPaginationHeaders(w, len(results), params)
	writeJSON(w, http.StatusOK, Paginate(results, params))
}

func (a *API) handleGetParcel(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	p, ok := a.backend.Parcels.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, "Not Found", "parcel not found")
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (a *API) handleOwnerParcels(w http.ResponseWriter, r *http.Request) {
	params, err := ParsePagination(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Bad Request", err.Error())
		return
	}
	results := a.backend.Parcels.ByOwnerWallet(r.PathValue("wallet"))
	SetPaginationHeaders(w, len(results), params)
	writeJSON(w, http.StatusOK, Paginate(results, params))
}

func (a *API) writeReceipt(
	w http.ResponseWriter,
	status int,
	res ledgersync.Result[ledgersync.Receipt],
) {
	receipt, err := res.Unwrap()
	if err != nil {
		a.writeDomainError(w, err)
		return
	}
	writeJSON(w, status, ReceiptResponse{Parcel: receipt.Parcel, Tx: receipt.Tx})
}

// handleSubmit handles POST /api/v0/parcels
func (a *API) handleSubmit(w http.ResponseWriter, r *http.Request, caller string) {
	var data parcel.LandData
	if !decodeBody(w, r, &data) {
		return
	}
	if strings.TrimSpace(data.OwnerWallet) == "" {
		data.OwnerWallet = caller
	}
	a.writeReceipt(w, http.StatusCreated, a.backend.Intents.Submit(r.Context(), caller, data))
}

// handleApprove records the caller's approval. The caller must be on the
// council roster.
func (a *API) handleApprove(w http.ResponseWriter, r *http.Request, caller string) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	member, ok := a.backend.Council.ByWallet(caller)
	if !ok {
		writeError(w, http.StatusForbidden, "Forbidden", "caller is not a council member")
		return
	}
	a.writeReceipt(w, http.StatusOK, a.backend.Intents.Approve(r.Context(), caller, id, member))
}

func (a *API) handleReject(w http.ResponseWriter, r *http.Request, caller string) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	a.writeReceipt(w, http.StatusOK, a.backend.Intents.Reject(r.Context(), caller, id))
}

func (a *API) handleDispute(w http.ResponseWriter, r *http.Request, caller string) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	a.writeReceipt(w, http.StatusOK, a.backend.Intents.Dispute(r.Context(), caller, id))
}

func (a *API) handleTransfer(w http.ResponseWriter, r *http.Request, caller string) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	var req TransferRequest
	if !decodeBody(w, r, &req) {
		return
	}
	a.writeReceipt(
		w,
		http.StatusOK,
		a.backend.Intents.TransferOwnership(
			r.Context(),
			caller,
			id,
			req.NewOwnerWallet,
			req.NewOwnerName,
		),
	)
}

// handleDelete removes a parcel from the local registry only
func (a *API) handleDelete(w http.ResponseWriter, r *http.Request, caller string) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	if !a.isAdmin(caller) {
		writeError(w, http.StatusForbidden, "Forbidden", "caller is not an administrator")
		return
	}
	if err := a.backend.Parcels.Delete(r.Context(), id); err != nil {
		a.writeDomainError(w, err)
		return
	}
	a.logger.Info("parcel deleted by administrator", "id", id, "caller", caller)
	if a.events != nil {
		a.events.Publish(
			event.ParcelDeletedEventType,
			event.NewEvent(
				event.ParcelDeletedEventType,
				event.ParcelEvent{ParcelID: id, Caller: caller},
			),
		)
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleCouncil(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, a.backend.Council.Members())
}

func (a *API) handleDistricts(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, a.config.Districts)
}

func (a *API) handleStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, StatsResponse{
		ByStatus: a.backend.Parcels.CountByStatus(),
		Total:    a.backend.Parcels.Count(),
		NextID:   a.backend.Parcels.NextID(),
	})
}
