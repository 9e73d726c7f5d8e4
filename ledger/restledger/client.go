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

// Package restledger talks to the registry contract through a full node's
// JSON REST API
package restledger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/blinklabs-io/landregistry/ledger"
	"github.com/blinklabs-io/landregistry/parcel"
)

const (
	transactionsPath = "/v1/transactions"
	viewPath         = "/v1/view"

	defaultHTTPTimeout = 30 * time.Second
	maxErrorBody       = 4096
)

var _ ledger.Client = (*Client)(nil)

// Client is a ledger.Client backed by the node REST API
type Client struct {
	logger     *slog.Logger
	httpClient *http.Client
	module     ledger.Module
	baseURL    string
	apiKey     string
}

func New(opts ...ClientOptionFunc) (*Client, error) {
	c := &Client{
		module: ledger.DefaultModule(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		// Create logger to throw away logs
		c.logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{Timeout: defaultHTTPTimeout}
	}
	u, err := url.Parse(c.baseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("restledger: invalid base URL %q", c.baseURL)
	}
	c.baseURL = strings.TrimSuffix(c.baseURL, "/")
	if c.module.Address == "" || c.module.Name == "" {
		return nil, errors.New("restledger: module address and name are required")
	}
	return c, nil
}

type entryFunctionPayload struct {
	Function      string   `json:"function"`
	TypeArguments []string `json:"type_arguments"`
	Arguments     []any    `json:"arguments"`
}

type submitRequest struct {
	Sender  string               `json:"sender"`
	Payload entryFunctionPayload `json:"payload"`
}

type txEvent struct {
	Data map[string]any `json:"data"`
	Type string         `json:"type"`
}

type txResponse struct {
	Hash     string    `json:"hash"`
	Version  string    `json:"version"`
	VMStatus string    `json:"vm_status"`
	Events   []txEvent `json:"events"`
	Success  bool      `json:"success"`
}

type errorResponse struct {
	Message     string `json:"message"`
	ErrorCode   string `json:"error_code"`
	VMErrorCode int    `json:"vm_error_code"`
}

func (c *Client) post(
	ctx context.Context,
	fn string,
	path string,
	body any,
	requestID string,
	dest any,
) error {
	data, err := json.Marshal(body)
	if err != nil {
		return &ledger.CallError{Function: fn, Err: err}
	}
	req, err := http.NewRequestWithContext(
		ctx,
		http.MethodPost,
		c.baseURL+path,
		bytes.NewReader(data),
	)
	if err != nil {
		return &ledger.CallError{Function: fn, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if requestID != "" {
		req.Header.Set("Idempotency-Key", requestID)
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &ledger.CallError{
			Function: fn,
			Err:      fmt.Errorf("%w: %w", ledger.ErrUnavailable, err),
		}
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusBadRequest {
		return c.statusError(fn, resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
		// The call may have been applied even though the response was lost
		return &ledger.CallError{
			Function: fn,
			Err:      fmt.Errorf("%w: decode response: %w", ledger.ErrUnavailable, err),
		}
	}
	return nil
}

func (c *Client) statusError(fn string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	var errResp errorResponse
	_ = json.Unmarshal(body, &errResp)
	msg := errResp.Message
	if msg == "" {
		msg = strings.TrimSpace(string(body))
	}
	var kind error
	switch {
	case resp.StatusCode == http.StatusNotFound:
		kind = ledger.ErrNotFound
	case resp.StatusCode == http.StatusTooManyRequests,
		resp.StatusCode == http.StatusRequestTimeout,
		resp.StatusCode >= http.StatusInternalServerError:
		kind = ledger.ErrUnavailable
	default:
		kind = ledger.ErrRejected
	}
	c.logger.Debug(
		"ledger call failed",
		"component", "restledger",
		"function", fn,
		"status", resp.StatusCode,
		"message", msg,
	)
	return &ledger.CallError{
		Function: fn,
		Err:      fmt.Errorf("%w: HTTP %d", kind, resp.StatusCode),
		VMStatus: firstNonEmpty(errResp.ErrorCode, msg),
	}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func (c *Client) submit(
	ctx context.Context,
	fn string,
	call ledger.Call,
	parcelID uint64,
	args ...any,
) (ledger.TxRef, error) {
	if err := call.Validate(); err != nil {
		return ledger.TxRef{}, &ledger.CallError{Function: fn, Err: err}
	}
	body := submitRequest{
		Sender: call.Caller,
		Payload: entryFunctionPayload{
			Function:      c.module.Function(fn),
			TypeArguments: []string{},
			Arguments:     args,
		},
	}
	var resp txResponse
	if err := c.post(ctx, fn, transactionsPath, body, call.RequestID, &resp); err != nil {
		return ledger.TxRef{}, err
	}
	if !resp.Success {
		return ledger.TxRef{}, &ledger.CallError{
			Function: fn,
			Err:      ledger.ErrRejected,
			VMStatus: resp.VMStatus,
		}
	}
	ref := ledger.TxRef{
		Hash:     resp.Hash,
		ParcelID: parcelID,
	}
	if v, err := strconv.ParseUint(resp.Version, 10, 64); err == nil {
		ref.Version = v
	}
	if id, ok := eventParcelID(resp.Events); ok {
		ref.ParcelID = id
	}
	c.logger.Debug(
		"ledger transaction committed",
		"component", "restledger",
		"function", fn,
		"hash", ref.Hash,
		"version", ref.Version,
	)
	return ref, nil
}

// eventParcelID finds the parcel id emitted by the contract, which is encoded
// as a decimal string like other u64 values
func eventParcelID(events []txEvent) (uint64, bool) {
	for _, ev := range events {
		raw, ok := ev.Data["parcel_id"]
		if !ok {
			continue
		}
		return toUint64(raw)
	}
	return 0, false
}

func toUint64(v any) (uint64, bool) {
	switch tv := v.(type) {
	case string:
		ret, err := strconv.ParseUint(tv, 10, 64)
		return ret, err == nil
	case float64:
		if tv < 0 {
			return 0, false
		}
		return uint64(tv), true
	default:
		return 0, false
	}
}

func u64(v uint64) string {
	return strconv.FormatUint(v, 10)
}

func (c *Client) SubmitLand(
	ctx context.Context,
	call ledger.Call,
	data parcel.LandData,
) (ledger.TxRef, error) {
	// Area is sent in whole square meters
	return c.submit(
		ctx,
		ledger.FuncSubmitLand,
		call,
		0,
		data.KhasraNumber,
		data.OwnerName,
		data.OwnerWallet,
		data.District,
		data.Tehsil,
		data.Village,
		u64(uint64(data.Area)),
		data.DocumentCID,
	)
}

func (c *Client) Approve(ctx context.Context, call ledger.Call, id uint64) (ledger.TxRef, error) {
	return c.submit(ctx, ledger.FuncApprove, call, id, u64(id))
}

func (c *Client) Reject(ctx context.Context, call ledger.Call, id uint64) (ledger.TxRef, error) {
	return c.submit(ctx, ledger.FuncReject, call, id, u64(id))
}

func (c *Client) Dispute(ctx context.Context, call ledger.Call, id uint64) (ledger.TxRef, error) {
	return c.submit(ctx, ledger.FuncDispute, call, id, u64(id))
}

func (c *Client) TransferOwnership(
	ctx context.Context,
	call ledger.Call,
	id uint64,
	newOwner string,
) (ledger.TxRef, error) {
	return c.submit(ctx, ledger.FuncTransferOwnership, call, id, u64(id), newOwner)
}

func (c *Client) view(ctx context.Context, fn string, dest any, args ...any) error {
	body := entryFunctionPayload{
		Function:      c.module.Function(fn),
		TypeArguments: []string{},
		Arguments:     args,
	}
	if args == nil {
		body.Arguments = []any{}
	}
	var raw []json.RawMessage
	if err := c.post(ctx, fn, viewPath, body, "", &raw); err != nil {
		return err
	}
	if len(raw) == 0 {
		return &ledger.CallError{Function: fn, Err: errors.New("empty view result")}
	}
	if err := json.Unmarshal(raw[0], dest); err != nil {
		return &ledger.CallError{Function: fn, Err: fmt.Errorf("decode view result: %w", err)}
	}
	return nil
}

type viewParcel struct {
	ID           json.Number `json:"id"`
	KhasraNumber string      `json:"khasra_number"`
	Owner        string      `json:"owner"`
	OwnerName    string      `json:"owner_name"`
	District     string      `json:"district"`
	Tehsil       string      `json:"tehsil"`
	Village      string      `json:"village"`
	Area         json.Number `json:"area"`
	Status       string      `json:"status"`
	DocumentCID  string      `json:"document_cid"`
	Approvers    []string    `json:"approvals"`
}

func (c *Client) ViewParcel(ctx context.Context, id uint64) (ledger.OnChainParcel, error) {
	var vp viewParcel
	if err := c.view(ctx, ledger.FuncGetParcel, &vp, u64(id)); err != nil {
		return ledger.OnChainParcel{}, err
	}
	status, err := parcel.ParseStatus(vp.Status)
	if err != nil {
		return ledger.OnChainParcel{}, &ledger.CallError{Function: ledger.FuncGetParcel, Err: err}
	}
	area, _ := vp.Area.Float64()
	ret := ledger.OnChainParcel{
		ID:           id,
		KhasraNumber: vp.KhasraNumber,
		Owner:        vp.Owner,
		OwnerName:    vp.OwnerName,
		District:     vp.District,
		Tehsil:       vp.Tehsil,
		Village:      vp.Village,
		Area:         area,
		Status:       status,
		DocumentCID:  vp.DocumentCID,
		Approvers:    vp.Approvers,
	}
	if ret.Approvers == nil {
		ret.Approvers = []string{}
	}
	return ret, nil
}

func (c *Client) ViewNextID(ctx context.Context) (uint64, error) {
	var raw any
	if err := c.view(ctx, ledger.FuncGetNextID, &raw); err != nil {
		return 0, err
	}
	ret, ok := toUint64(raw)
	if !ok {
		return 0, &ledger.CallError{
			Function: ledger.FuncGetNextID,
			Err:      fmt.Errorf("unexpected next id value %v", raw),
		}
	}
	return ret, nil
}

type viewCouncilMember struct {
	Name          string `json:"name"`
	Role          string `json:"role"`
	Phone         string `json:"phone"`
	Office        string `json:"office"`
	WalletAddress string `json:"wallet_address"`
}

func (c *Client) ViewCouncil(ctx context.Context) ([]parcel.CouncilMember, error) {
	var members []viewCouncilMember
	if err := c.view(ctx, ledger.FuncGetCouncil, &members); err != nil {
		return nil, err
	}
	ret := make([]parcel.CouncilMember, 0, len(members))
	for _, m := range members {
		ret = append(ret, parcel.CouncilMember(m))
	}
	return ret, nil
}
