package nodescan

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"
)

const (
	defaultRPCTimeout = 10 * time.Second
	stakeProgramID    = "Stake11111111111111111111111111111111111111"
	lamportsPerSOL    = 1_000_000_000
	// byte offset of the delegation voter pubkey inside a stake account
	stakeVoterOffset = 124
	// deactivation epoch of a stake account that was never deactivated
	unsetEpoch = math.MaxUint64
)

var (
	// ErrNoEndpoints indicates that the client has no RPC endpoint to try.
	ErrNoEndpoints = errors.New("no rpc endpoints configured")

	errMissingResult = errors.New("rpc response missing result")
)

// SolanaClient defines the JSON-RPC operations used by the fetchers.
type SolanaClient interface {
	GetVoteAccounts(ctx context.Context, votePubkey string) ([]VoteAccount, error)
	GetEpochInfo(ctx context.Context) (*EpochInfo, error)
	GetStakeAccounts(ctx context.Context, votePubkey string) ([]StakeAccount, error)
	GetStakeActivation(ctx context.Context, stakeAccount string, epoch *uint64) (*StakeActivation, error)
	GetSignatureStatus(ctx context.Context, signature string) (*SignatureStatus, error)
}

// RPCSolanaClient posts JSON-RPC requests to a list of endpoints. Every call
// starts from the first endpoint and moves on to the next one on any failure.
type RPCSolanaClient struct {
	Endpoints  []string
	HTTPClient *http.Client
	Timeout    time.Duration
	Logger     *zap.Logger
}

func (c *RPCSolanaClient) logger() *zap.Logger {
	if c != nil && c.Logger != nil {
		return c.Logger
	}
	return zap.NewNop()
}

func (c *RPCSolanaClient) timeout() time.Duration {
	if c.Timeout > 0 {
		return c.Timeout
	}
	return defaultRPCTimeout
}

func (c *RPCSolanaClient) httpClient() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return defaultUpstreamClient
}

var defaultUpstreamClient = &http.Client{Transport: newUpstreamTransport(nil, defaultHostLimits)}

// VoteAccount carries the vote account fields reported by getVoteAccounts.
type VoteAccount struct {
	VotePubkey       string
	NodePubkey       string
	ActivatedStake   uint64
	Commission       int
	EpochVoteAccount bool
	EpochCredits     []EpochCredit
	LastVote         uint64
	RootSlot         uint64
	Delinquent       bool
}

// EpochCredit is one [epoch, credits, previousCredits] triple.
type EpochCredit struct {
	Epoch           uint64
	Credits         uint64
	PreviousCredits uint64
}

// CurrentEpochCredits returns the credits earned in the latest reported epoch.
func (v VoteAccount) CurrentEpochCredits() uint64 {
	if len(v.EpochCredits) == 0 {
		return 0
	}
	last := v.EpochCredits[len(v.EpochCredits)-1]
	if last.Credits < last.PreviousCredits {
		return 0
	}
	return last.Credits - last.PreviousCredits
}

// StakeAccount carries parsed information about a delegated stake account.
type StakeAccount struct {
	Address           string
	Lamports          uint64
	DelegatedLamports uint64
	State             string
	VoteAccount       string
	Staker            string
	Withdrawer        string
	ActivationEpoch   uint64
	DeactivationEpoch uint64
}

// StakeActivation is the result of getStakeActivation.
type StakeActivation struct {
	State    string
	Active   uint64
	Inactive uint64
}

// SignatureStatus is the status of a transaction signature.
type SignatureStatus struct {
	Signature          string
	Slot               uint64
	Confirmations      *uint64
	ConfirmationStatus string
	Err                string
}

// Confirmed reports whether the status reached at least confirmed commitment.
func (s *SignatureStatus) Confirmed() bool {
	if s == nil {
		return false
	}
	return s.ConfirmationStatus == "confirmed" || s.ConfirmationStatus == "finalized"
}

// GetVoteAccounts returns the current and delinquent vote accounts, optionally
// narrowed to a single vote pubkey.
func (c *RPCSolanaClient) GetVoteAccounts(ctx context.Context, votePubkey string) ([]VoteAccount, error) {
	config := map[string]any{
		"commitment": "confirmed",
	}
	if votePubkey != "" {
		config["votePubkey"] = votePubkey
	}

	var result rpcVoteAccountsBody
	if err := c.call(ctx, "getVoteAccounts", []any{config}, &result); err != nil {
		return nil, err
	}

	accounts := make([]VoteAccount, 0, len(result.Current)+len(result.Delinquent))
	for _, entry := range result.Current {
		accounts = append(accounts, entry.toVoteAccount(false))
	}
	for _, entry := range result.Delinquent {
		accounts = append(accounts, entry.toVoteAccount(true))
	}
	return accounts, nil
}

// GetEpochInfo retrieves the current epoch metadata.
func (c *RPCSolanaClient) GetEpochInfo(ctx context.Context) (*EpochInfo, error) {
	var result rpcEpochInfo
	if err := c.call(ctx, "getEpochInfo", []any{map[string]any{"commitment": "confirmed"}}, &result); err != nil {
		return nil, err
	}
	if result.SlotsInEpoch == 0 {
		return nil, fmt.Errorf("epoch info: slotsInEpoch is zero")
	}
	info := newEpochInfo(result.Epoch, result.SlotIndex, result.SlotsInEpoch, result.AbsoluteSlot)
	info.BlockHeight = result.BlockHeight
	info.TransactionCount = result.TransactionCount
	return &info, nil
}

// GetStakeAccounts fetches stake accounts delegated to the vote account.
func (c *RPCSolanaClient) GetStakeAccounts(ctx context.Context, votePubkey string) ([]StakeAccount, error) {
	params := []any{
		stakeProgramID,
		map[string]any{
			"encoding":   "jsonParsed",
			"commitment": "confirmed",
			"filters": []any{
				map[string]any{
					"memcmp": map[string]any{
						"offset": stakeVoterOffset,
						"bytes":  votePubkey,
					},
				},
			},
		},
	}

	var result []rpcProgramAccount
	if err := c.call(ctx, "getProgramAccounts", params, &result); err != nil {
		return nil, err
	}

	accounts := make([]StakeAccount, 0, len(result))
	for _, acct := range result {
		parsed := acct.Account.Data.Parsed
		if parsed == nil || parsed.Info.Stake == nil {
			continue
		}
		delegation := parsed.Info.Stake.Delegation
		if delegation.Voter != votePubkey {
			continue
		}
		accounts = append(accounts, StakeAccount{
			Address:           acct.Pubkey,
			Lamports:          acct.Account.Lamports,
			DelegatedLamports: uint64(delegation.Stake),
			State:             parsed.Type,
			VoteAccount:       delegation.Voter,
			Staker:            parsed.Info.Meta.Authorized.Staker,
			Withdrawer:        parsed.Info.Meta.Authorized.Withdrawer,
			ActivationEpoch:   uint64(delegation.ActivationEpoch),
			DeactivationEpoch: uint64(delegation.DeactivationEpoch),
		})
	}
	return accounts, nil
}

// GetStakeActivation returns the activation state of a stake account.
func (c *RPCSolanaClient) GetStakeActivation(ctx context.Context, stakeAccount string, epoch *uint64) (*StakeActivation, error) {
	config := map[string]any{"commitment": "confirmed"}
	if epoch != nil {
		config["epoch"] = *epoch
	}

	var result rpcStakeActivation
	if err := c.call(ctx, "getStakeActivation", []any{stakeAccount, config}, &result); err != nil {
		return nil, err
	}
	return &StakeActivation{
		State:    result.State,
		Active:   result.Active,
		Inactive: result.Inactive,
	}, nil
}

// GetSignatureStatus returns the status of a signature, or nil when the
// cluster does not know it yet.
func (c *RPCSolanaClient) GetSignatureStatus(ctx context.Context, signature string) (*SignatureStatus, error) {
	params := []any{
		[]string{signature},
		map[string]any{"searchTransactionHistory": true},
	}

	var result rpcSignatureStatuses
	if err := c.call(ctx, "getSignatureStatuses", params, &result); err != nil {
		return nil, err
	}
	if len(result.Value) == 0 || result.Value[0] == nil {
		return nil, nil
	}
	status := result.Value[0]
	return &SignatureStatus{
		Signature:          signature,
		Slot:               status.Slot,
		Confirmations:      status.Confirmations,
		ConfirmationStatus: status.ConfirmationStatus,
		Err:                rawErrorString(status.Err),
	}, nil
}

// call sends the request to each endpoint in order and decodes the result of
// the first one that answers with a non-null result and no error.
func (c *RPCSolanaClient) call(ctx context.Context, method string, params []any, result any) error {
	if len(c.Endpoints) == 0 {
		return ErrNoEndpoints
	}

	payload, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      uuid.NewString(),
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return fmt.Errorf("encode %s request: %w", method, err)
	}

	var errs *multierror.Error
	for _, endpoint := range c.Endpoints {
		err := c.callEndpoint(ctx, endpoint, payload, result)
		if err == nil {
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("%s: %w", method, ctxErr)
		}
		c.logger().Warn("rpc endpoint failed",
			zap.String("method", method),
			zap.String("endpoint", endpoint),
			zap.Error(err))
		errs = multierror.Append(errs, fmt.Errorf("%s: %w", endpoint, err))
	}
	return fmt.Errorf("%s: all %d endpoints failed: %w", method, len(c.Endpoints), errs.ErrorOrNil())
}

func (c *RPCSolanaClient) callEndpoint(ctx context.Context, endpoint string, payload []byte, result any) error {
	attemptCtx, cancel := context.WithTimeout(ctx, c.timeout())
	defer cancel()

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient().Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("rpc status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var envelope rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if envelope.Error != nil {
		return fmt.Errorf("rpc error (%d): %s", envelope.Error.Code, envelope.Error.Message)
	}
	raw := bytes.TrimSpace(envelope.Result)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return errMissingResult
	}
	if err := json.Unmarshal(raw, result); err != nil {
		return fmt.Errorf("decode result: %w", err)
	}
	return nil
}

func rawErrorString(raw json.RawMessage) string {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return ""
	}
	return string(trimmed)
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      string `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *rpcError       `json:"error"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcVoteAccountsBody struct {
	Current    []rpcVoteAccount `json:"current"`
	Delinquent []rpcVoteAccount `json:"delinquent"`
}

type rpcVoteAccount struct {
	VotePubkey       string      `json:"votePubkey"`
	NodePubkey       string      `json:"nodePubkey"`
	ActivatedStake   flexUint64  `json:"activatedStake"`
	Commission       int         `json:"commission"`
	EpochVoteAccount bool        `json:"epochVoteAccount"`
	EpochCredits     [][3]uint64 `json:"epochCredits"`
	LastVote         uint64      `json:"lastVote"`
	RootSlot         uint64      `json:"rootSlot"`
}

func (a rpcVoteAccount) toVoteAccount(delinquent bool) VoteAccount {
	credits := make([]EpochCredit, 0, len(a.EpochCredits))
	for _, triple := range a.EpochCredits {
		credits = append(credits, EpochCredit{
			Epoch:           triple[0],
			Credits:         triple[1],
			PreviousCredits: triple[2],
		})
	}
	return VoteAccount{
		VotePubkey:       a.VotePubkey,
		NodePubkey:       a.NodePubkey,
		ActivatedStake:   uint64(a.ActivatedStake),
		Commission:       a.Commission,
		EpochVoteAccount: a.EpochVoteAccount,
		EpochCredits:     credits,
		LastVote:         a.LastVote,
		RootSlot:         a.RootSlot,
		Delinquent:       delinquent,
	}
}

type rpcEpochInfo struct {
	Epoch            uint64 `json:"epoch"`
	AbsoluteSlot     uint64 `json:"absoluteSlot"`
	BlockHeight      uint64 `json:"blockHeight"`
	SlotIndex        uint64 `json:"slotIndex"`
	SlotsInEpoch     uint64 `json:"slotsInEpoch"`
	TransactionCount uint64 `json:"transactionCount"`
}

type rpcProgramAccount struct {
	Pubkey  string                `json:"pubkey"`
	Account rpcProgramAccountInfo `json:"account"`
}

type rpcProgramAccountInfo struct {
	Lamports uint64                `json:"lamports"`
	Data     rpcProgramAccountData `json:"data"`
}

type rpcProgramAccountData struct {
	Parsed *rpcStakeAccountParsed `json:"parsed"`
}

type rpcStakeAccountParsed struct {
	Type string              `json:"type"`
	Info rpcStakeAccountInfo `json:"info"`
}

type rpcStakeAccountInfo struct {
	Meta struct {
		Authorized struct {
			Staker     string `json:"staker"`
			Withdrawer string `json:"withdrawer"`
		} `json:"authorized"`
	} `json:"meta"`
	Stake *struct {
		Delegation rpcStakeDelegation `json:"delegation"`
	} `json:"stake"`
}

type rpcStakeDelegation struct {
	Voter             string     `json:"voter"`
	Stake             flexUint64 `json:"stake"`
	ActivationEpoch   flexUint64 `json:"activationEpoch"`
	DeactivationEpoch flexUint64 `json:"deactivationEpoch"`
}

type rpcStakeActivation struct {
	State    string `json:"state"`
	Active   uint64 `json:"active"`
	Inactive uint64 `json:"inactive"`
}

type rpcSignatureStatuses struct {
	Value []*rpcSignatureStatus `json:"value"`
}

type rpcSignatureStatus struct {
	Slot               uint64          `json:"slot"`
	Confirmations      *uint64         `json:"confirmations"`
	Err                json.RawMessage `json:"err"`
	ConfirmationStatus string          `json:"confirmationStatus"`
}

// flexUint64 decodes integers that upstream APIs encode either as JSON
// numbers or as decimal strings.
type flexUint64 uint64

func (f *flexUint64) UnmarshalJSON(data []byte) error {
	trimmed := strings.Trim(strings.TrimSpace(string(data)), `"`)
	if trimmed == "" || trimmed == "null" {
		*f = 0
		return nil
	}
	if value, err := strconv.ParseUint(trimmed, 10, 64); err == nil {
		*f = flexUint64(value)
		return nil
	}
	value, err := strconv.ParseFloat(trimmed, 64)
	if err != nil || value < 0 || math.IsNaN(value) || math.IsInf(value, 0) {
		return fmt.Errorf("invalid unsigned integer %s", string(data))
	}
	// float64(math.MaxUint64) rounds up to 2^64; the largest uint64 written as a
	// float lands here and maps back to the unset-epoch sentinel.
	if value >= float64(math.MaxUint64) {
		*f = flexUint64(math.MaxUint64)
		return nil
	}
	*f = flexUint64(value)
	return nil
}

func lamportsToSOL(lamports uint64) float64 {
	return float64(lamports) / lamportsPerSOL
}
