package nodescan

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"
)

const (
	defaultConfirmTimeout      = 60 * time.Second
	defaultConfirmPollInterval = 2 * time.Second
)

var errSignaturePending = errors.New("signature not confirmed yet")

// TransactionError carries the raw error a transaction failed with on chain.
type TransactionError struct {
	Signature string
	Message   string
}

func (e *TransactionError) Error() string {
	return fmt.Sprintf("transaction %s failed: %s", e.Signature, e.Message)
}

// Confirmer waits for a signature to reach confirmed commitment.
type Confirmer struct {
	RPC          SolanaClient
	WebsocketURL string
	PollInterval time.Duration
	Timeout      time.Duration
	Dialer       *websocket.Dialer
	Logger       *zap.Logger
}

func (c *Confirmer) logger() *zap.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return zap.NewNop()
}

type confirmResult struct {
	via    string
	status *SignatureStatus
	err    error
}

// ConfirmSignature races a websocket subscription against status polling.
// The first confirmation or transaction error wins and the other waiter is
// cancelled.
func (c *Confirmer) ConfirmSignature(ctx context.Context, signature string) (*SignatureStatus, error) {
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = defaultConfirmTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	results := make(chan confirmResult, 2)
	waiters := 0
	if c.RPC != nil {
		waiters++
		go func() {
			status, err := c.poll(ctx, signature)
			results <- confirmResult{via: "poll", status: status, err: err}
		}()
	}
	if c.WebsocketURL != "" {
		waiters++
		go func() {
			status, err := c.subscribe(ctx, signature)
			results <- confirmResult{via: "websocket", status: status, err: err}
		}()
	}
	if waiters == 0 {
		return nil, errors.New("confirm: no rpc client or websocket configured")
	}

	var errs *multierror.Error
	for i := 0; i < waiters; i++ {
		res := <-results
		var txErr *TransactionError
		if res.err == nil || errors.As(res.err, &txErr) {
			c.logger().Debug("signature settled",
				zap.String("signature", signature),
				zap.String("via", res.via),
				zap.Error(res.err))
			return res.status, res.err
		}
		c.logger().Debug("confirmation waiter failed",
			zap.String("via", res.via),
			zap.Error(res.err))
		errs = multierror.Append(errs, fmt.Errorf("%s: %w", res.via, res.err))
	}
	return nil, fmt.Errorf("confirm %s: %w", signature, errs.ErrorOrNil())
}

func (c *Confirmer) poll(ctx context.Context, signature string) (*SignatureStatus, error) {
	interval := c.PollInterval
	if interval <= 0 {
		interval = defaultConfirmPollInterval
	}

	var confirmed *SignatureStatus
	operation := func() error {
		status, err := c.RPC.GetSignatureStatus(ctx, signature)
		if err != nil {
			return err
		}
		if status == nil {
			return errSignaturePending
		}
		if status.Err != "" {
			return backoff.Permanent(&TransactionError{Signature: signature, Message: status.Err})
		}
		if !status.Confirmed() {
			return errSignaturePending
		}
		confirmed = status
		return nil
	}

	policy := backoff.WithContext(backoff.NewConstantBackOff(interval), ctx)
	if err := backoff.Retry(operation, policy); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil && !isTransactionError(err) {
			return nil, ctxErr
		}
		return nil, err
	}
	return confirmed, nil
}

func isTransactionError(err error) bool {
	var txErr *TransactionError
	return errors.As(err, &txErr)
}

type wsSubscribeRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int    `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type wsMessage struct {
	ID     *int            `json:"id"`
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
	Method string          `json:"method"`
	Params *struct {
		Result struct {
			Context struct {
				Slot uint64 `json:"slot"`
			} `json:"context"`
			Value struct {
				Err json.RawMessage `json:"err"`
			} `json:"value"`
		} `json:"result"`
		Subscription uint64 `json:"subscription"`
	} `json:"params"`
}

func (c *Confirmer) subscribe(ctx context.Context, signature string) (*SignatureStatus, error) {
	dialer := c.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	conn, _, err := dialer.DialContext(ctx, c.WebsocketURL, nil)
	if err != nil {
		return nil, fmt.Errorf("dial websocket: %w", err)
	}
	defer conn.Close()

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-stop:
		}
	}()

	err = conn.WriteJSON(wsSubscribeRequest{
		JSONRPC: "2.0",
		ID:      1,
		Method:  "signatureSubscribe",
		Params:  []any{signature, map[string]string{"commitment": "confirmed"}},
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe: %w", err)
	}

	for {
		var msg wsMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			return nil, fmt.Errorf("read websocket: %w", err)
		}
		if msg.Error != nil {
			return nil, fmt.Errorf("subscribe rejected (%d): %s", msg.Error.Code, msg.Error.Message)
		}
		if msg.Method != "signatureNotification" || msg.Params == nil {
			continue
		}
		if raw := rawErrorString(msg.Params.Result.Value.Err); raw != "" {
			return nil, &TransactionError{Signature: signature, Message: raw}
		}
		return &SignatureStatus{
			Signature:          signature,
			Slot:               msg.Params.Result.Context.Slot,
			ConfirmationStatus: "confirmed",
		}, nil
	}
}
