// Package proxy talks to the MultiversX proxy (gateway) REST API.
package proxy

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/x402-foundation/x402-multiversx/mechanisms/multiversx"
)

const (
	sendPath     = "/transaction/send"
	simulatePath = "/transaction/simulate"
	configPath   = "/network/config"

	codeSuccessful = "successful"

	// DefaultTimeout bounds each gateway request
	DefaultTimeout = 30 * time.Second
)

// Config configures a Client
type Config struct {
	URL     string
	Timeout time.Duration
}

// Client is a gateway-backed ledger client. It implements multiversx.Broadcaster
// and multiversx.Simulator.
//
// Requests are never retried: a send that timed out may still have reached the
// mempool, and retrying is the settler's decision.
type Client struct {
	httpClient *resty.Client
	logger     *zap.Logger
}

var (
	_ multiversx.Broadcaster = (*Client)(nil)
	_ multiversx.Simulator   = (*Client)(nil)
)

// New creates a gateway client. httpClient may be nil.
func New(logger *zap.Logger, httpClient *resty.Client, config Config) (*Client, error) {
	if config.URL == "" {
		return nil, errors.New("proxy URL is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if httpClient == nil {
		httpClient = resty.New()
	}
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	logger = logger.Named("proxy")
	httpClient = httpClient.
		SetBaseURL(strings.TrimRight(config.URL, "/")).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json").
		SetHeader("Content-Type", "application/json").
		SetLogger(logger.Sugar()).
		SetDebug(logger.Core().Enabled(zap.DebugLevel))

	return &Client{httpClient: httpClient, logger: logger}, nil
}

type sendResponse struct {
	Data struct {
		TxHash string `json:"txHash"`
	} `json:"data"`
	Err  string `json:"error"`
	Code string `json:"code"`
}

// Broadcast submits tx and returns the hash reported by the gateway
func (c *Client) Broadcast(ctx context.Context, tx *multiversx.Transaction) (string, error) {
	result := &sendResponse{}
	apiErr := &APIError{}

	response, err := c.httpClient.R().
		SetContext(ctx).
		SetBody(tx).
		SetResult(result).
		SetError(apiErr).
		Post(sendPath)
	if err != nil {
		return "", requestError(ctx, err)
	}
	apiErr.Status = response.StatusCode()

	switch response.StatusCode() {
	case http.StatusOK:
		if result.Code != "" && result.Code != codeSuccessful {
			return "", fmt.Errorf("transaction rejected: %s (%s)", result.Err, result.Code)
		}
		if result.Data.TxHash == "" {
			return "", errors.New("gateway returned no transaction hash")
		}
		return result.Data.TxHash, nil
	case http.StatusBadRequest:
		return "", fmt.Errorf("transaction rejected: %w", apiErr)
	default:
		return "", fmt.Errorf("gateway returned unexpected http status [%d %s]: %w", response.StatusCode(), response.Status(), apiErr)
	}
}

type simulationOutcome struct {
	Status     string `json:"status"`
	FailReason string `json:"failReason"`
	Hash       string `json:"hash"`
}

type simulateResponse struct {
	Data struct {
		simulationOutcome
		// Result is keyed by shard ("senderShard", "receiverShard") for cross-shard transactions
		Result map[string]simulationOutcome `json:"result"`
	} `json:"data"`
	Err  string `json:"error"`
	Code string `json:"code"`
}

// Simulate dry-runs tx against current ledger state. A transaction the ledger would
// reject is reported through the result, not the error.
func (c *Client) Simulate(ctx context.Context, tx *multiversx.Transaction) (*multiversx.SimulationResult, error) {
	result := &simulateResponse{}
	apiErr := &APIError{}

	response, err := c.httpClient.R().
		SetContext(ctx).
		SetBody(tx).
		SetResult(result).
		SetError(apiErr).
		Post(simulatePath)
	if err != nil {
		return nil, requestError(ctx, err)
	}
	apiErr.Status = response.StatusCode()

	switch response.StatusCode() {
	case http.StatusOK:
		return simulationResult(result), nil
	case http.StatusBadRequest:
		// the gateway refuses transactions it cannot even simulate, e.g. a bad nonce
		return &multiversx.SimulationResult{Status: "fail", FailReason: apiErr.Err}, nil
	default:
		return nil, fmt.Errorf("gateway returned unexpected http status [%d %s]: %w", response.StatusCode(), response.Status(), apiErr)
	}
}

func simulationResult(resp *simulateResponse) *multiversx.SimulationResult {
	if resp.Code != "" && resp.Code != codeSuccessful {
		return &multiversx.SimulationResult{Status: "fail", FailReason: resp.Err}
	}
	if resp.Data.Status != "" {
		o := resp.Data.simulationOutcome
		return &multiversx.SimulationResult{Status: o.Status, FailReason: o.FailReason, Hash: o.Hash}
	}

	// cross-shard: every shard has to succeed
	out := &multiversx.SimulationResult{Status: multiversx.SimulationStatusSuccess}
	if len(resp.Data.Result) == 0 {
		out.Status = "fail"
		out.FailReason = "empty simulation result"
		return out
	}
	for _, shard := range []string{"senderShard", "receiverShard"} {
		o, ok := resp.Data.Result[shard]
		if !ok {
			continue
		}
		out.Hash = o.Hash
		if o.Status != multiversx.SimulationStatusSuccess {
			out.Status = o.Status
			out.FailReason = o.FailReason
			return out
		}
	}
	return out
}

type networkConfigResponse struct {
	Data struct {
		Config struct {
			ChainID        string `json:"erd_chain_id"`
			MinGasPrice    uint64 `json:"erd_min_gas_price"`
			MinGasLimit    uint64 `json:"erd_min_gas_limit"`
			GasPerDataByte uint64 `json:"erd_gas_per_data_byte"`
		} `json:"config"`
	} `json:"data"`
}

// NetworkConfig is the subset of the gateway network configuration the facilitator uses
type NetworkConfig struct {
	ChainID        string
	MinGasPrice    uint64
	MinGasLimit    uint64
	GasPerDataByte uint64
}

// NetworkConfig fetches the network configuration, used at startup to check the chain ID
func (c *Client) NetworkConfig(ctx context.Context) (*NetworkConfig, error) {
	result := &networkConfigResponse{}
	apiErr := &APIError{}

	response, err := c.httpClient.R().
		SetContext(ctx).
		SetResult(result).
		SetError(apiErr).
		Get(configPath)
	if err != nil {
		return nil, requestError(ctx, err)
	}
	apiErr.Status = response.StatusCode()

	if response.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("gateway returned unexpected http status [%d %s]: %w", response.StatusCode(), response.Status(), apiErr)
	}

	cfg := result.Data.Config
	return &NetworkConfig{
		ChainID:        cfg.ChainID,
		MinGasPrice:    cfg.MinGasPrice,
		MinGasLimit:    cfg.MinGasLimit,
		GasPerDataByte: cfg.GasPerDataByte,
	}, nil
}

// requestError keeps context errors matchable with errors.Is
func requestError(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil && !errors.Is(err, ctxErr) {
		return fmt.Errorf("gateway request aborted: %w (%v)", ctxErr, err)
	}
	var netError net.Error
	if errors.As(err, &netError) && netError.Timeout() {
		return fmt.Errorf("gateway timed out: %w", context.DeadlineExceeded)
	}
	if errors.As(err, &netError) {
		return fmt.Errorf("gateway is unreachable: %w", netError)
	}
	return fmt.Errorf("failed to send request to gateway: %w", err)
}
