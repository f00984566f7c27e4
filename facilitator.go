package x402

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// DefaultScheme is used when requirements do not name a scheme
const DefaultScheme = "exact"

// x402Facilitator routes payments to the mechanism registered for their network and scheme
type x402Facilitator struct {
	mu sync.RWMutex

	schemes map[Network]map[string]SchemeNetworkFacilitator
	extras  map[Network]map[string]interface{}

	// Lifecycle hooks
	beforeVerifyHooks    []FacilitatorBeforeVerifyHook
	afterVerifyHooks     []FacilitatorAfterVerifyHook
	onVerifyFailureHooks []FacilitatorOnVerifyFailureHook
	beforeSettleHooks    []FacilitatorBeforeSettleHook
	afterSettleHooks     []FacilitatorAfterSettleHook
	onSettleFailureHooks []FacilitatorOnSettleFailureHook

	now func() time.Time
}

func Newx402Facilitator() *x402Facilitator {
	return &x402Facilitator{
		schemes: make(map[Network]map[string]SchemeNetworkFacilitator),
		extras:  make(map[Network]map[string]interface{}),
		now:     time.Now,
	}
}

// Register registers a facilitator mechanism for a network
func (f *x402Facilitator) Register(network Network, facilitator SchemeNetworkFacilitator, extra ...interface{}) *x402Facilitator {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.schemes[network] == nil {
		f.schemes[network] = make(map[string]SchemeNetworkFacilitator)
	}
	f.schemes[network][facilitator.Scheme()] = facilitator

	if len(extra) > 0 {
		if f.extras[network] == nil {
			f.extras[network] = make(map[string]interface{})
		}
		f.extras[network][facilitator.Scheme()] = extra[0]
	}
	return f
}

// ============================================================================
// Hook Registration Methods
// ============================================================================

func (f *x402Facilitator) OnBeforeVerify(hook FacilitatorBeforeVerifyHook) *x402Facilitator {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.beforeVerifyHooks = append(f.beforeVerifyHooks, hook)
	return f
}

func (f *x402Facilitator) OnAfterVerify(hook FacilitatorAfterVerifyHook) *x402Facilitator {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.afterVerifyHooks = append(f.afterVerifyHooks, hook)
	return f
}

func (f *x402Facilitator) OnVerifyFailure(hook FacilitatorOnVerifyFailureHook) *x402Facilitator {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onVerifyFailureHooks = append(f.onVerifyFailureHooks, hook)
	return f
}

func (f *x402Facilitator) OnBeforeSettle(hook FacilitatorBeforeSettleHook) *x402Facilitator {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.beforeSettleHooks = append(f.beforeSettleHooks, hook)
	return f
}

func (f *x402Facilitator) OnAfterSettle(hook FacilitatorAfterSettleHook) *x402Facilitator {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.afterSettleHooks = append(f.afterSettleHooks, hook)
	return f
}

func (f *x402Facilitator) OnSettleFailure(hook FacilitatorOnSettleFailureHook) *x402Facilitator {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onSettleFailureHooks = append(f.onSettleFailureHooks, hook)
	return f
}

// ============================================================================
// Core Payment Methods
// ============================================================================

// Verify checks a payment against its requirements without touching the ledger state
func (f *x402Facilitator) Verify(ctx context.Context, payload PaymentPayload, requirements PaymentRequirements) (VerifyResponse, error) {
	network := resolveNetwork(payload, requirements)

	f.mu.RLock()
	beforeHooks := f.beforeVerifyHooks
	afterHooks := f.afterVerifyHooks
	failureHooks := f.onVerifyFailureHooks
	f.mu.RUnlock()

	hookCtx := FacilitatorVerifyContext{HookPayment: f.hookPayment(ctx, network, payload, requirements)}
	for _, hook := range beforeHooks {
		result, err := hook(hookCtx)
		if err != nil {
			return VerifyResponse{IsValid: false}, err
		}
		if result != nil && result.Abort {
			return VerifyResponse{IsValid: false}, NewVerifyError(result.Reason, payload.Sender, "aborted by hook")
		}
	}

	verifyResult, verifyErr := f.verify(ctx, network, payload, requirements)
	duration := f.now().Sub(hookCtx.StartedAt)

	if verifyErr != nil {
		failureCtx := FacilitatorVerifyFailureContext{FacilitatorVerifyContext: hookCtx, Error: verifyErr, Duration: duration}
		for _, hook := range failureHooks {
			result, _ := hook(failureCtx)
			if result != nil && result.Recovered {
				return result.Result, nil
			}
		}
		return VerifyResponse{IsValid: false, Payer: payload.Sender}, verifyErr
	}

	resultCtx := FacilitatorVerifyResultContext{FacilitatorVerifyContext: hookCtx, Result: verifyResult, Duration: duration}
	for _, hook := range afterHooks {
		_ = hook(resultCtx)
	}

	return verifyResult, nil
}

// Settle broadcasts a payment to the ledger at most once
func (f *x402Facilitator) Settle(ctx context.Context, payload PaymentPayload, requirements PaymentRequirements) (SettleResponse, error) {
	network := resolveNetwork(payload, requirements)

	f.mu.RLock()
	beforeHooks := f.beforeSettleHooks
	afterHooks := f.afterSettleHooks
	failureHooks := f.onSettleFailureHooks
	f.mu.RUnlock()

	hookCtx := FacilitatorSettleContext{HookPayment: f.hookPayment(ctx, network, payload, requirements)}
	for _, hook := range beforeHooks {
		result, err := hook(hookCtx)
		if err != nil {
			return SettleResponse{Success: false}, err
		}
		if result != nil && result.Abort {
			return SettleResponse{Success: false}, NewSettleError(result.Reason, payload.Sender, network, "", "aborted by hook")
		}
	}

	settleResult, settleErr := f.settle(ctx, network, payload, requirements)
	duration := f.now().Sub(hookCtx.StartedAt)

	if settleErr != nil {
		failureCtx := FacilitatorSettleFailureContext{FacilitatorSettleContext: hookCtx, Error: settleErr, Duration: duration}
		for _, hook := range failureHooks {
			_ = hook(failureCtx)
		}
		return SettleResponse{Success: false, Payer: payload.Sender, Network: network}, settleErr
	}

	resultCtx := FacilitatorSettleResultContext{FacilitatorSettleContext: hookCtx, Result: settleResult, Duration: duration}
	for _, hook := range afterHooks {
		_ = hook(resultCtx)
	}

	return settleResult, nil
}

func (f *x402Facilitator) hookPayment(ctx context.Context, network Network, payload PaymentPayload, requirements PaymentRequirements) HookPayment {
	return HookPayment{
		Ctx:                 ctx,
		PaymentPayload:      payload,
		PaymentRequirements: requirements,
		Network:             network,
		StartedAt:           f.now(),
	}
}

// ============================================================================
// Internal Typed Methods
// ============================================================================

func (f *x402Facilitator) verify(ctx context.Context, network Network, payload PaymentPayload, requirements PaymentRequirements) (VerifyResponse, error) {
	facilitator, err := f.lookup(network, requirements.Scheme)
	if err != nil {
		return VerifyResponse{IsValid: false}, NewVerifyError(reasonForLookup(err), payload.Sender, err.Error())
	}

	requirements.Network = network
	resp, err := facilitator.Verify(ctx, payload, requirements)
	if err != nil {
		return VerifyResponse{IsValid: false}, err
	}
	return *resp, nil
}

func (f *x402Facilitator) settle(ctx context.Context, network Network, payload PaymentPayload, requirements PaymentRequirements) (SettleResponse, error) {
	facilitator, err := f.lookup(network, requirements.Scheme)
	if err != nil {
		return SettleResponse{Success: false}, NewSettleError(reasonForLookup(err), payload.Sender, network, "", err.Error())
	}

	requirements.Network = network
	resp, err := facilitator.Settle(ctx, payload, requirements)
	if err != nil {
		return SettleResponse{Success: false}, err
	}
	return *resp, nil
}

type lookupError struct {
	reason string
	msg    string
}

func (e *lookupError) Error() string { return e.msg }

func reasonForLookup(err error) string {
	if le, ok := err.(*lookupError); ok {
		return le.reason
	}
	return ErrCodeInternal
}

func (f *x402Facilitator) lookup(network Network, scheme string) (SchemeNetworkFacilitator, error) {
	if scheme == "" {
		scheme = DefaultScheme
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	facilitator, ok := findByNetworkAndScheme(f.schemes, scheme, network)
	if ok {
		return facilitator, nil
	}
	for registered := range f.schemes {
		if network.Match(registered) || registered.Match(network) {
			return nil, &lookupError{
				reason: ErrCodeUnsupportedScheme,
				msg:    fmt.Sprintf("no facilitator for %s on %s", scheme, network),
			}
		}
	}
	return nil, &lookupError{
		reason: ErrCodeUnsupportedNetwork,
		msg:    fmt.Sprintf("no facilitator for network %s", network),
	}
}

// resolveNetwork uses the requirements network when present and falls back to the payload chain
func resolveNetwork(payload PaymentPayload, requirements PaymentRequirements) Network {
	if requirements.Network != "" {
		return requirements.Network
	}
	return NetworkForChain(payload.ChainID)
}

// GetSupported returns supported payment kinds
func (f *x402Facilitator) GetSupported() SupportedResponse {
	f.mu.RLock()
	defer f.mu.RUnlock()

	kinds := []SupportedKind{}
	signers := make(map[string][]string)

	for network, schemeMap := range f.schemes {
		for scheme, facilitator := range schemeMap {
			kind := SupportedKind{
				X402Version: 2,
				Scheme:      scheme,
				Network:     network,
				Extra:       facilitator.GetExtra(network),
			}
			if extra := f.extras[network][scheme]; extra != nil {
				if extraMap, ok := extra.(map[string]interface{}); ok {
					kind.Extra = mergeExtra(kind.Extra, extraMap)
				}
			}
			kinds = append(kinds, kind)

			family := facilitator.CaipFamily()
			for _, signer := range facilitator.GetSigners(network) {
				if !contains(signers[family], signer) {
					signers[family] = append(signers[family], signer)
				}
			}
		}
	}

	sort.Slice(kinds, func(i, j int) bool {
		if kinds[i].Network != kinds[j].Network {
			return kinds[i].Network < kinds[j].Network
		}
		return kinds[i].Scheme < kinds[j].Scheme
	})

	resp := SupportedResponse{Kinds: kinds}
	if len(signers) > 0 {
		resp.Signers = signers
	}
	return resp
}

func mergeExtra(base, overlay map[string]interface{}) map[string]interface{} {
	merged := make(map[string]interface{}, len(base)+len(overlay))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range overlay {
		merged[k] = v
	}
	return merged
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
