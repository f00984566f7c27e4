package x402

import "fmt"

// MultiversXNamespace is the CAIP-2 namespace of MultiversX networks
const MultiversXNamespace = "multiversx"

// NetworkForChain returns the CAIP-2 network identifier for a MultiversX chain ID
func NetworkForChain(chainID string) Network {
	return Network(MultiversXNamespace + ":" + chainID)
}

// ValidatePaymentPayload performs basic validation on a payment payload
func ValidatePaymentPayload(p PaymentPayload) error {
	if p.Sender == "" {
		return fmt.Errorf("payment sender is required")
	}
	if p.Receiver == "" {
		return fmt.Errorf("payment receiver is required")
	}
	if p.Signature == "" {
		return fmt.Errorf("payment signature is required")
	}
	if p.ChainID == "" {
		return fmt.Errorf("payment chain ID is required")
	}
	if p.Value == "" {
		return fmt.Errorf("payment value is required")
	}
	return nil
}

// ValidatePaymentRequirements performs basic validation on payment requirements
func ValidatePaymentRequirements(r PaymentRequirements) error {
	if r.PayTo == "" {
		return fmt.Errorf("payment recipient is required")
	}
	if r.Asset == "" {
		return fmt.Errorf("payment asset is required")
	}
	if r.Amount == "" {
		return fmt.Errorf("payment amount is required")
	}
	return nil
}

// findByNetworkAndScheme finds a scheme implementation for a given network/scheme combination
// This supports pattern matching for networks (e.g., "multiversx:*")
func findByNetworkAndScheme[T any](networkMap map[Network]map[string]T, scheme string, network Network) (T, bool) {
	var zero T

	if schemeMap, exists := networkMap[network]; exists {
		if impl, exists := schemeMap[scheme]; exists {
			return impl, true
		}
	}

	for registeredNetwork, schemeMap := range networkMap {
		if network.Match(registeredNetwork) || registeredNetwork.Match(network) {
			if impl, exists := schemeMap[scheme]; exists {
				return impl, true
			}
		}
	}

	return zero, false
}
