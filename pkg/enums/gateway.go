package enums

import "fmt"

// Gateway identifies the payment channel a transaction settled through.
type Gateway string

const (
	GatewayUnknown Gateway = "unknown"
	GatewayKorapay Gateway = "korapay"
	GatewayEtegram Gateway = "etegram"
	GatewayWallet  Gateway = "wallet"
	GatewayManual  Gateway = "manual"

	// Legacy gateways. No new charges are initialized against them but
	// historical webhook deliveries still reconcile.
	GatewayPaystack    Gateway = "paystack"
	GatewayFlutterwave Gateway = "flutterwave"
)

var validGateways = []Gateway{
	GatewayUnknown,
	GatewayKorapay,
	GatewayEtegram,
	GatewayWallet,
	GatewayManual,
	GatewayPaystack,
	GatewayFlutterwave,
}

// String implements fmt.Stringer.
func (g Gateway) String() string {
	return string(g)
}

// IsValid reports whether the value is a known Gateway.
func (g Gateway) IsValid() bool {
	for _, candidate := range validGateways {
		if candidate == g {
			return true
		}
	}
	return false
}

// ParseGateway converts raw input into a Gateway.
func ParseGateway(value string) (Gateway, error) {
	for _, candidate := range validGateways {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid gateway %q", value)
}
