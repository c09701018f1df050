package payment

import (
	"fmt"
	"strings"

	"github.com/LerianStudio/lib-escrow/escrow/custody"
)

// FinalizePolicy decides who may force-settle a payment to its recipient.
type FinalizePolicy uint8

const (
	// FinalizeBySender accepts only the payment sender.
	FinalizeBySender FinalizePolicy = iota
	// FinalizeByParties accepts the sender or the recipient.
	FinalizeByParties
	// FinalizeByPartiesOrSystem also accepts the manager arbiter.
	FinalizeByPartiesOrSystem
	// FinalizeUnrestricted accepts any caller once the binding holds.
	FinalizeUnrestricted
)

var finalizePolicyNames = map[FinalizePolicy]string{
	FinalizeBySender:          "sender",
	FinalizeByParties:         "parties",
	FinalizeByPartiesOrSystem: "parties_or_system",
	FinalizeUnrestricted:      "unrestricted",
}

func (p FinalizePolicy) String() string {
	if name, ok := finalizePolicyNames[p]; ok {
		return name
	}

	return fmt.Sprintf("FinalizePolicy(%d)", uint8(p))
}

// ParseFinalizePolicy converts a policy name such as "parties_or_system".
func ParseFinalizePolicy(raw string) (FinalizePolicy, error) {
	name := strings.ToLower(strings.TrimSpace(raw))

	for policy, n := range finalizePolicyNames {
		if n == name {
			return policy, nil
		}
	}

	return 0, NewDomainError(ErrorInvalidInput, "finalizePolicy", fmt.Sprintf("unknown finalize policy %q", raw))
}

func (p FinalizePolicy) allows(caller custody.Address, payment Payment, manager Manager) bool {
	switch p {
	case FinalizeBySender:
		return caller == payment.From
	case FinalizeByParties:
		return caller == payment.From || caller == payment.To
	case FinalizeByPartiesOrSystem:
		return caller == payment.From || caller == payment.To || caller == manager.System
	case FinalizeUnrestricted:
		return true
	default:
		return false
	}
}
