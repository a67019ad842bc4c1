package hitl

import "strings"

// approvalWords classify a free-text answer as consent. The /approve and
// /reject commands resolve with the literal words "approve" / "reject".
var approvalWords = map[string]bool{
	"approve": true, "approved": true, "yes": true, "y": true, "ok": true,
	"okay": true, "go": true, "go ahead": true, "do it": true, "sure": true,
	"aprobar": true, "aprueba": true, "si": true, "sí": true, "dale": true,
	"adelante": true,
}

// IsApproval reports whether a rendezvous answer authorizes the pending
// action. The TIMEOUT sentinel and anything unrecognized deny.
func IsApproval(answer string) bool {
	if answer == Timeout {
		return false
	}
	normalized := strings.ToLower(strings.TrimSpace(answer))
	normalized = strings.TrimSuffix(normalized, ".")
	normalized = strings.TrimSuffix(normalized, "!")
	return approvalWords[normalized]
}
