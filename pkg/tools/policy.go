package tools

import "fmt"

// Policy defines which tools a user's assistant can use
type Policy struct {
	Allow []string `json:"allow"` // List of allowed tools (* for all)
	Deny  []string `json:"deny"`  // List of denied tools (overrides allow)
}

// IsAllowed checks if a tool is allowed by the policy. Builtin tools are
// subject to Deny only.
func (p *Policy) IsAllowed(toolName string, builtin bool) bool {
	if p == nil {
		// No policy means allow all
		return true
	}

	// Check deny list first (overrides allow list)
	for _, denied := range p.Deny {
		if denied == toolName || denied == "*" {
			return false
		}
	}

	if builtin {
		return true
	}

	for _, allowed := range p.Allow {
		if allowed == toolName || allowed == "*" {
			return true
		}
	}

	// If no explicit allow, deny by default
	return false
}

// Validate rejects policies that deny everything while allowing everything.
func (p *Policy) Validate() error {
	if p == nil {
		return nil
	}

	hasAllowWildcard := false
	for _, allowed := range p.Allow {
		if allowed == "*" {
			hasAllowWildcard = true
			break
		}
	}
	for _, denied := range p.Deny {
		if denied == "*" && hasAllowWildcard {
			return fmt.Errorf("conflicting wildcard rules: both allow and deny contain *")
		}
	}
	return nil
}
