package domain

import "context"

// PolicyInput is the document handed to the policy engine before a request
// reaches the worker pool.
type PolicyInput struct {
	Action         Action   `json:"action"`
	IdentityHash   string   `json:"identity_hash"`
	EmailDomain    string   `json:"email_domain"`
	Issuer         string   `json:"issuer"`
	Destination    string   `json:"destination,omitempty"`
	ValueWei       string   `json:"value_wei,omitempty"`
	AllowedDomains []string `json:"allowed_domains,omitempty"`
}

type PolicyDeny struct {
	Code    string `json:"code"`
	Message string `json:"message,omitempty"`
}

type PolicyResult struct {
	Allow bool         `json:"allow"`
	Deny  []PolicyDeny `json:"deny,omitempty"`
}

type PolicyEvaluation struct {
	BundleHash string       `json:"bundle_hash"`
	Result     PolicyResult `json:"result"`
}

type PolicyEvaluator interface {
	Evaluate(ctx context.Context, input PolicyInput) (PolicyEvaluation, error)
}
