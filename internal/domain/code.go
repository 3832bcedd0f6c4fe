package domain

import (
	"strings"
	"time"
)

// CodeNamespace distinguishes which campaign message a discount code belongs
// to. The namespace is structural: it is inferred from the code's prefix.
type CodeNamespace string

const (
	NamespacePrimary  CodeNamespace = "primary"
	NamespaceRecovery CodeNamespace = "recovery"
)

// Code prefixes. "1" marks the first promotional message, "2" the recovery
// message.
const (
	PrimaryCodePrefix  = "SV1-"
	RecoveryCodePrefix = "SV2-"
)

// IncentiveCode is a percent-off discount registered with the external
// discount system. Codes are unique across both namespaces and expire
// independently of subscriber state.
type IncentiveCode struct {
	Code       string     `json:"code"`
	Percent    int        `json:"percent"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
	ExternalID string     `json:"external_id,omitempty"`
}

// ClassifyCode maps a redeemed code to its namespace, or "" if the code does
// not carry one of our prefixes (not every code on an order is ours).
func ClassifyCode(code string) CodeNamespace {
	switch {
	case strings.HasPrefix(code, RecoveryCodePrefix):
		return NamespaceRecovery
	case strings.HasPrefix(code, PrimaryCodePrefix):
		return NamespacePrimary
	default:
		return ""
	}
}
