// Package errors provides structured, coded error handling for the
// marketplace protocol.
package errors

import "net/http"

// Code is a machine-readable error code.
type Code string

const (
	// CodeUnknown represents an unknown error.
	CodeUnknown Code = "UNKNOWN"

	// Capability errors
	CodeUnauthorizedCapability Code = "UNAUTHORIZED_CAPABILITY"
	CodeCapabilityNotRestored  Code = "CAPABILITY_NOT_RESTORED"
	CodeReceiptMismatch        Code = "RECEIPT_MISMATCH"

	// Kiosk and listing errors
	CodeNotFound         Code = "NOT_FOUND"
	CodeAlreadyExists    Code = "ALREADY_EXISTS"
	CodeDuplicateListing Code = "DUPLICATE_LISTING"
	CodeItemLocked       Code = "ITEM_LOCKED"
	CodePriceMismatch    Code = "PRICE_MISMATCH"

	// Transfer policy errors
	CodeIncompleteRules   Code = "INCOMPLETE_RULES"
	CodeRuleAlreadyProven Code = "RULE_ALREADY_PROVEN"
	CodeRuleNotRegistered Code = "RULE_NOT_REGISTERED"
	CodeRuleUnsatisfied   Code = "RULE_UNSATISFIED"
	CodeRoyaltyMismatch   Code = "ROYALTY_MISMATCH"
	CodePolicyMismatch    Code = "POLICY_MISMATCH"
	CodeRequestLeaked     Code = "TRANSFER_REQUEST_LEAKED"

	// Settlement errors
	CodeInvalidCommand    Code = "INVALID_COMMAND"
	CodeInsufficientFunds Code = "INSUFFICIENT_FUNDS"
	CodeVersionConflict   Code = "VERSION_CONFLICT"
	CodeSettlementFailed  Code = "SETTLEMENT_FAILED"
	CodeUnauthenticated   Code = "UNAUTHENTICATED"
)

// HTTPStatus maps domain codes to HTTP status codes for the node API.
func (c Code) HTTPStatus() int {
	switch c {
	case CodeUnauthenticated:
		return http.StatusUnauthorized

	case CodeUnauthorizedCapability:
		return http.StatusForbidden

	case CodeNotFound:
		return http.StatusNotFound

	case CodeAlreadyExists,
		CodeDuplicateListing:
		return http.StatusConflict

	case CodeVersionConflict:
		return http.StatusConflict

	case CodeInvalidCommand:
		return http.StatusBadRequest

	// Settlement preconditions the submitted commands failed to meet.
	case CodePriceMismatch,
		CodeRoyaltyMismatch,
		CodeIncompleteRules,
		CodeRuleAlreadyProven,
		CodeRuleNotRegistered,
		CodeRuleUnsatisfied,
		CodePolicyMismatch,
		CodeRequestLeaked,
		CodeCapabilityNotRestored,
		CodeReceiptMismatch,
		CodeItemLocked,
		CodeInsufficientFunds:
		return http.StatusUnprocessableEntity

	default:
		return http.StatusInternalServerError
	}
}
