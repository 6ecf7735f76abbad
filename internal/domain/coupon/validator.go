package coupon

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// RepoValidator implements Validator by looking up coupon rules from a
// Repository. Validation has no side effects; redemption happens when the
// sale is persisted.
type RepoValidator struct {
	repo Repository
	now  func() time.Time
}

var _ Validator = (*RepoValidator)(nil)

// NewRepoValidator creates a RepoValidator backed by the given Repository.
func NewRepoValidator(repo Repository) *RepoValidator {
	return &RepoValidator{repo: repo, now: time.Now}
}

// Validate looks up the rule for code and checks every eligibility
// condition, reporting each failing one as an issue.
func (v *RepoValidator) Validate(ctx context.Context, code, clientID string, purchase decimal.Decimal) (*Validation, error) {
	code = NormalizeCode(code)
	if code == "" {
		return &Validation{Issues: []string{"coupon code is empty"}}, nil
	}

	rule, err := v.repo.FindByCode(ctx, code)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return &Validation{Code: code, Issues: []string{"coupon code does not exist"}}, nil
		}
		return nil, errors.Wrap(err, "lookup coupon")
	}

	res := Evaluate(rule, clientID, purchase, v.now())
	return &res, nil
}

// Evaluate checks rule for clientID and purchase at now. A partially valid
// coupon is invalid: Amount is only set when there are no issues.
func Evaluate(rule *Rule, clientID string, purchase decimal.Decimal, now time.Time) Validation {
	res := Validation{Code: rule.Code, Description: rule.Description}

	if !rule.Active {
		res.Issues = append(res.Issues, "coupon is not active")
	}
	if rule.ValidFrom != nil && now.Before(*rule.ValidFrom) {
		res.Issues = append(res.Issues, fmt.Sprintf("coupon is valid from %s", rule.ValidFrom.Format(time.DateOnly)))
	}
	if rule.ValidUntil != nil && now.After(*rule.ValidUntil) {
		res.Issues = append(res.Issues, fmt.Sprintf("coupon expired on %s", rule.ValidUntil.Format(time.DateOnly)))
	}
	if rule.MaxUses > 0 && rule.Uses >= rule.MaxUses {
		res.Issues = append(res.Issues, "coupon usage limit reached")
	}
	if rule.ClientID != "" && rule.ClientID != clientID {
		res.Issues = append(res.Issues, "coupon is not available for this client")
	}
	if purchase.LessThan(rule.MinPurchase) {
		res.Issues = append(res.Issues, fmt.Sprintf("minimum purchase is %s", rule.MinPurchase.StringFixed(2)))
	}

	amount, err := Apply(rule, purchase)
	if err != nil {
		res.Issues = append(res.Issues, err.Error())
	}
	if len(res.Issues) > 0 {
		return res
	}

	res.Valid = true
	res.Amount = amount
	return res
}
