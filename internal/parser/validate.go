package parser

import (
	"errors"

	"github.com/go-playground/validator/v10"
)

// validate is a single shared validator instance; per the library's own
// docs it is safe for concurrent use once built, the same reason the
// teacher caches other expensive handles at package scope.
var validate = validator.New()

// validateClaim runs the business-rule layer described in spec.md §4.6
// on top of the structural schema.go check, translating validator field
// errors into ParseProblems tagged CLAIM_INVALID_CORE /
// ACTIVITY_INVALID_CORE.
func validateClaim(c ClaimDTO) []ParseProblem {
	var problems []ParseProblem

	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			for _, fe := range verrs {
				code := CodeClaimInvalidCore
				if fe.StructField() == "Activities" || fe.Namespace() != "" && isActivityField(fe.Namespace()) {
					code = CodeActivityInvalidCore
				}
				problems = append(problems, ParseProblem{
					Severity:   SeverityError,
					Code:       code,
					ObjectType: "Claim",
					ObjectKey:  c.ClaimID,
					Message:    fe.Field() + " failed validation: " + fe.Tag(),
				})
			}
		}
	}

	return problems
}

func isActivityField(namespace string) bool {
	for i := 0; i+len("Activities") <= len(namespace); i++ {
		if namespace[i:i+len("Activities")] == "Activities" {
			return true
		}
	}
	return false
}
