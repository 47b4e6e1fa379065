package coordinator

import (
	"fmt"

	"github.com/browsergrid/handoff/types"
)

// fieldNames maps two-factor field hints to operator-facing wording.
var fieldNames = map[string]string{
	"password": "password",
	"2fa":      "two-factor authentication code",
	"username": "username",
	"email":    "email address",
}

// defaultInstructions builds operator guidance for a category when the
// caller supplies none. The selector, when present, names the field the
// human should fill.
func defaultInstructions(category types.Category, selector string) string {
	var text string
	switch category {
	case types.CategoryCaptcha:
		text = "Please solve the CAPTCHA in the browser. The live viewer shows the current page."
	case types.CategoryTwoFactor:
		text = "Please enter the two-factor authentication code in the browser window."
	case types.CategoryFormAmbiguity:
		text = "Please review the form in the browser and fill in the fields the automation could not resolve."
	case types.CategoryExplicitTimeout:
		text = "The automated step timed out. Please complete it manually in the browser."
	default:
		text = "Please resolve the obstacle shown in the browser, then mark this intervention as done."
	}

	if selector != "" {
		text += fmt.Sprintf("\nField selector: %s", selector)
	}
	return text
}

// FieldInstructions builds guidance for a named login field, e.g. "password"
// or "2fa". Unknown field types are used verbatim.
func FieldInstructions(fieldType, selector string) string {
	name, ok := fieldNames[fieldType]
	if !ok {
		name = fieldType
	}
	text := fmt.Sprintf("Please enter the %s in the browser window.", name)
	if selector != "" {
		text += fmt.Sprintf("\nField selector: %s", selector)
	}
	return text
}
