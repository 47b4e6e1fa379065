package detector

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/browsergrid/handoff/types"
)

// captchaMarkers are substrings that identify known CAPTCHA vendors in page
// text, element attributes, or selectors. Matching is case-insensitive.
var captchaMarkers = []string{
	"recaptcha",
	"g-recaptcha",
	"hcaptcha",
	"h-captcha",
	"cf-turnstile",
	"cf-challenge",
	"arkose",
	"funcaptcha",
	"captcha",
}

// twoFactorPhrases appear in page text when a site asks for a second factor.
var twoFactorPhrases = []string{
	"two-factor",
	"two factor",
	"2-step verification",
	"verification code",
	"one-time code",
	"one-time password",
	"authentication code",
	"enter the code we sent",
}

// otpAutocomplete identifies code-entry fields structurally.
const otpAutocomplete = "one-time-code"

// ambiguousFormPhrases mark forms the automation cannot fill safely on its own.
var ambiguousFormPhrases = []string{
	"security question",
	"confirm your identity",
	"are you a robot",
	"unusual activity",
}

// anomalousHTTPStatus holds status codes that usually mean the automation is
// being challenged or blocked rather than a plain page error.
var anomalousHTTPStatus = map[int]bool{
	403: true,
	429: true,
	503: true,
}

// RuleConfig tunes the built-in rule detector.
type RuleConfig struct {
	// ExtraCaptchaMarkers extends the vendor marker list.
	ExtraCaptchaMarkers []string `yaml:"extra_captcha_markers" json:"extra_captcha_markers" env:"EXTRA_CAPTCHA_MARKERS"`
	// DisableHTTPAnomaly turns off the 403/429/503 rule. Useful for sites
	// where 429 is part of normal pagination throttling.
	DisableHTTPAnomaly bool `yaml:"disable_http_anomaly" json:"disable_http_anomaly" env:"DISABLE_HTTP_ANOMALY"`
	// DisableFormAmbiguity turns off the ambiguous-form rule.
	DisableFormAmbiguity bool `yaml:"disable_form_ambiguity" json:"disable_form_ambiguity" env:"DISABLE_FORM_AMBIGUITY"`
}

// RuleDetector implements the built-in trigger rules. Rules are evaluated in
// severity order: CAPTCHA, then two-factor, then form ambiguity, then HTTP
// anomalies, so the most specific category wins when a page matches several.
type RuleDetector struct {
	config RuleConfig
	logger *zap.Logger
}

// NewRuleDetector creates the built-in rule detector.
func NewRuleDetector(config RuleConfig, logger *zap.Logger) *RuleDetector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RuleDetector{
		config: config,
		logger: logger.With(zap.String("component", "rule_detector")),
	}
}

// Detect classifies the snapshot. Nil or empty snapshots yield no trigger.
func (d *RuleDetector) Detect(ctx context.Context, snap *types.Snapshot) *Result {
	if snap.Empty() {
		return NoTrigger()
	}

	if res := d.detectCaptcha(snap); res.Triggered {
		return res
	}
	if res := d.detectTwoFactor(snap); res.Triggered {
		return res
	}
	if !d.config.DisableFormAmbiguity {
		if res := d.detectAmbiguousForm(snap); res.Triggered {
			return res
		}
	}
	if !d.config.DisableHTTPAnomaly {
		if res := d.detectHTTPAnomaly(snap); res.Triggered {
			return res
		}
	}
	return NoTrigger()
}

func (d *RuleDetector) detectCaptcha(snap *types.Snapshot) *Result {
	markers := captchaMarkers
	if len(d.config.ExtraCaptchaMarkers) > 0 {
		markers = append(append([]string{}, markers...), d.config.ExtraCaptchaMarkers...)
	}

	haystacks := []string{strings.ToLower(snap.Text), strings.ToLower(snap.Title)}
	for _, el := range snap.Elements {
		haystacks = append(haystacks, strings.ToLower(el.Selector))
		for k, v := range el.Attrs {
			haystacks = append(haystacks, strings.ToLower(k), strings.ToLower(v))
		}
	}

	for _, marker := range markers {
		m := strings.ToLower(marker)
		for _, h := range haystacks {
			if h != "" && strings.Contains(h, m) {
				return &Result{
					Triggered: true,
					Category:  types.CategoryCaptcha,
					Reason:    "CAPTCHA detected",
					Marker:    marker,
				}
			}
		}
	}
	return NoTrigger()
}

func (d *RuleDetector) detectTwoFactor(snap *types.Snapshot) *Result {
	// Structural signal: a code-entry input field.
	for _, el := range snap.Elements {
		if !el.Visible || el.Tag != "input" {
			continue
		}
		if strings.EqualFold(el.Type, "otp") ||
			strings.EqualFold(el.Attrs["autocomplete"], otpAutocomplete) {
			return &Result{
				Triggered: true,
				Category:  types.CategoryTwoFactor,
				Reason:    "two-factor code entry required",
				Marker:    fmt.Sprintf("input[type=%s]", el.Type),
				Selector:  el.Selector,
			}
		}
	}

	// Textual signal: 2FA phrasing alongside a visible input.
	text := strings.ToLower(snap.Text)
	for _, phrase := range twoFactorPhrases {
		if strings.Contains(text, phrase) {
			res := &Result{
				Triggered: true,
				Category:  types.CategoryTwoFactor,
				Reason:    "two-factor prompt detected",
				Marker:    phrase,
			}
			for _, el := range snap.Elements {
				if el.Visible && el.Tag == "input" {
					res.Selector = el.Selector
					break
				}
			}
			return res
		}
	}
	return NoTrigger()
}

func (d *RuleDetector) detectAmbiguousForm(snap *types.Snapshot) *Result {
	text := strings.ToLower(snap.Text)
	for _, phrase := range ambiguousFormPhrases {
		if strings.Contains(text, phrase) {
			return &Result{
				Triggered: true,
				Category:  types.CategoryFormAmbiguity,
				Reason:    "form requires human judgement",
				Marker:    phrase,
			}
		}
	}
	return NoTrigger()
}

func (d *RuleDetector) detectHTTPAnomaly(snap *types.Snapshot) *Result {
	if anomalousHTTPStatus[snap.HTTPStatus] {
		return &Result{
			Triggered: true,
			Category:  types.CategoryOther,
			Reason:    fmt.Sprintf("anomalous HTTP status %d", snap.HTTPStatus),
			Marker:    fmt.Sprintf("http_%d", snap.HTTPStatus),
		}
	}
	return NoTrigger()
}
