// Vigil - Security Threat Detection and Alert Escalation Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vigil

package notify

import (
	"bytes"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"text/template"

	"github.com/tomtom215/vigil/internal/logging"
	"github.com/tomtom215/vigil/internal/models"
)

// Template holds the message texts of one alert type. Placeholders are
// written as {name}; each text is compiled to a text/template whose data is
// the variable map built by templateVars.
type Template struct {
	Subject string
	Short   string
	Slack   string
}

// Rendered is a template resolved against one alert.
type Rendered struct {
	Subject string `json:"subject"`
	Body    string `json:"body"`
	Slack   string `json:"slack"`
}

var templates = map[models.AlertType]Template{
	models.AlertTypeBruteForce: {
		Subject: "🚨 Brute force attack detected",
		Short:   "{attemptCount} attempts from {ip} ({country})",
		Slack:   "🔐 *Brute Force Attack*\n{attemptCount} attempts from `{ip}` ({country})\nTarget: {affectedResource}",
	},
	models.AlertTypeUnusualLocation: {
		Subject: "🌍 Login from new location",
		Short:   "{userName} logged in from {countryName} (was: {previousCountry})",
		Slack:   "🌍 *New Location Login*\nUser: {userName}\nLocation: {countryName} ({city})\nPrevious: {previousCountry}",
	},
	models.AlertTypeImpossibleTravel: {
		Subject: "✈️ Impossible travel detected",
		Short:   "{userName}: {previousCountry} → {countryName} ({distanceKm} km)",
		Slack:   "✈️ *Impossible Travel*\nUser: {userName}\nRoute: {previousCountry} → {countryName}\nDistance: {distanceKm} km",
	},
	models.AlertTypeSuspiciousPayment: {
		Subject: "💳 Suspicious payment detected",
		Short:   "{amount} {currency} - Risk score: {riskScore}%",
		Slack:   "💳 *Suspicious Payment*\nAmount: {amount} {currency}\nRisk Score: {riskScore}%\nUser: {userEmail}\nFactors: {riskFactors}",
	},
	models.AlertTypeCardTesting: {
		Subject: "💳 Card testing detected",
		Short:   "{attemptCount} attempts from {ip}",
		Slack:   "💳 *Card Testing*\n{attemptCount} failed payment attempts from `{ip}`",
	},
	models.AlertTypeMassAccountCreation: {
		Subject: "👥 Mass account creation detected",
		Short:   "{accountCount} accounts created in {timeWindow} from {ip}",
		Slack:   "👥 *Mass Account Creation*\n{accountCount} accounts from `{ip}` in {timeWindow}",
	},
	models.AlertTypeAPIAbuse: {
		Subject: "⚡ API abuse detected",
		Short:   "{requestCount} requests to {endpoint} from {ip}",
		Slack:   "⚡ *API Abuse*\n{requestCount} requests to `{endpoint}` from `{ip}`\nType: {attackType}",
	},
	models.AlertTypeRateLimitExceeded: {
		Subject: "⏱️ Rate limit exceeded",
		Short:   "{requestCount} requests from {ip}",
		Slack:   "⏱️ *Rate Limit Exceeded*\n{requestCount} requests from `{ip}` to `{endpoint}`",
	},
	models.AlertTypeSQLInjection: {
		Subject: "💉 SQL injection detected",
		Short:   "Injection on {endpoint} from {ip}",
		Slack:   "💉 *SQL Injection Attempt*\nEndpoint: `{endpoint}`\nSource: `{ip}`",
	},
	models.AlertTypeXSSAttempt: {
		Subject: "🔓 XSS attempt detected",
		Short:   "XSS on {endpoint} from {ip}",
		Slack:   "🔓 *XSS Attempt*\nEndpoint: `{endpoint}`\nSource: `{ip}`",
	},
	models.AlertTypeDataBreachAttempt: {
		Subject: "🔴 ALERT: Data breach attempt",
		Short:   "{attackType} attack on {affectedResource}",
		Slack:   "🔴 *DATA BREACH ATTEMPT*\nAttack Type: {attackType}\nTarget: {affectedResource}\nSource IP: `{ip}`\nUser: {userEmail}",
	},
	models.AlertTypeMultipleSessions: {
		Subject: "👤 Multiple sessions detected",
		Short:   "{userName} logged in from {attemptCount} devices",
		Slack:   "👤 *Multiple Sessions*\nUser: {userName}\nDevices: {attemptCount}",
	},
	models.AlertTypePromoAbuse: {
		Subject: "🎟️ Promo code abuse detected",
		Short:   "Abuse detected from {ip} ({attemptCount} uses)",
		Slack:   "🎟️ *Promo Code Abuse*\n{attemptCount} uses from `{ip}`",
	},
	models.AlertTypeAdminActionRequired: {
		Subject: "⚠️ Admin action required",
		Short:   "Action needed: {issueType}",
		Slack:   "⚠️ *Admin Action Required*\nIssue: {issueType}\nResource: {affectedResource}",
	},
	models.AlertTypeSystemCritical: {
		Subject: "🚨 CRITICAL: System issue",
		Short:   "{systemName}: {issueType} (errors: {errorRate}%)",
		Slack:   "🚨 *SYSTEM CRITICAL*\nSystem: {systemName}\nIssue: {issueType}\nError Rate: {errorRate}%\nLatency: {latencyMs}ms",
	},
}

var placeholder = regexp.MustCompile(`\{(\w+)\}`)

// templateFuncs are available to every compiled message text.
var templateFuncs = template.FuncMap{
	// field resolves one placeholder. Unknown names render as written.
	"field": func(vars map[string]string, name string) string {
		if v, ok := vars[name]; ok {
			return v
		}
		return "{" + name + "}"
	},
	"upper": strings.ToUpper,
}

// compiledTemplate is a Template parsed into text/templates.
type compiledTemplate struct {
	subject *template.Template
	short   *template.Template
	slack   *template.Template
}

var (
	compiledMu    sync.RWMutex
	compiledCache = make(map[models.AlertType]*compiledTemplate)
)

// compile turns {name} placeholders into field calls and parses the result.
func compile(name, text string) (*template.Template, error) {
	src := placeholder.ReplaceAllString(strings.ReplaceAll(text, "{{", "{{`{{`}}"), `{{field . "$1"}}`)
	return template.New(name).Funcs(templateFuncs).Parse(src)
}

// compiledFor returns the parsed templates of an alert type, parsing them
// on first use.
func compiledFor(t models.AlertType) (*compiledTemplate, error) {
	compiledMu.RLock()
	ct, ok := compiledCache[t]
	compiledMu.RUnlock()
	if ok {
		return ct, nil
	}

	tpl := TemplateFor(t)
	ct = &compiledTemplate{}
	var err error
	if ct.subject, err = compile(string(t)+".subject", tpl.Subject); err != nil {
		return nil, err
	}
	if ct.short, err = compile(string(t)+".short", tpl.Short); err != nil {
		return nil, err
	}
	if ct.slack, err = compile(string(t)+".slack", tpl.Slack); err != nil {
		return nil, err
	}

	compiledMu.Lock()
	compiledCache[t] = ct
	compiledMu.Unlock()
	return ct, nil
}

// TemplateFor returns the template of an alert type. Unknown types get a
// generic template built from the alert title.
func TemplateFor(t models.AlertType) Template {
	if tpl, ok := templates[t]; ok {
		return tpl
	}
	return Template{
		Subject: "Security alert: {title}",
		Short:   "{title} from {source}",
		Slack:   "*Security Alert*\n{title}\nSource: `{source}`",
	}
}

// escalatedSubject prefixes the subject of an escalation re-notification.
var escalatedSubject = template.Must(template.New("escalated").Funcs(templateFuncs).
	Parse(`[ESCALATED to {{upper .Severity}}] {{.Subject}}`))

// Render resolves the alert's template. An escalation reason prefixes the
// subject with the new severity.
func Render(alert *models.SecurityAlert, reason string) Rendered {
	vars := templateVars(alert)
	ct, err := compiledFor(alert.Type)
	if err != nil {
		logging.Warn().Err(err).Str("type", string(alert.Type)).Msg("Falling back to generic message template")
		ct, _ = compiledFor("")
	}
	r := Rendered{
		Subject: execute(ct.subject, vars),
		Body:    execute(ct.short, vars),
		Slack:   execute(ct.slack, vars),
	}
	if reason == "escalated" {
		r.Subject = execute(escalatedSubject, struct{ Severity, Subject string }{string(alert.Severity), r.Subject})
	}
	if alert.OccurrenceCount > 1 {
		r.Body = fmt.Sprintf("%s (%d occurrences)", r.Body, alert.OccurrenceCount)
	}
	return r
}

// execute runs tpl. A failing template renders as its name so a message is
// still sent.
func execute(tpl *template.Template, data any) string {
	var buf bytes.Buffer
	if err := tpl.Execute(&buf, data); err != nil {
		logging.Warn().Err(err).Str("template", tpl.Name()).Msg("Message template failed")
		return tpl.Name()
	}
	return buf.String()
}

func templateVars(alert *models.SecurityAlert) map[string]string {
	vars := make(map[string]string, 16+len(alert.Context.Extra))
	for k, v := range alert.Context.Extra {
		vars[k] = formatValue(v)
	}

	set := func(key, value string) {
		if value != "" {
			vars[key] = value
		}
	}
	setDefault := func(key, value string) {
		if _, ok := vars[key]; !ok && value != "" {
			vars[key] = value
		}
	}

	set("title", alert.Title)
	set("source", alert.Source.Identity())
	set("alertId", alert.ID)
	set("severity", string(alert.Severity))
	setDefault("ip", firstNonEmpty(alert.Source.IP, alert.Context.IP))
	setDefault("country", alert.Source.Country)
	setDefault("countryName", alert.Source.Country)
	setDefault("userEmail", alert.Source.UserEmail)
	setDefault("userName", firstNonEmpty(alert.Source.UserEmail, alert.Source.UserID))
	setDefault("affectedResource", alert.Context.Resource)
	setDefault("endpoint", alert.Context.Resource)
	setDefault("systemName", alert.Source.System)

	attempts := alert.Context.AttemptCount
	if attempts == 0 {
		attempts = alert.OccurrenceCount
	}
	setDefault("attemptCount", strconv.FormatInt(attempts, 10))
	return vars
}

func formatValue(v interface{}) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case []string:
		return strings.Join(x, ", ")
	case []interface{}:
		parts := make([]string, 0, len(x))
		for _, p := range x {
			parts = append(parts, formatValue(p))
		}
		return strings.Join(parts, ", ")
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	}
	return fmt.Sprint(v)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// SeverityColor returns the attachment color of a severity.
func SeverityColor(s models.Severity) string {
	switch s {
	case models.SeverityEmergency:
		return "#ff0000"
	case models.SeverityCritical:
		return "#ff6600"
	case models.SeverityWarning:
		return "#ffcc00"
	default:
		return "#36a64f"
	}
}

// SeverityEmoji returns the emoji prefix of a severity.
func SeverityEmoji(s models.Severity) string {
	switch s {
	case models.SeverityEmergency:
		return "🚨"
	case models.SeverityCritical:
		return "🔴"
	case models.SeverityWarning:
		return "⚠️"
	default:
		return "ℹ️"
	}
}
