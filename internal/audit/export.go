// Vigil - Security Threat Detection and Alert Escalation Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vigil

package audit

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"github.com/goccy/go-json"
)

// Exporter renders events for download.
type Exporter interface {
	Export(events []Event) ([]byte, error)
	ContentType() string
	// Extension is the file extension of the download, without a dot.
	Extension() string
}

// ExporterFor returns the exporter for format: "" or "json", or "cef".
func ExporterFor(format string) (Exporter, error) {
	switch format {
	case "", "json":
		return &JSONExporter{}, nil
	case "cef":
		return NewCEFExporter(), nil
	}
	return nil, fmt.Errorf("unsupported export format %q", format)
}

// JSONExporter writes an indented JSON array.
type JSONExporter struct{}

// Export implements Exporter.
func (*JSONExporter) Export(events []Event) ([]byte, error) {
	if events == nil {
		events = []Event{}
	}
	return json.MarshalIndent(events, "", "  ")
}

// ContentType implements Exporter.
func (*JSONExporter) ContentType() string { return "application/json" }

// Extension implements Exporter.
func (*JSONExporter) Extension() string { return "json" }

// CEFExporter writes one ArcSight Common Event Format line per event:
//
//	CEF:0|Vendor|Product|Version|SignatureID|Name|Severity|Extension
type CEFExporter struct {
	DeviceVendor  string
	DeviceProduct string
	DeviceVersion string
}

// NewCEFExporter identifies the device as Vigil ThreatEngine 1.0.
func NewCEFExporter() *CEFExporter {
	return &CEFExporter{DeviceVendor: "Vigil", DeviceProduct: "ThreatEngine", DeviceVersion: "1.0"}
}

// ContentType implements Exporter.
func (*CEFExporter) ContentType() string { return "text/plain; charset=utf-8" }

// Extension implements Exporter.
func (*CEFExporter) Extension() string { return "cef" }

// Export implements Exporter.
func (c *CEFExporter) Export(events []Event) ([]byte, error) {
	var buf bytes.Buffer
	for i := range events {
		if i > 0 {
			buf.WriteByte('\n')
		}
		e := &events[i]
		header := []string{
			"CEF:0",
			cefHeader.Replace(c.DeviceVendor),
			cefHeader.Replace(c.DeviceProduct),
			cefHeader.Replace(c.DeviceVersion),
			cefHeader.Replace(string(e.Type)),
			cefHeader.Replace(e.Description),
			strconv.Itoa(cefSeverity(e.Severity)),
		}
		buf.WriteString(strings.Join(header, "|"))
		buf.WriteByte('|')
		buf.WriteString(cefExtension(e))
	}
	return buf.Bytes(), nil
}

// cefSeverity maps audit severities onto CEF's 0-10 scale.
func cefSeverity(s Severity) int {
	switch s {
	case SeverityInfo:
		return 3
	case SeverityWarning:
		return 5
	case SeverityError:
		return 7
	case SeverityCritical:
		return 10
	}
	return 0
}

var (
	cefHeader    = strings.NewReplacer(`\`, `\\`, "|", `\|`, "\n", " ", "\r", "")
	cefExtValues = strings.NewReplacer(`\`, `\\`, "=", `\=`, "\n", `\n`, "\r", "")
)

func cefExtension(e *Event) string {
	var kv []string
	add := func(k, v string) {
		if v != "" {
			kv = append(kv, k+"="+cefExtValues.Replace(v))
		}
	}
	kv = append(kv, "rt="+strconv.FormatInt(e.Timestamp.UnixMilli(), 10))
	add("suid", e.Actor.ID)
	add("suser", e.Actor.Name)
	add("src", e.Source.IPAddress)
	add("requestClientApplication", e.Source.UserAgent)
	if e.Target != nil {
		add("duid", e.Target.ID)
		add("cs1Label", "targetType")
		add("cs1", e.Target.Type)
	}
	add("act", e.Action)
	add("outcome", string(e.Outcome))
	add("externalId", e.RequestID)
	if e.CorrelationID != "" {
		add("cs2Label", "correlationId")
		add("cs2", e.CorrelationID)
	}
	return strings.Join(kv, " ")
}
