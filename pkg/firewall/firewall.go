// Package firewall implements input hardening for inbound requests: MIME
// sniffing for opaque byte payloads and structural validation for
// structured ones, emitting rejection events and incrementing a reject
// counter on failure.
package firewall

import (
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/atprouter/core/pkg/events"
	"github.com/atprouter/core/pkg/metrics"
)

const (
	MIMETextPlain        = "text/plain"
	MIMEOctetStream      = "application/octet-stream"
	nonPrintableMaxRatio = 0.05
)

// SniffMIME returns MIMETextPlain iff the fraction of non-printable bytes
// (NUL, control codes below 9, and 13 < b < 32) is at most 5%; otherwise
// MIMEOctetStream.
func SniffMIME(payload []byte) string {
	if len(payload) == 0 {
		return MIMETextPlain
	}
	nonPrintable := 0
	for _, b := range payload {
		if isNonPrintable(b) {
			nonPrintable++
		}
	}
	ratio := float64(nonPrintable) / float64(len(payload))
	if ratio <= nonPrintableMaxRatio {
		return MIMETextPlain
	}
	return MIMEOctetStream
}

func isNonPrintable(b byte) bool {
	if b == 0 {
		return true
	}
	if b < 9 {
		return true
	}
	if b > 13 && b < 32 {
		return true
	}
	return false
}

// Firewall performs input hardening over raw byte payloads and structured
// (map-shaped) payloads, per request/endpoint-registered required keys and
// optional JSON Schema validation for stricter structured contracts.
type Firewall struct {
	bus           *events.Bus
	rejectCounter *metrics.Counter
	schemas       map[string]*jsonschema.Schema
}

// New creates a Firewall wired to the given event bus (for rejection
// events) and metrics registry (for the input_reject_total counter).
func New(bus *events.Bus, reg *metrics.Registry) (*Firewall, error) {
	f := &Firewall{bus: bus, schemas: make(map[string]*jsonschema.Schema)}
	if reg != nil {
		c, err := reg.Counter("input_reject_total", "Total number of inputs rejected by input hardening")
		if err != nil {
			return nil, err
		}
		f.rejectCounter = c
	}
	return f, nil
}

// RegisterSchema compiles and attaches an optional JSON Schema that
// structured payloads tagged with name must additionally satisfy, beyond
// the required-keys check.
func (f *Firewall) RegisterSchema(name, schema string) error {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	url := fmt.Sprintf("https://atprouter.schemas.local/input/%s.schema.json", name)
	if err := c.AddResource(url, strings.NewReader(schema)); err != nil {
		return fmt.Errorf("firewall: load schema %q: %w", name, err)
	}
	compiled, err := c.Compile(url)
	if err != nil {
		return fmt.Errorf("firewall: compile schema %q: %w", name, err)
	}
	f.schemas[name] = compiled
	return nil
}

// CheckBytes validates an opaque byte payload: only text/plain (per
// SniffMIME) is accepted.
func (f *Firewall) CheckBytes(requestID string, payload []byte) error {
	if SniffMIME(payload) != MIMETextPlain {
		f.reject(requestID, events.ReasonInputValidation, map[string]interface{}{
			"sniffed_mime": MIMEOctetStream,
		})
		return fmt.Errorf("firewall: payload rejected, sniffed as %s", MIMEOctetStream)
	}
	return nil
}

// CheckStructured validates a structured payload: every key in
// requiredKeys must be present. If schemaName names a schema registered via
// RegisterSchema, the payload must additionally validate against it.
func (f *Firewall) CheckStructured(requestID string, payload map[string]interface{}, requiredKeys []string, schemaName string) error {
	var missing []string
	for _, k := range requiredKeys {
		if _, ok := payload[k]; !ok {
			missing = append(missing, k)
		}
	}
	if len(missing) > 0 {
		f.reject(requestID, events.ReasonSchemaMismatch, map[string]interface{}{
			"missing_keys": missing,
		})
		return fmt.Errorf("firewall: payload missing required keys: %v", missing)
	}

	if schemaName == "" {
		return nil
	}
	schema, ok := f.schemas[schemaName]
	if !ok || schema == nil {
		return nil
	}
	if err := schema.Validate(payload); err != nil {
		f.reject(requestID, events.ReasonSchemaMismatch, map[string]interface{}{
			"schema": schemaName,
			"error":  err.Error(),
		})
		return fmt.Errorf("firewall: schema %q validation failed: %w", schemaName, err)
	}
	return nil
}

func (f *Firewall) reject(requestID string, reason events.RejectionReason, detail map[string]interface{}) {
	if f.rejectCounter != nil {
		f.rejectCounter.Inc(metrics.Labels{metrics.LabelComponent: "firewall"})
	}
	if f.bus != nil {
		f.bus.EmitRejection(events.RejectionEvent{
			Reason:    reason,
			Component: "firewall",
			RequestID: requestID,
			Detail:    detail,
		})
	}
}
