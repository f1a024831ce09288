// Package health inspects playback elements and the processing context,
// applies the small set of safe fixes each finding allows, and aggregates
// component statistics for diagnostics.
package health

import (
	"context"
	"math"

	"github.com/HOW2AI-AGENCY/aimusicverse-sub004/internal/audiocore/graph"
	"github.com/HOW2AI-AGENCY/aimusicverse-sub004/internal/audiocore/platform"
)

// Severity grades a finding
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityWarning  Severity = "warning"
	SeverityInfo     Severity = "info"
)

// Code identifies a finding
type Code string

const (
	CodeMissingElement     Code = "missing_element"
	CodeMediaAborted       Code = "media_aborted"
	CodeNetworkError       Code = "network_error"
	CodeDecodeError        Code = "decode_error"
	CodeSourceNotSupported Code = "source_not_supported"
	CodeMediaError         Code = "media_error"
	CodeNoSource           Code = "no_source"
	CodeSourceUnavailable  Code = "source_unavailable"
	CodeNotReady           Code = "not_ready"
	CodeStalled            Code = "stalled"
	CodeInvalidTime        Code = "invalid_time"
	CodeInvalidVolume      Code = "invalid_volume"
	CodeSeeking            Code = "seeking"

	CodeContextSuspended Code = "context_suspended"
	CodeContextClosed    Code = "context_closed"
	CodeResumeFailed     Code = "resume_failed"
	CodeAnalysisBypassed Code = "analysis_bypassed"
	CodeOutputUnrouted   Code = "output_unrouted"

	CodeLowDisk Code = "low_disk"
)

var recommendations = map[Code]string{
	CodeMissingElement:     "acquire a playback element before starting playback",
	CodeMediaAborted:       "retry playback; the fetch was aborted",
	CodeNetworkError:       "reload the source",
	CodeDecodeError:        "the file is corrupt or uses an unsupported codec; skip the track",
	CodeSourceNotSupported: "the format is not playable on this platform; use another rendition",
	CodeMediaError:         "reset the element source",
	CodeNoSource:           "assign a source before playing",
	CodeSourceUnavailable:  "check the source URL; no playable resource was found",
	CodeNotReady:           "wait for media data to load",
	CodeStalled:            "playback is waiting for data; check the network",
	CodeInvalidTime:        "seek to the start",
	CodeInvalidVolume:      "reset volume to 1",
	CodeContextSuspended:   "resume the audio context from a user gesture",
	CodeContextClosed:      "reset the audio graph and rebind the element",
	CodeResumeFailed:       "resume the audio context from a user gesture",
	CodeAnalysisBypassed:   "visualization is disabled for this element; audio is unaffected",
	CodeOutputUnrouted:     "rebind the element or reset the audio graph; output is silent",
	CodeLowDisk:            "free disk space or lower cache.persistent.maxbytes",
}

// Finding is one observation about an element or the context
type Finding struct {
	Code     Code     `json:"code"`
	Severity Severity `json:"severity"`
	Message  string   `json:"message"`
}

// ElementMetrics are the raw element readings behind a report. Non-finite
// readings are reported as zero with the matching flag cleared.
type ElementMetrics struct {
	HasSource     bool    `json:"has_source"`
	Paused        bool    `json:"paused"`
	Seeking       bool    `json:"seeking"`
	ReadyState    int     `json:"ready_state"`
	NetworkState  int     `json:"network_state"`
	CurrentTime   float64 `json:"current_time"`
	Duration      float64 `json:"duration"`
	DurationKnown bool    `json:"duration_known"`
	Volume        float64 `json:"volume"`
	ErrorCode     int     `json:"error_code,omitempty"`
}

// Report is the outcome of a check. Issues hold critical findings;
// warnings and informational notes go to Warnings.
type Report struct {
	Healthy         bool            `json:"healthy"`
	Issues          []Finding       `json:"issues"`
	Warnings        []Finding       `json:"warnings"`
	Recommendations []string        `json:"recommendations"`
	Metrics         *ElementMetrics `json:"metrics,omitempty"`
}

// Problems counts the findings that call for action
func (r Report) Problems() int {
	n := len(r.Issues)
	for _, w := range r.Warnings {
		if w.Severity == SeverityWarning {
			n++
		}
	}
	return n
}

// Has reports whether a finding with code is present
func (r Report) Has(code Code) bool {
	for _, f := range r.Issues {
		if f.Code == code {
			return true
		}
	}
	for _, f := range r.Warnings {
		if f.Code == code {
			return true
		}
	}
	return false
}

func (r *Report) add(code Code, severity Severity, message string) {
	f := Finding{Code: code, Severity: severity, Message: message}
	if severity == SeverityCritical {
		r.Issues = append(r.Issues, f)
	} else {
		r.Warnings = append(r.Warnings, f)
	}
	if rec, ok := recommendations[code]; ok {
		r.Recommendations = append(r.Recommendations, rec)
	}
}

func (r *Report) finish() Report {
	r.Healthy = len(r.Issues) == 0
	if r.Issues == nil {
		r.Issues = []Finding{}
	}
	if r.Warnings == nil {
		r.Warnings = []Finding{}
	}
	if r.Recommendations == nil {
		r.Recommendations = []string{}
	}
	return *r
}

// Check inspects element without changing it
func Check(element platform.MediaElement) Report {
	var r Report
	if element == nil {
		r.add(CodeMissingElement, SeverityCritical, "no playback element")
		return r.finish()
	}

	m := readMetrics(element)
	r.Metrics = &m

	if mediaErr := element.Err(); mediaErr != nil {
		switch mediaErr.Code {
		case platform.MediaErrAborted:
			r.add(CodeMediaAborted, SeverityWarning, mediaErr.Error())
		case platform.MediaErrNetwork:
			r.add(CodeNetworkError, SeverityCritical, mediaErr.Error())
		case platform.MediaErrDecode:
			r.add(CodeDecodeError, SeverityCritical, mediaErr.Error())
		case platform.MediaErrSrcNotSupported:
			r.add(CodeSourceNotSupported, SeverityCritical, mediaErr.Error())
		default:
			r.add(CodeMediaError, SeverityCritical, mediaErr.Error())
		}
	}

	switch {
	case !m.HasSource:
		r.add(CodeNoSource, SeverityWarning, "element has no source")
	case element.NetworkState() == platform.NetworkNoSource:
		r.add(CodeSourceUnavailable, SeverityCritical, "no playable resource for source")
	case element.ReadyState() == platform.HaveNothing:
		r.add(CodeNotReady, SeverityWarning, "no media data loaded")
	case !m.Paused && element.ReadyState() < platform.HaveFutureData:
		r.add(CodeStalled, SeverityWarning, "playing without enough buffered data")
	}

	t := element.CurrentTime()
	d := element.Duration()
	if !isFinite(t) || t < 0 || (isFinite(d) && d > 0 && t > d) {
		r.add(CodeInvalidTime, SeverityWarning, "playback position out of range")
	}

	if v := element.Volume(); !isFinite(v) || v < 0 || v > 1 {
		r.add(CodeInvalidVolume, SeverityWarning, "volume out of range")
	}

	if m.Seeking {
		r.add(CodeSeeking, SeverityInfo, "seek in progress")
	}
	return r.finish()
}

func readMetrics(element platform.MediaElement) ElementMetrics {
	m := ElementMetrics{
		HasSource:    element.Src() != "",
		Paused:       element.Paused(),
		Seeking:      element.Seeking(),
		ReadyState:   int(element.ReadyState()),
		NetworkState: int(element.NetworkState()),
	}
	if t := element.CurrentTime(); isFinite(t) {
		m.CurrentTime = t
	}
	if d := element.Duration(); isFinite(d) {
		m.Duration = d
		m.DurationKnown = true
	}
	if v := element.Volume(); isFinite(v) {
		m.Volume = v
	}
	if err := element.Err(); err != nil {
		m.ErrorCode = int(err.Code)
	}
	return m
}

func isFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

// RecoveryResult describes what AttemptRecovery did
type RecoveryResult struct {
	Actions  []string `json:"actions"`
	Before   Report   `json:"before"`
	After    Report   `json:"after"`
	Improved bool     `json:"improved"`
}

// AttemptRecovery applies only the fixes mapped to findings in report:
// position reset for an invalid time, volume reset for an invalid volume and
// a reload for network faults. It then re-checks the element.
func AttemptRecovery(ctx context.Context, element platform.MediaElement, report Report) RecoveryResult {
	res := RecoveryResult{Actions: []string{}, Before: report, After: report}
	if element == nil || ctx.Err() != nil {
		return res
	}

	if report.Has(CodeInvalidTime) {
		element.SetCurrentTime(0)
		res.Actions = append(res.Actions, "reset_time")
	}
	if report.Has(CodeInvalidVolume) {
		element.SetVolume(1)
		res.Actions = append(res.Actions, "reset_volume")
	}
	if report.Has(CodeNetworkError) || report.Has(CodeSourceUnavailable) {
		if element.Src() != "" {
			element.Load()
			res.Actions = append(res.Actions, "reload_source")
		}
	}

	if len(res.Actions) == 0 {
		return res
	}
	res.After = Check(element)
	res.Improved = res.After.Problems() < report.Problems()
	return res
}

// CheckContext grades the processing context and the current binding
func CheckContext(d graph.Diagnostics) Report {
	var r Report

	switch d.State {
	case graph.StateSuspended:
		if d.Bound {
			r.add(CodeContextSuspended, SeverityWarning, "context suspended while an element is bound")
		} else {
			r.add(CodeContextSuspended, SeverityInfo, "context suspended")
		}
	case graph.StateClosed:
		r.add(CodeContextClosed, SeverityCritical, "context closed")
	}

	if d.LastResumeError != "" && d.State != graph.StateRunning {
		r.add(CodeResumeFailed, SeverityWarning, d.LastResumeError)
	}
	if d.Bound && d.AnalysisBypassed {
		r.add(CodeAnalysisBypassed, SeverityWarning, "capture routed directly to output")
	}

	unrouted := d.FallbackUsed && !d.FallbackOK
	if d.Bound && d.Audible != nil && !*d.Audible {
		unrouted = true
	}
	if unrouted {
		r.add(CodeOutputUnrouted, SeverityCritical, "bound element has no path to the output")
	}
	return r.finish()
}
