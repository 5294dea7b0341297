// Copyright 2026 Siemens AG
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.
// SPDX-License-Identifier: MPL-2.0

package infrastructure

import (
	"fmt"
	"net"
	"net/url"
	"regexp"
	"strings"
	"unicode/utf8"

	"golang.org/x/net/idna"
)

// MaxURLLength is the maximum accepted length of a target URL in characters
const MaxURLLength = 2048

const badURLPlaceholder = "<bad url>"
const noDomainPlaceholder = "<no domain or protocol>"

// ValidationErrorKind classifies why a target URL was rejected
type ValidationErrorKind int

const (
	// NoValidationError is the kind of a valid result
	NoValidationError ValidationErrorKind = iota
	// EmptyInput indicates a blank input
	EmptyInput
	// TooLong indicates an input exceeding MaxURLLength
	TooLong
	// MalformedURL indicates an input that cannot be parsed as a URL
	MalformedURL
	// UnsupportedProtocol indicates a scheme other than http or https
	UnsupportedProtocol
	// InvalidHostname indicates a missing, too short or dotless host name
	InvalidHostname
	// NonPublicHost indicates localhost or an IPv4 literal
	NonPublicHost
)

var validationErrorKindNames = map[ValidationErrorKind]string{
	NoValidationError:   "none",
	EmptyInput:          "empty_input",
	TooLong:             "too_long",
	MalformedURL:        "malformed_url",
	UnsupportedProtocol: "unsupported_protocol",
	InvalidHostname:     "invalid_hostname",
	NonPublicHost:       "non_public_host",
}

func (k ValidationErrorKind) String() string {
	if name, ok := validationErrorKindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("ValidationErrorKind(%d)", int(k))
}

// MarshalText serializes the kind by name
func (k ValidationErrorKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// ValidationResult is the outcome of ValidateURL
type ValidationResult struct {
	Valid bool                `json:"valid"`
	Kind  ValidationErrorKind `json:"kind"`
	// Error is a human-readable reason. It may be empty for silent rejections
	Error string `json:"error,omitempty"`
	// Sanitized is the canonical URL, only set for valid results
	Sanitized string `json:"sanitized,omitempty"`
}

var (
	httpSchemePrefix = regexp.MustCompile(`(?i)^https?://`)
	anySchemePrefix  = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9+.\-]*://`)
	ipv4Literal      = regexp.MustCompile(`^\d+\.\d+\.\d+\.\d+$`)
)

// ValidateURL normalizes and validates a user-supplied website address.
// Inputs without an http(s) scheme get "https://" prepended before parsing.
func ValidateURL(raw string) ValidationResult {
	trimmed := strings.TrimSpace(raw)

	if trimmed == "" {
		return invalid(EmptyInput, "URL is required")
	}

	if utf8.RuneCountInString(trimmed) > MaxURLLength {
		return invalid(TooLong, fmt.Sprintf("URL too long. Maximum length is %v characters", MaxURLLength))
	}

	if strings.ContainsAny(trimmed, " \t\r\n") {
		return invalid(MalformedURL, "URL cannot contain spaces")
	}

	candidate := trimmed
	if !httpSchemePrefix.MatchString(trimmed) {
		if anySchemePrefix.MatchString(trimmed) {
			return invalid(UnsupportedProtocol, "Only HTTP and HTTPS protocols are allowed")
		}
		candidate = "https://" + trimmed
	}

	u, err := url.Parse(candidate)
	if err != nil {
		return invalid(MalformedURL, "Invalid URL format")
	}

	// url.Parse lower-cases the scheme
	if u.Scheme != "http" && u.Scheme != "https" {
		return invalid(UnsupportedProtocol, "Only HTTP and HTTPS protocols are allowed")
	}

	hostname := strings.ToLower(u.Hostname())
	if !isASCII(hostname) {
		ascii, err := idna.Lookup.ToASCII(hostname)
		if err != nil {
			return invalid(InvalidHostname, "Invalid hostname")
		}
		hostname = ascii
	}
	if len(hostname) < 3 {
		return invalid(InvalidHostname, "Invalid hostname")
	}
	if !strings.Contains(hostname, ".") {
		// rejected without a message, the UI does not surface this case
		return invalid(InvalidHostname, "")
	}
	if hostname == "localhost" || ipv4Literal.MatchString(hostname) {
		return invalid(NonPublicHost, "Please enter a public domain name")
	}

	return ValidationResult{
		Valid:     true,
		Kind:      NoValidationError,
		Sanitized: canonicalize(u, hostname),
	}
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= utf8.RuneSelf {
			return false
		}
	}
	return true
}

func invalid(kind ValidationErrorKind, message string) ValidationResult {
	return ValidationResult{Valid: false, Kind: kind, Error: message}
}

func canonicalize(u *url.URL, hostname string) string {
	port := u.Port()
	if (u.Scheme == "http" && port == "80") || (u.Scheme == "https" && port == "443") {
		port = ""
	}
	if port != "" {
		u.Host = net.JoinHostPort(hostname, port)
	} else {
		u.Host = hostname
	}
	if u.Path == "" {
		u.Path = "/"
	}
	return u.String()
}

// DomainOf returns either the domain name or a placeholder in case of a parse error
func DomainOf(input string) string {
	u, err := url.Parse(input)
	if err != nil {
		return badURLPlaceholder
	}
	if strings.TrimSpace(u.Host) == "" {
		return noDomainPlaceholder
	}
	return strings.ToLower(u.Hostname())
}
