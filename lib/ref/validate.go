// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package ref

import (
	"fmt"
	"strings"
)

// UserIDFromParts constructs a Matrix user ID (@localpart:server) from
// a known-valid localpart and server. Use when the caller assembles an
// identity from configuration (e.g., login username + discovered
// server) rather than parsing a wire value.
func UserIDFromParts(localpart string, server ServerName) (UserID, error) {
	if localpart == "" {
		return UserID{}, fmt.Errorf("empty localpart")
	}
	if server.IsZero() {
		return UserID{}, fmt.Errorf("zero server name")
	}
	return ParseUserID("@" + localpart + ":" + server.name)
}

// ServerFromUserID extracts the Matrix server name from a user ID
// (@localpart:server). This is how a client derives the domain to
// discover when the user logs in with a full Matrix ID.
func ServerFromUserID(userID string) (ServerName, error) {
	_, server, err := parsePrefixedID(userID, '@', "Matrix user ID")
	if err != nil {
		return ServerName{}, err
	}
	return ServerName{name: server}, nil
}

// validateServer checks that a Matrix server name is minimally valid:
// non-empty, no control characters, no Matrix sigils.
func validateServer(server string) error {
	if server == "" {
		return fmt.Errorf("server name is empty")
	}
	for i := 0; i < len(server); i++ {
		c := server[i]
		if c <= ' ' || c == '@' || c == '#' {
			return fmt.Errorf("server name %q: invalid character at position %d", server, i)
		}
	}
	return nil
}

// parsePrefixedID extracts localpart and server from a Matrix identifier
// with the given sigil prefix (@ for user IDs, # for room aliases).
func parsePrefixedID(identifier string, sigil byte, kind string) (localpart, server string, err error) {
	if len(identifier) < 2 || identifier[0] != sigil {
		return "", "", fmt.Errorf("invalid %s %q: must start with %c", kind, identifier, sigil)
	}
	colonIndex := strings.Index(identifier[1:], ":")
	if colonIndex < 0 {
		return "", "", fmt.Errorf("invalid %s %q: missing :server", kind, identifier)
	}
	colonIndex++ // adjust for [1:] offset
	if colonIndex < 2 {
		return "", "", fmt.Errorf("invalid %s %q: empty localpart", kind, identifier)
	}
	localpart = identifier[1:colonIndex]
	server = identifier[colonIndex+1:]
	if server == "" {
		return "", "", fmt.Errorf("invalid %s %q: empty server", kind, identifier)
	}
	return localpart, server, nil
}
