// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package sniff

import (
	"bufio"
	"bytes"
	"net/http"
	"strings"
)

var httpMethods = []string{
	"GET ", "POST ", "PUT ", "HEAD ", "DELETE ", "OPTIONS ", "PATCH ", "CONNECT ",
}

// SniffHTTPHost recognizes a plaintext HTTP/1.x request line and parses the
// Host header via net/http's own request reader, the idiomatic way to
// avoid hand-rolling header-folding and line-ending edge cases.
func SniffHTTPHost(data []byte) (Result, bool) {
	matchesMethod := false
	for _, m := range httpMethods {
		if bytes.HasPrefix(data, []byte(m)) {
			matchesMethod = true
			break
		}
	}
	if !matchesMethod {
		return Result{}, false
	}

	req, err := http.ReadRequest(bufio.NewReader(bytes.NewReader(data)))
	if err != nil || req.Host == "" {
		return Result{}, false
	}
	host := req.Host
	if idx := strings.LastIndexByte(host, ':'); idx >= 0 {
		host = host[:idx]
	}
	return Result{Domain: host, Protocol: "http"}, true
}
