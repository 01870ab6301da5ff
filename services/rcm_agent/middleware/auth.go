// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package middleware provides HTTP middleware for the RCM agent service.
//
// # Authentication Flow
//
// The audit trail exposes the full staging ledger, including redacted raw
// document text, so it sits behind a bearer credential. The expected token
// is sealed in a memguard enclave at startup; each request opens the
// enclave, compares in constant time, and destroys the working copy.
//
// # Open Behavior
//
// When no credential is configured (empty token), the guard admits all
// requests. This keeps local single-user deployments working without any
// auth infrastructure.
package middleware

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"

	"github.com/awnumar/memguard"
	"github.com/gin-gonic/gin"
)

// BearerGuard validates requests against a sealed bearer credential.
//
// # Thread Safety
//
// Safe for concurrent use. Enclave opens produce per-call locked buffers.
type BearerGuard struct {
	enclave *memguard.Enclave
}

// NewBearerGuard seals the expected token. An empty token produces an
// open guard that admits every request.
func NewBearerGuard(token string) *BearerGuard {
	g := &BearerGuard{}
	if token != "" {
		g.enclave = memguard.NewEnclave([]byte(token))
	}
	return g
}

// Open reports whether the guard admits unauthenticated requests.
func (g *BearerGuard) Open() bool {
	return g.enclave == nil
}

// Middleware returns a gin handler that enforces the credential.
//
// Rejections are uniform 401s; the response never distinguishes a missing
// header from a wrong token.
func (g *BearerGuard) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if g.enclave == nil {
			c.Next()
			return
		}

		header := c.GetHeader("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		buf, err := g.enclave.Open()
		if err != nil {
			slog.Error("failed to open credential enclave", "error", err)
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			return
		}
		defer buf.Destroy()

		if subtle.ConstantTimeCompare(buf.Bytes(), []byte(token)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Next()
	}
}
