// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func guardedRouter(guard *BearerGuard) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.GET("/protected", guard.Middleware(), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	return router
}

func get(router *gin.Engine, authorization string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}
	router.ServeHTTP(rec, req)
	return rec
}

func TestBearerGuardAcceptsValidToken(t *testing.T) {
	router := guardedRouter(NewBearerGuard("s3cret"))
	rec := get(router, "Bearer s3cret")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestBearerGuardRejectsWrongToken(t *testing.T) {
	router := guardedRouter(NewBearerGuard("s3cret"))

	assert.Equal(t, http.StatusUnauthorized, get(router, "Bearer wrong").Code)
	assert.Equal(t, http.StatusUnauthorized, get(router, "").Code)
	assert.Equal(t, http.StatusUnauthorized, get(router, "Basic s3cret").Code)
	assert.Equal(t, http.StatusUnauthorized, get(router, "Bearer ").Code)
}

func TestBearerGuardRejectionsAreUniform(t *testing.T) {
	// A prober must not be able to distinguish a missing header from a
	// wrong token by the response body.
	router := guardedRouter(NewBearerGuard("s3cret"))

	missing := get(router, "")
	wrong := get(router, "Bearer wrong")
	assert.Equal(t, missing.Body.String(), wrong.Body.String())
}

func TestBearerGuardOpenWhenUnconfigured(t *testing.T) {
	guard := NewBearerGuard("")
	assert.True(t, guard.Open())

	router := guardedRouter(guard)
	assert.Equal(t, http.StatusOK, get(router, "").Code)
}

func TestBearerGuardReusableAcrossRequests(t *testing.T) {
	// The enclave is reopened per request; repeated use must keep working.
	router := guardedRouter(NewBearerGuard("s3cret"))
	for i := 0; i < 3; i++ {
		assert.Equal(t, http.StatusOK, get(router, "Bearer s3cret").Code)
	}
}
