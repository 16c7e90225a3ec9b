// Copyright (C) 2026 CRO Analysis Core Contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package httpapi

import (
	"errors"

	"github.com/gin-gonic/gin"

	coreerrors "github.com/oraclewalid/croanalysis/internal/platform/errors"
)

// respondError maps a service-layer error to its HTTP status via
// coreerrors.HTTPStatus. Anything that isn't a *coreerrors.CoreError is
// treated as internal, following handlers/sessions.go's pattern of a
// single JSON error body on failure.
func respondError(c *gin.Context, err error) {
	kind := coreerrors.KindInternal
	var ce *coreerrors.CoreError
	if errors.As(err, &ce) {
		kind = ce.Kind
	}
	c.JSON(coreerrors.HTTPStatus(kind), gin.H{"error": err.Error()})
}
