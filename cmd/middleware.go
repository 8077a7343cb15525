package main

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
)

const contextKey = "serverHandler"

// ErrSystem is reported when a request reaches a handler without its server.
var ErrSystem = errors.New("system error")

func getServer(c *gin.Context) *serverHandler {
	if s, ok := c.Get(contextKey); ok {
		return s.(*serverHandler)
	}
	c.AbortWithError(http.StatusInternalServerError, ErrSystem)
	return nil
}

func serverMiddleware(s *serverHandler) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(contextKey, s)
	}
}
