package main

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/apex/log"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func init() {
	gin.SetMode(gin.TestMode)
	log.SetLevel(log.ErrorLevel)
}

func TestServerMiddleware(t *testing.T) {
	t.Run("middleware is set", func(t *testing.T) {
		c, _ := gin.CreateTestContext(httptest.NewRecorder())
		expected := &serverHandler{}
		mwFunc := serverMiddleware(expected)

		mwFunc(c)

		actual := getServer(c)
		assert.Same(t, expected, actual)
	})

	t.Run("missing server aborts", func(t *testing.T) {
		w := httptest.NewRecorder()
		c, _ := gin.CreateTestContext(w)

		assert.Nil(t, getServer(c))
		assert.True(t, c.IsAborted())
		assert.Equal(t, http.StatusInternalServerError, w.Code)
	})
}
