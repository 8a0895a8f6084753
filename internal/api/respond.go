// Package api はジョブライフサイクルのHTTPサーフェスを実装する。
// タスクレジストリ、ワーカープール、ストレージマネージャの上に載る
// ステートレスなginハンドラ群。
package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yourusername/invoice-imposer/internal/apperr"
)

// errorBody はユーザーに見せるエラーの固定形式。スタックトレースや
// パスがmessageに漏れることはない。
type errorBody struct {
	Error   bool        `json:"error"`
	Code    apperr.Code `json:"code"`
	Message string      `json:"message"`
}

func respondError(c *gin.Context, err error) {
	var appErr *apperr.Error
	if errors.As(err, &appErr) {
		c.JSON(appErr.HTTPStatus(), errorBody{Error: true, Code: appErr.Code, Message: appErr.Message})
		return
	}
	c.JSON(http.StatusInternalServerError, errorBody{Error: true, Code: apperr.CodeInternal, Message: "内部エラーが発生しました。"})
}
