package apperr

import "net/http"

func statusFor(code Code) int {
	switch code {
	case CodeBadRequest, CodeBadInput, CodeEmptyBatch, CodeUnsupportedMediaType:
		return http.StatusBadRequest
	case CodeMissingSession:
		return http.StatusUnauthorized
	case CodeNotFound, CodeFilesExpired:
		return http.StatusNotFound
	case CodePayloadTooLarge, CodeOversize:
		return http.StatusRequestEntityTooLarge
	case CodeBackpressure, CodeRateLimited:
		return http.StatusTooManyRequests
	case CodeStorageFull:
		return http.StatusInsufficientStorage
	case CodeShutdown, CodeStaleState:
		return http.StatusServiceUnavailable
	case CodeTimeout:
		return http.StatusGatewayTimeout
	case CodeCancelled:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
