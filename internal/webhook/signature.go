package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// SignatureHeader заголовок с HMAC подписью тела запроса
const SignatureHeader = "X-Signature"

// Sign возвращает HMAC-SHA256 подпись тела в hex
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// verifySignature проверяет подпись вебхука.
// Без настроенного секрета проверка не выполняется.
func verifySignature(secret, signature string, body []byte) bool {
	if secret == "" {
		return true
	}

	signature = strings.TrimPrefix(strings.TrimSpace(signature), "sha256=")
	if signature == "" {
		return false
	}

	expected, err := hex.DecodeString(Sign(secret, body))
	if err != nil {
		return false
	}
	actual, err := hex.DecodeString(strings.ToLower(signature))
	if err != nil {
		return false
	}

	return hmac.Equal(expected, actual)
}
