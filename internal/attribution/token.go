package attribution

import (
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
)

const (
	cookieBaseName = "ww_referral_cookie"
	tokenIssuer    = "wallet-referrals"

	// DefaultTTL срок жизни отложенной привязки
	DefaultTTL = 7 * 24 * time.Hour
)

// CookieName возвращает имя cookie, производное от пространства имен установки
func CookieName(namespace string) string {
	sum := md5.Sum([]byte(namespace + ":" + cookieBaseName))
	return hex.EncodeToString(sum[:])
}

// tokenCodec подписывает и проверяет токены отложенной привязки
type tokenCodec struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func (c *tokenCodec) issue(referrerID int64) (string, time.Time, error) {
	issuedAt := c.now()
	expiresAt := issuedAt.Add(c.ttl)

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Issuer:    tokenIssuer,
		Subject:   strconv.FormatInt(referrerID, 10),
		IssuedAt:  jwt.NewNumericDate(issuedAt),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
	})

	signed, err := token.SignedString(c.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("ошибка подписи токена: %w", err)
	}

	return signed, expiresAt, nil
}

// parse возвращает ID пригласившего из валидного и не истекшего токена
func (c *tokenCodec) parse(raw string) (int64, error) {
	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(token *jwt.Token) (interface{}, error) {
		return c.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(c.now),
	)
	if err != nil {
		return 0, err
	}

	referrerID, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil || referrerID <= 0 {
		return 0, errors.New("некорректный ID пригласившего в токене")
	}

	return referrerID, nil
}
