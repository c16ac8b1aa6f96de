package referral

import (
	"fmt"
	"hash/crc32"
	"strings"
	"time"
)

// ParamName имя query-параметра с реферальным кодом
const ParamName = "referrer"

// codeSalt фиксированная соль, подмешиваемая в код
const codeSalt = "ww_referral_code"

// CodeGenerator генерирует реферальный код для пользователя.
// attempt > 0 означает повторную попытку после коллизии.
type CodeGenerator interface {
	Generate(userID int64, attempt int) string
}

// ChecksumGenerator строит код как CRC32 от времени, соли и ID пользователя.
// Коды не криптостойкие, уникальность обеспечивает индекс в базе.
type ChecksumGenerator struct {
	Now func() time.Time
}

// Generate возвращает 8 шестнадцатеричных символов
func (g ChecksumGenerator) Generate(userID int64, attempt int) string {
	now := time.Now
	if g.Now != nil {
		now = g.Now
	}

	input := fmt.Sprintf("%s:%s:%d", now().Format("2006-01-02 15:04:05"), codeSalt, userID)
	if attempt > 0 {
		input = fmt.Sprintf("%s:%d", input, attempt)
	}

	return fmt.Sprintf("%08x", crc32.ChecksumIEEE([]byte(input)))
}

// LinkBuilder добавляет реферальный код к ссылке
type LinkBuilder interface {
	Build(baseLink, code string) string
}

// QueryLinkBuilder добавляет код как query-параметр
type QueryLinkBuilder struct {
	Param string
}

// Build добавляет параметр через ? или & в зависимости от наличия query
func (b QueryLinkBuilder) Build(baseLink, code string) string {
	param := b.Param
	if param == "" {
		param = ParamName
	}

	var sep string
	switch {
	case strings.HasSuffix(baseLink, "?"), strings.HasSuffix(baseLink, "&"):
		sep = ""
	case strings.Contains(baseLink, "?"):
		sep = "&"
	default:
		sep = "?"
	}

	return baseLink + sep + param + "=" + code
}
