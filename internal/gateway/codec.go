package gateway

import (
	"crypto/hmac"
	"encoding/hex"
	"hash"
	"net/url"
	"sort"
	"strings"
)

// Codec подписывает параметры исходящего запроса и проверяет подпись callback'а шлюза.
// Verify никогда не возвращает ошибку: некорректный вход просто не проходит проверку.
type Codec interface {
	Sign(params map[string]string) string
	Verify(params map[string]string) bool
}

// HMACCodec реализует общую для шлюзов каноникализацию параметров:
// поле подписи и явно исключённые поля отбрасываются, пустые значения отбрасываются,
// ключи и значения кодируются percent-encoding'ом с пробелом как `+`,
// пары сортируются по закодированному ключу и соединяются `&`.
// Дайджест задаётся конструктором; строка собирается один раз и не пересериализуется.
type HMACCodec struct {
	secret   []byte
	newHash  func() hash.Hash
	sigField string
	exclude  map[string]struct{}
}

// NewHMACCodec создаёт кодек для подписи keyed-hash'ем над канонической строкой.
// sigField — имя поля подписи, исключаемое из каноникализации вместе с exclude.
func NewHMACCodec(secret, sigField string, newHash func() hash.Hash, exclude ...string) *HMACCodec {
	excluded := make(map[string]struct{}, len(exclude))
	for _, field := range exclude {
		excluded[field] = struct{}{}
	}
	return &HMACCodec{
		secret:   []byte(secret),
		newHash:  newHash,
		sigField: sigField,
		exclude:  excluded,
	}
}

type encodedPair struct {
	key   string
	value string
}

// Canonical возвращает каноническую строку параметров — вход keyed-hash'а.
func (c *HMACCodec) Canonical(params map[string]string) string {
	pairs := make([]encodedPair, 0, len(params))
	for key, value := range params {
		if key == c.sigField {
			continue
		}
		if _, skip := c.exclude[key]; skip {
			continue
		}
		if value == "" {
			continue
		}
		// url.QueryEscape кодирует пробел как `+` — ровно так, как требуют шлюзы.
		pairs = append(pairs, encodedPair{key: url.QueryEscape(key), value: url.QueryEscape(value)})
	}

	// Сортировка по закодированному ключу, не по исходному.
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].key < pairs[j].key })

	var sb strings.Builder
	for i, pair := range pairs {
		if i > 0 {
			sb.WriteByte('&')
		}
		sb.WriteString(pair.key)
		sb.WriteByte('=')
		sb.WriteString(pair.value)
	}
	return sb.String()
}

// Sign вычисляет подпись параметров: HMAC над UTF-8 байтами канонической строки,
// закодированный строчным hex'ом.
func (c *HMACCodec) Sign(params map[string]string) string {
	mac := hmac.New(c.newHash, c.secret)
	mac.Write([]byte(c.Canonical(params)))
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify сравнивает пересчитанную подпись с полученной в поле sigField.
// Отсутствующая или пустая подпись не проходит проверку.
func (c *HMACCodec) Verify(params map[string]string) bool {
	received := strings.ToLower(strings.TrimSpace(params[c.sigField]))
	if received == "" {
		return false
	}
	computed := c.Sign(params)
	return hmac.Equal([]byte(computed), []byte(received))
}

// TrustedCodec — заглушка для шлюзов без собственной схемы подписи,
// доверяющих аутентификации транспортного уровня. Verify всегда true;
// асимметрия между шлюзами видна явно, а не предполагается молча.
type TrustedCodec struct{}

func (TrustedCodec) Sign(map[string]string) string { return "" }
func (TrustedCodec) Verify(map[string]string) bool { return true }

var (
	_ Codec = (*HMACCodec)(nil)
	_ Codec = TrustedCodec{}
)
