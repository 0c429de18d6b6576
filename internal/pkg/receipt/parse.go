package receipt

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/qs3c/memorial_billing_server/internal/model/dto"
)

const (
	DefaultCurrency      = "PHP"
	DefaultPaymentMethod = "Unknown"
	DefaultStatus        = "pending"

	DateLayout = "2006-01-02"
)

// ErrMalformed 识别服务返回的内容无法解析成收据
var ErrMalformed = errors.New("malformed extraction response")

// Prompt 发给视觉模型的固定提示词
const Prompt = `You are reading a photo or screenshot of a payment receipt (GCash, Maya, bank transfer or similar).
Return ONLY a JSON object with exactly these keys:
{
  "amount": number, the total amount paid, no currency symbol,
  "currency": string, ISO currency code such as "PHP",
  "reference_no": string, the transaction or reference number,
  "payment_method": string, for example "GCash", "Maya" or "Bank Transfer",
  "date": string, the payment date as YYYY-MM-DD,
  "sender_name": string or null, the payer name if visible,
  "status": string, one of "completed", "pending" or "failed"
}
Use null for any value you cannot read. Do not add any other text.`

var validStatuses = map[string]bool{
	"completed": true,
	"pending":   true,
	"failed":    true,
}

var paymentMethods = map[string]string{
	"gcash":         "GCash",
	"g-cash":        "GCash",
	"maya":          "Maya",
	"paymaya":       "Maya",
	"bank":          "Bank Transfer",
	"bank transfer": "Bank Transfer",
	"instapay":      "Bank Transfer",
	"pesonet":       "Bank Transfer",
}

var currencySymbols = map[string]string{
	"₱":   "PHP",
	"PHP": "PHP",
	"PH₱": "PHP",
	"$":   "USD",
}

var dateLayouts = []string{
	DateLayout,
	"2006/01/02",
	"01/02/2006",
	"1/2/2006",
	"01-02-2006",
	"Jan 2, 2006",
	"January 2, 2006",
	"Jan 02, 2006",
	"2 Jan 2006",
	"02 Jan 2006",
	"2 January 2006",
	"Jan 2, 2006 3:04 PM",
	"January 2, 2006 3:04 PM",
	"Jan 02, 2006 03:04 PM",
	"01/02/2006 3:04 PM",
	time.RFC3339,
}

// Parse 解析视觉模型的原始输出，today 用作缺省日期
func Parse(raw, today string) (*dto.ExtractionResult, error) {
	body := StripCodeFence(raw)
	if body == "" {
		return nil, fmt.Errorf("%w: empty response", ErrMalformed)
	}

	dec := json.NewDecoder(bytes.NewReader([]byte(body)))
	dec.UseNumber()

	var fields map[string]interface{}
	if err := dec.Decode(&fields); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if fields == nil {
		return nil, fmt.Errorf("%w: not a JSON object", ErrMalformed)
	}

	amount, err := decodeAmount(fields["amount"])
	if err != nil {
		return nil, err
	}

	currency, err := decodeString(fields, "currency")
	if err != nil {
		return nil, err
	}
	reference, err := decodeReference(fields)
	if err != nil {
		return nil, err
	}
	method, err := decodeString(fields, "payment_method")
	if err != nil {
		return nil, err
	}
	date, err := decodeString(fields, "date")
	if err != nil {
		return nil, err
	}
	sender, err := decodeString(fields, "sender_name")
	if err != nil {
		return nil, err
	}
	status, err := decodeString(fields, "status")
	if err != nil {
		return nil, err
	}

	result := &dto.ExtractionResult{
		Amount:        amount,
		Currency:      NormalizeCurrency(currency),
		ReferenceNo:   reference,
		PaymentMethod: NormalizePaymentMethod(method),
		Date:          NormalizeDate(date, today),
		Status:        normalizeStatus(status),
	}
	if sender != "" {
		result.SenderName = &sender
	}
	return result, nil
}

// StripCodeFence 去掉 markdown 代码块和前后的说明文字，只保留最外层的 JSON 对象
func StripCodeFence(raw string) string {
	s := strings.TrimSpace(raw)
	s = strings.ReplaceAll(s, "```json", "")
	s = strings.ReplaceAll(s, "```JSON", "")
	s = strings.ReplaceAll(s, "```", "")
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "[") {
		return s
	}

	start := strings.Index(s, "{")
	if start == -1 {
		return s
	}
	if end := matchingBrace(s, start); end != -1 {
		return s[start : end+1]
	}
	return s[start:]
}

func matchingBrace(s string, start int) int {
	depth := 0
	inString := false
	escaped := false

	for i := start; i < len(s); i++ {
		c := s[i]
		if escaped {
			escaped = false
			continue
		}
		switch {
		case c == '\\' && inString:
			escaped = true
		case c == '"':
			inString = !inString
		case c == '{' && !inString:
			depth++
		case c == '}' && !inString:
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

func decodeAmount(v interface{}) (float64, error) {
	var amount float64
	switch val := v.(type) {
	case nil:
		return 0, nil
	case json.Number:
		f, err := val.Float64()
		if err != nil {
			return 0, fmt.Errorf("%w: amount %q is not a number", ErrMalformed, val.String())
		}
		amount = f
	case string:
		cleaned := cleanNumeric(val)
		if cleaned == "" {
			if strings.TrimSpace(val) == "" {
				return 0, nil
			}
			return 0, fmt.Errorf("%w: amount %q is not a number", ErrMalformed, val)
		}
		f, err := strconv.ParseFloat(cleaned, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: amount %q is not a number", ErrMalformed, val)
		}
		amount = f
	default:
		return 0, fmt.Errorf("%w: amount has type %T", ErrMalformed, v)
	}

	if amount < 0 {
		return 0, fmt.Errorf("%w: negative amount", ErrMalformed)
	}
	return amount, nil
}

// cleanNumeric 去掉货币符号、千分位和空白，"₱1,500.00" -> "1500.00"
func cleanNumeric(s string) string {
	var b strings.Builder
	for _, r := range s {
		if (r >= '0' && r <= '9') || r == '.' || r == '-' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func decodeString(fields map[string]interface{}, key string) (string, error) {
	switch val := fields[key].(type) {
	case nil:
		return "", nil
	case string:
		return strings.TrimSpace(val), nil
	default:
		return "", fmt.Errorf("%w: %s has type %T", ErrMalformed, key, fields[key])
	}
}

// decodeReference 长参考号常被模型输出成数字，按原始数字文本保留
func decodeReference(fields map[string]interface{}) (string, error) {
	if num, ok := fields["reference_no"].(json.Number); ok {
		return num.String(), nil
	}
	return decodeString(fields, "reference_no")
}

// NormalizeCurrency 空值回落到 PHP
func NormalizeCurrency(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return DefaultCurrency
	}
	if code, ok := currencySymbols[strings.ToUpper(s)]; ok {
		return code
	}
	return strings.ToUpper(s)
}

// NormalizePaymentMethod 常见支付方式统一写法
func NormalizePaymentMethod(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return DefaultPaymentMethod
	}
	if canonical, ok := paymentMethods[strings.ToLower(s)]; ok {
		return canonical
	}
	return s
}

// NormalizeDate 能识别的日期格式统一输出为 YYYY-MM-DD，无法识别的原样保留
func NormalizeDate(s, today string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return today
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Format(DateLayout)
		}
	}
	return s
}

func normalizeStatus(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if validStatuses[s] {
		return s
	}
	return DefaultStatus
}
