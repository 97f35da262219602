package identity

import (
	"strings"

	"github.com/safar/checkout-core/internal/apperr"
)

// Country describes a supported dialling code and its minimum national
// number length.
type Country struct {
	Code      string
	Name      string
	MinDigits int
}

var supportedCountries = []Country{
	{Code: "+86", Name: "China", MinDigits: 11},
	{Code: "+60", Name: "Malaysia", MinDigits: 9},
	{Code: "+66", Name: "Thailand", MinDigits: 9},
}

func LookupCountry(code string) (Country, bool) {
	code = strings.TrimSpace(code)
	if code != "" && !strings.HasPrefix(code, "+") {
		code = "+" + code
	}
	for _, c := range supportedCountries {
		if c.Code == code {
			return c, true
		}
	}
	return Country{}, false
}

// Phone is a validated national number under a supported country code.
type Phone struct {
	CountryCode string
	Number      string
}

func (p Phone) String() string {
	return p.CountryCode + p.Number
}

// NormalizePhone validates raw against the rules of its country. A leading
// "+<code>" in raw takes precedence over countryCode. Separators are dropped
// and a single national trunk "0" is removed before validation, so
// "081-234-5678" under +66 becomes 812345678.
func NormalizePhone(raw, countryCode string) (Phone, error) {
	number := strings.Map(func(r rune) rune {
		switch r {
		case ' ', '-', '(', ')', '.':
			return -1
		}
		return r
	}, strings.TrimSpace(raw))

	if number == "" {
		return Phone{}, apperr.Validation("phone number is required")
	}

	var country Country
	if strings.HasPrefix(number, "+") {
		matched := false
		for _, c := range supportedCountries {
			if strings.HasPrefix(number, c.Code) {
				country = c
				number = strings.TrimPrefix(number, c.Code)
				matched = true
				break
			}
		}
		if !matched {
			return Phone{}, apperr.Validation("unsupported country code in %q", raw)
		}
	} else {
		c, ok := LookupCountry(countryCode)
		if !ok {
			return Phone{}, apperr.Validation("unsupported country code %q", countryCode)
		}
		country = c
	}

	number = strings.TrimPrefix(number, "0")

	if number == "" || !isDigits(number) {
		return Phone{}, apperr.Validation("phone number must contain digits only")
	}
	if number[0] == '0' {
		return Phone{}, apperr.Validation("phone number must not start with 0")
	}
	if len(number) < country.MinDigits {
		return Phone{}, apperr.Validation("%s phone numbers need at least %d digits", country.Name, country.MinDigits)
	}

	return Phone{CountryCode: country.Code, Number: number}, nil
}

func isDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
