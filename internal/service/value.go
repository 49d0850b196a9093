package service

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"saaskit/internal/model"
	"saaskit/pkg/apperror"

	"github.com/go-playground/validator/v10"
	"gorm.io/datatypes"
)

var fieldValidator = validator.New()

const dateLayout = "2006-01-02"

func invalidValue(p *model.Property, format string, args ...any) *apperror.Error {
	msg := fmt.Sprintf(format, args...)
	return apperror.Newf(apperror.CodeInvalidInput, "%s: %s", p.Name, msg).WithField(p.Name, msg)
}

// isEmptyValue reports whether raw carries no value for a property
func isEmptyValue(raw any) bool {
	switch v := raw.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(v) == ""
	case []any:
		return len(v) == 0
	case []string:
		return len(v) == 0
	}
	return false
}

// coerceValue converts raw into the storage columns of p. The returned value
// has no ID, RowID or PropertyID set.
func coerceValue(p *model.Property, raw any) (model.RowValue, error) {
	var rv model.RowValue

	switch p.Type {
	case model.PropertyText:
		s, err := asString(p, raw)
		if err != nil {
			return rv, err
		}
		rv.TextValue = &s

	case model.PropertyEmail, model.PropertyURL:
		s, err := asString(p, raw)
		if err != nil {
			return rv, err
		}
		s = strings.TrimSpace(s)
		tag := "email"
		if p.Type == model.PropertyURL {
			tag = "url"
		}
		if err := fieldValidator.Var(s, tag); err != nil {
			return rv, invalidValue(p, "must be a valid %s", tag)
		}
		if p.Type == model.PropertyEmail {
			s = strings.ToLower(s)
		}
		rv.TextValue = &s

	case model.PropertyNumber:
		n, err := asNumber(p, raw)
		if err != nil {
			return rv, err
		}
		rv.NumberValue = &n

	case model.PropertyBoolean:
		b, err := asBool(p, raw)
		if err != nil {
			return rv, err
		}
		rv.BooleanValue = &b

	case model.PropertyDate:
		t, err := asDate(p, raw)
		if err != nil {
			return rv, err
		}
		rv.DateValue = &t

	case model.PropertySelect:
		s, err := asString(p, raw)
		if err != nil {
			return rv, err
		}
		if !p.HasOption(s) {
			return rv, invalidValue(p, "%q is not an option", s)
		}
		rv.TextValue = &s

	case model.PropertyMultiSelect:
		values, err := asStrings(p, raw)
		if err != nil {
			return rv, err
		}
		unique := make([]string, 0, len(values))
		seen := make(map[string]bool, len(values))
		for _, v := range values {
			if !p.HasOption(v) {
				return rv, invalidValue(p, "%q is not an option", v)
			}
			if !seen[v] {
				seen[v] = true
				unique = append(unique, v)
			}
		}
		data, err := json.Marshal(unique)
		if err != nil {
			return rv, apperror.Wrap(err, apperror.CodeInternal, "encoding values")
		}
		rv.MultipleValues = datatypes.JSON(data)

	default:
		return rv, invalidValue(p, "unsupported property type %q", p.Type)
	}
	return rv, nil
}

func asString(p *model.Property, raw any) (string, error) {
	switch v := raw.(type) {
	case string:
		return v, nil
	case float64, float32, int, int64, int32, uint, json.Number, bool:
		return formatScalar(v), nil
	}
	return "", invalidValue(p, "must be a string")
}

func asNumber(p *model.Property, raw any) (float64, error) {
	n, err := toFloat(p, raw)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(n) || math.IsInf(n, 0) {
		return 0, invalidValue(p, "must be a finite number")
	}
	return n, nil
}

func toFloat(p *model.Property, raw any) (float64, error) {
	switch v := raw.(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case int32:
		return float64(v), nil
	case uint:
		return float64(v), nil
	case json.Number:
		n, err := v.Float64()
		if err != nil {
			return 0, invalidValue(p, "must be a number")
		}
		return n, nil
	case string:
		n, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0, invalidValue(p, "must be a number")
		}
		return n, nil
	}
	return 0, invalidValue(p, "must be a number")
}

func asBool(p *model.Property, raw any) (bool, error) {
	switch v := raw.(type) {
	case bool:
		return v, nil
	case string:
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "true":
			return true, nil
		case "false":
			return false, nil
		}
	}
	return false, invalidValue(p, "must be true or false")
}

func asDate(p *model.Property, raw any) (time.Time, error) {
	switch v := raw.(type) {
	case time.Time:
		return v.UTC(), nil
	case string:
		s := strings.TrimSpace(v)
		if t, err := time.Parse(time.RFC3339, s); err == nil {
			return t.UTC(), nil
		}
		if t, err := time.Parse(dateLayout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, invalidValue(p, "must be a date (YYYY-MM-DD or RFC3339)")
}

func asStrings(p *model.Property, raw any) ([]string, error) {
	switch v := raw.(type) {
	case []string:
		return v, nil
	case string:
		return []string{v}, nil
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, invalidValue(p, "must be a list of strings")
			}
			out = append(out, s)
		}
		return out, nil
	}
	return nil, invalidValue(p, "must be a list of strings")
}

func formatScalar(v any) string {
	switch n := v.(type) {
	case float64:
		return strconv.FormatFloat(n, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(n), 'f', -1, 32)
	case json.Number:
		return n.String()
	}
	return fmt.Sprint(v)
}

// valueOf reads the typed value of rv for p, nil when unset
func valueOf(p *model.Property, rv *model.RowValue) any {
	if rv == nil {
		return nil
	}
	switch p.Type {
	case model.PropertyNumber:
		if rv.NumberValue != nil {
			return *rv.NumberValue
		}
	case model.PropertyBoolean:
		if rv.BooleanValue != nil {
			return *rv.BooleanValue
		}
	case model.PropertyDate:
		if rv.DateValue != nil {
			return rv.DateValue.UTC()
		}
	case model.PropertyMultiSelect:
		var values []string
		if len(rv.MultipleValues) > 0 && json.Unmarshal(rv.MultipleValues, &values) == nil {
			return values
		}
		return []string{}
	default:
		if rv.TextValue != nil {
			return *rv.TextValue
		}
	}
	return nil
}

// textLike reports whether values of the type are searchable as text
func textLike(propertyType string) bool {
	switch propertyType {
	case model.PropertyText, model.PropertyEmail, model.PropertyURL, model.PropertySelect:
		return true
	}
	return false
}
