package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/goodtune/screentime/internal/usage"
)

// HeartbeatRequest is the body of a playback heartbeat
type HeartbeatRequest struct {
	SessionID  string `json:"session_id" validate:"omitempty,max=64"`
	TitleID    string `json:"title_id" validate:"required,max=128"`
	DeviceID   string `json:"device_id" validate:"required,max=128"`
	DeviceType string `json:"device_type" validate:"omitempty,max=32"`
	Paused     bool   `json:"paused"`
}

// GrantRequest is the body of a time grant. Omitted or null minutes grant
// unlimited viewing for the rest of the day.
type GrantRequest struct {
	Minutes  *int `json:"minutes" validate:"omitempty,min=1,max=480"`
	IsRemote bool `json:"is_remote"`
}

// newValidator reports json field names in validation errors
func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// validationFailure converts the first validator error into a field error
func validationFailure(err error) *usage.ValidationError {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		msg := fmt.Sprintf("failed %s validation", fe.Tag())
		if fe.Param() != "" {
			msg = fmt.Sprintf("failed %s=%s validation", fe.Tag(), fe.Param())
		}
		return &usage.ValidationError{Field: fe.Field(), Message: msg}
	}
	return &usage.ValidationError{Field: "body", Message: err.Error()}
}

// parseConfigPatch decodes a PATCH body, keeping explicit nulls for limits
// apart from absent fields
func parseConfigPatch(body map[string]json.RawMessage) (usage.ConfigPatch, error) {
	var patch usage.ConfigPatch

	keys := make([]string, 0, len(body))
	for k := range body {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		raw := body[key]
		switch key {
		case "weekday_limit_minutes":
			limit, err := decodeLimit(key, raw)
			if err != nil {
				return patch, err
			}
			patch.WeekdayLimitMinutes = limit
		case "weekend_limit_minutes":
			limit, err := decodeLimit(key, raw)
			if err != nil {
				return patch, err
			}
			patch.WeekendLimitMinutes = limit
		case "reset_hour":
			var hour int
			if isNull(raw) || json.Unmarshal(raw, &hour) != nil {
				return patch, &usage.ValidationError{Field: key, Message: "must be an integer"}
			}
			patch.ResetHour = &hour
		case "educational_exempt":
			var exempt bool
			if isNull(raw) || json.Unmarshal(raw, &exempt) != nil {
				return patch, &usage.ValidationError{Field: key, Message: "must be a boolean"}
			}
			patch.EducationalExempt = &exempt
		case "time_zone":
			var zone string
			if isNull(raw) || json.Unmarshal(raw, &zone) != nil {
				return patch, &usage.ValidationError{Field: key, Message: "must be a string"}
			}
			patch.TimeZone = &zone
		default:
			return patch, &usage.ValidationError{Field: key, Message: "unknown field"}
		}
	}

	return patch, nil
}

func decodeLimit(field string, raw json.RawMessage) (usage.LimitPatch, error) {
	if isNull(raw) {
		return usage.LimitPatch{Set: true}, nil
	}
	var minutes int
	if err := json.Unmarshal(raw, &minutes); err != nil {
		return usage.LimitPatch{}, &usage.ValidationError{Field: field, Message: "must be an integer or null"}
	}
	return usage.LimitPatch{Set: true, Value: &minutes}, nil
}

func isNull(raw json.RawMessage) bool {
	return strings.TrimSpace(string(raw)) == "null"
}
