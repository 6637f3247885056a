// Package validation checks participant submissions before any state is created.
package validation

import (
	"encoding/json"
	"errors"
	"math"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/okian/roastboard/internal/domain/model"
)

// Violation messages returned to clients.
const (
	MsgNameRequired    = "Name is required and must be a string"
	MsgNameTooShort    = "Name must be at least 1 character"
	MsgNameTooLong     = "Name must not exceed 50 characters"
	MsgFormatRequired  = "Audio format is required"
	MsgFormatInvalid   = "Audio format must be one of: mp4, webm, wav, m4a, aac"
	MsgSizeRequired    = "Audio size is required and must be a number"
	MsgSizeNotPositive = "Audio size must be greater than 0"
	MsgSizeTooLarge    = "Audio size must not exceed 5MB"
)

// Input is the raw, untyped submission as decoded from a request body.
type Input struct {
	Name        any
	AudioFormat any
	AudioSize   any
}

// Accepted is a normalized submission.
type Accepted struct {
	Name      string
	Format    model.AudioFormat
	SizeBytes int64
}

// rules declares the range checks applied once the raw values have the right type.
type rules struct {
	Name        string  `validate:"min=1,max=50"`
	AudioFormat string  `validate:"oneof=mp4 webm wav m4a aac"`
	AudioSize   float64 `validate:"gt=0,lte=5242880"`
}

var messages = map[string]string{
	"Name.min":          MsgNameTooShort,
	"Name.max":          MsgNameTooLong,
	"AudioFormat.oneof": MsgFormatInvalid,
	"AudioSize.gt":      MsgSizeNotPositive,
	"AudioSize.lte":     MsgSizeTooLarge,
}

var fieldOrder = []string{"Name", "AudioFormat", "AudioSize"}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate returns either the accepted submission or the list of violations, never both.
// Every field is checked independently and contributes at most one message.
func Validate(in Input) (Accepted, []string) {
	var r rules
	violations := make(map[string]string, len(fieldOrder))
	var skip []string

	if s, ok := in.Name.(string); ok && s != "" {
		r.Name = strings.TrimSpace(s)
	} else {
		violations["Name"] = MsgNameRequired
		skip = append(skip, "Name")
	}

	if s, ok := in.AudioFormat.(string); ok && s != "" {
		r.AudioFormat = strings.ToLower(s)
	} else {
		violations["AudioFormat"] = MsgFormatRequired
		skip = append(skip, "AudioFormat")
	}

	if n, ok := number(in.AudioSize); ok && n != 0 {
		r.AudioSize = n
	} else {
		violations["AudioSize"] = MsgSizeRequired
		skip = append(skip, "AudioSize")
	}

	if err := validate.StructExcept(r, skip...); err != nil {
		var fieldErrs validator.ValidationErrors
		if !errors.As(err, &fieldErrs) {
			return Accepted{}, []string{err.Error()}
		}
		for _, fe := range fieldErrs {
			if _, seen := violations[fe.Field()]; seen {
				continue
			}
			violations[fe.Field()] = message(fe)
		}
	}

	if len(violations) > 0 {
		out := make([]string, 0, len(violations))
		for _, f := range fieldOrder {
			if msg, ok := violations[f]; ok {
				out = append(out, msg)
			}
		}
		return Accepted{}, out
	}

	format, _ := model.ParseAudioFormat(r.AudioFormat)
	return Accepted{
		Name:      r.Name,
		Format:    format,
		SizeBytes: int64(math.Ceil(r.AudioSize)),
	}, nil
}

func message(fe validator.FieldError) string {
	if msg, ok := messages[fe.Field()+"."+fe.Tag()]; ok {
		return msg
	}
	return fe.Error()
}

// number accepts the numeric shapes a JSON decoder can produce.
func number(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		if math.IsNaN(n) || math.IsInf(n, 0) {
			return 0, false
		}
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}
