package models

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/go-playground/validator/v10/non-standard/validators"
)

var validate *validator.Validate

func init() {
	validate = validator.New()
	_ = validate.RegisterValidation("notblank", validators.NotBlank)
	validate.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return f.Name
		}
		return name
	})
}

// Validate checks the required fields and the confidence range.
func (c InsightCandidate) Validate() error {
	return translate(validate.Struct(c))
}

// Validate checks the natural key and title.
func (s Source) Validate() error {
	return translate(validate.Struct(s))
}

// ValidateRelationship checks an edge before it is written.
func ValidateRelationship(sourceID, targetID string, relType RelationshipType, strength float64) error {
	switch {
	case strings.TrimSpace(sourceID) == "":
		return &ValidationError{Field: "source_id", Reason: "is required"}
	case strings.TrimSpace(targetID) == "":
		return &ValidationError{Field: "target_id", Reason: "is required"}
	case sourceID == targetID:
		return &ValidationError{Field: "target_id", Reason: "must differ from source_id"}
	case !relType.Valid():
		return &ValidationError{Field: "relationship_type", Reason: fmt.Sprintf("unknown type %q", relType)}
	case strength < 0 || strength > 1:
		return &ValidationError{Field: "strength", Reason: "must be within [0, 1]"}
	}
	return nil
}

func translate(err error) error {
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return &ValidationError{Reason: err.Error()}
	}
	fe := verrs[0]
	switch fe.Tag() {
	case "notblank", "required":
		return &ValidationError{Field: fe.Field(), Reason: "is required"}
	case "gte", "lte":
		return &ValidationError{Field: fe.Field(), Reason: fmt.Sprintf("out of range (%s %s)", fe.Tag(), fe.Param())}
	default:
		return &ValidationError{Field: fe.Field(), Reason: "failed " + fe.Tag()}
	}
}
